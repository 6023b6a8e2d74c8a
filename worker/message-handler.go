package worker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ably/ably-go/ably"
	"hxann.com/shared-clock/shared"
)

// QueueMessage is the envelope Ably wraps around everything it forwards to a queue.
type QueueMessage struct {
	Source  string `json:"source"`
	AppId   string `json:"appId"`
	Channel string `json:"channel"`
	Site    string `json:"site"`
	RuleId  string `json:"ruleId"`
}

type PresenceMessage struct {
	*QueueMessage
	Presence []Presence `json:"presence"`
}

type MessageMessage struct {
	*QueueMessage
	Messages []Message `json:"messages"`
}

type Presence struct {
	Id           string `json:"id"`
	ClientId     string `json:"clientId"`
	ConnectionId string `json:"connectionId"`
	Timestamp    int    `json:"timestamp"`
	Action       int    `json:"action"`
	Data         string `json:"data"`
}

type Message struct {
	Id           string `json:"id"`
	ClientId     string `json:"clientId"`
	ConnectionId string `json:"connectionId"`
	Timestamp    int    `json:"timestamp"`
	Name         string `json:"name"`
	Encoding     string `json:"encoding"`
	Data         string `json:"data"`
}

const (
	sourceMessage  = "channel.message"
	sourcePresence = "channel.presence"
)

func (w *Worker) handle(payload []byte) {
	var envelope QueueMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		w.log.Warn().Err(err).Msg("Error unmarshalling queue message")
		return
	}

	switch envelope.Source {
	case sourceMessage:
		msg := &MessageMessage{}
		if err := json.Unmarshal(payload, msg); err != nil {
			w.log.Warn().Err(err).Msg("Error unmarshalling message")
			return
		}
		w.handleMessages(msg)
	case sourcePresence:
		msg := &PresenceMessage{}
		if err := json.Unmarshal(payload, msg); err != nil {
			w.log.Warn().Err(err).Msg("Error unmarshalling presence message")
			return
		}
		w.handlePresence(msg)
	default:
		w.log.Warn().Str("source", envelope.Source).Msg("Unknown queue message")
	}
}

func (w *Worker) handleMessages(messageMsg *MessageMessage) {
	roomCode, ok := shared.RoomCodeFromChannel(messageMsg.Channel)
	if !ok {
		w.log.Debug().Str("channel", messageMsg.Channel).Msg("Skipping non-room channel")
		return
	}
	for _, m := range messageMsg.Messages {
		data, err := messageData(m)
		if err != nil {
			w.log.Warn().Err(err).Str("id", m.Id).Msg("Error reading message data")
			continue
		}
		msg, err := shared.Decode(data)
		if err != nil {
			w.log.Warn().Err(err).Str("id", m.Id).Str("channel", messageMsg.Channel).Msg("Dropping message")
			continue
		}
		w.handler(roomCode, msg)
	}
}

func (w *Worker) handlePresence(presenceMsg *PresenceMessage) {
	for _, p := range presenceMsg.Presence {
		switch p.Action {
		case int(ably.PresenceActionEnter):
			w.log.Info().Str("client", p.ClientId).Str("channel", presenceMsg.Channel).Msg("Client entered channel")
		case int(ably.PresenceActionLeave):
			w.log.Info().Str("client", p.ClientId).Str("channel", presenceMsg.Channel).Msg("Client left channel")
		}
	}
}

// messageData undoes the encodings Ably may have applied to a string body.
func messageData(m Message) ([]byte, error) {
	data := []byte(m.Data)
	if strings.Contains(m.Encoding, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			return nil, fmt.Errorf("error decoding base64 data: %w", err)
		}
		data = decoded
	}
	return data, nil
}
