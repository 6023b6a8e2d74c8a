package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ably/ably-go/ably"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MessageName is the Ably message name every envelope is published under.
const MessageName = "msg"

type Ably struct {
	client *ably.Realtime
	log    zerolog.Logger
}

func NewAbly(apiKey, clientID string) (*Ably, error) {
	opts := []ably.ClientOption{ably.WithKey(apiKey)}
	if clientID != "" {
		opts = append(opts, ably.WithClientID(clientID))
	}
	client, err := ably.NewRealtime(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating ably client: %w", err)
	}
	return &Ably{client: client, log: log.Logger}, nil
}

func (a *Ably) Attach(ctx context.Context, channel string) error {
	if err := a.client.Channels.Get(channel).Attach(ctx); err != nil {
		return fmt.Errorf("error attaching to %s: %w", channel, err)
	}
	return nil
}

func (a *Ably) Publish(ctx context.Context, channel string, data []byte) error {
	if err := a.client.Channels.Get(channel).Publish(ctx, MessageName, string(data)); err != nil {
		return fmt.Errorf("error publishing to %s: %w", channel, err)
	}
	return nil
}

func (a *Ably) Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	unsubscribe, err := a.client.Channels.Get(channel).Subscribe(ctx, MessageName, a.deliver(channel, h))
	if err != nil {
		return nil, fmt.Errorf("error subscribing to %s: %w", channel, err)
	}
	return newSubscription(channel, func() error {
		unsubscribe()
		return nil
	}), nil
}

func (a *Ably) deliver(channel string, h Handler) func(*ably.Message) {
	return func(m *ably.Message) {
		data, err := MessageData(m.Data)
		if err != nil {
			a.log.Warn().Err(err).Str("channel", channel).Str("id", m.ID).Msg("Dropping message with unreadable data")
			return
		}
		h(data)
	}
}

func (a *Ably) Unsubscribe(sub *Subscription) error {
	return sub.close()
}

func (a *Ably) Close() {
	a.client.Close()
}

// MessageData normalizes an Ably message body to bytes. Go publishers send strings; browser
// publishers send objects, which arrive already decoded from their json encoding.
func MessageData(data interface{}) ([]byte, error) {
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, fmt.Errorf("empty message data")
	default:
		return json.Marshal(v)
	}
}
