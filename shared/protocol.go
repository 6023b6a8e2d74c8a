package shared

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrMalformed    = errors.New("malformed message")
	ErrInvalidRound = errors.New("invalid round")
)

type Round int

const (
	ManualRound Round = 1
	AutoRound   Round = 2
)

func (r Round) Valid() bool {
	return r == ManualRound || r == AutoRound
}

func (r Round) String() string {
	switch r {
	case ManualRound:
		return "manual"
	case AutoRound:
		return "auto"
	}
	return fmt.Sprintf("round(%d)", int(r))
}

type MsgType int

const (
	MsgJoin MsgType = iota
	MsgState
	MsgPlayerSnapshot
	MsgRefreshUsed
	MsgSetRound
)

var msgTypeNames = [...]string{"JOIN", "STATE", "PLAYER_SNAPSHOT", "REFRESH_USED", "SET_ROUND"}

func (t MsgType) String() string {
	if t < 0 || int(t) >= len(msgTypeNames) {
		return fmt.Sprintf("MsgType(%d)", int(t))
	}
	return msgTypeNames[t]
}

// ParseMsgType maps a wire tag back to its MsgType.
func ParseMsgType(tag string) (MsgType, error) {
	for i, name := range msgTypeNames {
		if name == tag {
			return MsgType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, tag)
}

// RoomState is the authoritative state of one room. Only the room's authority produces it.
type RoomState struct {
	RoomCode      string `json:"roomCode"`
	Round         Round  `json:"round"`
	ServerEpochMs int64  `json:"serverEpochMs"`
	PlayerCount   int    `json:"playerCount"`
	Version       int64  `json:"version"`
}

// PlayerSnapshot is what one player currently has on screen.
type PlayerSnapshot struct {
	PlayerID       string `json:"playerId"`
	DisplayEpochMs int64  `json:"displayEpochMs"`
	SyncedVersion  int64  `json:"syncedVersion"`
	Round          Round  `json:"round"`
	SentAtMs       int64  `json:"sentAtMs"`
}

type JoinPayload struct {
	PlayerID string `json:"playerId"`
}

type RefreshUsedPayload struct {
	PlayerID string `json:"playerId"`
}

type SetRoundPayload struct {
	Round Round `json:"round"`
}

// Payload is implemented by every message body. Each body reports the tag it travels under.
type Payload interface {
	MsgType() MsgType
	validate() error
}

func (JoinPayload) MsgType() MsgType        { return MsgJoin }
func (RoomState) MsgType() MsgType          { return MsgState }
func (PlayerSnapshot) MsgType() MsgType     { return MsgPlayerSnapshot }
func (RefreshUsedPayload) MsgType() MsgType { return MsgRefreshUsed }
func (SetRoundPayload) MsgType() MsgType    { return MsgSetRound }

func (p JoinPayload) validate() error {
	if p.PlayerID == "" {
		return fmt.Errorf("%w: JOIN without playerId", ErrMalformed)
	}
	return nil
}

func (s RoomState) validate() error {
	if s.RoomCode == "" {
		return fmt.Errorf("%w: STATE without roomCode", ErrMalformed)
	}
	if !s.Round.Valid() {
		return fmt.Errorf("%w: STATE %w %d", ErrMalformed, ErrInvalidRound, s.Round)
	}
	if s.Version < 1 || s.PlayerCount < 0 {
		return fmt.Errorf("%w: STATE version %d playerCount %d", ErrMalformed, s.Version, s.PlayerCount)
	}
	return nil
}

func (s PlayerSnapshot) validate() error {
	if s.PlayerID == "" {
		return fmt.Errorf("%w: PLAYER_SNAPSHOT without playerId", ErrMalformed)
	}
	if !s.Round.Valid() {
		return fmt.Errorf("%w: PLAYER_SNAPSHOT %w %d", ErrMalformed, ErrInvalidRound, s.Round)
	}
	return nil
}

func (p RefreshUsedPayload) validate() error {
	if p.PlayerID == "" {
		return fmt.Errorf("%w: REFRESH_USED without playerId", ErrMalformed)
	}
	return nil
}

func (p SetRoundPayload) validate() error {
	if !p.Round.Valid() {
		return fmt.Errorf("%w: SET_ROUND %w %d", ErrMalformed, ErrInvalidRound, p.Round)
	}
	return nil
}

// Message is the envelope exchanged on a room channel.
type Message struct {
	Payload Payload
}

func (m Message) Type() MsgType {
	return m.Payload.MsgType()
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode renders a message as {"type": TAG, "payload": {...}}.
func Encode(m Message) ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := m.Payload.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("error marshalling %s payload: %w", m.Type(), err)
	}
	return json.Marshal(wireMessage{Type: m.Type().String(), Payload: payload})
}

// Decode parses an envelope. Unrecognized tags return ErrUnknownType so callers can drop
// them without halting; payloads that do not match their tag return ErrMalformed.
func Decode(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t, err := ParseMsgType(wire.Type)
	if err != nil {
		return Message{}, err
	}
	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		return Message{}, fmt.Errorf("%w: %s without payload", ErrMalformed, t)
	}

	var p Payload
	switch t {
	case MsgJoin:
		var v JoinPayload
		err = json.Unmarshal(wire.Payload, &v)
		p = v
	case MsgState:
		var v RoomState
		err = json.Unmarshal(wire.Payload, &v)
		p = v
	case MsgPlayerSnapshot:
		var v PlayerSnapshot
		err = json.Unmarshal(wire.Payload, &v)
		p = v
	case MsgRefreshUsed:
		var v RefreshUsedPayload
		err = json.Unmarshal(wire.Payload, &v)
		p = v
	case MsgSetRound:
		var v SetRoundPayload
		err = json.Unmarshal(wire.Payload, &v)
		p = v
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, t, err)
	}
	if err := p.validate(); err != nil {
		return Message{}, err
	}
	return Message{Payload: p}, nil
}

func NewJoin(playerID string) Message {
	return Message{Payload: JoinPayload{PlayerID: playerID}}
}

func NewState(s RoomState) Message {
	return Message{Payload: s}
}

func NewPlayerSnapshot(s PlayerSnapshot) Message {
	return Message{Payload: s}
}

func NewRefreshUsed(playerID string) Message {
	return Message{Payload: RefreshUsedPayload{PlayerID: playerID}}
}

func NewSetRound(r Round) Message {
	return Message{Payload: SetRoundPayload{Round: r}}
}
