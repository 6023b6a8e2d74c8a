package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ably/ably-go/ably"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hxann.com/shared-clock/shared"
)

func decodeAll(t *testing.T, raw [][]byte) []shared.Message {
	t.Helper()
	msgs := make([]shared.Message, 0, len(raw))
	for _, r := range raw {
		m, err := shared.Decode(r)
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return msgs
}

func TestRoomChannelPublishesInOrder(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	ch := NewRoomChannel(mem, "123456", zerolog.Nop())

	var got []shared.Message
	_, err := ch.Subscribe(ctx, func(m shared.Message) { got = append(got, m) })
	require.NoError(t, err)

	ch.Publish(ctx, shared.NewJoin("p1"))
	ch.Publish(ctx, shared.NewRefreshUsed("p1"))

	require.Len(t, got, 2)
	assert.Equal(t, shared.MsgJoin, got[0].Type())
	assert.Equal(t, shared.MsgRefreshUsed, got[1].Type())
	assert.Len(t, mem.Published("queryhoot:room:123456"), 2)
}

func TestRoomChannelQueuesUntilAttach(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.FailAttach(2)
	ch := NewRoomChannel(mem, "123456", zerolog.Nop())

	ch.Publish(ctx, shared.NewJoin("p1"))
	assert.Equal(t, 1, ch.Pending())
	assert.Empty(t, mem.Published(ch.Name()))

	ch.Publish(ctx, shared.NewJoin("p2"))
	assert.Equal(t, 2, ch.Pending())
	assert.Empty(t, mem.Published(ch.Name()))

	ch.Flush(ctx)
	assert.Equal(t, 0, ch.Pending())

	msgs := decodeAll(t, mem.Published(ch.Name()))
	require.Len(t, msgs, 2)
	assert.Equal(t, shared.JoinPayload{PlayerID: "p1"}, msgs[0].Payload)
	assert.Equal(t, shared.JoinPayload{PlayerID: "p2"}, msgs[1].Payload)

	// no duplicate once attached
	ch.Flush(ctx)
	assert.Len(t, mem.Published(ch.Name()), 2)
}

type flakyPublish struct {
	*Memory
	fails int
}

func (f *flakyPublish) Publish(ctx context.Context, channel string, data []byte) error {
	if f.fails > 0 {
		f.fails--
		return errors.New("connection reset")
	}
	return f.Memory.Publish(ctx, channel, data)
}

func TestRoomChannelReattachesAfterPublishError(t *testing.T) {
	ctx := context.Background()
	tr := &flakyPublish{Memory: NewMemory(), fails: 1}
	ch := NewRoomChannel(tr, "123456", zerolog.Nop())

	ch.Publish(ctx, shared.NewJoin("p1"))
	assert.Equal(t, 1, ch.Pending())
	assert.Equal(t, 1, tr.Attaches())

	ch.Flush(ctx)
	assert.Equal(t, 0, ch.Pending())
	assert.Equal(t, 2, tr.Attaches())
	assert.Len(t, tr.Published(ch.Name()), 1)
}

func TestRoomChannelDropsUnknownAndMalformed(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	ch := NewRoomChannel(mem, "123456", zerolog.Nop())

	var got []shared.Message
	_, err := ch.Subscribe(ctx, func(m shared.Message) { got = append(got, m) })
	require.NoError(t, err)

	require.NoError(t, mem.Publish(ctx, ch.Name(), []byte(`{"type":"CONFETTI","payload":{}}`)))
	require.NoError(t, mem.Publish(ctx, ch.Name(), []byte(`{"type":"JOIN","payload":{}}`)))
	require.NoError(t, mem.Publish(ctx, ch.Name(), []byte(`garbage`)))
	require.NoError(t, mem.Publish(ctx, ch.Name(), []byte(`{"type":"JOIN","payload":{"playerId":"p9"}}`)))

	require.Len(t, got, 1)
	assert.Equal(t, shared.JoinPayload{PlayerID: "p9"}, got[0].Payload)
}

func TestRoomChannelUnsubscribe(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	ch := NewRoomChannel(mem, "123456", zerolog.Nop())

	calls := 0
	sub, err := ch.Subscribe(ctx, func(shared.Message) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Subscribers(ch.Name()))

	ch.Unsubscribe(sub)
	ch.Unsubscribe(sub)
	assert.Equal(t, 0, mem.Subscribers(ch.Name()))

	ch.Publish(ctx, shared.NewJoin("p1"))
	assert.Equal(t, 0, calls)
}

func TestRoomChannelSubscribeFailsWhenAttachFails(t *testing.T) {
	mem := NewMemory()
	mem.FailAttach(1)
	ch := NewRoomChannel(mem, "123456", zerolog.Nop())

	_, err := ch.Subscribe(context.Background(), func(shared.Message) {})
	assert.ErrorIs(t, err, ErrAttachFailed)
}

func TestRoomChannelReentrantPublish(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	ch := NewRoomChannel(mem, "123456", zerolog.Nop())

	var order []string
	_, err := ch.Subscribe(ctx, func(m shared.Message) {
		order = append(order, m.Type().String())
		if m.Type() == shared.MsgJoin {
			ch.Publish(ctx, shared.NewRefreshUsed("p1"))
		}
	})
	require.NoError(t, err)

	ch.Publish(ctx, shared.NewJoin("p1"))
	assert.Equal(t, []string{"JOIN", "REFRESH_USED"}, order)
}

func TestMessageData(t *testing.T) {
	b, err := MessageData(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	b, err = MessageData(map[string]interface{}{"type": "JOIN"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"JOIN"}`, string(b))

	_, err = MessageData(nil)
	assert.Error(t, err)
}

func TestAblyDeliverLogsUnreadableData(t *testing.T) {
	var buf bytes.Buffer
	a := &Ably{log: zerolog.New(&buf)}
	var got [][]byte
	deliver := a.deliver("queryhoot:room:123456", func(data []byte) { got = append(got, data) })

	deliver(&ably.Message{ID: "m1", Data: nil})
	assert.Empty(t, got)
	assert.Contains(t, buf.String(), "Dropping message with unreadable data")
	assert.Contains(t, buf.String(), `"id":"m1"`)

	deliver(&ably.Message{ID: "m2", Data: `{"type":"JOIN"}`})
	require.Len(t, got, 1)
	assert.Equal(t, `{"type":"JOIN"}`, string(got[0]))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "queryhoot.room.123456", Subject(shared.RoomChannelName("123456")))
}
