package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"hxann.com/shared-clock/shared"
)

// MaxPending bounds the number of messages a RoomChannel holds while it cannot publish.
const MaxPending = 256

// RoomChannel is a Transport bound to one room. Messages are queued and published in the
// order they were enqueued; a message that could not be sent stays at the head of the queue
// and is retried, after re-attaching, on the next Publish or Flush.
type RoomChannel struct {
	t    Transport
	code string
	name string
	log  zerolog.Logger

	mu       sync.Mutex
	attached bool
	flushing bool
	pending  [][]byte
}

func NewRoomChannel(t Transport, roomCode string, logger zerolog.Logger) *RoomChannel {
	name := shared.RoomChannelName(roomCode)
	return &RoomChannel{
		t:    t,
		code: roomCode,
		name: name,
		log:  logger.With().Str("channel", name).Logger(),
	}
}

func (c *RoomChannel) RoomCode() string {
	return c.code
}

func (c *RoomChannel) Name() string {
	return c.name
}

func (c *RoomChannel) Attach(ctx context.Context) error {
	if err := c.t.Attach(ctx, c.name); err != nil {
		return err
	}
	c.mu.Lock()
	c.attached = true
	c.mu.Unlock()
	return nil
}

// Enqueue adds a message to the outgoing queue without touching the transport. Callers
// holding their own locks enqueue under them and Flush after releasing.
func (c *RoomChannel) Enqueue(msg shared.Message) {
	data, err := shared.Encode(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("Error encoding message, dropping it")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= MaxPending {
		c.log.Warn().Int("pending", len(c.pending)).Msg("Outgoing queue full, dropping oldest message")
		// the head may be in flight
		drop := 0
		if c.flushing {
			drop = 1
		}
		c.pending = append(c.pending[:drop], c.pending[drop+1:]...)
	}
	c.pending = append(c.pending, data)
}

// Publish enqueues msg and flushes. Failures are logged, never returned: the message stays
// queued until a later flush succeeds.
func (c *RoomChannel) Publish(ctx context.Context, msg shared.Message) {
	c.Enqueue(msg)
	c.Flush(ctx)
}

// Flush drains the queue. Only one caller drains at a time; a concurrent or re-entrant call
// returns immediately and its messages are picked up by the active drain.
func (c *RoomChannel) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	defer func() {
		c.flushing = false
		c.mu.Unlock()
	}()

	for len(c.pending) > 0 {
		if !c.attached {
			c.mu.Unlock()
			err := c.t.Attach(ctx, c.name)
			c.mu.Lock()
			if err != nil {
				c.log.Error().Err(err).Int("pending", len(c.pending)).Msg("Attach failed, keeping messages queued")
				return
			}
			c.attached = true
		}

		next := c.pending[0]
		c.mu.Unlock()
		err := c.t.Publish(ctx, c.name, next)
		c.mu.Lock()
		if err != nil {
			c.attached = false
			c.log.Error().Err(err).Int("pending", len(c.pending)).Msg("Publish failed, will re-attach and retry")
			return
		}
		c.pending = c.pending[1:]
	}
}

func (c *RoomChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Subscribe attaches and delivers every decodable message to h. Malformed messages and
// unknown tags are logged and dropped.
func (c *RoomChannel) Subscribe(ctx context.Context, h func(shared.Message)) (*Subscription, error) {
	if err := c.Attach(ctx); err != nil {
		return nil, err
	}
	return c.t.Subscribe(ctx, c.name, func(data []byte) {
		msg, err := shared.Decode(data)
		if err != nil {
			if errors.Is(err, shared.ErrUnknownType) {
				c.log.Warn().Err(err).Msg("Ignoring message with unknown type")
			} else {
				c.log.Warn().Err(err).Str("raw", string(data)).Msg("Dropping malformed message")
			}
			return
		}
		h(msg)
	})
}

func (c *RoomChannel) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if err := c.t.Unsubscribe(sub); err != nil {
		c.log.Error().Err(err).Msg("Error unsubscribing")
	}
}
