// Package transport adapts publish/subscribe services into the four operations a room needs:
// attach to a channel, publish, subscribe and unsubscribe.
package transport

import (
	"context"
	"sync"
)

// Handler receives the raw bytes of one message published on a channel.
type Handler func(data []byte)

// Transport is the pub/sub capability every role is built on. Implementations must deliver
// messages for one channel to a handler in arrival order.
type Transport interface {
	Attach(ctx context.Context, channel string) error
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error)
	Unsubscribe(sub *Subscription) error
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	channel string

	once   sync.Once
	cancel func() error
}

func newSubscription(channel string, cancel func() error) *Subscription {
	return &Subscription{channel: channel, cancel: cancel}
}

func (s *Subscription) Channel() string {
	return s.channel
}

// close runs the cancel function at most once.
func (s *Subscription) close() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			err = s.cancel()
		}
	})
	return err
}
