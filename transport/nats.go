package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const attachTimeout = 5 * time.Second

// NATS carries room channels over core NATS subjects. Channel names map to subjects by
// replacing ':' with '.'.
type NATS struct {
	nc *nats.Conn
}

func NewNATS(url string) (*NATS, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{nc: nc}, nil
}

func Subject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// Attach succeeds once the server has acknowledged everything sent so far.
func (n *NATS) Attach(ctx context.Context, channel string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, attachTimeout)
		defer cancel()
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("error attaching to %s: %w", channel, err)
	}
	return nil
}

func (n *NATS) Publish(_ context.Context, channel string, data []byte) error {
	if err := n.nc.Publish(Subject(channel), data); err != nil {
		return fmt.Errorf("error publishing to %s: %w", channel, err)
	}
	return nil
}

func (n *NATS) Subscribe(_ context.Context, channel string, h Handler) (*Subscription, error) {
	sub, err := n.nc.Subscribe(Subject(channel), func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("error subscribing to %s: %w", channel, err)
	}
	return newSubscription(channel, sub.Unsubscribe), nil
}

func (n *NATS) Unsubscribe(sub *Subscription) error {
	return sub.close()
}

func (n *NATS) Close() {
	n.nc.Close()
}
