package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrAttachFailed = errors.New("attach failed")

// Memory is an in-process Transport. Publish delivers synchronously to every current
// subscriber of the channel, in subscription order.
type Memory struct {
	mu          sync.Mutex
	subs        map[string][]*memorySub
	published   map[string][][]byte
	attached    map[string]bool
	attachFails int
	attaches    int
}

type memorySub struct {
	sub *Subscription
	h   Handler
}

func NewMemory() *Memory {
	return &Memory{
		subs:      make(map[string][]*memorySub),
		published: make(map[string][][]byte),
		attached:  make(map[string]bool),
	}
}

// FailAttach makes the next n Attach calls fail.
func (m *Memory) FailAttach(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachFails = n
}

func (m *Memory) Attach(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attaches++
	if m.attachFails > 0 {
		m.attachFails--
		return ErrAttachFailed
	}
	m.attached[channel] = true
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.published[channel] = append(m.published[channel], append([]byte(nil), data...))
	targets := append([]*memorySub(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, t := range targets {
		t.h(data)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string, h Handler) (*Subscription, error) {
	ms := &memorySub{h: h}
	ms.sub = newSubscription(channel, func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[channel]
		for i, s := range subs {
			if s == ms {
				m.subs[channel] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		return nil
	})

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ms)
	m.mu.Unlock()
	return ms.sub, nil
}

func (m *Memory) Unsubscribe(sub *Subscription) error {
	return sub.close()
}

// Published returns a copy of everything published on channel so far.
func (m *Memory) Published(channel string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.published[channel]...)
}

func (m *Memory) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

func (m *Memory) Attaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attaches
}
