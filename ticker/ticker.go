// Package ticker drives a player's heartbeat: it re-publishes the snapshot so boards that
// subscribed late still see every player, and retries anything left queued. When nothing
// changes for a while it backs off to an idle interval.
package ticker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const TickTime = 2 * time.Second
const IdleTicksTrigger = 10           // After this amount of unchanged ticks, idle mode will be on.
const IdleInterval = 10 * time.Second // In idle mode, we will tick every following interval.

// Reporter publishes a snapshot and reports whether it changed since the previous call.
type Reporter interface {
	Report(ctx context.Context) bool
}

type Ticker struct {
	reporter Reporter
	clock    clockwork.Clock
	log      zerolog.Logger

	idle          bool
	idleTicks int
	sleepUntil    time.Time
}

func New(r Reporter, clock clockwork.Clock, logger zerolog.Logger) *Ticker {
	return &Ticker{
		reporter:   r,
		clock:      clock,
		log:        logger,
		sleepUntil: clock.Now(),
	}
}

func (t *Ticker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.log.Debug().Msg("Snapshot heartbeat stopped")
			return nil
		case <-t.clock.After(t.sleepUntil.Sub(t.clock.Now())):
			t.tick(ctx)
		}
	}
}

func (t *Ticker) Idle() bool {
	return t.idle
}

func (t *Ticker) tick(ctx context.Context) {
	if !t.reporter.Report(ctx) {
		t.idleTick()
		return
	}
	// We're in business. If in idle mode, turn it off.
	if t.idle {
		t.idle = false
		t.log.Debug().Msg("Idle mode disabled")
	}
	t.idleTicks = 0
	t.sleepUntil = t.clock.Now().Add(TickTime)
}

func (t *Ticker) idleTick() {
	if !t.idle && t.idleTicks >= IdleTicksTrigger {
		t.log.Debug().Msg("Idle mode enabled")
		t.idle = true
		t.idleTicks = 0
		t.sleepUntil = t.clock.Now().Add(IdleInterval)
		return
	}
	if t.idle {
		t.sleepUntil = t.clock.Now().Add(IdleInterval)
	} else {
		t.idleTicks++
		t.sleepUntil = t.clock.Now().Add(TickTime)
	}
}
