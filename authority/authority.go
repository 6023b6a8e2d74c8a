// Package authority owns a room's state. It is the single writer: every mutation bumps the
// version and is followed by a full STATE broadcast on the room channel.
package authority

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"hxann.com/shared-clock/shared"
	"hxann.com/shared-clock/transport"
)

const RandomJumpRange = 5 * time.Minute

type Authority struct {
	channel *transport.RoomChannel
	clock   clockwork.Clock
	log     zerolog.Logger
	lease   Lease
	claim   Claim
	jump    func() int64

	mu      sync.Mutex
	state   shared.RoomState
	players map[string]struct{}
}

type Option func(*Authority)

func WithClock(c clockwork.Clock) Option {
	return func(a *Authority) { a.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Authority) { a.log = l }
}

func WithLease(l Lease) Option {
	return func(a *Authority) { a.lease = l }
}

// WithJumpSource replaces the random source used by RandomJump. f returns a delta in ms.
func WithJumpSource(f func() int64) Option {
	return func(a *Authority) { a.jump = f }
}

func randomJumpMs() int64 {
	span := RandomJumpRange.Milliseconds()
	return rand.Int63n(2*span) - span
}

// New creates the authority for the channel's room. The initial state is not published
// until Run or the first mutation.
func New(ch *transport.RoomChannel, opts ...Option) *Authority {
	a := &Authority{
		channel: ch,
		clock:   clockwork.NewRealClock(),
		log:     log.Logger,
		lease:   NopLease{},
		jump:    randomJumpMs,
		players: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With().Str("room", ch.RoomCode()).Str("role", "authority").Logger()
	a.state = Initialize(ch.RoomCode(), a.clock.Now())
	return a
}

func (a *Authority) State() shared.RoomState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authority) SetRound(ctx context.Context, r shared.Round) (shared.RoomState, error) {
	return a.apply(ctx, SetRound{Round: r})
}

func (a *Authority) AdjustTime(ctx context.Context, deltaMs int64) shared.RoomState {
	s, _ := a.apply(ctx, AdjustTime{DeltaMs: deltaMs})
	return s
}

// RandomJump moves the server time by a uniform delta in [-5m, +5m).
func (a *Authority) RandomJump(ctx context.Context) shared.RoomState {
	return a.AdjustTime(ctx, a.jump())
}

func (a *Authority) ResetToNow(ctx context.Context) shared.RoomState {
	s, _ := a.apply(ctx, SetTime{EpochMs: a.clock.Now().UnixMilli()})
	return s
}

// OnJoin counts a player the first time it is seen. A repeated join leaves the state and its
// version untouched but republishes it so a reconnecting player can initialize.
func (a *Authority) OnJoin(ctx context.Context, playerID string) shared.RoomState {
	a.mu.Lock()
	if _, seen := a.players[playerID]; seen {
		state := a.state
		a.channel.Enqueue(shared.NewState(state))
		a.mu.Unlock()
		a.channel.Flush(ctx)
		a.log.Debug().Str("player", playerID).Msg("Player rejoined")
		return state
	}
	a.players[playerID] = struct{}{}
	next, _ := a.applyLocked(SetPlayerCount{Count: len(a.players)})
	a.mu.Unlock()

	a.channel.Flush(ctx)
	a.log.Info().Str("player", playerID).Int("players", next.PlayerCount).Int64("version", next.Version).Msg("Player joined")
	return next
}

// Broadcast publishes the current state without changing it.
func (a *Authority) Broadcast(ctx context.Context) {
	a.mu.Lock()
	a.channel.Enqueue(shared.NewState(a.state))
	a.mu.Unlock()
	a.channel.Flush(ctx)
}

func (a *Authority) apply(ctx context.Context, action Action) (shared.RoomState, error) {
	a.mu.Lock()
	next, err := a.applyLocked(action)
	a.mu.Unlock()
	if err != nil {
		a.log.Warn().Err(err).Msg("Rejected mutation")
		return next, err
	}

	a.channel.Flush(ctx)
	a.log.Debug().
		Int64("version", next.Version).
		Stringer("round", next.Round).
		Int64("serverEpochMs", next.ServerEpochMs).
		Int("players", next.PlayerCount).
		Msg("State changed")
	return next, nil
}

// applyLocked reduces and enqueues the new state while a.mu is held, so STATE messages
// leave in version order. The caller flushes after unlocking.
func (a *Authority) applyLocked(action Action) (shared.RoomState, error) {
	next, err := Reduce(a.state, action)
	if err != nil {
		return a.state, err
	}
	a.state = next
	a.channel.Enqueue(shared.NewState(next))
	return next, nil
}

func (a *Authority) handle(ctx context.Context) func(shared.Message) {
	return func(msg shared.Message) {
		switch p := msg.Payload.(type) {
		case shared.JoinPayload:
			a.OnJoin(ctx, p.PlayerID)
		default:
			// STATE echoes, snapshots and diagnostics are for other roles
		}
	}
}

// Claim takes the room for this authority. Run claims on its own if Claim was not called;
// calling it first lets a caller pick another room code on ErrRoomClaimed.
func (a *Authority) Claim(ctx context.Context) error {
	if a.claim != nil {
		return nil
	}
	claim, err := a.lease.Acquire(ctx, shared.AuthorityLockName(a.channel.RoomCode()))
	if err != nil {
		return err
	}
	a.claim = claim
	return nil
}

// Run claims the room, subscribes for JOIN messages, publishes the initial state and keeps
// the claim alive until ctx is done. It returns ErrRoomClaimed if another authority holds
// the room and ErrLeaseLost if the claim could not be extended.
func (a *Authority) Run(ctx context.Context) error {
	if err := a.Claim(ctx); err != nil {
		return err
	}
	claim := a.claim
	defer func() {
		if err := claim.Release(context.Background()); err != nil {
			a.log.Error().Err(err).Msg("Error releasing room claim")
		}
	}()

	sub, err := a.channel.Subscribe(ctx, a.handle(ctx))
	if err != nil {
		a.log.Error().Err(err).Msg("Error subscribing, retrying on next tick")
	}
	defer func() { a.channel.Unsubscribe(sub) }()

	a.Broadcast(ctx)
	a.log.Info().Str("channel", a.channel.Name()).Msg("Room is live")

	ticker := a.clock.NewTicker(RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("Closing room")
			return nil
		case <-ticker.Chan():
			if err := claim.Extend(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.log.Error().Err(err).Msg("Room claim lost, stopping")
				return err
			}
			if sub == nil {
				if sub, err = a.channel.Subscribe(ctx, a.handle(ctx)); err != nil {
					a.log.Error().Err(err).Msg("Error subscribing, retrying on next tick")
				}
			}
			a.channel.Flush(ctx)
		}
	}
}
