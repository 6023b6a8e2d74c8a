// Package observer is the player side of a room. It joins, follows STATE broadcasts and
// decides what time to show according to the round: manual rounds only move on Refresh,
// auto rounds follow every broadcast.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"hxann.com/shared-clock/shared"
	"hxann.com/shared-clock/transport"
)

var (
	ErrNotJoined  = errors.New("not joined to a room")
	ErrNoPlayerID = errors.New("missing player id")
)

type Observer struct {
	t        transport.Transport
	playerID string
	clock    clockwork.Clock
	log      zerolog.Logger
	reports  bool

	mu      sync.Mutex
	channel *transport.RoomChannel
	sub     *transport.Subscription
	view    View
	dirty   bool
}

type Option func(*Observer)

func WithClock(c clockwork.Clock) Option {
	return func(o *Observer) { o.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Observer) { o.log = l }
}

// WithSnapshotReports makes the observer publish PLAYER_SNAPSHOT whenever its display changes.
func WithSnapshotReports(enabled bool) Option {
	return func(o *Observer) { o.reports = enabled }
}

func New(t transport.Transport, playerID string, opts ...Option) *Observer {
	o := &Observer{
		t:        t,
		playerID: playerID,
		clock:    clockwork.NewRealClock(),
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With().Str("player", playerID).Str("role", "observer").Logger()
	return o
}

func (o *Observer) PlayerID() string {
	return o.playerID
}

// RoomCode returns the joined room, or "" before Join.
func (o *Observer) RoomCode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.channel == nil {
		return ""
	}
	return o.channel.RoomCode()
}

// Join subscribes to the room and announces the player. Joining the same room again only
// repeats the JOIN; joining a different room leaves the current one and starts a fresh view.
func (o *Observer) Join(ctx context.Context, roomCode string) error {
	if roomCode == "" {
		return ErrNotJoined
	}
	if o.playerID == "" {
		return ErrNoPlayerID
	}

	o.mu.Lock()
	if o.channel != nil && o.channel.RoomCode() == roomCode && o.sub != nil {
		ch := o.channel
		o.mu.Unlock()
		ch.Publish(ctx, shared.NewJoin(o.playerID))
		return nil
	}
	old, oldSub := o.channel, o.sub
	ch := transport.NewRoomChannel(o.t, roomCode, o.log)
	o.channel, o.sub = ch, nil
	o.view, o.dirty = View{}, false
	o.mu.Unlock()

	if old != nil {
		old.Unsubscribe(oldSub)
	}

	sub, err := ch.Subscribe(ctx, o.handle(ctx, ch))
	if err != nil {
		return fmt.Errorf("error joining room %s: %w", roomCode, err)
	}
	o.mu.Lock()
	o.sub = sub
	o.mu.Unlock()

	ch.Publish(ctx, shared.NewJoin(o.playerID))
	o.log.Info().Str("room", roomCode).Msg("Joined room")
	return nil
}

// Leave unsubscribes. Messages already published are not retracted.
func (o *Observer) Leave() {
	o.mu.Lock()
	ch, sub := o.channel, o.sub
	o.channel, o.sub = nil, nil
	o.view, o.dirty = View{}, false
	o.mu.Unlock()

	if ch != nil {
		ch.Unsubscribe(sub)
		o.log.Info().Str("room", ch.RoomCode()).Msg("Left room")
	}
}

func (o *Observer) handle(ctx context.Context, ch *transport.RoomChannel) func(shared.Message) {
	return func(msg shared.Message) {
		state, ok := msg.Payload.(shared.RoomState)
		if !ok {
			return
		}
		if state.RoomCode != ch.RoomCode() {
			o.log.Warn().Str("room", state.RoomCode).Msg("Ignoring state for another room")
			return
		}
		o.OnStateReceived(ctx, state)
	}
}

// OnStateReceived applies one STATE broadcast according to its round.
func (o *Observer) OnStateReceived(ctx context.Context, state shared.RoomState) {
	o.mu.Lock()
	before := o.view
	o.view = o.view.Receive(state)
	ch := o.changedLocked(before)
	behind := o.view.Behind()
	o.mu.Unlock()

	if ch != nil {
		ch.Flush(ctx)
	}
	o.log.Debug().
		Int64("version", state.Version).
		Stringer("round", state.Round).
		Int64("behind", behind).
		Msg("State received")
}

// Refresh pulls the latest known state onto the display and reports REFRESH_USED. Before
// any state arrived it does nothing.
func (o *Observer) Refresh(ctx context.Context) error {
	o.mu.Lock()
	if o.channel == nil {
		o.mu.Unlock()
		return ErrNotJoined
	}
	if _, ok := o.view.Latest(); !ok {
		o.mu.Unlock()
		return nil
	}
	before := o.view
	o.view = o.view.Refresh()
	o.channel.Enqueue(shared.NewRefreshUsed(o.playerID))
	o.changedLocked(before)
	ch := o.channel
	o.mu.Unlock()

	ch.Flush(ctx)
	return nil
}

// changedLocked marks a changed display and enqueues a snapshot when reporting. It returns
// the channel to flush, or nil.
func (o *Observer) changedLocked(before View) *transport.RoomChannel {
	if sameDisplay(before, o.view) {
		return nil
	}
	o.dirty = true
	if !o.reports || o.channel == nil {
		return nil
	}
	snap := o.view.Snapshot(o.playerID, o.clock.Now())
	o.channel.Enqueue(shared.NewPlayerSnapshot(*snap))
	return o.channel
}

// CurrentDisplay returns the snapshot to render, or nil before any state arrived.
func (o *Observer) CurrentDisplay() *shared.PlayerSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view.Snapshot(o.playerID, o.clock.Now())
}

// Latest returns the newest state received, whether or not it is displayed.
func (o *Observer) Latest() (shared.RoomState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view.Latest()
}

// Report publishes the current snapshot, when reporting, so boards that subscribed late
// catch up. It also retries anything still queued, such as a JOIN that failed to publish.
// It returns whether the display changed since the previous Report.
func (o *Observer) Report(ctx context.Context) bool {
	o.mu.Lock()
	ch := o.channel
	changed := o.dirty
	o.dirty = false
	if ch != nil && o.reports {
		if snap := o.view.Snapshot(o.playerID, o.clock.Now()); snap != nil {
			ch.Enqueue(shared.NewPlayerSnapshot(*snap))
		}
	}
	o.mu.Unlock()

	if ch != nil {
		ch.Flush(ctx)
	}
	return changed
}
