package authority

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hxann.com/shared-clock/shared"
	"hxann.com/shared-clock/transport"
)

const testRoom = "123456"

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthority(t *testing.T, opts ...Option) (*Authority, *transport.Memory, *clockwork.FakeClock) {
	t.Helper()
	mem := transport.NewMemory()
	clock := clockwork.NewFakeClockAt(epoch)
	opts = append([]Option{WithClock(clock), WithLogger(zerolog.Nop())}, opts...)
	a := New(transport.NewRoomChannel(mem, testRoom, zerolog.Nop()), opts...)
	return a, mem, clock
}

func publishedStates(t *testing.T, mem *transport.Memory) []shared.RoomState {
	t.Helper()
	var states []shared.RoomState
	for _, raw := range mem.Published(shared.RoomChannelName(testRoom)) {
		msg, err := shared.Decode(raw)
		require.NoError(t, err)
		if s, ok := msg.Payload.(shared.RoomState); ok {
			states = append(states, s)
		}
	}
	return states
}

func TestNewStartsAtVersionOne(t *testing.T) {
	a, mem, _ := newTestAuthority(t)

	assert.Equal(t, Initialize(testRoom, epoch), a.State())
	assert.Empty(t, mem.Published(shared.RoomChannelName(testRoom)))
}

func TestVersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	a, mem, clock := newTestAuthority(t)

	_, err := a.SetRound(ctx, shared.AutoRound)
	require.NoError(t, err)
	a.AdjustTime(ctx, 30_000)
	a.AdjustTime(ctx, -5*60_000)
	a.RandomJump(ctx)
	clock.Advance(time.Minute)
	a.ResetToNow(ctx)
	a.OnJoin(ctx, "p1")
	_, err = a.SetRound(ctx, shared.ManualRound)
	require.NoError(t, err)

	states := publishedStates(t, mem)
	require.Len(t, states, 7)
	for i, s := range states {
		assert.Equal(t, int64(i+2), s.Version)
	}
	assert.Equal(t, states[len(states)-1], a.State())
	assert.Equal(t, epoch.Add(time.Minute).UnixMilli(), a.State().ServerEpochMs)
}

func TestAdjustTime(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestAuthority(t)

	s := a.AdjustTime(ctx, -30_000)
	assert.Equal(t, epoch.UnixMilli()-30_000, s.ServerEpochMs)
	assert.Equal(t, int64(2), s.Version)
}

func TestJoinIdempotence(t *testing.T) {
	ctx := context.Background()
	a, mem, _ := newTestAuthority(t)

	a.OnJoin(ctx, "p1")
	s := a.OnJoin(ctx, "p1")

	assert.Equal(t, 1, s.PlayerCount)
	assert.Equal(t, int64(2), s.Version)

	// the rejoin republishes the same state
	states := publishedStates(t, mem)
	require.Len(t, states, 2)
	assert.Equal(t, states[0], states[1])

	s = a.OnJoin(ctx, "p2")
	assert.Equal(t, 2, s.PlayerCount)
	assert.Equal(t, int64(3), s.Version)
}

func TestSetRoundRejectsUnknownRound(t *testing.T) {
	ctx := context.Background()
	a, mem, _ := newTestAuthority(t)

	s, err := a.SetRound(ctx, 7)
	assert.ErrorIs(t, err, shared.ErrInvalidRound)
	assert.Equal(t, int64(1), s.Version)
	assert.Empty(t, publishedStates(t, mem))
}

func TestRandomJumpStaysInRange(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestAuthority(t)
	span := RandomJumpRange.Milliseconds()

	prev := a.State().ServerEpochMs
	for i := 0; i < 1000; i++ {
		s := a.RandomJump(ctx)
		delta := s.ServerEpochMs - prev
		require.GreaterOrEqual(t, delta, -span)
		require.Less(t, delta, span)
		prev = s.ServerEpochMs
	}
}

func TestRandomJumpUsesSource(t *testing.T) {
	a, _, _ := newTestAuthority(t, WithJumpSource(func() int64 { return -42_000 }))

	s := a.RandomJump(context.Background())
	assert.Equal(t, epoch.UnixMilli()-42_000, s.ServerEpochMs)
}

func TestRunHandlesJoinsFromChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, mem, _ := newTestAuthority(t)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	name := shared.RoomChannelName(testRoom)
	require.Eventually(t, func() bool { return mem.Subscribers(name) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(publishedStates(t, mem)) == 1 }, time.Second, time.Millisecond)

	player := transport.NewRoomChannel(mem, testRoom, zerolog.Nop())
	player.Publish(ctx, shared.NewJoin("p1"))
	player.Publish(ctx, shared.NewJoin("p1"))
	player.Publish(ctx, shared.NewRefreshUsed("p1"))

	assert.Equal(t, 1, a.State().PlayerCount)
	assert.Equal(t, int64(2), a.State().Version)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, mem.Subscribers(name))
}

type fakeLease struct {
	acquireErr error
	extendErr  error
	acquired   []string
	released   bool
}

func (l *fakeLease) Acquire(_ context.Context, name string) (Claim, error) {
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}
	l.acquired = append(l.acquired, name)
	return l, nil
}

func (l *fakeLease) Extend(context.Context) error  { return l.extendErr }
func (l *fakeLease) Release(context.Context) error { l.released = true; return nil }

func TestRunRefusesClaimedRoom(t *testing.T) {
	lease := &fakeLease{acquireErr: ErrRoomClaimed}
	a, mem, _ := newTestAuthority(t, WithLease(lease))

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, ErrRoomClaimed)
	assert.Empty(t, publishedStates(t, mem))
}

func TestRunStopsWhenClaimIsLost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lease := &fakeLease{extendErr: errors.Join(ErrLeaseLost, errors.New("expired"))}
	a, _, clock := newTestAuthority(t, WithLease(lease))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(RenewInterval)

	err := <-done
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.Equal(t, []string{"authority:" + testRoom}, lease.acquired)
	assert.True(t, lease.released)
}

func TestClaimBeforeRunAcquiresOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lease := &fakeLease{}
	a, _, _ := newTestAuthority(t, WithLease(lease))

	require.NoError(t, a.Claim(ctx))
	require.NoError(t, a.Claim(ctx))

	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Len(t, lease.acquired, 1)
	assert.True(t, lease.released)
}
