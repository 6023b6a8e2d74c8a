package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hxann.com/shared-clock/authority"
	"hxann.com/shared-clock/config"
	"hxann.com/shared-clock/observer"
	"hxann.com/shared-clock/shared"
	"hxann.com/shared-clock/transport"
)

func TestParsePresenterCommand(t *testing.T) {
	cases := map[string]parsedCommand{
		"1":      {kind: cmdSetRound, round: shared.ManualRound},
		"2":      {kind: cmdSetRound, round: shared.AutoRound},
		"+30s":   {kind: cmdAdjust, delta: 30 * time.Second},
		"-5m":    {kind: cmdAdjust, delta: -5 * time.Minute},
		"random": {kind: cmdRandom},
		"reset":  {kind: cmdReset},
		"state":  {kind: cmdState},
	}
	for line, want := range cases {
		got, err := parsePresenterCommand(line)
		require.NoError(t, err, line)
		assert.Equal(t, want, got, line)
	}

	for _, bad := range []string{"3", "+soon", "dance"} {
		_, err := parsePresenterCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestPresenterConsole(t *testing.T) {
	ctx := context.Background()
	mem := transport.NewMemory()
	auth := authority.New(transport.NewRoomChannel(mem, "123456", zerolog.Nop()), authority.WithLogger(zerolog.Nop()))

	var out bytes.Buffer
	require.NoError(t, presenterConsole(ctx, auth, strings.NewReader("2\n+30s\nnope\n-30s\nstate\n"), &out))

	s := auth.State()
	assert.Equal(t, shared.AutoRound, s.Round)
	assert.Equal(t, int64(4), s.Version)
	assert.Contains(t, out.String(), "unknown command")
	assert.Contains(t, out.String(), "v4")
}

func TestPlayerConsole(t *testing.T) {
	ctx := context.Background()
	mem := transport.NewMemory()
	auth := authority.New(transport.NewRoomChannel(mem, "123456", zerolog.Nop()), authority.WithLogger(zerolog.Nop()))
	_, err := transport.NewRoomChannel(mem, "123456", zerolog.Nop()).Subscribe(ctx, func(m shared.Message) {
		if j, ok := m.Payload.(shared.JoinPayload); ok {
			auth.OnJoin(ctx, j.PlayerID)
		}
	})
	require.NoError(t, err)

	obs := observer.New(mem, "p1", observer.WithLogger(zerolog.Nop()))
	require.NoError(t, obs.Join(ctx, "123456"))
	auth.AdjustTime(ctx, 1000)

	var out bytes.Buffer
	require.NoError(t, playerConsole(ctx, obs, strings.NewReader("show\nrefresh\n"), &out))

	assert.Equal(t, int64(3), obs.CurrentDisplay().SyncedVersion)
	assert.Contains(t, out.String(), "v2")
	assert.Contains(t, out.String(), "v3")
}

func TestPlayerRejectsInvalidRoomCode(t *testing.T) {
	ctx := context.Background()
	err := runPlayer(ctx, &config.Config{}, []string{"-room", "abc"})
	assert.ErrorIs(t, err, errInvalidRoomCode)

	mem := transport.NewMemory()
	obs := observer.New(mem, "p1", observer.WithLogger(zerolog.Nop()))
	require.NoError(t, obs.Join(ctx, "123456"))

	var out bytes.Buffer
	require.NoError(t, playerConsole(ctx, obs, strings.NewReader("join abc\n"), &out))
	assert.Contains(t, out.String(), errInvalidRoomCode.Error())
	assert.Equal(t, "123456", obs.RoomCode())
	assert.Equal(t, 0, mem.Subscribers(shared.RoomChannelName("abc")))
}

type takenLease struct {
	taken map[string]bool
	tries int
}

func (l *takenLease) Acquire(_ context.Context, name string) (authority.Claim, error) {
	l.tries++
	if l.taken[name] || l.tries < 3 {
		return nil, authority.ErrRoomClaimed
	}
	return authority.NopLease{}.Acquire(context.Background(), name)
}

func TestClaimRoomRetriesRandomCodes(t *testing.T) {
	lease := &takenLease{}
	auth, err := claimRoom(context.Background(), transport.NewMemory(), lease, "")
	require.NoError(t, err)
	assert.Equal(t, 3, lease.tries)
	assert.True(t, shared.ValidRoomCode(auth.State().RoomCode))
}

func TestClaimRoomFixedCodeDoesNotRetry(t *testing.T) {
	lease := &takenLease{taken: map[string]bool{shared.AuthorityLockName("123456"): true}}
	_, err := claimRoom(context.Background(), transport.NewMemory(), lease, "123456")
	assert.ErrorIs(t, err, authority.ErrRoomClaimed)
	assert.Equal(t, 1, lease.tries)
}

type downLease struct{ tries int }

func (l *downLease) Acquire(context.Context, string) (authority.Claim, error) {
	l.tries++
	return nil, errors.New("dial tcp: connection refused")
}

func TestClaimRoomDoesNotRetryWhenRedisIsDown(t *testing.T) {
	lease := &downLease{}
	_, err := claimRoom(context.Background(), transport.NewMemory(), lease, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, authority.ErrRoomClaimed)
	assert.Equal(t, 1, lease.tries)
}
