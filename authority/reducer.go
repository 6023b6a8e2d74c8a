package authority

import (
	"fmt"
	"time"

	"hxann.com/shared-clock/shared"
)

// Action is one mutation of a RoomState.
type Action interface {
	reduce(s shared.RoomState) (shared.RoomState, error)
}

type SetRound struct {
	Round shared.Round
}

type AdjustTime struct {
	DeltaMs int64
}

// SetTime moves the virtual server clock to an absolute instant.
type SetTime struct {
	EpochMs int64
}

type SetPlayerCount struct {
	Count int
}

func (a SetRound) reduce(s shared.RoomState) (shared.RoomState, error) {
	if !a.Round.Valid() {
		return s, fmt.Errorf("%w: %d", shared.ErrInvalidRound, a.Round)
	}
	s.Round = a.Round
	return s, nil
}

func (a AdjustTime) reduce(s shared.RoomState) (shared.RoomState, error) {
	s.ServerEpochMs += a.DeltaMs
	return s, nil
}

func (a SetTime) reduce(s shared.RoomState) (shared.RoomState, error) {
	s.ServerEpochMs = a.EpochMs
	return s, nil
}

func (a SetPlayerCount) reduce(s shared.RoomState) (shared.RoomState, error) {
	if a.Count < 0 {
		return s, fmt.Errorf("negative player count %d", a.Count)
	}
	s.PlayerCount = a.Count
	return s, nil
}

// Initialize returns the state a room starts in.
func Initialize(roomCode string, now time.Time) shared.RoomState {
	return shared.RoomState{
		RoomCode:      roomCode,
		Round:         shared.ManualRound,
		ServerEpochMs: now.UnixMilli(),
		PlayerCount:   0,
		Version:       1,
	}
}

// Reduce applies a to s and bumps the version by exactly one. On error s is returned unchanged.
func Reduce(s shared.RoomState, a Action) (shared.RoomState, error) {
	next, err := a.reduce(s)
	if err != nil {
		return s, err
	}
	next.Version = s.Version + 1
	return next, nil
}
