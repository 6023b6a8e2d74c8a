package observer

import (
	"time"

	"hxann.com/shared-clock/shared"
)

// View is what one player knows about a room: the latest state received and the state
// currently on screen. The zero View has received nothing. Views are values; every method
// returns a new View.
type View struct {
	latest  *shared.RoomState
	display *shared.RoomState
}

// Receive applies one STATE message. The first state initializes the display. After that,
// an auto-round state replaces the display immediately and a manual-round state is only
// remembered until Refresh.
func (v View) Receive(s shared.RoomState) View {
	v.latest = &s
	if v.display == nil || s.Round == shared.AutoRound {
		v.display = &s
	}
	return v
}

// Refresh shows the latest known state. Without one it changes nothing.
func (v View) Refresh() View {
	if v.latest != nil {
		v.display = v.latest
	}
	return v
}

func (v View) Latest() (shared.RoomState, bool) {
	if v.latest == nil {
		return shared.RoomState{}, false
	}
	return *v.latest, true
}

func (v View) Displayed() (shared.RoomState, bool) {
	if v.display == nil {
		return shared.RoomState{}, false
	}
	return *v.display, true
}

// Behind reports how many versions the display lags the latest known state.
func (v View) Behind() int64 {
	if v.latest == nil || v.display == nil {
		return 0
	}
	return v.latest.Version - v.display.Version
}

// Snapshot describes the display for playerID, or nil before any state arrived. The round
// is the one the latest state announced.
func (v View) Snapshot(playerID string, now time.Time) *shared.PlayerSnapshot {
	if v.display == nil {
		return nil
	}
	return &shared.PlayerSnapshot{
		PlayerID:       playerID,
		DisplayEpochMs: v.display.ServerEpochMs,
		SyncedVersion:  v.display.Version,
		Round:          v.latest.Round,
		SentAtMs:       now.UnixMilli(),
	}
}

func sameDisplay(a, b View) bool {
	if a.display == nil || b.display == nil {
		return a.display == b.display
	}
	return a.display.Version == b.display.Version && a.display.ServerEpochMs == b.display.ServerEpochMs
}
