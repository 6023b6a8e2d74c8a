// Package board aggregates what every player in a room is looking at. It only reads the
// channel and never mutates room state.
package board

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"hxann.com/shared-clock/shared"
)

type Freshness int

const (
	Fresh Freshness = iota
	Stale
)

func (f Freshness) String() string {
	return [...]string{"FRESH", "STALE"}[f]
}

func (f Freshness) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Freshness) UnmarshalText(text []byte) error {
	switch string(text) {
	case "FRESH":
		*f = Fresh
	case "STALE":
		*f = Stale
	default:
		return fmt.Errorf("unknown freshness %q", text)
	}
	return nil
}

type Board struct {
	mu        sync.Mutex
	state     *shared.RoomState
	snapshots map[string]shared.PlayerSnapshot
	refreshes map[string]int
	changed   chan struct{}
}

func New() *Board {
	return &Board{
		snapshots: make(map[string]shared.PlayerSnapshot),
		refreshes: make(map[string]int),
		changed:   make(chan struct{}),
	}
}

// Changed returns a channel that is closed on the next update.
func (b *Board) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

func (b *Board) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// HandleMessage routes a channel message to the matching update.
func (b *Board) HandleMessage(msg shared.Message) {
	switch p := msg.Payload.(type) {
	case shared.RoomState:
		b.OnStateReceived(p)
	case shared.PlayerSnapshot:
		b.OnSnapshotReceived(p)
	case shared.RefreshUsedPayload:
		b.OnRefreshUsed(p.PlayerID)
	}
}

// OnStateReceived replaces the authoritative state wholesale.
func (b *Board) OnStateReceived(s shared.RoomState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = &s
	b.notifyLocked()
}

// OnSnapshotReceived keeps the last snapshot to arrive per player, regardless of SentAtMs.
func (b *Board) OnSnapshotReceived(s shared.PlayerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[s.PlayerID] = s
	b.notifyLocked()
}

func (b *Board) OnRefreshUsed(playerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes[playerID]++
	b.notifyLocked()
}

func (b *Board) State() (shared.RoomState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return shared.RoomState{}, false
	}
	return *b.state, true
}

// FreshnessOf is Fresh when the player's snapshot was derived from the latest authoritative
// version. Until a state arrives every player counts as Fresh. ok is false for players
// without a snapshot.
func (b *Board) FreshnessOf(playerID string) (f Freshness, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.snapshots[playerID]
	if !ok {
		return Stale, false
	}
	return freshness(b.state, snap), true
}

// DeltaSecondsOf is how far the player's clock is from the authority's, in whole seconds.
// Negative means the player reads earlier. It is 0 until a state arrives.
func (b *Board) DeltaSecondsOf(playerID string) (delta int64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.snapshots[playerID]
	if !ok {
		return 0, false
	}
	return deltaSeconds(b.state, snap), true
}

func freshness(state *shared.RoomState, snap shared.PlayerSnapshot) Freshness {
	if state == nil || snap.SyncedVersion == state.Version {
		return Fresh
	}
	return Stale
}

// deltaSeconds rounds half up, so -2.5s reads as -2.
func deltaSeconds(state *shared.RoomState, snap shared.PlayerSnapshot) int64 {
	if state == nil {
		return 0
	}
	diff := float64(snap.DisplayEpochMs-state.ServerEpochMs) / 1000
	return int64(math.Floor(diff + 0.5))
}

func DeltaLabel(delta int64) string {
	switch {
	case delta == 0:
		return "Δ 0s"
	case delta > 0:
		return "Δ +" + strconv.FormatInt(delta, 10) + "s"
	}
	return "Δ " + strconv.FormatInt(delta, 10) + "s"
}

func ShortID(playerID string) string {
	if len(playerID) > 4 {
		playerID = playerID[:4]
	}
	return strings.ToUpper(playerID)
}

type Row struct {
	Label         string       `json:"label"`
	PlayerID      string       `json:"playerId"`
	ShortID       string       `json:"shortId"`
	DisplayTime   string       `json:"displayTime"`
	SyncedVersion int64        `json:"syncedVersion"`
	Round         shared.Round `json:"round"`
	Freshness     Freshness    `json:"freshness"`
	DeltaSeconds  int64        `json:"deltaSeconds"`
	DeltaLabel    string       `json:"deltaLabel"`
	Refreshes     int          `json:"refreshes"`
}

type Summary struct {
	State      *shared.RoomState `json:"state"`
	ServerTime string            `json:"serverTime"`
	Hint       string            `json:"hint"`
	Rows       []Row             `json:"rows"`
}

func hint(state *shared.RoomState) string {
	if state == nil {
		return "Waiting for presenter state…"
	}
	if state.Round == shared.ManualRound {
		return "Round 1: people refresh manually → times diverge."
	}
	return "Round 2: auto sync → all times converge."
}

// Summary renders one row per player ordered by player id.
func (b *Board) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := Summary{ServerTime: "--:--:--", Hint: hint(b.state), Rows: make([]Row, 0, len(b.snapshots))}
	if b.state != nil {
		s := *b.state
		out.State = &s
		out.ServerTime = shared.FormatTime(s.ServerEpochMs)
	}

	ids := make([]string, 0, len(b.snapshots))
	for id := range b.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i, id := range ids {
		snap := b.snapshots[id]
		delta := deltaSeconds(b.state, snap)
		out.Rows = append(out.Rows, Row{
			Label:         "Player " + strconv.Itoa(i+1),
			PlayerID:      id,
			ShortID:       ShortID(id),
			DisplayTime:   shared.FormatTime(snap.DisplayEpochMs),
			SyncedVersion: snap.SyncedVersion,
			Round:         snap.Round,
			Freshness:     freshness(b.state, snap),
			DeltaSeconds:  delta,
			DeltaLabel:    DeltaLabel(delta),
			Refreshes:     b.refreshes[id],
		})
	}
	return out
}
