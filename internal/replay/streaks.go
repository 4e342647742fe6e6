package replay

import (
	"sort"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/stats"
)

// StreakBoard is the order-dependent per-player streak state machine. Records
// MUST be applied one at a time in ascending event-time order; the board is
// deliberately not safe for concurrent use because correctness depends on
// strict sequencing.
type StreakBoard struct {
	players map[string]*domain.PlayerStreakState
	dirty   map[string]struct{}
}

// NewStreakBoard creates an empty board.
func NewStreakBoard() *StreakBoard {
	return &StreakBoard{
		players: make(map[string]*domain.PlayerStreakState),
		dirty:   make(map[string]struct{}),
	}
}

func (b *StreakBoard) player(id, name string) *domain.PlayerStreakState {
	p, ok := b.players[id]
	if !ok {
		p = &domain.PlayerStreakState{PlayerID: id}
		b.players[id] = p
	}
	if name != "" {
		p.Name = name
	}
	b.dirty[id] = struct{}{}
	return p
}

// Apply advances the state machine by one kill record. A non-suicide kill
// increments the killer's current streak (raising best if exceeded) and
// resets the victim's; a suicide resets only the actor's current streak.
// Longest shot is a running per-player max.
func (b *StreakBoard) Apply(ev domain.KillEvent) {
	if ev.Suicide {
		actor := b.player(ev.KillerID, ev.Killer)
		actor.CurrentStreak = 0
		return
	}

	killer := b.player(ev.KillerID, ev.Killer)
	killer.CurrentStreak++
	if killer.CurrentStreak > killer.BestStreak {
		killer.BestStreak = killer.CurrentStreak
	}
	if ev.Distance > killer.LongestShotDistance {
		killer.LongestShotDistance = ev.Distance
	}

	victim := b.player(ev.VictimID, ev.Victim)
	victim.CurrentStreak = 0
}

// FlushDirty returns the streak rows touched since the previous flush, sorted
// by player id for deterministic write order, and clears the dirty set.
func (b *StreakBoard) FlushDirty() []stats.StreakRow {
	if len(b.dirty) == 0 {
		return nil
	}

	rows := make([]stats.StreakRow, 0, len(b.dirty))
	for id := range b.dirty {
		p := b.players[id]
		rows = append(rows, stats.StreakRow{
			PlayerID:      p.PlayerID,
			Name:          p.Name,
			CurrentStreak: p.CurrentStreak,
			BestStreak:    p.BestStreak,
			LongestShot:   p.LongestShotDistance,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PlayerID < rows[j].PlayerID })

	b.dirty = make(map[string]struct{})
	return rows
}

// Snapshot returns the current state of every tracked player, sorted by
// player id.
func (b *StreakBoard) Snapshot() []domain.PlayerStreakState {
	out := make([]domain.PlayerStreakState, 0, len(b.players))
	for _, p := range b.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}
