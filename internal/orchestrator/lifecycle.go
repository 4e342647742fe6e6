package orchestrator

import (
	"sort"
	"sync"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/extract"
)

// Roster owns the per-player lifecycle state of one (guild, server). It is a
// plain repository object held by the orchestrator: rebuilt from full history
// on cold start, mutated incrementally on hot cycles.
type Roster struct {
	mu      sync.Mutex
	players map[string]*domain.PlayerLifecycleState
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{players: make(map[string]*domain.PlayerLifecycleState)}
}

// Apply advances one player's state machine by one event. The returned flag
// reports whether the transition actually happened and should be delivered;
// guarded-off events (a disconnect for a player never seen joined, a
// duplicate join) return false and change nothing observable.
func (r *Roster) Apply(ev domain.ConnectionEvent) (domain.ConnectionEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[ev.PlayerID]
	if !ok {
		p = &domain.PlayerLifecycleState{PlayerID: ev.PlayerID}
		r.players[ev.PlayerID] = p
	}

	switch ev.Transition {
	case domain.TransitionQueued:
		refresh := p.Phase == domain.PhaseQueued
		p.Phase = domain.PhaseQueued
		p.QueuedAt = ev.Timestamp
		if ev.Name != "" {
			p.Name = ev.Name
		}
		if ev.Platform != "" {
			p.Platform = ev.Platform
		}
		if refresh {
			// A repeated queue event only refreshes name/platform.
			return ev, false
		}
		ev.Name = p.Name
		ev.Platform = p.Platform
		return ev, true

	case domain.TransitionJoined:
		if p.Phase == domain.PhaseJoined {
			return ev, false // duplicate join, stale line
		}
		if p.Name == "" {
			// No prior queue record; synthesize a minimal one.
			p.Name = extract.FallbackName(ev.PlayerID)
		}
		p.Phase = domain.PhaseJoined
		p.JoinedAt = ev.Timestamp
		ev.Name = p.Name
		ev.Platform = p.Platform
		return ev, true

	case domain.TransitionDisconnected:
		if p.Phase != domain.PhaseJoined {
			// Stale or duplicate disconnect; not an error.
			return ev, false
		}
		p.Phase = domain.PhaseDisconnected
		p.DisconnectedAt = ev.Timestamp
		ev.Name = p.Name
		ev.Platform = p.Platform
		return ev, true
	}

	return ev, false
}

// OnlineCount returns the number of players currently in the joined phase.
func (r *Roster) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.players {
		if p.Phase == domain.PhaseJoined {
			n++
		}
	}
	return n
}

// DedupConnectionEvents collapses same-(player, transition) events within one
// cycle to the one with the latest embedded timestamp, then orders the
// survivors by ascending timestamp. Interleaved log writers can emit a join
// after its disconnect in file order; applying in time order restores
// join-before-disconnect.
func DedupConnectionEvents(events []domain.ConnectionEvent) []domain.ConnectionEvent {
	type dedupKey struct {
		playerID   string
		transition domain.ConnectionTransition
	}

	latest := make(map[dedupKey]domain.ConnectionEvent)
	for _, ev := range events {
		key := dedupKey{ev.PlayerID, ev.Transition}
		if prev, ok := latest[key]; !ok || ev.Timestamp.After(prev.Timestamp) {
			latest[key] = ev
		}
	}

	out := make([]domain.ConnectionEvent, 0, len(latest))
	for _, ev := range latest {
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			// Equal stamps resolve in lifecycle order.
			return out[i].Transition < out[j].Transition
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
