package domain

import "time"

// LifecyclePhase is the current phase of a player session.
type LifecyclePhase int

const (
	PhaseUnknown LifecyclePhase = iota
	PhaseQueued
	PhaseJoined
	PhaseDisconnected
)

// String returns the phase name used in logs.
func (p LifecyclePhase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseJoined:
		return "joined"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PlayerLifecycleState tracks one player's session on one server. A fresh
// queue/join after disconnect starts a new session instance.
type PlayerLifecycleState struct {
	PlayerID       string
	Name           string
	Platform       string
	Phase          LifecyclePhase
	QueuedAt       time.Time
	JoinedAt       time.Time
	DisconnectedAt time.Time
}

// PlayerStreakState is the order-dependent aggregate replayed by the batch
// processor. It only exists for the duration of a run; the flushed values land
// in the aggregate store.
type PlayerStreakState struct {
	PlayerID            string
	Name                string
	CurrentStreak       int64
	BestStreak          int64
	LongestShotDistance float64
}
