package stats

import "context"

// CounterDelta is the order-independent additive update for one player within
// one batch.
type CounterDelta struct {
	PlayerID      string
	Name          string
	Kills         int64
	Deaths        int64
	Suicides      int64
	DistanceTotal float64
}

// StreakRow is the order-dependent aggregate flushed at the end of each batch.
// BestStreak and LongestShot only ever raise the stored values.
type StreakRow struct {
	PlayerID      string
	Name          string
	CurrentStreak int64
	BestStreak    int64
	LongestShot   float64
}

// Store is the durable aggregate statistics store. Both methods are atomic
// per-player upserts so the order-independent bulk path never needs a
// read-modify-write cycle.
type Store interface {
	// ApplyCounters adds the deltas to each player's counters.
	ApplyCounters(ctx context.Context, guildID, serverID string, deltas []CounterDelta) error

	// UpsertStreaks replaces current streaks and raises best-streak and
	// longest-shot watermarks.
	UpsertStreaks(ctx context.Context, guildID, serverID string, rows []StreakRow) error

	// Close closes the store.
	Close() error
}
