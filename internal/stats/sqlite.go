package stats

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// formatTimestamp converts time.Time to a SQLite-compatible UTC ISO8601 string
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the aggregate database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening stats database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info().Str("db_path", dbPath).Msg("SQLite stats store initialized")
	return &SQLiteStore{db: db}, nil
}

// ApplyCounters adds the deltas to each player's counters in one transaction.
func (s *SQLiteStore) ApplyCounters(ctx context.Context, guildID, serverID string, deltas []CounterDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin counters tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTimestamp(time.Now())
	for _, d := range deltas {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO player_stats (guild_id, server_id, player_id, name, kills, deaths, suicides, distance_total, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(guild_id, server_id, player_id) DO UPDATE SET
				name           = CASE WHEN excluded.name != '' THEN excluded.name ELSE name END,
				kills          = kills + excluded.kills,
				deaths         = deaths + excluded.deaths,
				suicides       = suicides + excluded.suicides,
				distance_total = distance_total + excluded.distance_total,
				updated_at     = excluded.updated_at`,
			guildID, serverID, d.PlayerID, d.Name, d.Kills, d.Deaths, d.Suicides, d.DistanceTotal, now)
		if err != nil {
			return fmt.Errorf("upsert counters for %s: %w", d.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit counters tx: %w", err)
	}
	return nil
}

// UpsertStreaks replaces current streaks and raises the best-streak and
// longest-shot watermarks in one transaction.
func (s *SQLiteStore) UpsertStreaks(ctx context.Context, guildID, serverID string, rows []StreakRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin streaks tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTimestamp(time.Now())
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO player_stats (guild_id, server_id, player_id, name, current_streak, best_streak, longest_shot, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(guild_id, server_id, player_id) DO UPDATE SET
				name           = CASE WHEN excluded.name != '' THEN excluded.name ELSE name END,
				current_streak = excluded.current_streak,
				best_streak    = MAX(best_streak, excluded.best_streak),
				longest_shot   = MAX(longest_shot, excluded.longest_shot),
				updated_at     = excluded.updated_at`,
			guildID, serverID, r.PlayerID, r.Name, r.CurrentStreak, r.BestStreak, r.LongestShot, now)
		if err != nil {
			return fmt.Errorf("upsert streaks for %s: %w", r.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit streaks tx: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
