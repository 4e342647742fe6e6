// Package killarchive persists every raw kill-event row to ClickHouse. The
// archive is append-only and order-independent: rows may be inserted in any
// order because queries sort by event time.
package killarchive

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/retry"
)

//go:embed schema.sql
var schema string

// Archive is the raw kill-event sink used by the batch processor and the
// incremental killfeed tail.
type Archive interface {
	InsertKills(ctx context.Context, guildID, serverID string, events []domain.KillEvent) error
	Close() error
}

// ClickHouseArchive implements Archive on a ClickHouse connection.
type ClickHouseArchive struct {
	conn     clickhouse.Conn
	retryCfg retry.Config
}

// NewClickHouseArchive connects to ClickHouse and verifies the connection.
func NewClickHouseArchive(host string, port int, database string) (*ClickHouseArchive, error) {
	retryCfg := retry.DefaultConfig()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: "",
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	ctx := context.Background()
	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Exec(ctx, schema)
	}); err != nil {
		return nil, fmt.Errorf("failed to create kill_events table: %w", err)
	}

	log.Info().
		Str("host", host).
		Int("port", port).
		Str("database", database).
		Msg("Connected to ClickHouse kill archive")

	return &ClickHouseArchive{conn: conn, retryCfg: retryCfg}, nil
}

// InsertKills appends one batch of raw kill rows. The whole batch is sent in a
// single insert; a failure leaves nothing committed and the caller retries the
// run, which is safe because the archive table deduplicates on its ordering
// key.
func (a *ClickHouseArchive) InsertKills(ctx context.Context, guildID, serverID string, events []domain.KillEvent) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	err := retry.Do(ctx, a.retryCfg, func() error {
		batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO kill_events")
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}

		for i, ev := range events {
			err := batch.Append(
				ev.Timestamp,
				guildID,
				serverID,
				ev.Killer,
				ev.KillerID,
				ev.Victim,
				ev.VictimID,
				ev.Weapon,
				ev.Distance,
				ev.KillerPlatform,
				ev.VictimPlatform,
				ev.Suicide,
				ev.SourceFile,
			)
			if err != nil {
				return fmt.Errorf("failed to append record %d: %w", i, err)
			}
		}

		return batch.Send()
	})
	if err != nil {
		return fmt.Errorf("failed to insert kill batch: %w", err)
	}

	log.Debug().
		Int("rows", len(events)).
		Dur("duration", time.Since(start)).
		Msg("Kill batch inserted")
	return nil
}

// Close closes the ClickHouse connection.
func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}
