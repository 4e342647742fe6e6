package checkpoint

import (
	"context"
	"errors"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

// ErrNotFound is returned by Get when no checkpoint exists for the key. A
// missing checkpoint means cold start, not a fault.
var ErrNotFound = errors.New("checkpoint not found")

// Store stores and retrieves parser progress markers.
// Implementations: BoltDB (primary).
//
// Put is the commit point of a cycle: callers must only invoke it after the
// corresponding events were successfully handed downstream. A failed Put means
// the cycle failed and the same byte range is reprocessed next time.
type Store interface {
	// Get retrieves the checkpoint for a (guild, server, kind) triple.
	// Returns ErrNotFound if none is stored.
	Get(ctx context.Context, guildID, serverID string, kind domain.ParserKind) (*domain.ParserCheckpoint, error)

	// Put replaces the checkpoint for its (guild, server, kind) triple.
	Put(ctx context.Context, cp *domain.ParserCheckpoint) error

	// Delete removes a checkpoint (explicit reset).
	Delete(ctx context.Context, guildID, serverID string, kind domain.ParserKind) error

	// List returns all stored checkpoints.
	List(ctx context.Context) ([]*domain.ParserCheckpoint, error)

	// Close closes the store.
	Close() error
}
