package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

const bucketName = "checkpoints"

// BoltDBStore implements Store using BoltDB
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore creates a new BoltDB checkpoint store
func NewBoltDBStore(dbPath string) (*BoltDBStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A locked file means another process holds it, usually after an
		// unclean shutdown. The operator has to stop that process.
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB checkpoint store initialized")

	return &BoltDBStore{db: db}, nil
}

// Get retrieves the checkpoint for a (guild, server, kind) triple
func (s *BoltDBStore) Get(ctx context.Context, guildID, serverID string, kind domain.ParserKind) (*domain.ParserCheckpoint, error) {
	var cp *domain.ParserCheckpoint

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(makeKey(guildID, serverID, kind)))
		if val == nil {
			return ErrNotFound
		}

		cp = &domain.ParserCheckpoint{}
		if err := json.Unmarshal(val, cp); err != nil {
			return fmt.Errorf("corrupt checkpoint value: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cp, nil
}

// Put replaces the checkpoint for its (guild, server, kind) triple
func (s *BoltDBStore) Put(ctx context.Context, cp *domain.ParserCheckpoint) error {
	if cp.GuildID == "" || cp.ServerID == "" || !cp.ParserKind.Valid() {
		return fmt.Errorf("invalid checkpoint key: guild=%q server=%q kind=%q", cp.GuildID, cp.ServerID, cp.ParserKind)
	}

	cp.UpdatedAt = time.Now().UTC()

	val, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(makeKey(cp.GuildID, cp.ServerID, cp.ParserKind)), val)
	})
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}

	log.Debug().
		Str("guild_id", cp.GuildID).
		Str("server_id", cp.ServerID).
		Str("kind", string(cp.ParserKind)).
		Str("file", cp.LastFile).
		Int64("offset", cp.LastByteOffset).
		Msg("Checkpoint updated")

	return nil
}

// Delete removes the checkpoint for a (guild, server, kind) triple
func (s *BoltDBStore) Delete(ctx context.Context, guildID, serverID string, kind domain.ParserKind) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(makeKey(guildID, serverID, kind)))
	})
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns all stored checkpoints
func (s *BoltDBStore) List(ctx context.Context) ([]*domain.ParserCheckpoint, error) {
	var result []*domain.ParserCheckpoint

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			cp := &domain.ParserCheckpoint{}
			if err := json.Unmarshal(v, cp); err != nil {
				log.Warn().Str("key", string(k)).Err(err).Msg("Skipping corrupt checkpoint")
				return nil
			}
			result = append(result, cp)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database
func (s *BoltDBStore) Close() error {
	log.Info().Msg("Closing BoltDB checkpoint store")
	return s.db.Close()
}

// makeKey creates a composite key from the checkpoint identity
func makeKey(guildID, serverID string, kind domain.ParserKind) string {
	return fmt.Sprintf("%s:%s:%s", guildID, serverID, kind)
}
