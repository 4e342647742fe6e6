package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

func newTestStore(t *testing.T) *BoltDBStore {
	t.Helper()
	store, err := NewBoltDBStore(filepath.Join(t.TempDir(), "ckpt.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltDBStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "g1", "s1", domain.KindKillfeed)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBoltDBStore_PutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp := &domain.ParserCheckpoint{
		GuildID:            "g1",
		ServerID:           "s1",
		ParserKind:         domain.KindKillfeed,
		LastFile:           "deathlogs/2025.06.03-01.45.48.csv",
		LastLine:           120,
		LastByteOffset:     4096,
		LastEventTimestamp: time.Date(2025, 6, 3, 1, 45, 48, 0, time.UTC),
	}
	if err := store.Put(ctx, cp); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "g1", "s1", domain.KindKillfeed)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastFile != cp.LastFile || got.LastByteOffset != 4096 || got.LastLine != 120 {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set on Put")
	}

	// Different kind on the same server is a separate row.
	if _, err := store.Get(ctx, "g1", "s1", domain.KindUnified); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other kind, got %v", err)
	}
}

func TestBoltDBStore_PutReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &domain.ParserCheckpoint{
		GuildID: "g1", ServerID: "s1", ParserKind: domain.KindUnified,
		LastFile: "Logs/Deadside.log", LastByteOffset: 100,
	}
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	second := &domain.ParserCheckpoint{
		GuildID: "g1", ServerID: "s1", ParserKind: domain.KindUnified,
		LastFile: "Logs/Deadside.log", LastByteOffset: 900,
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := store.Get(ctx, "g1", "s1", domain.KindUnified)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastByteOffset != 900 {
		t.Errorf("expected full replace, got offset %d", got.LastByteOffset)
	}
}

func TestBoltDBStore_DeleteAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, kind := range []domain.ParserKind{domain.KindKillfeed, domain.KindHistorical} {
		cp := &domain.ParserCheckpoint{GuildID: "g1", ServerID: "s1", ParserKind: kind}
		if err := store.Put(ctx, cp); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(all))
	}

	if err := store.Delete(ctx, "g1", "s1", domain.KindHistorical); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "g1", "s1", domain.KindHistorical); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBoltDBStore_RejectsInvalidKey(t *testing.T) {
	store := newTestStore(t)

	err := store.Put(context.Background(), &domain.ParserCheckpoint{GuildID: "g1"})
	if err == nil {
		t.Error("expected error for checkpoint without server/kind")
	}
}
