package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/sftppool"
	"github.com/arkadian-hale/deadside-ingest/internal/stats"
)

type fakeArchive struct {
	mu       sync.Mutex
	inserted []domain.KillEvent
	failOn   int // fail the n-th InsertKills call (1-based), 0 = never
	calls    int
}

func (a *fakeArchive) InsertKills(ctx context.Context, guildID, serverID string, events []domain.KillEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failOn != 0 && a.calls == a.failOn {
		return errors.New("archive unavailable")
	}
	a.inserted = append(a.inserted, events...)
	return nil
}

func (a *fakeArchive) Close() error { return nil }

type fakeStats struct {
	mu       sync.Mutex
	counters map[string]*stats.CounterDelta
	streaks  map[string]stats.StreakRow
}

func newFakeStats() *fakeStats {
	return &fakeStats{
		counters: make(map[string]*stats.CounterDelta),
		streaks:  make(map[string]stats.StreakRow),
	}
}

func (s *fakeStats) ApplyCounters(ctx context.Context, guildID, serverID string, deltas []stats.CounterDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		cur, ok := s.counters[d.PlayerID]
		if !ok {
			cur = &stats.CounterDelta{PlayerID: d.PlayerID}
			s.counters[d.PlayerID] = cur
		}
		cur.Kills += d.Kills
		cur.Deaths += d.Deaths
		cur.Suicides += d.Suicides
		cur.DistanceTotal += d.DistanceTotal
	}
	return nil
}

func (s *fakeStats) UpsertStreaks(ctx context.Context, guildID, serverID string, rows []stats.StreakRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		prev := s.streaks[r.PlayerID]
		if r.BestStreak < prev.BestStreak {
			r.BestStreak = prev.BestStreak
		}
		if r.LongestShot < prev.LongestShot {
			r.LongestShot = prev.LongestShot
		}
		s.streaks[r.PlayerID] = r
	}
	return nil
}

func (s *fakeStats) Close() error { return nil }

func killLine(ts time.Time, killer, killerID, victim, victimID, weapon string, distance int) string {
	return fmt.Sprintf("%s;%s;%s;%s;%s;%s;%d;PC;PC\n",
		ts.Format("2006.01.02-15.04.05"), killer, killerID, victim, victimID, weapon, distance)
}

func seedHistory(fs *sftppool.MemClient) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Newer events deliberately live in the older-stamped file so the
	// chronological sort has to repair the ordering.
	fs.Append("deathlogs/2025.06.01-00.00.00.csv", []byte(killLine(base.Add(3*time.Minute), "Alice", "id1", "Cara", "id3", "AK74", 120)))
	fs.Append("deathlogs/2025.06.01-00.00.00.csv", []byte(killLine(base, "Alice", "id1", "Bob", "id2", "AK74", 100)))
	fs.Append("deathlogs/world_1/2025.06.02-00.00.00.csv", []byte(killLine(base.Add(1*time.Minute), "Alice", "id1", "Bob", "id2", "MP5", 50)))
	fs.Append("deathlogs/world_1/2025.06.02-00.00.00.csv", []byte(killLine(base.Add(2*time.Minute), "Bob", "id2", "Alice", "id1", "SVD", 300)))
	fs.Append("deathlogs/world_1/2025.06.02-00.00.00.csv", []byte("short;row\n"))
}

func TestRun_FullHistory(t *testing.T) {
	fs := sftppool.NewMemClient()
	seedHistory(fs)
	archive := &fakeArchive{}
	store := newFakeStats()

	p := NewProcessor(archive, store, 2)
	result, err := p.Run(context.Background(), "g1", "s1", fs, "deathlogs")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := result.Stats.FilesDiscovered.Load(); got != 2 {
		t.Errorf("expected 2 files discovered, got %d", got)
	}
	if got := result.Stats.ValidRecords.Load(); got != 4 {
		t.Errorf("expected 4 valid records, got %d", got)
	}
	if got := result.Stats.InvalidRecords.Load(); got != 1 {
		t.Errorf("expected 1 invalid record, got %d", got)
	}
	if len(archive.inserted) != 4 {
		t.Errorf("expected 4 archived rows, got %d", len(archive.inserted))
	}

	// Chronological order across files: AK74@+0, MP5@+1m, SVD@+2m, AK74@+3m.
	for i := 1; i < len(archive.inserted); i++ {
		if archive.inserted[i].Timestamp.Before(archive.inserted[i-1].Timestamp) {
			t.Fatalf("archive rows not in chronological order at %d", i)
		}
	}

	// Alice: kills at +0 and +1m, died at +2m (streak reset), kill at +3m.
	alice := store.streaks["id1"]
	if alice.BestStreak != 2 {
		t.Errorf("expected Alice best streak 2, got %d", alice.BestStreak)
	}
	if alice.CurrentStreak != 1 {
		t.Errorf("expected Alice current streak 1, got %d", alice.CurrentStreak)
	}
	if alice.LongestShot != 120 {
		t.Errorf("expected Alice longest shot 120, got %f", alice.LongestShot)
	}

	if c := store.counters["id1"]; c.Kills != 3 || c.Deaths != 1 {
		t.Errorf("expected Alice kills=3 deaths=1, got %+v", c)
	}

	if result.LastFile != "deathlogs/world_1/2025.06.02-00.00.00.csv" {
		t.Errorf("unexpected last file %s", result.LastFile)
	}
}

func TestRun_BatchSizeDoesNotChangeStreaks(t *testing.T) {
	runWith := func(batchSize int) map[string]stats.StreakRow {
		fs := sftppool.NewMemClient()
		seedHistory(fs)
		store := newFakeStats()
		p := NewProcessor(&fakeArchive{}, store, batchSize)
		if _, err := p.Run(context.Background(), "g1", "s1", fs, "deathlogs"); err != nil {
			t.Fatalf("run with batch size %d failed: %v", batchSize, err)
		}
		return store.streaks
	}

	one := runWith(1)
	big := runWith(250)

	if len(one) != len(big) {
		t.Fatalf("player count differs: %d vs %d", len(one), len(big))
	}
	for id, a := range one {
		b := big[id]
		if a.CurrentStreak != b.CurrentStreak || a.BestStreak != b.BestStreak || a.LongestShot != b.LongestShot {
			t.Errorf("streaks differ for %s: batch1=%+v batch250=%+v", id, a, b)
		}
	}
}

func TestRun_MidBatchFailureFailsWholeRun(t *testing.T) {
	fs := sftppool.NewMemClient()
	seedHistory(fs)
	archive := &fakeArchive{failOn: 2}
	store := newFakeStats()

	p := NewProcessor(archive, store, 1)
	_, err := p.Run(context.Background(), "g1", "s1", fs, "deathlogs")
	if err == nil {
		t.Fatal("expected run to fail")
	}
}

func TestRun_UnterminatedFinalLineStaysUnconsumed(t *testing.T) {
	fs := sftppool.NewMemClient()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	complete := killLine(base, "Alice", "id1", "Bob", "id2", "AK74", 100)
	partial := strings.TrimSuffix(killLine(base.Add(time.Minute), "Bob", "id2", "Alice", "id1", "MP5", 50), "\n")
	fs.WriteFile("deathlogs/2025.06.01-00.00.00.csv", []byte(complete+partial))

	archive := &fakeArchive{}
	p := NewProcessor(archive, newFakeStats(), 10)
	result, err := p.Run(context.Background(), "g1", "s1", fs, "deathlogs")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	fileSize := int64(len(complete) + len(partial))
	if result.LastOffset > fileSize {
		t.Errorf("LastOffset %d exceeds file size %d", result.LastOffset, fileSize)
	}
	if result.LastOffset != int64(len(complete)) {
		t.Errorf("LastOffset = %d, want %d (through the last newline)", result.LastOffset, len(complete))
	}
	if result.LastLine != 1 {
		t.Errorf("LastLine = %d, want 1", result.LastLine)
	}
	// The in-flight line is left for the incremental tail.
	if len(archive.inserted) != 1 {
		t.Errorf("archived %d rows, want 1", len(archive.inserted))
	}
}

func TestRun_CRLFOffsetMatchesConsumedBytes(t *testing.T) {
	fs := sftppool.NewMemClient()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	content := strings.TrimSuffix(killLine(base, "Alice", "id1", "Bob", "id2", "AK74", 100), "\n") + "\r\n" +
		strings.TrimSuffix(killLine(base.Add(time.Minute), "Bob", "id2", "Alice", "id1", "MP5", 50), "\n") + "\r\n"
	fs.WriteFile("deathlogs/2025.06.01-00.00.00.csv", []byte(content))

	archive := &fakeArchive{}
	p := NewProcessor(archive, newFakeStats(), 10)
	result, err := p.Run(context.Background(), "g1", "s1", fs, "deathlogs")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.LastOffset != int64(len(content)) {
		t.Errorf("LastOffset = %d, want file size %d", result.LastOffset, len(content))
	}
	if len(archive.inserted) != 2 {
		t.Errorf("archived %d rows, want 2", len(archive.inserted))
	}
}

func TestRun_EmptyTree(t *testing.T) {
	fs := sftppool.NewMemClient()
	p := NewProcessor(&fakeArchive{}, newFakeStats(), 10)

	result, err := p.Run(context.Background(), "g1", "s1", fs, "deathlogs")
	if err != nil {
		t.Fatalf("empty tree must not error: %v", err)
	}
	if result.Stats.FilesDiscovered.Load() != 0 {
		t.Errorf("expected no files, got %d", result.Stats.FilesDiscovered.Load())
	}
}

func TestRun_CancelledBetweenBatches(t *testing.T) {
	fs := sftppool.NewMemClient()
	seedHistory(fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(&fakeArchive{}, newFakeStats(), 1)
	if _, err := p.Run(ctx, "g1", "s1", fs, "deathlogs"); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestStreakBoard_SuicideResetsOnlyCurrent(t *testing.T) {
	board := NewStreakBoard()

	board.Apply(domain.KillEvent{KillerID: "id1", Killer: "Alice", VictimID: "id2", Victim: "Bob", Distance: 10})
	board.Apply(domain.KillEvent{KillerID: "id1", Killer: "Alice", VictimID: "id3", Victim: "Cara", Distance: 20})
	board.Apply(domain.KillEvent{KillerID: "id1", Killer: "Alice", VictimID: "id1", Victim: "Alice", Suicide: true, Weapon: "Menu Suicide"})

	snap := board.Snapshot()
	var alice domain.PlayerStreakState
	for _, p := range snap {
		if p.PlayerID == "id1" {
			alice = p
		}
	}
	if alice.CurrentStreak != 0 {
		t.Errorf("suicide must reset current streak, got %d", alice.CurrentStreak)
	}
	if alice.BestStreak != 2 {
		t.Errorf("suicide must not touch best streak, got %d", alice.BestStreak)
	}
}

func TestAccumulateCounters(t *testing.T) {
	batch := []domain.KillEvent{
		{KillerID: "id1", Killer: "Alice", VictimID: "id2", Victim: "Bob", Distance: 100},
		{KillerID: "id1", Killer: "Alice", VictimID: "id2", Victim: "Bob", Distance: 50},
		{KillerID: "id1", Killer: "Alice", VictimID: "id1", Victim: "Alice", Suicide: true},
	}

	deltas := AccumulateCounters(batch)
	if len(deltas) != 2 {
		t.Fatalf("expected 2 players, got %d", len(deltas))
	}

	var alice, bob stats.CounterDelta
	for _, d := range deltas {
		switch d.PlayerID {
		case "id1":
			alice = d
		case "id2":
			bob = d
		}
	}
	if alice.Kills != 2 || alice.Suicides != 1 || alice.DistanceTotal != 150 {
		t.Errorf("unexpected Alice delta: %+v", alice)
	}
	if bob.Deaths != 2 {
		t.Errorf("unexpected Bob delta: %+v", bob)
	}
}
