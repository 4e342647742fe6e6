package sessionlock

import (
	"sync"
	"testing"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

func TestTryAcquire_SingleFlight(t *testing.T) {
	r := NewRegistry(time.Hour)

	if !r.TryAcquire("g1", "s1", domain.KindHistorical) {
		t.Fatal("first acquire should succeed")
	}
	if r.TryAcquire("g1", "s1", domain.KindHistorical) {
		t.Error("second acquire of held lease should fail")
	}

	r.Release("g1", "s1", domain.KindHistorical)
	if !r.TryAcquire("g1", "s1", domain.KindHistorical) {
		t.Error("acquire after release should succeed")
	}
}

func TestTryAcquire_HistoricalBlocksOtherKinds(t *testing.T) {
	r := NewRegistry(time.Hour)

	if !r.TryAcquire("g1", "s1", domain.KindHistorical) {
		t.Fatal("historical acquire should succeed")
	}
	if r.TryAcquire("g1", "s1", domain.KindKillfeed) {
		t.Error("killfeed should be blocked while historical lease is held")
	}
	if r.TryAcquire("g1", "s1", domain.KindUnified) {
		t.Error("unified should be blocked while historical lease is held")
	}

	// Other servers are unaffected.
	if !r.TryAcquire("g1", "s2", domain.KindKillfeed) {
		t.Error("other server should not be blocked")
	}
}

func TestTryAcquire_IncrementalKindsDoNotBlockEachOther(t *testing.T) {
	r := NewRegistry(time.Hour)

	if !r.TryAcquire("g1", "s1", domain.KindKillfeed) {
		t.Fatal("killfeed acquire should succeed")
	}
	if !r.TryAcquire("g1", "s1", domain.KindUnified) {
		t.Error("unified should not be blocked by killfeed")
	}

	// But historical is blocked by any held incremental lease.
	if r.TryAcquire("g1", "s1", domain.KindHistorical) {
		t.Error("historical should be blocked while incremental leases are held")
	}
}

func TestTryAcquire_ExpiredLeaseIsReclaimable(t *testing.T) {
	r := NewRegistry(time.Hour)
	current := time.Now()
	r.now = func() time.Time { return current }

	if !r.TryAcquire("g1", "s1", domain.KindKillfeed) {
		t.Fatal("acquire should succeed")
	}

	current = current.Add(2 * time.Hour)
	if !r.TryAcquire("g1", "s1", domain.KindKillfeed) {
		t.Error("acquire should succeed once the previous lease expired")
	}
}

func TestSweep_ReclaimsOnlyExpired(t *testing.T) {
	r := NewRegistry(time.Hour)
	current := time.Now()
	r.now = func() time.Time { return current }

	r.TryAcquire("g1", "s1", domain.KindKillfeed)
	current = current.Add(30 * time.Minute)
	r.TryAcquire("g1", "s2", domain.KindKillfeed)

	current = current.Add(45 * time.Minute) // first lease now 75m old, second 45m
	if got := r.Sweep(); got != 1 {
		t.Errorf("expected 1 reclaimed lease, got %d", got)
	}
	if !r.Held("g1", "s2", domain.KindKillfeed) {
		t.Error("unexpired lease should survive the sweep")
	}
}

func TestTryAcquire_Concurrent(t *testing.T) {
	r := NewRegistry(time.Hour)

	const goroutines = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire("g1", "s1", domain.KindHistorical) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one winner, got %d", count)
	}
}
