package sessionlock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/observability"
)

// Registry is the in-process single-flight guard for polling cycles. A lease
// is keyed by (guild, server, kind); a historical-kind lease additionally
// blocks the incremental kinds on the same server, and vice versa, because a
// full rebuild must not race with a tail over the same checkpoint family.
//
// The registry is run-lifetime state only: it is rebuilt empty on restart and
// is not a substitute for the durable checkpoint store.
type Registry struct {
	mu      sync.Mutex
	leases  map[leaseKey]time.Time
	timeout time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

type leaseKey struct {
	guildID  string
	serverID string
	kind     domain.ParserKind
}

// NewRegistry creates a registry whose leases expire after timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		leases:  make(map[leaseKey]time.Time),
		timeout: timeout,
		now:     time.Now,
	}
}

// TryAcquire attempts to take the lease for (guild, server, kind). It returns
// false without blocking when a conflicting unexpired lease exists.
func (r *Registry) TryAcquire(guildID, serverID string, kind domain.ParserKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, start := range r.leases {
		if key.guildID != guildID || key.serverID != serverID {
			continue
		}
		if now.Sub(start) >= r.timeout {
			continue // expired, reclaimable
		}
		if key.kind == kind || key.kind == domain.KindHistorical || kind == domain.KindHistorical {
			return false
		}
	}

	r.leases[leaseKey{guildID, serverID, kind}] = now
	return true
}

// Release drops the lease for (guild, server, kind). Releasing a lease that is
// not held is a no-op.
func (r *Registry) Release(guildID, serverID string, kind domain.ParserKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, leaseKey{guildID, serverID, kind})
}

// Held reports whether an unexpired lease exists for the exact key.
func (r *Registry) Held(guildID, serverID string, kind domain.ParserKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, ok := r.leases[leaseKey{guildID, serverID, kind}]
	return ok && r.now().Sub(start) < r.timeout
}

// Sweep removes leases older than the timeout and returns how many were
// reclaimed. Expired leases belong to crashed or hung workers.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	reclaimed := 0
	for key, start := range r.leases {
		if now.Sub(start) >= r.timeout {
			log.Warn().
				Str("guild_id", key.guildID).
				Str("server_id", key.serverID).
				Str("kind", string(key.kind)).
				Time("acquired_at", start).
				Msg("Reclaiming abandoned session lease")
			delete(r.leases, key)
			reclaimed++
		}
	}
	if reclaimed > 0 {
		observability.LocksAbandonedTotal.Add(float64(reclaimed))
	}
	return reclaimed
}

// StartSweeper runs Sweep on the given interval until the context is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
