// Package service assembles the ingestion engine: storage, connection pool,
// orchestrator and one polling loop per parser kind.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arkadian-hale/deadside-ingest/internal/checkpoint"
	"github.com/arkadian-hale/deadside-ingest/internal/config"
	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/killarchive"
	"github.com/arkadian-hale/deadside-ingest/internal/notify"
	"github.com/arkadian-hale/deadside-ingest/internal/orchestrator"
	"github.com/arkadian-hale/deadside-ingest/internal/replay"
	"github.com/arkadian-hale/deadside-ingest/internal/sessionlock"
	"github.com/arkadian-hale/deadside-ingest/internal/sftppool"
	"github.com/arkadian-hale/deadside-ingest/internal/stats"
)

// sweepInterval drives the background reapers for abandoned session locks
// and dead pooled connections.
const sweepInterval = time.Minute

// IngestService owns the full processing stack and the per-kind polling
// loops. One instance runs per process.
type IngestService struct {
	cfg     *config.Config
	servers []config.ServerEndpoint

	pool    *sftppool.Pool
	ckpts   checkpoint.Store
	locks   *sessionlock.Registry
	archive killarchive.Archive
	stats   stats.Store
	sink    notify.Sink
	orch    *orchestrator.Orchestrator

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewIngestService builds the service from configuration. Every store is
// opened eagerly so a misconfigured deployment fails at startup, not on the
// first cycle.
func NewIngestService(cfg *config.Config) (*IngestService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	servers, err := config.LoadServers(cfg.ServersPath)
	if err != nil {
		return nil, fmt.Errorf("load server roster: %w", err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("server roster %s is empty", cfg.ServersPath)
	}

	archive, err := killarchive.NewClickHouseArchive(cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDB)
	if err != nil {
		return nil, fmt.Errorf("connect kill archive: %w", err)
	}

	statsStore, err := stats.NewSQLiteStore(cfg.StatsDBPath)
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("open stats store: %w", err)
	}

	ckpts, err := checkpoint.NewBoltDBStore(cfg.CheckpointDBPath)
	if err != nil {
		archive.Close()
		statsStore.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	var sink notify.Sink = notify.NopSink{}
	if cfg.NATSEnabled {
		sink, err = notify.NewNATSSink(cfg.NATSURL)
		if err != nil {
			archive.Close()
			statsStore.Close()
			ckpts.Close()
			return nil, fmt.Errorf("connect notification sink: %w", err)
		}
	}

	pool := sftppool.NewPool(sftppool.PoolConfig{
		MaxPerEndpoint:   cfg.PoolMaxPerEndpoint,
		AcquireTimeout:   cfg.AcquireTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		Strategies:       sftppool.DefaultStrategies(),
	}, sftppool.SSHDialer(cfg.DialTimeout))

	locks := sessionlock.NewRegistry(cfg.LockTimeout)
	proc := replay.NewProcessor(archive, statsStore, cfg.ReplayBatchSize)

	return &IngestService{
		cfg:      cfg,
		servers:  servers,
		pool:     pool,
		ckpts:    ckpts,
		locks:    locks,
		archive:  archive,
		stats:    statsStore,
		sink:     sink,
		orch:     orchestrator.New(pool, ckpts, locks, sink, statsStore, archive, proc, cfg.MaxWorkers),
		stopChan: make(chan struct{}),
	}, nil
}

// Start runs the polling loops until the context is cancelled or Stop is
// called. Each parser kind ticks on its own interval; the first cycle of each
// kind runs immediately so a restart does not wait a full interval to resume.
func (s *IngestService) Start(ctx context.Context) error {
	log.Info().
		Int("servers", len(s.servers)).
		Dur("killfeed_interval", s.cfg.KillfeedInterval).
		Dur("unified_interval", s.cfg.UnifiedInterval).
		Dur("historical_interval", s.cfg.HistoricalInterval).
		Msg("Ingest service starting")

	go s.locks.StartSweeper(ctx, sweepInterval)
	go s.pool.StartSweeper(ctx, sweepInterval)

	var wg sync.WaitGroup
	loops := []struct {
		kind     domain.ParserKind
		interval time.Duration
	}{
		{domain.KindUnified, s.cfg.UnifiedInterval},
		{domain.KindKillfeed, s.cfg.KillfeedInterval},
		{domain.KindHistorical, s.cfg.HistoricalInterval},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(kind domain.ParserKind, interval time.Duration) {
			defer wg.Done()
			s.runLoop(ctx, kind, interval)
		}(loop.kind, loop.interval)
	}

	wg.Wait()
	return ctx.Err()
}

func (s *IngestService) runLoop(ctx context.Context, kind domain.ParserKind, interval time.Duration) {
	s.orch.RunCycle(ctx, kind, s.servers)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.orch.RunCycle(ctx, kind, s.servers)
		case <-s.stopChan:
			log.Info().Str("kind", string(kind)).Msg("Polling loop stopped")
			return
		case <-ctx.Done():
			log.Info().Str("kind", string(kind)).Msg("Polling loop context cancelled")
			return
		}
	}
}

// Stop shuts the service down: polling loops first, then every connection
// and store. Safe to call more than once.
func (s *IngestService) Stop() error {
	var firstErr error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.pool.Close()

		for _, c := range []struct {
			name  string
			close func() error
		}{
			{"notification sink", s.sink.Close},
			{"checkpoint store", s.ckpts.Close},
			{"stats store", s.stats.Close},
			{"kill archive", s.archive.Close},
		} {
			if err := c.close(); err != nil {
				log.Error().Err(err).Str("component", c.name).Msg("Error closing component")
				if firstErr == nil {
					firstErr = fmt.Errorf("close %s: %w", c.name, err)
				}
			}
		}
	})
	return firstErr
}
