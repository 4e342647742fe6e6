// Package orchestrator drives the per-cycle processing of every configured
// server: acquire the session lock, lease a pooled connection, run the
// kind-specific tail or rebuild, deliver events, then commit the checkpoint.
// The checkpoint write is the last step of a cycle on purpose: anything that
// fails before it leaves the stored progress untouched and the same byte
// range is reprocessed next time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arkadian-hale/deadside-ingest/internal/checkpoint"
	"github.com/arkadian-hale/deadside-ingest/internal/config"
	"github.com/arkadian-hale/deadside-ingest/internal/discovery"
	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/extract"
	"github.com/arkadian-hale/deadside-ingest/internal/killarchive"
	"github.com/arkadian-hale/deadside-ingest/internal/notify"
	"github.com/arkadian-hale/deadside-ingest/internal/observability"
	"github.com/arkadian-hale/deadside-ingest/internal/replay"
	"github.com/arkadian-hale/deadside-ingest/internal/sessionlock"
	"github.com/arkadian-hale/deadside-ingest/internal/sftppool"
	"github.com/arkadian-hale/deadside-ingest/internal/stats"
)

// errLockBusy marks a cycle skipped because another cycle of the same scope
// is still running. Not a fault.
var errLockBusy = errors.New("session lock busy")

// serverState is the in-memory state the orchestrator keeps per
// (guild, server) across cycles: the player lifecycle roster and the live
// kill-streak board. Both are rebuilt from history on cold start.
type serverState struct {
	roster  *Roster
	streaks *replay.StreakBoard

	// rosterPrimed records that the roster has been rebuilt from the
	// checkpointed log prefix since this process started. Only the unified
	// tail touches it, single-flighted by the session lock.
	rosterPrimed bool
}

// Orchestrator coordinates all parser kinds over the configured servers.
type Orchestrator struct {
	pool       *sftppool.Pool
	ckpts      checkpoint.Store
	locks      *sessionlock.Registry
	sink       notify.Sink
	stats      stats.Store
	archive    killarchive.Archive
	rebuild    *replay.Processor
	maxWorkers int

	mu     sync.Mutex
	states map[string]*serverState
}

// New creates an orchestrator over the given infrastructure.
func New(
	pool *sftppool.Pool,
	ckpts checkpoint.Store,
	locks *sessionlock.Registry,
	sink notify.Sink,
	statsStore stats.Store,
	archive killarchive.Archive,
	rebuild *replay.Processor,
	maxWorkers int,
) *Orchestrator {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Orchestrator{
		pool:       pool,
		ckpts:      ckpts,
		locks:      locks,
		sink:       sink,
		stats:      statsStore,
		archive:    archive,
		rebuild:    rebuild,
		maxWorkers: maxWorkers,
		states:     make(map[string]*serverState),
	}
}

func (o *Orchestrator) state(guildID, serverID string) *serverState {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := guildID + ":" + serverID
	st, ok := o.states[key]
	if !ok {
		st = &serverState{roster: NewRoster(), streaks: replay.NewStreakBoard()}
		o.states[key] = st
	}
	return st
}

// RunCycle processes every server for one parser kind with a bounded worker
// pool. Per-server failures are logged and counted but never abort the other
// servers; the next cycle retries from the unchanged checkpoint.
func (o *Orchestrator) RunCycle(ctx context.Context, kind domain.ParserKind, servers []config.ServerEndpoint) {
	cycleID := uuid.NewString()
	start := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "orchestrator.cycle",
		trace.WithAttributes(
			attribute.String("parser.kind", string(kind)),
			attribute.String("cycle.id", cycleID),
		))
	defer span.End()

	sem := make(chan struct{}, o.maxWorkers)
	var wg sync.WaitGroup

	for _, ep := range servers {
		select {
		case <-ctx.Done():
			log.Warn().Str("kind", string(kind)).Msg("Cycle interrupted by shutdown")
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(ep config.ServerEndpoint) {
			defer wg.Done()
			defer func() { <-sem }()

			err := o.ProcessServer(ctx, kind, ep)
			switch {
			case err == nil:
				observability.CyclesTotal.WithLabelValues(string(kind), "ok").Inc()
			case errors.Is(err, errLockBusy), errors.Is(err, sftppool.ErrCircuitOpen):
				observability.CyclesTotal.WithLabelValues(string(kind), "skipped").Inc()
				log.Debug().
					Str("cycle_id", cycleID).
					Str("guild_id", ep.GuildID).
					Str("server_id", ep.ServerID).
					Str("kind", string(kind)).
					Err(err).
					Msg("Server skipped this cycle")
			default:
				observability.CyclesTotal.WithLabelValues(string(kind), "error").Inc()
				log.Error().
					Str("cycle_id", cycleID).
					Str("guild_id", ep.GuildID).
					Str("server_id", ep.ServerID).
					Str("kind", string(kind)).
					Err(err).
					Msg("Server processing failed")
			}
		}(ep)
	}

	wg.Wait()
	log.Info().
		Str("cycle_id", cycleID).
		Str("kind", string(kind)).
		Int("servers", len(servers)).
		Dur("duration", time.Since(start)).
		Msg("Cycle finished")
}

// ProcessServer runs one parser kind against one server under its session
// lock and a pooled connection. Returns errLockBusy (via RunCycle's skip
// accounting) when another cycle of the same scope still holds the lock.
func (o *Orchestrator) ProcessServer(ctx context.Context, kind domain.ParserKind, ep config.ServerEndpoint) error {
	if !o.locks.TryAcquire(ep.GuildID, ep.ServerID, kind) {
		return errLockBusy
	}
	defer o.locks.Release(ep.GuildID, ep.ServerID, kind)

	conn, err := o.pool.Acquire(ctx, ep)
	if err != nil {
		return fmt.Errorf("acquire connection for %s: %w", ep.Addr(), err)
	}
	defer o.pool.Release(ep, conn)

	switch kind {
	case domain.KindHistorical:
		return o.runHistorical(ctx, ep, conn.Files())
	case domain.KindKillfeed:
		return o.tailKillfeed(ctx, ep, conn.Files())
	case domain.KindUnified:
		return o.tailUnified(ctx, ep, conn.Files())
	default:
		return fmt.Errorf("unknown parser kind %q", kind)
	}
}

// runHistorical rebuilds the whole kill history through the batch processor
// and, on success, commits both the historical checkpoint and a killfeed
// checkpoint at the end of the newest file. Advancing the killfeed marker
// keeps the incremental tail from re-applying rows the rebuild just wrote.
func (o *Orchestrator) runHistorical(ctx context.Context, ep config.ServerEndpoint, fc sftppool.FileClient) error {
	res, err := o.rebuild.Run(ctx, ep.GuildID, ep.ServerID, fc, ep.DeathlogPath())
	if err != nil {
		return fmt.Errorf("historical rebuild: %w", err)
	}
	if res.LastFile == "" {
		return nil // no history yet
	}

	now := time.Now().UTC()
	for _, kind := range []domain.ParserKind{domain.KindHistorical, domain.KindKillfeed} {
		cp := &domain.ParserCheckpoint{
			GuildID:            ep.GuildID,
			ServerID:           ep.ServerID,
			ParserKind:         kind,
			LastFile:           res.LastFile,
			LastLine:           res.LastLine,
			LastByteOffset:     res.LastOffset,
			LastEventTimestamp: res.LastEvent,
			UpdatedAt:          now,
		}
		if err := o.ckpts.Put(ctx, cp); err != nil {
			return fmt.Errorf("commit %s checkpoint: %w", kind, err)
		}
	}
	return nil
}

// tailKillfeed reads the delta of the newest death-log CSV, archives and
// aggregates the rows, publishes them on hot cycles, then commits the
// checkpoint. Cold start (no checkpoint) consumes the whole file without
// publishing so a fresh deployment never floods subscribers with history.
func (o *Orchestrator) tailKillfeed(ctx context.Context, ep config.ServerEndpoint, fc sftppool.FileClient) error {
	ref, ok, err := discovery.FindNewest(fc, ep.DeathlogPath(), ".csv")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // server has produced no death logs yet
		}
		return fmt.Errorf("discover death logs: %w", err)
	}
	if !ok {
		return nil
	}

	cold := false
	var offset, lineBase int64
	cp, err := o.ckpts.Get(ctx, ep.GuildID, ep.ServerID, domain.KindKillfeed)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		cold = true
	case err != nil:
		return fmt.Errorf("load killfeed checkpoint: %w", err)
	case cp.LastFile == ref.Path:
		offset = cp.LastByteOffset
		lineBase = cp.LastLine
		if ref.Size <= offset {
			return nil // no new bytes
		}
	default:
		// Rotation: a newer file appeared, start it from the top.
	}

	lines, lineCount, newOffset, err := readDelta(fc, ref.Path, offset)
	if err != nil {
		return err
	}
	if lineCount == 0 {
		return nil
	}

	var (
		events []domain.KillEvent
		lastTS time.Time
	)
	for _, line := range lines {
		observability.LinesReadTotal.WithLabelValues(string(domain.KindKillfeed)).Inc()
		ev, ok := extract.ParseKillLine(line, ref.Stamp)
		if !ok {
			observability.ParseErrorsTotal.WithLabelValues(string(domain.KindKillfeed)).Inc()
			continue
		}
		ev.SourceFile = ref.Path
		events = append(events, ev)
		if ev.Timestamp.After(lastTS) {
			lastTS = ev.Timestamp
		}
	}

	if len(events) > 0 {
		if err := o.archive.InsertKills(ctx, ep.GuildID, ep.ServerID, events); err != nil {
			return fmt.Errorf("archive kills: %w", err)
		}
		if err := o.stats.ApplyCounters(ctx, ep.GuildID, ep.ServerID, replay.AccumulateCounters(events)); err != nil {
			return fmt.Errorf("apply kill counters: %w", err)
		}

		board := o.state(ep.GuildID, ep.ServerID).streaks
		for _, ev := range events {
			board.Apply(ev)
		}
		if rows := board.FlushDirty(); len(rows) > 0 {
			if err := o.stats.UpsertStreaks(ctx, ep.GuildID, ep.ServerID, rows); err != nil {
				return fmt.Errorf("upsert streaks: %w", err)
			}
		}

		if !cold {
			for _, ev := range events {
				if err := o.sink.Publish(ctx, ep.GuildID, ep.ServerID, ev); err != nil {
					return fmt.Errorf("publish kill event: %w", err)
				}
			}
		}
	}

	return o.ckpts.Put(ctx, &domain.ParserCheckpoint{
		GuildID:            ep.GuildID,
		ServerID:           ep.ServerID,
		ParserKind:         domain.KindKillfeed,
		LastFile:           ref.Path,
		LastLine:           lineBase + lineCount,
		LastByteOffset:     newOffset,
		LastEventTimestamp: lastTS,
	})
}

// tailUnified reads the delta of the fixed-path server log, runs connection
// events through the per-server lifecycle roster (dedup first, then apply in
// embedded-timestamp order) and publishes the surviving transitions together
// with environment events. Cold start replays the whole file to rebuild the
// roster without publishing anything.
func (o *Orchestrator) tailUnified(ctx context.Context, ep config.ServerEndpoint, fc sftppool.FileClient) error {
	logPath := ep.UnifiedLogPath()
	fi, err := fc.Stat(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // log not created yet
		}
		return fmt.Errorf("stat %s: %w", logPath, err)
	}

	cold := false
	var offset, lineBase int64
	cp, err := o.ckpts.Get(ctx, ep.GuildID, ep.ServerID, domain.KindUnified)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		cold = true
	case err != nil:
		return fmt.Errorf("load unified checkpoint: %w", err)
	case cp.LastFile == logPath:
		offset = cp.LastByteOffset
		lineBase = cp.LastLine
		if fi.Size() < offset {
			// The server rotated or truncated the log in place.
			offset, lineBase = 0, 0
		} else if fi.Size() == offset {
			return nil
		}
	}

	state := o.state(ep.GuildID, ep.ServerID)
	if !cold && offset > 0 && !state.rosterPrimed {
		if err := primeRoster(state.roster, fc, logPath, offset); err != nil {
			return fmt.Errorf("rebuild roster for %s: %w", logPath, err)
		}
	}
	state.rosterPrimed = true

	lines, lineCount, newOffset, err := readDelta(fc, logPath, offset)
	if err != nil {
		return err
	}
	if lineCount == 0 {
		return nil
	}

	var (
		connEvents []domain.ConnectionEvent
		envEvents  []domain.Record
		lastTS     time.Time
	)
	fallbackTime := time.Now().UTC()
	for _, line := range lines {
		observability.LinesReadTotal.WithLabelValues(string(domain.KindUnified)).Inc()
		rec, ok := extract.ParseLogLine(line, fallbackTime)
		if !ok {
			continue // most unified log lines are simply not ours
		}
		switch ev := rec.(type) {
		case domain.ConnectionEvent:
			connEvents = append(connEvents, ev)
		default:
			envEvents = append(envEvents, rec)
		}
		if ts := rec.EventTime(); ts.After(lastTS) {
			lastTS = ts
		}
	}

	var emitted []domain.Record
	for _, ev := range DedupConnectionEvents(connEvents) {
		if out, ok := state.roster.Apply(ev); ok {
			emitted = append(emitted, out)
		}
	}
	emitted = append(emitted, envEvents...)
	sort.SliceStable(emitted, func(i, j int) bool {
		return emitted[i].EventTime().Before(emitted[j].EventTime())
	})

	if !cold {
		for _, rec := range emitted {
			if err := o.sink.Publish(ctx, ep.GuildID, ep.ServerID, rec); err != nil {
				return fmt.Errorf("publish server event: %w", err)
			}
		}
	} else if len(emitted) > 0 {
		log.Info().
			Str("guild_id", ep.GuildID).
			Str("server_id", ep.ServerID).
			Int("events", len(emitted)).
			Int("online", state.roster.OnlineCount()).
			Msg("Cold start: roster rebuilt, events suppressed")
	}

	return o.ckpts.Put(ctx, &domain.ParserCheckpoint{
		GuildID:            ep.GuildID,
		ServerID:           ep.ServerID,
		ParserKind:         domain.KindUnified,
		LastFile:           logPath,
		LastLine:           lineBase + lineCount,
		LastByteOffset:     newOffset,
		LastEventTimestamp: lastTS,
	})
}
