// Package replay implements the three-phase chronological batch processor:
// discover every historical death-log file, parse and cache all records, then
// replay them sorted by true event time in fixed-size batches. The sort is
// what repairs cross-file and intra-file ordering noise; the batch barrier is
// what keeps a failed run from advancing any checkpoint.
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/arkadian-hale/deadside-ingest/internal/discovery"
	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/extract"
	"github.com/arkadian-hale/deadside-ingest/internal/killarchive"
	"github.com/arkadian-hale/deadside-ingest/internal/observability"
	"github.com/arkadian-hale/deadside-ingest/internal/sftppool"
	"github.com/arkadian-hale/deadside-ingest/internal/stats"
)

// DefaultBatchSize is the number of records applied per batch barrier.
const DefaultBatchSize = 250

// Processor runs full-history rebuilds for one server at a time.
type Processor struct {
	archive   killarchive.Archive
	stats     stats.Store
	batchSize int
}

// NewProcessor creates a batch processor writing to the given stores.
func NewProcessor(archive killarchive.Archive, store stats.Store, batchSize int) *Processor {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Processor{archive: archive, stats: store, batchSize: batchSize}
}

// RunResult summarizes a completed run. Only a fully successful run produces
// one; the orchestrator derives the historical checkpoint from it.
type RunResult struct {
	Stats      *domain.ProcessingStats
	LastFile   string
	LastLine   int64
	LastOffset int64
	LastEvent  time.Time
	Duration   time.Duration
}

// Run executes the three phases for one server. Each phase is a hard barrier:
// caching never starts before discovery completes, application never starts
// before every file is cached and sorted. A mid-batch failure fails the whole
// run and nothing signals progress to the caller.
func (p *Processor) Run(ctx context.Context, guildID, serverID string, fc sftppool.FileClient, deathlogRoot string) (*RunResult, error) {
	start := time.Now()
	runStats := &domain.ProcessingStats{}

	ctx, span := observability.Tracer().Start(ctx, "replay.Run")
	span.SetAttributes(attribute.String("guild_id", guildID), attribute.String("server_id", serverID))
	defer span.End()

	// Phase 1: discovery.
	runStats.SetPhase(domain.PhaseDiscovery)
	refs, err := discovery.ListAll(fc, deathlogRoot, ".csv")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			refs = nil
		} else {
			runStats.Errors.Add(1)
			runStats.SetPhase(domain.PhaseFailed)
			return nil, fmt.Errorf("discovery phase failed: %w", err)
		}
	}
	runStats.FilesDiscovered.Store(int64(len(refs)))

	if len(refs) == 0 {
		runStats.SetPhase(domain.PhaseDone)
		log.Info().
			Str("guild_id", guildID).
			Str("server_id", serverID).
			Msg("No historical files to process")
		return &RunResult{Stats: runStats, Duration: time.Since(start)}, nil
	}

	// Phase 2: cache and sort.
	runStats.SetPhase(domain.PhaseCaching)
	records, lastLine, lastOffset, err := p.cacheAll(ctx, fc, refs, runStats)
	if err != nil {
		runStats.Errors.Add(1)
		runStats.SetPhase(domain.PhaseFailed)
		return nil, fmt.Errorf("caching phase failed: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	// Phase 3: chronological application.
	runStats.SetPhase(domain.PhaseApplying)
	lastEvent, err := p.applyBatches(ctx, guildID, serverID, records, runStats)
	if err != nil {
		runStats.Errors.Add(1)
		runStats.SetPhase(domain.PhaseFailed)
		return nil, fmt.Errorf("application phase failed: %w", err)
	}

	runStats.SetPhase(domain.PhaseDone)
	result := &RunResult{
		Stats:      runStats,
		LastFile:   refs[len(refs)-1].Path,
		LastLine:   lastLine,
		LastOffset: lastOffset,
		LastEvent:  lastEvent,
		Duration:   time.Since(start),
	}

	log.Info().
		Str("guild_id", guildID).
		Str("server_id", serverID).
		Int("files", len(refs)).
		Int64("records", runStats.ValidRecords.Load()).
		Dur("duration", result.Duration).
		Msg("Historical run complete")
	return result, nil
}

// cacheAll reads and parses every file, tagging records with their source
// file. Returns the physical line count and consumed byte offset of the
// newest file for the checkpoint.
func (p *Processor) cacheAll(ctx context.Context, fc sftppool.FileClient, refs []discovery.FileRef, runStats *domain.ProcessingStats) ([]domain.KillEvent, int64, int64, error) {
	var records []domain.KillEvent
	var lastLine, lastOffset int64

	for _, ref := range refs {
		if ctx.Err() != nil {
			return nil, 0, 0, ctx.Err()
		}

		lines, lineCount, consumed, err := readFileLines(fc, ref.Path)
		if err != nil {
			return nil, 0, 0, err
		}

		var lineNo int64
		for _, line := range lines {
			lineNo++
			runStats.LinesRead.Add(1)
			if strings.TrimSpace(line) == "" {
				continue
			}

			ev, ok := extract.ParseKillLine(line, ref.Stamp)
			if !ok {
				runStats.InvalidRecords.Add(1)
				log.Debug().Str("file", ref.Path).Int64("line", lineNo).Msg("Skipping malformed kill record")
				continue
			}
			ev.SourceFile = ref.Path
			records = append(records, ev)
			runStats.ValidRecords.Add(1)
		}

		runStats.FilesCached.Add(1)
		lastLine, lastOffset = lineCount, consumed
	}

	return records, lastLine, lastOffset, nil
}

// readFileLines reads a whole remote file and cuts it at the last newline, so
// an unterminated final line the server is still writing stays unconsumed for
// the incremental tail, and the reported offset never exceeds the bytes
// actually read. Returns the complete lines, the physical line count and the
// consumed byte offset; CRLF terminators are included in the offset.
func readFileLines(fc sftppool.FileClient, path string) ([]string, int64, int64, error) {
	f, err := fc.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cut := bytes.LastIndexByte(data, '\n')
	if cut < 0 {
		return nil, 0, 0, nil
	}

	raw := strings.Split(string(data[:cut]), "\n")
	lines := make([]string, len(raw))
	for i, r := range raw {
		lines[i] = strings.TrimRight(r, "\r")
	}
	return lines, int64(len(raw)), int64(cut + 1), nil
}

// applyBatches processes the sorted records in fixed-size batches. Per batch,
// the order-independent bulk path (raw rows + additive counters) and the
// order-dependent sequential streak path must both succeed before the next
// batch starts. Cancellation is honored between batches, never inside one.
func (p *Processor) applyBatches(ctx context.Context, guildID, serverID string, records []domain.KillEvent, runStats *domain.ProcessingStats) (time.Time, error) {
	board := NewStreakBoard()
	var lastEvent time.Time

	for begin := 0; begin < len(records); begin += p.batchSize {
		if err := ctx.Err(); err != nil {
			return time.Time{}, fmt.Errorf("run cancelled: %w", err)
		}

		end := begin + p.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[begin:end]

		// Order-independent bulk path.
		if err := p.archive.InsertKills(ctx, guildID, serverID, batch); err != nil {
			return time.Time{}, fmt.Errorf("batch %d archive insert failed: %w", begin/p.batchSize, err)
		}
		if err := p.stats.ApplyCounters(ctx, guildID, serverID, AccumulateCounters(batch)); err != nil {
			return time.Time{}, fmt.Errorf("batch %d counter upsert failed: %w", begin/p.batchSize, err)
		}

		// Order-dependent sequential path.
		for _, ev := range batch {
			board.Apply(ev)
		}
		if err := p.stats.UpsertStreaks(ctx, guildID, serverID, board.FlushDirty()); err != nil {
			return time.Time{}, fmt.Errorf("batch %d streak flush failed: %w", begin/p.batchSize, err)
		}

		runStats.BatchesApplied.Add(1)
		observability.BatchesAppliedTotal.Inc()
		lastEvent = batch[len(batch)-1].Timestamp
	}

	return lastEvent, nil
}

// AccumulateCounters folds a batch into per-player additive deltas. The fold
// is order-independent by construction, which is what allows the bulk upsert
// path to run grouped instead of row by row.
func AccumulateCounters(batch []domain.KillEvent) []stats.CounterDelta {
	byPlayer := make(map[string]*stats.CounterDelta)
	get := func(id, name string) *stats.CounterDelta {
		d, ok := byPlayer[id]
		if !ok {
			d = &stats.CounterDelta{PlayerID: id}
			byPlayer[id] = d
		}
		if name != "" {
			d.Name = name
		}
		return d
	}

	for _, ev := range batch {
		if ev.Suicide {
			get(ev.KillerID, ev.Killer).Suicides++
			continue
		}
		killer := get(ev.KillerID, ev.Killer)
		killer.Kills++
		killer.DistanceTotal += ev.Distance
		get(ev.VictimID, ev.Victim).Deaths++
	}

	out := make([]stats.CounterDelta, 0, len(byPlayer))
	for _, d := range byPlayer {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}
