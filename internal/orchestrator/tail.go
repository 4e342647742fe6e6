package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/extract"
	"github.com/arkadian-hale/deadside-ingest/internal/sftppool"
)

// readDelta reads path from offset to EOF and cuts the result at the last
// newline, so a line the game server is still writing stays untouched for the
// next cycle. Returns the non-blank complete lines, the physical line count
// of the consumed region (blank lines included, so checkpoint line numbers
// match the file) and the absolute offset of the last consumed byte.
func readDelta(fc sftppool.FileClient, path string, offset int64) ([]string, int64, int64, error) {
	f, err := fc.Open(path)
	if err != nil {
		return nil, 0, offset, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, 0, offset, fmt.Errorf("seek %s to %d: %w", path, offset, err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if len(data) == 0 {
			return nil, 0, offset, fmt.Errorf("read %s: %w", path, err)
		}
		// Partial read over a flaky transport: the bytes already received are
		// a valid shorter delta, work with those.
		log.Warn().Str("file", path).Int("bytes", len(data)).Err(err).
			Msg("Partial remote read, continuing with received bytes")
	}
	if len(data) == 0 {
		return nil, 0, offset, nil
	}

	cut := bytes.LastIndexByte(data, '\n')
	if cut < 0 {
		// No complete line yet; wait for the writer to finish it.
		return nil, 0, offset, nil
	}
	consumed := int64(cut + 1)

	raw := strings.Split(string(data[:cut]), "\n")
	lines := make([]string, 0, len(raw))
	for _, r := range raw {
		line := strings.TrimRight(r, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, int64(len(raw)), offset + consumed, nil
}

// primeRoster replays the already-checkpointed prefix of the unified log
// through the roster without emitting anything. The roster lives only in
// process memory: after a restart the checkpoint is intact but the joined set
// is empty, and without this replay every disconnect landing after the
// restart would be guarded off as never joined.
func primeRoster(roster *Roster, fc sftppool.FileClient, path string, offset int64) error {
	f, err := fc.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data := make([]byte, offset)
	if _, err := io.ReadFull(f, data); err != nil {
		return fmt.Errorf("read %d checkpointed bytes of %s: %w", offset, path, err)
	}

	var events []domain.ConnectionEvent
	fallbackTime := time.Now().UTC()
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(raw, "\r")
		if line == "" {
			continue
		}
		rec, ok := extract.ParseLogLine(line, fallbackTime)
		if !ok {
			continue
		}
		if ev, isConn := rec.(domain.ConnectionEvent); isConn {
			events = append(events, ev)
		}
	}

	for _, ev := range DedupConnectionEvents(events) {
		roster.Apply(ev)
	}

	log.Info().
		Str("file", path).
		Int64("bytes", offset).
		Int("online", roster.OnlineCount()).
		Msg("Roster rebuilt from checkpointed log prefix")
	return nil
}
