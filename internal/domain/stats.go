package domain

import "sync/atomic"

// ProcessingPhase labels the stage a batch-processor run is currently in.
type ProcessingPhase int32

const (
	PhaseIdle ProcessingPhase = iota
	PhaseDiscovery
	PhaseCaching
	PhaseApplying
	PhaseDone
	PhaseFailed
)

// String returns the phase label used in logs.
func (p ProcessingPhase) String() string {
	switch p {
	case PhaseDiscovery:
		return "discovery"
	case PhaseCaching:
		return "caching"
	case PhaseApplying:
		return "applying"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ProcessingStats holds run-scoped counters for one batch-processor or tail
// cycle. Counters are atomic so a status endpoint can read them while the run
// is in flight.
type ProcessingStats struct {
	FilesDiscovered atomic.Int64
	FilesCached     atomic.Int64
	LinesRead       atomic.Int64
	ValidRecords    atomic.Int64
	InvalidRecords  atomic.Int64
	BatchesApplied  atomic.Int64
	Errors          atomic.Int64

	phase atomic.Int32
}

// SetPhase records the current processing phase.
func (s *ProcessingStats) SetPhase(p ProcessingPhase) { s.phase.Store(int32(p)) }

// Phase returns the current processing phase.
func (s *ProcessingStats) Phase() ProcessingPhase { return ProcessingPhase(s.phase.Load()) }
