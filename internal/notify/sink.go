// Package notify hands ordered events to the external delivery collaborator.
// The sink owns nothing about formatting or throttling; it only guarantees
// that events of one cycle are published in the order they are handed over.
package notify

import (
	"context"
	"sync"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

// Sink accepts the typed events produced by a polling cycle.
type Sink interface {
	Publish(ctx context.Context, guildID, serverID string, rec domain.Record) error
	Close() error
}

// NopSink discards all events. Used when no delivery backend is configured
// and during cold starts.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, guildID, serverID string, rec domain.Record) error {
	return nil
}

func (NopSink) Close() error { return nil }

// MemorySink records published events in order. Test double.
type MemorySink struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// PublishedEvent is one captured Publish call.
type PublishedEvent struct {
	GuildID  string
	ServerID string
	Record   domain.Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(ctx context.Context, guildID, serverID string, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, PublishedEvent{GuildID: guildID, ServerID: serverID, Record: rec})
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []PublishedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublishedEvent, len(s.events))
	copy(out, s.events)
	return out
}
