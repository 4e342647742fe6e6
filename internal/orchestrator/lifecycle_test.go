package orchestrator

import (
	"testing"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

func ts(sec int) time.Time {
	return time.Date(2025, 6, 3, 12, 0, sec, 0, time.UTC)
}

func TestRoster_FullSession(t *testing.T) {
	r := NewRoster()

	out, ok := r.Apply(domain.ConnectionEvent{
		PlayerID: "76561198000000001", Name: "Shadow", Platform: "STEAM",
		Transition: domain.TransitionQueued, Timestamp: ts(0),
	})
	if !ok {
		t.Fatal("queue transition should be emitted")
	}
	if out.Name != "Shadow" || out.Platform != "STEAM" {
		t.Errorf("queue emission = %q/%q", out.Name, out.Platform)
	}

	out, ok = r.Apply(domain.ConnectionEvent{
		PlayerID:   "76561198000000001",
		Transition: domain.TransitionJoined, Timestamp: ts(5),
	})
	if !ok {
		t.Fatal("join transition should be emitted")
	}
	if out.Name != "Shadow" {
		t.Errorf("join should carry the queued name, got %q", out.Name)
	}
	if got := r.OnlineCount(); got != 1 {
		t.Errorf("OnlineCount() = %d, want 1", got)
	}

	out, ok = r.Apply(domain.ConnectionEvent{
		PlayerID:   "76561198000000001",
		Transition: domain.TransitionDisconnected, Timestamp: ts(60),
	})
	if !ok {
		t.Fatal("disconnect after join should be emitted")
	}
	if out.Name != "Shadow" {
		t.Errorf("disconnect should carry the roster name, got %q", out.Name)
	}
	if got := r.OnlineCount(); got != 0 {
		t.Errorf("OnlineCount() after disconnect = %d, want 0", got)
	}
}

func TestRoster_DisconnectWithoutJoinDropped(t *testing.T) {
	r := NewRoster()

	if _, ok := r.Apply(domain.ConnectionEvent{
		PlayerID:   "p1",
		Transition: domain.TransitionDisconnected, Timestamp: ts(0),
	}); ok {
		t.Error("disconnect for an unknown player must be dropped")
	}

	// Queued but never joined: still no disconnect emission.
	r.Apply(domain.ConnectionEvent{
		PlayerID: "p2", Name: "Lurker",
		Transition: domain.TransitionQueued, Timestamp: ts(1),
	})
	if _, ok := r.Apply(domain.ConnectionEvent{
		PlayerID:   "p2",
		Transition: domain.TransitionDisconnected, Timestamp: ts(2),
	}); ok {
		t.Error("disconnect for a queued-only player must be dropped")
	}
}

func TestRoster_JoinWithoutQueueSynthesizesName(t *testing.T) {
	r := NewRoster()

	out, ok := r.Apply(domain.ConnectionEvent{
		PlayerID:   "abc123",
		Transition: domain.TransitionJoined, Timestamp: ts(0),
	})
	if !ok {
		t.Fatal("join without prior queue should still be emitted")
	}
	if out.Name != "PlayerABC123E9" {
		t.Errorf("synthesized name = %q, want PlayerABC123E9", out.Name)
	}
}

func TestRoster_DuplicateJoinDropped(t *testing.T) {
	r := NewRoster()

	r.Apply(domain.ConnectionEvent{
		PlayerID: "p1", Name: "Shadow",
		Transition: domain.TransitionQueued, Timestamp: ts(0),
	})
	if _, ok := r.Apply(domain.ConnectionEvent{
		PlayerID: "p1", Transition: domain.TransitionJoined, Timestamp: ts(1),
	}); !ok {
		t.Fatal("first join should be emitted")
	}
	if _, ok := r.Apply(domain.ConnectionEvent{
		PlayerID: "p1", Transition: domain.TransitionJoined, Timestamp: ts(2),
	}); ok {
		t.Error("duplicate join must be dropped")
	}
}

func TestRoster_QueueRefreshUpdatesNameWithoutEmitting(t *testing.T) {
	r := NewRoster()

	r.Apply(domain.ConnectionEvent{
		PlayerID: "p1", Name: "OldName",
		Transition: domain.TransitionQueued, Timestamp: ts(0),
	})
	if _, ok := r.Apply(domain.ConnectionEvent{
		PlayerID: "p1", Name: "NewName",
		Transition: domain.TransitionQueued, Timestamp: ts(1),
	}); ok {
		t.Error("repeated queue event must not be re-emitted")
	}

	out, _ := r.Apply(domain.ConnectionEvent{
		PlayerID: "p1", Transition: domain.TransitionJoined, Timestamp: ts(2),
	})
	if out.Name != "NewName" {
		t.Errorf("join carried %q, want refreshed name NewName", out.Name)
	}
}

func TestDedupConnectionEvents(t *testing.T) {
	events := []domain.ConnectionEvent{
		// File order: disconnect written before the join it belongs after.
		{PlayerID: "p1", Transition: domain.TransitionDisconnected, Timestamp: ts(30)},
		{PlayerID: "p1", Name: "First", Transition: domain.TransitionQueued, Timestamp: ts(1)},
		{PlayerID: "p1", Name: "Second", Transition: domain.TransitionQueued, Timestamp: ts(3)},
		{PlayerID: "p1", Transition: domain.TransitionJoined, Timestamp: ts(5)},
	}

	out := DedupConnectionEvents(events)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3 (duplicate queue collapsed)", len(out))
	}
	if out[0].Transition != domain.TransitionQueued || out[0].Name != "Second" {
		t.Errorf("out[0] = %v %q, want latest queue event", out[0].Transition, out[0].Name)
	}
	if out[1].Transition != domain.TransitionJoined {
		t.Errorf("out[1] = %v, want join", out[1].Transition)
	}
	if out[2].Transition != domain.TransitionDisconnected {
		t.Errorf("out[2] = %v, want disconnect", out[2].Transition)
	}

	// Applying the reordered stream emits the full session.
	r := NewRoster()
	emitted := 0
	for _, ev := range out {
		if _, ok := r.Apply(ev); ok {
			emitted++
		}
	}
	if emitted != 3 {
		t.Errorf("emitted %d transitions, want 3", emitted)
	}
}

func TestDedupConnectionEvents_EqualStampsLifecycleOrder(t *testing.T) {
	events := []domain.ConnectionEvent{
		{PlayerID: "p1", Transition: domain.TransitionDisconnected, Timestamp: ts(10)},
		{PlayerID: "p1", Transition: domain.TransitionJoined, Timestamp: ts(10)},
	}

	out := DedupConnectionEvents(events)
	if out[0].Transition != domain.TransitionJoined {
		t.Errorf("equal stamps: out[0] = %v, want join before disconnect", out[0].Transition)
	}
}
