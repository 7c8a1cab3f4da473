package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

func TestStoreEvictEnded(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	st := NewStore()
	st.put(&session{id: "running", status: StatusRunning, startedAt: base})
	st.put(&session{id: "paused", status: StatusPaused, startedAt: base.Add(time.Second)})
	st.put(&session{id: "old", status: StatusEnded, startedAt: base, endedAt: base.Add(time.Minute)})
	st.put(&session{id: "recent", status: StatusEnded, startedAt: base, endedAt: base.Add(time.Hour)})

	if n := st.EvictEnded(base.Add(30 * time.Minute)); n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}
	if _, ok := st.get("old"); ok {
		t.Error("Expected old ended session to be evicted")
	}
	for _, id := range []types.ID{"running", "paused", "recent"} {
		if _, ok := st.get(id); !ok {
			t.Errorf("Expected %s to remain", id)
		}
	}

	// a cutoff far in the future still never touches live sessions
	if n := st.EvictEnded(base.Add(24 * time.Hour)); n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}
	if st.Len() != 2 {
		t.Errorf("Expected running and paused sessions to remain, got %d", st.Len())
	}
}

func TestStoreListOrder(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	st := NewStore()
	st.put(&session{id: "c", startedAt: base.Add(2 * time.Second)})
	st.put(&session{id: "b", startedAt: base})
	st.put(&session{id: "a", startedAt: base})

	got := st.list()
	want := []types.ID{"a", "b", "c"}
	for i, s := range got {
		if s.id != want[i] {
			t.Fatalf("Expected order %v, got %s at %d", want, s.id, i)
		}
	}
}

func TestEngineEvictsExpiredSessions(t *testing.T) {
	h := newHarness(t, EngineConfig{EndedRetention: time.Hour})
	ctx := context.Background()

	ended := h.start(t, hypertensionScenario())
	live := h.start(t, hypertensionScenario())
	if _, err := h.engine.End(ctx, ended.SessionID, ReasonUserEnd, ""); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	if n := h.engine.evictExpired(); n != 0 {
		t.Errorf("Expected nothing evicted inside retention, got %d", n)
	}

	h.engine.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	if n := h.engine.evictExpired(); n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}
	if _, err := h.engine.GetState(ended.SessionID); err == nil {
		t.Error("Expected evicted session to be gone")
	}
	if _, err := h.engine.GetState(live.SessionID); err != nil {
		t.Errorf("Expected live session to remain, got %v", err)
	}

	// summaries outlive eviction
	if _, err := h.engine.Summary(ctx, ended.SessionID); err != nil {
		t.Errorf("Expected summary after eviction, got %v", err)
	}
}
