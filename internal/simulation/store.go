package simulation

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// session is the live, mutable state of one simulation run. Every field
// below mu is guarded by it.
type session struct {
	mu sync.Mutex

	id           types.ID
	scenarioID   types.ID
	scenarioName string
	userID       types.ID
	userName     string

	status    Status
	tickCount int
	startedAt time.Time
	updatedAt time.Time
	endedAt   time.Time

	config   SimulationConfig
	interval time.Duration

	vitals      Vitals
	doses       map[string]MedicationDose
	medications []Medication
	orders      []json.RawMessage
	customTabs  []json.RawMessage

	holdCount    int
	targetStatus TargetStatus

	completionReason string
	completionCode   ReasonCode

	// stop closes the running tick loop; nil while paused or ended.
	stop chan struct{}
	// generation identifies the current tick loop. A tick from an older
	// loop is dropped.
	generation uint64
}

// snapshot returns an independent copy of the session state. Caller holds mu.
func (s *session) snapshot() *State {
	st := &State{
		SessionID:            s.id,
		ScenarioID:           s.scenarioID,
		ScenarioName:         s.scenarioName,
		UserID:               s.userID,
		Status:               s.status,
		StartedAt:            s.startedAt,
		UpdatedAt:            s.updatedAt,
		TickCount:            s.tickCount,
		TickIntervalMs:       s.interval.Milliseconds(),
		CurrentVitals:        s.vitals.Clone(),
		Medications:          cloneMedications(s.medications),
		MedicationState:      cloneDoses(s.doses),
		Orders:               cloneRaw(s.orders),
		CustomTabs:           cloneRaw(s.customTabs),
		TargetStatus:         s.targetStatus,
		CompletionReason:     s.completionReason,
		CompletionReasonCode: s.completionCode,
	}
	if !s.endedAt.IsZero() {
		endedAt := s.endedAt
		st.EndedAt = &endedAt
	}
	return st
}

// Store is the in-memory registry of sessions. Lock order is always the
// store lock before a session lock; callers never take the store lock while
// holding a session lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[types.ID]*session
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{sessions: make(map[types.ID]*session)}
}

func (st *Store) put(s *session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.id] = s
}

func (st *Store) get(id types.ID) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// list returns every session ordered by start time
func (st *Store) list() []*session {
	st.mu.RLock()
	out := make([]*session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].startedAt.Equal(out[j].startedAt) {
			return out[i].id < out[j].id
		}
		return out[i].startedAt.Before(out[j].startedAt)
	})
	return out
}

// Len returns the number of sessions held
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// EvictEnded removes ended sessions whose end time is before cutoff and
// returns how many were removed. Running and paused sessions stay.
func (st *Store) EvictEnded(cutoff time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	evicted := 0
	for id, s := range st.sessions {
		s.mu.Lock()
		expired := s.status == StatusEnded && s.endedAt.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(st.sessions, id)
			evicted++
		}
	}
	return evicted
}
