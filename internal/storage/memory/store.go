// Package memory keeps every simulator record in process memory. It backs
// development runs and tests; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
)

type sessionRow struct {
	scenarioID types.ID
	userID     types.ID
	startedAt  time.Time
	endedAt    time.Time
}

// Store implements simulation.Repository with maps guarded by a mutex
type Store struct {
	mu sync.RWMutex

	users     map[types.ID]simulation.User
	scenarios map[types.ID]simulation.Scenario
	sessions  map[types.ID]*sessionRow
	actions   map[types.ID][]simulation.ActionEntry
	summaries map[types.ID]simulation.Summary

	nextActionID  int64
	nextSummaryID int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:     make(map[types.ID]simulation.User),
		scenarios: make(map[types.ID]simulation.Scenario),
		sessions:  make(map[types.ID]*sessionRow),
		actions:   make(map[types.ID][]simulation.ActionEntry),
		summaries: make(map[types.ID]simulation.Summary),
	}
}

func (s *Store) CreateUser(_ context.Context, u simulation.User) (types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = types.NewID()
	}
	s.users[u.ID] = u
	return u.ID, nil
}

func (s *Store) CreateScenario(_ context.Context, sc simulation.Scenario) (types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID.IsZero() {
		sc.ID = types.NewID()
	}
	s.scenarios[sc.ID] = sc
	return sc.ID, nil
}

func (s *Store) ResolveUser(_ context.Context, id types.ID) (*simulation.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id.String())
	}
	return &u, nil
}

// ResolveScenario returns a copy of the stored scenario; the engine is free
// to keep it.
func (s *Store) ResolveScenario(_ context.Context, id types.ID) (*simulation.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return nil, apperrors.NotFound("scenario", id.String())
	}
	return &sc, nil
}

func (s *Store) ListScenarios(_ context.Context) ([]simulation.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]simulation.Scenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) RecordSessionCreated(_ context.Context, scenarioID, userID types.ID, startedAt time.Time) (types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.NewID()
	s.sessions[id] = &sessionRow{scenarioID: scenarioID, userID: userID, startedAt: startedAt}
	return id, nil
}

func (s *Store) MarkSessionEnded(_ context.Context, sessionID types.ID, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.NotFound("session", sessionID.String())
	}
	row.endedAt = endedAt
	return nil
}

func (s *Store) AppendAction(_ context.Context, entry simulation.ActionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextActionID++
	entry.ID = s.nextActionID
	entry.Details = cloneDetails(entry.Details)
	s.actions[entry.SessionID] = append(s.actions[entry.SessionID], entry)
	return nil
}

func (s *Store) FetchActions(_ context.Context, sessionID types.ID) ([]simulation.ActionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.actions[sessionID]
	out := make([]simulation.ActionEntry, len(entries))
	for i, e := range entries {
		e.Details = cloneDetails(e.Details)
		out[i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) FetchSummary(_ context.Context, sessionID types.ID) (*simulation.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	return &sum, nil
}

// PersistSummary stores one summary per session; later writes for the same
// session are ignored.
func (s *Store) PersistSummary(_ context.Context, sum simulation.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.summaries[sum.SessionID]; ok {
		return nil
	}
	s.nextSummaryID++
	sum.ID = s.nextSummaryID
	if sum.ScenarioName == "" {
		sum.ScenarioName = s.scenarios[sum.ScenarioID].Name
	}
	s.summaries[sum.SessionID] = sum
	return nil
}

func (s *Store) ListSummaries(_ context.Context, userID types.ID) ([]simulation.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []simulation.Summary
	for _, sum := range s.summaries {
		if sum.UserID == userID {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Health(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func cloneDetails(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
