package simulation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/events"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// fakeRepo implements every collaborator port in memory and can be told to
// fail individual calls.
type fakeRepo struct {
	mu sync.Mutex

	users     map[types.ID]*User
	scenarios map[types.ID]*Scenario
	ended     map[types.ID]time.Time
	actions   []ActionEntry
	summaries map[types.ID]Summary

	persistCalls int

	failPersist error
	failAppend  error
	failMark    error
	failFetch   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     make(map[types.ID]*User),
		scenarios: make(map[types.ID]*Scenario),
		ended:     make(map[types.ID]time.Time),
		summaries: make(map[types.ID]Summary),
	}
}

func (f *fakeRepo) addUser(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = &u
}

func (f *fakeRepo) addScenario(s Scenario) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenarios[s.ID] = &s
}

func (f *fakeRepo) ResolveUser(_ context.Context, id types.ID) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id.String())
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) ResolveScenario(_ context.Context, id types.ID) (*Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scenarios[id]
	if !ok {
		return nil, apperrors.NotFound("scenario", id.String())
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) RecordSessionCreated(context.Context, types.ID, types.ID, time.Time) (types.ID, error) {
	return types.NewID(), nil
}

func (f *fakeRepo) MarkSessionEnded(_ context.Context, id types.ID, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMark != nil {
		return f.failMark
	}
	f.ended[id] = endedAt
	return nil
}

func (f *fakeRepo) AppendAction(_ context.Context, entry ActionEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend != nil {
		return f.failAppend
	}
	entry.ID = int64(len(f.actions) + 1)
	f.actions = append(f.actions, entry)
	return nil
}

func (f *fakeRepo) FetchActions(_ context.Context, sessionID types.ID) ([]ActionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch != nil {
		return nil, f.failFetch
	}
	var out []ActionEntry
	for _, a := range f.actions {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) FetchSummary(_ context.Context, sessionID types.ID) (*Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeRepo) PersistSummary(_ context.Context, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistCalls++
	if f.failPersist != nil {
		return f.failPersist
	}
	f.summaries[s.SessionID] = s
	return nil
}

func (f *fakeRepo) ListSummaries(_ context.Context, userID types.ID) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Summary
	for _, s := range f.summaries {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRepo) actionTypes(sessionID types.ID) []string {
	entries, _ := f.FetchActions(context.Background(), sessionID)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ActionType
	}
	return out
}

// fakeTicker only fires when the test sends on ch
type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

type tickerSet struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (ts *tickerSet) factory(d time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time), interval: d}
	ts.tickers = append(ts.tickers, t)
	return t
}

func (ts *tickerSet) last() *fakeTicker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.tickers) == 0 {
		return nil
	}
	return ts.tickers[len(ts.tickers)-1]
}

func (ts *tickerSet) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickers)
}

// stepClock returns a new instant, one second later, on every call
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	engine  *Engine
	repo    *fakeRepo
	tickers *tickerSet
	bus     *events.MemoryBus
	ticked  chan types.ID
	user    User
}

func newHarness(t *testing.T, cfg EngineConfig) *harness {
	t.Helper()

	repo := newFakeRepo()
	user := User{ID: types.NewDeterministicID("user", "nurse"), DisplayName: "nurse.jackie"}
	repo.addUser(user)

	h := &harness{
		repo:    repo,
		tickers: &tickerSet{},
		bus:     events.NewMemoryBus(),
		ticked:  make(chan types.ID, 64),
		user:    user,
	}
	clock := &stepClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	h.engine = NewEngine(CollaboratorsFrom(repo), cfg, h.bus,
		WithTicker(h.tickers.factory),
		WithClock(clock.Now),
	)
	h.engine.afterTick = func(id types.ID) { h.ticked <- id }

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.engine.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})
	return h
}

func (h *harness) start(t *testing.T, def ScenarioDefinition) *State {
	t.Helper()
	scenario := Scenario{ID: types.NewID(), Name: "Test scenario", Definition: def}
	h.repo.addScenario(scenario)
	state, err := h.engine.Start(context.Background(), scenario.ID, h.user.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return state
}

// tick fires the most recent ticker n times and waits for each tick to finish
func (h *harness) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ticker := h.tickers.last()
		if ticker == nil {
			t.Fatal("no ticker started")
		}
		select {
		case ticker.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not received by loop", i+1)
		}
		select {
		case <-h.ticked:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not processed", i+1)
		}
	}
}

func (h *harness) state(t *testing.T, id types.ID) *State {
	t.Helper()
	st, err := h.engine.GetState(id)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	return st
}

var errStorage = errors.New("storage unavailable")
