package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/events"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/metrics"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// Error codes returned by the engine
const (
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeScenarioNotFound   = "SCENARIO_NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeMedicationNotFound = "MEDICATION_NOT_FOUND"
	CodeSummaryNotFound    = "SUMMARY_NOT_FOUND"
	CodeInvalidDose        = "INVALID_DOSE"
	CodeSessionEnded       = "SESSION_ENDED"
	CodeEngineStopped      = "ENGINE_STOPPED"
)

const eventSource = "simulation"

// Ticker is the part of time.Ticker the tick loop uses
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// EngineConfig tunes the engine
type EngineConfig struct {
	// DefaultTickInterval applies when a scenario has no tickIntervalMs.
	DefaultTickInterval time.Duration
	// EndedRetention evicts ended sessions after this long. Zero keeps them
	// until the process exits.
	EndedRetention  time.Duration
	JanitorInterval time.Duration
	// Location renders summary timestamps.
	Location *time.Location
}

// Option customizes an Engine
type Option func(*Engine)

// WithTicker replaces the ticker used by session loops and the janitor
func WithTicker(f TickerFactory) Option {
	return func(e *Engine) { e.newTicker = f }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore lets callers share a store, e.g. to inspect it in tests
func WithStore(st *Store) Option {
	return func(e *Engine) { e.store = st }
}

// Engine runs simulation sessions: it owns the store, one tick loop per
// running session and the retention janitor.
type Engine struct {
	deps   Collaborators
	cfg    EngineConfig
	bus    events.EventBus
	store  *Store
	logger zerolog.Logger

	newTicker TickerFactory
	now       func() time.Time

	// afterTick runs once a tick has been fully processed.
	afterTick func(types.ID)

	// loopMu orders wg.Add in startLoop against Shutdown.
	loopMu  sync.Mutex
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates an engine. bus may be nil.
func NewEngine(deps Collaborators, cfg EngineConfig, bus events.EventBus, opts ...Option) *Engine {
	if cfg.DefaultTickInterval <= 0 {
		cfg.DefaultTickInterval = DefaultTickInterval
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	e := &Engine{
		deps:      deps,
		cfg:       cfg,
		bus:       bus,
		store:     NewStore(),
		logger:    log.WithComponent("simulation"),
		newTicker: newRealTicker,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.EndedRetention > 0 {
		e.startJanitor()
	}
	return e
}

// Store exposes the session registry
func (e *Engine) Store() *Store {
	return e.store
}

// Start creates a session for the scenario and user and starts its tick loop.
func (e *Engine) Start(ctx context.Context, scenarioID, userID types.ID) (*State, error) {
	user, err := e.deps.Users.ResolveUser(ctx, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound("user", userID.String()).WithCode(CodeUserNotFound)
		}
		return nil, apperrors.Wrap(err, "failed to resolve user")
	}

	scenario, err := e.deps.Scenarios.ResolveScenario(ctx, scenarioID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound("scenario", scenarioID.String()).WithCode(CodeScenarioNotFound)
		}
		return nil, apperrors.Wrap(err, "failed to resolve scenario")
	}

	if e.isStopped() {
		return nil, errEngineStopped()
	}

	startedAt := e.now()
	sessionID, err := e.deps.Sessions.RecordSessionCreated(ctx, scenario.ID, user.ID, startedAt)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to record session")
	}

	s := e.newSession(sessionID, scenario, user, startedAt)

	s.mu.Lock()
	if !e.startLoop(s) {
		s.mu.Unlock()
		if err := e.deps.Sessions.MarkSessionEnded(context.WithoutCancel(ctx), sessionID, e.now()); err != nil {
			e.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to close session created during shutdown")
		}
		return nil, errEngineStopped()
	}
	e.appendAction(ctx, s, ActionSessionStarted, "Started scenario: "+scenario.Name, map[string]any{
		"scenarioId":   scenario.ID,
		"scenarioName": scenario.Name,
	})
	state := s.snapshot()
	s.mu.Unlock()

	// The store lock is never taken while holding a session lock.
	e.store.put(s)

	metrics.RecordSessionStarted()
	e.logger.Info().
		Str("session_id", sessionID.String()).
		Str("scenario_id", scenario.ID.String()).
		Str("user_id", user.ID.String()).
		Dur("tick_interval", s.interval).
		Msg("session started")

	e.publish(ctx, e.event(s, EventSessionStarted, "trainee", map[string]any{
		"scenarioId":   scenario.ID,
		"scenarioName": scenario.Name,
	}))
	return state, nil
}

func (e *Engine) newSession(id types.ID, scenario *Scenario, user *User, startedAt time.Time) *session {
	def := scenario.Definition
	interval := e.cfg.DefaultTickInterval
	if def.Simulation.TickIntervalMs > 0 {
		interval = time.Duration(def.Simulation.TickIntervalMs) * time.Millisecond
	}

	medications := cloneMedications(def.Medications)
	return &session{
		id:           id,
		scenarioID:   scenario.ID,
		scenarioName: scenario.Name,
		userID:       user.ID,
		userName:     user.DisplayName,
		status:       StatusRunning,
		startedAt:    startedAt,
		updatedAt:    startedAt,
		config:       def.Simulation,
		interval:     interval,
		vitals:       InitialVitals(def.Vitals.Current),
		doses:        BuildMedicationState(medications),
		medications:  medications,
		orders:       cloneRaw(def.Orders),
		customTabs:   cloneRaw(def.CustomTabs),
	}
}

// GetState returns a snapshot of the session
func (e *Engine) GetState(sessionID types.ID) (*State, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// ListSessions returns snapshots of every session in the store
func (e *Engine) ListSessions() []State {
	sessions := e.store.list()
	out := make([]State, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, *s.snapshot())
		s.mu.Unlock()
	}
	return out
}

// AdjustMedication sets a new dose for a medication of a live session. The
// dose must lie within the medication's titration bounds.
func (e *Engine) AdjustMedication(ctx context.Context, sessionID types.ID, medicationID string, dose float64) (*State, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		return nil, apperrors.Conflict("session has ended").WithCode(CodeSessionEnded)
	}

	med, ok := s.doses[medicationID]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NotFound("medication", medicationID).WithCode(CodeMedicationNotFound)
	}
	if !med.ValidateDose(dose) {
		s.mu.Unlock()
		return nil, invalidDose(med, dose)
	}

	name := med.Name
	if name == "" {
		name = "Medication " + medicationID
	}
	previous := med.Dose
	med.Dose = dose
	s.doses[medicationID] = med
	s.updatedAt = e.now()

	e.appendAction(ctx, s, ActionMedicationAdjusted,
		fmt.Sprintf("Adjusted medication %s: %s -> %s", name, FormatDose(previous, med.Unit), FormatDose(dose, med.Unit)),
		map[string]any{
			"medicationId":   medicationID,
			"medicationName": name,
			"previousDose":   previous,
			"newDose":        dose,
			"unit":           med.Unit,
		})
	state := s.snapshot()
	evt := e.event(s, EventMedicationAdjusted, "trainee", map[string]any{
		"medicationId": medicationID,
		"previousDose": previous,
		"newDose":      dose,
		"unit":         med.Unit,
	})
	s.mu.Unlock()

	metrics.RecordMedicationAdjusted()
	e.publish(ctx, evt)
	return state, nil
}

func invalidDose(med MedicationDose, dose float64) *apperrors.AppError {
	details := map[string]string{"dose": FormatDose(dose, "")}
	message := "dose must be a finite number"
	switch {
	case med.Min != nil && dose < *med.Min:
		message = "dose below allowed minimum"
		details["min"] = FormatDose(*med.Min, med.Unit)
	case med.Max != nil && dose > *med.Max:
		message = "dose above allowed maximum"
		details["max"] = FormatDose(*med.Max, med.Unit)
	}
	return apperrors.Validation(message, details).WithCode(CodeInvalidDose)
}

// Pause stops the tick loop of a running session. Pausing a paused or ended
// session returns its state unchanged.
func (e *Engine) Pause(ctx context.Context, sessionID types.ID) (*State, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.status != StatusRunning {
		defer s.mu.Unlock()
		return s.snapshot(), nil
	}
	s.stopLoop()
	s.status = StatusPaused
	s.updatedAt = e.now()
	e.appendAction(ctx, s, ActionSessionPaused, "Paused simulation", nil)
	state := s.snapshot()
	evt := e.event(s, EventSessionPaused, "trainee", map[string]any{"tickCount": s.tickCount})
	s.mu.Unlock()

	e.logger.Info().Str("session_id", sessionID.String()).Int("tick", state.TickCount).Msg("session paused")
	e.publish(ctx, evt)
	return state, nil
}

// Resume restarts the tick loop of a paused session. Any other status is
// returned unchanged.
func (e *Engine) Resume(ctx context.Context, sessionID types.ID) (*State, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.status != StatusPaused {
		defer s.mu.Unlock()
		return s.snapshot(), nil
	}
	if !e.startLoop(s) {
		s.mu.Unlock()
		return nil, errEngineStopped()
	}
	s.status = StatusRunning
	s.updatedAt = e.now()
	e.appendAction(ctx, s, ActionSessionResumed, "Resumed simulation", nil)
	state := s.snapshot()
	evt := e.event(s, EventSessionResumed, "trainee", map[string]any{"tickCount": s.tickCount})
	s.mu.Unlock()

	e.logger.Info().Str("session_id", sessionID.String()).Msg("session resumed")
	e.publish(ctx, evt)
	return state, nil
}

// End finalizes the session and writes its summary. An empty reason keeps
// any earlier code or falls back to manual; an empty message falls back to
// a default for the reason. Ending an ended session is a no-op.
func (e *Engine) End(ctx context.Context, sessionID types.ID, reason ReasonCode, message string) (*State, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	evt, ended := e.endLocked(ctx, s, reason, message, "trainee")
	state := s.snapshot()
	s.mu.Unlock()

	if ended {
		e.publish(ctx, evt)
	}
	return state, nil
}

// endLocked moves s to ended. Caller holds s.mu. The returned event should
// be published once the lock is released; ok is false if s had already ended.
func (e *Engine) endLocked(ctx context.Context, s *session, reason ReasonCode, message, actor string) (evt events.Event, ok bool) {
	if s.status == StatusEnded {
		return events.Event{}, false
	}
	// Persistence below must not be cut short by a client going away.
	ctx = context.WithoutCancel(ctx)

	endedAt := e.now()
	if err := e.deps.Sessions.MarkSessionEnded(ctx, s.id, endedAt); err != nil {
		e.logger.Error().Err(err).Str("session_id", s.id.String()).Msg("failed to mark session ended")
	}

	s.stopLoop()
	s.status = StatusEnded
	s.endedAt = endedAt
	s.updatedAt = endedAt

	switch {
	case reason != "":
		s.completionCode = reason
	case s.completionCode == "":
		s.completionCode = ReasonManual
	}
	switch {
	case message != "":
		s.completionReason = message
	case s.completionReason == "":
		if s.completionCode == ReasonTargetsMet {
			s.completionReason = "Scenario targets achieved"
		} else {
			s.completionReason = "Ended by user"
		}
	}

	e.appendAction(ctx, s, ActionSessionEnded, "Ended scenario: "+s.completionReason, map[string]any{
		"reasonCode": s.completionCode,
		"reason":     s.completionReason,
	})
	e.writeSummary(ctx, s)

	metrics.RecordSessionEnded(string(s.completionCode))
	e.logger.Info().
		Str("session_id", s.id.String()).
		Str("reason", string(s.completionCode)).
		Int("ticks", s.tickCount).
		Msg("session ended")

	return e.event(s, EventSessionEnded, actor, map[string]any{
		"reasonCode": s.completionCode,
		"reason":     s.completionReason,
		"tickCount":  s.tickCount,
	}), true
}

// writeSummary builds and stores the summary unless one exists. Failures
// are logged and never surface to the caller. Caller holds s.mu.
func (e *Engine) writeSummary(ctx context.Context, s *session) {
	logger := e.logger.With().Str("session_id", s.id.String()).Logger()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordSummaryFailure()
			logger.Error().Interface("panic", r).Msg("summary generation panicked")
		}
	}()

	existing, err := e.deps.Summaries.FetchSummary(ctx, s.id)
	if err != nil {
		metrics.RecordSummaryFailure()
		logger.Error().Err(err).Msg("failed to check existing summary")
		return
	}
	if existing != nil {
		return
	}

	actions, err := e.deps.Actions.FetchActions(ctx, s.id)
	if err != nil {
		metrics.RecordSummaryFailure()
		logger.Error().Err(err).Msg("failed to fetch action log")
		return
	}

	text := BuildSummary(SummaryInput{
		ScenarioName:     s.scenarioName,
		UserName:         s.userName,
		StartedAt:        s.startedAt,
		EndedAt:          s.endedAt,
		CompletionReason: s.completionReason,
		Actions:          actions,
	}, e.cfg.Location)

	err = e.deps.Summaries.PersistSummary(ctx, Summary{
		SessionID:    s.id,
		UserID:       s.userID,
		ScenarioID:   s.scenarioID,
		ScenarioName: s.scenarioName,
		Text:         text,
		CreatedAt:    s.endedAt,
	})
	if err != nil {
		metrics.RecordSummaryFailure()
		logger.Error().Err(err).Msg("failed to persist summary")
	}
}

// Summary returns the stored summary of a session
func (e *Engine) Summary(ctx context.Context, sessionID types.ID) (*Summary, error) {
	summary, err := e.deps.Summaries.FetchSummary(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to fetch summary")
	}
	if summary == nil {
		return nil, apperrors.NotFound("summary", sessionID.String()).WithCode(CodeSummaryNotFound)
	}
	return summary, nil
}

// UserSummaries lists every stored summary of a user, newest first
func (e *Engine) UserSummaries(ctx context.Context, userID types.ID) ([]Summary, error) {
	if _, err := e.deps.Users.ResolveUser(ctx, userID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound("user", userID.String()).WithCode(CodeUserNotFound)
		}
		return nil, apperrors.Wrap(err, "failed to resolve user")
	}
	summaries, err := e.deps.Summaries.ListSummaries(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list summaries")
	}
	return summaries, nil
}

func (e *Engine) lookup(id types.ID) (*session, error) {
	s, ok := e.store.get(id)
	if !ok {
		return nil, apperrors.NotFound("session", id.String()).WithCode(CodeSessionNotFound)
	}
	return s, nil
}

// startLoop launches a tick loop for s and reports false once the engine
// has been shut down. Caller holds s.mu.
func (e *Engine) startLoop(s *session) bool {
	s.stopLoop()

	e.loopMu.Lock()
	if e.stopped {
		e.loopMu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.loopMu.Unlock()

	s.generation++
	gen := s.generation
	stop := make(chan struct{})
	s.stop = stop

	ticker := e.newTicker(s.interval)
	metrics.SessionLoopStarted()
	go func() {
		defer e.wg.Done()
		defer metrics.SessionLoopStopped()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-e.done:
				return
			case <-ticker.C():
				e.processTick(s, gen)
			}
		}
	}()
	return true
}

func (e *Engine) isStopped() bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	return e.stopped
}

func errEngineStopped() *apperrors.AppError {
	return apperrors.Unavailable("simulation engine is shutting down").WithCode(CodeEngineStopped)
}

// stopLoop signals the tick loop to exit. Caller holds s.mu.
func (s *session) stopLoop() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// processTick advances s by one tick: drift, medication effects, clamp,
// then target evaluation. A tick from a stale loop is dropped.
func (e *Engine) processTick(s *session, gen uint64) {
	if e.afterTick != nil {
		defer e.afterTick(s.id)
	}
	start := time.Now()

	s.mu.Lock()
	if s.status != StatusRunning || s.generation != gen {
		s.mu.Unlock()
		return
	}
	evt, ended := e.tickLocked(s)
	s.mu.Unlock()

	metrics.RecordTick(time.Since(start))
	if ended {
		e.publish(context.Background(), evt)
	}
}

func (e *Engine) tickLocked(s *session) (evt events.Event, ended bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("session_id", s.id.String()).Msg("tick panicked")
			ended = false
		}
	}()

	cfg := s.config
	next := ApplyBaselineDrift(s.vitals, cfg.BaselineDrift)
	next = ApplyMedicationEffects(next, s.doses, cfg.MedicationEffects)
	next = ClampVitals(next, cfg.VitalRanges)
	status, hold := EvaluateTargets(next, cfg.Targets, s.holdCount)

	s.vitals = next
	s.tickCount++
	s.updatedAt = e.now()
	s.targetStatus = status
	s.holdCount = hold

	if status.Met && s.status == StatusRunning && s.completionCode != ReasonTargetsMet {
		message := status.Description
		if message == "" {
			message = "Target goals achieved"
		}
		return e.endLocked(context.Background(), s, ReasonTargetsMet, message, "system")
	}
	return events.Event{}, false
}

// appendAction writes to the action log. Failures are logged only. Caller
// holds s.mu so entries follow the order of state changes.
func (e *Engine) appendAction(ctx context.Context, s *session, actionType, label string, details map[string]any) {
	err := e.deps.Actions.AppendAction(ctx, ActionEntry{
		SessionID:   s.id,
		UserID:      s.userID,
		ActionType:  actionType,
		ActionLabel: label,
		Details:     details,
		CreatedAt:   e.now(),
	})
	if err != nil {
		e.logger.Warn().Err(err).
			Str("session_id", s.id.String()).
			Str("action", actionType).
			Msg("failed to append action log")
	}
}

func (e *Engine) event(s *session, eventType, actorType string, data map[string]any) events.Event {
	return events.NewEvent(eventType, eventSource, data).
		WithStream(s.id.String()).
		WithActor(s.userID, actorType)
}

func (e *Engine) publish(ctx context.Context, evt events.Event) {
	if e.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn().Err(err).
			Str("event_type", evt.Type).
			Str("stream", evt.StreamID).
			Msg("failed to publish event")
	}
}

func (e *Engine) startJanitor() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.stopped {
		return
	}
	ticker := e.newTicker(e.cfg.JanitorInterval)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case <-ticker.C():
				e.evictExpired()
			}
		}
	}()
}

// evictExpired drops ended sessions older than the retention window
func (e *Engine) evictExpired() int {
	n := e.store.EvictEnded(e.now().Add(-e.cfg.EndedRetention))
	if n > 0 {
		metrics.RecordSessionsEvicted(n)
		e.logger.Debug().Int("evicted", n).Msg("evicted ended sessions")
	}
	return n
}

// Shutdown stops every tick loop and the janitor and waits for them to exit.
// Session state stays readable afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.loopMu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.done)
	}
	e.loopMu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("simulation engine shutdown: %w", ctx.Err())
	}
}
