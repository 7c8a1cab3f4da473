// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
)

// Backend is the subset of storage.Backend exercised here
type Backend interface {
	simulation.Repository
	CreateUser(ctx context.Context, user simulation.User) (types.ID, error)
	CreateScenario(ctx context.Context, scenario simulation.Scenario) (types.ID, error)
	ListScenarios(ctx context.Context) ([]simulation.Scenario, error)
}

// Run exercises a backend. open must return a fresh, empty backend.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("scenarios", func(t *testing.T) { testScenarios(t, open(t)) })
	t.Run("action log", func(t *testing.T) { testActionLog(t, open(t)) })
	t.Run("summaries", func(t *testing.T) { testSummaries(t, open(t)) })
	t.Run("engine round trip", func(t *testing.T) { testEngine(t, open(t)) })
}

func ms(t time.Time) time.Time { return t.Truncate(time.Millisecond).UTC() }

func seed(t *testing.T, b Backend) (simulation.User, simulation.Scenario) {
	t.Helper()
	ctx := context.Background()

	user := simulation.User{DisplayName: "nurse.jackie", Role: "trainee"}
	id, err := b.CreateUser(ctx, user)
	require.NoError(t, err)
	user.ID = id

	scenario := simulation.Scenario{
		ID:   types.NewDeterministicID("scenario", "hypertension"),
		Name: "Hypertensive urgency",
		Definition: simulation.ScenarioDefinition{
			Patient: []byte(`{"name":"Jane Doe","age":58}`),
			Vitals: simulation.ScenarioVitals{Current: &simulation.Vitals{
				HeartRate:     simulation.Float(96),
				BloodPressure: &simulation.BloodPressure{Systolic: simulation.Float(182), Diastolic: simulation.Float(104)},
			}},
			Medications: []simulation.Medication{{
				ID:     "labetalol",
				Name:   "Labetalol",
				Dosage: "10 mg",
				Titration: &simulation.Titration{
					Min: simulation.Float(0), Max: simulation.Float(40), Unit: "mg",
				},
			}},
			Simulation: simulation.SimulationConfig{
				TickIntervalMs: 60_000,
				BaselineDrift:  &simulation.Vitals{HeartRate: simulation.Float(0.5)},
			},
		},
	}
	_, err = b.CreateScenario(ctx, scenario)
	require.NoError(t, err)
	return user, scenario
}

func testUsers(t *testing.T, b Backend) {
	ctx := context.Background()
	user, _ := seed(t, b)

	got, err := b.ResolveUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "nurse.jackie", got.DisplayName)
	assert.Equal(t, "trainee", got.Role)

	_, err = b.ResolveUser(ctx, types.NewID())
	assert.True(t, apperrors.IsNotFound(err), "expected not found, got %v", err)
}

func testScenarios(t *testing.T, b Backend) {
	ctx := context.Background()
	_, scenario := seed(t, b)

	got, err := b.ResolveScenario(ctx, scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, scenario.Name, got.Name)
	assert.JSONEq(t, string(scenario.Definition.Patient), string(got.Definition.Patient))
	assert.Equal(t, 182.0, *got.Definition.Vitals.Current.BloodPressure.Systolic)
	assert.Equal(t, int64(60_000), got.Definition.Simulation.TickIntervalMs)
	require.Len(t, got.Definition.Medications, 1)
	assert.Equal(t, 40.0, *got.Definition.Medications[0].Titration.Max)

	// seeding again replaces instead of duplicating
	scenario.Name = "Hypertensive urgency (v2)"
	_, err = b.CreateScenario(ctx, scenario)
	require.NoError(t, err)
	list, err := b.ListScenarios(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hypertensive urgency (v2)", list[0].Name)

	_, err = b.ResolveScenario(ctx, types.NewID())
	assert.True(t, apperrors.IsNotFound(err), "expected not found, got %v", err)
}

func testActionLog(t *testing.T, b Backend) {
	ctx := context.Background()
	user, scenario := seed(t, b)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	sessionID, err := b.RecordSessionCreated(ctx, scenario.ID, user.ID, base)
	require.NoError(t, err)
	require.False(t, sessionID.IsZero())

	// appended out of order; read back by time then insertion
	entries := []simulation.ActionEntry{
		{ActionType: "b", ActionLabel: "second", CreatedAt: base.Add(2 * time.Second)},
		{ActionType: "a", ActionLabel: "first", CreatedAt: base.Add(time.Second), Details: map[string]any{"dose": 15.0, "unit": "mg"}},
		{ActionType: "c", ActionLabel: "third", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		e.SessionID = sessionID
		e.UserID = user.ID
		require.NoError(t, b.AppendAction(ctx, e))
	}

	got, err := b.FetchActions(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].ActionLabel, got[1].ActionLabel, got[2].ActionLabel})
	assert.Equal(t, map[string]any{"dose": 15.0, "unit": "mg"}, got[0].Details)
	assert.Equal(t, ms(base.Add(time.Second)), got[0].CreatedAt.UTC())
	assert.Nil(t, got[1].Details)

	other, err := b.FetchActions(ctx, types.NewID())
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, b.MarkSessionEnded(ctx, sessionID, base.Add(time.Minute)))
}

func testSummaries(t *testing.T, b Backend) {
	ctx := context.Background()
	user, scenario := seed(t, b)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	none, err := b.FetchSummary(ctx, types.NewID())
	require.NoError(t, err)
	assert.Nil(t, none)

	var sessions []types.ID
	for i := 0; i < 2; i++ {
		id, err := b.RecordSessionCreated(ctx, scenario.ID, user.ID, base)
		require.NoError(t, err)
		sessions = append(sessions, id)
		require.NoError(t, b.PersistSummary(ctx, simulation.Summary{
			SessionID:    id,
			UserID:       user.ID,
			ScenarioID:   scenario.ID,
			ScenarioName: scenario.Name,
			Text:         "Scenario Summary",
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}))
	}

	// the first summary of a session wins
	require.NoError(t, b.PersistSummary(ctx, simulation.Summary{
		SessionID: sessions[0], UserID: user.ID, ScenarioID: scenario.ID, Text: "replacement", CreatedAt: base,
	}))

	got, err := b.FetchSummary(ctx, sessions[0])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Scenario Summary", got.Text)
	assert.Equal(t, scenario.Name, got.ScenarioName)
	assert.Equal(t, user.ID, got.UserID)

	list, err := b.ListSummaries(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, sessions[1], list[0].SessionID, "newest first")
	assert.Equal(t, sessions[0], list[1].SessionID)

	empty, err := b.ListSummaries(ctx, types.NewID())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testEngine(t *testing.T, b Backend) {
	ctx := context.Background()
	user, scenario := seed(t, b)

	engine := simulation.NewEngine(simulation.CollaboratorsFrom(b), simulation.EngineConfig{}, nil)
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })

	st, err := engine.Start(ctx, scenario.ID, user.ID)
	require.NoError(t, err)
	_, err = engine.AdjustMedication(ctx, st.SessionID, "labetalol", 20)
	require.NoError(t, err)
	ended, err := engine.End(ctx, st.SessionID, simulation.ReasonUserEnd, "")
	require.NoError(t, err)
	assert.Equal(t, simulation.StatusEnded, ended.Status)

	actions, err := b.FetchActions(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, simulation.ActionSessionStarted, actions[0].ActionType)
	assert.Equal(t, simulation.ActionMedicationAdjusted, actions[1].ActionType)
	assert.Equal(t, simulation.ActionSessionEnded, actions[2].ActionType)

	summary, err := engine.Summary(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Contains(t, summary.Text, "Scenario: Hypertensive urgency")
	assert.Contains(t, summary.Text, "Adjusted medication Labetalol: 10 mg -> 20 mg")

	list, err := engine.UserSummaries(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
