package simulation

import (
	"encoding/json"
	"time"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// Status is the lifecycle state of a simulation session
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

// ReasonCode explains why a session ended
type ReasonCode string

const (
	ReasonUserEnd    ReasonCode = "user_end"
	ReasonTargetsMet ReasonCode = "targets_met"
	ReasonManual     ReasonCode = "manual"
)

// Action types written to the session action log
const (
	ActionSessionStarted     = "session_started"
	ActionMedicationAdjusted = "medication_adjusted"
	ActionSessionPaused      = "session_paused"
	ActionSessionResumed     = "session_resumed"
	ActionSessionEnded       = "session_ended"
)

// DefaultTickInterval applies when a scenario does not set tickIntervalMs.
const DefaultTickInterval = 5 * time.Second

// User is a trainee as seen by the engine
type User struct {
	ID          types.ID `json:"id"`
	DisplayName string   `json:"displayName"`
	Role        string   `json:"role,omitempty"`
}

// Scenario is a stored scenario with its parsed definition
type Scenario struct {
	ID         types.ID           `json:"id"`
	Name       string             `json:"name"`
	Definition ScenarioDefinition `json:"definition"`
}

// ScenarioDefinition is the scenario document authored by instructors.
// Patient, orders and custom tabs are display data the engine never reads.
type ScenarioDefinition struct {
	Patient     json.RawMessage   `json:"patient,omitempty"`
	Vitals      ScenarioVitals    `json:"vitals"`
	Medications []Medication      `json:"medications,omitempty"`
	Orders      []json.RawMessage `json:"orders,omitempty"`
	CustomTabs  []json.RawMessage `json:"customTabs,omitempty"`
	Simulation  SimulationConfig  `json:"simulation"`
}

// ScenarioVitals holds the baseline vitals of the patient
type ScenarioVitals struct {
	Current *Vitals `json:"current,omitempty"`
}

// Medication is an entry in the scenario's medication list
type Medication struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Dosage     string     `json:"dosage,omitempty"`
	Route      string     `json:"route,omitempty"`
	Frequency  string     `json:"frequency,omitempty"`
	Status     string     `json:"status,omitempty"`
	Indication string     `json:"indication,omitempty"`
	PRN        bool       `json:"prn,omitempty"`
	Titration  *Titration `json:"titration,omitempty"`
}

// Titration is the adjustable dose range of a medication
type Titration struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    *float64 `json:"step,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	Current *float64 `json:"current,omitempty"`
}

// SimulationConfig holds the tick parameters of a scenario
type SimulationConfig struct {
	TickIntervalMs    int64                       `json:"tickIntervalMs,omitempty"`
	BaselineDrift     *Vitals                     `json:"baselineDrift,omitempty"`
	MedicationEffects map[string]MedicationEffect `json:"medicationEffects,omitempty"`
	VitalRanges       *VitalRanges                `json:"vitalRanges,omitempty"`
	Targets           *TargetConfig               `json:"targets,omitempty"`
}

// MedicationEffect maps a dose change to a per-tick vitals change
type MedicationEffect struct {
	ReferenceDose *float64 `json:"referenceDose,omitempty"`
	PerUnitChange *Vitals  `json:"perUnitChange,omitempty"`
}

// TargetConfig is the goal the trainee has to reach
type TargetConfig struct {
	Description string       `json:"description,omitempty"`
	HoldTicks   *int         `json:"holdTicks,omitempty"`
	Vitals      *VitalRanges `json:"vitals,omitempty"`
}

// TargetStatus is the result of the last target evaluation
type TargetStatus struct {
	Configured        bool   `json:"configured"`
	VitalsMet         bool   `json:"vitalsMet"`
	Met               bool   `json:"met"`
	HoldTicksRequired int    `json:"holdTicksRequired"`
	ConsecutiveTicks  int    `json:"consecutiveTicks"`
	Description       string `json:"description,omitempty"`
}

// State is the serializable snapshot returned by every public operation.
// It shares no memory with the live session.
type State struct {
	SessionID            types.ID                  `json:"sessionId"`
	ScenarioID           types.ID                  `json:"scenarioId"`
	ScenarioName         string                    `json:"scenarioName"`
	UserID               types.ID                  `json:"userId"`
	Status               Status                    `json:"status"`
	StartedAt            time.Time                 `json:"startedAt"`
	UpdatedAt            time.Time                 `json:"updatedAt"`
	EndedAt              *time.Time                `json:"endedAt"`
	TickCount            int                       `json:"tickCount"`
	TickIntervalMs       int64                     `json:"tickIntervalMs"`
	CurrentVitals        Vitals                    `json:"currentVitals"`
	Medications          []Medication              `json:"medications"`
	MedicationState      map[string]MedicationDose `json:"medicationState"`
	Orders               []json.RawMessage         `json:"orders"`
	CustomTabs           []json.RawMessage         `json:"customTabs"`
	TargetStatus         TargetStatus              `json:"targetStatus"`
	CompletionReason     string                    `json:"completionReason,omitempty"`
	CompletionReasonCode ReasonCode                `json:"completionReasonCode,omitempty"`
}

// ActionEntry is one row of the session action log
type ActionEntry struct {
	ID          int64          `json:"id,omitempty"`
	SessionID   types.ID       `json:"sessionId"`
	UserID      types.ID       `json:"userId"`
	ActionType  string         `json:"actionType"`
	ActionLabel string         `json:"actionLabel"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Summary is the persisted end-of-session report
type Summary struct {
	ID           int64     `json:"id,omitempty"`
	SessionID    types.ID  `json:"sessionId"`
	UserID       types.ID  `json:"userId"`
	ScenarioID   types.ID  `json:"scenarioId"`
	ScenarioName string    `json:"scenarioName,omitempty"`
	Text         string    `json:"summary"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Event types published on the event bus
const (
	EventSessionStarted     = "simulation.session_started"
	EventSessionPaused      = "simulation.session_paused"
	EventSessionResumed     = "simulation.session_resumed"
	EventSessionEnded       = "simulation.session_ended"
	EventMedicationAdjusted = "simulation.medication_adjusted"
)

func cloneRaw(in []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(in))
	for i, msg := range in {
		out[i] = append(json.RawMessage(nil), msg...)
	}
	return out
}

func cloneMedications(in []Medication) []Medication {
	out := make([]Medication, len(in))
	for i, m := range in {
		out[i] = m
		if m.Titration != nil {
			t := *m.Titration
			t.Min = cloneFloat(t.Min)
			t.Max = cloneFloat(t.Max)
			t.Step = cloneFloat(t.Step)
			t.Current = cloneFloat(t.Current)
			out[i].Titration = &t
		}
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v. Scenario literals use it for optional fields.
func Float(v float64) *float64 {
	return &v
}
