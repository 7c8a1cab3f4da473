package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
)

const minimalYAML = `
name: Sepsis watch
patient:
  name: Jane Doe
  age: 71
vitals:
  current:
    heartRate: 118
    bloodPressure: {systolic: 92, diastolic: 54}
medications:
  - id: nore
    name: Norepinephrine
    dosage: 4 mcg/min
    titration: {min: 0, max: 20, step: 2, unit: mcg/min}
simulation:
  tickIntervalMs: 1500
  medicationEffects:
    nore:
      referenceDose: 4
      perUnitChange:
        bloodPressure: {systolic: 1.5}
  targets:
    holdTicks: 2
    vitals:
      bloodPressure:
        systolic: {min: 100}
`

func TestParseYAML(t *testing.T) {
	sc, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "Sepsis watch", sc.Name)
	assert.Equal(t, types.NewDeterministicID("scenario", "Sepsis watch"), sc.ID)
	assert.JSONEq(t, `{"name":"Jane Doe","age":71}`, string(sc.Definition.Patient))

	def := sc.Definition
	assert.Equal(t, 118.0, *def.Vitals.Current.HeartRate)
	assert.Equal(t, 92.0, *def.Vitals.Current.BloodPressure.Systolic)
	assert.Equal(t, int64(1500), def.Simulation.TickIntervalMs)
	require.Len(t, def.Medications, 1)
	assert.Equal(t, "mcg/min", def.Medications[0].Titration.Unit)
	assert.Equal(t, 1.5, *def.Simulation.MedicationEffects["nore"].PerUnitChange.BloodPressure.Systolic)
	assert.Equal(t, 2, *def.Simulation.Targets.HoldTicks)
	assert.Equal(t, 100.0, *def.Simulation.Targets.Vitals.BloodPressure.Systolic.Min)
	assert.Nil(t, def.Simulation.Targets.Vitals.BloodPressure.Systolic.Max)

	// the medication state built from it uses the parsed dosage
	doses := simulation.BuildMedicationState(def.Medications)
	assert.Equal(t, 4.0, doses["nore"].Dose)
}

func TestParseJSONWithExplicitID(t *testing.T) {
	sc, err := Parse([]byte(`{"id":"abc","name":"From JSON","vitals":{"current":{"heartRate":70}}}`))
	require.NoError(t, err)
	assert.Equal(t, types.ID("abc"), sc.ID)
	assert.Equal(t, 70.0, *sc.Definition.Vitals.Current.HeartRate)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantCode string
		wantKey  string
	}{
		{"malformed", "name: [", "BAD_REQUEST", ""},
		{"missing name", "vitals: {}", "VALIDATION_ERROR", "name"},
		{"negative interval", "name: x\nsimulation: {tickIntervalMs: -1}", "VALIDATION_ERROR", "simulation.tickIntervalMs"},
		{"duplicate medication", "name: x\nmedications: [{id: a}, {id: a}]", "VALIDATION_ERROR", "medications[1].id"},
		{"medication without id", "name: x\nmedications: [{name: a}]", "VALIDATION_ERROR", "medications[0].id"},
		{"effect for unknown medication", "name: x\nsimulation: {medicationEffects: {ghost: {referenceDose: 1}}}", "VALIDATION_ERROR", "simulation.medicationEffects.ghost"},
		{"inverted titration", "name: x\nmedications: [{id: a, titration: {min: 5, max: 1}}]", "VALIDATION_ERROR", "medications[0].titration"},
		{"inverted range", "name: x\nsimulation: {vitalRanges: {heartRate: {min: 100, max: 50}}}", "VALIDATION_ERROR", "simulation.vitalRanges.heartRate"},
		{"inverted target", "name: x\nsimulation: {targets: {vitals: {bloodPressure: {systolic: {min: 3, max: 1}}}}}", "VALIDATION_ERROR", "simulation.targets.vitals.bloodPressure.systolic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			if tt.wantKey != "" {
				var appErr *apperrors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Contains(t, appErr.Details, tt.wantKey)
			}
		})
	}
}

func TestExamples(t *testing.T) {
	examples, err := Examples()
	require.NoError(t, err)
	require.Len(t, examples, 2)

	byName := map[string]simulation.Scenario{}
	for _, sc := range examples {
		byName[sc.Name] = sc
	}

	htn, ok := byName["Post-Operative Hypertension Management"]
	require.True(t, ok)
	assert.Len(t, htn.Definition.Medications, 3)
	assert.Equal(t, 3, *htn.Definition.Simulation.Targets.HoldTicks)
	assert.Equal(t, -0.8, *htn.Definition.Simulation.MedicationEffects["med-001"].PerUnitChange.BloodPressure.Systolic)
	assert.Len(t, htn.Definition.Orders, 4)

	hypo, ok := byName["Diabetic Patient with Hypoglycemia"]
	require.True(t, ok)
	assert.Equal(t, 62.0, *hypo.Definition.Vitals.Current.BloodGlucose)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(minimalYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"name":"A"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	list, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Name)
	assert.Equal(t, "Sepsis watch", list[1].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("vitals: {}"), 0o600))
	_, err = LoadDir(dir)
	assert.ErrorContains(t, err, "c.yaml")

	sc, err := LoadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, "A", sc.Name)
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"vitals":{"current":{"painLevel":7}},"simulation":{"tickIntervalMs":500}}`))
	require.NoError(t, err)
	assert.Equal(t, 7.0, *def.Vitals.Current.PainLevel)
	assert.Equal(t, int64(500), def.Simulation.TickIntervalMs)

	_, err = ParseDefinition([]byte("vitals: ["))
	assert.Error(t, err)
}
