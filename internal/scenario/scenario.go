// Package scenario loads scenario definitions from YAML or JSON documents.
//
// A document holds the scenario name, an optional id and the definition
// fields at the top level:
//
//	name: Post-Operative Hypertension Management
//	vitals:
//	  current: {heartRate: 88}
//	simulation:
//	  tickIntervalMs: 3000
//
// Documents without an id get one derived from the name, so loading the same
// file twice yields the same scenario.
package scenario

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/cbgabler/ehr-module-simulator/internal/shared/errors"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
)

//go:embed examples/*.yaml
var examplesFS embed.FS

type document struct {
	ID   types.ID `json:"id"`
	Name string   `json:"name"`
	simulation.ScenarioDefinition
}

// Parse decodes a YAML or JSON scenario document and validates it
func Parse(data []byte) (*simulation.Scenario, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid scenario document: %v", err))
	}
	// Round-trip through JSON so the json tags of the definition types apply.
	b, err := json.Marshal(normalize(raw))
	if err != nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid scenario document: %v", err))
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid scenario document: %v", err))
	}

	doc.Name = strings.TrimSpace(doc.Name)
	if doc.ID.IsZero() && doc.Name != "" {
		doc.ID = types.NewDeterministicID("scenario", doc.Name)
	}
	sc := &simulation.Scenario{ID: doc.ID, Name: doc.Name, Definition: doc.ScenarioDefinition}
	if err := Validate(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// ParseDefinition decodes a bare definition, as stored next to a name in
// external catalogs.
func ParseDefinition(data []byte) (simulation.ScenarioDefinition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return simulation.ScenarioDefinition{}, fmt.Errorf("decode definition: %w", err)
	}
	b, err := json.Marshal(normalize(raw))
	if err != nil {
		return simulation.ScenarioDefinition{}, fmt.Errorf("decode definition: %w", err)
	}
	var def simulation.ScenarioDefinition
	if err := json.Unmarshal(b, &def); err != nil {
		return simulation.ScenarioDefinition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

// normalize turns the map[any]any yaml produces for non-string keys into
// JSON-encodable maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

// Validate checks the parts of a scenario the engine depends on
func Validate(sc *simulation.Scenario) error {
	details := map[string]string{}
	if sc.Name == "" {
		details["name"] = "required"
	}

	def := sc.Definition
	if def.Simulation.TickIntervalMs < 0 {
		details["simulation.tickIntervalMs"] = "must not be negative"
	}

	meds := make(map[string]bool, len(def.Medications))
	for i, m := range def.Medications {
		key := fmt.Sprintf("medications[%d]", i)
		switch {
		case m.ID == "":
			details[key+".id"] = "required"
		case meds[m.ID]:
			details[key+".id"] = "duplicate medication id " + m.ID
		}
		meds[m.ID] = true
		if t := m.Titration; t != nil && t.Min != nil && t.Max != nil && *t.Min > *t.Max {
			details[key+".titration"] = "min exceeds max"
		}
	}
	for id := range def.Simulation.MedicationEffects {
		if !meds[id] {
			details["simulation.medicationEffects."+id] = "unknown medication"
		}
	}

	checkRanges("simulation.vitalRanges", def.Simulation.VitalRanges, details)
	if def.Simulation.Targets != nil {
		checkRanges("simulation.targets.vitals", def.Simulation.Targets.Vitals, details)
		if h := def.Simulation.Targets.HoldTicks; h != nil && *h < 0 {
			details["simulation.targets.holdTicks"] = "must not be negative"
		}
	}

	if len(details) > 0 {
		return apperrors.Validation("invalid scenario "+sc.Name, details)
	}
	return nil
}

func checkRanges(prefix string, r *simulation.VitalRanges, details map[string]string) {
	if r == nil {
		return
	}
	check := func(name string, rg *simulation.Range) {
		if rg != nil && rg.Min != nil && rg.Max != nil && *rg.Min > *rg.Max {
			details[prefix+"."+name] = "min exceeds max"
		}
	}
	if bp := r.BloodPressure; bp != nil {
		check("bloodPressure.systolic", bp.Systolic)
		check("bloodPressure.diastolic", bp.Diastolic)
	}
	check("heartRate", r.HeartRate)
	check("respiratoryRate", r.RespiratoryRate)
	check("temperature", r.Temperature)
	check("oxygenSaturation", r.OxygenSaturation)
	check("bloodGlucose", r.BloodGlucose)
	check("painLevel", r.PainLevel)
	check("weight", r.Weight)
}

// LoadFile parses one scenario file
func LoadFile(name string) (*simulation.Scenario, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", name, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return sc, nil
}

// LoadDir parses every .yaml, .yml and .json file in dir, ordered by file name
func LoadDir(dir string) ([]simulation.Scenario, error) {
	return loadFS(os.DirFS(dir), ".")
}

// Examples returns the bundled example scenarios
func Examples() ([]simulation.Scenario, error) {
	return loadFS(examplesFS, "examples")
}

func loadFS(fsys fs.FS, dir string) ([]simulation.Scenario, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	out := make([]simulation.Scenario, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read scenario %s: %w", name, err)
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, *sc)
	}
	return out, nil
}
