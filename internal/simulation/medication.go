package simulation

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MedicationDose is the live dose of one medication in a session
type MedicationDose struct {
	Name string   `json:"name"`
	Unit string   `json:"unit,omitempty"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
	Dose float64  `json:"dose"`
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// ParseDose splits a free-form dosage such as "10 mg" into its numeric
// prefix and unit. An unparseable value yields 0.
func ParseDose(dosage string) (float64, string) {
	parts := strings.Fields(dosage)
	if len(parts) == 0 {
		return 0, ""
	}
	unit := ""
	if len(parts) > 1 {
		unit = parts[1]
	}
	match := leadingNumber.FindString(parts[0])
	if match == "" {
		return 0, unit
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, unit
	}
	return value, unit
}

// BuildMedicationState indexes the scenario medications by id. Titration
// settings win over the parsed dosage string; later duplicates replace
// earlier ones.
func BuildMedicationState(meds []Medication) map[string]MedicationDose {
	state := make(map[string]MedicationDose, len(meds))
	for _, m := range meds {
		value, unit := ParseDose(m.Dosage)
		dose := MedicationDose{Name: m.Name, Unit: unit, Dose: value}
		if t := m.Titration; t != nil {
			if t.Unit != "" {
				dose.Unit = t.Unit
			}
			dose.Min = cloneFloat(t.Min)
			dose.Max = cloneFloat(t.Max)
			dose.Step = cloneFloat(t.Step)
			if t.Current != nil {
				dose.Dose = *t.Current
			}
		}
		state[m.ID] = dose
	}
	return state
}

// ValidateDose checks a requested dose against the titration bounds.
func (d MedicationDose) ValidateDose(value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	if d.Min != nil && value < *d.Min {
		return false
	}
	if d.Max != nil && value > *d.Max {
		return false
	}
	return true
}

// FormatDose renders a dose for action log labels, e.g. "10 mg".
func FormatDose(value float64, unit string) string {
	s := strconv.FormatFloat(value, 'f', -1, 64)
	if unit == "" {
		return s
	}
	return s + " " + unit
}

func cloneDoses(in map[string]MedicationDose) map[string]MedicationDose {
	out := make(map[string]MedicationDose, len(in))
	for id, d := range in {
		d.Min = cloneFloat(d.Min)
		d.Max = cloneFloat(d.Max)
		d.Step = cloneFloat(d.Step)
		out[id] = d
	}
	return out
}
