package simulation

// BloodPressure is the systolic/diastolic pair of a vitals snapshot
type BloodPressure struct {
	Systolic  *float64 `json:"systolic,omitempty"`
	Diastolic *float64 `json:"diastolic,omitempty"`
}

// Vitals is a snapshot of the patient's vital signs. The same shape is used
// for baseline drift and per-unit medication effects. A nil field is absent
// and is left alone by every transform.
type Vitals struct {
	BloodPressure    *BloodPressure `json:"bloodPressure,omitempty"`
	HeartRate        *float64       `json:"heartRate,omitempty"`
	RespiratoryRate  *float64       `json:"respiratoryRate,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	OxygenSaturation *float64       `json:"oxygenSaturation,omitempty"`
	BloodGlucose     *float64       `json:"bloodGlucose,omitempty"`
	PainLevel        *float64       `json:"painLevel,omitempty"`
	Weight           *float64       `json:"weight,omitempty"`
}

// Range is an inclusive bound; a nil side is unbounded
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// BloodPressureRanges bounds each side of the blood pressure pair
type BloodPressureRanges struct {
	Systolic  *Range `json:"systolic,omitempty"`
	Diastolic *Range `json:"diastolic,omitempty"`
}

// VitalRanges holds an optional range per vitals field. It is used both for
// clamp limits and for target conditions.
type VitalRanges struct {
	BloodPressure    *BloodPressureRanges `json:"bloodPressure,omitempty"`
	HeartRate        *Range               `json:"heartRate,omitempty"`
	RespiratoryRate  *Range               `json:"respiratoryRate,omitempty"`
	Temperature      *Range               `json:"temperature,omitempty"`
	OxygenSaturation *Range               `json:"oxygenSaturation,omitempty"`
	BloodGlucose     *Range               `json:"bloodGlucose,omitempty"`
	PainLevel        *Range               `json:"painLevel,omitempty"`
	Weight           *Range               `json:"weight,omitempty"`
}

// vitalField binds one numeric vitals field to its range. A nil result from
// value or limits means the enclosing blood pressure object is absent.
type vitalField struct {
	name   string
	value  func(*Vitals) **float64
	limits func(*VitalRanges) **Range
}

var vitalFields = []vitalField{
	{
		name: "bloodPressure.systolic",
		value: func(v *Vitals) **float64 {
			if v.BloodPressure == nil {
				return nil
			}
			return &v.BloodPressure.Systolic
		},
		limits: func(r *VitalRanges) **Range {
			if r.BloodPressure == nil {
				return nil
			}
			return &r.BloodPressure.Systolic
		},
	},
	{
		name: "bloodPressure.diastolic",
		value: func(v *Vitals) **float64 {
			if v.BloodPressure == nil {
				return nil
			}
			return &v.BloodPressure.Diastolic
		},
		limits: func(r *VitalRanges) **Range {
			if r.BloodPressure == nil {
				return nil
			}
			return &r.BloodPressure.Diastolic
		},
	},
	{
		name:   "heartRate",
		value:  func(v *Vitals) **float64 { return &v.HeartRate },
		limits: func(r *VitalRanges) **Range { return &r.HeartRate },
	},
	{
		name:   "respiratoryRate",
		value:  func(v *Vitals) **float64 { return &v.RespiratoryRate },
		limits: func(r *VitalRanges) **Range { return &r.RespiratoryRate },
	},
	{
		name:   "temperature",
		value:  func(v *Vitals) **float64 { return &v.Temperature },
		limits: func(r *VitalRanges) **Range { return &r.Temperature },
	},
	{
		name:   "oxygenSaturation",
		value:  func(v *Vitals) **float64 { return &v.OxygenSaturation },
		limits: func(r *VitalRanges) **Range { return &r.OxygenSaturation },
	},
	{
		name:   "bloodGlucose",
		value:  func(v *Vitals) **float64 { return &v.BloodGlucose },
		limits: func(r *VitalRanges) **Range { return &r.BloodGlucose },
	},
	{
		name:   "painLevel",
		value:  func(v *Vitals) **float64 { return &v.PainLevel },
		limits: func(r *VitalRanges) **Range { return &r.PainLevel },
	},
	{
		name:   "weight",
		value:  func(v *Vitals) **float64 { return &v.Weight },
		limits: func(r *VitalRanges) **Range { return &r.Weight },
	},
}

// flatFields skips the blood pressure pair, which merges and matches per side.
var flatFields = vitalFields[2:]

// get returns the field value, or nil when absent
func (f vitalField) get(v *Vitals) *float64 {
	if v == nil {
		return nil
	}
	p := f.value(v)
	if p == nil {
		return nil
	}
	return *p
}

func (f vitalField) rangeOf(r *VitalRanges) *Range {
	if r == nil {
		return nil
	}
	p := f.limits(r)
	if p == nil {
		return nil
	}
	return *p
}

// DefaultVitalRanges are the physiological bounds applied when a scenario
// does not override them.
func DefaultVitalRanges() VitalRanges {
	return VitalRanges{
		HeartRate:        &Range{Min: Float(30), Max: Float(180)},
		RespiratoryRate:  &Range{Min: Float(5), Max: Float(50)},
		Temperature:      &Range{Min: Float(92), Max: Float(107)},
		OxygenSaturation: &Range{Min: Float(70), Max: Float(100)},
		BloodGlucose:     &Range{Min: Float(60), Max: Float(250)},
		BloodPressure: &BloodPressureRanges{
			Systolic:  &Range{Min: Float(70), Max: Float(220)},
			Diastolic: &Range{Min: Float(40), Max: Float(140)},
		},
	}
}

// DefaultVitals seeds a session whose scenario has no baseline vitals.
func DefaultVitals() Vitals {
	return Vitals{
		BloodPressure:    &BloodPressure{Systolic: Float(120), Diastolic: Float(80)},
		HeartRate:        Float(80),
		RespiratoryRate:  Float(18),
		Temperature:      Float(98.6),
		OxygenSaturation: Float(98),
		PainLevel:        Float(0),
	}
}

// InitialVitals copies the scenario baseline, filling in a missing blood
// pressure pair with 120/80.
func InitialVitals(current *Vitals) Vitals {
	if current == nil {
		return DefaultVitals()
	}
	v := current.Clone()
	if v.BloodPressure == nil {
		v.BloodPressure = &BloodPressure{}
	}
	if v.BloodPressure.Systolic == nil {
		v.BloodPressure.Systolic = Float(120)
	}
	if v.BloodPressure.Diastolic == nil {
		v.BloodPressure.Diastolic = Float(80)
	}
	return v
}

// Clone returns a deep copy sharing no pointers with v.
func (v Vitals) Clone() Vitals {
	out := Vitals{}
	if v.BloodPressure != nil {
		out.BloodPressure = &BloodPressure{}
	}
	for _, f := range vitalFields {
		if src := f.get(&v); src != nil {
			*f.value(&out) = Float(*src)
		}
	}
	return out
}

// addScaled adds delta*factor into every field present in both v and delta.
// Blood pressure fields are only touched when v already carries the pair.
func addScaled(v *Vitals, delta *Vitals, factor float64) {
	if delta == nil {
		return
	}
	for _, f := range vitalFields {
		d := f.get(delta)
		if d == nil {
			continue
		}
		p := f.value(v)
		if p == nil || *p == nil {
			continue
		}
		**p += *d * factor
	}
}

// ApplyBaselineDrift returns v with one tick of drift added.
func ApplyBaselineDrift(v Vitals, drift *Vitals) Vitals {
	out := v.Clone()
	addScaled(&out, drift, 1)
	return out
}

// ApplyMedicationEffects returns v with every configured medication effect
// applied for the current doses. A medication without a dose entry is skipped.
func ApplyMedicationEffects(v Vitals, doses map[string]MedicationDose, effects map[string]MedicationEffect) Vitals {
	out := v.Clone()
	for id, effect := range effects {
		dose, ok := doses[id]
		if !ok {
			continue
		}
		reference := dose.Dose
		if effect.ReferenceDose != nil {
			reference = *effect.ReferenceDose
		}
		addScaled(&out, effect.PerUnitChange, dose.Dose-reference)
	}
	return out
}

// MergeVitalRanges lays scenario overrides over the defaults. A flat field
// override replaces the default range; blood pressure merges per bound.
func MergeVitalRanges(overrides *VitalRanges) VitalRanges {
	merged := DefaultVitalRanges()
	if overrides == nil {
		return merged
	}
	for _, f := range flatFields {
		if r := f.rangeOf(overrides); r != nil {
			*f.limits(&merged) = cloneRange(r)
		}
	}
	if bp := overrides.BloodPressure; bp != nil {
		merged.BloodPressure.Systolic = mergeBounds(merged.BloodPressure.Systolic, bp.Systolic)
		merged.BloodPressure.Diastolic = mergeBounds(merged.BloodPressure.Diastolic, bp.Diastolic)
	}
	return merged
}

func mergeBounds(base, override *Range) *Range {
	out := cloneRange(base)
	if override == nil {
		return out
	}
	if out == nil {
		out = &Range{}
	}
	if override.Min != nil {
		out.Min = Float(*override.Min)
	}
	if override.Max != nil {
		out.Max = Float(*override.Max)
	}
	return out
}

func cloneRange(r *Range) *Range {
	if r == nil {
		return nil
	}
	return &Range{Min: cloneFloat(r.Min), Max: cloneFloat(r.Max)}
}

// ClampVitals returns v with every present field forced into the merged
// ranges.
func ClampVitals(v Vitals, ranges *VitalRanges) Vitals {
	merged := MergeVitalRanges(ranges)
	out := v.Clone()
	for _, f := range vitalFields {
		p := f.value(&out)
		if p == nil || *p == nil {
			continue
		}
		**p = clampValue(**p, f.rangeOf(&merged))
	}
	return out
}

func clampValue(value float64, r *Range) float64 {
	if r == nil {
		return value
	}
	if r.Min != nil && value < *r.Min {
		value = *r.Min
	}
	if r.Max != nil && value > *r.Max {
		value = *r.Max
	}
	return value
}

func withinRange(value *float64, r *Range) bool {
	if value == nil {
		return false
	}
	if r == nil {
		return true
	}
	if r.Min != nil && *value < *r.Min {
		return false
	}
	if r.Max != nil && *value > *r.Max {
		return false
	}
	return true
}
