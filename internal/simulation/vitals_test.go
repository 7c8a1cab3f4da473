package simulation

import (
	"math"
	"math/rand"
	"testing"
)

func val(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestApplyBaselineDrift(t *testing.T) {
	v := Vitals{
		HeartRate:     Float(90),
		Temperature:   Float(99),
		BloodPressure: &BloodPressure{Systolic: Float(150), Diastolic: Float(95)},
	}
	drift := &Vitals{
		HeartRate:     Float(-1),
		BloodGlucose:  Float(5),
		BloodPressure: &BloodPressure{Systolic: Float(-2)},
	}

	got := ApplyBaselineDrift(v, drift)

	if !approx(val(got.HeartRate), 89) {
		t.Errorf("Expected heart rate 89, got %v", val(got.HeartRate))
	}
	if !approx(val(got.BloodPressure.Systolic), 148) {
		t.Errorf("Expected systolic 148, got %v", val(got.BloodPressure.Systolic))
	}
	if !approx(val(got.BloodPressure.Diastolic), 95) {
		t.Errorf("Expected diastolic unchanged at 95, got %v", val(got.BloodPressure.Diastolic))
	}
	if !approx(val(got.Temperature), 99) {
		t.Errorf("Expected temperature unchanged, got %v", val(got.Temperature))
	}
	if got.BloodGlucose != nil {
		t.Errorf("Expected absent glucose to stay absent, got %v", val(got.BloodGlucose))
	}
	if *v.HeartRate != 90 {
		t.Errorf("Expected input to be untouched, got %v", *v.HeartRate)
	}
}

func TestApplyBaselineDriftWithoutBloodPressure(t *testing.T) {
	v := Vitals{HeartRate: Float(80)}
	got := ApplyBaselineDrift(v, &Vitals{BloodPressure: &BloodPressure{Systolic: Float(-2)}})
	if got.BloodPressure != nil {
		t.Errorf("Expected no blood pressure to be created, got %+v", got.BloodPressure)
	}
	got = ApplyBaselineDrift(v, nil)
	if !approx(val(got.HeartRate), 80) {
		t.Errorf("Expected nil drift to be a no-op, got %v", val(got.HeartRate))
	}
}

func TestApplyMedicationEffects(t *testing.T) {
	v := Vitals{
		HeartRate:     Float(90),
		BloodPressure: &BloodPressure{Systolic: Float(150), Diastolic: Float(95)},
	}
	doses := map[string]MedicationDose{
		"labetalol": {Name: "Labetalol", Dose: 15},
		"saline":    {Name: "Saline", Dose: 3},
	}
	effects := map[string]MedicationEffect{
		"labetalol": {
			ReferenceDose: Float(10),
			PerUnitChange: &Vitals{
				HeartRate:     Float(-0.2),
				BloodPressure: &BloodPressure{Systolic: Float(-0.5)},
			},
		},
		// no reference dose: delta is zero
		"saline": {PerUnitChange: &Vitals{HeartRate: Float(10)}},
		// no dose entry: skipped
		"missing": {ReferenceDose: Float(0), PerUnitChange: &Vitals{HeartRate: Float(100)}},
	}

	got := ApplyMedicationEffects(v, doses, effects)

	if !approx(val(got.HeartRate), 89) {
		t.Errorf("Expected heart rate 89, got %v", val(got.HeartRate))
	}
	if !approx(val(got.BloodPressure.Systolic), 147.5) {
		t.Errorf("Expected systolic 147.5, got %v", val(got.BloodPressure.Systolic))
	}
	if !approx(val(got.BloodPressure.Diastolic), 95) {
		t.Errorf("Expected diastolic 95, got %v", val(got.BloodPressure.Diastolic))
	}
}

func TestMergeVitalRanges(t *testing.T) {
	merged := MergeVitalRanges(&VitalRanges{
		HeartRate:     &Range{Max: Float(120)},
		Weight:        &Range{Min: Float(40)},
		BloodPressure: &BloodPressureRanges{Systolic: &Range{Max: Float(200)}},
	})

	if merged.HeartRate.Min != nil || val(merged.HeartRate.Max) != 120 {
		t.Errorf("Expected heart rate override to replace the default range, got %+v", merged.HeartRate)
	}
	if val(merged.Weight.Min) != 40 {
		t.Errorf("Expected weight range from override, got %+v", merged.Weight)
	}
	if val(merged.BloodPressure.Systolic.Min) != 70 || val(merged.BloodPressure.Systolic.Max) != 200 {
		t.Errorf("Expected systolic 70-200, got %v-%v", val(merged.BloodPressure.Systolic.Min), val(merged.BloodPressure.Systolic.Max))
	}
	if val(merged.BloodPressure.Diastolic.Min) != 40 || val(merged.BloodPressure.Diastolic.Max) != 140 {
		t.Errorf("Expected default diastolic 40-140, got %+v", merged.BloodPressure.Diastolic)
	}
	if val(merged.Temperature.Min) != 92 || val(merged.Temperature.Max) != 107 {
		t.Errorf("Expected default temperature range, got %+v", merged.Temperature)
	}
}

func TestClampVitals(t *testing.T) {
	tests := []struct {
		name   string
		in     Vitals
		ranges *VitalRanges
		check  func(t *testing.T, got Vitals)
	}{
		{
			name: "defaults",
			in: Vitals{
				HeartRate:        Float(250),
				RespiratoryRate:  Float(1),
				OxygenSaturation: Float(104),
				BloodPressure:    &BloodPressure{Systolic: Float(300), Diastolic: Float(10)},
			},
			check: func(t *testing.T, got Vitals) {
				if val(got.HeartRate) != 180 || val(got.RespiratoryRate) != 5 || val(got.OxygenSaturation) != 100 {
					t.Errorf("Expected 180/5/100, got %v/%v/%v", val(got.HeartRate), val(got.RespiratoryRate), val(got.OxygenSaturation))
				}
				if val(got.BloodPressure.Systolic) != 220 || val(got.BloodPressure.Diastolic) != 40 {
					t.Errorf("Expected BP 220/40, got %v/%v", val(got.BloodPressure.Systolic), val(got.BloodPressure.Diastolic))
				}
			},
		},
		{
			name:   "scenario override",
			in:     Vitals{HeartRate: Float(130)},
			ranges: &VitalRanges{HeartRate: &Range{Min: Float(50), Max: Float(120)}},
			check: func(t *testing.T, got Vitals) {
				if val(got.HeartRate) != 120 {
					t.Errorf("Expected 120, got %v", val(got.HeartRate))
				}
			},
		},
		{
			name:   "unbounded side",
			in:     Vitals{HeartRate: Float(10)},
			ranges: &VitalRanges{HeartRate: &Range{Max: Float(120)}},
			check: func(t *testing.T, got Vitals) {
				if val(got.HeartRate) != 10 {
					t.Errorf("Expected missing min to leave 10 alone, got %v", val(got.HeartRate))
				}
			},
		},
		{
			name: "fields without default range",
			in:   Vitals{PainLevel: Float(15), Weight: Float(500)},
			check: func(t *testing.T, got Vitals) {
				if val(got.PainLevel) != 15 || val(got.Weight) != 500 {
					t.Errorf("Expected unbounded fields untouched, got %v/%v", val(got.PainLevel), val(got.Weight))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ClampVitals(tt.in, tt.ranges))
		})
	}
}

// Whatever drift and medication effects do, a clamped tick stays in range.
func TestClampInvariantUnderRandomDrift(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ranges := &VitalRanges{Weight: &Range{Min: Float(30), Max: Float(200)}}
	merged := MergeVitalRanges(ranges)

	v := InitialVitals(&Vitals{HeartRate: Float(80), Temperature: Float(98.6), BloodGlucose: Float(100), Weight: Float(70)})
	doses := map[string]MedicationDose{"m": {Dose: 0}}

	for tick := 0; tick < 500; tick++ {
		drift := &Vitals{
			HeartRate:     Float(rng.Float64()*80 - 40),
			Temperature:   Float(rng.Float64()*10 - 5),
			BloodGlucose:  Float(rng.Float64()*200 - 100),
			Weight:        Float(rng.Float64()*100 - 50),
			BloodPressure: &BloodPressure{Systolic: Float(rng.Float64()*100 - 50), Diastolic: Float(rng.Float64()*100 - 50)},
		}
		doses["m"] = MedicationDose{Dose: rng.Float64() * 20}
		effects := map[string]MedicationEffect{
			"m": {ReferenceDose: Float(10), PerUnitChange: &Vitals{HeartRate: Float(rng.Float64()*10 - 5)}},
		}

		v = ApplyBaselineDrift(v, drift)
		v = ApplyMedicationEffects(v, doses, effects)
		v = ClampVitals(v, ranges)

		for _, f := range vitalFields {
			value := f.get(&v)
			if value == nil {
				continue
			}
			if !withinRange(value, f.rangeOf(&merged)) {
				t.Fatalf("tick %d: %s = %v outside range", tick, f.name, *value)
			}
		}
	}
}

func TestInitialVitals(t *testing.T) {
	def := InitialVitals(nil)
	if val(def.HeartRate) != 80 || val(def.BloodPressure.Systolic) != 120 || val(def.Temperature) != 98.6 {
		t.Errorf("Expected default vitals, got %+v", def)
	}

	partial := InitialVitals(&Vitals{HeartRate: Float(110), BloodPressure: &BloodPressure{Diastolic: Float(100)}})
	if val(partial.BloodPressure.Systolic) != 120 || val(partial.BloodPressure.Diastolic) != 100 {
		t.Errorf("Expected 120/100, got %v/%v", val(partial.BloodPressure.Systolic), val(partial.BloodPressure.Diastolic))
	}
	if partial.RespiratoryRate != nil {
		t.Error("Expected missing fields of a provided baseline to stay absent")
	}

	noBP := InitialVitals(&Vitals{HeartRate: Float(70)})
	if val(noBP.BloodPressure.Systolic) != 120 || val(noBP.BloodPressure.Diastolic) != 80 {
		t.Errorf("Expected 120/80, got %+v", noBP.BloodPressure)
	}
}

func TestCloneIsDeep(t *testing.T) {
	v := Vitals{HeartRate: Float(80), BloodPressure: &BloodPressure{Systolic: Float(120)}}
	c := v.Clone()
	*c.HeartRate = 1
	*c.BloodPressure.Systolic = 1
	if *v.HeartRate != 80 || *v.BloodPressure.Systolic != 120 {
		t.Error("Expected clone to share no pointers")
	}
	if c.BloodPressure.Diastolic != nil {
		t.Error("Expected absent diastolic to stay absent")
	}
}
