package simulation

import "testing"

func intPtr(v int) *int { return &v }

func TestVitalsMeetTargets(t *testing.T) {
	targets := &VitalRanges{
		HeartRate:     &Range{Max: Float(85)},
		BloodPressure: &BloodPressureRanges{Systolic: &Range{Max: Float(140)}},
	}

	tests := []struct {
		name string
		v    Vitals
		want bool
	}{
		{"all within", Vitals{HeartRate: Float(80), BloodPressure: &BloodPressure{Systolic: Float(130), Diastolic: Float(85)}}, true},
		{"boundary inclusive", Vitals{HeartRate: Float(85), BloodPressure: &BloodPressure{Systolic: Float(140), Diastolic: Float(85)}}, true},
		{"heart rate high", Vitals{HeartRate: Float(86), BloodPressure: &BloodPressure{Systolic: Float(130), Diastolic: Float(85)}}, false},
		{"missing heart rate", Vitals{BloodPressure: &BloodPressure{Systolic: Float(130), Diastolic: Float(85)}}, false},
		{"missing blood pressure", Vitals{HeartRate: Float(80)}, false},
		{"missing diastolic", Vitals{HeartRate: Float(80), BloodPressure: &BloodPressure{Systolic: Float(130)}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VitalsMeetTargets(tt.v, targets); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluateTargetsNotConfigured(t *testing.T) {
	v := Vitals{HeartRate: Float(80)}

	status, hold := EvaluateTargets(v, nil, 3)
	if status.Configured || hold != 3 {
		t.Errorf("Expected unconfigured status and untouched hold count, got %+v / %d", status, hold)
	}

	status, hold = EvaluateTargets(v, &TargetConfig{Description: "no vitals"}, 2)
	if status.Configured || hold != 2 {
		t.Errorf("Expected unconfigured status without target vitals, got %+v / %d", status, hold)
	}
}

func TestEvaluateTargetsHoldTicks(t *testing.T) {
	cfg := &TargetConfig{
		Description: "HR under control",
		HoldTicks:   intPtr(3),
		Vitals:      &VitalRanges{HeartRate: &Range{Max: Float(85)}},
	}
	in := Vitals{HeartRate: Float(80)}
	out := Vitals{HeartRate: Float(90)}

	// holdTicks-1 satisfying ticks, a miss, then alternating: never met
	sequence := []Vitals{in, in, out, in, out, in, out, in}
	hold := 0
	for i, v := range sequence {
		var status TargetStatus
		status, hold = EvaluateTargets(v, cfg, hold)
		if status.Met {
			t.Fatalf("tick %d: expected target not met", i+1)
		}
		if *v.HeartRate > 85 && hold != 0 {
			t.Fatalf("tick %d: expected hold count reset to 0, got %d", i+1, hold)
		}
	}

	var status TargetStatus
	for i := 0; i < 3; i++ {
		status, hold = EvaluateTargets(in, cfg, hold)
	}
	if !status.Met || status.ConsecutiveTicks != 4 || status.HoldTicksRequired != 3 {
		t.Errorf("Expected met after a consecutive run, got %+v", status)
	}
	if status.Description != "HR under control" || !status.Configured || !status.VitalsMet {
		t.Errorf("Unexpected status fields: %+v", status)
	}
}

func TestEvaluateTargetsMinimumHold(t *testing.T) {
	for _, holdTicks := range []*int{nil, intPtr(0), intPtr(-2)} {
		cfg := &TargetConfig{HoldTicks: holdTicks, Vitals: &VitalRanges{HeartRate: &Range{Max: Float(85)}}}
		status, _ := EvaluateTargets(Vitals{HeartRate: Float(80)}, cfg, 0)
		if !status.Met || status.HoldTicksRequired != 1 {
			t.Errorf("Expected a single satisfying tick to meet the target, got %+v", status)
		}
	}
}
