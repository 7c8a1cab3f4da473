package simulation

// VitalsMeetTargets reports whether every configured target field is present
// on v and inside its range. A blood pressure target needs both sides present.
func VitalsMeetTargets(v Vitals, targets *VitalRanges) bool {
	if targets == nil {
		return true
	}
	if bp := targets.BloodPressure; bp != nil {
		if v.BloodPressure == nil {
			return false
		}
		if !withinRange(v.BloodPressure.Systolic, bp.Systolic) ||
			!withinRange(v.BloodPressure.Diastolic, bp.Diastolic) {
			return false
		}
	}
	for _, f := range flatFields {
		r := f.rangeOf(targets)
		if r == nil {
			continue
		}
		if !withinRange(f.get(&v), r) {
			return false
		}
	}
	return true
}

// EvaluateTargets checks v against the target config and returns the new
// status with the updated consecutive hold count. A miss resets the count
// to zero. Without a configured target the count is returned unchanged.
func EvaluateTargets(v Vitals, cfg *TargetConfig, holdCount int) (TargetStatus, int) {
	if cfg == nil || cfg.Vitals == nil {
		return TargetStatus{}, holdCount
	}

	vitalsMet := VitalsMeetTargets(v, cfg.Vitals)
	if vitalsMet {
		holdCount++
	} else {
		holdCount = 0
	}

	required := 1
	if cfg.HoldTicks != nil && *cfg.HoldTicks > 1 {
		required = *cfg.HoldTicks
	}

	return TargetStatus{
		Configured:        true,
		VitalsMet:         vitalsMet,
		Met:               vitalsMet && holdCount >= required,
		HoldTicksRequired: required,
		ConsecutiveTicks:  holdCount,
		Description:       cfg.Description,
	}, holdCount
}
