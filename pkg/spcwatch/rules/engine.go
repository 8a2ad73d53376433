package rules

import "fmt"

// Evaluate runs all eight detectors over series against the given control
// limits. Sigma is derived as (ucl - centerLine) / 3.
//
// Only an empty series is rejected. Limits are taken literally: use
// ControlLimits.Validate beforehand when ordering or finiteness matters.
// Evaluate keeps no state and is safe for concurrent use.
func Evaluate(series []float64, centerLine, ucl, lcl float64) (*EvaluationReport, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: Values array cannot be empty", ErrInvalidInput)
	}

	sigma := ControlLimits{CenterLine: centerLine, UCL: ucl, LCL: lcl}.Sigma()

	results := map[RuleID]RuleResult{
		Rule1: CheckRule1(series, ucl, lcl),
		Rule2: CheckRule2(series, centerLine),
		Rule3: CheckRule3(series),
		Rule4: CheckRule4(series),
		Rule5: CheckRule5(series, centerLine, sigma),
		Rule6: CheckRule6(series, centerLine, sigma),
		Rule7: CheckRule7(series, centerLine, sigma),
		Rule8: CheckRule8(series, centerLine, sigma),
	}

	total := 0
	for _, res := range results {
		total += len(res.Violations)
	}

	return &EvaluationReport{
		Violations:      results,
		HasViolations:   total > 0,
		TotalViolations: total,
		Summary:         GenerateSummary(results),
	}, nil
}

// EvaluateLimits is Evaluate with the limits passed as a ControlLimits value.
func EvaluateLimits(series []float64, l ControlLimits) (*EvaluationReport, error) {
	return Evaluate(series, l.CenterLine, l.UCL, l.LCL)
}
