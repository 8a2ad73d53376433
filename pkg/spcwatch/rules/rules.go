package rules

import "fmt"

// Window sizes of the multi-point detectors.
const (
	rule2Window = 9
	rule3Window = 6
	rule4Window = 14
	rule5Window = 3
	rule6Window = 5
	rule7Window = 15
	rule8Window = 8

	rule5Required = 2
	rule6Required = 4
)

// windowCheck inspects one window and reports whether it qualifies,
// along with the violation message.
type windowCheck func(window []float64) (string, bool)

// slide runs check over every fully populated window of the given size and
// emits one violation per qualifying window, keyed at the window's last index.
func slide(values []float64, size int, severity Severity, check windowCheck) []Violation {
	var violations []Violation
	for i := size - 1; i < len(values); i++ {
		start := i - size + 1
		msg, ok := check(values[start : i+1])
		if !ok {
			continue
		}
		violations = append(violations, Violation{
			Index:      i,
			StartIndex: start,
			Value:      values[i],
			Severity:   severity,
			Message:    msg,
		})
	}
	return violations
}

// CheckRule1 flags every point beyond the control limits.
func CheckRule1(values []float64, ucl, lcl float64) RuleResult {
	var violations []Violation
	for i, v := range values {
		if v > ucl || v < lcl {
			side := "LCL"
			if v > ucl {
				side = "UCL"
			}
			violations = append(violations, Violation{
				Index:      i,
				StartIndex: i,
				Value:      v,
				Severity:   SeverityCritical,
				Message:    fmt.Sprintf("Point exceeds control limits (%s)", side),
			})
		}
	}
	return newRuleResult("Rule 1", "One point beyond 3σ from center line", violations)
}

// CheckRule2 flags 9 points in a row strictly on one side of the center line.
// A point equal to the center line breaks the run.
func CheckRule2(values []float64, centerLine float64) RuleResult {
	violations := slide(values, rule2Window, SeverityHigh, func(w []float64) (string, bool) {
		above, below := true, true
		for _, v := range w {
			if !(v > centerLine) {
				above = false
			}
			if !(v < centerLine) {
				below = false
			}
		}
		switch {
		case above:
			return "9 consecutive points above center line", true
		case below:
			return "9 consecutive points below center line", true
		}
		return "", false
	})
	return newRuleResult("Rule 2", "9 points in a row on same side of center line", violations)
}

// CheckRule3 flags 6 points in a row strictly increasing or strictly decreasing.
func CheckRule3(values []float64) RuleResult {
	violations := slide(values, rule3Window, SeverityHigh, func(w []float64) (string, bool) {
		increasing, decreasing := true, true
		for j := 1; j < len(w); j++ {
			if !(w[j] > w[j-1]) {
				increasing = false
			}
			if !(w[j] < w[j-1]) {
				decreasing = false
			}
		}
		switch {
		case increasing:
			return "6 consecutive points increasing", true
		case decreasing:
			return "6 consecutive points decreasing", true
		}
		return "", false
	})
	return newRuleResult("Rule 3", "6 points in a row steadily increasing or decreasing", violations)
}

// CheckRule4 flags 14 points in a row whose successive differences strictly
// alternate in sign. A zero difference breaks the alternation.
func CheckRule4(values []float64) RuleResult {
	violations := slide(values, rule4Window, SeverityMedium, func(w []float64) (string, bool) {
		for j := 2; j < len(w); j++ {
			prev := w[j-1] - w[j-2]
			curr := w[j] - w[j-1]
			if !((prev > 0 && curr < 0) || (prev < 0 && curr > 0)) {
				return "", false
			}
		}
		return "14 consecutive points alternating up and down", true
	})
	return newRuleResult("Rule 4", "14 points alternating up and down", violations)
}

// countBeyond returns how many points lie strictly above upper and strictly below lower.
func countBeyond(w []float64, upper, lower float64) (above, below int) {
	for _, v := range w {
		if v > upper {
			above++
		}
		if v < lower {
			below++
		}
	}
	return above, below
}

// CheckRule5 flags 2 out of 3 points beyond 2σ on the same side.
func CheckRule5(values []float64, centerLine, sigma float64) RuleResult {
	upper := centerLine + 2*sigma
	lower := centerLine - 2*sigma
	violations := slide(values, rule5Window, SeverityHigh, func(w []float64) (string, bool) {
		above, below := countBeyond(w, upper, lower)
		switch {
		case above >= rule5Required:
			return "2 out of 3 points beyond 2σ (above)", true
		case below >= rule5Required:
			return "2 out of 3 points beyond 2σ (below)", true
		}
		return "", false
	})
	return newRuleResult("Rule 5", "2 out of 3 points beyond 2σ from center line (same side)", violations)
}

// CheckRule6 flags 4 out of 5 points beyond 1σ on the same side.
func CheckRule6(values []float64, centerLine, sigma float64) RuleResult {
	upper := centerLine + sigma
	lower := centerLine - sigma
	violations := slide(values, rule6Window, SeverityMedium, func(w []float64) (string, bool) {
		above, below := countBeyond(w, upper, lower)
		switch {
		case above >= rule6Required:
			return "4 out of 5 points beyond 1σ (above)", true
		case below >= rule6Required:
			return "4 out of 5 points beyond 1σ (below)", true
		}
		return "", false
	})
	return newRuleResult("Rule 6", "4 out of 5 points beyond 1σ from center line (same side)", violations)
}

// CheckRule7 flags 15 points in a row inside the ±1σ band (stratification).
func CheckRule7(values []float64, centerLine, sigma float64) RuleResult {
	upper := centerLine + sigma
	lower := centerLine - sigma
	violations := slide(values, rule7Window, SeverityLow, func(w []float64) (string, bool) {
		for _, v := range w {
			if !(v >= lower && v <= upper) {
				return "", false
			}
		}
		return "15 consecutive points within 1σ of center line", true
	})
	return newRuleResult("Rule 7", "15 points in a row within 1σ of center line", violations)
}

// CheckRule8 flags 8 points in a row outside the ±1σ band on either side (mixture).
func CheckRule8(values []float64, centerLine, sigma float64) RuleResult {
	upper := centerLine + sigma
	lower := centerLine - sigma
	violations := slide(values, rule8Window, SeverityMedium, func(w []float64) (string, bool) {
		for _, v := range w {
			if !(v > upper || v < lower) {
				return "", false
			}
		}
		return "8 consecutive points beyond 1σ from center line", true
	})
	return newRuleResult("Rule 8", "8 points in a row beyond 1σ from center line (both sides)", violations)
}
