package rules

import (
	"errors"
	"fmt"
	"math"
)

// RuleID identifies one of the eight Western Electric detectors.
type RuleID string

const (
	Rule1 RuleID = "rule1"
	Rule2 RuleID = "rule2"
	Rule3 RuleID = "rule3"
	Rule4 RuleID = "rule4"
	Rule5 RuleID = "rule5"
	Rule6 RuleID = "rule6"
	Rule7 RuleID = "rule7"
	Rule8 RuleID = "rule8"
)

// AllRules lists the detectors in evaluation order.
var AllRules = []RuleID{Rule1, Rule2, Rule3, Rule4, Rule5, Rule6, Rule7, Rule8}

// Severity classifies how urgently a violation needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists the summary buckets from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

var (
	// ErrInvalidInput is returned by Evaluate when the series is empty.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidLimits is returned by ControlLimits.Validate.
	ErrInvalidLimits = errors.New("invalid control limits")
)

// ControlLimits holds the center line and 3σ control limits of a chart.
type ControlLimits struct {
	CenterLine float64 `json:"centerLine"`
	UCL        float64 `json:"upperControlLimit"`
	LCL        float64 `json:"lowerControlLimit"`
}

// Sigma returns one process standard deviation, assuming UCL sits at +3σ.
func (l ControlLimits) Sigma() float64 {
	return (l.UCL - l.CenterLine) / 3
}

// Validate checks that all limits are finite and LCL < CenterLine < UCL.
// Evaluate does not call it; callers that want strict input call it first.
func (l ControlLimits) Validate() error {
	for _, v := range []float64{l.CenterLine, l.UCL, l.LCL} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value %v", ErrInvalidLimits, v)
		}
	}
	if !(l.LCL < l.CenterLine && l.CenterLine < l.UCL) {
		return fmt.Errorf("%w: expected lcl < center < ucl, got lcl=%g center=%g ucl=%g",
			ErrInvalidLimits, l.LCL, l.CenterLine, l.UCL)
	}
	return nil
}

// Violation is a single finding of a detector.
type Violation struct {
	// Index is the position of the last point of the qualifying window.
	Index int `json:"index"`
	// StartIndex is the first point of the window; equals Index for rule 1.
	StartIndex int      `json:"startIndex"`
	Value      float64  `json:"value"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
}

// RuleResult is the output of one detector.
type RuleResult struct {
	Rule        string      `json:"rule"`
	Description string      `json:"description"`
	Violations  []Violation `json:"violations"`
	Passed      bool        `json:"passed"`
}

func newRuleResult(rule, description string, violations []Violation) RuleResult {
	if violations == nil {
		violations = []Violation{}
	}
	return RuleResult{
		Rule:        rule,
		Description: description,
		Violations:  violations,
		Passed:      len(violations) == 0,
	}
}

// Span is a contiguous stretch of the series covered by overlapping
// violation windows of a single rule that report the same condition.
type Span struct {
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Count    int      `json:"count"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Spans merges overlapping violation windows into contiguous spans. Windows
// that only touch, or that report a different condition (for example a run
// above the center line followed by one below it), start a new span.
// Violations are expected in index order, as detectors emit them.
func (r RuleResult) Spans() []Span {
	var spans []Span
	for _, v := range r.Violations {
		if n := len(spans); n > 0 && v.StartIndex <= spans[n-1].End && v.Message == spans[n-1].Message {
			if v.Index > spans[n-1].End {
				spans[n-1].End = v.Index
			}
			spans[n-1].Count++
			continue
		}
		spans = append(spans, Span{
			Start:    v.StartIndex,
			End:      v.Index,
			Count:    1,
			Severity: v.Severity,
			Message:  v.Message,
		})
	}
	return spans
}

// SummaryEntry is a violation annotated with the rule that produced it.
type SummaryEntry struct {
	Rule string `json:"rule"`
	Violation
}

// Summary groups every violation of a report by severity.
type Summary struct {
	Critical      []SummaryEntry `json:"critical"`
	High          []SummaryEntry `json:"high"`
	Medium        []SummaryEntry `json:"medium"`
	Low           []SummaryEntry `json:"low"`
	TotalCritical int            `json:"totalCritical"`
	TotalHigh     int            `json:"totalHigh"`
	TotalMedium   int            `json:"totalMedium"`
	TotalLow      int            `json:"totalLow"`
}

// Bucket returns the entries for a severity.
func (s Summary) Bucket(sev Severity) []SummaryEntry {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	}
	return nil
}

// EvaluationReport is the full result of one Evaluate call.
type EvaluationReport struct {
	Violations      map[RuleID]RuleResult `json:"violations"`
	HasViolations   bool                  `json:"hasViolations"`
	TotalViolations int                   `json:"totalViolations"`
	Summary         Summary               `json:"summary"`
}

// Rule returns the result of a single detector.
func (r *EvaluationReport) Rule(id RuleID) RuleResult {
	return r.Violations[id]
}

// Results returns the detector results in rule order.
func (r *EvaluationReport) Results() []RuleResult {
	out := make([]RuleResult, 0, len(AllRules))
	for _, id := range AllRules {
		if res, ok := r.Violations[id]; ok {
			out = append(out, res)
		}
	}
	return out
}
