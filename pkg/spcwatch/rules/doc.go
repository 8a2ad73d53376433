// Package rules implements the Western Electric control chart rules.
//
// Evaluate scans a series against a center line and 3σ control limits and
// reports, per rule, every window position where the rule fires:
//
//	report, err := rules.Evaluate(values, 10, 13, 7)
//	if err != nil {
//		return err
//	}
//	for _, res := range report.Results() {
//		for _, span := range res.Spans() {
//			fmt.Println(res.Rule, span.Start, span.End)
//		}
//	}
//
// Multi-point rules report one violation per qualifying window, so a single
// anomaly usually produces several overlapping violations. RuleResult.Spans
// merges them when one finding per anomaly is wanted.
package rules
