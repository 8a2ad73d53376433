package rules

// GenerateSummary flattens rule results into severity buckets. Entries keep
// rule order, then index order within a rule. Rules missing from the map are
// skipped; rule identifiers outside AllRules are ignored.
func GenerateSummary(violationsByRule map[RuleID]RuleResult) Summary {
	s := Summary{
		Critical: []SummaryEntry{},
		High:     []SummaryEntry{},
		Medium:   []SummaryEntry{},
		Low:      []SummaryEntry{},
	}

	for _, id := range AllRules {
		res, ok := violationsByRule[id]
		if !ok {
			continue
		}
		for _, v := range res.Violations {
			entry := SummaryEntry{Rule: res.Rule, Violation: v}
			switch v.Severity {
			case SeverityCritical:
				s.Critical = append(s.Critical, entry)
			case SeverityHigh:
				s.High = append(s.High, entry)
			case SeverityMedium:
				s.Medium = append(s.Medium, entry)
			case SeverityLow:
				s.Low = append(s.Low, entry)
			}
		}
	}

	s.TotalCritical = len(s.Critical)
	s.TotalHigh = len(s.High)
	s.TotalMedium = len(s.Medium)
	s.TotalLow = len(s.Low)
	return s
}
