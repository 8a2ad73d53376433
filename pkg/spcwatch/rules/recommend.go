package rules

// Advisory text returned by RecommendedActions.
const (
	ActionInvestigate   = "IMMEDIATE ACTION REQUIRED: Investigate special causes. Stop production if necessary."
	ActionMeanShift     = "Process mean has shifted. Check for systematic changes in materials, operators, or equipment."
	ActionTrend         = "Trend detected. Check for tool wear, temperature drift, or gradual changes in process."
	ActionAlternation   = "Excessive alternation detected. Check for systematic alternating causes or overcontrol."
	ActionProcessShift  = "Process shift detected. Investigate recent changes in process parameters."
	ActionLowVariation  = "Unusually low variation. Verify data collection process and measurement system."
	ActionHighVariation = "High variation detected. Check for multiple process streams or inconsistent inputs."
	ActionInControl     = "Process is in statistical control. Continue routine monitoring."
)

// RecommendedActions maps every fired rule to its advisory. Rules 5 and 6
// share one entry. When nothing fired the in-control message is returned.
func RecommendedActions(violationsByRule map[RuleID]RuleResult) []string {
	fired := func(id RuleID) bool {
		return len(violationsByRule[id].Violations) > 0
	}

	var actions []string
	if fired(Rule1) {
		actions = append(actions, ActionInvestigate)
	}
	if fired(Rule2) {
		actions = append(actions, ActionMeanShift)
	}
	if fired(Rule3) {
		actions = append(actions, ActionTrend)
	}
	if fired(Rule4) {
		actions = append(actions, ActionAlternation)
	}
	if fired(Rule5) || fired(Rule6) {
		actions = append(actions, ActionProcessShift)
	}
	if fired(Rule7) {
		actions = append(actions, ActionLowVariation)
	}
	if fired(Rule8) {
		actions = append(actions, ActionHighVariation)
	}

	if len(actions) == 0 {
		return []string{ActionInControl}
	}
	return actions
}
