package capability

import "math"

// Interpretation is the human-readable reading of a capability result.
type Interpretation struct {
	Cp             string `json:"cp"`
	Cpk            string `json:"cpk"`
	Overall        string `json:"overall"`
	Recommendation string `json:"recommendation"`
	SigmaQuality   string `json:"sigmaQuality"`
}

const (
	excellent = 2.0
	capable   = 1.33
	minimum   = 1.0
)

// Interpret grades Cp and Cpk and gives an overall assessment.
func Interpret(cp, cpk, sigmaLevel float64) Interpretation {
	var in Interpretation

	switch {
	case cp >= excellent:
		in.Cp = "Excellent - Process has excellent potential capability"
	case cp >= capable:
		in.Cp = "Good - Process has good potential capability"
	case cp >= minimum:
		in.Cp = "Marginal - Process meets minimum requirements"
	default:
		in.Cp = "Poor - Process cannot meet specifications"
	}

	switch {
	case cpk >= excellent:
		in.Cpk = "Excellent - Process is well-centered and capable"
	case cpk >= capable:
		in.Cpk = "Good - Process is capable"
	case cpk >= minimum:
		in.Cpk = "Marginal - Process barely meets specifications"
	default:
		in.Cpk = "Poor - Process produces defects"
	}

	gap := math.Abs(cp - cpk)
	switch {
	case cpk >= capable && gap < 0.2:
		in.Overall = "Process is capable and well-centered"
		in.Recommendation = "Continue monitoring. Consider process improvement for Six Sigma level."
	case cpk >= minimum && gap > 0.3:
		in.Overall = "Process has capability but is off-center"
		in.Recommendation = "Focus on centering the process mean to target value."
	case cp >= capable && cpk < minimum:
		in.Overall = "Process has potential but needs centering"
		in.Recommendation = "Adjust process mean to improve Cpk. Reduce process variation."
	default:
		in.Overall = "Process needs improvement"
		in.Recommendation = "Reduce process variation and center the process. Consider process redesign."
	}

	in.SigmaQuality = SigmaQuality(sigmaLevel)
	return in
}

// SigmaQuality names the six sigma band of a sigma level.
func SigmaQuality(level float64) string {
	switch {
	case level >= 6:
		return "6σ - World Class (3.4 DPMO)"
	case level >= 5:
		return "5σ - Excellent (233 DPMO)"
	case level >= 4:
		return "4σ - Good (6,210 DPMO)"
	case level >= 3:
		return "3σ - Average (66,807 DPMO)"
	case level >= 2:
		return "2σ - Below Average (308,537 DPMO)"
	}
	return "1σ - Poor (>690,000 DPMO)"
}
