package limits

// Control chart constants indexed by subgroup size (or moving range span).
var (
	a2 = map[int]float64{
		2: 1.880, 3: 1.023, 4: 0.729, 5: 0.577, 6: 0.483,
		7: 0.419, 8: 0.373, 9: 0.337, 10: 0.308, 11: 0.285,
		12: 0.266, 13: 0.249, 14: 0.235, 15: 0.223, 16: 0.212,
		17: 0.203, 18: 0.194, 19: 0.187, 20: 0.180, 21: 0.173,
		22: 0.167, 23: 0.162, 24: 0.157, 25: 0.153,
	}
	d3 = map[int]float64{
		2: 0, 3: 0, 4: 0, 5: 0, 6: 0, 7: 0.076,
		8: 0.136, 9: 0.184, 10: 0.223, 11: 0.256, 12: 0.283,
		13: 0.307, 14: 0.328, 15: 0.347, 16: 0.363, 17: 0.378,
		18: 0.391, 19: 0.403, 20: 0.415, 21: 0.425, 22: 0.434,
		23: 0.443, 24: 0.451, 25: 0.459,
	}
	d4 = map[int]float64{
		2: 3.267, 3: 2.574, 4: 2.282, 5: 2.114, 6: 2.004,
		7: 1.924, 8: 1.864, 9: 1.816, 10: 1.777, 11: 1.744,
		12: 1.716, 13: 1.692, 14: 1.671, 15: 1.652, 16: 1.636,
		17: 1.621, 18: 1.608, 19: 1.596, 20: 1.585, 21: 1.575,
		22: 1.566, 23: 1.557, 24: 1.548, 25: 1.541,
	}
	e2 = map[int]float64{
		2: 2.660, 3: 1.772, 4: 1.457, 5: 1.290, 6: 1.184,
		7: 1.109, 8: 1.054, 9: 1.010, 10: 0.975,
	}
	d3MR = map[int]float64{
		2: 0, 3: 0, 4: 0, 5: 0, 6: 0, 7: 0.205,
	}
	d4MR = map[int]float64{
		2: 3.267, 3: 2.574, 4: 2.282, 5: 2.114, 6: 2.004, 7: 1.924,
	}
)

// Constants is the set of factors used for one calculation.
type Constants struct {
	A2 float64 `json:"A2,omitempty"`
	D3 float64 `json:"D3"`
	D4 float64 `json:"D4"`
	E2 float64 `json:"E2,omitempty"`
}

// movingRangeFactors returns the MR chart factors for a span. Spans above 7
// use the subgroup range table, which carries the same values.
func movingRangeFactors(span int) (lower, upper float64) {
	if u, ok := d4MR[span]; ok {
		return d3MR[span], u
	}
	return d3[span], d4[span]
}
