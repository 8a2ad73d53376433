// Package limits computes control chart limits from process data.
package limits

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

const (
	MinSubgroupSize = 2
	MaxSubgroupSize = 25
	MinSpan         = 2
	MaxSpan         = 10
	DefaultSpan     = 2
	DefaultSigma    = 3.0
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrSubgroupSize     = errors.New("invalid subgroup size")
	ErrSpan             = errors.New("invalid moving range span")
)

// Chart is one plotted statistic with its center line and limits.
type Chart struct {
	Values     []float64 `json:"values"`
	CenterLine float64   `json:"centerLine"`
	UCL        float64   `json:"ucl"`
	LCL        float64   `json:"lcl"`
}

// Limits returns the chart's limits in the form the rule engine takes.
func (c Chart) Limits() rules.ControlLimits {
	return rules.ControlLimits{CenterLine: c.CenterLine, UCL: c.UCL, LCL: c.LCL}
}

type XBarRLimits struct {
	XBar         Chart     `json:"xBar"`
	Range        Chart     `json:"range"`
	SubgroupSize int       `json:"subgroupSize"`
	Constants    Constants `json:"constants"`
}

// Limits returns the X̄ chart limits.
func (l XBarRLimits) Limits() rules.ControlLimits { return l.XBar.Limits() }

type IndividualsMRLimits struct {
	Individuals     Chart     `json:"individuals"`
	MovingRange     Chart     `json:"movingRange"`
	MovingRangeSpan int       `json:"movingRangeSpan"`
	Constants       Constants `json:"constants"`
}

// Limits returns the individuals chart limits.
func (l IndividualsMRLimits) Limits() rules.ControlLimits { return l.Individuals.Limits() }

type SigmaLimits struct {
	CenterLine float64 `json:"centerLine"`
	UCL        float64 `json:"ucl"`
	LCL        float64 `json:"lcl"`
	StdDev     float64 `json:"stdDev"`
	Sigma      float64 `json:"sigma"`
}

func (l SigmaLimits) Limits() rules.ControlLimits {
	return rules.ControlLimits{CenterLine: l.CenterLine, UCL: l.UCL, LCL: l.LCL}
}

// XBarR computes X̄ and R chart limits. Every subgroup must hold the same
// number of measurements, between 2 and 25.
func XBarR(subgroups [][]float64) (XBarRLimits, error) {
	if len(subgroups) == 0 {
		return XBarRLimits{}, fmt.Errorf("%w: subgroups cannot be empty", ErrInsufficientData)
	}
	size := len(subgroups[0])
	if size < MinSubgroupSize || size > MaxSubgroupSize {
		return XBarRLimits{}, fmt.Errorf("%w: size %d, must be between %d and %d",
			ErrSubgroupSize, size, MinSubgroupSize, MaxSubgroupSize)
	}

	xbars := make([]float64, len(subgroups))
	ranges := make([]float64, len(subgroups))
	for i, sg := range subgroups {
		if len(sg) != size {
			return XBarRLimits{}, fmt.Errorf("%w: subgroup %d has %d values, want %d",
				ErrSubgroupSize, i, len(sg), size)
		}
		xbars[i] = Mean(sg)
		ranges[i] = Range(sg)
	}

	xbarbar := Mean(xbars)
	rbar := Mean(ranges)
	c := Constants{A2: a2[size], D3: d3[size], D4: d4[size]}

	return XBarRLimits{
		XBar: Chart{
			Values:     xbars,
			CenterLine: xbarbar,
			UCL:        xbarbar + c.A2*rbar,
			LCL:        xbarbar - c.A2*rbar,
		},
		Range: Chart{
			Values:     ranges,
			CenterLine: rbar,
			UCL:        c.D4 * rbar,
			LCL:        c.D3 * rbar,
		},
		SubgroupSize: size,
		Constants:    c,
	}, nil
}

// IndividualsMR computes individuals and moving range chart limits. The
// moving range of each position is max-min over the trailing span points.
func IndividualsMR(values []float64, span int) (IndividualsMRLimits, error) {
	if len(values) < 2 {
		return IndividualsMRLimits{}, fmt.Errorf("%w: need at least 2 values, got %d",
			ErrInsufficientData, len(values))
	}
	if span < MinSpan || span > MaxSpan {
		return IndividualsMRLimits{}, fmt.Errorf("%w: %d, must be between %d and %d",
			ErrSpan, span, MinSpan, MaxSpan)
	}
	if len(values) < span {
		return IndividualsMRLimits{}, fmt.Errorf("%w: span %d exceeds %d values",
			ErrInsufficientData, span, len(values))
	}

	mr := make([]float64, 0, len(values)-span+1)
	for i := span - 1; i < len(values); i++ {
		mr = append(mr, Range(values[i-span+1:i+1]))
	}

	xbar := Mean(values)
	mrbar := Mean(mr)
	lower, upper := movingRangeFactors(span)
	c := Constants{E2: e2[span], D3: lower, D4: upper}

	return IndividualsMRLimits{
		Individuals: Chart{
			Values:     slices.Clone(values),
			CenterLine: xbar,
			UCL:        xbar + c.E2*mrbar,
			LCL:        xbar - c.E2*mrbar,
		},
		MovingRange: Chart{
			Values:     mr,
			CenterLine: mrbar,
			UCL:        c.D4 * mrbar,
			LCL:        c.D3 * mrbar,
		},
		MovingRangeSpan: span,
		Constants:       c,
	}, nil
}

// Sigma computes mean ± k·s limits, s being the sample standard deviation.
func Sigma(values []float64, k float64) (SigmaLimits, error) {
	if len(values) < 2 {
		return SigmaLimits{}, fmt.Errorf("%w: need at least 2 values, got %d",
			ErrInsufficientData, len(values))
	}
	mean := Mean(values)
	sd := StdDev(values)
	return SigmaLimits{
		CenterLine: mean,
		UCL:        mean + k*sd,
		LCL:        mean - k*sd,
		StdDev:     sd,
		Sigma:      k,
	}, nil
}

// PooledStdDev averages the sample variances of the subgroups and returns
// the square root. Subgroups need at least two values each.
func PooledStdDev(subgroups [][]float64) (float64, error) {
	if len(subgroups) == 0 {
		return 0, fmt.Errorf("%w: subgroups cannot be empty", ErrInsufficientData)
	}
	var sum float64
	for i, sg := range subgroups {
		if len(sg) < 2 {
			return 0, fmt.Errorf("%w: subgroup %d has %d values", ErrSubgroupSize, i, len(sg))
		}
		sum += Variance(sg)
	}
	return math.Sqrt(sum / float64(len(subgroups))), nil
}

// Mean returns the arithmetic mean, or NaN for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the sample variance (n-1 denominator).
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(values)-1)
}

// StdDev returns the sample standard deviation.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Range returns max-min.
func Range(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return slices.Max(values) - slices.Min(values)
}
