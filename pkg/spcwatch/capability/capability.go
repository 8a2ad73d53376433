// Package capability computes process capability and performance indices
// against specification limits.
package capability

import (
	"errors"
	"fmt"
	"math"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/limits"
)

const (
	MinSamples        = 30
	MinMachineSamples = 50
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidSpec      = errors.New("invalid specification limits")
	ErrNoVariation      = errors.New("no variation in data")
	ErrConfidence       = errors.New("confidence level must be 0.90, 0.95, or 0.99")
)

// SpecLimits are the customer specification limits of a characteristic.
type SpecLimits struct {
	USL float64 `json:"usl" yaml:"usl"`
	LSL float64 `json:"lsl" yaml:"lsl"`
}

func (s SpecLimits) Validate() error {
	if math.IsNaN(s.USL) || math.IsNaN(s.LSL) || !(s.USL > s.LSL) {
		return fmt.Errorf("%w: USL must be greater than LSL (usl=%g lsl=%g)", ErrInvalidSpec, s.USL, s.LSL)
	}
	return nil
}

// Width is USL-LSL.
func (s SpecLimits) Width() float64 { return s.USL - s.LSL }

// Midpoint is the default process target.
func (s SpecLimits) Midpoint() float64 { return (s.USL + s.LSL) / 2 }

type options struct {
	target      *float64
	shortTermSD float64
}

// Option tunes Analyze.
type Option func(*options)

// WithTarget sets the process target used by Cpm and centering.
func WithTarget(target float64) Option {
	return func(o *options) { o.target = &target }
}

// WithShortTermStdDev supplies a within-subgroup σ (see limits.PooledStdDev)
// for the Cp family. Non-positive values are ignored.
func WithShortTermStdDev(sd float64) Option {
	return func(o *options) { o.shortTermSD = sd }
}

// Result holds the capability indices of one analysis.
type Result struct {
	Cp  float64 `json:"cp"`
	Cpk float64 `json:"cpk"`
	Cpu float64 `json:"cpu"`
	Cpl float64 `json:"cpl"`
	Pp  float64 `json:"pp"`
	Ppk float64 `json:"ppk"`
	Ppu float64 `json:"ppu"`
	Ppl float64 `json:"ppl"`
	Cpm float64 `json:"cpm"`

	SigmaLevel float64 `json:"sigmaLevel"`
	DPMO       float64 `json:"dpmo"`
	Yield      float64 `json:"yield"`

	N               int     `json:"n"`
	Mean            float64 `json:"mean"`
	StdDev          float64 `json:"stdDev"`
	ShortTermStdDev float64 `json:"shortTermStdDev"`
	Target          float64 `json:"target"`
	Centering       float64 `json:"centering"`

	Interpretation Interpretation `json:"interpretation"`
}

// Analyze computes capability (short-term σ) and performance (overall σ)
// indices. It needs at least 30 finite values with non-zero spread and
// USL > LSL.
func Analyze(values []float64, spec SpecLimits, opts ...Option) (Result, error) {
	if len(values) < MinSamples {
		return Result{}, fmt.Errorf("%w: need at least %d values for capability analysis, got %d",
			ErrInsufficientData, MinSamples, len(values))
	}
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	n := len(values)
	mean := limits.Mean(values)
	variance := limits.Variance(values)
	sd := math.Sqrt(variance)
	if err := checkSpread(sd); err != nil {
		return Result{}, err
	}

	shortSD := sd
	if o.shortTermSD > 0 {
		shortSD = o.shortTermSD
	}
	target := spec.Midpoint()
	if o.target != nil {
		target = *o.target
	}

	r := Result{
		N:               n,
		Mean:            mean,
		StdDev:          sd,
		ShortTermStdDev: shortSD,
		Target:          target,
	}

	r.Cp = spec.Width() / (6 * shortSD)
	r.Cpu = (spec.USL - mean) / (3 * shortSD)
	r.Cpl = (mean - spec.LSL) / (3 * shortSD)
	r.Cpk = math.Min(r.Cpu, r.Cpl)

	r.Pp = spec.Width() / (6 * sd)
	r.Ppu = (spec.USL - mean) / (3 * sd)
	r.Ppl = (mean - spec.LSL) / (3 * sd)
	r.Ppk = math.Min(r.Ppu, r.Ppl)

	offset := mean - target
	r.Cpm = spec.Width() / (6 * math.Sqrt(variance+offset*offset))

	// Long-term Z plus the conventional 1.5σ shift.
	r.SigmaLevel = 3*r.Cpk + 1.5

	defects := countDefects(values, spec)
	r.DPMO = float64(defects) / float64(n) * 1e6
	r.Yield = float64(n-defects) / float64(n) * 100
	r.Centering = offset / (spec.Width() / 2)

	r.Interpretation = Interpret(r.Cp, r.Cpk, r.SigmaLevel)
	return r, nil
}

// checkSpread rejects a standard deviation that would turn the indices into
// ±Inf or NaN.
func checkSpread(sd float64) error {
	if math.IsNaN(sd) || math.IsInf(sd, 0) {
		return fmt.Errorf("%w: values must be finite", ErrInsufficientData)
	}
	if sd == 0 {
		return fmt.Errorf("%w: all values are identical", ErrNoVariation)
	}
	return nil
}

func countDefects(values []float64, spec SpecLimits) int {
	defects := 0
	for _, v := range values {
		if v < spec.LSL || v > spec.USL {
			defects++
		}
	}
	return defects
}

// DPMO returns out-of-spec measurements per million. Empty input yields 0.
func DPMO(values []float64, spec SpecLimits) float64 {
	if len(values) == 0 {
		return 0
	}
	return float64(countDefects(values, spec)) / float64(len(values)) * 1e6
}

// ZScore standardises x.
func ZScore(x, mean, stdDev float64) float64 {
	return (x - mean) / stdDev
}

// Interval is a two-sided confidence interval.
type Interval struct {
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Confidence float64 `json:"confidence"`
}

var zValues = map[float64]float64{
	0.90: 1.645,
	0.95: 1.960,
	0.99: 2.576,
}

// CpkConfidenceInterval returns the normal-approximation interval for Cpk
// estimated from n samples.
func CpkConfidenceInterval(cpk float64, n int, confidence float64) (Interval, error) {
	z, ok := zValues[confidence]
	if !ok {
		return Interval{}, fmt.Errorf("%w: got %v", ErrConfidence, confidence)
	}
	if n < 2 {
		return Interval{}, fmt.Errorf("%w: need at least 2 samples", ErrInsufficientData)
	}
	nf := float64(n)
	se := cpk * math.Sqrt(1/(9*nf*cpk*cpk)+1/(2*(nf-1)))
	return Interval{
		Lower:      cpk - z*se,
		Upper:      cpk + z*se,
		Confidence: confidence,
	}, nil
}

// MachineResult holds machine capability indices.
type MachineResult struct {
	Cm     float64 `json:"cm"`
	Cmk    float64 `json:"cmk"`
	Cmu    float64 `json:"cmu"`
	Cml    float64 `json:"cml"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
}

// Machine computes Cm/Cmk for a short machine study of at least 50
// consecutive parts.
func Machine(values []float64, spec SpecLimits) (MachineResult, error) {
	if len(values) < MinMachineSamples {
		return MachineResult{}, fmt.Errorf("%w: need at least %d consecutive values for machine capability, got %d",
			ErrInsufficientData, MinMachineSamples, len(values))
	}
	if err := spec.Validate(); err != nil {
		return MachineResult{}, err
	}
	mean := limits.Mean(values)
	sd := limits.StdDev(values)
	if err := checkSpread(sd); err != nil {
		return MachineResult{}, err
	}
	r := MachineResult{
		Cm:     spec.Width() / (6 * sd),
		Cmu:    (spec.USL - mean) / (3 * sd),
		Cml:    (mean - spec.LSL) / (3 * sd),
		Mean:   mean,
		StdDev: sd,
	}
	r.Cmk = math.Min(r.Cmu, r.Cml)
	return r, nil
}
