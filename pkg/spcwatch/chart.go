package spcwatch

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/limits"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/metrics"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

const minHistory = 1000

var chartNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// ChartConfig describes one monitored characteristic. Either Limits or a
// positive Baseline must be given; with a baseline the limits are derived
// from the first Baseline samples using an individuals chart.
type ChartConfig struct {
	Name        string
	Description string
	Unit        string
	Limits      *rules.ControlLimits
	Baseline    int
	Span        int // moving range span for baseline limits, default 2
	Spec        *capability.SpecLimits
}

func (c ChartConfig) validate() error {
	if !chartNamePattern.MatchString(c.Name) {
		return fmt.Errorf("%w: chart name %q must be 1-64 characters of letters, digits, '.', '_' or '-'",
			rules.ErrInvalidInput, c.Name)
	}
	if c.Limits != nil {
		if err := c.Limits.Validate(); err != nil {
			return fmt.Errorf("chart %s: %w", c.Name, err)
		}
	} else if c.Baseline < 2 {
		return fmt.Errorf("%w: chart %s needs control limits or a baseline of at least 2 samples",
			rules.ErrInvalidInput, c.Name)
	}
	if c.Span < 0 {
		return fmt.Errorf("%w: chart %s: negative span", rules.ErrInvalidInput, c.Name)
	}
	if c.Spec != nil {
		if err := c.Spec.Validate(); err != nil {
			return fmt.Errorf("chart %s: %w", c.Name, err)
		}
	}
	return nil
}

// ChartSnapshot is a point-in-time view of a chart.
type ChartSnapshot struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Unit            string                 `json:"unit,omitempty"`
	Limits          *rules.ControlLimits   `json:"limits,omitempty"`
	LimitsDerived   bool                   `json:"limitsDerived"`
	Baseline        int                    `json:"baseline,omitempty"`
	Spec            *capability.SpecLimits `json:"spec,omitempty"`
	Samples         int                    `json:"samples"`
	Total           uint64                 `json:"total"`
	Last            *float64               `json:"last,omitempty"`
	LastUpdate      time.Time              `json:"lastUpdate,omitempty"`
	LastEvaluation  time.Time              `json:"lastEvaluation,omitempty"`
	HasViolations   bool                   `json:"hasViolations"`
	TotalViolations int                    `json:"totalViolations"`
	Critical        int                    `json:"critical"`
	High            int                    `json:"high"`
	Medium          int                    `json:"medium"`
	Low             int                    `json:"low"`
	Capability      *capability.Result     `json:"capability,omitempty"`
}

// ChartReport is the latest evaluation of a chart with derived guidance.
type ChartReport struct {
	Chart           ChartSnapshot                 `json:"chart"`
	Report          *rules.EvaluationReport       `json:"report,omitempty"`
	Spans           map[rules.RuleID][]rules.Span `json:"spans,omitempty"`
	Recommendations []string                      `json:"recommendations,omitempty"`
}

type violationKey struct {
	rule rules.RuleID
	seq  uint64
}

type chart struct {
	cfg    ChartConfig
	series *metrics.Series

	// evalMu serializes evaluations so deduplication sees a consistent order.
	evalMu sync.Mutex

	mu         sync.RWMutex
	limits     rules.ControlLimits
	hasLimits  bool
	derived    bool
	seen       map[violationKey]struct{}
	report     *rules.EvaluationReport
	evaluated  time.Time
	capability *capability.Result
}

func newChart(cfg ChartConfig, window int) *chart {
	if cfg.Span == 0 {
		cfg.Span = limits.DefaultSpan
	}
	history := max(window, cfg.Baseline, minHistory)
	c := &chart{
		cfg:    cfg,
		series: metrics.NewSeries(history),
		seen:   make(map[violationKey]struct{}),
	}
	if cfg.Limits != nil {
		c.limits = *cfg.Limits
		c.hasLimits = true
	}
	return c
}

func (c *chart) currentLimits() (rules.ControlLimits, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits, c.hasLimits
}

func (c *chart) setLimits(l rules.ControlLimits, derived bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = l
	c.hasLimits = true
	c.derived = derived
	// Old findings were judged against other limits.
	c.seen = make(map[violationKey]struct{})
}

// deriveLimits computes individuals-chart limits from the most recent
// baseline samples once enough have arrived. It reports whether limits
// were set by this call.
func (c *chart) deriveLimits() (bool, error) {
	if _, ok := c.currentLimits(); ok || c.cfg.Baseline == 0 {
		return false, nil
	}
	if c.series.Total() < uint64(c.cfg.Baseline) {
		return false, nil
	}
	baseline := metrics.Values(c.series.Window(c.cfg.Baseline))
	l, err := limitsFromValues(baseline, c.cfg.Span)
	if err != nil {
		return false, err
	}
	c.setLimits(l, true)
	return true, nil
}

// limitsFromValues builds individuals-chart limits. A baseline without any
// variation yields limits that fail validation.
func limitsFromValues(values []float64, span int) (rules.ControlLimits, error) {
	res, err := limits.IndividualsMR(values, span)
	if err != nil {
		return rules.ControlLimits{}, err
	}
	l := res.Limits()
	if err := l.Validate(); err != nil {
		return rules.ControlLimits{}, err
	}
	return l, nil
}

// markNew records the violations of report and returns those not seen in an
// earlier evaluation. A violation is identified by its rule and the sequence
// number of the sample that closes its window, so re-scanning the same data
// yields nothing new.
func (c *chart) markNew(report *rules.EvaluationReport, samples []metrics.Sample) []newViolation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fresh []newViolation
	for _, id := range rules.AllRules {
		for _, v := range report.Rule(id).Violations {
			if v.Index < 0 || v.Index >= len(samples) {
				continue
			}
			key := violationKey{rule: id, seq: samples[v.Index].Seq}
			if _, ok := c.seen[key]; ok {
				continue
			}
			c.seen[key] = struct{}{}
			fresh = append(fresh, newViolation{Rule: id, Violation: v, Seq: key.seq})
		}
	}

	if len(samples) > 0 {
		oldest := samples[0].Seq
		for key := range c.seen {
			if key.seq < oldest {
				delete(c.seen, key)
			}
		}
	}
	return fresh
}

type newViolation struct {
	Rule rules.RuleID
	rules.Violation
	Seq uint64
}

func (c *chart) record(report *rules.EvaluationReport, capResult *capability.Result, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = report
	c.capability = capResult
	c.evaluated = at
}

func (c *chart) snapshot() ChartSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := ChartSnapshot{
		Name:           c.cfg.Name,
		Description:    c.cfg.Description,
		Unit:           c.cfg.Unit,
		LimitsDerived:  c.derived,
		Baseline:       c.cfg.Baseline,
		Spec:           c.cfg.Spec,
		Samples:        c.series.Len(),
		Total:          c.series.Total(),
		LastEvaluation: c.evaluated,
		Capability:     c.capability,
	}
	if c.hasLimits {
		l := c.limits
		snap.Limits = &l
	}
	if last, ok := c.series.Last(); ok {
		v := last.Value
		snap.Last = &v
		snap.LastUpdate = last.Timestamp
	}
	if c.report != nil {
		snap.HasViolations = c.report.HasViolations
		snap.TotalViolations = c.report.TotalViolations
		snap.Critical = c.report.Summary.TotalCritical
		snap.High = c.report.Summary.TotalHigh
		snap.Medium = c.report.Summary.TotalMedium
		snap.Low = c.report.Summary.TotalLow
	}
	return snap
}

func (c *chart) latestReport() *rules.EvaluationReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}
