package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// Process describes a simulated in-control process.
type Process struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stdDev" yaml:"stddev" validate:"gte=0"`
	// ShiftProbability is the chance that a reading is displaced by 1 to 4
	// standard deviations in a random direction.
	ShiftProbability float64 `json:"shiftProbability" yaml:"shift_probability" validate:"gte=0,lte=1"`
	// Drift is added to the mean after every reading.
	Drift float64 `json:"drift" yaml:"drift"`
}

// Simulator generates normally distributed readings for a set of charts.
type Simulator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	processes map[string]*Process
	scripts   map[string][]float64
	now       func() time.Time
}

// NewSimulator creates a simulator whose output is reproducible for a seed.
func NewSimulator(seed uint64) *Simulator {
	return &Simulator{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		processes: make(map[string]*Process),
		scripts:   make(map[string][]float64),
		now:       time.Now,
	}
}

func (s *Simulator) AddProcess(chart string, p Process) error {
	if chart == "" {
		return fmt.Errorf("chart name is required")
	}
	if p.StdDev < 0 || p.ShiftProbability < 0 || p.ShiftProbability > 1 {
		return fmt.Errorf("invalid process for %s", chart)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[chart] = &p
	return nil
}

// Script queues exact values for chart; they are emitted before any
// random readings resume.
func (s *Simulator) Script(chart string, values ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[chart] = append(s.scripts[chart], values...)
}

// Next draws one reading for chart.
func (s *Simulator) Next(chart string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next(chart)
}

func (s *Simulator) next(chart string) (float64, error) {
	if q := s.scripts[chart]; len(q) > 0 {
		s.scripts[chart] = q[1:]
		return q[0], nil
	}
	p, ok := s.processes[chart]
	if !ok {
		return 0, fmt.Errorf("unknown chart %q", chart)
	}

	mean := p.Mean
	if p.ShiftProbability > 0 && s.rng.Float64() < p.ShiftProbability {
		dir := 1.0
		if s.rng.Float64() <= 0.5 {
			dir = -1
		}
		mean += dir * (s.rng.Float64()*3 + 1) * p.StdDev
	}
	p.Mean += p.Drift
	return mean + s.rng.NormFloat64()*p.StdDev, nil
}

// Poll returns one reading per process, ordered by chart name.
func (s *Simulator) Poll(ctx context.Context) ([]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	charts := make([]string, 0, len(s.processes))
	for name := range s.processes {
		charts = append(charts, name)
	}
	for name := range s.scripts {
		if _, ok := s.processes[name]; !ok && len(s.scripts[name]) > 0 {
			charts = append(charts, name)
		}
	}
	sort.Strings(charts)

	ts := s.now()
	out := make([]Reading, 0, len(charts))
	for _, c := range charts {
		v, err := s.next(c)
		if err != nil {
			return nil, err
		}
		out = append(out, Reading{Chart: c, Value: v, Time: ts})
	}
	return out, nil
}

// Generate draws n readings for chart, as a baseline series.
func (s *Simulator) Generate(chart string, n int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		v, err := s.next(chart)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
