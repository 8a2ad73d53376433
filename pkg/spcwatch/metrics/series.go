package metrics

import (
	"math"
	"sync"
	"time"
)

// Sample is one recorded measurement. Seq increases by one per Add and is
// never reused, so it identifies a sample after older ones are evicted.
type Sample struct {
	Seq       uint64    `json:"seq"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Series is a bounded, concurrency-safe history of samples for one chart.
type Series struct {
	mu         sync.RWMutex
	history    []Sample
	maxHistory int
	nextSeq    uint64
}

func NewSeries(maxHistory int) *Series {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Series{
		history:    make([]Sample, 0, maxHistory),
		maxHistory: maxHistory,
	}
}

// Add appends a sample and evicts the oldest one when the series is full.
func (s *Series) Add(value float64, ts time.Time) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := Sample{Seq: s.nextSeq, Value: value, Timestamp: ts}
	s.nextSeq++

	s.history = append(s.history, sample)
	if len(s.history) > s.maxHistory {
		copy(s.history, s.history[1:])
		s.history = s.history[:s.maxHistory]
	}
	return sample
}

func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Total is the number of samples ever added.
func (s *Series) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

func (s *Series) Last() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return Sample{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of every retained sample, oldest first.
func (s *Series) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.history))
	copy(out, s.history)
	return out
}

// Window returns a copy of the most recent n samples (all when n <= 0).
func (s *Series) Window(n int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && n < len(s.history) {
		start = len(s.history) - n
	}
	out := make([]Sample, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// HistoryWindow returns the samples timestamped within d of now, oldest
// first.
func (s *Series) HistoryWindow(d time.Duration) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-d)
	var out []Sample
	for _, sample := range s.history {
		if sample.Timestamp.After(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

// Values extracts the measurement values of samples.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// Tail returns the last n values (all when n exceeds the length).
func Tail(values []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// Average of the last n values, 0 when there are none.
func Average(values []float64, n int) float64 {
	tail := Tail(values, n)
	if len(tail) == 0 {
		return 0
	}
	var sum float64
	for _, v := range tail {
		sum += v
	}
	return sum / float64(len(tail))
}

// Max of the last n values, 0 when there are none.
func Max(values []float64, n int) float64 {
	tail := Tail(values, n)
	if len(tail) == 0 {
		return 0
	}
	m := tail[0]
	for _, v := range tail[1:] {
		m = math.Max(m, v)
	}
	return m
}

// Min of the last n values, 0 when there are none.
func Min(values []float64, n int) float64 {
	tail := Tail(values, n)
	if len(tail) == 0 {
		return 0
	}
	m := tail[0]
	for _, v := range tail[1:] {
		m = math.Min(m, v)
	}
	return m
}

// Trend is the least-squares slope per sample over the last n values.
// Fewer than two values give 0.
func Trend(values []float64, n int) float64 {
	tail := Tail(values, n)
	k := float64(len(tail))
	if k < 2 {
		return 0
	}
	var sx, sy, sxx, sxy float64
	for i, y := range tail {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := k*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (k*sxy - sx*sy) / den
}
