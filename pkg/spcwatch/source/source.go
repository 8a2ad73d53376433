// Package source supplies measurements to a Monitor.
package source

import (
	"context"
	"time"
)

// Reading is one measurement for a chart.
type Reading struct {
	Chart string    `json:"chart"`
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// Source is polled periodically for new readings.
type Source interface {
	Poll(ctx context.Context) ([]Reading, error)
}

// Func adapts a plain function to Source.
type Func func(ctx context.Context) ([]Reading, error)

func (f Func) Poll(ctx context.Context) ([]Reading, error) { return f(ctx) }
