package spcwatch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/parser"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

func benchMonitor(b *testing.B, opts ...Option) *Monitor {
	b.Helper()
	base := []Option{WithDashboardPort(0), WithLogger(discardLogger())}
	return NewMonitor(append(base, opts...)...)
}

// noisy fills a chart with a deterministic pseudo-process around 10.
func noisy(b *testing.B, m *Monitor, chart string, n int) {
	b.Helper()
	for i := 0; i < n; i++ {
		v := 10 + 1.2*math.Sin(float64(i)*0.7) + 0.4*math.Cos(float64(i)*2.3)
		if err := m.Record(chart, v); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMonitorCreation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = benchMonitor(b)
	}
}

func BenchmarkPolicyLoading(b *testing.B) {
	m := benchMonitor(b)
	policy := `when chart.last > chart.ucl { alert("beyond UCL at ${chart.last}") }`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.AddPolicy("bench_policy", policy); err != nil {
			b.Fatal(err)
		}
		m.ClearPolicies()
	}
}

func BenchmarkRulesEvaluate(b *testing.B) {
	for _, n := range []int{25, 100, 1000} {
		values := make([]float64, n)
		for i := range values {
			values[i] = 10 + 1.2*math.Sin(float64(i)*0.7)
		}
		b.Run(fmt.Sprintf("points_%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := rules.Evaluate(values, 10, 13, 7); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkChartEvaluation(b *testing.B) {
	m := benchMonitor(b)
	if err := m.AddChart(ChartConfig{Name: "line1", Limits: furnaceLimits}); err != nil {
		b.Fatal(err)
	}
	if err := m.AddPolicy("bench_policy", `when chart.last > 0 { log("always true") }`); err != nil {
		b.Fatal(err)
	}
	noisy(b, m, "line1", DefaultWindow)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.EvaluateChart(ctx, "line1"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMultiplePolicyEvaluation(b *testing.B) {
	m := benchMonitor(b)
	if err := m.AddChart(ChartConfig{Name: "line1", Limits: furnaceLimits}); err != nil {
		b.Fatal(err)
	}
	policies := []string{
		`when chart.last > chart.ucl { alert("beyond UCL") }`,
		`when rule2.new > 0 { alert("mean shift", "high") }`,
		`when rule3.new > 0 && trend(6) > 0 { log("upward trend") }`,
		`when avg(10) > chart.center + 1sigma { log("drifting high") }`,
		`when violations.total > 5 { alert("unstable", "critical") }`,
	}
	for i, p := range policies {
		if err := m.AddPolicy(fmt.Sprintf("policy_%d", i), p); err != nil {
			b.Fatal(err)
		}
	}
	noisy(b, m, "line1", DefaultWindow)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.EvaluateChart(ctx, "line1"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConcurrentEvaluation(b *testing.B) {
	m := benchMonitor(b)
	for c := 0; c < 8; c++ {
		name := fmt.Sprintf("line%d", c)
		if err := m.AddChart(ChartConfig{Name: name, Limits: furnaceLimits}); err != nil {
			b.Fatal(err)
		}
		noisy(b, m, name, DefaultWindow)
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.EvaluateAll(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHighThroughput(b *testing.B) {
	m := benchMonitor(b)
	const charts = 4
	for c := 0; c < charts; c++ {
		if err := m.AddChart(ChartConfig{Name: fmt.Sprintf("line%d", c), Limits: furnaceLimits}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	var wg sync.WaitGroup
	for c := 0; c < charts; c++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < b.N; i++ {
				_ = m.Record(name, 10+float64(i%5)*0.1)
			}
		}(fmt.Sprintf("line%d", c))
	}
	wg.Wait()
}

func BenchmarkPolicyComplexity(b *testing.B) {
	policies := map[string]string{
		"simple":  `when chart.last > 0 { log("simple") }`,
		"medium":  `when chart.last > chart.ucl && rule1.new > 0 { alert("medium") }`,
		"complex": `when chart.last > chart.center + 2sigma && avg(10) > chart.center && trend(6) > 0 && violations.total > 0 { alert("complex ${chart.last}") }`,
	}
	for name, src := range policies {
		program, err := parser.Parse(src)
		if err != nil {
			b.Fatal(err)
		}
		env := &Env{
			Chart:  "line1",
			Values: []float64{9, 10, 11, 12, 12.5, 13.5},
			Limits: *furnaceLimits,
		}
		e := NewEvaluator(nil)
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			for i := 0; i < b.N; i++ {
				e.Eval(ctx, program, env)
			}
		})
	}
}
