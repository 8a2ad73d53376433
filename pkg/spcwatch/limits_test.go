package spcwatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceLimits(t *testing.T) {
	t.Run("MaxPoliciesLimit", testMaxPoliciesLimit)
	t.Run("MaxPolicyComplexityLimit", testMaxPolicyComplexityLimit)
	t.Run("MaxChartsLimit", testMaxChartsLimit)
	t.Run("MaxWindowLimit", testMaxWindowLimit)
	t.Run("EvaluationTimeoutLimit", testEvaluationTimeoutLimit)
	t.Run("DefaultLimits", testDefaultLimits)
	t.Run("CustomLimits", testCustomLimits)
}

func testMaxPoliciesLimit(t *testing.T) {
	m, _ := newTestMonitor(t)

	l := m.GetResourceLimits()
	l.MaxPolicies = 3
	m.SetResourceLimits(l)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.AddPolicy(fmt.Sprintf("policy_%d", i), `when chart.last > 0 { log("test") }`))
	}

	err := m.AddPolicy("excess_policy", `when chart.last > 0 { log("excess") }`)
	require.Error(t, err)
	assert.True(t, IsResourceLimitError(err))
	assert.Contains(t, err.Error(), "maximum number of policies exceeded")

	// Replacing an existing policy does not count against the limit.
	assert.NoError(t, m.AddPolicy("policy_0", `log("replaced")`))
}

func testMaxPolicyComplexityLimit(t *testing.T) {
	m, _ := newTestMonitor(t)

	l := m.GetResourceLimits()
	l.MaxPolicyComplexity = 15
	m.SetResourceLimits(l)

	require.NoError(t, m.AddPolicy("simple_policy", `when chart.last > 0 { log("simple") }`))

	complexPolicy := `when chart.last > chart.ucl && rule1.new > 0 && avg(10) > chart.center + 2sigma && trend(6) > 0.5 { alert("complex") }`
	err := m.AddPolicy("complex_policy", complexPolicy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy complexity")

	var rle *ResourceLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "policy_complexity", rle.Resource)
	assert.Equal(t, 15, rle.Limit)
	assert.Greater(t, rle.Current, 15)
}

func testMaxChartsLimit(t *testing.T) {
	m, _ := newTestMonitor(t, WithResourceLimits(&ResourceLimits{
		MaxCharts:           2,
		MaxPolicies:         10,
		MaxPolicyComplexity: 100,
		MaxWindow:           100,
		MaxEvaluationTime:   time.Second,
	}))

	require.NoError(t, m.AddChart(ChartConfig{Name: "a", Limits: furnaceLimits}))
	require.NoError(t, m.AddChart(ChartConfig{Name: "b", Limits: furnaceLimits}))

	err := m.AddChart(ChartConfig{Name: "c", Limits: furnaceLimits})
	require.Error(t, err)
	assert.True(t, IsResourceLimitError(err))
	assert.Contains(t, err.Error(), "maximum number of charts exceeded")

	require.NoError(t, m.RemoveChart("a"))
	assert.NoError(t, m.AddChart(ChartConfig{Name: "c", Limits: furnaceLimits}))
}

func testMaxWindowLimit(t *testing.T) {
	l := DefaultResourceLimits()
	l.MaxWindow = 20
	m, _ := newTestMonitor(t, WithResourceLimits(l), WithWindow(500))
	require.NoError(t, m.AddChart(ChartConfig{Name: "a", Limits: furnaceLimits}))

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Record("a", 10+float64(i%2)))
	}
	_, err := m.EvaluateChart(context.Background(), "a")
	require.NoError(t, err)

	recs, err := m.Report("a")
	require.NoError(t, err)
	// Rule 7 fires once per window position: 20 samples hold 6 windows of 15.
	assert.Len(t, recs.Report.Rule("rule7").Violations, 6)
}

func testEvaluationTimeoutLimit(t *testing.T) {
	m, _ := newTestMonitor(t, WithInterval(5*time.Millisecond))

	l := m.GetResourceLimits()
	l.MaxEvaluationTime = time.Millisecond
	m.SetResourceLimits(l)

	require.NoError(t, m.AddChart(ChartConfig{Name: "a", Limits: furnaceLimits}))
	require.NoError(t, m.AddPolicy("timeout_policy", `when chart.last > 0 { log("timeout test") }`))
	require.NoError(t, m.Record("a", 10))

	// A cancelled evaluation is reported as a policy error, not a failure.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.EvaluateChart(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Policies()[0].Errors)

	m.Start()
	defer m.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.True(t, m.IsRunning(), "monitor should still be running after evaluation timeouts")
}

func testDefaultLimits(t *testing.T) {
	l := NewMonitor(WithDashboardPort(0)).GetResourceLimits()

	assert.Positive(t, l.MaxCharts)
	assert.LessOrEqual(t, l.MaxCharts, 10000)
	assert.Positive(t, l.MaxPolicies)
	assert.Positive(t, l.MaxPolicyComplexity)
	assert.LessOrEqual(t, l.MaxPolicyComplexity, 100000)
	assert.GreaterOrEqual(t, l.MaxWindow, DefaultWindow)
	assert.Positive(t, l.MaxEvaluationTime)
	assert.LessOrEqual(t, l.MaxEvaluationTime, 10*time.Second)
}

func testCustomLimits(t *testing.T) {
	m := NewMonitor(WithDashboardPort(0))

	custom := &ResourceLimits{
		MaxCharts:           50,
		MaxPolicies:         20,
		MaxPolicyComplexity: 500,
		MaxWindow:           5000,
		MaxEvaluationTime:   500 * time.Millisecond,
	}
	m.SetResourceLimits(custom)

	assert.Equal(t, *custom, *m.GetResourceLimits())

	// The returned limits are a copy.
	got := m.GetResourceLimits()
	got.MaxCharts = 1
	assert.Equal(t, 50, m.GetResourceLimits().MaxCharts)
}
