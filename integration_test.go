package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/config"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/source"
)

type captured struct {
	mu      sync.Mutex
	actions []actions.Action
}

func (c *captured) Handle(_ context.Context, a actions.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, a)
	return nil
}

func (c *captured) ofType(t actions.ActionType) []actions.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []actions.Action
	for _, a := range c.actions {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func newMonitor(t *testing.T, extra ...spcwatch.Option) (*spcwatch.Monitor, *captured) {
	t.Helper()
	c := &captured{}
	opts := []spcwatch.Option{
		spcwatch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		spcwatch.WithDashboardPort(0),
		spcwatch.WithRegisterer(prometheus.NewRegistry()),
		spcwatch.WithInterval(20 * time.Millisecond),
	}
	for _, at := range []actions.ActionType{actions.AlertAction, actions.LogAction, actions.ViolationAction} {
		opts = append(opts, spcwatch.WithHandler(at, c))
	}
	m := spcwatch.NewMonitor(append(opts, extra...)...)
	return m, c
}

func TestIntegrationSuite(t *testing.T) {
	t.Run("MonitorLifecycle", testMonitorLifecycle)
	t.Run("PolicyProcessing", testPolicyProcessing)
	t.Run("SimulatedIngest", testSimulatedIngest)
	t.Run("DashboardAPI", testDashboardAPI)
	t.Run("ConcurrentOperations", testConcurrentOperations)
	t.Run("ErrorHandling", testErrorHandling)
}

func testMonitorLifecycle(t *testing.T) {
	m, _ := newMonitor(t)
	assert.False(t, m.IsRunning())

	require.NoError(t, m.AddPolicy("always", `when chart.count > 0 { log("${chart.name} seen") }`))

	m.Start()
	assert.True(t, m.IsRunning())
	time.Sleep(60 * time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())
}

func testPolicyProcessing(t *testing.T) {
	m, _ := newMonitor(t)

	tests := []struct {
		name    string
		policy  string
		wantErr bool
	}{
		{"simple comparison", `when chart.last > chart.ucl { alert("above UCL") }`, false},
		{"complex condition", `when violations.new > 0 && rule2.count > 0 { alert("shift", "high") }`, false},
		{"aggregation", `when avg(10) > chart.center + 2 sigma { log("running high") }`, false},
		{"invalid syntax", `when chart.last > { alert("invalid") }`, true},
		{"unterminated block", `when chart.last > 1 { alert("x")`, true},
		{"unknown field loads", `when chart.nothing > 1 { log("never") }`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.AddPolicy(strings.ReplaceAll(tt.name, " ", "_"), tt.policy)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	m.ClearPolicies()
	assert.Empty(t, m.Policies())
}

func testSimulatedIngest(t *testing.T) {
	m, _ := newMonitor(t)
	require.NoError(t, m.AddChart(spcwatch.ChartConfig{
		Name:   "line-a",
		Limits: &rules.ControlLimits{CenterLine: 100, UCL: 106, LCL: 94},
	}))

	sim := source.NewSimulator(42)
	require.NoError(t, sim.AddProcess("line-a", source.Process{Mean: 100, StdDev: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := m.Ingest(ctx, sim, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap, err := m.Chart("line-a")
	require.NoError(t, err)
	assert.Greater(t, snap.Total, uint64(5))

	require.NoError(t, m.EvaluateAll(context.Background()))
}

func testDashboardAPI(t *testing.T) {
	m, _ := newMonitor(t, spcwatch.WithDashboardPort(19191), spcwatch.WithDashboardRateLimit(0, 0))
	require.NoError(t, m.AddChart(spcwatch.ChartConfig{
		Name:   "line-a",
		Limits: &rules.ControlLimits{CenterLine: 10, UCL: 13, LCL: 7},
	}))
	require.NoError(t, m.AddPolicy("p", `when chart.last > chart.ucl { alert("high") }`))

	srv := httptest.NewServer(m.Dashboard().Handler())
	defer srv.Close()

	tests := []struct {
		name     string
		endpoint string
		status   int
	}{
		{"dashboard root", "/", http.StatusOK},
		{"charts", "/api/charts", http.StatusOK},
		{"policies", "/api/policies", http.StatusOK},
		{"events", "/api/events", http.StatusOK},
		{"alerts", "/api/alerts", http.StatusOK},
		{"unknown chart report", "/api/charts/report?name=nope", http.StatusNotFound},
		{"non-existent endpoint", "/api/nonexistent", http.StatusNotFound},
	}
	client := &http.Client{Timeout: 5 * time.Second}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Get(srv.URL + tt.endpoint)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			if strings.HasPrefix(tt.endpoint, "/api/") && resp.StatusCode == http.StatusOK {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "ok", body["status"])
			}
		})
	}

	body := `{"values":[10,11,20,10],"centerLine":10,"upperControlLimit":13,"lowerControlLimit":7}`
	resp, err := client.Post(srv.URL+"/api/evaluate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Data struct {
			Report struct {
				TotalViolations int `json:"totalViolations"`
			} `json:"report"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Data.Report.TotalViolations)
}

func testConcurrentOperations(t *testing.T) {
	m, _ := newMonitor(t)
	m.Start()
	defer m.Stop()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		require.NoError(t, m.AddChart(spcwatch.ChartConfig{Name: fmt.Sprintf("c%d", i), Baseline: 20}))
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				src := fmt.Sprintf(`when chart.last > %d { log("worker %d-%d") }`, j*10, id, j)
				assert.NoError(t, m.AddPolicy(fmt.Sprintf("concurrent_%d_%d", id, j), src))
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.Policies(), workers*5)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("c%d", id)
			for j := 0; j < 100; j++ {
				assert.NoError(t, m.Record(name, float64(j%7)))
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, m.EvaluateAll(context.Background()))
	for _, snap := range m.Charts() {
		assert.Equal(t, uint64(100), snap.Total)
		assert.True(t, snap.LimitsDerived)
	}
}

func testErrorHandling(t *testing.T) {
	m, _ := newMonitor(t)

	malformed := []string{
		`when { alert("missing condition") }`,
		`when chart.last > { alert("missing value") }`,
		`when chart.last > 1 alert("missing braces")`,
		`when chart.last > 1 { when chart.last > 2 { log("nested") } }`,
	}
	for i, src := range malformed {
		assert.Error(t, m.AddPolicy(fmt.Sprintf("malformed_%d", i), src), src)
	}
	assert.NoError(t, m.AddPolicy("valid_after_errors", `when chart.count > 0 { log("still working") }`))

	assert.ErrorIs(t, m.Record("missing", 1), spcwatch.ErrUnknownChart)
	assert.Error(t, m.AddChart(spcwatch.ChartConfig{Name: "bad name!", Baseline: 10}))
	assert.Error(t, m.AddChart(spcwatch.ChartConfig{
		Name:   "inverted",
		Limits: &rules.ControlLimits{CenterLine: 10, UCL: 7, LCL: 13},
	}))

	require.NoError(t, m.AddChart(spcwatch.ChartConfig{Name: "pending", Baseline: 30}))
	require.NoError(t, m.Record("pending", 1))
	_, err := m.EvaluateChart(context.Background(), "pending")
	assert.ErrorIs(t, err, spcwatch.ErrLimitsPending)
}

func TestPolicyFiles(t *testing.T) {
	policies, err := config.LoadPolicies("spcwatch-example/policies")
	require.NoError(t, err)
	require.NotEmpty(t, policies)

	m, _ := newMonitor(t)
	require.NoError(t, m.ReplacePolicies(policies))
	assert.Len(t, m.Policies(), len(policies))
}

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}

	for _, pkg := range []string{
		"./spcwatch-example/cmd/server",
		"./spcwatch-example/cmd/loadgen",
		"./cmd/spcctl",
		"./cmd/demo",
	} {
		t.Run(pkg, func(t *testing.T) {
			out := t.TempDir() + "/bin"
			cmd := exec.Command("go", "build", "-o", out, pkg)
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			require.NoError(t, cmd.Run(), stderr.String())
			os.Remove(out)
		})
	}
}
