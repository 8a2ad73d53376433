package furnace_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
	"github.com/chosenoffset/spcwatch/spcwatch-example/internal/furnace"
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

func TestLineWithMonitor(t *testing.T) {
	c := &captured{}
	m := spcwatch.NewMonitor(
		spcwatch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		spcwatch.WithDashboardPort(0),
		spcwatch.WithRegisterer(prometheus.NewRegistry()),
		spcwatch.WithHandler(actions.ViolationAction, c),
		spcwatch.WithHandler(actions.AlertAction, c),
	)
	require.NoError(t, m.AddPolicy("critical",
		`when violations.critical > 0 { alert("${chart.name} out of control at ${chart.last}", "critical") }`))

	line := furnace.NewLine(m)
	line.AddChart = func(id string, _ float64) error {
		return m.AddChart(spcwatch.ChartConfig{Name: id, Baseline: 20})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/furnace", line.HandleCreateFurnace)
	mux.HandleFunc("/reading", line.HandleReading)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	post := func(path string, body any) int {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusCreated, post("/furnace", map[string]any{"id": "f1", "setpoint": 850}))

	baseline := []float64{849, 851, 850, 852, 848, 850, 851, 849, 850, 852,
		848, 851, 849, 850, 851, 850, 849, 852, 848, 850}
	for _, v := range baseline {
		require.Equal(t, http.StatusAccepted, post("/reading", map[string]any{"furnace": "f1", "temperature": v}))
	}

	_, err := m.EvaluateChart(context.Background(), "f1")
	require.NoError(t, err)
	assert.Empty(t, c.ofType(actions.ViolationAction))

	require.Equal(t, http.StatusAccepted, post("/reading", map[string]any{"furnace": "f1", "temperature": 880}))
	report, err := m.EvaluateChart(context.Background(), "f1")
	require.NoError(t, err)
	assert.NotEmpty(t, report.Rule(rules.Rule1).Violations)

	violations := c.ofType(actions.ViolationAction)
	require.NotEmpty(t, violations)
	assert.Equal(t, "f1", violations[0].Chart)
	assert.Equal(t, "critical", violations[0].Severity)

	alerts := c.ofType(actions.AlertAction)
	require.Len(t, alerts, 1)
	assert.Equal(t, "f1 out of control at 880", alerts[0].Message)

	// Same window again: nothing new is dispatched.
	_, err = m.EvaluateChart(context.Background(), "f1")
	require.NoError(t, err)
	assert.Len(t, c.ofType(actions.ViolationAction), len(violations))
}
