package actions

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteActionNoHandlers(t *testing.T) {
	r := NewActionRegistry()
	err := r.ExecuteAction(context.Background(), r.CreateAction(AlertAction, "x", "p"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handlers registered")
}

func TestExecuteActionRunsAllHandlers(t *testing.T) {
	r := NewActionRegistry()
	boom := errors.New("boom")
	var calls int

	r.RegisterHandler(AlertAction, HandlerFunc(func(context.Context, Action) error {
		calls++
		return boom
	}))
	r.RegisterHandler(AlertAction, HandlerFunc(func(context.Context, Action) error {
		calls++
		return nil
	}))

	err := r.ExecuteAction(context.Background(), r.CreateAction(AlertAction, "x", "p"))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler error for alert")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, r.HandlerCount(AlertAction))
	assert.Zero(t, r.HandlerCount(LogAction))
}

func TestCreateAction(t *testing.T) {
	r := NewActionRegistry()
	a := r.CreateAction(LogAction, "hello", "drift")
	b := r.CreateAction(LogAction, "hello", "drift")

	assert.Equal(t, LogAction, a.Type)
	assert.Equal(t, "drift", a.Policy)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.WithinDuration(t, time.Now(), a.Timestamp, time.Second)
}

func TestRegistryConcurrency(t *testing.T) {
	r := NewActionRegistry()
	var mu sync.Mutex
	count := 0
	r.RegisterHandler(ViolationAction, HandlerFunc(func(context.Context, Action) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RegisterHandler(LogAction, NewLogHandler(slog.New(slog.NewTextHandler(io.Discard, nil))))
			_ = r.ExecuteAction(context.Background(), Action{Type: ViolationAction})
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, count)
	assert.Equal(t, 10, r.HandlerCount(LogAction))
}

func TestWriterHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewWriterHandler(&buf)
	ts := time.Date(2024, 1, 1, 13, 4, 5, 0, time.UTC)

	require.NoError(t, h.Handle(context.Background(), Action{
		Type: ViolationAction, Chart: "furnace", Rule: "rule1", Message: "Point exceeds control limits (UCL)", Timestamp: ts,
	}))
	require.NoError(t, h.Handle(context.Background(), Action{
		Type: AlertAction, Chart: "furnace", Policy: "hot", Message: "too hot", Timestamp: ts,
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[13:04:05] violation [furnace/rule1]: Point exceeds control limits (UCL)", lines[0])
	assert.Equal(t, "[13:04:05] alert [furnace/hot]: too hot", lines[1])
}

func TestLogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	h := NewLogHandler(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, h.Handle(context.Background(), Action{Type: LogAction, Message: "note", Chart: "c"}))
	require.NoError(t, h.Handle(context.Background(), Action{Type: AlertAction, Message: "page", Chart: "c"}))

	out := buf.String()
	assert.Contains(t, out, "level=INFO msg=note")
	assert.Contains(t, out, "level=WARN msg=page")
	assert.Contains(t, out, "chart=c")
}

func TestDashboardHandler(t *testing.T) {
	var got []Action
	h := NewDashboardHandler(func(a Action) { got = append(got, a) })
	require.NoError(t, h.Handle(context.Background(), Action{Message: "m"}))
	assert.Len(t, got, 1)

	assert.Error(t, NewDashboardHandler(nil).Handle(context.Background(), Action{}))
}

func TestMetricsHandler(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "actions_total"}, []string{"type", "severity"})
	h := NewMetricsHandler(counter)

	require.NoError(t, h.Handle(context.Background(), Action{Type: ViolationAction, Severity: "high"}))
	require.NoError(t, h.Handle(context.Background(), Action{Type: ViolationAction, Severity: "high"}))

	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("violation", "high")))
}

func TestInfluxSink(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		org  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		org = r.URL.Query().Get("org")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()

	sink := NewInfluxSink(client, "plant", "spc")
	err := sink.Handle(context.Background(), Action{
		ID:        "abc",
		Type:      ViolationAction,
		Chart:     "furnace",
		Rule:      "rule1",
		Severity:  "critical",
		Message:   "Point exceeds control limits (UCL)",
		Value:     13.5,
		Index:     7,
		Timestamp: time.Unix(1700000000, 0),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "plant", org)
	assert.True(t, strings.HasPrefix(body, ActionMeasurement+","), body)
	assert.Contains(t, body, "chart=furnace")
	assert.Contains(t, body, "severity=critical")
	assert.Contains(t, body, "value=13.5")
	assert.NotContains(t, body, "policy=")
}

func TestInfluxSinkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid","message":"bad point"}`))
	}))
	defer srv.Close()

	client := influxdb2.NewClient(srv.URL, "token")
	defer client.Close()

	err := NewInfluxSink(client, "plant", "spc").Handle(context.Background(), Action{Type: AlertAction, Timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influx write")
}
