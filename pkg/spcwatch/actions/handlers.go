package actions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// WriterHandler prints one line per action, e.g. to a terminal.
type WriterHandler struct {
	w io.Writer
}

func NewWriterHandler(w io.Writer) *WriterHandler {
	if w == nil {
		w = os.Stdout
	}
	return &WriterHandler{w: w}
}

func (h *WriterHandler) Handle(_ context.Context, action Action) error {
	ts := action.Timestamp.Format("15:04:05")
	source := action.Policy
	if source == "" {
		source = action.Rule
	}
	_, err := fmt.Fprintf(h.w, "[%s] %s [%s/%s]: %s\n", ts, action.Type, action.Chart, source, action.Message)
	return err
}

// LogHandler writes actions to a structured logger. Alerts and critical
// violations log at warn level.
type LogHandler struct {
	logger *slog.Logger
}

func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(ctx context.Context, action Action) error {
	level := slog.LevelInfo
	if action.Type == AlertAction || action.Severity == "critical" {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, action.Message,
		"type", action.Type,
		"chart", action.Chart,
		"policy", action.Policy,
		"rule", action.Rule,
		"severity", action.Severity,
		"value", action.Value,
	)
	return nil
}

// DashboardHandler forwards actions to a live view.
type DashboardHandler struct {
	publish func(Action)
}

func NewDashboardHandler(publish func(Action)) *DashboardHandler {
	return &DashboardHandler{publish: publish}
}

func (h *DashboardHandler) Handle(_ context.Context, action Action) error {
	if h.publish == nil {
		return fmt.Errorf("dashboard handler has no publisher")
	}
	h.publish(action)
	return nil
}

// MetricsHandler counts actions by type and severity.
type MetricsHandler struct {
	counter *prometheus.CounterVec
}

// NewMetricsHandler expects a counter labelled (type, severity).
func NewMetricsHandler(counter *prometheus.CounterVec) *MetricsHandler {
	return &MetricsHandler{counter: counter}
}

func (h *MetricsHandler) Handle(_ context.Context, action Action) error {
	c, err := h.counter.GetMetricWithLabelValues(string(action.Type), action.Severity)
	if err != nil {
		return err
	}
	c.Inc()
	return nil
}
