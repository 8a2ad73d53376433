// Package main runs the spcwatch example application: a heat-treatment line
// whose furnaces report soak temperatures over HTTP. Every furnace gets a
// control chart whose limits are derived from its first 25 loads; request
// latency of the line API is charted as well.
//
// Endpoints on :8080:
//   - POST /furnace, GET /furnace?id=<id>, POST /reading
//   - GET /spc/charts: chart snapshots
//   - GET /spc/policies: loaded policies
//
// The dashboard is served on :9090. Policies are read from ./policies and
// reloaded when the files change.
//
// Usage:
//
//	go run ./spcwatch-example/cmd/server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/config"
	"github.com/chosenoffset/spcwatch/spcwatch-example/internal/furnace"
)

const (
	policyDir    = "./policies"
	latencyChart = "api_latency_ms"
	baseline     = 25
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	monitor := spcwatch.NewMonitor(
		spcwatch.WithLogger(logger),
		spcwatch.WithRegisterer(prometheus.NewRegistry()),
		spcwatch.WithInterval(2*time.Second),
	)

	if err := monitor.AddChart(spcwatch.ChartConfig{
		Name:        latencyChart,
		Description: "Line API request latency",
		Unit:        "ms",
		Baseline:    50,
	}); err != nil {
		logger.Error("add latency chart", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loadPolicies(ctx, monitor, logger); err != nil {
		logger.Warn("policies not loaded", "dir", policyDir, "error", err)
	}

	monitor.Start()
	defer monitor.Stop()

	line := furnace.NewLine(monitor)
	line.AddChart = func(id string, setpoint float64) error {
		return monitor.AddChart(spcwatch.ChartConfig{
			Name:        id,
			Description: "Soak temperature",
			Unit:        "°C",
			Baseline:    baseline,
			Spec:        &capability.SpecLimits{LSL: setpoint - 10, USL: setpoint + 10},
		})
	}

	middleware := monitor.HTTPMiddleware(latencyChart)
	mux := http.NewServeMux()
	mux.HandleFunc("/furnace", middleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			line.HandleCreateFurnace(w, r)
			return
		}
		line.HandleGetFurnace(w, r)
	}))
	mux.HandleFunc("/reading", middleware(line.HandleReading))
	mux.HandleFunc("/spc/charts", jsonHandler(func() any { return monitor.Charts() }))
	mux.HandleFunc("/spc/policies", jsonHandler(func() any { return monitor.Policies() }))

	server := &http.Server{
		Addr:         ":8080",
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("furnace line listening", "addr", server.Addr, "dashboard", "http://localhost:9090",
		"policies", len(monitor.Policies()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// loadPolicies loads the policy directory and keeps it in sync.
func loadPolicies(ctx context.Context, monitor *spcwatch.Monitor, logger *slog.Logger) error {
	policies, err := config.LoadPolicies(policyDir)
	if err != nil {
		return err
	}
	if err := monitor.ReplacePolicies(policies); err != nil {
		return err
	}

	watcher, err := config.NewPolicyWatcher(policyDir, func(p map[string]string) {
		if err := monitor.ReplacePolicies(p); err != nil {
			logger.Error("policy reload rejected", "error", err)
		}
	}, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("policy watcher stopped", "error", err)
		}
	}()
	return nil
}

func jsonHandler(data func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data()); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}
