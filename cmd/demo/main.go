package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/source"
)

func main() {
	fmt.Println("Starting spcwatch dashboard demo...")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	monitor := spcwatch.NewMonitor(
		spcwatch.WithLogger(logger),
		spcwatch.WithInterval(time.Second),
	)

	processes := map[string]source.Process{
		"fill_weight_g":  {Mean: 500, StdDev: 1.5},
		"seal_temp_c":    {Mean: 185, StdDev: 0.8, ShiftProbability: 0.02},
		"torque_nm":      {Mean: 12, StdDev: 0.2, Drift: 0.002},
		"wall_thickness": {Mean: 2.5, StdDev: 0.02, ShiftProbability: 0.01},
	}
	specs := map[string]capability.SpecLimits{
		"fill_weight_g": {LSL: 495, USL: 505},
		"seal_temp_c":   {LSL: 180, USL: 190},
		"torque_nm":     {LSL: 11, USL: 13},
	}

	sim := source.NewSimulator(uint64(time.Now().UnixNano()))
	for name, p := range processes {
		cfg := spcwatch.ChartConfig{Name: name, Baseline: 25}
		if s, ok := specs[name]; ok {
			cfg.Spec = &s
		}
		if err := monitor.AddChart(cfg); err != nil {
			logger.Error("add chart", "chart", name, "error", err)
			os.Exit(1)
		}
		if err := sim.AddProcess(name, p); err != nil {
			logger.Error("add process", "chart", name, "error", err)
			os.Exit(1)
		}
	}

	policies := map[string]string{
		"out_of_control": `when violations.critical > 0 { alert("${chart.name} beyond limits at ${chart.last}", "critical") }`,
		"new_findings":   `when violations.new > 0 { log("${chart.name}: ${violations.new} new rule violations") }`,
		"drifting":       `when rule3.new > 0 { alert("${chart.name} is trending, last ${chart.last}", "high") }`,
		"capability":     `when capability.cpk < 1.0 { log("${chart.name} not capable: Cpk ${capability.cpk}") }`,
	}
	for name, src := range policies {
		if err := monitor.AddPolicy(name, src); err != nil {
			logger.Error("add policy", "policy", name, "error", err)
			continue
		}
		fmt.Printf("Added policy: %s\n", name)
	}

	monitor.Start()
	defer monitor.Stop()

	fmt.Println("spcwatch monitor started!")
	fmt.Printf("Dashboard available at: http://localhost:%d\n", spcwatch.DefaultDashboardPort)
	fmt.Println("API endpoints:")
	fmt.Println("  - GET /api/charts   - Chart snapshots")
	fmt.Println("  - GET /api/events   - Recent actions")
	fmt.Println("  - GET /api/policies - Loaded policies")
	fmt.Println()
	fmt.Println("Feeding simulated readings, limits are derived after 25 samples...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := monitor.Ingest(ctx, sim, 250*time.Millisecond); err != nil && ctx.Err() == nil {
		logger.Error("ingest stopped", "error", err)
	}
}
