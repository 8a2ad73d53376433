package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/config"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/source"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/store"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Monitor configured charts and serve the dashboard",
		Long: `Loads charts and policies from the config file, ingests readings from
InfluxDB and/or the built-in simulator, evaluates every interval and serves
the dashboard until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath, g.envFiles...)
			if err != nil {
				return err
			}
			if g.logLevel != "" {
				cfg.LogLevel = g.logLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, seed)
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "simulator seed")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, seed uint64) error {
	shutdownTracing, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []spcwatch.Option{
		spcwatch.WithLogger(logger),
		spcwatch.WithRegisterer(reg),
		spcwatch.WithInterval(cfg.Interval),
		spcwatch.WithWindow(cfg.Window),
		spcwatch.WithDashboardPort(cfg.Dashboard.Port),
		spcwatch.WithDashboardRateLimit(cfg.Dashboard.RateLimit, cfg.Dashboard.Burst),
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(store.Config{Path: cfg.Store.Path, ReportTTL: cfg.Store.ReportTTL, Logger: logger})
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, spcwatch.WithStore(st))
	}

	var influx influxdb2.Client
	if cfg.Influx.Enabled() {
		influx = influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		if ok, err := influx.Ping(ctx); err != nil || !ok {
			logger.Warn("influxdb not reachable yet", "url", cfg.Influx.URL, "error", err)
		}
		if cfg.Influx.Sink {
			sink := actions.NewInfluxSink(influx, cfg.Influx.Org, cfg.Influx.Bucket)
			for _, t := range []actions.ActionType{actions.AlertAction, actions.ViolationAction} {
				opts = append(opts, spcwatch.WithHandler(t, sink))
			}
		}
	}

	m := spcwatch.NewMonitor(opts...)
	names := make([]string, 0, len(cfg.Charts))
	for _, c := range cfg.Charts {
		if err := m.AddChart(chartFromConfig(c)); err != nil {
			return err
		}
		names = append(names, c.Name)
	}

	group, ctx := errgroup.WithContext(ctx)

	if cfg.PolicyDir != "" {
		policies, err := config.LoadPolicies(cfg.PolicyDir)
		if err != nil {
			return err
		}
		if err := m.ReplacePolicies(policies); err != nil {
			return fmt.Errorf("load policies: %w", err)
		}
		logger.Info("policies loaded", "dir", cfg.PolicyDir, "count", len(policies))

		watcher, err := config.NewPolicyWatcher(cfg.PolicyDir, func(p map[string]string) {
			if err := m.ReplacePolicies(p); err != nil {
				logger.Error("policy reload rejected, keeping previous set", "error", err)
				return
			}
			logger.Info("policies reloaded", "count", len(p))
		}, logger)
		if err != nil {
			return err
		}
		group.Go(func() error { return watcher.Run(ctx) })
	}

	if len(cfg.Simulation) > 0 {
		sim := source.NewSimulator(seed)
		for chart, p := range cfg.Simulation {
			if err := sim.AddProcess(chart, p); err != nil {
				return err
			}
		}
		group.Go(func() error { return m.Ingest(ctx, sim, cfg.Interval) })
	}

	if influx != nil {
		src, err := source.NewInfluxSource(influx, source.InfluxConfig{
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
			Field:       cfg.Influx.Field,
			Charts:      names,
		}, logger)
		if err != nil {
			return err
		}
		group.Go(func() error { return m.Ingest(ctx, src, cfg.Interval) })
	}

	m.Start()
	logger.Info("spcwatch started", "charts", len(names), "interval", cfg.Interval, "dashboard_port", cfg.Dashboard.Port)

	group.Go(func() error {
		<-ctx.Done()
		m.Stop()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("spcwatch stopped")
	return nil
}

func chartFromConfig(c config.ChartConfig) spcwatch.ChartConfig {
	out := spcwatch.ChartConfig{
		Name:        c.Name,
		Description: c.Description,
		Unit:        c.Unit,
		Baseline:    c.Baseline,
		Span:        c.Span,
		Spec:        c.Spec,
	}
	if c.Limits != nil {
		out.Limits = &rules.ControlLimits{CenterLine: c.Limits.Center, UCL: c.Limits.UCL, LCL: c.Limits.LCL}
	}
	return out
}
