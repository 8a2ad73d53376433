package spcwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/dashboard"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/metrics"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/parser"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/source"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/store"
)

var (
	ErrUnknownChart  = errors.New("unknown chart")
	ErrChartExists   = errors.New("chart already exists")
	ErrLimitsPending = errors.New("control limits pending baseline")
)

var tracer = otel.Tracer("github.com/chosenoffset/spcwatch")

// Policy is a parsed alert policy.
type Policy struct {
	Name        string
	Source      string
	AST         *parser.Program
	Nodes       int
	LastTrigger time.Time
	Triggers    int
	Errors      int
}

// PolicyInfo is the exported view of a Policy.
type PolicyInfo struct {
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Nodes       int       `json:"nodes"`
	LastTrigger time.Time `json:"lastTrigger,omitempty"`
	Triggers    int       `json:"triggers"`
	Errors      int       `json:"errors"`
}

// Monitor owns a set of control charts. Samples are recorded into each
// chart's bounded history; every evaluation runs the Western Electric rules
// over the most recent window, dispatches newly found violations as actions
// and then runs the alert policies against the chart.
type Monitor struct {
	charts     map[string]*chart
	order      []string
	policies   []*Policy
	evaluator  *Evaluator
	registry   *actions.ActionRegistry
	collectors *metrics.Collectors
	store      *store.Store
	logger     *slog.Logger
	httpStats  map[string]*metrics.HTTPMetrics

	dashboard     *dashboard.Server
	dashboardOpts []dashboard.ServerOption
	dashboardPort int

	interval time.Duration
	window   int
	limits   *ResourceLimits

	running bool
	stopCh  chan struct{}
	mutex   sync.RWMutex
}

func NewMonitor(opts ...Option) *Monitor {
	o := options{
		logger:        slog.Default(),
		dashboardPort: DefaultDashboardPort,
		interval:      DefaultInterval,
		window:        DefaultWindow,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limits == nil {
		o.limits = DefaultResourceLimits()
	}
	if o.interval <= 0 {
		o.interval = DefaultInterval
	}
	if o.window <= 0 {
		o.window = DefaultWindow
	}
	if o.window > o.limits.MaxWindow {
		o.logger.Warn("window clamped to limit", "window", o.window, "limit", o.limits.MaxWindow)
		o.window = o.limits.MaxWindow
	}

	m := &Monitor{
		charts:        make(map[string]*chart),
		registry:      actions.NewActionRegistry(),
		collectors:    metrics.NewCollectors(o.registerer),
		store:         o.store,
		logger:        o.logger,
		httpStats:     make(map[string]*metrics.HTTPMetrics),
		dashboardPort: o.dashboardPort,
		interval:      o.interval,
		window:        o.window,
		limits:        o.limits,
		stopCh:        make(chan struct{}),
	}
	m.evaluator = NewEvaluator(m.registry)

	m.dashboardOpts = []dashboard.ServerOption{dashboard.WithLogger(o.logger)}
	if o.rateSet {
		m.dashboardOpts = append(m.dashboardOpts, dashboard.WithRateLimit(o.rate, o.burst))
	}
	if g, ok := o.registerer.(prometheus.Gatherer); ok {
		m.dashboardOpts = append(m.dashboardOpts, dashboard.WithGatherer(g))
	}
	if o.store != nil {
		m.dashboardOpts = append(m.dashboardOpts, dashboard.WithStore(o.store))
	}
	if m.dashboardPort > 0 {
		m.dashboard = m.newDashboard()
	}

	for _, t := range []actions.ActionType{actions.AlertAction, actions.LogAction, actions.ViolationAction} {
		m.registry.RegisterHandler(t, actions.NewLogHandler(o.logger))
		m.registry.RegisterHandler(t, actions.NewMetricsHandler(m.collectors.ActionsTotal))
		if m.dashboardPort > 0 {
			m.registry.RegisterHandler(t, actions.NewDashboardHandler(m.sendToDashboard))
		}
	}
	for _, b := range o.handlers {
		m.registry.RegisterHandler(b.actionType, b.handler)
	}
	return m
}

func (m *Monitor) newDashboard() *dashboard.Server {
	d := dashboard.NewServer(m.dashboardPort, m.dashboardOpts...)
	d.SetChartsProvider(func() any { return m.Charts() })
	d.SetReportProvider(func(name string) (any, error) { return m.Report(name) })
	d.SetHistoryProvider(func(name string, since time.Duration) (any, error) { return m.HistorySince(name, since) })
	d.SetPoliciesProvider(func() any { return m.Policies() })
	return d
}

func (m *Monitor) sendToDashboard(a actions.Action) {
	if d := m.Dashboard(); d != nil {
		d.SendAction(a)
	}
}

// Dashboard returns the dashboard server, or nil when it is disabled.
func (m *Monitor) Dashboard() *dashboard.Server {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.dashboard
}

// Start begins periodic evaluation and serves the dashboard. Calling Start on
// a running Monitor does nothing.
func (m *Monitor) Start() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		return
	}
	m.running = true

	if d := m.dashboard; d != nil {
		if err := d.Start(); err != nil {
			m.logger.Error("dashboard failed", "port", m.dashboardPort, "error", err)
		}
	}

	go m.evaluationLoop(m.stopCh)
}

// Stop halts periodic evaluation and the dashboard. The Monitor can be
// started again; the restarted dashboard begins with an empty event feed.
func (m *Monitor) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	m.stopCh = make(chan struct{})

	if m.dashboard != nil {
		if err := m.dashboard.Stop(); err != nil {
			m.logger.Warn("dashboard shutdown", "error", err)
		}
		m.dashboard = m.newDashboard()
	}
}

func (m *Monitor) IsRunning() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.running
}

func (m *Monitor) evaluationLoop(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.EvaluateAll(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("evaluation failed", "error", err)
			}
		case <-stop:
			return
		}
	}
}

// SetResourceLimits replaces the limits. Existing charts and policies are kept
// even if they now exceed them.
func (m *Monitor) SetResourceLimits(l *ResourceLimits) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.limits = l
	if m.window > l.MaxWindow {
		m.window = l.MaxWindow
	}
}

func (m *Monitor) GetResourceLimits() *ResourceLimits {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	l := *m.limits
	return &l
}

// AddChart starts monitoring a new chart.
func (m *Monitor) AddChart(cfg ChartConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.charts[cfg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrChartExists, cfg.Name)
	}
	if len(m.charts) >= m.limits.MaxCharts {
		return &ResourceLimitError{
			Resource: "charts",
			Current:  len(m.charts),
			Limit:    m.limits.MaxCharts,
			Message:  fmt.Sprintf("maximum number of charts exceeded (%d)", m.limits.MaxCharts),
		}
	}

	c := newChart(cfg, m.window)
	m.charts[cfg.Name] = c
	m.order = append(m.order, cfg.Name)
	if cfg.Limits != nil {
		m.collectors.SetLimits(cfg.Name, cfg.Limits.CenterLine, cfg.Limits.UCL, cfg.Limits.LCL)
	}
	m.logger.Info("chart added", "chart", cfg.Name, "baseline", cfg.Baseline, "fixed_limits", cfg.Limits != nil)
	return nil
}

// RemoveChart stops monitoring a chart and drops its history.
func (m *Monitor) RemoveChart(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.charts[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChart, name)
	}
	delete(m.charts, name)
	delete(m.httpStats, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.collectors.Forget(name)
	return nil
}

func (m *Monitor) chart(name string) (*chart, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c, ok := m.charts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChart, name)
	}
	return c, nil
}

func (m *Monitor) chartList() []*chart {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]*chart, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.charts[name])
	}
	return out
}

// Charts returns a snapshot of every chart in the order they were added.
func (m *Monitor) Charts() []ChartSnapshot {
	list := m.chartList()
	out := make([]ChartSnapshot, 0, len(list))
	for _, c := range list {
		out = append(out, c.snapshot())
	}
	return out
}

func (m *Monitor) Chart(name string) (ChartSnapshot, error) {
	c, err := m.chart(name)
	if err != nil {
		return ChartSnapshot{}, err
	}
	return c.snapshot(), nil
}

// Report returns the latest evaluation of a chart with merged violation
// spans and recommended actions. Report is nil before the first evaluation.
func (m *Monitor) Report(name string) (ChartReport, error) {
	c, err := m.chart(name)
	if err != nil {
		return ChartReport{}, err
	}
	out := ChartReport{Chart: c.snapshot()}
	report := c.latestReport()
	if report == nil {
		return out, nil
	}
	out.Report = report
	out.Recommendations = rules.RecommendedActions(report.Violations)
	out.Spans = make(map[rules.RuleID][]rules.Span)
	for _, id := range rules.AllRules {
		if spans := report.Rule(id).Spans(); len(spans) > 0 {
			out.Spans[id] = spans
		}
	}
	return out, nil
}

// History returns the retained samples of a chart, oldest first.
func (m *Monitor) History(name string) ([]metrics.Sample, error) {
	c, err := m.chart(name)
	if err != nil {
		return nil, err
	}
	return c.series.History(), nil
}

// HistorySince returns the retained samples of a chart timestamped within d
// of now, oldest first. A non-positive d returns the full history.
func (m *Monitor) HistorySince(name string, d time.Duration) ([]metrics.Sample, error) {
	if d <= 0 {
		return m.History(name)
	}
	c, err := m.chart(name)
	if err != nil {
		return nil, err
	}
	return c.series.HistoryWindow(d), nil
}

// SetLimits fixes the control limits of a chart, replacing derived ones.
func (m *Monitor) SetLimits(name string, l rules.ControlLimits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	c, err := m.chart(name)
	if err != nil {
		return err
	}
	c.setLimits(l, false)
	m.collectors.SetLimits(name, l.CenterLine, l.UCL, l.LCL)
	return nil
}

// RecalculateLimits derives new individuals-chart limits from the chart's
// current evaluation window.
func (m *Monitor) RecalculateLimits(name string) (rules.ControlLimits, error) {
	c, err := m.chart(name)
	if err != nil {
		return rules.ControlLimits{}, err
	}
	values := metrics.Values(c.series.Window(m.currentWindow()))
	res, err := limitsFromValues(values, c.cfg.Span)
	if err != nil {
		return rules.ControlLimits{}, fmt.Errorf("chart %s: %w", name, err)
	}
	c.setLimits(res, true)
	m.collectors.SetLimits(name, res.CenterLine, res.UCL, res.LCL)
	m.logger.Info("control limits recalculated", "chart", name,
		"center", res.CenterLine, "ucl", res.UCL, "lcl", res.LCL, "samples", len(values))
	return res, nil
}

func (m *Monitor) currentWindow() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.window
}

// Record appends a sample to a chart, timestamped now.
func (m *Monitor) Record(name string, value float64) error {
	return m.RecordAt(name, value, time.Now())
}

// RecordAt appends a sample with an explicit timestamp. Once a baseline chart
// has collected enough samples its limits are derived here. NaN and ±Inf are
// rejected.
func (m *Monitor) RecordAt(name string, value float64, at time.Time) error {
	c, err := m.chart(name)
	if err != nil {
		return err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: chart %s: non-finite value %v", rules.ErrInvalidInput, name, value)
	}
	c.series.Add(value, at)
	m.collectors.SamplesTotal.WithLabelValues(name).Inc()
	m.collectors.ChartValue.WithLabelValues(name).Set(value)

	derived, err := c.deriveLimits()
	if err != nil {
		m.logger.Warn("baseline limits unavailable", "chart", name, "error", err)
		return nil
	}
	if derived {
		l, _ := c.currentLimits()
		m.collectors.SetLimits(name, l.CenterLine, l.UCL, l.LCL)
		m.logger.Info("control limits derived from baseline", "chart", name,
			"center", l.CenterLine, "ucl", l.UCL, "lcl", l.LCL)
	}
	return nil
}

// Ingest polls src every interval and records its readings until ctx is
// done. Readings for unknown charts are logged and skipped.
func (m *Monitor) Ingest(ctx context.Context, src source.Source, interval time.Duration) error {
	if interval <= 0 {
		interval = m.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		readings, err := src.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("source poll failed", "error", err)
		}
		for _, r := range readings {
			if err := m.RecordAt(r.Chart, r.Value, r.Time); err != nil {
				m.logger.Debug("reading dropped", "chart", r.Chart, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EvaluateChart runs the rules over the chart's current window. Violations
// found for the first time are dispatched as violation actions, after which
// every policy runs against the chart.
func (m *Monitor) EvaluateChart(ctx context.Context, name string) (*rules.EvaluationReport, error) {
	ctx, span := tracer.Start(ctx, "spcwatch.EvaluateChart", trace.WithAttributes(attribute.String("chart", name)))
	defer span.End()

	report, err := m.evaluateChart(ctx, name, span)
	if err != nil && !errors.Is(err, ErrLimitsPending) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (m *Monitor) evaluateChart(ctx context.Context, name string, span trace.Span) (*rules.EvaluationReport, error) {
	c, err := m.chart(name)
	if err != nil {
		return nil, err
	}
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	l, ok := c.currentLimits()
	if !ok {
		return nil, fmt.Errorf("%w: chart %s has %d of %d baseline samples",
			ErrLimitsPending, name, c.series.Total(), c.cfg.Baseline)
	}

	samples := c.series.Window(m.currentWindow())
	values := metrics.Values(samples)
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: chart %s has no samples", rules.ErrInvalidInput, name)
	}

	start := time.Now()
	report, err := rules.EvaluateLimits(values, l)
	m.collectors.EvaluationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		m.collectors.EvaluationErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("chart %s: %w", name, err)
	}

	var capResult *capability.Result
	if spec := c.cfg.Spec; spec != nil && len(values) >= capability.MinSamples {
		res, err := capability.Analyze(values, *spec, capability.WithShortTermStdDev(l.Sigma()))
		if err != nil {
			m.logger.Debug("capability unavailable", "chart", name, "error", err)
		} else {
			capResult = &res
			m.collectors.Capability.WithLabelValues(name, "cp").Set(res.Cp)
			m.collectors.Capability.WithLabelValues(name, "cpk").Set(res.Cpk)
			m.collectors.Capability.WithLabelValues(name, "ppk").Set(res.Ppk)
		}
	}

	now := time.Now()
	fresh := c.markNew(report, samples)
	c.record(report, capResult, now)

	span.SetAttributes(
		attribute.Int("samples", len(values)),
		attribute.Int("violations.total", report.TotalViolations),
		attribute.Int("violations.new", len(fresh)),
	)

	newByRule := make(map[rules.RuleID]int)
	for _, v := range fresh {
		newByRule[v.Rule]++
		m.collectors.ViolationsTotal.WithLabelValues(name, string(v.Rule), string(v.Severity)).Inc()
		m.dispatchViolation(ctx, name, v)
	}

	env := &Env{
		Chart:      name,
		Values:     values,
		Limits:     l,
		Report:     report,
		NewByRule:  newByRule,
		NewTotal:   len(fresh),
		Capability: capResult,
	}
	m.runPolicies(ctx, env)

	if m.store != nil {
		rec := store.ReportRecord{
			Chart:     name,
			At:        now,
			Limits:    l,
			Samples:   len(values),
			Report:    report,
			NewEvents: len(fresh),
		}
		if err := m.store.SaveReport(ctx, rec); err != nil {
			m.logger.Warn("failed to persist report", "chart", name, "error", err)
		}
	}
	if d := m.Dashboard(); d != nil {
		d.PublishReport(c.snapshot())
	}
	return report, nil
}

func (m *Monitor) dispatchViolation(ctx context.Context, name string, v newViolation) {
	a := m.registry.CreateAction(actions.ViolationAction, v.Message, "")
	a.Chart = name
	a.Rule = string(v.Rule)
	a.Severity = string(v.Severity)
	a.Value = v.Value
	a.Index = v.Index
	if err := m.registry.ExecuteAction(ctx, a); err != nil {
		m.logger.Warn("violation action failed", "chart", name, "rule", v.Rule, "error", err)
	}
}

// EvaluateAll evaluates every chart concurrently. Charts without limits or
// samples yet are skipped; other failures are joined into the result.
func (m *Monitor) EvaluateAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, c := range m.chartList() {
		name := c.cfg.Name
		g.Go(func() error {
			_, err := m.EvaluateChart(ctx, name)
			switch {
			case err == nil,
				errors.Is(err, ErrLimitsPending),
				errors.Is(err, ErrUnknownChart),
				errors.Is(err, rules.ErrInvalidInput):
				return nil
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func compilePolicy(name, src string, maxNodes int) (*Policy, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("policy name is required")
	}
	program, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse errors in policy %s: %w", name, err)
	}
	nodes := program.CountNodes()
	if nodes > maxNodes {
		return nil, &ResourceLimitError{
			Resource: "policy_complexity",
			Current:  nodes,
			Limit:    maxNodes,
			Message:  fmt.Sprintf("policy complexity (%d nodes) exceeds limit (%d)", nodes, maxNodes),
		}
	}
	return &Policy{Name: name, Source: src, AST: program, Nodes: nodes}, nil
}

func (m *Monitor) tooManyPolicies(n int) error {
	return &ResourceLimitError{
		Resource: "policies",
		Current:  n,
		Limit:    m.limits.MaxPolicies,
		Message:  fmt.Sprintf("maximum number of policies exceeded (%d)", m.limits.MaxPolicies),
	}
}

// AddPolicy parses and installs a policy. A policy with the same name is
// replaced.
func (m *Monitor) AddPolicy(name, src string) error {
	p, err := compilePolicy(name, src, m.GetResourceLimits().MaxPolicyComplexity)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, existing := range m.policies {
		if existing.Name == name {
			m.policies[i] = p
			return nil
		}
	}
	if len(m.policies) >= m.limits.MaxPolicies {
		return m.tooManyPolicies(len(m.policies))
	}
	m.policies = append(m.policies, p)
	return nil
}

// ReplacePolicies swaps the whole policy set, ordered by name. Nothing
// changes unless every source parses and fits the limits.
func (m *Monitor) ReplacePolicies(sources map[string]string) error {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	maxNodes := m.GetResourceLimits().MaxPolicyComplexity
	staged := make([]*Policy, 0, len(names))
	var errs []error
	for _, name := range names {
		p, err := compilePolicy(name, sources[name], maxNodes)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		staged = append(staged, p)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(staged) > m.limits.MaxPolicies {
		return m.tooManyPolicies(len(staged))
	}
	m.policies = staged
	m.logger.Info("policies replaced", "count", len(staged))
	return nil
}

func (m *Monitor) ClearPolicies() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.policies = nil
}

func (m *Monitor) Policies() []PolicyInfo {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]PolicyInfo, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, PolicyInfo{
			Name:        p.Name,
			Source:      p.Source,
			Nodes:       p.Nodes,
			LastTrigger: p.LastTrigger,
			Triggers:    p.Triggers,
			Errors:      p.Errors,
		})
	}
	return out
}

func (m *Monitor) runPolicies(ctx context.Context, env *Env) {
	m.mutex.RLock()
	policies := make([]*Policy, len(m.policies))
	copy(policies, m.policies)
	timeout := m.limits.MaxEvaluationTime
	m.mutex.RUnlock()

	for _, p := range policies {
		penv := *env
		penv.Policy = p.Name
		m.runPolicy(ctx, p, &penv, timeout)
	}
}

// runPolicy evaluates one policy under a deadline. A panicking policy is
// recovered and counted as an error.
func (m *Monitor) runPolicy(parent context.Context, p *Policy, env *Env, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type evalResult struct {
		result Object
		err    error
	}
	resultCh := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- evalResult{nil, fmt.Errorf("panic during policy evaluation: %v", r)}
			}
		}()
		resultCh <- evalResult{m.evaluator.Eval(ctx, p.AST, env), nil}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			m.policyFailed(p, env.Chart, res.err)
			return
		}
		m.handleEvaluationResult(p, env.Chart, res.result)
	case <-ctx.Done():
		m.policyFailed(p, env.Chart, fmt.Errorf("policy evaluation timeout: %w", ctx.Err()))
	}
}

func (m *Monitor) handleEvaluationResult(p *Policy, chartName string, result Object) {
	switch result.Type() {
	case ERROR_OBJ:
		m.policyFailed(p, chartName, errors.New(result.(*Error).Message))
	case POLICY_TRIGGERED_OBJ:
		m.mutex.Lock()
		p.LastTrigger = time.Now()
		p.Triggers++
		m.mutex.Unlock()
		m.logger.Debug("policy triggered", "policy", p.Name, "chart", chartName)
	}
}

func (m *Monitor) policyFailed(p *Policy, chartName string, err error) {
	m.mutex.Lock()
	p.Errors++
	m.mutex.Unlock()
	m.collectors.PolicyErrors.WithLabelValues(p.Name).Inc()
	m.logger.Error("policy evaluation failed", "policy", p.Name, "chart", chartName, "error", err)
}

// HTTPMiddleware records the latency of each request, in milliseconds, as a
// sample of the named chart.
func (m *Monitor) HTTPMiddleware(chartName string) func(http.HandlerFunc) http.HandlerFunc {
	hm := metrics.NewHTTPMetrics(func(d time.Duration, status int) {
		if err := m.Record(chartName, float64(d.Microseconds())/1000); err != nil {
			m.logger.Debug("latency sample dropped", "chart", chartName, "status", status, "error", err)
		}
	})
	m.mutex.Lock()
	m.httpStats[chartName] = hm
	m.mutex.Unlock()
	return hm.Middleware
}

// HTTPStats returns request counters of the middleware bound to a chart.
func (m *Monitor) HTTPStats(chartName string) (metrics.HTTPStats, bool) {
	m.mutex.RLock()
	hm, ok := m.httpStats[chartName]
	m.mutex.RUnlock()
	if !ok {
		return metrics.HTTPStats{}, false
	}
	return hm.GetStats(), true
}
