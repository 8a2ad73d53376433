package spcwatch

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/store"
)

const (
	DefaultDashboardPort = 9090
	DefaultInterval      = time.Second
	DefaultWindow        = 100
)

type handlerBinding struct {
	actionType actions.ActionType
	handler    actions.ActionHandler
}

type options struct {
	logger        *slog.Logger
	dashboardPort int
	rate          float64
	burst         int
	rateSet       bool
	interval      time.Duration
	window        int
	registerer    prometheus.Registerer
	store         *store.Store
	handlers      []handlerBinding
	limits        *ResourceLimits
}

// Option configures a Monitor.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDashboardPort sets the dashboard port; 0 disables the dashboard.
func WithDashboardPort(port int) Option {
	return func(o *options) { o.dashboardPort = port }
}

// WithDashboardRateLimit sets the per-second request rate of the dashboard API.
func WithDashboardRateLimit(r float64, burst int) Option {
	return func(o *options) {
		o.rate, o.burst, o.rateSet = r, burst, true
	}
}

// WithInterval sets how often the background loop evaluates every chart.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithWindow sets how many of the most recent samples each evaluation covers.
func WithWindow(n int) Option {
	return func(o *options) { o.window = n }
}

// WithRegisterer registers the Monitor's Prometheus collectors with reg. When
// reg is also a Gatherer, the dashboard serves it on /metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStore persists evaluation reports and dashboard alerts.
func WithStore(st *store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithHandler registers an extra handler for an action type.
func WithHandler(t actions.ActionType, h actions.ActionHandler) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, handlerBinding{actionType: t, handler: h})
	}
}

func WithResourceLimits(l *ResourceLimits) Option {
	return func(o *options) { o.limits = l }
}
