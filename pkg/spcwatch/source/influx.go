package source

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
)

// identPattern restricts names interpolated into Flux queries.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// ValidateIdent rejects names that could break out of a Flux string literal.
func ValidateIdent(kind, s string) error {
	if !identPattern.MatchString(s) {
		return fmt.Errorf("invalid %s %q", kind, s)
	}
	return nil
}

type InfluxConfig struct {
	Org         string
	Bucket      string
	Measurement string
	Field       string
	// ChartTag is the tag holding the chart name (default "chart").
	ChartTag string
	// Lookback bounds the first query for each chart (default 1h).
	Lookback time.Duration
	Charts   []string
}

// InfluxSource reads new points for each chart since the last one it saw.
type InfluxSource struct {
	queryAPI api.QueryAPI
	cfg      InfluxConfig
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewInfluxSource(client influxdb2.Client, cfg InfluxConfig, logger *slog.Logger) (*InfluxSource, error) {
	if cfg.ChartTag == "" {
		cfg.ChartTag = "chart"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	for kind, v := range map[string]string{
		"bucket": cfg.Bucket, "measurement": cfg.Measurement, "field": cfg.Field, "tag": cfg.ChartTag,
	} {
		if err := ValidateIdent(kind, v); err != nil {
			return nil, err
		}
	}
	for _, c := range cfg.Charts {
		if err := ValidateIdent("chart", c); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxSource{
		queryAPI: client.QueryAPI(cfg.Org),
		cfg:      cfg,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
	}, nil
}

// Query builds the Flux query for one chart starting at start.
func (s *InfluxSource) Query(chart string, start time.Time) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s)
		  |> filter(fn: (r) => r._measurement == "%s" and r._field == "%s")
		  |> filter(fn: (r) => r.%s == "%s")
		  |> sort(columns: ["_time"], desc: false)
	`, s.cfg.Bucket, start.UTC().Format(time.RFC3339Nano), s.cfg.Measurement, s.cfg.Field, s.cfg.ChartTag, chart)
}

func (s *InfluxSource) Poll(ctx context.Context) ([]Reading, error) {
	var out []Reading
	for _, chart := range s.cfg.Charts {
		readings, err := s.pollChart(ctx, chart)
		if err != nil {
			return out, err
		}
		out = append(out, readings...)
	}
	return out, nil
}

func (s *InfluxSource) pollChart(ctx context.Context, chart string) ([]Reading, error) {
	s.mu.Lock()
	after, seen := s.lastSeen[chart]
	s.mu.Unlock()

	start := time.Now().Add(-s.cfg.Lookback)
	if seen {
		start = after
	}

	result, err := s.queryAPI.Query(ctx, s.Query(chart, start))
	if err != nil {
		return nil, fmt.Errorf("influx query for %s failed: %w", chart, err)
	}
	defer result.Close()

	var out []Reading
	for result.Next() {
		r, ok := toReading(chart, result.Record())
		if !ok || (seen && !r.Time.After(after)) {
			continue
		}
		out = append(out, r)
		after, seen = r.Time, true
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading influx results for %s: %w", chart, result.Err())
	}

	if seen {
		s.mu.Lock()
		s.lastSeen[chart] = after
		s.mu.Unlock()
	}
	s.logger.Debug("polled influx", "chart", chart, "points", len(out))
	return out, nil
}

// toReading converts a Flux record, accepting float and integer fields.
func toReading(chart string, rec *query.FluxRecord) (Reading, bool) {
	var v float64
	switch val := rec.Value().(type) {
	case float64:
		v = val
	case int64:
		v = float64(val)
	case uint64:
		v = float64(val)
	default:
		return Reading{}, false
	}
	return Reading{Chart: chart, Value: v, Time: rec.Time()}, true
}
