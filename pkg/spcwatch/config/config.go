// Package config loads spcwatch settings from YAML, .env files and
// SPCWATCH_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/source"
)

const envPrefix = "SPCWATCH_"

type Config struct {
	LogLevel  string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string        `yaml:"log_format" validate:"oneof=text json auto"`
	Interval  time.Duration `yaml:"interval" validate:"gte=10ms"`
	Window    int           `yaml:"window" validate:"gte=15,lte=100000"`
	PolicyDir string        `yaml:"policy_dir"`

	Dashboard DashboardConfig `yaml:"dashboard"`
	Store     StoreConfig     `yaml:"store"`
	Influx    InfluxConfig    `yaml:"influx"`
	Tracing   TracingConfig   `yaml:"tracing"`

	Charts     []ChartConfig             `yaml:"charts" validate:"dive"`
	Simulation map[string]source.Process `yaml:"simulation" validate:"dive"`
}

type DashboardConfig struct {
	// Port 0 disables the dashboard.
	Port      int     `yaml:"port" validate:"gte=0,lte=65535"`
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

type StoreConfig struct {
	Path      string        `yaml:"path"`
	ReportTTL time.Duration `yaml:"report_ttl" validate:"gte=0"`
}

type InfluxConfig struct {
	URL         string `yaml:"url" validate:"omitempty,url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org" validate:"required_with=URL"`
	Bucket      string `yaml:"bucket" validate:"required_with=URL"`
	Measurement string `yaml:"measurement"`
	Field       string `yaml:"field"`
	// Sink also writes actions back to InfluxDB.
	Sink bool `yaml:"sink"`
}

// Enabled reports whether an InfluxDB server is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

type TracingConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure bool   `yaml:"insecure"`
}

type ChartConfig struct {
	Name        string                 `yaml:"name" validate:"required,max=64,excludesall=/ \""`
	Description string                 `yaml:"description"`
	Unit        string                 `yaml:"unit"`
	Limits      *LimitsConfig          `yaml:"limits"`
	Baseline    int                    `yaml:"baseline" validate:"omitempty,gte=2"`
	Span        int                    `yaml:"span" validate:"omitempty,gte=2,lte=10"`
	Spec        *capability.SpecLimits `yaml:"spec"`
}

type LimitsConfig struct {
	Center float64 `yaml:"center"`
	UCL    float64 `yaml:"ucl" validate:"gtfield=Center"`
	LCL    float64 `yaml:"lcl" validate:"ltfield=Center"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "auto",
		Interval:  time.Second,
		Window:    100,
		Dashboard: DashboardConfig{Port: 9090, RateLimit: 20, Burst: 40},
		Influx:    InfluxConfig{Measurement: "spc", Field: "value"},
		Tracing:   TracingConfig{Exporter: "none"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(ChartConfig)
		if c.Limits == nil && c.Baseline == 0 {
			sl.ReportError(c.Limits, "Limits", "limits", "limits_or_baseline", "")
		}
		if c.Spec != nil && c.Spec.USL <= c.Spec.LSL {
			sl.ReportError(c.Spec, "Spec", "spec", "usl_gt_lsl", "")
		}
	}, ChartConfig{})
	return v
}

// Validate checks field constraints and that chart names are unique.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Charts))
	for _, ch := range c.Charts {
		if seen[ch.Name] {
			return fmt.Errorf("invalid config: duplicate chart %q", ch.Name)
		}
		seen[ch.Name] = true
	}
	return nil
}

// Load reads .env files (missing ones are ignored), then the YAML file at
// path (optional), applies SPCWATCH_* overrides and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses YAML into cfg, rejecting unknown keys.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from SPCWATCH_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	dur("INTERVAL", &c.Interval)
	num("WINDOW", &c.Window)
	str("POLICY_DIR", &c.PolicyDir)
	num("PORT", &c.Dashboard.Port)
	str("STORE_PATH", &c.Store.Path)
	str("INFLUX_URL", &c.Influx.URL)
	str("INFLUX_TOKEN", &c.Influx.Token)
	str("INFLUX_ORG", &c.Influx.Org)
	str("INFLUX_BUCKET", &c.Influx.Bucket)
	str("TRACE_EXPORTER", &c.Tracing.Exporter)
	str("OTLP_ENDPOINT", &c.Tracing.Endpoint)

	return errors.Join(errs...)
}
