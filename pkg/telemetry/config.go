package telemetry

import (
	"fmt"
	"io"
	"time"
)

// Config selects how the client and simulated nodes log, trace and expose
// metrics.
type Config struct {
	// ServiceName identifies the process in spans and metrics.
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string

	// Format is console or json.
	Format string

	// Output defaults to stderr.
	Output io.Writer

	// Caller adds file:line to every entry.
	Caller bool

	// SampleEvery keeps one debug or trace entry in N. Zero or one keeps all.
	// Per-attempt logging is the only high-volume source.
	SampleEvery uint32
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Exporter is none, stdout or otlp. With none spans are never recorded.
	Exporter string

	// Endpoint is the OTLP gRPC collector, e.g. localhost:4317.
	Endpoint string
	Insecure bool
	Headers  map[string]string

	// SampleRatio is the fraction of execute calls traced, 0 to 1.
	SampleRatio   float64
	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path over HTTP when set.
	ListenAddress string
	Path          string

	Namespace string

	// Buckets are latency buckets in seconds for execute and attempt
	// histograms.
	Buckets []float64
}

// DefaultConfig returns console logging at info, no tracing and no metrics.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "ledgerexec",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			Insecure:      true,
			SampleRatio:   1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Path:      "/metrics",
			Namespace: "ledgerexec",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if _, ok := logLevels[c.Logging.Level]; !ok {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp exporter needs an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be between 0 and 1, got: %f", c.Tracing.SampleRatio)
	}

	if c.Metrics.ListenAddress != "" && !c.Metrics.Enabled {
		return fmt.Errorf("metrics listen address set but metrics are disabled")
	}
	return nil
}
