package observability

// DefaultMetricsPath is the HTTP path the Prometheus registry is served on
// when a Config doesn't override it.
const DefaultMetricsPath = "/metrics"

// TracingConfig controls span export for a session's stage graph.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	// Exporter names the span exporter, "stdout" by default. NewTracer
	// always builds the stdout exporter; other values, and Endpoint, are
	// only recorded.
	Exporter string
	Endpoint string
}

// MetricsConfig controls the Prometheus registry exposed on /metrics.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Endpoint  string
}

// Config is the top-level observability configuration, built by the
// caller (cmd/voxelcrew's buildSystem) and completed by SetDefaults.
type Config struct {
	Tracing TracingConfig
	Metrics MetricsConfig
}

func (c *Config) SetDefaults() {
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "voxelcrew"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "voxelcrew"
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = DefaultMetricsPath
	}
}
