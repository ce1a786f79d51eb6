// Package telemetry wires the OpenTelemetry SDK: a periodic OTLP metric
// exporter and a batched OTLP trace exporter sharing one service resource.
//
// Usage:
//
//	shutdownMetrics, err := telemetry.InitMetrics(ctx, cfg)
//	shutdownTracer, err := telemetry.InitTracer(ctx, cfg)
//	defer shutdownMetrics(ctx)
//	defer shutdownTracer(ctx)
//
// With an empty OTLPEndpoint both are no-ops and the global providers stay
// at their no-op defaults.
package telemetry

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config holds the exporter and resource settings.
type Config struct {
	// ServiceName is the name of the service.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment.
	Environment string

	// OTLPEndpoint is the OTLP gRPC collector endpoint (host:port).
	OTLPEndpoint string

	// MetricInterval is the export interval of the periodic metric reader.
	MetricInterval time.Duration

	// SampleRate is the trace sampling ratio (0.0 to 1.0).
	SampleRate float64
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		ServiceName:    "starknet-relay",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		MetricInterval: 15 * time.Second,
		SampleRate:     1.0,
	}
}

func (c *Config) applyDefaults() {
	defaults := ConfigDefaults()
	if c.ServiceName == "" {
		c.ServiceName = defaults.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = defaults.ServiceVersion
	}
	if c.Environment == "" {
		c.Environment = defaults.Environment
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = defaults.MetricInterval
	}
	if c.SampleRate == 0 {
		c.SampleRate = defaults.SampleRate
	}
}

func newResource(c Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(c.ServiceName),
			semconv.ServiceVersion(c.ServiceVersion),
			semconv.DeploymentEnvironmentName(c.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
