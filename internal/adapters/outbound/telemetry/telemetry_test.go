package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	ctx := context.Background()

	shutdownMetrics, err := InitMetrics(ctx, Config{})
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	if err := shutdownMetrics(ctx); err != nil {
		t.Errorf("metrics shutdown: %v", err)
	}

	shutdownTracer, err := InitTracer(ctx, Config{})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdownTracer(ctx); err != nil {
		t.Errorf("tracer shutdown: %v", err)
	}
}

func TestInit_WithEndpoint(t *testing.T) {
	ctx := context.Background()
	config := Config{OTLPEndpoint: "127.0.0.1:4317"}

	// Exporters connect lazily, so creation succeeds without a collector.
	shutdownMetrics, err := InitMetrics(ctx, config)
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	shutdownTracer, err := InitTracer(ctx, config)
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	// Flushing to a missing collector may fail; only termination matters.
	_ = shutdownMetrics(shutdownCtx)
	_ = shutdownTracer(shutdownCtx)
}

func TestNewResource(t *testing.T) {
	config := Config{ServiceName: "relay-test"}
	config.applyDefaults()

	res, err := newResource(config)
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}

	want := map[attribute.Key]string{
		semconv.ServiceNameKey:               "relay-test",
		semconv.ServiceVersionKey:            "0.1.0",
		semconv.DeploymentEnvironmentNameKey: "development",
	}
	for key, value := range want {
		got, ok := res.Set().Value(key)
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}
		if got.AsString() != value {
			t.Errorf("%s: got %q, want %q", key, got.AsString(), value)
		}
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v): got %q, want %q", tt.rate, got, tt.want)
		}
	}
}
