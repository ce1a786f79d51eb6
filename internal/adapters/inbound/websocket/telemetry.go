// telemetry.go provides OpenTelemetry instrumentation for the subscriber hub.
//
// Metrics:
//   - hub.connections.total: Counter of accepted websocket connections
//   - hub.connections.open: Gauge of open websocket connections
//   - hub.frames.sent.total: Counter of frames written to a subscriber
//   - hub.frames.dropped.total: Counter of frames dropped by reason
package websocket

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/archon-research/starknet-relay/internal/adapters/inbound/websocket"

// Drop reasons recorded on hub.frames.dropped.total.
const (
	dropNoSubscriber = "no_subscriber"
	dropQueueFull    = "queue_full"
	dropClosed       = "closed"
	dropWriteFailed  = "write_failed"
)

// Telemetry provides OpenTelemetry metrics for the hub.
// A nil *Telemetry records nothing.
type Telemetry struct {
	connectionsTotal metric.Int64Counter
	connectionsOpen  metric.Int64UpDownCounter
	framesSent       metric.Int64Counter
	framesDropped    metric.Int64Counter
}

// NewTelemetry creates a Telemetry instance using the global meter provider.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProvider(otel.GetMeterProvider())
}

// NewTelemetryWithProvider creates a Telemetry instance with a custom meter provider.
func NewTelemetryWithProvider(mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{}

	var err error
	if t.connectionsTotal, err = meter.Int64Counter(
		"hub.connections.total",
		metric.WithDescription("Total number of accepted subscriber connections"),
	); err != nil {
		return nil, err
	}
	if t.connectionsOpen, err = meter.Int64UpDownCounter(
		"hub.connections.open",
		metric.WithDescription("Number of open subscriber connections"),
	); err != nil {
		return nil, err
	}
	if t.framesSent, err = meter.Int64Counter(
		"hub.frames.sent.total",
		metric.WithDescription("Total number of frames written to subscribers"),
	); err != nil {
		return nil, err
	}
	if t.framesDropped, err = meter.Int64Counter(
		"hub.frames.dropped.total",
		metric.WithDescription("Total number of frames dropped before delivery"),
	); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Telemetry) recordConnectionOpened(ctx context.Context) {
	if t == nil {
		return
	}
	t.connectionsTotal.Add(ctx, 1)
	t.connectionsOpen.Add(ctx, 1)
}

func (t *Telemetry) recordConnectionClosed(ctx context.Context) {
	if t == nil {
		return
	}
	t.connectionsOpen.Add(ctx, -1)
}

func (t *Telemetry) recordFrameSent(ctx context.Context) {
	if t == nil {
		return
	}
	t.framesSent.Add(ctx, 1)
}

func (t *Telemetry) recordFrameDropped(ctx context.Context, reason string) {
	if t == nil {
		return
	}
	t.framesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
