// telemetry.go provides OpenTelemetry instrumentation for the stream subscriber.
//
// Metrics:
//   - apibara.subscriber.reconnections.total: Counter of reconnection attempts
//   - apibara.subscriber.messages.received.total: Counter of stream messages by kind
//   - apibara.subscriber.blocks.decoded.total: Counter of decoded block headers
//   - apibara.subscriber.blocks.dropped.total: Counter of dropped blocks by reason
//   - apibara.subscriber.connection.state: Gauge of connection state (1=streaming, 0=not streaming)
package apibara

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/archon-research/starknet-relay/internal/adapters/outbound/apibara"
)

// Telemetry provides OpenTelemetry metrics for the stream subscriber.
// A nil *Telemetry records nothing.
type Telemetry struct {
	reconnectionsTotal    metric.Int64Counter
	messagesReceivedTotal metric.Int64Counter
	blocksDecodedTotal    metric.Int64Counter
	blocksDroppedTotal    metric.Int64Counter
	connectionState       metric.Int64UpDownCounter
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

	t.reconnectionsTotal, err = meter.Int64Counter(
		"apibara.subscriber.reconnections.total",
		metric.WithDescription("Total number of stream reconnection attempts"),
	)
	if err != nil {
		return nil, err
	}

	t.messagesReceivedTotal, err = meter.Int64Counter(
		"apibara.subscriber.messages.received.total",
		metric.WithDescription("Total number of stream messages received"),
	)
	if err != nil {
		return nil, err
	}

	t.blocksDecodedTotal, err = meter.Int64Counter(
		"apibara.subscriber.blocks.decoded.total",
		metric.WithDescription("Total number of block headers decoded"),
	)
	if err != nil {
		return nil, err
	}

	t.blocksDroppedTotal, err = meter.Int64Counter(
		"apibara.subscriber.blocks.dropped.total",
		metric.WithDescription("Total number of block payloads dropped"),
	)
	if err != nil {
		return nil, err
	}

	t.connectionState, err = meter.Int64UpDownCounter(
		"apibara.subscriber.connection.state",
		metric.WithDescription("Current connection state (1=streaming, 0=not streaming)"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordReconnection records a reconnection attempt.
func (t *Telemetry) RecordReconnection(ctx context.Context, retryCount int) {
	if t == nil {
		return
	}
	t.reconnectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("retry.count", retryCount)))
}

// RecordMessage records a received stream message.
func (t *Telemetry) RecordMessage(ctx context.Context, kind MessageKind) {
	if t == nil {
		return
	}
	t.messagesReceivedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("message.kind", kind.String())))
}

// RecordBlockDecoded records a successfully decoded block header.
func (t *Telemetry) RecordBlockDecoded(ctx context.Context) {
	if t == nil {
		return
	}
	t.blocksDecodedTotal.Add(ctx, 1)
}

// RecordBlockDropped records a block payload that was not forwarded.
func (t *Telemetry) RecordBlockDropped(ctx context.Context, reason string) {
	if t == nil {
		return
	}
	t.blocksDroppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordConnectionUp records a session becoming established.
func (t *Telemetry) RecordConnectionUp(ctx context.Context) {
	if t == nil {
		return
	}
	t.connectionState.Add(ctx, 1)
}

// RecordConnectionDown records a session ending.
func (t *Telemetry) RecordConnectionDown(ctx context.Context) {
	if t == nil {
		return
	}
	t.connectionState.Add(ctx, -1)
}
