package apibara

import (
	"errors"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
	"github.com/archon-research/starknet-relay/internal/pkg/retry"
)

// Default configuration values for stream sessions.
const (
	defaultBatchSize = 1
	defaultFinality  = entity.FinalityAccepted
)

// Config holds the configuration for the Apibara stream subscriber.
type Config struct {
	// URL is the DNA stream endpoint as host:port.
	// Example: sepolia.starknet.a5a.ch:443
	URL string

	// Token is the Apibara auth token. Optional for self-hosted streams.
	Token string

	// Insecure disables TLS on the gRPC connection.
	Insecure bool

	// Filter is the encoded Starknet filter.
	// Defaults to a header-only filter.
	Filter []byte

	// BatchSize is the number of blocks the provider packs into one message.
	// Defaults to 1.
	BatchSize uint64

	// Finality is the block acceptance tier to stream.
	// Defaults to accepted.
	Finality entity.Finality

	// OnReconnect decides whether and when to reconnect after a session fails.
	// Defaults to reconnecting forever after a fixed 1000 ms delay.
	OnReconnect retry.ReconnectFunc

	// Transport opens stream sessions. Defaults to a gRPC transport for URL.
	Transport Transport

	// DialOptions are extra gRPC dial options for the default transport.
	DialOptions []grpc.DialOption

	// Telemetry records session metrics. Optional.
	Telemetry *Telemetry

	// Logger is the structured logger for the subscriber.
	// If not set, a default logger will be used.
	Logger *slog.Logger
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.URL == "" && c.Transport == nil {
		return errors.New("URL is required")
	}
	return nil
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if len(c.Filter) == 0 {
		c.Filter = NewHeaderFilter(false)
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Finality == entity.FinalityUnknown {
		c.Finality = defaultFinality
	}
	if c.OnReconnect == nil {
		c.OnReconnect = retry.FixedDelay(retry.DefaultReconnectDelay)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
