// Package starknet provides the JSON-RPC adapter used to find the chain head
// before the block stream starts.
package starknet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/starknet-relay/internal/ports/outbound"
)

// Compile-time check that Resolver implements outbound.HeightResolver
var _ outbound.HeightResolver = (*Resolver)(nil)

const tracerName = "github.com/archon-research/starknet-relay/internal/adapters/outbound/starknet"

// DefaultHeightMethod returns the number of the latest accepted block.
const DefaultHeightMethod = "starknet_blockNumber"

// Config holds configuration for the height resolver.
type Config struct {
	// URL is the Starknet JSON-RPC endpoint.
	URL string

	// HeightMethod is the RPC method queried for the chain head.
	HeightMethod string

	// Timeout bounds a single height query.
	Timeout time.Duration

	// TracerProvider is used for request spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Logger is the structured logger for the resolver.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		HeightMethod: DefaultHeightMethod,
		Timeout:      10 * time.Second,
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("URL is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	defaults := ConfigDefaults()
	if c.HeightMethod == "" {
		c.HeightMethod = defaults.HeightMethod
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Resolver asks a JSON-RPC provider for the latest block height.
type Resolver struct {
	config Config
	client *rpc.Client
	tracer trace.Tracer
	logger *slog.Logger
}

// NewResolver creates a resolver. No request is made until LatestHeight.
func NewResolver(ctx context.Context, config Config) (*Resolver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	client, err := rpc.DialOptions(ctx, config.URL,
		rpc.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client for %s: %w", config.URL, err)
	}

	return &Resolver{
		config: config,
		client: client,
		tracer: config.TracerProvider.Tracer(tracerName),
		logger: config.Logger.With("component", "starknet-resolver"),
	}, nil
}

// LatestHeight returns the provider's latest block number, or 0 when the
// query fails for any reason. Failures are logged and never retried.
func (r *Resolver) LatestHeight(ctx context.Context) uint64 {
	ctx, span := r.tracer.Start(ctx, "starknet.LatestHeight",
		trace.WithAttributes(attribute.String("rpc.method", r.config.HeightMethod)),
	)
	defer span.End()

	height, err := r.queryHeight(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "height query failed")
		r.logger.Error("failed to fetch latest block height, starting from 0",
			"method", r.config.HeightMethod,
			"error", err,
		)
		return 0
	}

	span.SetAttributes(attribute.String("block.number", strconv.FormatUint(height, 10)))
	r.logger.Info("resolved latest block height", "block", height)
	return height
}

func (r *Resolver) queryHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	// A non-nil empty slice is encoded as "params":[].
	params := []any{}

	var raw json.RawMessage
	if err := r.client.CallContext(ctx, &raw, r.config.HeightMethod, params...); err != nil {
		return 0, fmt.Errorf("%s call failed: %w", r.config.HeightMethod, err)
	}
	return parseHeight(raw)
}

// parseHeight accepts a JSON unsigned integer result.
func parseHeight(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("empty result")
	}
	var height uint64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, fmt.Errorf("result %s is not a block number: %w", truncate(raw), err)
	}
	return height, nil
}

func truncate(raw json.RawMessage) string {
	const limit = 64
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}

// Close releases the RPC client.
func (r *Resolver) Close() {
	r.client.Close()
}
