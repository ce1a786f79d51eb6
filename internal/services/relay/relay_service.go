// Package relay wires the upstream block stream to the downstream
// subscriber: it resolves the starting height, opens the stream there and
// turns every decoded header into a notification.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
	"github.com/archon-research/starknet-relay/internal/ports/inbound"
	"github.com/archon-research/starknet-relay/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/starknet-relay/internal/services/relay"

// Config holds configuration for the relay service.
type Config struct {
	// ShutdownTimeout bounds the notifier shutdown in Stop.
	ShutdownTimeout time.Duration

	// TracerProvider is used for startup spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Logger is the structured logger.
	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		ShutdownTimeout: 5 * time.Second,
	}
}

// Service relays block headers from a BlockSubscriber to a Notifier.
type Service struct {
	config Config
	logger *slog.Logger
	tracer trace.Tracer

	subscriber outbound.BlockSubscriber
	resolver   outbound.HeightResolver
	notifier   outbound.Notifier

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	starting bool
	stopped  bool
	done     chan struct{}

	startHeight  atomic.Uint64
	lastRelayed  atomic.Uint64
	relayedTotal atomic.Uint64
}

var (
	_ inbound.HealthChecker  = (*Service)(nil)
	_ inbound.StatusReporter = (*Service)(nil)
)

// NewService creates the relay service.
func NewService(
	config Config,
	subscriber outbound.BlockSubscriber,
	resolver outbound.HeightResolver,
	notifier outbound.Notifier,
) (*Service, error) {
	if subscriber == nil {
		return nil, errors.New("subscriber is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}

	defaults := ConfigDefaults()
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Service{
		config:     config,
		logger:     config.Logger.With("component", "relay"),
		tracer:     config.TracerProvider.Tracer(tracerName),
		subscriber: subscriber,
		resolver:   resolver,
		notifier:   notifier,
		done:       make(chan struct{}),
	}, nil
}

// Start brings the relay up: the notifier listener first, then the height
// lookup, then the stream subscription at that height, then the pump.
// The stream outlives ctx; call Stop to end it. The service lock is not held
// during the height lookup, so Stop and Status stay responsive.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	switch {
	case s.started || s.starting:
		s.mu.Unlock()
		return errors.New("relay already started")
	case s.stopped:
		s.mu.Unlock()
		return errors.New("relay is stopped")
	}
	s.starting = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.mu.Lock()
			s.starting = false
			s.cancel()
			s.mu.Unlock()
		}
	}()

	ctx, span := s.tracer.Start(ctx, "relay.Start")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "startup failed")
		}
		span.End()
	}()

	if err := s.notifier.Start(); err != nil {
		return fmt.Errorf("failed to start notifier: %w", err)
	}

	height := s.resolver.LatestHeight(ctx)
	if height == 0 {
		s.logger.Warn("starting height unknown, streaming from block 0")
	}
	s.startHeight.Store(height)
	span.SetAttributes(attribute.String("block.start", strconv.FormatUint(height, 10)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.shutdownNotifier()
		return errors.New("relay stopped during startup")
	}

	headers, err := s.subscriber.Subscribe(s.ctx, entity.CursorAtHeight(height))
	if err != nil {
		s.shutdownNotifier()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.started = true
	s.starting = false
	go s.relayHeaders(headers)

	s.logger.Info("relay started", "startBlock", height)
	return nil
}

func (s *Service) shutdownNotifier() {
	if err := s.notifier.Shutdown(s.config.ShutdownTimeout); err != nil {
		s.logger.Warn("failed to shut down notifier", "error", err)
	}
}

// relayHeaders publishes one notification per header, in arrival order.
func (s *Service) relayHeaders(headers <-chan entity.BlockHeader) {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case header, ok := <-headers:
			if !ok {
				s.logger.Info("block stream ended")
				return
			}
			s.notifier.Publish(entity.NewBlockEvent(header))
			s.lastRelayed.Store(header.Number)
			s.relayedTotal.Add(1)
			s.logger.Debug("relayed block", "block", header.Number)
		}
	}
}

// Stop tears the relay down without draining: the pump stops, the stream
// is released and the notifier closes its listener and connection.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	var errs []error
	if err := s.subscriber.Unsubscribe(); err != nil {
		errs = append(errs, fmt.Errorf("failed to unsubscribe: %w", err))
	}
	if started {
		<-s.done
		if err := s.notifier.Shutdown(s.config.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down notifier: %w", err))
		}
	}

	s.logger.Info("relay stopped", "relayed", s.relayedTotal.Load())
	return errors.Join(errs...)
}

// IsReady reports whether the upstream session is streaming.
func (s *Service) IsReady() bool {
	return s.subscriber.State() == outbound.SessionStreaming
}

// IsHealthy reports whether the upstream session is still alive. A session
// that is reconnecting counts as healthy.
func (s *Service) IsHealthy() bool {
	return s.subscriber.State() != outbound.SessionClosed
}

// Status describes the relay for the combined health endpoint.
func (s *Service) Status() map[string]any {
	return map[string]any{
		"session":      s.subscriber.State().String(),
		"startBlock":   s.startHeight.Load(),
		"lastRelayed":  s.lastRelayed.Load(),
		"relayedTotal": s.relayedTotal.Load(),
	}
}
