// Package apibara provides an adapter for Apibara's DNA block stream.
package apibara

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
	"github.com/archon-research/starknet-relay/internal/pkg/retry"
	"github.com/archon-research/starknet-relay/internal/ports/outbound"
)

// Compile-time check that Subscriber implements outbound.BlockSubscriber
var _ outbound.BlockSubscriber = (*Subscriber)(nil)

// Subscriber owns the upstream stream session: it configures the filter,
// cursor and finality, decodes every block it receives and reconnects when
// the session fails.
type Subscriber struct {
	config    Config
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	request StreamRequest

	headers chan entity.BlockHeader
	done    chan struct{}
	state   atomic.Int32
}

// NewSubscriber creates a new stream subscriber with automatic reconnection.
func NewSubscriber(config Config) (*Subscriber, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	transport := config.Transport
	if transport == nil {
		var err error
		transport, err = NewGRPCTransport(GRPCConfig{
			URL:         config.URL,
			Token:       config.Token,
			Insecure:    config.Insecure,
			DialOptions: config.DialOptions,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Subscriber{
		config:    config,
		transport: transport,
		logger:    config.Logger.With("component", "apibara-subscriber"),
		// Unbuffered: a header is decoded only after the previous one was taken.
		headers: make(chan entity.BlockHeader),
		done:    make(chan struct{}),
	}, nil
}

// Subscribe starts streaming from cursor. Every reconnect reissues this same
// cursor; the subscriber never advances it locally.
func (s *Subscriber) Subscribe(ctx context.Context, cursor entity.Cursor) (<-chan entity.BlockHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("subscriber is closed")
	}
	if s.cancel != nil {
		return nil, errors.New("subscriber is already streaming")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.request = StreamRequest{
		BatchSize: s.config.BatchSize,
		Cursor:    cursor,
		Finality:  s.config.Finality,
		Filter:    s.config.Filter,
	}

	go s.connectionManager()

	return s.headers, nil
}

// Unsubscribe stops the session, waits for the connection manager to exit
// and closes the transport.
func (s *Subscriber) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.cancel != nil
	if started {
		s.cancel()
	}
	s.mu.Unlock()

	if started {
		<-s.done
	} else {
		close(s.headers)
		s.setState(outbound.SessionClosed)
	}

	return s.transport.Close()
}

// State reports the current session state.
func (s *Subscriber) State() outbound.SessionState {
	return outbound.SessionState(s.state.Load())
}

func (s *Subscriber) setState(state outbound.SessionState) {
	s.state.Store(int32(state))
}

// connectionManager runs sessions until the context ends or the reconnect
// policy gives up.
func (s *Subscriber) connectionManager() {
	defer close(s.done)
	defer close(s.headers)
	defer s.setState(outbound.SessionClosed)

	retryCount := 0

	for {
		if s.ctx.Err() != nil {
			return
		}

		s.setState(outbound.SessionConnecting)
		err := s.runSession(&retryCount)
		if s.ctx.Err() != nil {
			return
		}

		retryCount++
		s.setState(outbound.SessionReconnecting)

		decision := s.config.OnReconnect(err, retryCount)
		if !decision.Reconnect {
			s.logger.Error("stream session failed, giving up", "error", err, "retryCount", retryCount)
			return
		}

		s.logger.Warn("stream session failed, reconnecting",
			"error", err,
			"retryCount", retryCount,
			"delay", decision.Delay,
		)
		s.config.Telemetry.RecordReconnection(s.ctx, retryCount)

		if err := retry.Sleep(s.ctx, decision.Delay); err != nil {
			return
		}
	}
}

// runSession opens one session and pumps it until it fails.
// It always returns a non-nil error.
func (s *Subscriber) runSession(retryCount *int) error {
	stream, err := s.transport.Open(s.ctx, s.request)
	if err != nil {
		return err
	}
	defer stream.Close()

	s.setState(outbound.SessionStreaming)
	s.config.Telemetry.RecordConnectionUp(s.ctx)
	defer s.config.Telemetry.RecordConnectionDown(s.ctx)

	s.logger.Info("stream session established",
		"cursor", s.request.Cursor.String(),
		"finality", s.request.Finality.String(),
		"batchSize", s.request.BatchSize,
	)

	// Block numbers must not go backwards within one session.
	var (
		lastBlock uint64
		seenBlock bool
	)

	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				s.logger.Warn("skipping malformed stream message", "error", err)
				continue
			}
			return fmt.Errorf("stream receive failed: %w", err)
		}

		*retryCount = 0
		s.config.Telemetry.RecordMessage(s.ctx, msg.Kind)

		switch msg.Kind {
		case MessageData:
			for _, payload := range msg.Blocks {
				header, err := DecodeBlockHeader(payload)
				if err != nil {
					s.logger.Warn("dropping undecodable block", "error", err)
					s.config.Telemetry.RecordBlockDropped(s.ctx, "decode")
					continue
				}
				if seenBlock && header.Number < lastBlock {
					s.logger.Warn("dropping block that moves backwards within session",
						"block", header.Number,
						"previous", lastBlock,
					)
					s.config.Telemetry.RecordBlockDropped(s.ctx, "out_of_order")
					continue
				}
				lastBlock, seenBlock = header.Number, true
				s.config.Telemetry.RecordBlockDecoded(s.ctx)

				s.logger.Debug("block header decoded",
					"block", header.Number,
					"hash", truncateHash(header.Hash),
				)

				select {
				case s.headers <- header:
				case <-s.ctx.Done():
					return s.ctx.Err()
				}
			}
		case MessageInvalidate:
			s.logger.Debug("ignoring invalidate message", "cursor", cursorString(msg.Cursor))
		case MessageHeartbeat:
			s.logger.Debug("heartbeat received")
		default:
			s.logger.Debug("ignoring unknown stream message")
		}
	}
}

func cursorString(c *entity.Cursor) string {
	if c == nil {
		return ""
	}
	return c.String()
}
