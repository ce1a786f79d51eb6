// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
)

// SessionState is the lifecycle state of an upstream stream session.
type SessionState int32

// Session states.
const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionStreaming
	SessionReconnecting
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionStreaming:
		return "streaming"
	case SessionReconnecting:
		return "reconnecting"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BlockSubscriber streams decoded block headers from an upstream provider.
type BlockSubscriber interface {
	// Subscribe starts a session at the given cursor. The returned channel
	// emits headers in the order they were decoded and is closed once the
	// subscriber stops. Reconnects reuse the same cursor.
	Subscribe(ctx context.Context, cursor entity.Cursor) (<-chan entity.BlockHeader, error)

	// Unsubscribe stops the session and releases the upstream connection.
	Unsubscribe() error

	// State reports the current session state.
	State() SessionState
}

// HeightResolver returns the current chain height.
type HeightResolver interface {
	// LatestHeight returns the chain tip height, or 0 when it cannot be fetched.
	// A zero result does not necessarily reflect real chain state.
	LatestHeight(ctx context.Context) uint64
}

// Notifier delivers notifications to the downstream subscriber.
type Notifier interface {
	// Start binds the listener so subscribers can connect.
	Start() error

	// Publish delivers the event to the active subscriber, if any.
	// It never blocks and never fails; undeliverable events are dropped.
	Publish(event entity.OutboundEvent)

	// Shutdown releases the listener and the active connection.
	Shutdown(timeout time.Duration) error
}
