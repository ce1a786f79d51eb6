// Package retry provides reconnection policies for long-lived streams.
//
// A policy is consulted every time a stream session fails and decides whether
// to reconnect and how long to wait first.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of a reconnect policy.
type Decision struct {
	// Reconnect reports whether a new session should be attempted.
	Reconnect bool

	// Delay is how long to wait before the next attempt.
	Delay time.Duration
}

// ReconnectFunc decides what to do after a session failure.
// retryCount is 1-indexed and counts consecutive failures since the last
// successfully received message.
type ReconnectFunc func(err error, retryCount int) Decision

// DefaultReconnectDelay is the fixed delay used by the default policy.
const DefaultReconnectDelay = 1000 * time.Millisecond

// FixedDelay returns a policy that always reconnects after the same delay.
// The retry count is ignored: there is no attempt cap and no backoff growth.
func FixedDelay(delay time.Duration) ReconnectFunc {
	return func(error, int) Decision {
		return Decision{Reconnect: true, Delay: delay}
	}
}

// Never returns a policy that gives up on the first failure.
func Never() ReconnectFunc {
	return func(error, int) Decision {
		return Decision{}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting to reconnect: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
