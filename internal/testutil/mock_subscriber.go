// Package testutil provides in-memory port implementations for service tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
	"github.com/archon-research/starknet-relay/internal/ports/outbound"
)

// MockSubscriber is a test subscriber that emits headers on demand.
type MockSubscriber struct {
	mu           sync.Mutex
	headers      chan entity.BlockHeader
	state        outbound.SessionState
	cursors      []entity.Cursor
	closed       bool
	unsubscribed int

	// SubscribeErr, when set, is returned by Subscribe.
	SubscribeErr error
}

// Compile-time check that MockSubscriber implements outbound.BlockSubscriber
var _ outbound.BlockSubscriber = (*MockSubscriber)(nil)

// NewMockSubscriber creates a subscriber whose channel is unbuffered, so
// SendHeader returns only once the consumer has taken the header.
func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{
		headers: make(chan entity.BlockHeader),
		state:   outbound.SessionDisconnected,
	}
}

func (m *MockSubscriber) Subscribe(_ context.Context, cursor entity.Cursor) (<-chan entity.BlockHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	if m.closed {
		return nil, errors.New("subscriber is closed")
	}
	m.cursors = append(m.cursors, cursor)
	m.state = outbound.SessionStreaming
	return m.headers, nil
}

func (m *MockSubscriber) Unsubscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed++
	if !m.closed {
		m.closed = true
		m.state = outbound.SessionClosed
		close(m.headers)
	}
	return nil
}

func (m *MockSubscriber) State() outbound.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState overrides the reported session state.
func (m *MockSubscriber) SetState(state outbound.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// SendHeader blocks until the consumer receives header. It returns false
// once the subscriber is closed.
func (m *MockSubscriber) SendHeader(ctx context.Context, header entity.BlockHeader) bool {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return false
	}
	select {
	case m.headers <- header:
		return true
	case <-ctx.Done():
		return false
	}
}

// Cursors returns every cursor passed to Subscribe.
func (m *MockSubscriber) Cursors() []entity.Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.Cursor(nil), m.cursors...)
}

// UnsubscribeCalls returns how often Unsubscribe was called.
func (m *MockSubscriber) UnsubscribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribed
}
