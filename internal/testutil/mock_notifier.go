package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
	"github.com/archon-research/starknet-relay/internal/ports/outbound"
)

// MockNotifier records published events.
type MockNotifier struct {
	mu       sync.Mutex
	events   []entity.OutboundEvent
	started  bool
	shutdown bool

	// StartErr, when set, is returned by Start.
	StartErr error
}

// Compile-time check that MockNotifier implements outbound.Notifier
var _ outbound.Notifier = (*MockNotifier)(nil)

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	m.started = true
	return nil
}

func (m *MockNotifier) Publish(event entity.OutboundEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockNotifier) Shutdown(time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
	return nil
}

// Events returns the published events in order.
func (m *MockNotifier) Events() []entity.OutboundEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.OutboundEvent(nil), m.events...)
}

// Started reports whether Start succeeded.
func (m *MockNotifier) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// IsShutdown reports whether Shutdown was called.
func (m *MockNotifier) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// MockResolver returns a fixed height and counts calls.
type MockResolver struct {
	mu     sync.Mutex
	height uint64
	calls  int
}

// Compile-time check that MockResolver implements outbound.HeightResolver
var _ outbound.HeightResolver = (*MockResolver)(nil)

func NewMockResolver(height uint64) *MockResolver {
	return &MockResolver{height: height}
}

func (m *MockResolver) LatestHeight(context.Context) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.height
}

// Calls returns how often LatestHeight was called.
func (m *MockResolver) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
