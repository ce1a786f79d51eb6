// Package inbound contains the primary/inbound ports.
package inbound

// HealthChecker defines the interface for services that can report readiness and liveness.
//
// Implementations:
//   - relay.Service: ready while the upstream session is streaming, healthy until it is closed
type HealthChecker interface {
	// IsReady returns true when the service is delivering data.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	// Reconnecting after a transport failure still counts as healthy.
	IsHealthy() bool
}

// StatusReporter is optionally implemented by a HealthChecker that can
// describe its state in more detail.
type StatusReporter interface {
	Status() map[string]any
}
