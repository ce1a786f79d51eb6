// Package http provides the inbound HTTP health endpoints of the relay.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archon-research/starknet-relay/internal/ports/inbound"
)

// HealthServerConfig holds configuration for the health server.
type HealthServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080").
	Addr string

	// Logger for the health server.
	Logger *slog.Logger

	// ReadTimeout for HTTP requests.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses.
	WriteTimeout time.Duration
}

// HealthServerConfigDefaults returns a config with default values.
func HealthServerConfigDefaults() HealthServerConfig {
	return HealthServerConfig{
		Addr:         ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// HealthServer exposes readiness and liveness probes for the relay.
//
// Endpoints:
//   - /health/ready  - 200 while the upstream session is streaming
//   - /health/live   - 200 until the upstream session is closed for good
//   - /health        - combined status, plus details when the checker reports them
//
// All endpoints report 503 once shuttingDown is set.
type HealthServer struct {
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
	handler      http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	config   HealthServerConfig
}

// NewHealthServer creates a new health server.
func NewHealthServer(config HealthServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool) *HealthServer {
	defaults := HealthServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}

	hs := &HealthServer{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "health-server"),
		config:       config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", hs.handleReady)
	mux.HandleFunc("GET /health/live", hs.handleLive)
	mux.HandleFunc("GET /health", hs.handleHealth)
	hs.handler = mux

	return hs
}

// Handler returns the HTTP handler serving the health endpoints.
func (hs *HealthServer) Handler() http.Handler {
	return hs.handler
}

// Start binds the address and serves in the background.
func (hs *HealthServer) Start() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.server != nil {
		return errors.New("health server already started")
	}

	listener, err := net.Listen("tcp", hs.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", hs.config.Addr, err)
	}
	hs.listener = listener
	hs.server = &http.Server{
		Handler:      hs.handler,
		ReadTimeout:  hs.config.ReadTimeout,
		WriteTimeout: hs.config.WriteTimeout,
	}

	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error("health server failed", "error", err)
		}
	}(hs.server)

	hs.logger.Info("health server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (hs *HealthServer) Addr() net.Addr {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.listener == nil {
		return nil
	}
	return hs.listener.Addr()
}

// Shutdown gracefully stops the health server.
func (hs *HealthServer) Shutdown(timeout time.Duration) error {
	hs.mu.Lock()
	server := hs.server
	hs.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func (hs *HealthServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	switch {
	case hs.shuttingDown.Load():
		hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case hs.checker.IsReady():
		hs.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	default:
		hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (hs *HealthServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	switch {
	case hs.shuttingDown.Load():
		hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case hs.checker.IsHealthy():
		hs.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	default:
		hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":       "ok",
		"ready":        false,
		"healthy":      false,
		"shuttingDown": hs.shuttingDown.Load(),
	}

	if hs.shuttingDown.Load() {
		body["status"] = "shutting_down"
		hs.respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	ready := hs.checker.IsReady()
	healthy := hs.checker.IsHealthy()
	body["ready"] = ready
	body["healthy"] = healthy

	if reporter, ok := hs.checker.(inbound.StatusReporter); ok {
		body["details"] = reporter.Status()
	}

	statusCode := http.StatusOK
	if !ready || !healthy {
		body["status"] = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	hs.respondJSON(w, statusCode, body)
}

func (hs *HealthServer) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		hs.logger.Error("failed to encode JSON response", "error", err)
	}
}
