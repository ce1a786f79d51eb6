// Package websocket provides the subscriber-facing websocket hub. The hub
// holds at most one active subscriber and relays notifications to it.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
	"github.com/archon-research/starknet-relay/internal/ports/outbound"
)

// Compile-time check that Hub implements outbound.Notifier
var _ outbound.Notifier = (*Hub)(nil)

// Hub accepts websocket subscribers and delivers notifications to the most
// recently attached one. A newer connection supersedes the previous one;
// the superseded connection stays open but receives nothing further.
type Hub struct {
	config   Config
	logger   *slog.Logger
	upgrader gorilla.Upgrader

	mu     sync.Mutex
	active *Handle
	// latest is the most recently accepted handle still open. Only it may
	// re-attach after detaching.
	latest   *Handle
	handles  map[*Handle]struct{}
	closed   bool
	listener net.Listener
	server   *http.Server
}

// NewHub creates a hub. Call Start to begin accepting connections.
func NewHub(config Config) (*Hub, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	return &Hub{
		config: config,
		logger: config.Logger.With("component", "subscriber-hub"),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		handles: make(map[*Handle]struct{}),
	}, nil
}

// Start binds the listen address and serves upgrades in the background.
// A bind failure is returned synchronously.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server != nil {
		return errors.New("hub already started")
	}
	if h.closed {
		return errors.New("hub is shut down")
	}

	listener, err := net.Listen("tcp", h.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.config.Addr, err)
	}

	h.listener = listener
	h.server = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(server *http.Server) {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("websocket server failed", "error", err)
		}
	}(h.server)

	h.logger.Info("websocket server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// ServeHTTP upgrades any request to a websocket and attaches it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.Accept(conn)
}

// Accept registers conn as the active subscriber, superseding any previous one.
// After Shutdown the connection is closed immediately and nil is returned.
func (h *Hub) Accept(conn *gorilla.Conn) *Handle {
	handle := newHandle(h, conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.logger.Info("rejecting subscriber, hub is shut down", "remote", conn.RemoteAddr().String())
		handle.closeWithReason(gorilla.CloseGoingAway, "server shutting down")
		return nil
	}
	previous := h.active
	h.active = handle
	h.latest = handle
	h.handles[handle] = struct{}{}
	h.mu.Unlock()

	h.config.Telemetry.recordConnectionOpened(context.Background())

	if previous != nil {
		h.logger.Info("subscriber connected, superseding previous subscriber",
			"id", handle.id,
			"previous", previous.id,
			"remote", conn.RemoteAddr().String(),
		)
	} else {
		h.logger.Info("subscriber connected", "id", handle.id, "remote", conn.RemoteAddr().String())
	}

	handle.start()
	return handle
}

// Disconnect forgets handle. The active slot is cleared only when handle is
// still the active subscriber; a stale handle leaves it untouched.
func (h *Hub) Disconnect(handle *Handle) {
	if handle == nil {
		return
	}

	h.mu.Lock()
	_, known := h.handles[handle]
	delete(h.handles, handle)
	wasActive := h.active == handle
	if wasActive {
		h.active = nil
	}
	if h.latest == handle {
		h.latest = nil
	}
	h.mu.Unlock()

	if !known {
		return
	}
	h.config.Telemetry.recordConnectionClosed(context.Background())
	h.logger.Info("subscriber disconnected", "id", handle.id, "active", wasActive)
}

// attach makes handle the active subscriber again. Only the newest
// connection can re-attach; a superseded one stays inert.
func (h *Hub) attach(handle *Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle != h.latest {
		return false
	}
	if _, known := h.handles[handle]; !known {
		return false
	}
	h.active = handle
	return true
}

// detach clears the active slot if handle holds it. The connection stays open.
func (h *Hub) detach(handle *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == handle {
		h.active = nil
	}
}

// ActiveID returns the ID of the active subscriber, or "" when there is none.
func (h *Hub) ActiveID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return ""
	}
	return h.active.id
}

// Publish queues event for the active subscriber. It never blocks: without
// an active subscriber, or when its queue is full or closed, the event is
// dropped.
func (h *Hub) Publish(event entity.OutboundEvent) {
	ctx := context.Background()

	h.mu.Lock()
	handle := h.active
	h.mu.Unlock()

	if handle == nil {
		h.logger.Debug("no active subscriber, dropping notification", "block", event.BlockNumber)
		h.config.Telemetry.recordFrameDropped(ctx, dropNoSubscriber)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode notification", "block", event.BlockNumber, "error", err)
		return
	}

	switch handle.enqueue(payload) {
	case enqueueClosed:
		h.logger.Debug("subscriber connection closed, dropping notification",
			"id", handle.id,
			"block", event.BlockNumber,
		)
		h.config.Telemetry.recordFrameDropped(ctx, dropClosed)
	case enqueueFull:
		h.logger.Warn("subscriber send queue full, dropping notification",
			"id", handle.id,
			"block", event.BlockNumber,
		)
		h.config.Telemetry.recordFrameDropped(ctx, dropQueueFull)
	}
}

// Shutdown stops accepting connections and closes every open connection.
// Queued frames are not drained.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closed = true
	server := h.server
	handles := make([]*Handle, 0, len(h.handles))
	for handle := range h.handles {
		handles = append(handles, handle)
	}
	h.active = nil
	h.latest = nil
	h.mu.Unlock()

	var err error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by the server.
		if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down websocket server: %w", shutdownErr)
		}
	}

	for _, handle := range handles {
		handle.closeWithReason(gorilla.CloseGoingAway, "server shutting down")
	}

	h.logger.Info("websocket server stopped", "closedConnections", len(handles))
	return err
}
