package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
	"github.com/archon-research/starknet-relay/internal/pkg/testutil"
)

func newTestHub(t *testing.T, config Config) *Hub {
	t.Helper()
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hub, err := NewHub(config)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return hub
}

// serveHub serves hub from an httptest server and returns its ws:// URL.
func serveHub(t *testing.T, hub *Hub) string {
	t.Helper()
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
		server.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connectActive dials the hub and waits until the new connection is the
// active subscriber. It returns the connection and its handle ID.
func connectActive(t *testing.T, hub *Hub, url string) (*gorilla.Conn, string) {
	t.Helper()
	before := hub.ActiveID()
	conn := dial(t, url)
	testutil.Eventually(t, time.Second, func() bool {
		id := hub.ActiveID()
		return id != "" && id != before
	}, "new connection to become active")
	return conn, hub.ActiveID()
}

func readFrame(t *testing.T, conn *gorilla.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if messageType != gorilla.TextMessage {
		t.Fatalf("frame type: got %d, want text", messageType)
	}
	return string(data)
}

func expectNoFrame(t *testing.T, conn *gorilla.Conn, wait time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func publishBlock(hub *Hub, number uint64) {
	hub.Publish(entity.NewBlockEvent(entity.BlockHeader{Number: number}))
}

// --- Test: NewHub ---

func TestNewHub_AppliesDefaults(t *testing.T) {
	hub := newTestHub(t, Config{})
	if hub.config.Addr != ":3003" {
		t.Errorf("Addr: got %q, want :3003", hub.config.Addr)
	}
	if hub.config.SendBufferSize != 16 {
		t.Errorf("SendBufferSize: got %d, want 16", hub.config.SendBufferSize)
	}
	if hub.ActiveID() != "" {
		t.Errorf("expected no active subscriber, got %q", hub.ActiveID())
	}
}

func TestNewHub_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"negative buffer", Config{SendBufferSize: -1}},
		{"negative write timeout", Config{WriteTimeout: -time.Second}},
		{"negative ping interval", Config{PingInterval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHub(tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- Test: Publish ---

func TestHub_PublishDeliversFramesInOrder(t *testing.T) {
	hub := newTestHub(t, Config{})
	conn, _ := connectActive(t, hub, serveHub(t, hub))

	publishBlock(hub, 100)
	publishBlock(hub, 101)
	publishBlock(hub, 102)

	for _, want := range []string{
		`{"type":"new_block","block_number":100}`,
		`{"type":"new_block","block_number":101}`,
		`{"type":"new_block","block_number":102}`,
	} {
		if got := readFrame(t, conn); got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
}

func TestHub_PublishKeepsFullPrecision(t *testing.T) {
	hub := newTestHub(t, Config{})
	conn, _ := connectActive(t, hub, serveHub(t, hub))

	publishBlock(hub, 9007199254740993)
	publishBlock(hub, 18446744073709551615)

	if got, want := readFrame(t, conn), `{"type":"new_block","block_number":9007199254740993}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got, want := readFrame(t, conn), `{"type":"new_block","block_number":18446744073709551615}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHub_PublishWithoutSubscriberIsDropped(t *testing.T) {
	hub := newTestHub(t, Config{})
	url := serveHub(t, hub)

	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 100; i++ {
			publishBlock(hub, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a subscriber")
	}

	// A subscriber connecting later sees only later notifications.
	conn, _ := connectActive(t, hub, url)
	publishBlock(hub, 500)
	if got, want := readFrame(t, conn), `{"type":"new_block","block_number":500}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := newTestHub(t, Config{SendBufferSize: 1})
	_, _ = connectActive(t, hub, serveHub(t, hub))

	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 10000; i++ {
			publishBlock(hub, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestHandle_Enqueue(t *testing.T) {
	handle := &Handle{
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}

	if got := handle.enqueue([]byte("a")); got != enqueued {
		t.Errorf("first enqueue: got %v, want enqueued", got)
	}
	if got := handle.enqueue([]byte("b")); got != enqueueFull {
		t.Errorf("second enqueue: got %v, want full", got)
	}

	close(handle.done)
	if got := handle.enqueue([]byte("c")); got != enqueueClosed {
		t.Errorf("enqueue after close: got %v, want closed", got)
	}
}

// --- Test: connection replacement ---

func TestHub_NewConnectionSupersedesPrevious(t *testing.T) {
	hub := newTestHub(t, Config{})
	url := serveHub(t, hub)

	connA, idA := connectActive(t, hub, url)
	connB, idB := connectActive(t, hub, url)
	if idA == idB {
		t.Fatal("expected distinct handle IDs")
	}

	publishBlock(hub, 7)

	if got, want := readFrame(t, connB), `{"type":"new_block","block_number":7}`; got != want {
		t.Errorf("B: got %s, want %s", got, want)
	}
	expectNoFrame(t, connA, 100*time.Millisecond)
}

func TestHub_ActiveDisconnectClearsSlot(t *testing.T) {
	hub := newTestHub(t, Config{})
	conn, _ := connectActive(t, hub, serveHub(t, hub))

	_ = conn.Close()

	testutil.Eventually(t, time.Second, func() bool { return hub.ActiveID() == "" }, "slot cleared")
	publishBlock(hub, 1)
}

func TestHub_StaleDisconnectKeepsActiveSubscriber(t *testing.T) {
	hub := newTestHub(t, Config{})
	url := serveHub(t, hub)

	connA, _ := connectActive(t, hub, url)
	connB, idB := connectActive(t, hub, url)

	// Closing A after B took over must not clear B.
	_ = connA.Close()
	testutil.Eventually(t, time.Second, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.handles) == 1
	}, "stale handle removed")

	if hub.ActiveID() != idB {
		t.Fatalf("active: got %q, want %q", hub.ActiveID(), idB)
	}
	publishBlock(hub, 42)
	if got, want := readFrame(t, connB), `{"type":"new_block","block_number":42}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHub_DisconnectUnknownHandle(t *testing.T) {
	hub := newTestHub(t, Config{})
	hub.Disconnect(nil)
	hub.Disconnect(&Handle{id: "stale"})
	if hub.ActiveID() != "" {
		t.Errorf("expected empty slot, got %q", hub.ActiveID())
	}
}

// --- Test: control frames ---

func TestHub_UnsubscribeAndSubscribeFrames(t *testing.T) {
	hub := newTestHub(t, Config{})
	conn, id := connectActive(t, hub, serveHub(t, hub))

	if err := conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"unsubscribe"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	testutil.Eventually(t, time.Second, func() bool { return hub.ActiveID() == "" }, "detached")

	// Dropped: nobody is subscribed.
	publishBlock(hub, 1)

	if err := conn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	testutil.Eventually(t, time.Second, func() bool { return hub.ActiveID() == id }, "re-attached")

	publishBlock(hub, 2)
	if got, want := readFrame(t, conn), `{"type":"new_block","block_number":2}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHub_SupersededConnectionCannotResubscribe(t *testing.T) {
	hub := newTestHub(t, Config{})
	url := serveHub(t, hub)

	connA, idA := connectActive(t, hub, url)
	connB, idB := connectActive(t, hub, url)

	if err := connA.WriteMessage(gorilla.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Give the read loop time to handle the frame.
	time.Sleep(50 * time.Millisecond)

	if got := hub.ActiveID(); got != idB {
		t.Fatalf("active: got %q, want %q", got, idB)
	}
	if handleA := handleByID(hub, idA); handleA == nil || hub.attach(handleA) {
		t.Error("superseded handle re-attached")
	}

	publishBlock(hub, 9)
	if got, want := readFrame(t, connB), `{"type":"new_block","block_number":9}`; got != want {
		t.Errorf("B: got %s, want %s", got, want)
	}
	expectNoFrame(t, connA, 100*time.Millisecond)
}

func TestHub_NewestConnectionResubscribesAfterSupersededOneCloses(t *testing.T) {
	hub := newTestHub(t, Config{})
	url := serveHub(t, hub)

	connA, _ := connectActive(t, hub, url)
	connB, idB := connectActive(t, hub, url)
	_ = connA.Close()

	if err := connB.WriteMessage(gorilla.TextMessage, []byte(`{"type":"unsubscribe"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	testutil.Eventually(t, time.Second, func() bool { return hub.ActiveID() == "" }, "detached")

	if err := connB.WriteMessage(gorilla.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	testutil.Eventually(t, time.Second, func() bool { return hub.ActiveID() == idB }, "re-attached")
}

func handleByID(hub *Hub, id string) *Handle {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for handle := range hub.handles {
		if handle.id == id {
			return handle
		}
	}
	return nil
}

func TestHub_IgnoresOtherInboundFrames(t *testing.T) {
	hub := newTestHub(t, Config{})
	conn, id := connectActive(t, hub, serveHub(t, hub))

	for _, frame := range []string{`hello`, `{"type":"ping"}`, `{}`} {
		if err := conn.WriteMessage(gorilla.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := conn.WriteMessage(gorilla.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}

	publishBlock(hub, 3)
	if got, want := readFrame(t, conn), `{"type":"new_block","block_number":3}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if hub.ActiveID() != id {
		t.Errorf("active changed: got %q, want %q", hub.ActiveID(), id)
	}
}

// --- Test: Start and Shutdown ---

func TestHub_StartAndShutdown(t *testing.T) {
	hub := newTestHub(t, Config{Addr: "127.0.0.1:0"})
	if err := hub.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := hub.Start(); err == nil {
		t.Error("expected error on second Start")
	}

	url := "ws://" + hub.Addr().String() + "/any/path"
	conn, _ := connectActive(t, hub, url)

	publishBlock(hub, 11)
	if got, want := readFrame(t, conn), `{"type":"new_block","block_number":11}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if hub.ActiveID() != "" {
		t.Error("expected empty slot after shutdown")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
	if _, _, err := gorilla.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("expected dial to fail after shutdown")
	}
}

func TestHub_AcceptAfterShutdownClosesConnection(t *testing.T) {
	hub := newTestHub(t, Config{})
	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// An upgrade that completes after Shutdown must not leave a live handle.
	accepted := make(chan *Handle, 1)
	upgrader := gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- hub.Accept(conn)
	}))
	defer server.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"))

	select {
	case handle := <-accepted:
		if handle != nil {
			t.Error("expected nil handle after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept was not called")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *gorilla.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != gorilla.CloseGoingAway {
		t.Errorf("expected going-away close, got %v", err)
	}

	if hub.ActiveID() != "" {
		t.Errorf("active: got %q, want none", hub.ActiveID())
	}
	hub.mu.Lock()
	open := len(hub.handles)
	hub.mu.Unlock()
	if open != 0 {
		t.Errorf("open handles: got %d, want 0", open)
	}
	if err := hub.Start(); err == nil {
		t.Error("expected Start after Shutdown to fail")
	}
}

func TestHub_StartFailsWhenAddressInUse(t *testing.T) {
	first := newTestHub(t, Config{Addr: "127.0.0.1:0"})
	if err := first.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Shutdown(time.Second)

	second := newTestHub(t, Config{Addr: first.Addr().String()})
	if err := second.Start(); err == nil {
		_ = second.Shutdown(time.Second)
		t.Fatal("expected bind error")
	}
}

func TestHub_ShutdownBeforeStart(t *testing.T) {
	hub := newTestHub(t, Config{})
	if err := hub.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// --- Test: telemetry ---

func TestHub_RecordsTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	tel, err := NewTelemetryWithProvider(provider)
	if err != nil {
		t.Fatalf("NewTelemetryWithProvider: %v", err)
	}

	hub := newTestHub(t, Config{Telemetry: tel})
	url := serveHub(t, hub)

	publishBlock(hub, 1)
	conn, _ := connectActive(t, hub, url)
	publishBlock(hub, 2)
	readFrame(t, conn)

	testutil.Eventually(t, time.Second, func() bool {
		return collectSum(t, reader, "hub.frames.sent.total") == 1
	}, "frame sent recorded")

	if got := collectSum(t, reader, "hub.frames.dropped.total"); got != 1 {
		t.Errorf("dropped: got %d, want 1", got)
	}
	if got := collectSum(t, reader, "hub.connections.total"); got != 1 {
		t.Errorf("connections: got %d, want 1", got)
	}
	if got := collectSum(t, reader, "hub.connections.open"); got != 1 {
		t.Errorf("open connections: got %d, want 1", got)
	}
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
