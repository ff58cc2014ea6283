package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/pricepulse/internal/market"
	"github.com/rickgao/pricepulse/internal/model"
	"github.com/rickgao/pricepulse/internal/router"
)

// feedServer is a test price feed that records every connection.
type feedServer struct {
	*httptest.Server

	mu       sync.Mutex
	conns    int
	assets   []string // assets query per accepted connection
	received []string // text messages from clients
}

// newFeedServer starts a feed. reject decides whether connection n (1-based)
// fails the handshake; handle runs for accepted connections and keeps them
// open until it returns. Nil handle reads until the client goes away.
func newFeedServer(t *testing.T, reject func(n int) bool, handle func(n int, conn *websocket.Conn)) *feedServer {
	fs := &feedServer{}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.conns++
		n := fs.conns
		fs.mu.Unlock()

		if reject != nil && reject(n) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		fs.mu.Lock()
		fs.assets = append(fs.assets, r.URL.Query().Get("assets"))
		fs.mu.Unlock()

		if handle != nil {
			handle(n, conn)
			return
		}
		fs.readAll(conn)
	}))

	return fs
}

func (fs *feedServer) readAll(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.received = append(fs.received, string(msg))
		fs.mu.Unlock()
	}
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (fs *feedServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conns
}

func (fs *feedServer) acceptedAssets() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.assets...)
}

func (fs *feedServer) messages() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.received...)
}

// frameRecorder collects frames handed to the manager's handler.
type frameRecorder struct {
	mu     sync.Mutex
	frames []string
	fail   func(data []byte) bool
}

func (r *frameRecorder) HandleFrame(data []byte, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil && r.fail(data) {
		return errors.New("malformed frame")
	}
	r.frames = append(r.frames, string(data))
	return nil
}

func (r *frameRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

type tickCounter struct{ n atomic.Int64 }

func (c *tickCounter) Tick() { c.n.Add(1) }

func testManagerConfig(url string) ManagerConfig {
	return ManagerConfig{
		WSURL:                url,
		Assets:               []string{"bitcoin", "ethereum"},
		MaxReconnectAttempts: 5,
		ReconnectDelay:       20 * time.Millisecond,
		ReconnectMaxDelay:    time.Second,
		PingTimeout:          30 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           100,
	}
}

func startManager(t *testing.T, cfg ManagerConfig, handler FrameHandler, opts ...ManagerOption) Manager {
	t.Helper()
	m := NewManager(cfg, handler, nil, opts...)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, m Manager, want model.ConnState) model.Status {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool {
		return m.Status().State == want
	})
	return m.Status()
}

func TestManager_ConnectAndHandshake(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server.Server))
	cfg.APIKey = "secret"
	m := startManager(t, cfg, &frameRecorder{})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	status := waitForState(t, m, model.StateConnected)
	if !status.Connected {
		t.Error("expected Connected to be true")
	}
	if status.Error != "" {
		t.Errorf("Error = %q, want empty", status.Error)
	}

	waitFor(t, "handshake", func() bool { return len(server.messages()) == 1 })
	if got := server.messages()[0]; got != `{"apiKey":"secret"}` {
		t.Errorf("handshake = %s, want {\"apiKey\":\"secret\"}", got)
	}
	if got := server.acceptedAssets()[0]; got != "bitcoin,ethereum" {
		t.Errorf("assets query = %q, want bitcoin,ethereum", got)
	}
}

func TestManager_NoHandshakeWithoutKey(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	m := startManager(t, testManagerConfig(wsURL(server.Server)), nil)
	m.Connect(context.Background())
	waitForState(t, m, model.StateConnected)

	time.Sleep(50 * time.Millisecond)
	if msgs := server.messages(); len(msgs) != 0 {
		t.Errorf("expected no handshake, got %v", msgs)
	}
}

func TestManager_DeliversFramesInOrder(t *testing.T) {
	frames := []string{
		`{"bitcoin":"100"}`,
		`{"bitcoin":"101"}`,
		`{"ethereum":"50"}`,
	}
	server := newFeedServer(t, nil, func(n int, conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		drain(conn)
	})
	defer server.Close()

	rec := &frameRecorder{}
	m := startManager(t, testManagerConfig(wsURL(server.Server)), rec)
	m.Connect(context.Background())

	waitFor(t, "frames", func() bool { return len(rec.list()) == len(frames) })
	for i, want := range frames {
		if got := rec.list()[i]; got != want {
			t.Errorf("frame %d = %s, want %s", i, got, want)
		}
	}
}

func TestManager_ProcessingErrorKeepsConnection(t *testing.T) {
	next := make(chan string, 4)
	server := newFeedServer(t, nil, func(n int, conn *websocket.Conn) {
		for f := range next {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	})
	defer server.Close()
	defer close(next)

	rec := &frameRecorder{fail: func(data []byte) bool { return string(data) == "not json" }}
	m := startManager(t, testManagerConfig(wsURL(server.Server)), rec)
	m.Connect(context.Background())
	waitForState(t, m, model.StateConnected)

	next <- "not json"
	waitFor(t, "processing error", func() bool { return m.Status().Error == MsgProcessingError })

	status := m.Status()
	if status.State != model.StateConnected || !status.Connected {
		t.Errorf("state = %s connected = %v, want connected", status.State, status.Connected)
	}

	next <- `{"bitcoin":"100"}`
	waitFor(t, "error cleared", func() bool { return m.Status().Error == "" })
}

func TestManager_NullFrameIsProcessingError(t *testing.T) {
	next := make(chan string, 4)
	server := newFeedServer(t, nil, func(n int, conn *websocket.Conn) {
		for f := range next {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	})
	defer server.Close()
	defer close(next)

	store := market.NewStore([]string{"bitcoin", "ethereum"})
	rtr := router.NewRouter(router.RouterConfig{}, store, nil)
	m := startManager(t, testManagerConfig(wsURL(server.Server)), rtr)
	m.Connect(context.Background())
	waitForState(t, m, model.StateConnected)

	next <- `{"bitcoin":"100"}`
	waitFor(t, "first price", func() bool {
		rec, _ := store.Get("bitcoin")
		return rec.Current == 100
	})

	next <- `null`
	waitFor(t, "processing error", func() bool { return m.Status().Error == MsgProcessingError })

	rec, _ := store.Get("bitcoin")
	if rec.Current != 100 {
		t.Errorf("bitcoin = %v after null frame, want 100", rec.Current)
	}
}

func TestManager_ReconnectsAfterUncleanClose(t *testing.T) {
	server := newFeedServer(t, nil, func(n int, conn *websocket.Conn) {
		if n == 1 {
			return // drop the first connection
		}
		drain(conn)
	})
	defer server.Close()

	m := startManager(t, testManagerConfig(wsURL(server.Server)), nil)
	m.Connect(context.Background())

	waitFor(t, "second connection", func() bool { return server.connCount() >= 2 })
	status := waitForState(t, m, model.StateConnected)

	if status.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 after reconnect", status.Attempts)
	}
	if status.LastReconnectAt != nil {
		t.Error("expected LastReconnectAt to reset after reconnect")
	}
}

func TestManager_FailsAfterMaxAttempts(t *testing.T) {
	// First three handshakes fail, later ones succeed
	server := newFeedServer(t, func(n int) bool { return n <= 3 }, nil)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server.Server))
	cfg.MaxReconnectAttempts = 3
	m := startManager(t, cfg, nil)
	m.Connect(context.Background())

	status := waitForState(t, m, model.StateFailed)
	if status.Error != MsgMaxReconnects {
		t.Errorf("Error = %q, want %q", status.Error, MsgMaxReconnects)
	}
	if status.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", status.Attempts)
	}
	if status.Connected {
		t.Error("expected Connected to be false")
	}

	// No automatic recovery out of Failed
	time.Sleep(100 * time.Millisecond)
	if got := server.connCount(); got != 3 {
		t.Errorf("connection attempts = %d, want 3", got)
	}
	if m.Status().State != model.StateFailed {
		t.Errorf("state = %s, want failed", m.Status().State)
	}

	// Manual connect recovers and resets the counter
	m.Connect(context.Background())
	status = waitForState(t, m, model.StateConnected)
	if status.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 after manual connect", status.Attempts)
	}
	if status.Error != "" {
		t.Errorf("Error = %q, want empty", status.Error)
	}
}

func TestManager_TransportErrorSurfaced(t *testing.T) {
	server := newFeedServer(t, func(n int) bool { return true }, nil)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server.Server))
	cfg.ReconnectDelay = time.Second
	m := startManager(t, cfg, nil)
	m.Connect(context.Background())

	status := waitForState(t, m, model.StateReconnecting)
	if status.Error != MsgConnectionError {
		t.Errorf("Error = %q, want %q", status.Error, MsgConnectionError)
	}
	if status.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (error and close are one cycle)", status.Attempts)
	}
	if status.LastReconnectAt == nil {
		t.Error("expected LastReconnectAt to be set")
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	m := startManager(t, testManagerConfig(wsURL(server.Server)), nil)

	// Safe before anything was opened
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect on idle manager failed: %v", err)
	}

	m.Connect(context.Background())
	waitForState(t, m, model.StateConnected)

	for i := 0; i < 2; i++ {
		if err := m.Disconnect(context.Background()); err != nil {
			t.Fatalf("Disconnect %d failed: %v", i+1, err)
		}
		status := m.Status()
		if status.State != model.StateDisconnected || status.Connected || status.Attempts != 0 {
			t.Errorf("after Disconnect %d: %+v", i+1, status)
		}
	}

	before := server.connCount()
	time.Sleep(100 * time.Millisecond)
	if got := server.connCount(); got != before {
		t.Errorf("connections = %d after disconnect, want %d", got, before)
	}
	if m.Status().State != model.StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.Status().State)
	}
}

func TestManager_DisconnectCancelsReconnect(t *testing.T) {
	server := newFeedServer(t, func(n int) bool { return true }, nil)
	defer server.Close()

	cfg := testManagerConfig(wsURL(server.Server))
	cfg.ReconnectDelay = 150 * time.Millisecond
	m := startManager(t, cfg, nil)
	m.Connect(context.Background())

	waitForState(t, m, model.StateReconnecting)
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	before := server.connCount()
	time.Sleep(300 * time.Millisecond)
	if got := server.connCount(); got != before {
		t.Errorf("reconnect fired after Disconnect: %d connections, want %d", got, before)
	}
}

func TestManager_AddAssetReconnects(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	m := startManager(t, testManagerConfig(wsURL(server.Server)), nil)
	m.Connect(context.Background())
	waitForState(t, m, model.StateConnected)

	added, err := m.AddAsset(context.Background(), "Dogecoin")
	if err != nil {
		t.Fatalf("AddAsset failed: %v", err)
	}
	if !added {
		t.Fatal("expected dogecoin to be added")
	}

	waitFor(t, "resubscribe", func() bool { return len(server.acceptedAssets()) == 2 })
	if got := server.acceptedAssets()[1]; got != "bitcoin,ethereum,dogecoin" {
		t.Errorf("assets query = %q, want bitcoin,ethereum,dogecoin", got)
	}
	waitForState(t, m, model.StateConnected)

	added, _ = m.AddAsset(context.Background(), "BITCOIN")
	if added {
		t.Error("expected duplicate asset to be ignored")
	}

	status := m.Status()
	if len(status.Assets) != 3 {
		t.Errorf("Assets = %v, want 3 entries", status.Assets)
	}
}

func TestManager_AddAssetWhileDisconnected(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	m := startManager(t, testManagerConfig(wsURL(server.Server)), nil)

	added, err := m.AddAsset(context.Background(), "solana")
	if err != nil || !added {
		t.Fatalf("AddAsset = %v, %v", added, err)
	}

	time.Sleep(50 * time.Millisecond)
	if server.connCount() != 0 {
		t.Error("AddAsset must not connect a disconnected manager")
	}
	if got := m.Assets(); len(got) != 3 {
		t.Errorf("Assets() = %v, want 3 entries", got)
	}
}

func TestManager_WeatherTicksWhileConnected(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	ticks := &tickCounter{}
	cfg := testManagerConfig(wsURL(server.Server))
	cfg.WeatherInterval = 10 * time.Millisecond
	m := startManager(t, cfg, nil, WithTickHandler(ticks))

	time.Sleep(50 * time.Millisecond)
	if ticks.n.Load() != 0 {
		t.Error("expected no ticks before connecting")
	}

	m.Connect(context.Background())
	waitForState(t, m, model.StateConnected)
	waitFor(t, "ticks", func() bool { return ticks.n.Load() >= 3 })

	m.Disconnect(context.Background())
	after := ticks.n.Load()
	time.Sleep(50 * time.Millisecond)
	if got := ticks.n.Load(); got != after {
		t.Errorf("ticks = %d after Disconnect, want %d", got, after)
	}
}

func TestManager_Subscribe(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	m := startManager(t, testManagerConfig(wsURL(server.Server)), nil)
	updates, cancel := m.Subscribe()
	defer cancel()

	m.Connect(context.Background())

	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-updates:
			if s.State == model.StateConnected {
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for connected status update")
		}
	}
}

func TestManager_NotStarted(t *testing.T) {
	m := NewManager(testManagerConfig("ws://127.0.0.1:1"), nil, nil)

	if err := m.Connect(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Connect before Start = %v, want ErrManagerClosed", err)
	}
	if m.Status().State != model.StateDisconnected {
		t.Errorf("initial state = %s, want disconnected", m.Status().State)
	}
}

func TestManager_StopClosesConnection(t *testing.T) {
	server := newFeedServer(t, nil, nil)
	defer server.Close()

	m := NewManager(testManagerConfig(wsURL(server.Server)), nil, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Connect(context.Background())
	waitForState(t, m, model.StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := m.Connect(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Connect after Stop = %v, want ErrManagerClosed", err)
	}
}
