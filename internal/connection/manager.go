package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/pricepulse/internal/metrics"
	"github.com/rickgao/pricepulse/internal/model"
)

// FrameHandler consumes frames on the manager's event loop.
type FrameHandler interface {
	HandleFrame(data []byte, receivedAt time.Time) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(data []byte, receivedAt time.Time) error

// HandleFrame calls f.
func (f FrameHandlerFunc) HandleFrame(data []byte, receivedAt time.Time) error {
	return f(data, receivedAt)
}

// TickHandler is invoked on the manager's event loop every weather interval
// while the feed is connected.
type TickHandler interface {
	Tick()
}

// Manager orchestrates the feed connection and its reconnection.
type Manager interface {
	// Start launches the event loop. Connect must be called to open the feed.
	Start(ctx context.Context) error

	// Stop tears down the connection and ends the event loop.
	Stop(ctx context.Context) error

	// Connect tears down any existing attempt and starts a new one with the
	// current Subscription Set. Returns once the manager is Connecting.
	Connect(ctx context.Context) error

	// Disconnect closes the feed, cancels pending timers and resets the
	// reconnect counter. Safe to call in any state.
	Disconnect(ctx context.Context) error

	// AddAsset adds an asset to the Subscription Set, reconnecting with the
	// new set if connected. Returns false if the asset was already present.
	AddAsset(ctx context.Context, id string) (bool, error)

	// Status returns a snapshot of the connection status.
	Status() model.Status

	// Assets returns the current Subscription Set.
	Assets() []string

	// Subscribe returns a channel of status changes and a cancel function.
	Subscribe() (<-chan model.Status, func())
}

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithTickHandler sets the handler driven by the weather interval.
func WithTickHandler(h TickHandler) ManagerOption {
	return func(m *manager) {
		m.ticks = h
	}
}

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f func(ClientConfig, *slog.Logger) Client) ManagerOption {
	return func(m *manager) {
		m.newClient = f
	}
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

type event interface{}

type connectCmd struct{ reply chan error }

type disconnectCmd struct{ reply chan error }

type addAssetCmd struct {
	id    string
	reply chan bool
}

type openedEvent struct {
	gen    uint64
	client Client
}

type frameEvent struct {
	gen uint64
	msg TimestampedMessage
}

type transportErrorEvent struct {
	gen uint64
	err error
}

type closedEvent struct {
	gen   uint64
	clean bool
}

// -----------------------------------------------------------------------------
// Manager
// -----------------------------------------------------------------------------

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	handler   FrameHandler
	ticks     TickHandler
	newClient func(ClientConfig, *slog.Logger) Client
	logger    *slog.Logger

	subs   *SubscriptionSet
	events chan event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	quit    chan struct{}
	runMu   sync.Mutex
	running bool

	// Owned by the event loop
	policy     *Policy
	gen        uint64
	client     Client
	dialCancel context.CancelFunc
	pumpStop   chan struct{}
	retry      *time.Timer
	retryC     <-chan time.Time
	weather    *time.Ticker
	weatherC   <-chan time.Time

	// Published status
	statusMu sync.RWMutex
	status   model.Status
	watchers map[int]chan model.Status
	nextID   int
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, handler FrameHandler, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:       cfg,
		handler:   handler,
		newClient: NewClient,
		logger:    logger,
		subs:      NewSubscriptionSet(cfg.Assets),
		events:    make(chan event, 256),
		quit:      make(chan struct{}),
		policy:    NewPolicy(cfg.policyConfig()),
		watchers:  make(map[int]chan model.Status),
	}
	m.status = model.Status{State: model.StateDisconnected, Assets: m.subs.List()}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start launches the event loop.
func (m *manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return errors.New("connection manager already started")
	}
	select {
	case <-m.quit:
		return ErrManagerClosed
	default:
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started",
		"url", m.cfg.WSURL,
		"assets", m.subs.List(),
	)

	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	m.runMu.Unlock()

	m.logger.Info("stopping connection manager")

	m.cancel()
	close(m.quit)

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Connect posts a connect command and waits for it to be applied.
func (m *manager) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.post(ctx, connectCmd{reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Disconnect posts a disconnect command and waits for it to be applied.
func (m *manager) Disconnect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.post(ctx, disconnectCmd{reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// AddAsset posts an add command and waits for the result.
func (m *manager) AddAsset(ctx context.Context, id string) (bool, error) {
	reply := make(chan bool, 1)
	if err := m.post(ctx, addAssetCmd{id: id, reply: reply}); err != nil {
		return false, err
	}

	select {
	case added := <-reply:
		return added, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-m.quit:
		return false, ErrManagerClosed
	}
}

// Status returns a copy of the current status.
func (m *manager) Status() model.Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return copyStatus(m.status)
}

// Assets returns the current Subscription Set.
func (m *manager) Assets() []string {
	return m.subs.List()
}

// Subscribe registers a status watcher. Slow watchers miss updates instead
// of blocking the event loop.
func (m *manager) Subscribe() (<-chan model.Status, func()) {
	ch := make(chan model.Status, 16)

	m.statusMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.statusMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.statusMu.Lock()
			delete(m.watchers, id)
			m.statusMu.Unlock()
		})
	}
}

func (m *manager) post(ctx context.Context, ev event) error {
	m.runMu.Lock()
	running := m.running
	m.runMu.Unlock()
	if !running {
		return ErrManagerClosed
	}

	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quit:
		return ErrManagerClosed
	}
}

func (m *manager) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quit:
		return ErrManagerClosed
	}
}

// emit delivers an event from a helper goroutine. Returns false if the
// generation was stopped or the manager is shutting down.
func (m *manager) emit(ev event, stop <-chan struct{}) bool {
	select {
	case m.events <- ev:
		return true
	case <-stop:
		return false
	case <-m.quit:
		return false
	}
}

// -----------------------------------------------------------------------------
// Event loop
// -----------------------------------------------------------------------------

func (m *manager) run() {
	defer m.wg.Done()
	defer m.teardown()

	for {
		select {
		case <-m.ctx.Done():
			return

		case ev := <-m.events:
			m.handle(ev)

		case <-m.retryC:
			m.retry, m.retryC = nil, nil
			m.logger.Info("attempting reconnection", "attempts", m.policy.Attempts())
			m.startConnect()

		case <-m.weatherC:
			if m.ticks != nil {
				m.ticks.Tick()
			}
		}
	}
}

func (m *manager) handle(ev event) {
	switch ev := ev.(type) {
	case connectCmd:
		m.teardown()
		m.startConnect()
		ev.reply <- nil

	case disconnectCmd:
		m.teardown()
		m.policy.Reset()
		m.setStatus(func(s *model.Status) {
			s.State = model.StateDisconnected
			s.Connected = false
			s.Error = ""
			s.Attempts = 0
			s.LastReconnectAt = nil
		})
		m.logger.Info("feed disconnected")
		ev.reply <- nil

	case addAssetCmd:
		added := m.subs.Add(ev.id)
		if added {
			m.setStatus(func(s *model.Status) {})
			if m.status.State == model.StateConnected {
				m.logger.Info("asset added, reconnecting", "asset", model.NormalizeAsset(ev.id))
				m.teardown()
				m.startConnect()
			}
		}
		ev.reply <- added

	case openedEvent:
		if ev.gen != m.gen {
			ev.client.Close()
			return
		}
		m.onOpened(ev.client)

	case frameEvent:
		if ev.gen != m.gen {
			return
		}
		m.onFrame(ev.msg)

	case transportErrorEvent:
		if ev.gen != m.gen {
			return
		}
		m.onTransportError(ev.err)

	case closedEvent:
		if ev.gen != m.gen {
			return
		}
		m.onClosed(ev.clean)
	}
}

// startConnect begins a new generation and dials in the background.
func (m *manager) startConnect() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.gen++
	gen := m.gen
	m.policy.Begin()

	m.setStatus(func(s *model.Status) {
		s.State = model.StateConnecting
		s.Connected = false
	})

	url, err := m.subs.FeedURL(m.cfg.WSURL)
	if err != nil {
		m.onTransportError(fmt.Errorf("build feed url: %w", err))
		m.onClosed(false)
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	stop := make(chan struct{})
	m.dialCancel = func() {
		cancel()
		close(stop)
	}

	logger := m.logger.With("gen", gen)
	c := m.newClient(m.cfg.clientConfig(url), logger)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		logger.Debug("dialing feed", "url", url)
		if err := c.Connect(ctx); err != nil {
			c.Close()
			if m.emit(transportErrorEvent{gen: gen, err: err}, stop) {
				m.emit(closedEvent{gen: gen, clean: false}, stop)
			}
			return
		}
		if !m.emit(openedEvent{gen: gen, client: c}, stop) {
			c.Close()
		}
	}()
}

func (m *manager) onOpened(c Client) {
	m.client = c
	m.pumpStop = make(chan struct{})
	m.wg.Add(1)
	go m.pump(m.gen, c, m.pumpStop)

	if m.cfg.APIKey != "" {
		data, _ := json.Marshal(Handshake{APIKey: m.cfg.APIKey})
		if err := c.Send(data); err != nil {
			m.logger.Warn("failed to send handshake", "error", err)
		}
	}

	m.policy.Opened()
	metrics.IncConnectionsOpened()

	m.setStatus(func(s *model.Status) {
		s.State = model.StateConnected
		s.Connected = true
		s.Error = ""
		s.Attempts = 0
		s.LastReconnectAt = nil
	})

	if m.cfg.WeatherInterval > 0 && m.ticks != nil {
		m.weather = time.NewTicker(m.cfg.WeatherInterval)
		m.weatherC = m.weather.C
	}

	m.logger.Info("feed connected", "assets", m.subs.List())
}

func (m *manager) onFrame(msg TimestampedMessage) {
	metrics.IncFrames()

	if m.handler == nil {
		return
	}

	if err := m.handler.HandleFrame(msg.Data, msg.ReceivedAt); err != nil {
		metrics.IncFrameErrors()
		m.logger.Warn("error processing price update", "error", err)
		m.setStatus(func(s *model.Status) {
			s.Error = MsgProcessingError
		})
		return
	}

	if m.status.Error == MsgProcessingError {
		m.setStatus(func(s *model.Status) {
			s.Error = ""
		})
	}
}

func (m *manager) onTransportError(err error) {
	m.logger.Warn("websocket connection error", "error", err)
	m.policy.Failed(err)

	at := m.policy.LastFailureAt()
	m.setStatus(func(s *model.Status) {
		s.Connected = false
		s.Error = MsgConnectionError
		s.Attempts = m.policy.Attempts()
		s.LastReconnectAt = &at
	})
}

func (m *manager) onClosed(clean bool) {
	m.closeTransport()

	d := m.policy.Closed(clean)

	switch {
	case d.Fail:
		m.logger.Error("giving up on feed",
			"attempts", m.policy.Attempts(),
			"error", ErrMaxReconnects,
		)
		m.setStatus(func(s *model.Status) {
			s.State = model.StateFailed
			s.Connected = false
			s.Error = MsgMaxReconnects
			s.Attempts = m.policy.Attempts()
		})

	case d.Reconnect:
		at := m.policy.LastFailureAt()
		m.logger.Info("feed closed, scheduling reconnect",
			"attempts", m.policy.Attempts(),
			"delay", d.Delay,
		)
		m.retry = time.NewTimer(d.Delay)
		m.retryC = m.retry.C
		m.setStatus(func(s *model.Status) {
			s.State = model.StateReconnecting
			s.Connected = false
			s.Attempts = m.policy.Attempts()
			s.LastReconnectAt = &at
		})

	default:
		m.setStatus(func(s *model.Status) {
			s.State = model.StateDisconnected
			s.Connected = false
		})
	}
}

// pump forwards one client's frames and terminal error into the event loop.
func (m *manager) pump(gen uint64, c Client, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return

		case msg := <-c.Messages():
			if !m.emit(frameEvent{gen: gen, msg: msg}, stop) {
				return
			}

		case err := <-c.Errors():
			// Deliver frames that arrived before the error
			for drained := false; !drained; {
				select {
				case msg := <-c.Messages():
					if !m.emit(frameEvent{gen: gen, msg: msg}, stop) {
						return
					}
				default:
					drained = true
				}
			}

			// A close frame sent by the feed is a close, not an error
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				m.logger.Info("feed closed by server", "code", ce.Code, "text", ce.Text)
			} else if !m.emit(transportErrorEvent{gen: gen, err: err}, stop) {
				return
			}
			m.emit(closedEvent{gen: gen, clean: false}, stop)
			return
		}
	}
}

// closeTransport stops the pump, the weather ticker and the client.
func (m *manager) closeTransport() {
	if m.weather != nil {
		m.weather.Stop()
		m.weather, m.weatherC = nil, nil
	}
	if m.pumpStop != nil {
		close(m.pumpStop)
		m.pumpStop = nil
	}
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			m.logger.Debug("close client", "error", err)
		}
		m.client = nil
	}
}

// teardown cancels everything in flight. Events from the torn-down
// generation are dropped.
func (m *manager) teardown() {
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry, m.retryC = nil, nil
	}
	m.closeTransport()
}

// setStatus applies fn to the status and notifies watchers.
func (m *manager) setStatus(fn func(s *model.Status)) {
	m.statusMu.Lock()
	fn(&m.status)
	m.status.Assets = m.subs.List()
	snapshot := copyStatus(m.status)
	watchers := make([]chan model.Status, 0, len(m.watchers))
	for _, ch := range m.watchers {
		watchers = append(watchers, ch)
	}
	m.statusMu.Unlock()

	metrics.SetConnState(int(snapshot.State), snapshot.Attempts)

	for _, ch := range watchers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func copyStatus(s model.Status) model.Status {
	out := s
	out.Assets = append([]string(nil), s.Assets...)
	if s.LastReconnectAt != nil {
		t := *s.LastReconnectAt
		out.LastReconnectAt = &t
	}
	return out
}
