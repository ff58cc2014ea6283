package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/pricepulse/internal/cache"
	"github.com/rickgao/pricepulse/internal/metrics"
	"github.com/rickgao/pricepulse/internal/model"
)

// Stream is the connection manager surface the API drives.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	AddAsset(ctx context.Context, id string) (bool, error)
	Status() model.Status
	Subscribe() (<-chan model.Status, func())
}

// Prices reads the price state store.
type Prices interface {
	Snapshot() []model.PriceRecord
	Subscribe(buffer int) (<-chan model.PriceRecord, func())
}

// Notifications is the notification log surface.
type Notifications interface {
	List() []model.Notification
	Unread() int
	MarkAllRead()
	Clear()
	Subscribe(buffer int) (<-chan model.Notification, func())
}

// WeatherSource fetches weather from upstream.
type WeatherSource interface {
	Configured() bool
	CurrentAll(ctx context.Context, cities []string) ([]model.WeatherCity, error)
	History(ctx context.Context, city string) (model.WeatherCity, []model.WeatherHistoryEntry, error)
}

// WeatherSnapshot is the most recent poller result.
type WeatherSnapshot interface {
	Latest() ([]model.WeatherCity, time.Time)
}

// NewsSource fetches headlines from upstream.
type NewsSource interface {
	Configured() bool
	Latest(ctx context.Context) ([]model.Article, error)
}

// MarketSource fetches market summaries from upstream.
type MarketSource interface {
	Markets(ctx context.Context, ids []string) ([]model.MarketData, error)
}

// Deps are the components behind the HTTP surface. Snapshot, Markets and
// Cache are optional.
type Deps struct {
	Stream        Stream
	Prices        Prices
	Notifications Notifications
	Weather       WeatherSource
	Snapshot      WeatherSnapshot
	News          NewsSource
	Markets       MarketSource
	Cache         cache.Cache
}

// Config holds server settings.
type Config struct {
	Port        int
	Mode        string // gin mode
	MetricsPath string
	Cities      []string

	// SnapshotMaxAge bounds how old a poller snapshot may be and still
	// answer /weather?action=all.
	SnapshotMaxAge time.Duration
}

// Server is the dashboard HTTP API and push hub.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine
	hub    *Hub
	http   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server and registers its routes.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
		engine: gin.New(),
	}
	s.hub = NewHub(s.initialEvents, logger)

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Upstream proxies
	s.engine.GET("/weather", s.getWeather)
	s.engine.GET("/news", s.getNews)
	s.engine.GET("/crypto", s.getMarkets)

	api := s.engine.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/prices", s.getPrices)
	api.POST("/assets", s.postAsset)
	api.GET("/notifications", s.getNotifications)
	api.POST("/notifications/read", s.markNotificationsRead)
	api.DELETE("/notifications", s.clearNotifications)
	api.POST("/stream/connect", s.connectStream)
	api.POST("/stream/disconnect", s.disconnectStream)

	s.engine.GET("/ws", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })
	s.engine.GET("/health", s.getHealth)
	s.engine.GET(s.cfg.MetricsPath, gin.WrapH(metrics.Handler()))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the push hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HandleWeather pushes a refreshed weather snapshot to clients.
func (s *Server) HandleWeather(cities []model.WeatherCity) {
	s.hub.Publish(Event{Type: EventWeather, Data: cities})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start runs the hub, the event forwarders and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// startBackground runs the hub and forwards stream, price and notification
// changes to it.
func (s *Server) startBackground(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	if s.deps.Stream != nil {
		ch, cancel := s.deps.Stream.Subscribe()
		s.wg.Add(1)
		go forward(s, ch, cancel, EventStatus)
	}
	if s.deps.Prices != nil {
		ch, cancel := s.deps.Prices.Subscribe(64)
		s.wg.Add(1)
		go forward(s, ch, cancel, EventPrice)
	}
	if s.deps.Notifications != nil {
		ch, cancel := s.deps.Notifications.Subscribe(64)
		s.wg.Add(1)
		go forward(s, ch, cancel, EventNotification)
	}
}

func forward[T any](s *Server, ch <-chan T, cancel func(), eventType string) {
	defer s.wg.Done()
	defer cancel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case v := <-ch:
			s.hub.Publish(Event{Type: eventType, Data: v})
		}
	}
}

// Stop shuts down the listener, then the hub and forwarders.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	if s.http != nil {
		shutdownErr = s.http.Shutdown(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	return shutdownErr
}

// initialEvents is what a push client receives on connect.
func (s *Server) initialEvents() []Event {
	var events []Event
	if s.deps.Stream != nil {
		events = append(events, Event{Type: EventStatus, Data: s.deps.Stream.Status()})
	}
	if s.deps.Prices != nil {
		events = append(events, Event{Type: EventPrices, Data: s.deps.Prices.Snapshot()})
	}
	if s.deps.Notifications != nil {
		events = append(events, Event{Type: EventNotifications, Data: notificationsBody{
			Notifications: s.deps.Notifications.List(),
			Unread:        s.deps.Notifications.Unread(),
		}})
	}
	if s.deps.Snapshot != nil {
		if cities, at := s.deps.Snapshot.Latest(); !at.IsZero() {
			events = append(events, Event{Type: EventWeather, Data: cities})
		}
	}
	return events
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
