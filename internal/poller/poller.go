package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/pricepulse/internal/model"
)

// WeatherFetcher fetches current weather for a set of cities.
type WeatherFetcher interface {
	CurrentAll(ctx context.Context, cities []string) ([]model.WeatherCity, error)
}

// SnapshotHandler receives each successful refresh.
type SnapshotHandler interface {
	HandleWeather(cities []model.WeatherCity)
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func([]model.WeatherCity)

func (f SnapshotHandlerFunc) HandleWeather(c []model.WeatherCity) {
	f(c)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 60s)
	Timeout  time.Duration // Per-cycle timeout (default: 10s)
	Cities   []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 60 * time.Second,
		Timeout:  10 * time.Second,
		Cities:   []string{"New York", "London", "Tokyo"},
	}
}

// Poller periodically refreshes weather for the configured cities.
type Poller struct {
	cfg     Config
	fetcher WeatherFetcher
	handler SnapshotHandler
	logger  *slog.Logger

	mu        sync.RWMutex
	latest    []model.WeatherCity
	fetchedAt time.Time
	lastErr   error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, fetcher WeatherFetcher, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("weather poller started",
		"interval", p.cfg.Interval,
		"cities", len(p.cfg.Cities),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("weather poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recent snapshot and when it was fetched. The
// zero time means nothing has been fetched yet.
func (p *Poller) Latest() ([]model.WeatherCity, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.WeatherCity, len(p.latest))
	copy(out, p.latest)
	return out, p.fetchedAt
}

// LastError returns the error from the most recent cycle, if any.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Cities returns the names of the tracked cities, preferring the names the
// upstream reported.
func (p *Poller) Cities() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.latest) == 0 {
		return append([]string(nil), p.cfg.Cities...)
	}
	out := make([]string, len(p.latest))
	for i, c := range p.latest {
		out[i] = c.Name
	}
	return out
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll(p.ctx)
		}
	}
}

// poll fetches all cities once. A failed cycle keeps the previous snapshot.
func (p *Poller) poll(parent context.Context) {
	if len(p.cfg.Cities) == 0 {
		p.logger.Debug("no cities to poll")
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, p.cfg.Timeout)
	defer cancel()

	cities, err := p.fetcher.CurrentAll(ctx, p.cfg.Cities)

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.latest = cities
		p.fetchedAt = time.Now()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("weather poll failed", "error", err)
		return
	}

	if p.handler != nil {
		p.handler.HandleWeather(cities)
	}

	p.logger.Debug("poll cycle complete",
		"cities", len(cities),
		"duration", time.Since(start),
	)
}
