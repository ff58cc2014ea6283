// Package alert derives user-facing notifications from price movements and
// simulated weather events.
package alert

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	"github.com/rickgao/pricepulse/internal/metrics"
	"github.com/rickgao/pricepulse/internal/model"
)

// Appender is the notification log contract alerts are pushed through.
type Appender interface {
	Append(kind model.NotificationKind, title, message string) model.Notification
}

// Config holds price alert tuning.
type Config struct {
	ThresholdPct  float64       // Minimum |percent change| considered, default: 1.0
	MajorMovePct  float64       // Moves at or above this always alert, default: 5.0
	MinInterval   time.Duration // Per-asset debounce, default: 30s
	RatePerMinute float64       // Global alert budget, default: 6
	Burst         int           // Token bucket burst, default: 3
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdPct:  1.0,
		MajorMovePct:  5.0,
		MinInterval:   30 * time.Second,
		RatePerMinute: 6,
		Burst:         3,
	}
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides time.Now for debounce and rate decisions.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// Generator turns price records into price alerts. Small moves are
// ignored, ordinary moves are debounced per asset and bounded by a global
// token bucket, and major moves are always emitted.
type Generator struct {
	cfg    Config
	log    Appender
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
	limiter   *rate.Limiter
}

// NewGenerator creates a price alert generator appending to log.
func NewGenerator(cfg Config, log Appender, logger *slog.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		cfg:       cfg,
		log:       log,
		logger:    logger,
		now:       time.Now,
		lastAlert: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(limit, burst)
	return g
}

// OnPrice inspects one applied price record.
func (g *Generator) OnPrice(rec model.PriceRecord) {
	if !rec.HasChange {
		return
	}
	move := math.Abs(rec.PercentChange)
	if move < g.cfg.ThresholdPct {
		return
	}

	now := g.now()
	if !g.admit(rec.AssetID, move, now) {
		return
	}

	title, msg := PriceAlertText(rec)
	g.log.Append(model.KindPriceAlert, title, msg)
	g.logger.Debug("price alert", "asset", rec.AssetID, "change_pct", rec.PercentChange)
}

func (g *Generator) admit(asset string, move float64, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if move < g.cfg.MajorMovePct {
		if last, ok := g.lastAlert[asset]; ok && now.Sub(last) < g.cfg.MinInterval {
			metrics.IncAlertSuppressed("debounce")
			return false
		}
		if !g.limiter.AllowN(now, 1) {
			metrics.IncAlertSuppressed("rate")
			return false
		}
	}

	g.lastAlert[asset] = now
	return true
}

// PriceAlertText renders the title and message for a price alert, e.g.
// "Price Alert: Bitcoin" / "Bitcoin is up 1.25% to $43,250.12".
func PriceAlertText(rec model.PriceRecord) (string, string) {
	name := DisplayName(rec.AssetID)
	direction := "up"
	if rec.PercentChange < 0 {
		direction = "down"
	}
	p := message.NewPrinter(language.English)
	return "Price Alert: " + name,
		p.Sprintf("%s is %s %.2f%% to $%.2f", name, direction, math.Abs(rec.PercentChange), rec.Current)
}

// DisplayName title-cases an identifier, "new york" becomes "New York".
func DisplayName(id string) string {
	return cases.Title(language.English).String(id)
}
