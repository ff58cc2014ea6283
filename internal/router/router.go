package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/pricepulse/internal/metrics"
	"github.com/rickgao/pricepulse/internal/model"
)

// Router decodes feed frames and applies them to the price store, the
// alert observers and the archive buffer.
type Router interface {
	// HandleFrame decodes one frame and applies every valid entry.
	// Returns a wrapped ErrMalformedFrame if the frame is not a JSON object.
	HandleFrame(data []byte, receivedAt time.Time) error

	// Archive returns the buffer of applied prices, or nil when archiving is off.
	Archive() *GrowableBuffer[model.PriceRecord]

	// Close closes the archive buffer so its consumer can drain and exit.
	Close()

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg       RouterConfig
	store     PriceStore
	observers []PriceObserver
	logger    *slog.Logger

	archive *GrowableBuffer[model.PriceRecord]

	mu        sync.RWMutex
	received  int64
	errors    int64
	applied   int64
	skipped   int64
	untracked int64
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, store PriceStore, logger *slog.Logger, observers ...PriceObserver) Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &router{
		cfg:       cfg,
		store:     store,
		observers: observers,
		logger:    logger,
	}
	if cfg.ArchiveBufferSize > 0 {
		r.archive = NewBoundedBuffer[model.PriceRecord](cfg.ArchiveBufferSize, cfg.ArchiveMaxSize)
	}
	return r
}

// HandleFrame decodes and applies one frame.
func (r *router) HandleFrame(data []byte, receivedAt time.Time) error {
	updates, skipped, err := Decode(data, receivedAt)

	r.mu.Lock()
	r.received++
	r.skipped += int64(skipped)
	if err != nil {
		r.errors++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Debug("failed to decode frame", "error", err, "size", len(data))
		return err
	}
	for i := 0; i < skipped; i++ {
		metrics.IncPriceDropped("unparsable")
	}

	for _, u := range updates {
		r.apply(u)
	}
	return nil
}

func (r *router) apply(u model.PriceUpdate) {
	rec, ok := r.store.Upsert(u.AssetID, u.Price, u.ReceivedAt)
	if !ok {
		r.mu.Lock()
		r.untracked++
		r.mu.Unlock()
		metrics.IncPriceDropped("untracked")
		return
	}

	r.mu.Lock()
	r.applied++
	r.mu.Unlock()
	metrics.IncPriceUpdate(u.AssetID)

	for _, o := range r.observers {
		o.OnPrice(rec)
	}

	if r.archive != nil {
		r.archive.Send(rec)
	}
}

// Archive returns the archive buffer.
func (r *router) Archive() *GrowableBuffer[model.PriceRecord] {
	return r.archive
}

// Close closes the archive buffer.
func (r *router) Close() {
	if r.archive != nil {
		r.archive.Close()
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	stats := RouterStats{
		FramesReceived:  r.received,
		FrameErrors:     r.errors,
		PricesApplied:   r.applied,
		PricesSkipped:   r.skipped,
		PricesUntracked: r.untracked,
	}
	r.mu.RUnlock()

	if r.archive != nil {
		stats.ArchiveBuffer = r.archive.Stats()
	}
	return stats
}
