package router

import (
	"time"

	"github.com/rickgao/pricepulse/internal/model"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	// Archive buffer sizing (ArchiveBufferSize 0 disables archiving)
	ArchiveBufferSize int // Initial capacity, default: 1000
	ArchiveMaxSize    int // Ceiling before the oldest ticks are evicted, default: 100000
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ArchiveBufferSize: 1000,
		ArchiveMaxSize:    100000,
	}
}

// PriceStore is the state the router writes decoded prices into.
type PriceStore interface {
	Upsert(id string, price float64, at time.Time) (model.PriceRecord, bool)
}

// PriceObserver is notified of every applied price, in order.
type PriceObserver interface {
	OnPrice(rec model.PriceRecord)
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	FramesReceived  int64
	FrameErrors     int64
	PricesApplied   int64
	PricesSkipped   int64 // Unparsable entries
	PricesUntracked int64 // Assets outside the store
	ArchiveBuffer   BufferStats
}
