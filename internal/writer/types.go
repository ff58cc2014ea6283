package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// InstanceID tags every row with the dashboard instance that wrote it.
	InstanceID string
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
	}
}

// BatchSender is the subset of *pgxpool.Pool the writers need.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// priceTickRow represents a row for the price_ticks table.
type priceTickRow struct {
	ReceivedAt  int64 // Microseconds
	AssetID     string
	PriceMicros int64
	PriorMicros int64
	ChangePct   float64
	InstanceID  string
}

// notificationRow represents a row for the notifications table.
type notificationRow struct {
	ID         string
	Kind       string
	Title      string
	Message    string
	CreatedAt  int64 // Microseconds
	InstanceID string
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
