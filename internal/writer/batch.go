package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/pricepulse/internal/metrics"
	"github.com/rickgao/pricepulse/internal/router"
)

// batchWriter consumes T from a router buffer, transforms each item to a
// row R and inserts rows in batches. The concrete writers supply the
// transform and the INSERT statement.
type batchWriter[T, R any] struct {
	name   string
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the Router or the notification log
	input *router.GrowableBuffer[T]

	// Database
	db BatchSender

	transform func(T) R
	queue     func(b *pgx.Batch, row R)

	// Batching
	batch       []R
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

func newBatchWriter[T, R any](
	name string,
	cfg WriterConfig,
	input *router.GrowableBuffer[T],
	db BatchSender,
	logger *slog.Logger,
	transform func(T) R,
	queue func(*pgx.Batch, R),
) *batchWriter[T, R] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &batchWriter[T, R]{
		name:      name,
		cfg:       cfg,
		input:     input,
		db:        db,
		logger:    logger.With("writer", name),
		transform: transform,
		queue:     queue,
		batch:     make([]R, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *batchWriter[T, R]) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the input buffer, flushes, and shuts down.
func (w *batchWriter[T, R]) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("writer stopped")
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
	}

	for _, msg := range w.input.DrainTo(0) {
		w.add(w.transform(msg))
	}

	// Final flush uses the caller's context; ours is already cancelled.
	w.flushWith(ctx)

	return nil
}

// Stats returns current metrics.
func (w *batchWriter[T, R]) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *batchWriter[T, R]) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			msg, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleMessage(msg)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *batchWriter[T, R]) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// handleMessage transforms and adds a message to the batch.
func (w *batchWriter[T, R]) handleMessage(msg T) {
	if w.add(w.transform(msg)) {
		w.flush()
	}
}

// add appends a row and reports whether the batch is full.
func (w *batchWriter[T, R]) add(row R) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *batchWriter[T, R]) flush() {
	w.flushWith(w.ctx)
}

// flushWith writes the current batch to the database.
func (w *batchWriter[T, R]) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]R, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		metrics.IncWriterDropped(w.name)
		w.logger.Warn("no database, dropping batch", "count", len(batch))
		return
	}

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		metrics.IncWriterDropped(w.name)
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()
	metrics.ObserveBatch(w.name, len(batch))

	w.logger.Debug("flushed batch",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch; statements use ON CONFLICT DO NOTHING.
func (w *batchWriter[T, R]) batchInsert(ctx context.Context, rows []R) (conflicts int, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		w.queue(batch, r)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
