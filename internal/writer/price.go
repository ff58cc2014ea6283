package writer

import (
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/pricepulse/internal/model"
	"github.com/rickgao/pricepulse/internal/router"
)

// PriceTickWriter consumes applied price records from the router archive
// buffer and writes them to the price_ticks table.
type PriceTickWriter struct {
	*batchWriter[model.PriceRecord, priceTickRow]
}

// NewPriceTickWriter creates a new PriceTickWriter.
func NewPriceTickWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[model.PriceRecord],
	db BatchSender,
	logger *slog.Logger,
) *PriceTickWriter {
	transform := func(rec model.PriceRecord) priceTickRow {
		return transformPriceTick(rec, cfg.InstanceID)
	}
	return &PriceTickWriter{
		batchWriter: newBatchWriter("price_ticks", cfg, input, db, logger, transform, queuePriceTick),
	}
}

// transformPriceTick converts a PriceRecord to a priceTickRow.
func transformPriceTick(rec model.PriceRecord, instanceID string) priceTickRow {
	return priceTickRow{
		ReceivedAt:  rec.UpdatedAt.UnixMicro(),
		AssetID:     rec.AssetID,
		PriceMicros: dollarsToMicros(rec.Current),
		PriorMicros: dollarsToMicros(rec.Prior),
		ChangePct:   rec.PercentChange,
		InstanceID:  instanceID,
	}
}

func queuePriceTick(b *pgx.Batch, r priceTickRow) {
	b.Queue(`
		INSERT INTO price_ticks (received_at, asset_id, price_micros, prior_micros, change_pct, instance_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id, received_at) DO NOTHING
	`, r.ReceivedAt, r.AssetID, r.PriceMicros, r.PriorMicros, r.ChangePct, r.InstanceID)
}
