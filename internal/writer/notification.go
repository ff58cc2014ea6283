package writer

import (
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/pricepulse/internal/model"
	"github.com/rickgao/pricepulse/internal/router"
)

// NotificationWriter archives appended notifications. The notification log
// keeps only the newest entries in memory; this table keeps all of them.
type NotificationWriter struct {
	*batchWriter[model.Notification, notificationRow]
}

// NewNotificationWriter creates a new NotificationWriter.
func NewNotificationWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[model.Notification],
	db BatchSender,
	logger *slog.Logger,
) *NotificationWriter {
	transform := func(n model.Notification) notificationRow {
		return transformNotification(n, cfg.InstanceID)
	}
	return &NotificationWriter{
		batchWriter: newBatchWriter("notifications", cfg, input, db, logger, transform, queueNotification),
	}
}

func transformNotification(n model.Notification, instanceID string) notificationRow {
	return notificationRow{
		ID:         n.ID.String(),
		Kind:       string(n.Kind),
		Title:      n.Title,
		Message:    n.Message,
		CreatedAt:  n.Timestamp.UnixMicro(),
		InstanceID: instanceID,
	}
}

func queueNotification(b *pgx.Batch, r notificationRow) {
	b.Queue(`
		INSERT INTO notifications (id, kind, title, message, created_at, instance_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Kind, r.Title, r.Message, r.CreatedAt, r.InstanceID)
}
