package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// CreateWebhookLog appends an unprocessed audit row for an inbound envelope.
func (r *PostgresRepo) CreateWebhookLog(ctx context.Context, entry *model.WebhookLog) error {
	if entry.ID == "" {
		entry.ID = model.NewID()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = utils.Now()
	}
	entry.Processed = false
	entry.Version = 1

	err := run(ctx, "create", "webhook_log", commitRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Create(entry).Error
	})
	return checkConstraintViolation(err)
}

// MarkWebhookLog stores the processing outcome of a recorded envelope.
func (r *PostgresRepo) MarkWebhookLog(ctx context.Context, id string, status int, processed bool, errorMessage *string) error {
	err := run(ctx, "mark", "webhook_log", commitRetryMaxElapsedTime, func() error {
		result := r.db.WithContext(ctx).
			Model(&model.WebhookLog{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"response_status": status,
				"processed":       processed,
				"error_message":   errorMessage,
				"version":         gorm.Expr("version + 1"),
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: webhook log %s", apperrors.ErrNotFound, id)
		}
		return nil
	})
	return checkConstraintViolation(err)
}

func (r *PostgresRepo) FindWebhookLogByID(ctx context.Context, id string) (*model.WebhookLog, error) {
	var entry model.WebhookLog
	err := run(ctx, "find", "webhook_log", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &entry, nil
}
