package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// --- Message Repository Methods ---

// CreateMessage validates and inserts a message. A second insert carrying an
// existing external_origin_id yields ErrDuplicate.
func (r *PostgresRepo) CreateMessage(ctx context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	if message.ID == "" {
		message.ID = model.NewID()
	}
	message.Version = 1

	err := run(ctx, "create", "message", commitRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Create(message).Error
	})
	return checkConstraintViolation(err)
}

func (r *PostgresRepo) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	err := run(ctx, "find", "message", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &message, nil
}

// FindMessageByExternalID looks a message up by the provider message id.
func (r *PostgresRepo) FindMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	var message model.Message
	err := run(ctx, "find_by_external_id", "message", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("external_origin_id = ?", externalID).First(&message).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &message, nil
}

// FindLatestInbound returns the most recent inbound message of a contact. An
// empty channelID widens the search to every channel.
func (r *PostgresRepo) FindLatestInbound(ctx context.Context, contactID, channelID string) (*model.Message, error) {
	var messages []model.Message
	err := run(ctx, "find_latest_inbound", "message", readRetryMaxElapsedTime, func() error {
		messages = nil
		q := r.db.WithContext(ctx).
			Where("contact_id = ? AND direction = ?", contactID, model.DirectionInbound)
		if channelID != "" {
			q = q.Where("channel_id = ?", channelID)
		}
		return q.Order("message_time DESC").Order("id DESC").Limit(1).Find(&messages).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: no inbound message for contact %s", apperrors.ErrNotFound, contactID)
	}
	return &messages[0], nil
}

// ListMessages returns messages matching the filter in chronological order.
func (r *PostgresRepo) ListMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	if filter.OpportunityID == "" && filter.ContactID == "" && filter.ContactReference == "" {
		return nil, fmt.Errorf("%w: message filter needs at least one criterion", apperrors.ErrBadRequest)
	}

	var messages []model.Message
	err := run(ctx, "list", "message", readRetryMaxElapsedTime, func() error {
		messages = nil
		q := r.db.WithContext(ctx)
		if filter.OpportunityID != "" {
			q = q.Where("opportunity_id = ?", filter.OpportunityID)
		}
		if filter.ContactID != "" {
			q = q.Where("contact_id = ?", filter.ContactID)
		}
		if filter.ContactReference != "" {
			q = q.Where("contact_reference = ?", filter.ContactReference)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q.Order("message_time ASC").Order("id ASC").Find(&messages).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return messages, nil
}

// SetMessageState moves a message between lifecycle states under the version
// predicate. The direction/state pairing is validated before writing.
func (r *PostgresRepo) SetMessageState(ctx context.Context, message *model.Message, to string) error {
	candidate := *message
	candidate.State = to
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidState, err)
	}

	err := run(ctx, "set_state", "message", commitRetryMaxElapsedTime, func() error {
		return updateVersioned(r.db.WithContext(ctx), &model.Message{}, message.ID, message.Version,
			map[string]interface{}{"state": to})
	})
	if err != nil {
		return checkConstraintViolation(err)
	}
	message.State = to
	message.Version++
	return nil
}

// UpdateMessageLinks persists contact and opportunity references.
func (r *PostgresRepo) UpdateMessageLinks(ctx context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	err := run(ctx, "update_links", "message", commitRetryMaxElapsedTime, func() error {
		return updateVersioned(r.db.WithContext(ctx), &model.Message{}, message.ID, message.Version,
			map[string]interface{}{
				"contact_id":     message.ContactID,
				"opportunity_id": message.OpportunityID,
				"channel_id":     message.ChannelID,
			})
	})
	if err != nil {
		return checkConstraintViolation(err)
	}
	message.Version++
	return nil
}

// UpdateMessageSendResult persists the outcome of a provider send.
func (r *PostgresRepo) UpdateMessageSendResult(ctx context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	err := run(ctx, "update_send_result", "message", commitRetryMaxElapsedTime, func() error {
		return updateVersioned(r.db.WithContext(ctx), &model.Message{}, message.ID, message.Version,
			map[string]interface{}{
				"state":                  message.State,
				"provider_state":         message.ProviderState,
				"provider_state_at":      message.ProviderStateAt,
				"provider_success_state": message.ProviderSuccessState,
				"provider_success_at":    message.ProviderSuccessAt,
				"provider_failed_at":     message.ProviderFailedAt,
				"external_origin_id":     message.ExternalOriginID,
				"metadata":               message.Metadata,
			})
	})
	if err != nil {
		return checkConstraintViolation(err)
	}
	message.Version++
	return nil
}

// ApplyProviderStatus folds a provider delivery status into the stored
// outbound message, holding a row lock. It reports whether provider_state or
// the lifecycle state changed; stale and duplicate statuses leave both alone.
func (r *PostgresRepo) ApplyProviderStatus(ctx context.Context, update model.StatusUpdate) (*model.Message, bool, error) {
	var (
		message model.Message
		applied bool
	)

	operation := func() error {
		applied = false
		return r.transaction(ctx, func(tx *gorm.DB) error {
			message = model.Message{}
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("external_origin_id = ?", update.ExternalID).
				First(&message).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if message.Direction != model.DirectionOutbound {
				logger.FromContext(ctx).Debug("Ignoring provider status for inbound message",
					zap.String("message_id", message.ID), zap.String("status", update.Status))
				return nil
			}

			summary := message.ProviderStatus()
			if !summary.Merge(update.Status, update.Timestamp) {
				return nil
			}

			next := message
			next.SetProviderStatus(summary)
			if update.Status == model.ProviderStateFailed {
				next.MergeMetadata("provider_errors", update.Errors)
			}

			if err := updateVersioned(tx, &model.Message{}, message.ID, message.Version, map[string]interface{}{
				"state":                  next.State,
				"provider_state":         next.ProviderState,
				"provider_state_at":      next.ProviderStateAt,
				"provider_success_state": next.ProviderSuccessState,
				"provider_success_at":    next.ProviderSuccessAt,
				"provider_failed_at":     next.ProviderFailedAt,
				"metadata":               next.Metadata,
			}); err != nil {
				return err
			}
			next.Version++
			applied = next.State != message.State ||
				model.Deref(next.ProviderState) != model.Deref(message.ProviderState)
			message = next
			return nil
		})
	}

	if err := run(ctx, "apply_status", "message", commitRetryMaxElapsedTime, operation); err != nil {
		return nil, false, checkConstraintViolation(err)
	}
	return &message, applied, nil
}

// parkedStatusTTL bounds how long a status waits for its message.
const parkedStatusTTL = 24 * time.Hour

// ParkProviderStatus keeps a status whose message is not stored yet. Parked
// rows older than parkedStatusTTL are dropped on the way.
func (r *PostgresRepo) ParkProviderStatus(ctx context.Context, update model.StatusUpdate) error {
	parked := model.NewParkedStatus(update)
	err := run(ctx, "park", "parked_status", commitRetryMaxElapsedTime, func() error {
		return r.transaction(ctx, func(tx *gorm.DB) error {
			if err := tx.Where("created_at < ?", utils.Now().Add(-parkedStatusTTL)).
				Delete(&model.ParkedStatus{}).Error; err != nil {
				return err
			}
			return tx.Create(parked).Error
		})
	})
	return checkConstraintViolation(err)
}

// TakeParkedStatuses removes and returns the statuses parked for externalID in
// the order the provider reported them.
func (r *PostgresRepo) TakeParkedStatuses(ctx context.Context, externalID string) ([]model.StatusUpdate, error) {
	var updates []model.StatusUpdate
	err := run(ctx, "take", "parked_status", commitRetryMaxElapsedTime, func() error {
		updates = nil
		return r.transaction(ctx, func(tx *gorm.DB) error {
			var parked []model.ParkedStatus
			if err := tx.Where("external_origin_id = ?", externalID).
				Order("status_at ASC").Order("id ASC").
				Find(&parked).Error; err != nil {
				return err
			}
			if len(parked) == 0 {
				return nil
			}
			ids := make([]string, 0, len(parked))
			for _, p := range parked {
				ids = append(ids, p.ID)
				updates = append(updates, p.Update())
			}
			return tx.Where("id IN ?", ids).Delete(&model.ParkedStatus{}).Error
		})
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return updates, nil
}
