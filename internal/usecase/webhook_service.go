package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/validator"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// RecordWebhook appends the envelope to the webhook log before any processing.
// Bodies that are not JSON are stored as {"raw": "<body>"}.
func (s *EngineService) RecordWebhook(ctx context.Context, eventType string, payload []byte) (string, error) {
	stored := datatypes.JSON(payload)
	if !json.Valid(payload) {
		stored = datatypes.JSON(utils.MustMarshalJSON(map[string]string{"raw": string(payload)}))
	}

	entry := &model.WebhookLog{
		ID:        model.NewID(),
		EventType: eventType,
		Payload:   stored,
	}
	if err := s.webhookLogRepo.Create(ctx, entry); err != nil {
		return "", handleRepositoryError(ctx, err, "record webhook", zap.String("event_type", eventType))
	}
	return entry.ID, nil
}

// RecordRejectedWebhook logs an envelope that was refused before it could be
// read in full. Only its size is kept; the row is never processed.
func (s *EngineService) RecordRejectedWebhook(ctx context.Context, sizeBytes int64, reason string) (string, error) {
	status := http.StatusOK
	entry := &model.WebhookLog{
		ID:             model.NewID(),
		EventType:      model.WebhookEventOversized,
		Payload:        datatypes.JSON(utils.MustMarshalJSON(map[string]int64{"size_bytes": sizeBytes})),
		ResponseStatus: &status,
		ErrorMessage:   model.StringPtr(reason),
	}
	if err := s.webhookLogRepo.Create(ctx, entry); err != nil {
		return "", handleRepositoryError(ctx, err, "record rejected webhook", zap.Int64("size_bytes", sizeBytes))
	}
	logger.FromContext(ctx).Warn("Rejected webhook envelope",
		zap.String("webhook_log_id", entry.ID),
		zap.Int64("size_bytes", sizeBytes),
		zap.String("reason", reason),
	)
	return entry.ID, nil
}

// MarkWebhookProcessed stores the outcome on the log row. Failures are only logged.
func (s *EngineService) MarkWebhookProcessed(ctx context.Context, logID string, status int, procErr error) {
	var errMsg *string
	if procErr != nil {
		errMsg = model.StringPtr(procErr.Error())
	}
	if err := s.webhookLogRepo.Mark(ctx, logID, status, procErr == nil, errMsg); err != nil {
		logger.FromContext(ctx).Error("Failed to mark webhook log",
			zap.String("webhook_log_id", logID),
			zap.Error(err),
		)
	}
}

// WebhookEventType classifies a raw envelope for the log row.
func WebhookEventType(body []byte) string {
	var env model.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.WebhookEventMalformed
	}
	var hasMessages, hasStatuses bool
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			hasMessages = hasMessages || len(change.Value.Messages) > 0
			hasStatuses = hasStatuses || len(change.Value.Statuses) > 0
		}
	}
	switch {
	case hasMessages && hasStatuses:
		return model.WebhookEventMixed
	case hasMessages:
		return model.WebhookEventMessages
	case hasStatuses:
		return model.WebhookEventStatuses
	default:
		return model.WebhookEventOther
	}
}

// ProcessRecordedWebhook processes an envelope already in the log and stores
// the outcome on its row.
func (s *EngineService) ProcessRecordedWebhook(ctx context.Context, logID, eventType string, body []byte) error {
	start := time.Now()
	companyID, _ := tenant.FromContext(ctx)

	err := s.ProcessWebhook(ctx, body)
	s.MarkWebhookProcessed(ctx, logID, http.StatusOK, err)

	outcome := "processed"
	if err != nil {
		outcome = "failed"
		logger.FromContext(ctx).Warn("Webhook processed with errors",
			zap.String("webhook_log_id", logID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
	observer.IncWebhookEnvelope(eventType, companyID, outcome)
	observer.ObserveWebhookProcessingDuration(eventType, companyID, time.Since(start))
	return err
}

// ProcessWebhook decodes an envelope and reconciles every message and status
// it carries. Item failures are accumulated; one bad item does not stop the rest.
func (s *EngineService) ProcessWebhook(ctx context.Context, body []byte) error {
	var env model.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedInput, err)
	}
	if err := validator.Validate(env); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedInput, err)
	}

	expected := s.settings.Get(ctx).BusinessAccountID
	var errs error
	for _, entry := range env.Entry {
		if expected != "" && entry.ID != expected {
			errs = multierr.Append(errs, fmt.Errorf("%w: entry %q does not belong to this tenant", apperrors.ErrUnauthorized, entry.ID))
			continue
		}
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			errs = multierr.Append(errs, s.processChange(ctx, change.Value))
		}
	}
	return errs
}

func (s *EngineService) processChange(ctx context.Context, value model.ChangeValue) error {
	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	var errs error
	for _, msg := range value.Messages {
		in := model.InboundMessage{
			ProviderChannelID:  value.Metadata.PhoneNumberID,
			DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
			From:               msg.From,
			DisplayName:        names[msg.From],
			Message:            msg,
		}
		if _, _, err := s.ReconcileInbound(ctx, in); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("message %s: %w", msg.ID, err))
		}
	}
	for _, st := range value.Statuses {
		update := model.StatusUpdate{
			ExternalID:  st.ID,
			Status:      st.Status,
			Timestamp:   model.ParseProviderTimestamp(st.Timestamp),
			RecipientID: st.RecipientID,
			Errors:      st.Errors,
		}
		if _, err := s.ApplyStatus(ctx, update); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("status %s: %w", st.ID, err))
		}
	}
	return errs
}
