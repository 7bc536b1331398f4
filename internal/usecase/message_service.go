package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// ReconcileInbound stores one inbound provider message, linking channel,
// contact and opportunity. A message whose provider id is already stored is
// returned unchanged.
func (s *EngineService) ReconcileInbound(ctx context.Context, in model.InboundMessage) (*model.Message, bool, error) {
	log := logger.FromContext(ctx).With(
		zap.String("external_origin_id", in.Message.ID),
		zap.String("provider_channel_id", in.ProviderChannelID),
	)

	if in.Message.ID == "" || in.From == "" {
		return nil, false, fmt.Errorf("%w: inbound message without id or sender", apperrors.ErrMalformedInput)
	}

	existing, err := s.messageRepo.FindByExternalID(ctx, in.Message.ID)
	if err == nil {
		log.Debug("Inbound message already stored", zap.String("message_id", existing.ID))
		return existing, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, handleRepositoryError(ctx, err, "find message by external id")
	}

	channel, err := s.resolveChannel(ctx, in.ProviderChannelID, in.DisplayPhoneNumber)
	if err != nil {
		return nil, false, err
	}

	contact, _, err := s.ResolveContact(ctx, ContactLookup{Phone: in.From, DisplayName: in.DisplayName})
	if err != nil {
		return nil, false, err
	}

	opp, _, err := s.ResolveOrOpen(ctx, contact.ID, channel.Label())
	if err != nil {
		return nil, false, err
	}

	message := buildInboundMessage(in, channel, contact, opp)
	if message.MessageTime.IsZero() {
		message.MessageTime = s.now()
	}

	if err := s.messageRepo.Create(ctx, message); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			winner, findErr := s.messageRepo.FindByExternalID(ctx, in.Message.ID)
			if findErr == nil {
				log.Debug("Inbound message stored concurrently", zap.String("message_id", winner.ID))
				return winner, false, nil
			}
		}
		return nil, false, handleRepositoryError(ctx, err, "create inbound message")
	}

	log.Info("Stored inbound message",
		zap.String("message_id", message.ID),
		zap.String("contact_id", contact.ID),
		zap.String("opportunity_id", opp.ID),
		zap.String("type", in.Message.Type),
	)
	s.notifier.Notify(ctx, TopicMessageInbound, message)
	return message, true, nil
}

func buildInboundMessage(in model.InboundMessage, channel *model.Channel, contact *model.Contact, opp *model.Opportunity) *model.Message {
	ref := model.NormalizePhone(in.From)
	metadata := datatypes.JSONMap{"type": in.Message.Type}
	if len(in.Message.Raw) > 0 {
		metadata["provider_message"] = json.RawMessage(in.Message.Raw)
	}
	if in.Message.Location != nil {
		metadata["location"] = in.Message.Location
	}

	return &model.Message{
		ID:               model.NewID(),
		Direction:        model.DirectionInbound,
		ChannelCode:      model.ChannelCodeWhatsApp,
		ContactID:        &contact.ID,
		ContactReference: model.StringPtr(ref),
		OpportunityID:    &opp.ID,
		ChannelID:        &channel.ID,
		State:            model.MessageStateNew,
		ExternalOriginID: model.StringPtr(in.Message.ID),
		Body:             model.StringPtr(in.Message.BodyText()),
		Attachments:      in.Message.Attachments(),
		Metadata:         metadata,
		MessageTime:      model.ParseProviderTimestamp(in.Message.Timestamp),
	}
}

// resolveChannel finds the channel for a provider phone_number_id. Unknown
// channels are created inactive when the tenant allows it.
func (s *EngineService) resolveChannel(ctx context.Context, providerChannelID, phoneNumber string) (*model.Channel, error) {
	if providerChannelID == "" {
		return nil, fmt.Errorf("%w: envelope without phone_number_id", apperrors.ErrMalformedInput)
	}
	if cached, ok := s.channels.Get(providerChannelID); ok {
		return &cached, nil
	}

	channel, err := s.channelRepo.FindByProviderID(ctx, providerChannelID)
	if err == nil {
		s.channels.Set(*channel)
		return channel, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, handleRepositoryError(ctx, err, "find channel")
	}

	if !s.settings.Get(ctx).AutoCreateChannel {
		logger.FromContext(ctx).Warn("Inbound message for unknown channel", zap.String("provider_channel_id", providerChannelID))
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownChannel, providerChannelID)
	}

	channel = &model.Channel{
		ID:                model.NewID(),
		ProviderChannelID: providerChannelID,
		PhoneNumber:       model.NormalizePhone(phoneNumber),
		Active:            false,
	}
	if err := s.channelRepo.Create(ctx, channel); err != nil {
		if !errors.Is(err, apperrors.ErrDuplicate) {
			return nil, handleRepositoryError(ctx, err, "create channel")
		}
		if channel, err = s.channelRepo.FindByProviderID(ctx, providerChannelID); err != nil {
			return nil, handleRepositoryError(ctx, err, "re-read channel")
		}
	} else {
		logger.FromContext(ctx).Info("Auto-created inactive channel",
			zap.String("channel_id", channel.ID),
			zap.String("provider_channel_id", providerChannelID),
		)
	}
	s.channels.Invalidate(providerChannelID)
	s.channels.Set(*channel)
	return channel, nil
}

// ApplyStatus reconciles a provider delivery status with the outbound message
// carrying its id. A status for a message that is not stored yet is parked and
// replayed once the send result lands.
func (s *EngineService) ApplyStatus(ctx context.Context, update model.StatusUpdate) (*model.Message, error) {
	if update.ExternalID == "" {
		return nil, fmt.Errorf("%w: status without message id", apperrors.ErrMalformedInput)
	}
	if !model.IsProviderState(update.Status) {
		logger.FromContext(ctx).Debug("Ignoring unsupported provider status",
			zap.String("external_origin_id", update.ExternalID),
			zap.String("status", update.Status),
		)
		return nil, nil
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = s.now()
	}

	message, err := s.applyProviderStatus(ctx, update)
	if errors.Is(err, apperrors.ErrNotFound) {
		return s.parkStatus(ctx, update)
	}
	return message, err
}

func (s *EngineService) applyProviderStatus(ctx context.Context, update model.StatusUpdate) (*model.Message, error) {
	log := logger.FromContext(ctx).With(
		zap.String("external_origin_id", update.ExternalID),
		zap.String("status", update.Status),
	)

	message, applied, err := s.messageRepo.ApplyProviderStatus(ctx, update)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, handleRepositoryError(ctx, err, "apply provider status")
	}
	if !applied {
		log.Debug("Provider status did not advance the stored state",
			zap.String("message_id", message.ID),
			zap.String("stored_provider_state", model.Deref(message.ProviderState)),
		)
		return message, nil
	}

	log.Info("Applied provider status",
		zap.String("message_id", message.ID),
		zap.String("state", message.State),
	)
	s.notifier.Notify(ctx, TopicMessageStatus, message)
	return message, nil
}

// parkStatus stores a status whose message is unknown, then looks the message
// up again: a send result committed in between has already taken the parked
// statuses, or will be found here.
func (s *EngineService) parkStatus(ctx context.Context, update model.StatusUpdate) (*model.Message, error) {
	if err := s.messageRepo.ParkStatus(ctx, update); err != nil {
		return nil, handleRepositoryError(ctx, err, "park provider status")
	}
	if _, err := s.messageRepo.FindByExternalID(ctx, update.ExternalID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.FromContext(ctx).Warn("Parked status for unknown message",
				zap.String("external_origin_id", update.ExternalID),
				zap.String("status", update.Status),
			)
			return nil, nil
		}
		return nil, handleRepositoryError(ctx, err, "re-check message for status")
	}
	return s.replayParkedStatuses(ctx, update.ExternalID)
}

// replayParkedStatuses applies and removes every status parked for
// externalID. It returns the message after the last one, or nil when nothing
// was parked.
func (s *EngineService) replayParkedStatuses(ctx context.Context, externalID string) (*model.Message, error) {
	updates, err := s.messageRepo.TakeParkedStatuses(ctx, externalID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "take parked statuses")
	}

	var latest *model.Message
	for _, update := range updates {
		message, err := s.applyProviderStatus(ctx, update)
		if err != nil {
			return latest, err
		}
		latest = message
	}
	return latest, nil
}
