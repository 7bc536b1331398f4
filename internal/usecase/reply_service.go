package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/validator"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/whatsapp"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// Metadata keys on outbound messages.
const (
	metadataSend            = "send"
	metadataSendError       = "send_error"
	metadataSourceMessageID = "source_message_id"
)

// Reply answers an inbound message. Inside the reply window the body is sent
// as free text, otherwise as the fallback template. A provider failure is
// recorded on the returned message, not returned as an error.
func (s *EngineService) Reply(ctx context.Context, req model.ReplyRequest) (*model.Message, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With(zap.String("source_message_id", req.SourceMessageID))

	source, err := s.messageRepo.FindByID(ctx, req.SourceMessageID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "load source message")
	}
	if source.Direction != model.DirectionInbound {
		return nil, fmt.Errorf("%w: cannot reply to an outbound message", apperrors.ErrInvalidState)
	}
	if source.State == model.MessageStateDiscarded {
		return nil, fmt.Errorf("%w: cannot reply to a discarded message", apperrors.ErrInvalidState)
	}

	contact, channel, opp, err := s.attachSource(ctx, source, req.ContactName)
	if err != nil {
		return nil, err
	}

	send, err := s.decideSendMode(ctx, req, contact, channel, source)
	if err != nil {
		return nil, err
	}

	outbound := &model.Message{
		ID:               model.NewID(),
		Direction:        model.DirectionOutbound,
		ChannelCode:      model.ChannelCodeWhatsApp,
		ContactID:        &contact.ID,
		ContactReference: model.StringPtr(send.To),
		OpportunityID:    &opp.ID,
		ChannelID:        &channel.ID,
		State:            model.MessageStatePendingSend,
		Body:             model.StringPtr(req.Body),
		MessageTime:      s.now(),
	}
	outbound.MergeMetadata(metadataSend, sendParamsToMetadata(send))
	outbound.MergeMetadata(metadataSourceMessageID, source.ID)
	if req.ActorID != "" {
		outbound.MergeMetadata("actor_id", req.ActorID)
	}
	if err := s.messageRepo.Create(ctx, outbound); err != nil {
		return nil, handleRepositoryError(ctx, err, "create outbound message")
	}

	if err := s.deliver(ctx, outbound, send); err != nil {
		return nil, err
	}

	if err := s.PromoteToReceived(ctx, source); err != nil {
		log.Warn("Failed to promote source message", zap.Error(err))
	}

	log.Info("Reply processed",
		zap.String("message_id", outbound.ID),
		zap.String("mode", send.Mode),
		zap.String("state", outbound.State),
	)
	s.notifier.Notify(ctx, TopicMessageOutbound, outbound)
	return outbound, nil
}

// attachSource makes sure the source message has a contact and an active
// opportunity, persisting any links it gained.
func (s *EngineService) attachSource(ctx context.Context, source *model.Message, contactName string) (*model.Contact, *model.Channel, *model.Opportunity, error) {
	if source.ChannelID == nil {
		return nil, nil, nil, fmt.Errorf("%w: source message has no channel", apperrors.ErrInvalidState)
	}
	channel, err := s.channelRepo.FindByID(ctx, *source.ChannelID)
	if err != nil {
		return nil, nil, nil, handleRepositoryError(ctx, err, "load source channel")
	}

	var contact *model.Contact
	linked := false
	if source.ContactID == nil {
		contact, _, err = s.ResolveContact(ctx, ContactLookup{
			Phone:       model.Deref(source.ContactReference),
			DisplayName: contactName,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		source.ContactID = &contact.ID
		linked = true
	} else {
		contact, err = s.contactRepo.FindByID(ctx, *source.ContactID)
		if err != nil {
			return nil, nil, nil, handleRepositoryError(ctx, err, "load source contact")
		}
	}

	opp, _, err := s.ResolveOrOpen(ctx, contact.ID, channel.Label())
	if err != nil {
		return nil, nil, nil, err
	}
	if source.OpportunityID == nil {
		source.OpportunityID = &opp.ID
		linked = true
	}

	if linked {
		if err := s.messageRepo.UpdateLinks(ctx, source); err != nil {
			return nil, nil, nil, handleRepositoryError(ctx, err, "link source message")
		}
	}
	return contact, channel, opp, nil
}

// decideSendMode applies the reply window: free text when the contact's latest
// inbound on this channel is recent enough, a template otherwise.
func (s *EngineService) decideSendMode(ctx context.Context, req model.ReplyRequest, contact *model.Contact, channel *model.Channel, source *model.Message) (whatsapp.SendRequest, error) {
	to := model.Deref(source.ContactReference)
	if to == "" && len(contact.Telephones) > 0 {
		to = contact.Telephones[0]
	}
	send := whatsapp.SendRequest{
		PhoneNumberID: channel.ProviderChannelID,
		To:            to,
		Body:          req.Body,
	}
	if to == "" {
		return send, fmt.Errorf("%w: contact has no phone to reply to", apperrors.ErrInvalidState)
	}

	latest, err := s.messageRepo.FindLatestInbound(ctx, contact.ID, channel.ID)
	switch {
	case err == nil && s.now().Sub(latest.MessageTime) <= s.cfg.ReplyWindow:
		send.Mode = whatsapp.ModeText
		return send, nil
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return send, handleRepositoryError(ctx, err, "find latest inbound")
	}

	send.Mode = whatsapp.ModeTemplate
	send.TemplateName = req.TemplateFallbackName
	if send.TemplateName == "" {
		send.TemplateName = s.cfg.DefaultTemplateName
	}
	send.TemplateLanguage = req.TemplateFallbackLanguage
	if send.TemplateLanguage == "" {
		send.TemplateLanguage = s.cfg.DefaultTemplateLanguage
	}
	if send.TemplateName == "" {
		return send, fmt.Errorf("%w: outside the reply window a template_fallback_name is required", apperrors.ErrValidation)
	}
	return send, nil
}

// deliver calls the provider without holding a transaction and stores the
// outcome on the message.
func (s *EngineService) deliver(ctx context.Context, message *model.Message, send whatsapp.SendRequest) error {
	log := logger.FromContext(ctx).With(zap.String("message_id", message.ID), zap.String("mode", send.Mode))

	resp, sendErr := s.sender.Send(ctx, send)
	if sendErr != nil {
		message.State = model.MessageStateErrorSend
		message.MergeMetadata(metadataSendError, sendErrorToMetadata(sendErr, s.now()))
		log.Warn("Provider send failed", zap.Error(sendErr))
	} else {
		// The accepted send carries no provider timestamp, so none is stored.
		message.ExternalOriginID = model.StringPtr(resp.MessageID)
		message.SetProviderStatus(model.ProviderStatus{SuccessState: model.StringPtr(model.ProviderStateSent)})
		delete(message.Metadata, metadataSendError)
	}

	if err := s.messageRepo.UpdateSendResult(ctx, message); err != nil {
		return handleRepositoryError(ctx, err, "store send result", zap.String("message_id", message.ID))
	}
	if sendErr != nil {
		return nil
	}

	latest, err := s.replayParkedStatuses(ctx, resp.MessageID)
	if err != nil {
		log.Warn("Replaying parked provider statuses failed", zap.Error(err))
		return nil
	}
	if latest != nil {
		*message = *latest
	}
	return nil
}

// Retry re-sends an outbound message that failed. The same row is reused.
func (s *EngineService) Retry(ctx context.Context, messageID string) (*model.Message, error) {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "load message for retry")
	}
	if message.Direction != model.DirectionOutbound || message.State != model.MessageStateErrorSend {
		return nil, fmt.Errorf("%w: only outbound messages in %s can be retried", apperrors.ErrInvalidState, model.MessageStateErrorSend)
	}

	send, err := sendParamsFromMetadata(message)
	if err != nil {
		return nil, err
	}

	// Claim the row before calling the provider so that only one of several
	// concurrent retries sends.
	if err := s.messageRepo.SetState(ctx, message, model.MessageStatePendingSend); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("%w: message %s is already being retried", apperrors.ErrConflict, message.ID)
		}
		return nil, handleRepositoryError(ctx, err, "claim message for retry", zap.String("message_id", message.ID))
	}
	if err := s.deliver(ctx, message, send); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Retried outbound message",
		zap.String("message_id", message.ID),
		zap.String("state", message.State),
	)
	s.notifier.Notify(ctx, TopicMessageOutbound, message)
	return message, nil
}

// PromoteToReceived is the only way an inbound message leaves state new for
// received. Messages in any other state are left alone.
func (s *EngineService) PromoteToReceived(ctx context.Context, message *model.Message) error {
	return retryOnConflict(ctx, func() error {
		if message.Direction != model.DirectionInbound || message.State != model.MessageStateNew {
			return nil
		}
		err := s.messageRepo.SetState(ctx, message, model.MessageStateReceived)
		if errors.Is(err, apperrors.ErrConflict) {
			fresh, findErr := s.messageRepo.FindByID(ctx, message.ID)
			if findErr != nil {
				return handleRepositoryError(ctx, findErr, "re-read message")
			}
			*message = *fresh
			return err
		}
		if err != nil {
			return handleRepositoryError(ctx, err, "promote message")
		}
		return nil
	})
}

// DiscardMessage marks a new inbound message as discarded.
func (s *EngineService) DiscardMessage(ctx context.Context, messageID string) (*model.Message, error) {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "load message for discard")
	}
	if message.Direction == model.DirectionInbound && message.State == model.MessageStateDiscarded {
		return message, nil
	}
	if message.Direction != model.DirectionInbound || message.State != model.MessageStateNew {
		return nil, fmt.Errorf("%w: only new inbound messages can be discarded", apperrors.ErrInvalidState)
	}
	if err := s.messageRepo.SetState(ctx, message, model.MessageStateDiscarded); err != nil {
		return nil, handleRepositoryError(ctx, err, "discard message")
	}
	logger.FromContext(ctx).Info("Discarded message", zap.String("message_id", message.ID))
	return message, nil
}

// OpenOpportunityFromMessage reuses or opens the contact's active opportunity
// for an inbound message, links the message and promotes it to received.
func (s *EngineService) OpenOpportunityFromMessage(ctx context.Context, messageID, contactName string) (*model.Opportunity, error) {
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "load message")
	}
	if message.Direction != model.DirectionInbound || message.State == model.MessageStateDiscarded {
		return nil, fmt.Errorf("%w: opportunities open only from live inbound messages", apperrors.ErrInvalidState)
	}

	_, _, opp, err := s.attachSource(ctx, message, contactName)
	if err != nil {
		return nil, err
	}
	if err := s.PromoteToReceived(ctx, message); err != nil {
		return nil, err
	}
	return opp, nil
}

func sendParamsToMetadata(send whatsapp.SendRequest) map[string]interface{} {
	out := map[string]interface{}{
		"mode":            send.Mode,
		"to":              send.To,
		"phone_number_id": send.PhoneNumberID,
	}
	if send.Mode == whatsapp.ModeTemplate {
		out["template_name"] = send.TemplateName
		out["template_language"] = send.TemplateLanguage
	}
	return out
}

func sendParamsFromMetadata(message *model.Message) (whatsapp.SendRequest, error) {
	raw, ok := message.Metadata[metadataSend].(map[string]interface{})
	if !ok {
		return whatsapp.SendRequest{}, fmt.Errorf("%w: message %s carries no send parameters", apperrors.ErrInvalidState, message.ID)
	}
	str := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	return whatsapp.SendRequest{
		PhoneNumberID:    str("phone_number_id"),
		To:               str("to"),
		Mode:             str("mode"),
		Body:             model.Deref(message.Body),
		TemplateName:     str("template_name"),
		TemplateLanguage: str("template_language"),
	}, nil
}

func sendErrorToMetadata(err error, at time.Time) map[string]interface{} {
	out := map[string]interface{}{
		"message": err.Error(),
		"at":      at,
	}
	var perr *apperrors.ProviderError
	if errors.As(err, &perr) {
		out["status_code"] = perr.StatusCode
		out["code"] = perr.Code
		out["details"] = perr.Details
	}
	return out
}
