package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/validator"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// ResolveOrOpen returns the contact's active opportunity or opens a new
// prospect. Concurrent openers are serialized by the one-active-per-contact
// index; the loser reads the winner.
func (s *EngineService) ResolveOrOpen(ctx context.Context, contactID, channelLabel string) (*model.Opportunity, bool, error) {
	log := logger.FromContext(ctx).With(zap.String("contact_id", contactID))

	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		active, err := s.opportunityRepo.FindActiveByContact(ctx, contactID)
		if err == nil {
			return active, false, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, handleRepositoryError(ctx, err, "find active opportunity")
		}

		contact, err := s.contactRepo.FindByID(ctx, contactID)
		if err != nil {
			return nil, false, handleRepositoryError(ctx, err, "load contact for opportunity")
		}
		operationType, err := s.classifyOperationType(ctx, contactID)
		if err != nil {
			return nil, false, err
		}

		responsible := contact.ResponsibleUserID
		if responsible == "" {
			responsible = s.cfg.DefaultResponsibleUserID
		}
		if channelLabel == "" {
			channelLabel = model.ChannelCodeWhatsApp
		}
		title := "New opportunity from " + channelLabel
		opp := &model.Opportunity{
			ID:                model.NewID(),
			ContactID:         contactID,
			ResponsibleUserID: responsible,
			OperationTypeID:   operationType,
			Title:             &title,
			State:             model.OpportunityStateProspect,
			StateDate:         s.now(),
		}

		err = s.opportunityRepo.Create(ctx, opp, nil)
		if err == nil {
			log.Info("Opened opportunity",
				zap.String("opportunity_id", opp.ID),
				zap.Any("operation_type_id", opp.OperationTypeID),
			)
			companyID, _ := tenant.FromContext(ctx)
			observer.IncOpportunityTransition("", opp.State, companyID, "applied")
			s.notifier.Notify(ctx, TopicOpportunityOpened, opp)
			return opp, true, nil
		}
		if !errors.Is(err, apperrors.ErrDuplicate) {
			return nil, false, handleRepositoryError(ctx, err, "create opportunity")
		}
		log.Debug("Opportunity opened concurrently, re-reading", zap.Int("attempt", attempt))
	}
	return nil, false, fmt.Errorf("%w: active opportunity for contact %s kept changing", apperrors.ErrConflict, contactID)
}

// classifyOperationType marks a new opportunity as maintenance when the contact
// occupies a rented-out property.
func (s *EngineService) classifyOperationType(ctx context.Context, contactID string) (*int64, error) {
	properties, err := s.propertyRepo.FindByContact(ctx, contactID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "list contact properties")
	}
	for _, p := range properties {
		if p.OperationTypeID != s.cfg.RentOperationTypeID {
			continue
		}
		if p.State == model.PropertyStateAvailable || p.State == model.PropertyStateExecuted {
			maintenance := s.cfg.MaintenanceOperationTypeID
			return &maintenance, nil
		}
	}
	return nil, nil
}

// Transition moves an opportunity along the state graph. Self-loops are
// no-ops. Version conflicts are re-read and re-decided.
func (s *EngineService) Transition(ctx context.Context, req model.TransitionRequest) (*model.Opportunity, error) {
	log := logger.FromContext(ctx).With(zap.String("opportunity_id", req.OpportunityID), zap.String("to_state", req.State))
	companyID, _ := tenant.FromContext(ctx)

	if !model.IsOpportunityState(req.State) {
		observer.IncOpportunityTransition("", req.State, companyID, "rejected")
		return nil, fmt.Errorf("%w: unknown state %q", apperrors.ErrInvalidTransition, req.State)
	}
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	var result *model.Opportunity
	err := retryOnConflict(ctx, func() error {
		opp, err := s.opportunityRepo.FindByID(ctx, req.OpportunityID)
		if err != nil {
			return handleRepositoryError(ctx, err, "load opportunity")
		}
		if opp.State == req.State {
			observer.IncOpportunityTransition(opp.State, req.State, companyID, "noop")
			result = opp
			return nil
		}
		if !model.CanTransitionOpportunity(opp.State, req.State) {
			observer.IncOpportunityTransition(opp.State, req.State, companyID, "rejected")
			return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, opp.State, req.State)
		}

		from := opp.State
		entry, err := s.opportunityRepo.SetState(ctx, opp, req.State, model.StringPtr(req.ActorID), model.StringPtr(req.Reason))
		if err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				observer.IncOpportunityTransition(from, req.State, companyID, "conflict")
				log.Debug("Opportunity changed concurrently, re-reading")
				return err
			}
			return handleRepositoryError(ctx, err, "set opportunity state")
		}

		observer.IncOpportunityTransition(from, req.State, companyID, "applied")
		log.Info("Opportunity transitioned", zap.String("from_state", from), zap.Time("state_date", entry.At))
		s.notifier.Notify(ctx, TopicOpportunityStateChanged, map[string]interface{}{
			"opportunity": opp,
			"transition":  entry,
		})
		result = opp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close finishes an opportunity as won or lost.
func (s *EngineService) Close(ctx context.Context, opportunityID string, req model.CloseRequest) (*model.Opportunity, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	return s.Transition(ctx, model.TransitionRequest{
		OpportunityID: opportunityID,
		State:         req.Outcome,
		ActorID:       req.ActorID,
		Reason:        req.Reason,
	})
}

// ListPanel lists opportunities for the panel. Unless the filter sets its own
// window, closed rows stay visible for the tenant's panel_window_days; zero
// lists only active rows.
func (s *EngineService) ListPanel(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error) {
	if filter.ClosedSince == nil {
		if days := s.settings.Get(ctx).PanelWindowDays; days > 0 {
			since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
			filter.ClosedSince = &since
		}
	}
	opportunities, err := s.opportunityRepo.List(ctx, filter)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "list opportunities")
	}
	return opportunities, nil
}
