package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/validator"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// CreateEvent adds a pending activity to an opportunity. The event belongs to
// the opportunity's contact; the assignee defaults to its responsible user.
func (s *EngineService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}

	opp, err := s.opportunityRepo.FindByID(ctx, req.OpportunityID)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "load opportunity for event")
	}

	assignee := req.AssigneeUserID
	if assignee == "" {
		assignee = opp.ResponsibleUserID
	}
	contactID := opp.ContactID
	event := &model.Event{
		ID:             model.NewID(),
		OpportunityID:  opp.ID,
		ContactID:      &contactID,
		KindID:         req.KindID,
		ReasonID:       req.ReasonID,
		Title:          req.Title,
		Description:    model.StringPtr(req.Description),
		EventTime:      req.EventTime,
		EventState:     model.EventStatePending,
		StateDate:      s.now(),
		AssigneeUserID: assignee,
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, handleRepositoryError(ctx, err, "create event", zap.String("opportunity_id", opp.ID))
	}

	logger.FromContext(ctx).Info("Created event",
		zap.String("event_id", event.ID),
		zap.String("opportunity_id", opp.ID),
		zap.Int64("kind_id", event.KindID),
	)
	return event, nil
}

// TransitionEvent moves an activity to another state. Closing or rescheduling
// needs a result; realizing needs an event time.
func (s *EngineService) TransitionEvent(ctx context.Context, req model.EventTransitionRequest) (*model.Event, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	result := strings.TrimSpace(req.Result)

	var out *model.Event
	err := retryOnConflict(ctx, func() error {
		event, err := s.eventRepo.FindByID(ctx, req.EventID)
		if err != nil {
			return handleRepositoryError(ctx, err, "load event")
		}
		if event.EventState == req.State {
			out = event
			return nil
		}
		if !model.CanTransitionEvent(event.EventState, req.State) {
			return fmt.Errorf("%w: event %s -> %s", apperrors.ErrInvalidTransition, event.EventState, req.State)
		}
		if model.EventStateRequiresResult(req.State) && result == "" {
			return fmt.Errorf("%w: moving an event to %s requires a result", apperrors.ErrValidation, req.State)
		}
		if req.State == model.EventStateRealized && req.EventTime == nil && event.EventTime == nil {
			return fmt.Errorf("%w: a realized event requires event_time", apperrors.ErrValidation)
		}

		from := event.EventState
		if err := s.eventRepo.SetState(ctx, event, req.State, model.StringPtr(result), req.EventTime); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				return err
			}
			return handleRepositoryError(ctx, err, "set event state")
		}

		logger.FromContext(ctx).Info("Event transitioned",
			zap.String("event_id", event.ID),
			zap.String("from_state", from),
			zap.String("to_state", req.State),
		)
		s.notifier.Notify(ctx, TopicEventStateChanged, event)
		out = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
