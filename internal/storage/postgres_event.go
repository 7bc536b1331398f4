package storage

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// --- Event Repository Methods ---

func (r *PostgresRepo) CreateEvent(ctx context.Context, event *model.Event) error {
	if event.OpportunityID == "" {
		return fmt.Errorf("%w: event requires opportunity_id", apperrors.ErrValidation)
	}
	if event.ID == "" {
		event.ID = model.NewID()
	}
	if event.EventState == "" {
		event.EventState = model.EventStatePending
	}
	if event.StateDate.IsZero() {
		event.StateDate = utils.Now()
	}
	event.Version = 1

	err := run(ctx, "create", "event", commitRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Create(event).Error
	})
	return checkConstraintViolation(err)
}

func (r *PostgresRepo) FindEventByID(ctx context.Context, id string) (*model.Event, error) {
	var event model.Event
	err := run(ctx, "find", "event", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &event, nil
}

// SetEventState is the only write path for Event.event_state; state_date
// always moves with it. result and eventTime are written when non-nil.
func (r *PostgresRepo) SetEventState(ctx context.Context, event *model.Event, to string, result *string, eventTime *time.Time) error {
	if !model.IsEventState(to) {
		return fmt.Errorf("%w: unknown event state %q", apperrors.ErrValidation, to)
	}
	if event.EventState == to {
		return fmt.Errorf("%w: event %s already in state %s", apperrors.ErrInvalidState, event.ID, to)
	}

	now := utils.Now()
	updates := map[string]interface{}{
		"event_state": to,
		"state_date":  now,
	}
	if result != nil {
		updates["result"] = *result
	}
	if eventTime != nil {
		updates["event_time"] = *eventTime
	}

	err := run(ctx, "set_state", "event", commitRetryMaxElapsedTime, func() error {
		attempt := make(map[string]interface{}, len(updates)+2)
		for k, v := range updates {
			attempt[k] = v
		}
		return updateVersioned(r.db.WithContext(ctx), &model.Event{}, event.ID, event.Version, attempt)
	})
	if err != nil {
		return checkConstraintViolation(err)
	}

	event.EventState = to
	event.StateDate = now
	if result != nil {
		event.Result = result
	}
	if eventTime != nil {
		event.EventTime = eventTime
	}
	event.Version++
	return nil
}

// ListEventsByOpportunity returns an opportunity's events ordered by creation.
func (r *PostgresRepo) ListEventsByOpportunity(ctx context.Context, opportunityID string) ([]model.Event, error) {
	return r.listEvents(ctx, "opportunity_id = ?", opportunityID)
}

// ListEventsByContact returns every event bound to a contact.
func (r *PostgresRepo) ListEventsByContact(ctx context.Context, contactID string) ([]model.Event, error) {
	return r.listEvents(ctx, "contact_id = ?", contactID)
}

func (r *PostgresRepo) listEvents(ctx context.Context, condition string, arg string) ([]model.Event, error) {
	var events []model.Event
	err := run(ctx, "list", "event", readRetryMaxElapsedTime, func() error {
		events = nil
		return r.db.WithContext(ctx).Where(condition, arg).Order("created_at ASC").Order("id ASC").Find(&events).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return events, nil
}
