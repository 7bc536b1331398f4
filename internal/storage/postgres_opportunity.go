package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// --- Opportunity Repository Methods ---

// CreateOpportunity inserts an opportunity and its initial state-log row in
// one transaction. A second active opportunity for the same contact violates
// the partial unique index and yields ErrDuplicate.
func (r *PostgresRepo) CreateOpportunity(ctx context.Context, opportunity *model.Opportunity, actorID *string) error {
	if opportunity.ContactID == "" {
		return fmt.Errorf("%w: opportunity requires contact_id", apperrors.ErrValidation)
	}
	if !model.IsOpportunityState(opportunity.State) {
		return fmt.Errorf("%w: unknown opportunity state %q", apperrors.ErrValidation, opportunity.State)
	}
	if opportunity.ID == "" {
		opportunity.ID = model.NewID()
	}
	if opportunity.StateDate.IsZero() {
		opportunity.StateDate = utils.Now()
	}
	opportunity.Active = !model.IsTerminalOpportunityState(opportunity.State)
	opportunity.Version = 1

	operation := func() error {
		return r.transaction(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(opportunity).Error; err != nil {
				return checkConstraintViolation(err)
			}
			entry := model.OpportunityStateLog{
				ID:            model.NewID(),
				OpportunityID: opportunity.ID,
				ToState:       opportunity.State,
				At:            opportunity.StateDate,
				ActorID:       actorID,
				Audit:         model.Audit{Version: 1},
			}
			return checkConstraintViolation(tx.Create(&entry).Error)
		})
	}

	if err := run(ctx, "create", "opportunity", commitRetryMaxElapsedTime, operation); err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

func (r *PostgresRepo) FindOpportunityByID(ctx context.Context, id string) (*model.Opportunity, error) {
	var opportunity model.Opportunity
	err := run(ctx, "find", "opportunity", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&opportunity).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &opportunity, nil
}

// FindActiveOpportunityByContact returns the contact's single active opportunity.
func (r *PostgresRepo) FindActiveOpportunityByContact(ctx context.Context, contactID string) (*model.Opportunity, error) {
	var opportunity model.Opportunity
	err := run(ctx, "find_active_by_contact", "opportunity", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).
			Where("contact_id = ? AND active = ?", contactID, true).
			First(&opportunity).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &opportunity, nil
}

// SetOpportunityState is the only write path for Opportunity.state. It moves
// state_date with the state, clears active on terminal states and appends the
// state-log row whose at equals the new state_date. The version predicate
// turns a concurrent writer into ErrConflict.
func (r *PostgresRepo) SetOpportunityState(ctx context.Context, opportunity *model.Opportunity, to string, actorID, reason *string) (*model.OpportunityStateLog, error) {
	if !model.IsOpportunityState(to) {
		return nil, fmt.Errorf("%w: unknown opportunity state %q", apperrors.ErrValidation, to)
	}
	if opportunity.State == to {
		return nil, fmt.Errorf("%w: opportunity %s already in state %s", apperrors.ErrInvalidState, opportunity.ID, to)
	}

	var entry model.OpportunityStateLog
	now := utils.Now()
	active := !model.IsTerminalOpportunityState(to)

	operation := func() error {
		return r.transaction(ctx, func(tx *gorm.DB) error {
			if err := updateVersioned(tx, &model.Opportunity{}, opportunity.ID, opportunity.Version, map[string]interface{}{
				"state":      to,
				"state_date": now,
				"active":     active,
			}); err != nil {
				return err
			}
			entry = model.OpportunityStateLog{
				ID:            model.NewID(),
				OpportunityID: opportunity.ID,
				FromState:     opportunity.State,
				ToState:       to,
				At:            now,
				ActorID:       actorID,
				Reason:        reason,
				Audit:         model.Audit{Version: 1},
			}
			return checkConstraintViolation(tx.Create(&entry).Error)
		})
	}

	if err := run(ctx, "set_state", "opportunity", commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Debug("Opportunity state write rejected",
			zap.String("opportunity_id", opportunity.ID),
			zap.String("from", opportunity.State),
			zap.String("to", to),
			zap.Error(err),
		)
		return nil, checkConstraintViolation(err)
	}

	opportunity.State = to
	opportunity.StateDate = now
	opportunity.Active = active
	opportunity.Version++
	return &entry, nil
}

// ListOpportunities is the panel read model. Without ClosedSince only active
// rows are returned.
func (r *PostgresRepo) ListOpportunities(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error) {
	var opportunities []model.Opportunity
	err := run(ctx, "list", "opportunity", readRetryMaxElapsedTime, func() error {
		opportunities = nil
		q := r.db.WithContext(ctx)
		if filter.ContactID != "" {
			q = q.Where("contact_id = ?", filter.ContactID)
		}
		if filter.ResponsibleUserID != "" {
			q = q.Where("responsible_user_id = ?", filter.ResponsibleUserID)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.ClosedSince != nil {
			q = q.Where("(active = ? OR state_date >= ?)", true, *filter.ClosedSince)
		} else {
			q = q.Where("active = ?", true)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
		return q.Order("state_date DESC").Order("id ASC").Find(&opportunities).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return opportunities, nil
}

// ListStateLogs returns an opportunity's state history, oldest first.
func (r *PostgresRepo) ListStateLogs(ctx context.Context, opportunityID string) ([]model.OpportunityStateLog, error) {
	var entries []model.OpportunityStateLog
	err := run(ctx, "list", "opportunity_state_log", readRetryMaxElapsedTime, func() error {
		entries = nil
		return r.db.WithContext(ctx).
			Where("opportunity_id = ?", opportunityID).
			Order("at ASC").Order("created_at ASC").
			Find(&entries).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return entries, nil
}
