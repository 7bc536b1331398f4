package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// ContactLookup identifies the person behind an inbound message or a reply.
type ContactLookup struct {
	Phone             string
	Email             string
	DisplayName       string
	ResponsibleUserID string
}

// ResolveContact returns the contact matching the lookup, creating one when
// nothing matches. Email is tried first, then phone membership. A creation
// that loses a uniqueness race re-reads the winner.
func (s *EngineService) ResolveContact(ctx context.Context, lookup ContactLookup) (*model.Contact, bool, error) {
	log := logger.FromContext(ctx)

	email := model.NormalizeEmail(lookup.Email)
	phone := model.NormalizePhone(lookup.Phone)
	if email == "" && phone == "" {
		return nil, false, fmt.Errorf("%w: contact lookup needs a phone or an email", apperrors.ErrValidation)
	}

	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		contact, err := s.matchContact(ctx, email, phone)
		if err != nil {
			return nil, false, err
		}
		if contact != nil {
			return contact, false, nil
		}

		contact = s.newContact(lookup, email, phone)
		err = s.contactRepo.Create(ctx, contact)
		if err == nil {
			log.Info("Created contact",
				zap.String("contact_id", contact.ID),
				zap.String("phone", phone),
				zap.Bool("has_email", email != ""),
			)
			return contact, true, nil
		}
		if !errors.Is(err, apperrors.ErrDuplicate) {
			return nil, false, handleRepositoryError(ctx, err, "create contact", zap.String("phone", phone))
		}
		log.Debug("Contact created concurrently, re-reading", zap.Int("attempt", attempt))
	}
	return nil, false, fmt.Errorf("%w: contact for %q kept changing during resolution", apperrors.ErrConflict, phone)
}

func (s *EngineService) matchContact(ctx context.Context, email, phone string) (*model.Contact, error) {
	if email != "" {
		contact, err := s.contactRepo.FindByEmail(ctx, email)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, handleRepositoryError(ctx, err, "find contact by email")
		}
	}
	if phone != "" {
		contact, err := s.contactRepo.FindByPhone(ctx, phone)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, handleRepositoryError(ctx, err, "find contact by phone")
		}
	}
	return nil, nil
}

func (s *EngineService) newContact(lookup ContactLookup, email, phone string) *model.Contact {
	name := lookup.DisplayName
	if name == "" {
		name = lookup.Phone
	}
	if name == "" {
		name = email
	}
	responsible := lookup.ResponsibleUserID
	if responsible == "" {
		responsible = s.cfg.DefaultResponsibleUserID
	}

	contact := &model.Contact{
		ID:                 model.NewID(),
		FullName:           name,
		Email:              model.StringPtr(email),
		ResponsibleUserID:  responsible,
		QualificationState: model.QualificationNew,
	}
	if phone != "" {
		contact.Telephones = datatypes.JSONSlice[string]{phone}
	}
	return contact
}
