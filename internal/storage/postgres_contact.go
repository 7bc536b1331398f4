package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// --- Contact Repository Methods ---

// CreateContact inserts a contact together with its telephone memberships.
// A phone held by another live contact, or a live duplicate email, yields ErrDuplicate.
func (r *PostgresRepo) CreateContact(ctx context.Context, contact *model.Contact) error {
	if contact.ID == "" {
		contact.ID = model.NewID()
	}
	if contact.QualificationState == "" {
		contact.QualificationState = model.QualificationNew
	}
	if contact.Email != nil {
		email := model.NormalizeEmail(*contact.Email)
		contact.Email = model.StringPtr(email)
	}
	phones := dedupPhones(contact.Telephones)
	contact.Telephones = phones
	contact.Version = 1

	operation := func() error {
		return r.transaction(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(contact).Error; err != nil {
				return checkConstraintViolation(err)
			}
			for position, phone := range phones {
				if err := claimTelephone(tx, contact.ID, phone, position); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := run(ctx, "create", "contact", commitRetryMaxElapsedTime, operation); err != nil {
		logger.FromContext(ctx).Warn("Failed to create contact",
			zap.String("contact_id", contact.ID),
			zap.Strings("telephones", phones),
			zap.Error(err),
		)
		return checkConstraintViolation(err)
	}
	return nil
}

// claimTelephone records phone as belonging to contactID. Rows left behind by
// soft-deleted contacts are taken over.
func claimTelephone(tx *gorm.DB, contactID, phone string, position int) error {
	var existing []model.ContactTelephone
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("phone = ?", phone).
		Limit(1).
		Find(&existing).Error; err != nil {
		return checkConstraintViolation(err)
	}

	if len(existing) == 0 {
		row := model.ContactTelephone{Phone: phone, ContactID: contactID, Position: position}
		if err := tx.Create(&row).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	var live int64
	if err := tx.Model(&model.Contact{}).Where("id = ?", existing[0].ContactID).Count(&live).Error; err != nil {
		return checkConstraintViolation(err)
	}
	if live > 0 {
		return fmt.Errorf("%w: phone %s already belongs to contact %s", apperrors.ErrDuplicate, phone, existing[0].ContactID)
	}

	result := tx.Model(&model.ContactTelephone{}).
		Where("phone = ?", phone).
		Updates(map[string]interface{}{"contact_id": contactID, "position": position})
	return checkConstraintViolation(result.Error)
}

func dedupPhones(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		n := model.NormalizePhone(p)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// FindContactByID retrieves a live contact by id.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id string) (*model.Contact, error) {
	var contact model.Contact
	err := run(ctx, "find", "contact", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&contact).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &contact, nil
}

// FindContactByEmail performs the exact, case-insensitive email match.
func (r *PostgresRepo) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	normalized := model.NormalizeEmail(email)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty email", apperrors.ErrNotFound)
	}

	var contact model.Contact
	err := run(ctx, "find_by_email", "contact", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("email = ?", normalized).First(&contact).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &contact, nil
}

// FindContactByPhone resolves phone membership through contact_telephones.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	normalized := model.NormalizePhone(phone)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty phone", apperrors.ErrNotFound)
	}

	var contact model.Contact
	err := run(ctx, "find_by_phone", "contact", readRetryMaxElapsedTime, func() error {
		var membership model.ContactTelephone
		if err := r.db.WithContext(ctx).Where("phone = ?", normalized).First(&membership).Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).Where("id = ?", membership.ContactID).First(&contact).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &contact, nil
}
