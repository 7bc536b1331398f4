package storage

import (
	"context"

	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
)

// --- Property Repository Methods ---

func (r *PostgresRepo) CreateProperty(ctx context.Context, property *model.Property) error {
	if property.ID == "" {
		property.ID = model.NewID()
	}
	property.Version = 1

	err := run(ctx, "create", "property", commitRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Create(property).Error
	})
	return checkConstraintViolation(err)
}

// FindPropertiesByContact lists the live properties linked to a contact.
func (r *PostgresRepo) FindPropertiesByContact(ctx context.Context, contactID string) ([]model.Property, error) {
	var properties []model.Property
	err := run(ctx, "find_by_contact", "property", readRetryMaxElapsedTime, func() error {
		properties = nil
		return r.db.WithContext(ctx).Where("contact_id = ?", contactID).Order("id").Find(&properties).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return properties, nil
}

// --- Tenant Settings Methods ---

// FindTenantSettings returns ErrNotFound when the tenant has no override row.
func (r *PostgresRepo) FindTenantSettings(ctx context.Context, companyID string) (*model.TenantSettings, error) {
	var settings model.TenantSettings
	err := run(ctx, "find", "tenant_settings", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("company_id = ?", companyID).First(&settings).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &settings, nil
}

func (r *PostgresRepo) SaveTenantSettings(ctx context.Context, settings *model.TenantSettings) error {
	err := run(ctx, "upsert", "tenant_settings", commitRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "company_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"business_account_id", "auto_create_channel", "panel_window_days", "updated_at"}),
			}).
			Create(settings).Error
	})
	return checkConstraintViolation(err)
}
