package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// SettingsProvider resolves tenant settings: cache, then the tenant_settings
// row, then the configured defaults.
type SettingsProvider struct {
	repo     storage.SettingsRepo
	cache    *cache.SettingsCache
	defaults model.TenantSettings
}

func NewSettingsProvider(repo storage.SettingsRepo, settingsCache *cache.SettingsCache, defaults model.TenantSettings) *SettingsProvider {
	return &SettingsProvider{repo: repo, cache: settingsCache, defaults: defaults}
}

// Get never fails. A storage error falls back to the defaults without caching them.
func (p *SettingsProvider) Get(ctx context.Context) model.TenantSettings {
	companyID, _ := tenant.FromContext(ctx)
	if p == nil {
		return model.TenantSettings{CompanyID: companyID}
	}
	if s, ok := p.cache.Get(companyID); ok {
		return s
	}

	defaults := p.defaults
	defaults.CompanyID = companyID

	stored, err := p.repo.Find(ctx, companyID)
	switch {
	case err == nil:
		p.cache.Set(*stored)
		return *stored
	case errors.Is(err, apperrors.ErrNotFound):
		p.cache.Set(defaults)
		return defaults
	default:
		logger.FromContext(ctx).Warn("Failed to load tenant settings, using defaults", zap.Error(err))
		return defaults
	}
}

// Save persists settings and drops the cached copy.
func (p *SettingsProvider) Save(ctx context.Context, settings *model.TenantSettings) error {
	if err := p.repo.Save(ctx, settings); err != nil {
		return handleRepositoryError(ctx, err, "save tenant settings")
	}
	p.cache.Invalidate(settings.CompanyID)
	return nil
}
