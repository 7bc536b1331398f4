package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/whatsapp"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// maxConflictAttempts bounds optimistic-concurrency and unique-index retries.
const maxConflictAttempts = 3

// EngineService implements webhook ingestion, opportunity lifecycle, the
// activity timeline and outbound replies.
type EngineService struct {
	contactRepo     storage.ContactRepo
	channelRepo     storage.ChannelRepo
	messageRepo     storage.MessageRepo
	opportunityRepo storage.OpportunityRepo
	eventRepo       storage.EventRepo
	webhookLogRepo  storage.WebhookLogRepo
	propertyRepo    storage.PropertyRepo

	settings *SettingsProvider
	channels *cache.ChannelCache
	sender   whatsapp.Sender
	notifier Notifier
	cfg      config.CRMConfig

	now func() time.Time
}

// NewEngineService creates a new engine service. A nil notifier disables
// domain-event publishing.
func NewEngineService(
	repos storage.Repositories,
	sender whatsapp.Sender,
	notifier Notifier,
	settings *SettingsProvider,
	channels *cache.ChannelCache,
	cfg config.CRMConfig,
) *EngineService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if channels == nil {
		channels = cache.NewChannelCache("")
	}
	if cfg.ReplyWindow <= 0 {
		cfg.ReplyWindow = 24 * time.Hour
	}
	return &EngineService{
		contactRepo:     repos.Contacts,
		channelRepo:     repos.Channels,
		messageRepo:     repos.Messages,
		opportunityRepo: repos.Opportunities,
		eventRepo:       repos.Events,
		webhookLogRepo:  repos.WebhookLogs,
		propertyRepo:    repos.Properties,
		settings:        settings,
		channels:        channels,
		sender:          sender,
		notifier:        notifier,
		cfg:             cfg,
		now:             utils.Now,
	}
}

// handleRepositoryError logs a repository failure and tags it retryable or
// fatal. The sentinel stays in the chain for errors.Is.
func handleRepositoryError(ctx context.Context, err error, operation string, fields ...zap.Field) error {
	log := logger.FromContext(ctx)
	logFields := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)

	if errors.Is(err, apperrors.ErrDatabase) || errors.Is(err, apperrors.ErrTimeout) || errors.Is(err, apperrors.ErrConflict) {
		log.Warn("Potentially retryable repository error", logFields...)
		return apperrors.NewRetryable(err, "%s", operation)
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Debug("Repository lookup found nothing", logFields...)
	} else {
		log.Error("Repository error", logFields...)
	}
	return apperrors.NewFatal(err, "%s", operation)
}

// retryOnConflict runs fn up to maxConflictAttempts times while it keeps
// failing with ErrConflict. Any other error stops the loop.
func retryOnConflict(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxConflictAttempts-1), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil || errors.Is(err, apperrors.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
