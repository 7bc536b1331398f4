package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
)

// CreateChannel inserts a provider line. A concurrent insert of the same
// provider_channel_id yields ErrDuplicate.
func (r *PostgresRepo) CreateChannel(ctx context.Context, channel *model.Channel) error {
	if channel.ID == "" {
		channel.ID = model.NewID()
	}
	channel.Version = 1

	err := run(ctx, "create", "channel", commitRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Create(channel).Error
	})
	return checkConstraintViolation(err)
}

func (r *PostgresRepo) FindChannelByProviderID(ctx context.Context, providerChannelID string) (*model.Channel, error) {
	var channel model.Channel
	err := run(ctx, "find_by_provider_id", "channel", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("provider_channel_id = ?", providerChannelID).First(&channel).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &channel, nil
}

func (r *PostgresRepo) FindChannelByID(ctx context.Context, id string) (*model.Channel, error) {
	var channel model.Channel
	err := run(ctx, "find", "channel", readRetryMaxElapsedTime, func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error
	})
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return &channel, nil
}
