package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
)

// ContactRepo defines contact storage operations
type ContactRepo interface {
	Create(ctx context.Context, contact *model.Contact) error
	FindByID(ctx context.Context, id string) (*model.Contact, error)
	FindByEmail(ctx context.Context, email string) (*model.Contact, error)
	FindByPhone(ctx context.Context, phone string) (*model.Contact, error)
}

// ChannelRepo defines provider channel storage operations
type ChannelRepo interface {
	Create(ctx context.Context, channel *model.Channel) error
	FindByID(ctx context.Context, id string) (*model.Channel, error)
	FindByProviderID(ctx context.Context, providerChannelID string) (*model.Channel, error)
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	Create(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	FindLatestInbound(ctx context.Context, contactID, channelID string) (*model.Message, error)
	List(ctx context.Context, filter model.MessageFilter) ([]model.Message, error)

	SetState(ctx context.Context, message *model.Message, to string) error
	UpdateLinks(ctx context.Context, message *model.Message) error
	UpdateSendResult(ctx context.Context, message *model.Message) error
	ApplyProviderStatus(ctx context.Context, update model.StatusUpdate) (*model.Message, bool, error)
	ParkStatus(ctx context.Context, update model.StatusUpdate) error
	TakeParkedStatuses(ctx context.Context, externalID string) ([]model.StatusUpdate, error)
}

// OpportunityRepo defines opportunity storage operations
type OpportunityRepo interface {
	Create(ctx context.Context, opportunity *model.Opportunity, actorID *string) error
	FindByID(ctx context.Context, id string) (*model.Opportunity, error)
	FindActiveByContact(ctx context.Context, contactID string) (*model.Opportunity, error)
	SetState(ctx context.Context, opportunity *model.Opportunity, to string, actorID, reason *string) (*model.OpportunityStateLog, error)
	List(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error)
	ListStateLogs(ctx context.Context, opportunityID string) ([]model.OpportunityStateLog, error)
}

// EventRepo defines timeline event storage operations
type EventRepo interface {
	Create(ctx context.Context, event *model.Event) error
	FindByID(ctx context.Context, id string) (*model.Event, error)
	SetState(ctx context.Context, event *model.Event, to string, result *string, eventTime *time.Time) error
	ListByOpportunity(ctx context.Context, opportunityID string) ([]model.Event, error)
	ListByContact(ctx context.Context, contactID string) ([]model.Event, error)
}

// WebhookLogRepo defines webhook audit storage operations
type WebhookLogRepo interface {
	Create(ctx context.Context, entry *model.WebhookLog) error
	Mark(ctx context.Context, id string, status int, processed bool, errorMessage *string) error
	FindByID(ctx context.Context, id string) (*model.WebhookLog, error)
}

// PropertyRepo defines the read access the opportunity engine needs
type PropertyRepo interface {
	Create(ctx context.Context, property *model.Property) error
	FindByContact(ctx context.Context, contactID string) ([]model.Property, error)
}

// SettingsRepo defines tenant settings storage operations
type SettingsRepo interface {
	Find(ctx context.Context, companyID string) (*model.TenantSettings, error)
	Save(ctx context.Context, settings *model.TenantSettings) error
}

// HealthChecker is satisfied by the postgres repository.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
