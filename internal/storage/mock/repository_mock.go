package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
)

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

func (m *ContactRepoMock) Create(ctx context.Context, contact *model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

func (m *ContactRepoMock) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindByEmail(ctx context.Context, email string) (*model.Contact, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *ContactRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// --- ChannelRepo Mock ---

// ChannelRepoMock mocks the ChannelRepo interface
type ChannelRepoMock struct {
	mock.Mock
}

func (m *ChannelRepoMock) Create(ctx context.Context, channel *model.Channel) error {
	args := m.Called(ctx, channel)
	return args.Error(0)
}

func (m *ChannelRepoMock) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Channel), args.Error(1)
}

func (m *ChannelRepoMock) FindByProviderID(ctx context.Context, providerChannelID string) (*model.Channel, error) {
	args := m.Called(ctx, providerChannelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Channel), args.Error(1)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

func (m *MessageRepoMock) Create(ctx context.Context, message *model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepoMock) FindByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MessageRepoMock) FindByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MessageRepoMock) FindLatestInbound(ctx context.Context, contactID, channelID string) (*model.Message, error) {
	args := m.Called(ctx, contactID, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MessageRepoMock) List(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MessageRepoMock) SetState(ctx context.Context, message *model.Message, to string) error {
	args := m.Called(ctx, message, to)
	return args.Error(0)
}

func (m *MessageRepoMock) UpdateLinks(ctx context.Context, message *model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepoMock) UpdateSendResult(ctx context.Context, message *model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepoMock) ApplyProviderStatus(ctx context.Context, update model.StatusUpdate) (*model.Message, bool, error) {
	args := m.Called(ctx, update)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Message), args.Bool(1), args.Error(2)
}

func (m *MessageRepoMock) ParkStatus(ctx context.Context, update model.StatusUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

func (m *MessageRepoMock) TakeParkedStatuses(ctx context.Context, externalID string) ([]model.StatusUpdate, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.StatusUpdate), args.Error(1)
}

// --- OpportunityRepo Mock ---

// OpportunityRepoMock mocks the OpportunityRepo interface
type OpportunityRepoMock struct {
	mock.Mock
}

func (m *OpportunityRepoMock) Create(ctx context.Context, opportunity *model.Opportunity, actorID *string) error {
	args := m.Called(ctx, opportunity, actorID)
	return args.Error(0)
}

func (m *OpportunityRepoMock) FindByID(ctx context.Context, id string) (*model.Opportunity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Opportunity), args.Error(1)
}

func (m *OpportunityRepoMock) FindActiveByContact(ctx context.Context, contactID string) (*model.Opportunity, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Opportunity), args.Error(1)
}

func (m *OpportunityRepoMock) SetState(ctx context.Context, opportunity *model.Opportunity, to string, actorID, reason *string) (*model.OpportunityStateLog, error) {
	args := m.Called(ctx, opportunity, to, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OpportunityStateLog), args.Error(1)
}

func (m *OpportunityRepoMock) List(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Opportunity), args.Error(1)
}

func (m *OpportunityRepoMock) ListStateLogs(ctx context.Context, opportunityID string) ([]model.OpportunityStateLog, error) {
	args := m.Called(ctx, opportunityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OpportunityStateLog), args.Error(1)
}

// --- EventRepo Mock ---

// EventRepoMock mocks the EventRepo interface
type EventRepoMock struct {
	mock.Mock
}

func (m *EventRepoMock) Create(ctx context.Context, event *model.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *EventRepoMock) FindByID(ctx context.Context, id string) (*model.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

func (m *EventRepoMock) SetState(ctx context.Context, event *model.Event, to string, result *string, eventTime *time.Time) error {
	args := m.Called(ctx, event, to, result, eventTime)
	return args.Error(0)
}

func (m *EventRepoMock) ListByOpportunity(ctx context.Context, opportunityID string) ([]model.Event, error) {
	args := m.Called(ctx, opportunityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *EventRepoMock) ListByContact(ctx context.Context, contactID string) ([]model.Event, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}

// --- WebhookLogRepo Mock ---

// WebhookLogRepoMock mocks the WebhookLogRepo interface
type WebhookLogRepoMock struct {
	mock.Mock
}

func (m *WebhookLogRepoMock) Create(ctx context.Context, entry *model.WebhookLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *WebhookLogRepoMock) Mark(ctx context.Context, id string, status int, processed bool, errorMessage *string) error {
	args := m.Called(ctx, id, status, processed, errorMessage)
	return args.Error(0)
}

func (m *WebhookLogRepoMock) FindByID(ctx context.Context, id string) (*model.WebhookLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookLog), args.Error(1)
}

// --- PropertyRepo Mock ---

// PropertyRepoMock mocks the PropertyRepo interface
type PropertyRepoMock struct {
	mock.Mock
}

func (m *PropertyRepoMock) Create(ctx context.Context, property *model.Property) error {
	args := m.Called(ctx, property)
	return args.Error(0)
}

func (m *PropertyRepoMock) FindByContact(ctx context.Context, contactID string) ([]model.Property, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Property), args.Error(1)
}

// --- SettingsRepo Mock ---

// SettingsRepoMock mocks the SettingsRepo interface
type SettingsRepoMock struct {
	mock.Mock
}

func (m *SettingsRepoMock) Find(ctx context.Context, companyID string) (*model.TenantSettings, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TenantSettings), args.Error(1)
}

func (m *SettingsRepoMock) Save(ctx context.Context, settings *model.TenantSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}
