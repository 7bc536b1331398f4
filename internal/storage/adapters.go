package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
)

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

func (a *ContactRepoAdapter) Create(ctx context.Context, contact *model.Contact) error {
	return a.postgres.CreateContact(ctx, contact)
}

func (a *ContactRepoAdapter) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	return a.postgres.FindContactByID(ctx, id)
}

func (a *ContactRepoAdapter) FindByEmail(ctx context.Context, email string) (*model.Contact, error) {
	return a.postgres.FindContactByEmail(ctx, email)
}

func (a *ContactRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	return a.postgres.FindContactByPhone(ctx, phone)
}

// ChannelRepoAdapter adapts the PostgresRepo to the ChannelRepo interface
type ChannelRepoAdapter struct {
	postgres *PostgresRepo
}

// NewChannelRepoAdapter creates a new channel repository adapter
func NewChannelRepoAdapter(postgres *PostgresRepo) ChannelRepo {
	return &ChannelRepoAdapter{postgres: postgres}
}

func (a *ChannelRepoAdapter) Create(ctx context.Context, channel *model.Channel) error {
	return a.postgres.CreateChannel(ctx, channel)
}

func (a *ChannelRepoAdapter) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	return a.postgres.FindChannelByID(ctx, id)
}

func (a *ChannelRepoAdapter) FindByProviderID(ctx context.Context, providerChannelID string) (*model.Channel, error) {
	return a.postgres.FindChannelByProviderID(ctx, providerChannelID)
}

// MessageRepoAdapter adapts the PostgresRepo to the MessageRepo interface
type MessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(postgres *PostgresRepo) MessageRepo {
	return &MessageRepoAdapter{postgres: postgres}
}

func (a *MessageRepoAdapter) Create(ctx context.Context, message *model.Message) error {
	return a.postgres.CreateMessage(ctx, message)
}

func (a *MessageRepoAdapter) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return a.postgres.FindMessageByID(ctx, id)
}

func (a *MessageRepoAdapter) FindByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	return a.postgres.FindMessageByExternalID(ctx, externalID)
}

func (a *MessageRepoAdapter) FindLatestInbound(ctx context.Context, contactID, channelID string) (*model.Message, error) {
	return a.postgres.FindLatestInbound(ctx, contactID, channelID)
}

func (a *MessageRepoAdapter) List(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	return a.postgres.ListMessages(ctx, filter)
}

func (a *MessageRepoAdapter) SetState(ctx context.Context, message *model.Message, to string) error {
	return a.postgres.SetMessageState(ctx, message, to)
}

func (a *MessageRepoAdapter) UpdateLinks(ctx context.Context, message *model.Message) error {
	return a.postgres.UpdateMessageLinks(ctx, message)
}

func (a *MessageRepoAdapter) UpdateSendResult(ctx context.Context, message *model.Message) error {
	return a.postgres.UpdateMessageSendResult(ctx, message)
}

func (a *MessageRepoAdapter) ApplyProviderStatus(ctx context.Context, update model.StatusUpdate) (*model.Message, bool, error) {
	return a.postgres.ApplyProviderStatus(ctx, update)
}

func (a *MessageRepoAdapter) ParkStatus(ctx context.Context, update model.StatusUpdate) error {
	return a.postgres.ParkProviderStatus(ctx, update)
}

func (a *MessageRepoAdapter) TakeParkedStatuses(ctx context.Context, externalID string) ([]model.StatusUpdate, error) {
	return a.postgres.TakeParkedStatuses(ctx, externalID)
}

// OpportunityRepoAdapter adapts the PostgresRepo to the OpportunityRepo interface
type OpportunityRepoAdapter struct {
	postgres *PostgresRepo
}

// NewOpportunityRepoAdapter creates a new opportunity repository adapter
func NewOpportunityRepoAdapter(postgres *PostgresRepo) OpportunityRepo {
	return &OpportunityRepoAdapter{postgres: postgres}
}

func (a *OpportunityRepoAdapter) Create(ctx context.Context, opportunity *model.Opportunity, actorID *string) error {
	return a.postgres.CreateOpportunity(ctx, opportunity, actorID)
}

func (a *OpportunityRepoAdapter) FindByID(ctx context.Context, id string) (*model.Opportunity, error) {
	return a.postgres.FindOpportunityByID(ctx, id)
}

func (a *OpportunityRepoAdapter) FindActiveByContact(ctx context.Context, contactID string) (*model.Opportunity, error) {
	return a.postgres.FindActiveOpportunityByContact(ctx, contactID)
}

func (a *OpportunityRepoAdapter) SetState(ctx context.Context, opportunity *model.Opportunity, to string, actorID, reason *string) (*model.OpportunityStateLog, error) {
	return a.postgres.SetOpportunityState(ctx, opportunity, to, actorID, reason)
}

func (a *OpportunityRepoAdapter) List(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error) {
	return a.postgres.ListOpportunities(ctx, filter)
}

func (a *OpportunityRepoAdapter) ListStateLogs(ctx context.Context, opportunityID string) ([]model.OpportunityStateLog, error) {
	return a.postgres.ListStateLogs(ctx, opportunityID)
}

// EventRepoAdapter adapts the PostgresRepo to the EventRepo interface
type EventRepoAdapter struct {
	postgres *PostgresRepo
}

// NewEventRepoAdapter creates a new event repository adapter
func NewEventRepoAdapter(postgres *PostgresRepo) EventRepo {
	return &EventRepoAdapter{postgres: postgres}
}

func (a *EventRepoAdapter) Create(ctx context.Context, event *model.Event) error {
	return a.postgres.CreateEvent(ctx, event)
}

func (a *EventRepoAdapter) FindByID(ctx context.Context, id string) (*model.Event, error) {
	return a.postgres.FindEventByID(ctx, id)
}

func (a *EventRepoAdapter) SetState(ctx context.Context, event *model.Event, to string, result *string, eventTime *time.Time) error {
	return a.postgres.SetEventState(ctx, event, to, result, eventTime)
}

func (a *EventRepoAdapter) ListByOpportunity(ctx context.Context, opportunityID string) ([]model.Event, error) {
	return a.postgres.ListEventsByOpportunity(ctx, opportunityID)
}

func (a *EventRepoAdapter) ListByContact(ctx context.Context, contactID string) ([]model.Event, error) {
	return a.postgres.ListEventsByContact(ctx, contactID)
}

// WebhookLogRepoAdapter adapts the PostgresRepo to the WebhookLogRepo interface
type WebhookLogRepoAdapter struct {
	postgres *PostgresRepo
}

func NewWebhookLogRepoAdapter(postgres *PostgresRepo) WebhookLogRepo {
	return &WebhookLogRepoAdapter{postgres: postgres}
}

func (a *WebhookLogRepoAdapter) Create(ctx context.Context, entry *model.WebhookLog) error {
	return a.postgres.CreateWebhookLog(ctx, entry)
}

func (a *WebhookLogRepoAdapter) Mark(ctx context.Context, id string, status int, processed bool, errorMessage *string) error {
	return a.postgres.MarkWebhookLog(ctx, id, status, processed, errorMessage)
}

func (a *WebhookLogRepoAdapter) FindByID(ctx context.Context, id string) (*model.WebhookLog, error) {
	return a.postgres.FindWebhookLogByID(ctx, id)
}

// PropertyRepoAdapter adapts the PostgresRepo to the PropertyRepo interface
type PropertyRepoAdapter struct {
	postgres *PostgresRepo
}

func NewPropertyRepoAdapter(postgres *PostgresRepo) PropertyRepo {
	return &PropertyRepoAdapter{postgres: postgres}
}

func (a *PropertyRepoAdapter) Create(ctx context.Context, property *model.Property) error {
	return a.postgres.CreateProperty(ctx, property)
}

func (a *PropertyRepoAdapter) FindByContact(ctx context.Context, contactID string) ([]model.Property, error) {
	return a.postgres.FindPropertiesByContact(ctx, contactID)
}

// SettingsRepoAdapter adapts the PostgresRepo to the SettingsRepo interface
type SettingsRepoAdapter struct {
	postgres *PostgresRepo
}

func NewSettingsRepoAdapter(postgres *PostgresRepo) SettingsRepo {
	return &SettingsRepoAdapter{postgres: postgres}
}

func (a *SettingsRepoAdapter) Find(ctx context.Context, companyID string) (*model.TenantSettings, error) {
	return a.postgres.FindTenantSettings(ctx, companyID)
}

func (a *SettingsRepoAdapter) Save(ctx context.Context, settings *model.TenantSettings) error {
	return a.postgres.SaveTenantSettings(ctx, settings)
}

// Repositories bundles every adapter over one PostgresRepo.
type Repositories struct {
	Contacts      ContactRepo
	Channels      ChannelRepo
	Messages      MessageRepo
	Opportunities OpportunityRepo
	Events        EventRepo
	WebhookLogs   WebhookLogRepo
	Properties    PropertyRepo
	Settings      SettingsRepo
}

// NewRepositories wires the adapters for all entities.
func NewRepositories(postgres *PostgresRepo) Repositories {
	return Repositories{
		Contacts:      NewContactRepoAdapter(postgres),
		Channels:      NewChannelRepoAdapter(postgres),
		Messages:      NewMessageRepoAdapter(postgres),
		Opportunities: NewOpportunityRepoAdapter(postgres),
		Events:        NewEventRepoAdapter(postgres),
		WebhookLogs:   NewWebhookLogRepoAdapter(postgres),
		Properties:    NewPropertyRepoAdapter(postgres),
		Settings:      NewSettingsRepoAdapter(postgres),
	}
}
