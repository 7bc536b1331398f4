package handler

import (
	"context"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/usecase"
)

// WebhookService records and processes provider envelopes.
type WebhookService interface {
	RecordWebhook(ctx context.Context, eventType string, payload []byte) (string, error)
	ProcessRecordedWebhook(ctx context.Context, logID, eventType string, body []byte) error
	RecordRejectedWebhook(ctx context.Context, sizeBytes int64, reason string) (string, error)
}

// CRMService is the operator-facing part of the engine.
type CRMService interface {
	Reply(ctx context.Context, req model.ReplyRequest) (*model.Message, error)
	Retry(ctx context.Context, messageID string) (*model.Message, error)
	DiscardMessage(ctx context.Context, messageID string) (*model.Message, error)
	OpenOpportunityFromMessage(ctx context.Context, messageID, contactName string) (*model.Opportunity, error)
	QueryActivities(ctx context.Context, q model.ActivityQuery) (*model.ActivityTimeline, error)
	ListPanel(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error)
	Transition(ctx context.Context, req model.TransitionRequest) (*model.Opportunity, error)
	Close(ctx context.Context, opportunityID string, req model.CloseRequest) (*model.Opportunity, error)
	CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	TransitionEvent(ctx context.Context, req model.EventTransitionRequest) (*model.Event, error)
}

// Ensure the engine implements the interfaces
var _ WebhookService = (*usecase.EngineService)(nil)
var _ CRMService = (*usecase.EngineService)(nil)
