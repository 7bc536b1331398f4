package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
)

// WebhookServiceMock is a mock for the handler.WebhookService interface
type WebhookServiceMock struct {
	mock.Mock
}

func (m *WebhookServiceMock) RecordWebhook(ctx context.Context, eventType string, payload []byte) (string, error) {
	args := m.Called(ctx, eventType, payload)
	return args.String(0), args.Error(1)
}

func (m *WebhookServiceMock) ProcessRecordedWebhook(ctx context.Context, logID, eventType string, body []byte) error {
	args := m.Called(ctx, logID, eventType, body)
	return args.Error(0)
}

func (m *WebhookServiceMock) RecordRejectedWebhook(ctx context.Context, sizeBytes int64, reason string) (string, error) {
	args := m.Called(ctx, sizeBytes, reason)
	return args.String(0), args.Error(1)
}

// CRMServiceMock is a mock for the handler.CRMService interface
type CRMServiceMock struct {
	mock.Mock
}

func (m *CRMServiceMock) Reply(ctx context.Context, req model.ReplyRequest) (*model.Message, error) {
	args := m.Called(ctx, req)
	return messageArg(args, 0), args.Error(1)
}

func (m *CRMServiceMock) Retry(ctx context.Context, messageID string) (*model.Message, error) {
	args := m.Called(ctx, messageID)
	return messageArg(args, 0), args.Error(1)
}

func (m *CRMServiceMock) DiscardMessage(ctx context.Context, messageID string) (*model.Message, error) {
	args := m.Called(ctx, messageID)
	return messageArg(args, 0), args.Error(1)
}

func (m *CRMServiceMock) OpenOpportunityFromMessage(ctx context.Context, messageID, contactName string) (*model.Opportunity, error) {
	args := m.Called(ctx, messageID, contactName)
	return opportunityArg(args, 0), args.Error(1)
}

func (m *CRMServiceMock) QueryActivities(ctx context.Context, q model.ActivityQuery) (*model.ActivityTimeline, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.(*model.ActivityTimeline), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CRMServiceMock) ListPanel(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error) {
	args := m.Called(ctx, filter)
	if v := args.Get(0); v != nil {
		return v.([]model.Opportunity), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CRMServiceMock) Transition(ctx context.Context, req model.TransitionRequest) (*model.Opportunity, error) {
	args := m.Called(ctx, req)
	return opportunityArg(args, 0), args.Error(1)
}

func (m *CRMServiceMock) Close(ctx context.Context, opportunityID string, req model.CloseRequest) (*model.Opportunity, error) {
	args := m.Called(ctx, opportunityID, req)
	return opportunityArg(args, 0), args.Error(1)
}

func (m *CRMServiceMock) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	args := m.Called(ctx, req)
	return eventArg(args, 0), args.Error(1)
}

func (m *CRMServiceMock) TransitionEvent(ctx context.Context, req model.EventTransitionRequest) (*model.Event, error) {
	args := m.Called(ctx, req)
	return eventArg(args, 0), args.Error(1)
}

func messageArg(args mock.Arguments, i int) *model.Message {
	if v := args.Get(i); v != nil {
		return v.(*model.Message)
	}
	return nil
}

func opportunityArg(args mock.Arguments, i int) *model.Opportunity {
	if v := args.Get(i); v != nil {
		return v.(*model.Opportunity)
	}
	return nil
}

func eventArg(args mock.Arguments, i int) *model.Event {
	if v := args.Get(i); v != nil {
		return v.(*model.Event)
	}
	return nil
}
