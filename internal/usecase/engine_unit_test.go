package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
	storagemock "gitlab.com/timkado/api/daisi-crm-engine/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/whatsapp"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

type mockRepos struct {
	contacts      *storagemock.ContactRepoMock
	channels      *storagemock.ChannelRepoMock
	messages      *storagemock.MessageRepoMock
	opportunities *storagemock.OpportunityRepoMock
	events        *storagemock.EventRepoMock
	webhookLogs   *storagemock.WebhookLogRepoMock
	properties    *storagemock.PropertyRepoMock
}

func newMockService(t *testing.T, sender whatsapp.Sender) (*EngineService, *mockRepos, context.Context) {
	t.Helper()
	m := &mockRepos{
		contacts:      new(storagemock.ContactRepoMock),
		channels:      new(storagemock.ChannelRepoMock),
		messages:      new(storagemock.MessageRepoMock),
		opportunities: new(storagemock.OpportunityRepoMock),
		events:        new(storagemock.EventRepoMock),
		webhookLogs:   new(storagemock.WebhookLogRepoMock),
		properties:    new(storagemock.PropertyRepoMock),
	}
	repos := storage.Repositories{
		Contacts:      m.contacts,
		Channels:      m.channels,
		Messages:      m.messages,
		Opportunities: m.opportunities,
		Events:        m.events,
		WebhookLogs:   m.webhookLogs,
		Properties:    m.properties,
	}
	svc := NewEngineService(repos, sender, nil, nil, nil, config.CRMConfig{DefaultResponsibleUserID: "owner"})

	ctx := tenant.WithCompanyID(context.Background(), testCompanyID)
	ctx = logger.WithLogger(ctx, zaptest.NewLogger(t))
	return svc, m, ctx
}

type senderFunc func(ctx context.Context, req whatsapp.SendRequest) (*whatsapp.SendResponse, error)

func (f senderFunc) Send(ctx context.Context, req whatsapp.SendRequest) (*whatsapp.SendResponse, error) {
	return f(ctx, req)
}

func TestTransition_RetriesVersionConflict(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)

	m.opportunities.On("FindByID", mock.Anything, "opp-1").
		Return(model.NewOpportunity(&model.Opportunity{ID: "opp-1", State: model.OpportunityStateOpen}), nil).Once()
	m.opportunities.On("FindByID", mock.Anything, "opp-1").
		Return(model.NewOpportunity(&model.Opportunity{ID: "opp-1", State: model.OpportunityStateOpen}), nil).Once()
	m.opportunities.On("SetState", mock.Anything, mock.Anything, model.OpportunityStateVisit, mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrConflict).Once()
	m.opportunities.On("SetState", mock.Anything, mock.Anything, model.OpportunityStateVisit, mock.Anything, mock.Anything).
		Return(&model.OpportunityStateLog{ToState: model.OpportunityStateVisit, At: time.Now()}, nil).Once()

	opp, err := svc.Transition(ctx, model.TransitionRequest{OpportunityID: "opp-1", State: model.OpportunityStateVisit})
	require.NoError(t, err)
	assert.Equal(t, "opp-1", opp.ID)
	m.opportunities.AssertNumberOfCalls(t, "FindByID", 2)
	m.opportunities.AssertNumberOfCalls(t, "SetState", 2)
}

func TestTransition_GivesUpAfterRepeatedConflicts(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)

	m.opportunities.On("FindByID", mock.Anything, "opp-1").
		Return(model.NewOpportunity(&model.Opportunity{ID: "opp-1", State: model.OpportunityStateProspect}), nil)
	m.opportunities.On("SetState", mock.Anything, mock.Anything, model.OpportunityStateOpen, mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrConflict)

	_, err := svc.Transition(ctx, model.TransitionRequest{OpportunityID: "opp-1", State: model.OpportunityStateOpen})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	m.opportunities.AssertNumberOfCalls(t, "SetState", maxConflictAttempts)
}

func TestTransition_SelfLoopIsNoop(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)

	m.opportunities.On("FindByID", mock.Anything, "opp-1").
		Return(model.NewOpportunity(&model.Opportunity{ID: "opp-1", State: model.OpportunityStateQuote}), nil)

	opp, err := svc.Transition(ctx, model.TransitionRequest{OpportunityID: "opp-1", State: model.OpportunityStateQuote})
	require.NoError(t, err)
	assert.Equal(t, model.OpportunityStateQuote, opp.State)
	m.opportunities.AssertNotCalled(t, "SetState", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveContact_LosesCreationRace(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)
	winner := model.NewContact(&model.Contact{ID: "contact-1"})

	m.contacts.On("FindByPhone", mock.Anything, testCustomerPhone).Return(nil, apperrors.ErrNotFound).Once()
	m.contacts.On("Create", mock.Anything, mock.AnythingOfType("*model.Contact")).Return(apperrors.ErrDuplicate).Once()
	m.contacts.On("FindByPhone", mock.Anything, testCustomerPhone).Return(winner, nil).Once()

	got, created, err := svc.ResolveContact(ctx, ContactLookup{Phone: "+54 9 11 5544-3322"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "contact-1", got.ID)
	m.contacts.AssertExpectations(t)
}

func TestResolveContact_CreatesWithDefaults(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)

	m.contacts.On("FindByPhone", mock.Anything, testCustomerPhone).Return(nil, apperrors.ErrNotFound)
	m.contacts.On("Create", mock.Anything, mock.AnythingOfType("*model.Contact")).Return(nil)

	got, created, err := svc.ResolveContact(ctx, ContactLookup{Phone: testCustomerPhone})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testCustomerPhone, got.FullName)
	assert.Equal(t, "owner", got.ResponsibleUserID)
	assert.Equal(t, model.QualificationNew, got.QualificationState)
	assert.Nil(t, got.Email)
	assert.Equal(t, []string{testCustomerPhone}, []string(got.Telephones))
}

func TestResolveOrOpen_ReadsConcurrentWinner(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)
	winner := model.NewOpportunity(&model.Opportunity{ID: "opp-winner", ContactID: "contact-1"})

	m.opportunities.On("FindActiveByContact", mock.Anything, "contact-1").Return(nil, apperrors.ErrNotFound).Once()
	m.contacts.On("FindByID", mock.Anything, "contact-1").Return(model.NewContact(&model.Contact{ID: "contact-1"}), nil)
	m.properties.On("FindByContact", mock.Anything, "contact-1").Return([]model.Property{}, nil)
	m.opportunities.On("Create", mock.Anything, mock.AnythingOfType("*model.Opportunity"), (*string)(nil)).Return(apperrors.ErrDuplicate).Once()
	m.opportunities.On("FindActiveByContact", mock.Anything, "contact-1").Return(winner, nil).Once()

	opp, created, err := svc.ResolveOrOpen(ctx, "contact-1", "Ventas")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "opp-winner", opp.ID)
	m.opportunities.AssertExpectations(t)
}

func TestClassifyOperationType(t *testing.T) {
	contactID := "contact-1"
	tests := []struct {
		name       string
		properties []model.Property
		want       *int64
	}{
		{name: "no properties"},
		{name: "sale property", properties: []model.Property{{OperationTypeID: 1, State: model.PropertyStateExecuted}}},
		{name: "rent withdrawn", properties: []model.Property{{OperationTypeID: 2, State: model.PropertyStateWithdrawn}}},
		{name: "rent executed", properties: []model.Property{{OperationTypeID: 2, State: model.PropertyStateExecuted}}, want: int64Ptr(3)},
		{name: "rent available", properties: []model.Property{{OperationTypeID: 2, State: model.PropertyStateAvailable}}, want: int64Ptr(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m, ctx := newMockService(t, nil)
			svc.cfg.RentOperationTypeID = 2
			svc.cfg.MaintenanceOperationTypeID = 3
			m.properties.On("FindByContact", mock.Anything, contactID).Return(tt.properties, nil)

			got, err := svc.classifyOperationType(ctx, contactID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyStatus_IgnoresUnknownMessageAndStatus(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)

	m.messages.On("ApplyProviderStatus", mock.Anything, mock.AnythingOfType("model.StatusUpdate")).Return(nil, false, apperrors.ErrNotFound)
	m.messages.On("ParkStatus", mock.Anything, mock.AnythingOfType("model.StatusUpdate")).Return(nil)
	m.messages.On("FindByExternalID", mock.Anything, "wamid.X").Return(nil, apperrors.ErrNotFound)

	msg, err := svc.ApplyStatus(ctx, model.StatusUpdate{ExternalID: "wamid.X", Status: model.ProviderStateDelivered})
	require.NoError(t, err)
	assert.Nil(t, msg)
	m.messages.AssertNumberOfCalls(t, "ParkStatus", 1)
	m.messages.AssertNotCalled(t, "TakeParkedStatuses", mock.Anything, mock.Anything)

	msg, err = svc.ApplyStatus(ctx, model.StatusUpdate{ExternalID: "wamid.X", Status: "deleted"})
	require.NoError(t, err)
	assert.Nil(t, msg)
	m.messages.AssertNumberOfCalls(t, "ApplyProviderStatus", 1)

	_, err = svc.ApplyStatus(ctx, model.StatusUpdate{Status: model.ProviderStateRead})
	assert.ErrorIs(t, err, apperrors.ErrMalformedInput)
}

func TestApplyStatus_ParkedStatusReplaysWhenSendResultLandsMeanwhile(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)
	at := time.Unix(1700000000, 0)
	update := model.StatusUpdate{ExternalID: "wamid.X", Status: model.ProviderStateDelivered, Timestamp: at}
	stored := model.NewMessage(&model.Message{ID: "msg-1", Direction: model.DirectionOutbound, State: model.MessageStateSent})
	delivered := *stored
	delivered.ProviderState = model.StringPtr(model.ProviderStateDelivered)

	m.messages.On("ApplyProviderStatus", mock.Anything, update).Return(nil, false, apperrors.ErrNotFound).Once()
	m.messages.On("ParkStatus", mock.Anything, update).Return(nil)
	m.messages.On("FindByExternalID", mock.Anything, "wamid.X").Return(stored, nil)
	m.messages.On("TakeParkedStatuses", mock.Anything, "wamid.X").Return([]model.StatusUpdate{update}, nil)
	m.messages.On("ApplyProviderStatus", mock.Anything, update).Return(&delivered, true, nil).Once()

	msg, err := svc.ApplyStatus(ctx, update)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, model.ProviderStateDelivered, model.Deref(msg.ProviderState))
	m.messages.AssertNumberOfCalls(t, "ApplyProviderStatus", 2)
}

func TestRetry_ConflictingClaimDoesNotSend(t *testing.T) {
	sends := 0
	sender := senderFunc(func(ctx context.Context, req whatsapp.SendRequest) (*whatsapp.SendResponse, error) {
		sends++
		return &whatsapp.SendResponse{MessageID: "wamid.R"}, nil
	})
	svc, m, ctx := newMockService(t, sender)

	failed := model.NewMessage(&model.Message{
		ID:        "msg-1",
		Direction: model.DirectionOutbound,
		State:     model.MessageStateErrorSend,
		Metadata: map[string]interface{}{
			metadataSend: map[string]interface{}{"phone_number_id": "1001", "to": "5215550000", "mode": whatsapp.ModeText},
		},
	})
	m.messages.On("FindByID", mock.Anything, "msg-1").Return(failed, nil)
	m.messages.On("SetState", mock.Anything, failed, model.MessageStatePendingSend).Return(apperrors.ErrConflict)

	_, err := svc.Retry(ctx, "msg-1")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Zero(t, sends)
	m.messages.AssertNotCalled(t, "UpdateSendResult", mock.Anything, mock.Anything)
}

func TestApplyStatus_DatabaseErrorIsRetryable(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)
	dbErr := fmt.Errorf("%w: connection reset", apperrors.ErrDatabase)
	m.messages.On("ApplyProviderStatus", mock.Anything, mock.Anything).Return(nil, false, dbErr)

	_, err := svc.ApplyStatus(ctx, model.StatusUpdate{ExternalID: "wamid.X", Status: model.ProviderStateRead, Timestamp: time.Now()})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDatabase)

	var retryable *apperrors.RetryableError
	assert.True(t, errors.As(err, &retryable))
}

func TestReply_ProviderErrorIsStoredOnMessage(t *testing.T) {
	sender := senderFunc(func(ctx context.Context, req whatsapp.SendRequest) (*whatsapp.SendResponse, error) {
		return nil, &apperrors.ProviderError{StatusCode: 400, Code: 131047, Message: "Re-engagement message"}
	})
	svc, m, ctx := newMockService(t, sender)

	contactID, oppID, channelID := "contact-1", "opp-1", "channel-1"
	source := model.NewMessage(&model.Message{ID: "msg-1", ContactID: &contactID, OpportunityID: &oppID, ChannelID: &channelID})
	source.MessageTime = time.Now().Add(-time.Minute)

	m.messages.On("FindByID", mock.Anything, "msg-1").Return(source, nil)
	m.channels.On("FindByID", mock.Anything, channelID).Return(model.NewChannel(&model.Channel{ID: channelID, ProviderChannelID: "1001", Active: true}), nil)
	m.contacts.On("FindByID", mock.Anything, contactID).Return(model.NewContact(&model.Contact{ID: contactID}), nil)
	m.opportunities.On("FindActiveByContact", mock.Anything, contactID).Return(model.NewOpportunity(&model.Opportunity{ID: oppID, ContactID: contactID}), nil)
	m.messages.On("FindLatestInbound", mock.Anything, contactID, channelID).Return(source, nil)
	m.messages.On("Create", mock.Anything, mock.AnythingOfType("*model.Message")).Return(nil)
	m.messages.On("UpdateSendResult", mock.Anything, mock.AnythingOfType("*model.Message")).Return(nil)
	m.messages.On("SetState", mock.Anything, source, model.MessageStateReceived).Return(nil)

	out, err := svc.Reply(ctx, model.ReplyRequest{SourceMessageID: "msg-1", Body: "Gracias"})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStateErrorSend, out.State)

	sendErr, ok := out.Metadata[metadataSendError].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 131047, sendErr["code"])
	assert.Equal(t, 400, sendErr["status_code"])
	m.messages.AssertNotCalled(t, "UpdateLinks", mock.Anything, mock.Anything)
	m.messages.AssertCalled(t, "SetState", mock.Anything, source, model.MessageStateReceived)
}

func TestReply_RejectsOutboundSource(t *testing.T) {
	svc, m, ctx := newMockService(t, nil)
	m.messages.On("FindByID", mock.Anything, "msg-1").
		Return(model.NewMessage(&model.Message{ID: "msg-1", Direction: model.DirectionOutbound, State: model.MessageStateSent}), nil)

	_, err := svc.Reply(ctx, model.ReplyRequest{SourceMessageID: "msg-1", Body: "x"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = svc.Reply(ctx, model.ReplyRequest{SourceMessageID: "msg-1"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSendParamsRoundTripThroughMetadata(t *testing.T) {
	send := whatsapp.SendRequest{PhoneNumberID: "1001", To: "+549", Mode: whatsapp.ModeTemplate, TemplateName: "notif", TemplateLanguage: "es_AR", Body: "hola"}
	msg := &model.Message{ID: "m", Body: &send.Body}
	msg.MergeMetadata(metadataSend, sendParamsToMetadata(send))

	got, err := sendParamsFromMetadata(msg)
	require.NoError(t, err)
	assert.Equal(t, send, got)

	_, err = sendParamsFromMetadata(&model.Message{ID: "bare"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestSummarize(t *testing.T) {
	short := "hola"
	assert.Equal(t, short, summarize(short))

	long := make([]rune, summaryMaxRunes+10)
	for i := range long {
		long[i] = 'ñ'
	}
	got := []rune(summarize(string(long)))
	assert.Len(t, got, summaryMaxRunes)
	assert.Equal(t, '…', got[len(got)-1])
}

func int64Ptr(v int64) *int64 { return &v }
