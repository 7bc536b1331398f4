package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage/storagetest"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

func setup(t *testing.T) (context.Context, storage.Repositories) {
	logger.Log = zaptest.NewLogger(t)
	repo, _ := storagetest.NewSQLiteRepo(t)
	return tenant.WithCompanyID(context.Background(), "acme"), storage.NewRepositories(repo)
}

func TestContactTelephoneMembership(t *testing.T) {
	ctx, repos := setup(t)

	contact := model.NewContact(&model.Contact{
		Telephones: datatypes.JSONSlice[string]{"+54 9 11 5544-3322", "+5491155443322", "011 4555 1234"},
	})
	require.NoError(t, repos.Contacts.Create(ctx, contact))
	assert.Equal(t, []string{"+5491155443322", "01145551234"}, []string(contact.Telephones))

	found, err := repos.Contacts.FindByPhone(ctx, "+549 11 5544 3322")
	require.NoError(t, err)
	assert.Equal(t, contact.ID, found.ID)

	found, err = repos.Contacts.FindByPhone(ctx, "01145551234")
	require.NoError(t, err)
	assert.Equal(t, contact.ID, found.ID)

	_, err = repos.Contacts.FindByPhone(ctx, "+5491100000000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// A second live contact cannot claim the same phone.
	other := model.NewContact(&model.Contact{Telephones: datatypes.JSONSlice[string]{"+5491155443322"}})
	err = repos.Contacts.Create(ctx, other)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestContactEmailUniqueAndCaseInsensitive(t *testing.T) {
	ctx, repos := setup(t)

	email := "Ana@Example.com"
	contact := model.NewContact(&model.Contact{Email: &email})
	require.NoError(t, repos.Contacts.Create(ctx, contact))

	found, err := repos.Contacts.FindByEmail(ctx, "ana@example.com ")
	require.NoError(t, err)
	assert.Equal(t, contact.ID, found.ID)

	dup := "ana@example.com"
	err = repos.Contacts.Create(ctx, model.NewContact(&model.Contact{Email: &dup}))
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestMessageExternalIDIsUnique(t *testing.T) {
	ctx, repos := setup(t)

	msg := model.NewMessage()
	require.NoError(t, repos.Messages.Create(ctx, msg))
	assert.Equal(t, int64(1), msg.Version)

	dup := model.NewMessage(&model.Message{ExternalOriginID: msg.ExternalOriginID})
	err := repos.Messages.Create(ctx, dup)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)

	found, err := repos.Messages.FindByExternalID(ctx, *msg.ExternalOriginID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)
}

func TestMessageCreateRejectsInvalidPairing(t *testing.T) {
	ctx, repos := setup(t)

	err := repos.Messages.Create(ctx, model.NewMessage(&model.Message{State: model.MessageStatePendingSend}))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestMessageSetStateUsesVersion(t *testing.T) {
	ctx, repos := setup(t)

	msg := model.NewMessage()
	require.NoError(t, repos.Messages.Create(ctx, msg))

	stale := *msg
	require.NoError(t, repos.Messages.SetState(ctx, msg, model.MessageStateReceived))
	assert.Equal(t, int64(2), msg.Version)

	err := repos.Messages.SetState(ctx, &stale, model.MessageStateDiscarded)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	err = repos.Messages.SetState(ctx, msg, model.MessageStateSent)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	stored, err := repos.Messages.FindByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStateReceived, stored.State)
}

func TestApplyProviderStatusOrdering(t *testing.T) {
	ctx, repos := setup(t)

	contactID := model.NewID()
	wamid := "wamid.OUT"
	msg := model.NewMessage(&model.Message{
		Direction:        model.DirectionOutbound,
		State:            model.MessageStateSent,
		ContactID:        &contactID,
		ExternalOriginID: &wamid,
		ProviderState:    model.StringPtr(model.ProviderStateSent),
	})
	require.NoError(t, repos.Messages.Create(ctx, msg))

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	apply := func(status string, at time.Time) bool {
		_, applied, err := repos.Messages.ApplyProviderStatus(ctx, model.StatusUpdate{ExternalID: wamid, Status: status, Timestamp: at})
		require.NoError(t, err)
		return applied
	}

	assert.True(t, apply(model.ProviderStateRead, t0.Add(2*time.Second)))
	assert.False(t, apply(model.ProviderStateDelivered, t0.Add(1*time.Second)), "no regression")
	assert.False(t, apply(model.ProviderStateRead, t0.Add(3*time.Second)), "duplicate state")
	assert.False(t, apply(model.ProviderStateFailed, t0.Add(2*time.Second)), "failure before the latest success")

	stored, err := repos.Messages.FindByExternalID(ctx, wamid)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderStateRead, model.Deref(stored.ProviderState))
	assert.Equal(t, model.MessageStateSent, stored.State)

	assert.True(t, apply(model.ProviderStateFailed, t0.Add(3*time.Second)), "failure wins a tie")
	stored, err = repos.Messages.FindByExternalID(ctx, wamid)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderStateFailed, model.Deref(stored.ProviderState))
	assert.Equal(t, model.MessageStateErrorSend, stored.State)
	assert.Contains(t, stored.Metadata, "provider_errors")

	assert.False(t, apply(model.ProviderStateDelivered, t0.Add(3*time.Second)))
	assert.True(t, apply(model.ProviderStateDelivered, t0.Add(5*time.Second)), "later success clears the failure")
	stored, err = repos.Messages.FindByExternalID(ctx, wamid)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderStateRead, model.Deref(stored.ProviderState))
	assert.Equal(t, model.MessageStateSent, stored.State)

	_, _, err = repos.Messages.ApplyProviderStatus(ctx, model.StatusUpdate{ExternalID: "wamid.unknown", Status: model.ProviderStateRead, Timestamp: t0})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestApplyProviderStatusArrivalOrder(t *testing.T) {
	ctx, repos := setup(t)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	failed := model.StatusUpdate{Status: model.ProviderStateFailed, Timestamp: t0.Add(5 * time.Second)}
	sent := model.StatusUpdate{Status: model.ProviderStateSent, Timestamp: t0.Add(6 * time.Second)}
	read := model.StatusUpdate{Status: model.ProviderStateRead, Timestamp: t0.Add(4 * time.Second)}

	orders := map[string][]model.StatusUpdate{
		"failed,sent,read": {failed, sent, read},
		"failed,read,sent": {failed, read, sent},
		"sent,failed,read": {sent, failed, read},
		"sent,read,failed": {sent, read, failed},
		"read,failed,sent": {read, failed, sent},
		"read,sent,failed": {read, sent, failed},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			wamid := "wamid." + model.NewID()
			msg := model.NewMessage(&model.Message{
				Direction:        model.DirectionOutbound,
				State:            model.MessageStatePendingSend,
				ExternalOriginID: &wamid,
			})
			require.NoError(t, repos.Messages.Create(ctx, msg))

			for _, update := range order {
				update.ExternalID = wamid
				_, _, err := repos.Messages.ApplyProviderStatus(ctx, update)
				require.NoError(t, err)
			}

			stored, err := repos.Messages.FindByExternalID(ctx, wamid)
			require.NoError(t, err)
			assert.Equal(t, model.ProviderStateRead, model.Deref(stored.ProviderState))
			assert.Equal(t, model.MessageStateSent, stored.State)
			assert.True(t, sent.Timestamp.Equal(*stored.ProviderStateAt))
		})
	}
}

func TestParkedStatusesAreTakenOnce(t *testing.T) {
	ctx, repos := setup(t)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	read := model.StatusUpdate{ExternalID: "wamid.EARLY", Status: model.ProviderStateRead, Timestamp: t0.Add(time.Second)}
	delivered := model.StatusUpdate{ExternalID: "wamid.EARLY", Status: model.ProviderStateDelivered, Timestamp: t0}
	other := model.StatusUpdate{ExternalID: "wamid.OTHER", Status: model.ProviderStateSent, Timestamp: t0}
	for _, update := range []model.StatusUpdate{read, delivered, other} {
		require.NoError(t, repos.Messages.ParkStatus(ctx, update))
	}

	taken, err := repos.Messages.TakeParkedStatuses(ctx, "wamid.EARLY")
	require.NoError(t, err)
	require.Len(t, taken, 2)
	assert.Equal(t, model.ProviderStateDelivered, taken[0].Status)
	assert.Equal(t, model.ProviderStateRead, taken[1].Status)
	assert.True(t, read.Timestamp.Equal(taken[1].Timestamp))

	taken, err = repos.Messages.TakeParkedStatuses(ctx, "wamid.EARLY")
	require.NoError(t, err)
	assert.Empty(t, taken)

	taken, err = repos.Messages.TakeParkedStatuses(ctx, "wamid.OTHER")
	require.NoError(t, err)
	assert.Len(t, taken, 1)
}

func TestOpportunityOneActivePerContact(t *testing.T) {
	ctx, repos := setup(t)

	contactID := model.NewID()
	first := model.NewOpportunity(&model.Opportunity{ContactID: contactID})
	require.NoError(t, repos.Opportunities.Create(ctx, first, nil))

	second := model.NewOpportunity(&model.Opportunity{ContactID: contactID})
	err := repos.Opportunities.Create(ctx, second, nil)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)

	active, err := repos.Opportunities.FindActiveByContact(ctx, contactID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	logs, err := repos.Opportunities.ListStateLogs(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "", logs[0].FromState)
	assert.Equal(t, model.OpportunityStateProspect, logs[0].ToState)
}

func TestSetOpportunityStateWritesLogAndStateDate(t *testing.T) {
	ctx, repos := setup(t)

	opp := model.NewOpportunity(&model.Opportunity{StateDate: utils.Now().Add(-time.Hour)})
	require.NoError(t, repos.Opportunities.Create(ctx, opp, nil))
	before := opp.StateDate

	actor := "user-1"
	entry, err := repos.Opportunities.SetState(ctx, opp, model.OpportunityStateOpen, &actor, nil)
	require.NoError(t, err)
	assert.True(t, opp.StateDate.After(before))
	assert.True(t, entry.At.Equal(opp.StateDate))
	assert.Equal(t, model.OpportunityStateProspect, entry.FromState)

	for _, to := range []string{model.OpportunityStateVisit, model.OpportunityStateLost} {
		_, err = repos.Opportunities.SetState(ctx, opp, to, nil, nil)
		require.NoError(t, err)
	}
	assert.False(t, opp.Active)

	stored, err := repos.Opportunities.FindByID(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OpportunityStateLost, stored.State)
	assert.False(t, stored.Active)
	assert.Equal(t, opp.Version, stored.Version)

	logs, err := repos.Opportunities.ListStateLogs(ctx, opp.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 4)

	// Closing frees the contact for a new active opportunity.
	next := model.NewOpportunity(&model.Opportunity{ContactID: opp.ContactID})
	assert.NoError(t, repos.Opportunities.Create(ctx, next, nil))
}

func TestSetOpportunityStateConflict(t *testing.T) {
	ctx, repos := setup(t)

	opp := model.NewOpportunity()
	require.NoError(t, repos.Opportunities.Create(ctx, opp, nil))
	stale := *opp

	_, err := repos.Opportunities.SetState(ctx, opp, model.OpportunityStateOpen, nil, nil)
	require.NoError(t, err)

	_, err = repos.Opportunities.SetState(ctx, &stale, model.OpportunityStateOpen, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	logs, err := repos.Opportunities.ListStateLogs(ctx, opp.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2, "the rejected write leaves no log row")
}

func TestListOpportunitiesPanelWindow(t *testing.T) {
	ctx, repos := setup(t)

	active := model.NewOpportunity()
	require.NoError(t, repos.Opportunities.Create(ctx, active, nil))

	recent := model.NewOpportunity()
	require.NoError(t, repos.Opportunities.Create(ctx, recent, nil))
	for _, to := range []string{model.OpportunityStateOpen, model.OpportunityStateLost} {
		_, err := repos.Opportunities.SetState(ctx, recent, to, nil, nil)
		require.NoError(t, err)
	}

	onlyActive, err := repos.Opportunities.List(ctx, model.OpportunityFilter{})
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, active.ID, onlyActive[0].ID)

	since := utils.Now().Add(-24 * time.Hour)
	withRecent, err := repos.Opportunities.List(ctx, model.OpportunityFilter{ClosedSince: &since})
	require.NoError(t, err)
	assert.Len(t, withRecent, 2)

	future := utils.Now().Add(time.Hour)
	withoutRecent, err := repos.Opportunities.List(ctx, model.OpportunityFilter{ClosedSince: &future})
	require.NoError(t, err)
	assert.Len(t, withoutRecent, 1)
}

func TestSetEventState(t *testing.T) {
	ctx, repos := setup(t)

	event := model.NewEvent()
	require.NoError(t, repos.Events.Create(ctx, event))
	before := event.StateDate

	result := "visited the unit"
	at := utils.Now()
	require.NoError(t, repos.Events.SetState(ctx, event, model.EventStateRealized, &result, &at))
	assert.False(t, event.StateDate.Before(before))

	stored, err := repos.Events.FindByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStateRealized, stored.EventState)
	assert.Equal(t, result, model.Deref(stored.Result))
	assert.NotNil(t, stored.EventTime)

	events, err := repos.Events.ListByOpportunity(ctx, event.OpportunityID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestWebhookLogLifecycle(t *testing.T) {
	ctx, repos := setup(t)

	entry := &model.WebhookLog{EventType: model.WebhookEventMessages, Payload: datatypes.JSON(`{"object":"x"}`)}
	require.NoError(t, repos.WebhookLogs.Create(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	msg := "unknown channel"
	require.NoError(t, repos.WebhookLogs.Mark(ctx, entry.ID, 200, false, &msg))

	stored, err := repos.WebhookLogs.FindByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	require.NotNil(t, stored.ResponseStatus)
	assert.Equal(t, 200, *stored.ResponseStatus)
	assert.Equal(t, msg, model.Deref(stored.ErrorMessage))

	err = repos.WebhookLogs.Mark(ctx, model.NewID(), 200, true, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTenantSettingsUpsert(t *testing.T) {
	ctx, repos := setup(t)

	_, err := repos.Settings.Find(ctx, "acme")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, repos.Settings.Save(ctx, &model.TenantSettings{CompanyID: "acme", PanelWindowDays: 7}))
	require.NoError(t, repos.Settings.Save(ctx, &model.TenantSettings{CompanyID: "acme", PanelWindowDays: 14, AutoCreateChannel: true}))

	settings, err := repos.Settings.Find(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 14, settings.PanelWindowDays)
	assert.True(t, settings.AutoCreateChannel)
}

func TestRepositoryRequiresTenant(t *testing.T) {
	_, repos := setup(t)
	_, err := repos.Contacts.FindByID(context.Background(), model.NewID())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
