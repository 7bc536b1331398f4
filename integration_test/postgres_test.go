//go:build integration

package integration_test

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/usecase"
)

// PostgresSuite checks the behaviour that only a real Postgres provides:
// tenant schemas, partial unique indexes and row versioning.
type PostgresSuite struct {
	BaseIntegrationSuite
	repos storage.Repositories
}

func (s *PostgresSuite) SetupSuite() {
	s.BaseIntegrationSuite.SetupSuite()
	s.repos = storage.NewRepositories(s.Repo)
}

func (s *PostgresSuite) TestPing() {
	s.Require().NoError(s.Repo.Ping(s.Ctx))
}

func (s *PostgresSuite) TestTenantSchemasAreIsolated() {
	other, err := storage.NewPostgresRepo(s.PostgresDSN, true, "globex")
	s.Require().NoError(err)
	defer other.Close(s.Ctx)

	contact := model.NewContact()
	s.Require().NoError(s.repos.Contacts.Create(s.TenantCtx(), contact))

	_, err = storage.NewRepositories(other).Contacts.FindByID(tenant.WithCompanyID(s.Ctx, "globex"), contact.ID)
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *PostgresSuite) TestOneActiveOpportunityPerContact() {
	ctx := s.TenantCtx()
	contact := model.NewContact()
	s.Require().NoError(s.repos.Contacts.Create(ctx, contact))

	first := model.NewOpportunity(&model.Opportunity{ContactID: contact.ID, State: model.OpportunityStateOpen})
	s.Require().NoError(s.repos.Opportunities.Create(ctx, first, nil))

	second := model.NewOpportunity(&model.Opportunity{ContactID: contact.ID, State: model.OpportunityStateOpen})
	err := s.repos.Opportunities.Create(ctx, second, nil)
	s.ErrorIs(err, apperrors.ErrDuplicate)

	// Closing the first frees the slot.
	_, err = s.repos.Opportunities.SetState(ctx, first, model.OpportunityStateLost, nil, nil)
	s.Require().NoError(err)
	s.False(first.Active)

	third := model.NewOpportunity(&model.Opportunity{ContactID: contact.ID, State: model.OpportunityStateProspect})
	s.NoError(s.repos.Opportunities.Create(ctx, third, nil))
}

func (s *PostgresSuite) TestStaleVersionIsRejected() {
	ctx := s.TenantCtx()
	contact := model.NewContact()
	s.Require().NoError(s.repos.Contacts.Create(ctx, contact))
	opp := model.NewOpportunity(&model.Opportunity{ContactID: contact.ID, State: model.OpportunityStateOpen})
	s.Require().NoError(s.repos.Opportunities.Create(ctx, opp, nil))

	stale := *opp
	_, err := s.repos.Opportunities.SetState(ctx, opp, model.OpportunityStateVisit, nil, nil)
	s.Require().NoError(err)

	_, err = s.repos.Opportunities.SetState(ctx, &stale, model.OpportunityStateQuote, nil, nil)
	s.ErrorIs(err, apperrors.ErrConflict)
}

func (s *PostgresSuite) TestWebhookEnvelopeEndToEnd() {
	ctx := s.TenantCtx()
	phoneNumberID := gofakeit.Numerify("2########")
	channel := model.NewChannel(&model.Channel{ProviderChannelID: phoneNumberID, Active: true})
	s.Require().NoError(s.repos.Channels.Create(ctx, channel))

	settings := usecase.NewSettingsProvider(s.repos.Settings, cache.NewSettingsCache(s.CompanyID, time.Minute), model.TenantSettings{PanelWindowDays: 30})
	engine := usecase.NewEngineService(s.repos, nil, nil, settings, cache.NewChannelCache(s.CompanyID), config.CRMConfig{
		DefaultResponsibleUserID:   "webhook-owner",
		RentOperationTypeID:        2,
		MaintenanceOperationTypeID: 3,
	})

	wamid := "wamid." + gofakeit.LetterN(12)
	env := model.NewTextEnvelope("", phoneNumberID, gofakeit.Numerify("549##########"), "Ana", wamid, "hola", time.Now())
	body, err := json.Marshal(env)
	s.Require().NoError(err)

	logID, err := engine.RecordWebhook(ctx, usecase.WebhookEventType(body), body)
	s.Require().NoError(err)
	s.Require().NoError(engine.ProcessRecordedWebhook(ctx, logID, usecase.WebhookEventType(body), body))
	// Redelivery is a no-op.
	s.Require().NoError(engine.ProcessWebhook(ctx, body))

	msg, err := s.repos.Messages.FindByExternalID(ctx, wamid)
	s.Require().NoError(err)
	s.Equal(model.MessageStateNew, msg.State)
	s.Require().NotNil(msg.ContactID)
	s.Require().NotNil(msg.OpportunityID)

	opp, err := s.repos.Opportunities.FindActiveByContact(ctx, *msg.ContactID)
	s.Require().NoError(err)
	s.Equal(*msg.OpportunityID, opp.ID)

	entry, err := s.repos.WebhookLogs.FindByID(ctx, logID)
	s.Require().NoError(err)
	s.True(entry.Processed)
}
