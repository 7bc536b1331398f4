package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/storage/storagetest"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/whatsapp"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

const (
	testCompanyID     = "acme"
	testPhoneNumberID = "1001"
	testCustomerPhone = "+5491155443322"
)

// fakeProvider answers Graph send calls. Queued statuses are consumed in
// order; once empty every call succeeds.
type fakeProvider struct {
	mu       sync.Mutex
	statuses []int
	requests []map[string]interface{}
	nextID   int
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	p.mu.Lock()
	p.requests = append(p.requests, body)
	status := http.StatusOK
	if len(p.statuses) > 0 {
		status = p.statuses[0]
		p.statuses = p.statuses[1:]
	}
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"temporarily unavailable","type":"OAuthException","code":2}}`))
		return
	}
	_, _ = fmt.Fprintf(w, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT%d"}]}`, id)
}

func (p *fakeProvider) Requests() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]interface{}(nil), p.requests...)
}

type engineFixture struct {
	ctx      context.Context
	repos    storage.Repositories
	db       *gorm.DB
	svc      *EngineService
	provider *fakeProvider
	channel  *model.Channel
}

func newEngineFixture(t *testing.T, providerStatuses ...int) *engineFixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	repo, db := storagetest.NewSQLiteRepo(t)
	repos := storage.NewRepositories(repo)
	ctx := tenant.WithCompanyID(context.Background(), testCompanyID)
	ctx = logger.WithLogger(ctx, logger.Log)

	provider := &fakeProvider{statuses: providerStatuses}
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	client, err := whatsapp.NewClient(whatsapp.Config{BaseURL: srv.URL, APIVersion: "v20.0", AccessToken: "tok", Timeout: 5 * time.Second})
	require.NoError(t, err)

	channel := model.NewChannel(&model.Channel{ProviderChannelID: testPhoneNumberID, PhoneNumber: "+5491140000000", Active: true})
	require.NoError(t, repos.Channels.Create(ctx, channel))

	settings := NewSettingsProvider(repos.Settings, cache.NewSettingsCache(testCompanyID, time.Minute), model.TenantSettings{PanelWindowDays: 30})
	cfg := config.CRMConfig{
		ReplyWindow:                24 * time.Hour,
		RentOperationTypeID:        2,
		MaintenanceOperationTypeID: 3,
		DefaultResponsibleUserID:   "webhook-owner",
		DefaultTemplateLanguage:    "es_AR",
	}
	svc := NewEngineService(repos, client, nil, settings, cache.NewChannelCache(testCompanyID), cfg)

	return &engineFixture{ctx: ctx, repos: repos, db: db, svc: svc, provider: provider, channel: channel}
}

// deliverText records and processes a single-text envelope the way the webhook endpoint does.
func (f *engineFixture) deliverText(t *testing.T, wamid, body string, at time.Time) {
	t.Helper()
	env := model.NewTextEnvelope("", testPhoneNumberID, testCustomerPhone, "Ana", wamid, body, at)
	f.deliver(t, utils.MustMarshalJSON(env))
}

func (f *engineFixture) deliver(t *testing.T, body []byte) {
	t.Helper()
	eventType := WebhookEventType(body)
	logID, err := f.svc.RecordWebhook(f.ctx, eventType, body)
	require.NoError(t, err)
	require.NoError(t, f.svc.ProcessRecordedWebhook(f.ctx, logID, eventType, body))
}

func (f *engineFixture) count(t *testing.T, value interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(value).Count(&n).Error)
	return n
}

func (f *engineFixture) inbound(t *testing.T, wamid string) *model.Message {
	t.Helper()
	msg, err := f.repos.Messages.FindByExternalID(f.ctx, wamid)
	require.NoError(t, err)
	return msg
}
