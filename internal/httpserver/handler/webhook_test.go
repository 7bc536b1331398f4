package handler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/httpserver"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/httpserver/handler"
	handlermock "gitlab.com/timkado/api/daisi-crm-engine/internal/httpserver/handler/mock"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
)

const testCompanyID = "acme"

func newTestRouter(t *testing.T, register func(r handler.Registrar)) http.Handler {
	t.Helper()
	srv := httpserver.NewServer(httpserver.Config{CompanyID: testCompanyID}, nil, zaptest.NewLogger(t))
	register(srv)
	return srv.Handler()
}

func tenantCtx() interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		id, err := tenant.FromContext(ctx)
		return err == nil && id == testCompanyID
	})
}

func textEnvelope(t *testing.T) []byte {
	t.Helper()
	env := model.NewTextEnvelope("waba-1", "1001", "5491155443322", "Ana", "wamid.IN1", "hola", time.Unix(1700000000, 0))
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSignPayloadMatchesHMAC(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	assert.Equal(t, sign(body, "k"), handler.SignPayload(body, "k"))
	assert.NotEqual(t, sign(body, "k"), handler.SignPayload(body, "other"))
}

func TestWebhookHandler_Verify(t *testing.T) {
	svc := new(handlermock.WebhookServiceMock)
	router := newTestRouter(t, handler.NewWebhookHandler(svc, handler.WebhookConfig{VerifyToken: "s3cret"}).Register)

	testCases := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid handshake", "?hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"wrong token", "?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden, ""},
		{"wrong mode", "?hub.mode=unsubscribe&hub.verify_token=s3cret&hub.challenge=1", http.StatusForbidden, ""},
		{"no parameters", "", http.StatusForbidden, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, handler.WebhookPath+tc.query, nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantBody != "" {
				assert.Equal(t, tc.wantBody, rec.Body.String())
			}
		})
	}
}

func TestWebhookHandler_ReceiveRecordsThenProcesses(t *testing.T) {
	body := textEnvelope(t)
	svc := new(handlermock.WebhookServiceMock)
	svc.On("RecordWebhook", tenantCtx(), model.WebhookEventMessages, body).Return("log-1", nil).Once()
	svc.On("ProcessRecordedWebhook", tenantCtx(), "log-1", model.WebhookEventMessages, body).Return(nil).Once()

	router := newTestRouter(t, handler.NewWebhookHandler(svc, handler.WebhookConfig{SoftBudget: time.Second}).Register)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, handler.WebhookPath, bytes.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"received","webhook_log_id":"log-1"}`, rec.Body.String())
	svc.AssertExpectations(t)
}

func TestWebhookHandler_ItemErrorsStillAcknowledge(t *testing.T) {
	body := textEnvelope(t)
	svc := new(handlermock.WebhookServiceMock)
	svc.On("RecordWebhook", mock.Anything, mock.Anything, body).Return("log-2", nil)
	svc.On("ProcessRecordedWebhook", mock.Anything, "log-2", mock.Anything, body).Return(errors.New("unknown channel"))

	router := newTestRouter(t, handler.NewWebhookHandler(svc, handler.WebhookConfig{}).Register)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, handler.WebhookPath, bytes.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookHandler_SoftBudgetExceeded(t *testing.T) {
	body := textEnvelope(t)
	release := make(chan struct{})
	finished := make(chan context.Context, 1)

	svc := new(handlermock.WebhookServiceMock)
	svc.On("RecordWebhook", mock.Anything, mock.Anything, body).Return("log-3", nil)
	svc.On("ProcessRecordedWebhook", mock.Anything, "log-3", mock.Anything, body).
		Run(func(args mock.Arguments) {
			<-release
			finished <- args.Get(0).(context.Context)
		}).
		Return(nil)

	router := newTestRouter(t, handler.NewWebhookHandler(svc, handler.WebhookConfig{SoftBudget: 20 * time.Millisecond}).Register)
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, handler.WebhookPath, bytes.NewReader(body)).WithContext(ctx))
	cancel()

	assert.Equal(t, http.StatusOK, rec.Code)

	close(release)
	select {
	case procCtx := <-finished:
		assert.NoError(t, procCtx.Err(), "background processing must survive the request")
		id, err := tenant.FromContext(procCtx)
		require.NoError(t, err)
		assert.Equal(t, testCompanyID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("background processing did not finish")
	}
}

func TestWebhookHandler_RecordFailureIs500(t *testing.T) {
	body := textEnvelope(t)
	svc := new(handlermock.WebhookServiceMock)
	svc.On("RecordWebhook", mock.Anything, mock.Anything, body).Return("", errors.New("database error"))

	router := newTestRouter(t, handler.NewWebhookHandler(svc, handler.WebhookConfig{}).Register)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, handler.WebhookPath, bytes.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	svc.AssertNotCalled(t, "ProcessRecordedWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_OversizedEnvelopeIsRecordedAsRejected(t *testing.T) {
	body := append([]byte(`{"object":"whatsapp_business_account","padding":"`), bytes.Repeat([]byte("x"), 4<<20)...)
	body = append(body, `"}`...)

	svc := new(handlermock.WebhookServiceMock)
	svc.On("RecordRejectedWebhook", tenantCtx(), int64(len(body)), mock.MatchedBy(func(reason string) bool {
		return strings.HasPrefix(reason, "envelope too large")
	})).Return("log-big", nil).Once()

	router := newTestRouter(t, handler.NewWebhookHandler(svc, handler.WebhookConfig{}).Register)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, handler.WebhookPath, bytes.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"rejected","webhook_log_id":"log-big"}`, rec.Body.String())
	svc.AssertExpectations(t)
	svc.AssertNotCalled(t, "RecordWebhook", mock.Anything, mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "ProcessRecordedWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_Signature(t *testing.T) {
	const secret = "app-secret"
	body := textEnvelope(t)

	testCases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid signature", sign(body, secret), http.StatusOK},
		{"signed with another secret", sign(body, "other"), http.StatusForbidden},
		{"missing header", "", http.StatusForbidden},
		{"not hex", "sha256=zz", http.StatusForbidden},
		{"wrong prefix", "sha1=abcd", http.StatusForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(handlermock.WebhookServiceMock)
			svc.On("RecordWebhook", mock.Anything, mock.Anything, body).Return("log-4", nil).Maybe()
			svc.On("ProcessRecordedWebhook", mock.Anything, "log-4", mock.Anything, body).Return(nil).Maybe()

			router := newTestRouter(t, handler.NewWebhookHandler(svc, handler.WebhookConfig{AppSecret: secret}).Register)
			req := httptest.NewRequest(http.MethodPost, handler.WebhookPath, bytes.NewReader(body))
			if tc.header != "" {
				req.Header.Set(handler.SignatureHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusForbidden {
				svc.AssertNotCalled(t, "RecordWebhook", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}
