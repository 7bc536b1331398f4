package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

func testContext(t *testing.T) context.Context {
	ctx := tenant.WithCompanyID(context.Background(), "acme")
	return logger.WithLogger(ctx, zaptest.NewLogger(t))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, APIVersion: "v20.0", AccessToken: "tok", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestSendText(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v20.0/1001/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"+5491155443322","wa_id":"5491155443322"}],"messages":[{"id":"wamid.OUT"}]}`))
	})

	resp, err := c.Send(testContext(t), SendRequest{PhoneNumberID: "1001", To: "+5491155443322", Mode: ModeText, Body: "Gracias"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT", resp.MessageID)
	assert.Equal(t, "5491155443322", resp.WaID)

	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, "Gracias", got["text"].(map[string]interface{})["body"])
}

func TestSendTemplate(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.TPL"}]}`))
	})

	resp, err := c.Send(testContext(t), SendRequest{
		PhoneNumberID: "1001", To: "+5491155443322", Mode: ModeTemplate,
		TemplateName: "notif_general", TemplateLanguage: "es_AR",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.TPL", resp.MessageID)

	assert.Equal(t, "template", got["type"])
	tpl := got["template"].(map[string]interface{})
	assert.Equal(t, "notif_general", tpl["name"])
	assert.Equal(t, "es_AR", tpl["language"].(map[string]interface{})["code"])
	assert.NotContains(t, got, "text")
}

func TestSendProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Re-engagement message","type":"OAuthException","code":131047,"error_data":{"details":"outside window"}}}`))
	})

	_, err := c.Send(testContext(t), SendRequest{PhoneNumberID: "1001", To: "+1", Mode: ModeText, Body: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrProvider))

	var perr *apperrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Equal(t, 131047, perr.Code)
	assert.Equal(t, "Re-engagement message", perr.Message)
	assert.Equal(t, "outside window", perr.Details)
}

func TestSendServerErrorWithoutGraphBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := c.Send(testContext(t), SendRequest{PhoneNumberID: "1001", To: "+1", Mode: ModeText, Body: "hi"})
	var perr *apperrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.Equal(t, "upstream down", perr.Message)
}

func TestSendRejectsBadRequests(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called")
	})

	tests := []struct {
		name string
		req  SendRequest
	}{
		{"missing recipient", SendRequest{PhoneNumberID: "1001", Mode: ModeText}},
		{"template without name", SendRequest{PhoneNumberID: "1001", To: "+1", Mode: ModeTemplate}},
		{"unknown mode", SendRequest{PhoneNumberID: "1001", To: "+1", Mode: "audio"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Send(testContext(t), tt.req)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}
