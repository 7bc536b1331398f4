package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

const (
	// WebhookPath is the Meta WhatsApp Cloud callback URL.
	WebhookPath = "/webhooks/meta-whatsapp/"

	// SignatureHeader carries the HMAC of the raw body.
	SignatureHeader = "X-Hub-Signature-256"
	maxWebhookBody  = 4 << 20
)

// Registrar is the subset of the HTTP server the handlers mount themselves on.
type Registrar interface {
	HandleFunc(path string, h http.HandlerFunc, methods ...string)
}

// WebhookConfig carries the provider secrets and the processing budget.
type WebhookConfig struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret  string
	SoftBudget time.Duration
}

// WebhookHandler serves the provider verification handshake and envelope delivery.
type WebhookHandler struct {
	service WebhookService
	cfg     WebhookConfig
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service WebhookService, cfg WebhookConfig) *WebhookHandler {
	if cfg.SoftBudget <= 0 {
		cfg.SoftBudget = 10 * time.Second
	}
	return &WebhookHandler{service: service, cfg: cfg}
}

// Register mounts the webhook routes.
func (h *WebhookHandler) Register(r Registrar) {
	r.HandleFunc(WebhookPath, h.Verify, http.MethodGet)
	r.HandleFunc(WebhookPath, h.Receive, http.MethodPost)
}

// Verify answers the subscription handshake with the challenge.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if h.cfg.VerifyToken == "" || mode != "subscribe" || token != h.cfg.VerifyToken {
		logger.FromContext(r.Context()).Warn("Webhook verification rejected", zap.String("mode", mode))
		writeError(w, http.StatusForbidden, "forbidden", "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive records the envelope, then processes it within the soft budget.
// Once the envelope is recorded the provider always gets a 200; processing
// that overruns the budget finishes in the background.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		log.Warn("Failed to read webhook body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if len(body) > maxWebhookBody {
		h.rejectOversized(w, r)
		return
	}

	if h.cfg.AppSecret != "" {
		if ok, reason := verifySignature(r.Header.Get(SignatureHeader), body, h.cfg.AppSecret); !ok {
			log.Warn("Webhook signature rejected", zap.String("reason", reason))
			writeError(w, http.StatusForbidden, "forbidden", "invalid signature")
			return
		}
	}

	eventType := usecase.WebhookEventType(body)
	logID, err := h.service.RecordWebhook(ctx, eventType, body)
	if err != nil {
		log.Error("Failed to record webhook", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record webhook")
		return
	}

	// Processing must outlive the response, so it runs on a detached context.
	bg := tenant.Detach(ctx)
	done := make(chan error, 1)
	process := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return h.service.ProcessRecordedWebhook(ctx, logID, eventType, body)
	})
	utils.SafeGo(func() { done <- process(bg) }, nil)

	timer := time.NewTimer(h.cfg.SoftBudget)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			log.Debug("Webhook acknowledged with item errors", zap.String("webhook_log_id", logID), zap.Error(err))
		}
	case <-timer.C:
		log.Warn("Webhook processing exceeded soft budget, continuing in background",
			zap.String("webhook_log_id", logID),
			zap.Duration("budget", h.cfg.SoftBudget),
		)
	}

	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "received", "webhook_log_id": logID})
}

// rejectOversized logs an envelope larger than maxWebhookBody without its
// content. The provider still gets a 200 so it stops redelivering.
func (h *WebhookHandler) rejectOversized(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	size := r.ContentLength
	if size <= maxWebhookBody {
		size = maxWebhookBody + 1
	}

	reason := fmt.Sprintf("envelope too large: more than %d bytes", maxWebhookBody)
	logID, err := h.service.RecordRejectedWebhook(ctx, size, reason)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to record rejected webhook", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not record webhook")
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "rejected", "webhook_log_id": logID})
}

// verifySignature checks a "sha256=<hex>" HMAC of the raw body.
func verifySignature(header string, body []byte, secret string) (bool, string) {
	if header == "" {
		return false, "missing signature header"
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false, "unexpected signature format"
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false, "signature is not hex"
	}

	if !hmac.Equal(got, signatureMAC(body, secret)) {
		return false, "signature mismatch"
	}
	return true, ""
}

// SignPayload returns the X-Hub-Signature-256 value for body.
func SignPayload(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(signatureMAC(body, secret))
}

func signatureMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
