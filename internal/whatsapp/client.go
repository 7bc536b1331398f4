package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

// Send modes.
const (
	ModeText     = "text"
	ModeTemplate = "template"
)

// Sender delivers one outbound message to the provider.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
}

// SendRequest is one outbound message addressed from a channel to a phone.
type SendRequest struct {
	PhoneNumberID    string
	To               string
	Mode             string
	Body             string
	TemplateName     string
	TemplateLanguage string
}

// SendResponse carries the provider message id of an accepted send.
type SendResponse struct {
	MessageID string
	WaID      string
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type templatePayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
	} `json:"template"`
}

type sendResult struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphErrorBody struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
		ErrorData    struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

// Client talks to the Graph messages endpoint.
type Client struct {
	http       *resty.Client
	apiVersion string
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIVersion  string
	AccessToken string
	Timeout     time.Duration
}

// NewClient creates a provider client. Retries are left to the caller.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("whatsapp baseURL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{http: httpClient, apiVersion: strings.Trim(cfg.APIVersion, "/")}, nil
}

func (c *Client) messagesPath(phoneNumberID string) string {
	if c.apiVersion == "" {
		return fmt.Sprintf("/%s/messages", phoneNumberID)
	}
	return fmt.Sprintf("/%s/%s/messages", c.apiVersion, phoneNumberID)
}

// Send posts a text or template message. A non-2xx answer is returned as an
// *apperrors.ProviderError.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	log := logger.FromContext(ctx)
	companyID, _ := tenant.FromContext(ctx)

	body, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var result sendResult
	var graphErr graphErrorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&graphErr).
		Post(c.messagesPath(req.PhoneNumberID))
	duration := time.Since(start)

	if err != nil {
		observer.ObserveProviderSend(req.Mode, companyID, duration, err)
		log.Error("Provider send request failed",
			zap.String("mode", req.Mode),
			zap.String("phone_number_id", req.PhoneNumberID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, &apperrors.ProviderError{Message: err.Error()}
	}

	if resp.IsError() {
		perr := &apperrors.ProviderError{
			StatusCode: resp.StatusCode(),
			Code:       graphErr.Error.Code,
			Message:    graphErr.Error.Message,
			Details:    graphErr.Error.ErrorData.Details,
		}
		if perr.Message == "" {
			perr.Message = strings.TrimSpace(resp.String())
		}
		observer.ObserveProviderSend(req.Mode, companyID, duration, perr)
		log.Warn("Provider rejected send",
			zap.String("mode", req.Mode),
			zap.Int("status_code", resp.StatusCode()),
			zap.Int("provider_code", perr.Code),
			zap.String("provider_message", perr.Message),
		)
		return nil, perr
	}

	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		perr := &apperrors.ProviderError{StatusCode: resp.StatusCode(), Message: "response carries no message id"}
		observer.ObserveProviderSend(req.Mode, companyID, duration, perr)
		return nil, perr
	}

	observer.ObserveProviderSend(req.Mode, companyID, duration, nil)
	out := &SendResponse{MessageID: result.Messages[0].ID}
	if len(result.Contacts) > 0 {
		out.WaID = result.Contacts[0].WaID
	}
	log.Debug("Provider accepted send",
		zap.String("mode", req.Mode),
		zap.String("provider_message_id", out.MessageID),
		zap.Duration("duration", duration),
	)
	return out, nil
}

func buildPayload(req SendRequest) (interface{}, error) {
	if req.PhoneNumberID == "" || req.To == "" {
		return nil, fmt.Errorf("%w: phone_number_id and recipient are required", apperrors.ErrValidation)
	}
	switch req.Mode {
	case ModeText:
		p := textPayload{MessagingProduct: "whatsapp", RecipientType: "individual", To: req.To, Type: ModeText}
		p.Text.Body = req.Body
		return p, nil
	case ModeTemplate:
		if req.TemplateName == "" {
			return nil, fmt.Errorf("%w: template name is required outside the reply window", apperrors.ErrValidation)
		}
		p := templatePayload{MessagingProduct: "whatsapp", To: req.To, Type: ModeTemplate}
		p.Template.Name = req.TemplateName
		p.Template.Language.Code = req.TemplateLanguage
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown send mode %q", apperrors.ErrValidation, req.Mode)
	}
}
