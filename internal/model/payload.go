package model

import (
	"encoding/json"
	"strconv"
	"time"

	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// WebhookEnvelope is one POST body from the WhatsApp Cloud API.
type WebhookEnvelope struct {
	Object string         `json:"object" validate:"required"`
	Entry  []WebhookEntry `json:"entry" validate:"required,dive"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes" validate:"dive"`
}

type WebhookChange struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string         `json:"messaging_product"`
	Metadata         ChangeMetadata `json:"metadata"`
	Contacts         []WAContact    `json:"contacts,omitempty"`
	Messages         []WAMessage    `json:"messages,omitempty"`
	Statuses         []WAStatus     `json:"statuses,omitempty"`
}

type ChangeMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WAContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type WAText struct {
	Body string `json:"body"`
}

type WAMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type WALocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// WAMessage is an inbound provider message. Raw keeps the verbatim fragment.
type WAMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *WAText     `json:"text,omitempty"`
	Image     *WAMedia    `json:"image,omitempty"`
	Document  *WAMedia    `json:"document,omitempty"`
	Audio     *WAMedia    `json:"audio,omitempty"`
	Video     *WAMedia    `json:"video,omitempty"`
	Sticker   *WAMedia    `json:"sticker,omitempty"`
	Location  *WALocation `json:"location,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the message and keeps a copy of the raw fragment.
func (m *WAMessage) UnmarshalJSON(data []byte) error {
	type alias WAMessage
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = WAMessage(a)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Attachments lists the media carried by the message.
func (m *WAMessage) Attachments() []Attachment {
	media := []struct {
		kind string
		m    *WAMedia
	}{
		{"image", m.Image}, {"document", m.Document}, {"audio", m.Audio}, {"video", m.Video}, {"sticker", m.Sticker},
	}
	var out []Attachment
	for _, item := range media {
		if item.m == nil {
			continue
		}
		out = append(out, Attachment{
			Type:     item.kind,
			MediaID:  item.m.ID,
			MimeType: item.m.MimeType,
			SHA256:   item.m.SHA256,
			Caption:  item.m.Caption,
			Filename: item.m.Filename,
		})
	}
	return out
}

// BodyText returns the text body or the media caption.
func (m *WAMessage) BodyText() string {
	if m.Text != nil {
		return m.Text.Body
	}
	for _, a := range m.Attachments() {
		if a.Caption != "" {
			return a.Caption
		}
	}
	return ""
}

type WAError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData struct {
		Details string `json:"details,omitempty"`
	} `json:"error_data,omitempty"`
}

// WAStatus is a delivery status for an outbound message.
type WAStatus struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Timestamp   string    `json:"timestamp"`
	RecipientID string    `json:"recipient_id"`
	Errors      []WAError `json:"errors,omitempty"`
}

// ParseProviderTimestamp converts the provider's unix-seconds string to UTC.
// Unparseable values yield the zero time.
func ParseProviderTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return utils.UnixToTime(sec)
}

// InboundMessage is one provider message ready for reconciliation.
type InboundMessage struct {
	ProviderChannelID  string
	DisplayPhoneNumber string
	From               string
	DisplayName        string
	Message            WAMessage
}

// StatusUpdate is one provider delivery status ready for reconciliation.
type StatusUpdate struct {
	ExternalID  string
	Status      string
	Timestamp   time.Time
	RecipientID string
	Errors      []WAError
}

// ReplyRequest is the body of POST /crm/mensajes/{id}/responder.
type ReplyRequest struct {
	SourceMessageID          string `json:"-" validate:"required"`
	Body                     string `json:"body" validate:"required,max=4096"`
	ContactName              string `json:"contact_name,omitempty" validate:"max=255"`
	TemplateFallbackName     string `json:"template_fallback_name,omitempty" validate:"max=512"`
	TemplateFallbackLanguage string `json:"template_fallback_language,omitempty" validate:"max=16"`
	ActorID                  string `json:"-"`
}

// TransitionRequest asks the engine to move an opportunity to State.
type TransitionRequest struct {
	OpportunityID string `json:"-" validate:"required"`
	State         string `json:"state" validate:"required,oneof=prospect open visit quote reserve won lost"`
	ActorID       string `json:"actor_id,omitempty"`
	Reason        string `json:"reason,omitempty" validate:"max=1024"`
}

// CloseRequest closes an opportunity as won or lost.
type CloseRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=won lost"`
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty" validate:"max=1024"`
}

// CreateEventRequest creates a pending activity on an opportunity.
type CreateEventRequest struct {
	OpportunityID  string     `json:"-" validate:"required"`
	KindID         int64      `json:"kind_id" validate:"required,gt=0"`
	ReasonID       *int64     `json:"reason_id,omitempty"`
	Title          string     `json:"title" validate:"required,max=255"`
	Description    string     `json:"description,omitempty"`
	EventTime      *time.Time `json:"event_time,omitempty"`
	AssigneeUserID string     `json:"assignee_user_id,omitempty"`
}

// EventTransitionRequest moves an activity to another state.
type EventTransitionRequest struct {
	EventID   string     `json:"-" validate:"required"`
	State     string     `json:"state" validate:"required,oneof=pending realized cancelled reschedule"`
	Result    string     `json:"result,omitempty"`
	EventTime *time.Time `json:"event_time,omitempty"`
}
