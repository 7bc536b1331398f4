package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Webhook event types recorded on WebhookLog rows.
const (
	WebhookEventMessages  = "whatsapp.messages"
	WebhookEventStatuses  = "whatsapp.statuses"
	WebhookEventMixed     = "whatsapp.mixed"
	WebhookEventOther     = "whatsapp.other"
	WebhookEventMalformed = "malformed"
	WebhookEventOversized = "oversized"
)

// WebhookLog is the verbatim audit of one inbound envelope and its outcome.
type WebhookLog struct {
	ID             string         `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	EventType      string         `json:"event_type" gorm:"column:event_type;not null;index"`
	Payload        datatypes.JSON `json:"payload" gorm:"column:payload"`
	ResponseStatus *int           `json:"response_status,omitempty" gorm:"column:response_status"`
	ErrorMessage   *string        `json:"error_message,omitempty" gorm:"column:error_message"`
	Processed      bool           `json:"processed" gorm:"column:processed;not null"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"column:received_at;not null;index"`
	Audit
}

func (WebhookLog) TableName(namer schema.Namer) string {
	return namer.TableName("webhook_logs")
}
