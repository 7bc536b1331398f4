package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	ChannelCodeWhatsApp = "whatsapp"
	ChannelCodeEmail    = "email"
	ChannelCodeSocial   = "social"
	ChannelCodeOther    = "other"
)

// Message states. Inbound rows use new/received/discarded, outbound rows use
// pending_send/sent/error_send.
const (
	MessageStateNew         = "new"
	MessageStateReceived    = "received"
	MessageStateDiscarded   = "discarded"
	MessageStatePendingSend = "pending_send"
	MessageStateSent        = "sent"
	MessageStateErrorSend   = "error_send"
)

const (
	ProviderStateQueued    = "queued"
	ProviderStateSent      = "sent"
	ProviderStateDelivered = "delivered"
	ProviderStateRead      = "read"
	ProviderStateFailed    = "failed"
)

// Attachment is the media metadata carried by an inbound provider message.
type Attachment struct {
	Type     string `json:"type"`
	MediaID  string `json:"media_id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Message is one logical communication, inbound or outbound.
type Message struct {
	ID               string                          `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	Direction        string                          `json:"direction" gorm:"column:direction;not null"`
	ChannelCode      string                          `json:"channel_code" gorm:"column:channel_code;not null"`
	ContactID        *string                         `json:"contact_id,omitempty" gorm:"column:contact_id;type:uuid;index"`
	ContactReference *string                         `json:"contact_reference,omitempty" gorm:"column:contact_reference;index"`
	OpportunityID    *string                         `json:"opportunity_id,omitempty" gorm:"column:opportunity_id;type:uuid;index"`
	ChannelID        *string                         `json:"channel_id,omitempty" gorm:"column:channel_id;type:uuid;index"`
	State            string                          `json:"state" gorm:"column:state;not null"`
	ProviderState    *string                         `json:"provider_state,omitempty" gorm:"column:provider_state"`
	ProviderStateAt  *time.Time                      `json:"provider_state_at,omitempty" gorm:"column:provider_state_at"`
	ExternalOriginID *string                         `json:"external_origin_id,omitempty" gorm:"column:external_origin_id;uniqueIndex:idx_messages_external_origin_id"`
	Subject          *string                         `json:"subject,omitempty" gorm:"column:subject"`
	Body             *string                         `json:"body,omitempty" gorm:"column:body"`
	Attachments      datatypes.JSONSlice[Attachment] `json:"attachments" gorm:"column:attachments"`
	Metadata         datatypes.JSONMap               `json:"metadata" gorm:"column:metadata"`
	MessageTime      time.Time                       `json:"message_time" gorm:"column:message_time;not null;index"`
	Priority         int                             `json:"priority" gorm:"column:priority;not null"`

	// Delivery summary behind provider_state; see ProviderStatus.
	ProviderSuccessState *string    `json:"-" gorm:"column:provider_success_state"`
	ProviderSuccessAt    *time.Time `json:"-" gorm:"column:provider_success_at"`
	ProviderFailedAt     *time.Time `json:"-" gorm:"column:provider_failed_at"`

	Audit
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}

// Validate checks the direction/state pairing and the contact reference rule.
func (m *Message) Validate() error {
	switch m.Direction {
	case DirectionInbound:
		switch m.State {
		case MessageStateNew, MessageStateReceived, MessageStateDiscarded:
		default:
			return fmt.Errorf("inbound message cannot be in state %q", m.State)
		}
	case DirectionOutbound:
		switch m.State {
		case MessageStatePendingSend, MessageStateSent, MessageStateErrorSend:
		default:
			return fmt.Errorf("outbound message cannot be in state %q", m.State)
		}
	default:
		return fmt.Errorf("unknown direction %q", m.Direction)
	}
	if m.ContactID == nil && (m.ContactReference == nil || *m.ContactReference == "") {
		return fmt.Errorf("message needs contact_id or contact_reference")
	}
	return nil
}

// MergeMetadata sets key on the metadata map, allocating it if needed.
func (m *Message) MergeMetadata(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = datatypes.JSONMap{}
	}
	m.Metadata[key] = value
}

var providerStateRank = map[string]int{
	ProviderStateQueued:    1,
	ProviderStateSent:      2,
	ProviderStateDelivered: 3,
	ProviderStateRead:      4,
}

// IsProviderState reports whether s is a known provider delivery state.
func IsProviderState(s string) bool {
	_, ok := providerStateRank[s]
	return ok || s == ProviderStateFailed
}

// ProviderStatus folds every delivery status reported for an outbound message
// into three values that only move forward: the highest success state, the
// latest success timestamp and the latest failure timestamp. Folding the same
// statuses in any order yields the same summary.
type ProviderStatus struct {
	SuccessState *string
	SuccessAt    *time.Time
	FailedAt     *time.Time
}

// Merge folds one provider status into s and reports whether s changed.
// Unknown statuses are ignored.
func (s *ProviderStatus) Merge(status string, at time.Time) bool {
	if status == ProviderStateFailed {
		if s.FailedAt != nil && !at.After(*s.FailedAt) {
			return false
		}
		s.FailedAt = &at
		return true
	}

	rank, ok := providerStateRank[status]
	if !ok {
		return false
	}
	changed := false
	if s.SuccessState == nil || rank > providerStateRank[*s.SuccessState] {
		s.SuccessState = StringPtr(status)
		changed = true
	}
	if s.SuccessAt == nil || at.After(*s.SuccessAt) {
		s.SuccessAt = &at
		changed = true
	}
	return changed
}

// Failed reports whether the latest failure is no older than the latest
// success. Provider timestamps have second precision, so a tie goes to the
// failure.
func (s ProviderStatus) Failed() bool {
	return s.FailedAt != nil && (s.SuccessAt == nil || !s.SuccessAt.After(*s.FailedAt))
}

// Current is the provider_state the summary resolves to.
func (s ProviderStatus) Current() string {
	if s.Failed() {
		return ProviderStateFailed
	}
	return Deref(s.SuccessState)
}

// ProviderStatus returns the stored delivery summary. Rows written before the
// summary columns existed are seeded from provider_state.
func (m *Message) ProviderStatus() ProviderStatus {
	s := ProviderStatus{
		SuccessState: m.ProviderSuccessState,
		SuccessAt:    m.ProviderSuccessAt,
		FailedAt:     m.ProviderFailedAt,
	}
	if s.SuccessState != nil || s.FailedAt != nil || m.ProviderState == nil {
		return s
	}
	switch cur := *m.ProviderState; {
	case cur == ProviderStateFailed:
		at := time.Time{}
		if m.ProviderStateAt != nil {
			at = *m.ProviderStateAt
		}
		s.FailedAt = &at
	case IsProviderState(cur):
		s.SuccessState = StringPtr(cur)
		s.SuccessAt = m.ProviderStateAt
	}
	return s
}

// SetProviderStatus stores the summary and derives provider_state, its
// timestamp and, on outbound rows, the lifecycle state.
func (m *Message) SetProviderStatus(s ProviderStatus) {
	m.ProviderSuccessState = s.SuccessState
	m.ProviderSuccessAt = s.SuccessAt
	m.ProviderFailedAt = s.FailedAt

	current := s.Current()
	m.ProviderState = StringPtr(current)
	if s.Failed() {
		m.ProviderStateAt = s.FailedAt
	} else {
		m.ProviderStateAt = s.SuccessAt
	}

	if m.Direction != DirectionOutbound {
		return
	}
	switch current {
	case ProviderStateFailed:
		m.State = MessageStateErrorSend
	case ProviderStateSent, ProviderStateDelivered, ProviderStateRead:
		m.State = MessageStateSent
	}
}
