package model

import "time"

const (
	ActivityKindMessage = "message"
	ActivityKindEvent   = "event"
)

// Criteria reported by the activity query.
const (
	CriterionOpportunity      = "opportunity"
	CriterionContact          = "contact"
	CriterionContactReference = "contact_reference"
)

// ActivityQuery selects a timeline. At least one field must be set.
type ActivityQuery struct {
	MessageID     string
	ContactID     string
	OpportunityID string
}

// ActivityItem is one entry of the merged message/event timeline.
type ActivityItem struct {
	Kind          string    `json:"kind"`
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Summary       string    `json:"summary"`
	State         string    `json:"state"`
	Direction     string    `json:"direction,omitempty"`
	ChannelCode   string    `json:"channel_code,omitempty"`
	KindID        int64     `json:"kind_id,omitempty"`
	OpportunityID string    `json:"opportunity_id,omitempty"`
	ContactID     string    `json:"contact_id,omitempty"`
}

// ActivityTimeline is the response of the activity query.
type ActivityTimeline struct {
	Criterion     string         `json:"criterion"`
	OpportunityID string         `json:"opportunity_id,omitempty"`
	ContactID     string         `json:"contact_id,omitempty"`
	Reference     string         `json:"contact_reference,omitempty"`
	Items         []ActivityItem `json:"items"`
}

// MessageFilter is the fixed set of filters for message listings.
type MessageFilter struct {
	OpportunityID    string
	ContactID        string
	ContactReference string
	Limit            int
}
