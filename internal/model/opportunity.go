package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"
)

const (
	OpportunityStateProspect = "prospect"
	OpportunityStateOpen     = "open"
	OpportunityStateVisit    = "visit"
	OpportunityStateQuote    = "quote"
	OpportunityStateReserve  = "reserve"
	OpportunityStateWon      = "won"
	OpportunityStateLost     = "lost"
)

// opportunityEdges lists the allowed successors of every non-terminal state.
var opportunityEdges = map[string][]string{
	OpportunityStateProspect: {OpportunityStateOpen},
	OpportunityStateOpen:     {OpportunityStateVisit, OpportunityStateLost},
	OpportunityStateVisit:    {OpportunityStateQuote, OpportunityStateLost},
	OpportunityStateQuote:    {OpportunityStateReserve, OpportunityStateLost},
	OpportunityStateReserve:  {OpportunityStateWon, OpportunityStateLost},
}

// Opportunity is a prospective deal tied to one contact.
type Opportunity struct {
	ID                string              `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	ContactID         string              `json:"contact_id" gorm:"column:contact_id;type:uuid;not null;index"`
	ResponsibleUserID string              `json:"responsible_user_id" gorm:"column:responsible_user_id;index"`
	OperationTypeID   *int64              `json:"operation_type_id" gorm:"column:operation_type_id"`
	PropertyID        *string             `json:"property_id,omitempty" gorm:"column:property_id;type:uuid"`
	DevelopmentID     *string             `json:"development_id,omitempty" gorm:"column:development_id"`
	Title             *string             `json:"title,omitempty" gorm:"column:title"`
	Description       *string             `json:"description,omitempty" gorm:"column:description"`
	State             string              `json:"state" gorm:"column:state;not null;index"`
	StateDate         time.Time           `json:"state_date" gorm:"column:state_date;not null"`
	Active            bool                `json:"active" gorm:"column:active;not null"`
	Probability       *int                `json:"probability,omitempty" gorm:"column:probability"`
	Amount            decimal.NullDecimal `json:"amount" gorm:"column:amount;type:numeric(18,2)"`
	CurrencyID        *int64              `json:"currency_id,omitempty" gorm:"column:currency_id"`
	Audit
}

func (Opportunity) TableName(namer schema.Namer) string {
	return namer.TableName("opportunities")
}

// OpportunityStateLog is the audit row written for every opportunity state change.
type OpportunityStateLog struct {
	ID            string    `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	OpportunityID string    `json:"opportunity_id" gorm:"column:opportunity_id;type:uuid;not null;index"`
	FromState     string    `json:"from_state" gorm:"column:from_state"`
	ToState       string    `json:"to_state" gorm:"column:to_state;not null"`
	At            time.Time `json:"at" gorm:"column:at;not null"`
	ActorID       *string   `json:"actor_id,omitempty" gorm:"column:actor_id"`
	Reason        *string   `json:"reason,omitempty" gorm:"column:reason"`
	Audit
}

func (OpportunityStateLog) TableName(namer schema.Namer) string {
	return namer.TableName("opportunity_state_logs")
}

// IsOpportunityState reports whether s names a state of the opportunity graph.
func IsOpportunityState(s string) bool {
	switch s {
	case OpportunityStateProspect, OpportunityStateOpen, OpportunityStateVisit, OpportunityStateQuote,
		OpportunityStateReserve, OpportunityStateWon, OpportunityStateLost:
		return true
	}
	return false
}

// IsTerminalOpportunityState is true for won and lost.
func IsTerminalOpportunityState(s string) bool {
	return s == OpportunityStateWon || s == OpportunityStateLost
}

// CanTransitionOpportunity reports whether from → to is an edge of the graph.
// Self-loops are not edges; callers treat them as no-ops.
func CanTransitionOpportunity(from, to string) bool {
	for _, next := range opportunityEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OpportunityFilter is the fixed set of filters the panel listing accepts.
type OpportunityFilter struct {
	ContactID         string
	ResponsibleUserID string
	State             string
	// ClosedSince includes inactive rows whose state_date is at or after it.
	// A nil value lists only active opportunities.
	ClosedSince *time.Time
	Limit       int
	Offset      int
}
