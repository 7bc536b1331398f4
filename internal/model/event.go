package model

import (
	"time"

	"gorm.io/gorm/schema"
)

const (
	EventStatePending    = "pending"
	EventStateRealized   = "realized"
	EventStateCancelled  = "cancelled"
	EventStateReschedule = "reschedule"
)

var eventEdges = map[string][]string{
	EventStatePending:    {EventStateRealized, EventStateCancelled, EventStateReschedule},
	EventStateReschedule: {EventStatePending, EventStateRealized, EventStateCancelled},
}

// Event is an activity (call, visit, task...) on an opportunity's timeline.
type Event struct {
	ID             string     `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	OpportunityID  string     `json:"opportunity_id" gorm:"column:opportunity_id;type:uuid;not null;index"`
	ContactID      *string    `json:"contact_id,omitempty" gorm:"column:contact_id;type:uuid;index"`
	KindID         int64      `json:"kind_id" gorm:"column:kind_id;not null"`
	ReasonID       *int64     `json:"reason_id,omitempty" gorm:"column:reason_id"`
	Title          string     `json:"title" gorm:"column:title;not null"`
	Description    *string    `json:"description,omitempty" gorm:"column:description"`
	EventTime      *time.Time `json:"event_time,omitempty" gorm:"column:event_time"`
	Result         *string    `json:"result,omitempty" gorm:"column:result"`
	EventState     string     `json:"event_state" gorm:"column:event_state;not null"`
	StateDate      time.Time  `json:"state_date" gorm:"column:state_date;not null"`
	AssigneeUserID string     `json:"assignee_user_id" gorm:"column:assignee_user_id"`
	Audit
}

func (Event) TableName(namer schema.Namer) string {
	return namer.TableName("events")
}

func IsEventState(s string) bool {
	switch s {
	case EventStatePending, EventStateRealized, EventStateCancelled, EventStateReschedule:
		return true
	}
	return false
}

// CanTransitionEvent reports whether from → to is allowed. realized and
// cancelled are terminal.
func CanTransitionEvent(from, to string) bool {
	for _, next := range eventEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventStateRequiresResult is true for the states that close or move an activity.
func EventStateRequiresResult(s string) bool {
	return s == EventStateRealized || s == EventStateCancelled || s == EventStateReschedule
}
