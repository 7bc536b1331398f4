package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ParkedStatus is a provider status that arrived before its outbound message
// stored the provider id. It is replayed once the send result is written and
// dropped after a day if nothing claims it.
type ParkedStatus struct {
	ID               string                       `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	ExternalOriginID string                       `json:"external_origin_id" gorm:"column:external_origin_id;not null;index"`
	Status           string                       `json:"status" gorm:"column:status;not null"`
	StatusAt         time.Time                    `json:"status_at" gorm:"column:status_at;not null"`
	RecipientID      string                       `json:"recipient_id" gorm:"column:recipient_id"`
	Errors           datatypes.JSONSlice[WAError] `json:"errors" gorm:"column:errors"`
	CreatedAt        time.Time                    `json:"created_at" gorm:"column:created_at;autoCreateTime;index"`
}

func (ParkedStatus) TableName(namer schema.Namer) string {
	return namer.TableName("parked_statuses")
}

// NewParkedStatus parks update under a fresh id.
func NewParkedStatus(update StatusUpdate) *ParkedStatus {
	return &ParkedStatus{
		ID:               NewID(),
		ExternalOriginID: update.ExternalID,
		Status:           update.Status,
		StatusAt:         update.Timestamp,
		RecipientID:      update.RecipientID,
		Errors:           datatypes.JSONSlice[WAError](update.Errors),
	}
}

// Update returns the status as it was reported.
func (p ParkedStatus) Update() StatusUpdate {
	return StatusUpdate{
		ExternalID:  p.ExternalOriginID,
		Status:      p.Status,
		Timestamp:   p.StatusAt,
		RecipientID: p.RecipientID,
		Errors:      []WAError(p.Errors),
	}
}
