package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit is embedded by every entity: timestamps, soft delete and the
// optimistic-concurrency version.
type Audit struct {
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
	Version   int64          `json:"version" gorm:"column:version;not null"`
}

// NewID returns a new random entity id.
func NewID() string {
	return uuid.NewString()
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

