package model

import (
	"time"

	"gorm.io/gorm/schema"
)

const (
	PropertyStateReceived  = "received"
	PropertyStateInRepair  = "in_repair"
	PropertyStateAvailable = "available"
	PropertyStateExecuted  = "executed"
	PropertyStateWithdrawn = "withdrawn"
)

// Property is a unit owned or occupied by one of the tenant's contacts. The
// engine reads it only to classify new opportunities.
type Property struct {
	ID              string  `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	OperationTypeID int64   `json:"operation_type_id" gorm:"column:operation_type_id;not null"`
	State           string  `json:"state" gorm:"column:state;not null"`
	ContactID       *string `json:"contact_id,omitempty" gorm:"column:contact_id;type:uuid;index"`
	Title           *string `json:"title,omitempty" gorm:"column:title"`
	Audit
}

func (Property) TableName(namer schema.Namer) string {
	return namer.TableName("properties")
}

// TenantSettings overrides the configured tenant defaults at runtime.
type TenantSettings struct {
	CompanyID         string    `json:"company_id" gorm:"column:company_id;primaryKey"`
	BusinessAccountID string    `json:"business_account_id" gorm:"column:business_account_id"`
	AutoCreateChannel bool      `json:"auto_create_channel" gorm:"column:auto_create_channel;not null"`
	PanelWindowDays   int       `json:"panel_window_days" gorm:"column:panel_window_days;not null"`
	CreatedAt         time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (TenantSettings) TableName(namer schema.Namer) string {
	return namer.TableName("tenant_settings")
}
