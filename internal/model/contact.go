package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

const (
	QualificationNew          = "new"
	QualificationQualified    = "qualified"
	QualificationDisqualified = "disqualified"
)

// Contact is a natural person known to the tenant.
type Contact struct {
	ID                      string                      `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	FullName                string                      `json:"full_name" gorm:"column:full_name;not null"`
	Telephones              datatypes.JSONSlice[string] `json:"telephones" gorm:"column:telephones"`
	Email                   *string                     `json:"email,omitempty" gorm:"column:email"`
	ResponsibleUserID       string                      `json:"responsible_user_id" gorm:"column:responsible_user_id;index"`
	QualificationState      string                      `json:"qualification_state" gorm:"column:qualification_state;not null"`
	Need                    *string                     `json:"need,omitempty" gorm:"column:need"`
	InterestOperationTypeID *int64                      `json:"interest_operation_type_id,omitempty" gorm:"column:interest_operation_type_id"`
	Audit
}

// TableName specifies the table name for the Contact model, respecting the Namer.
func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}

// ContactTelephone is the normalized membership table behind Contact.Telephones.
// A phone belongs to at most one live contact.
type ContactTelephone struct {
	Phone     string    `json:"phone" gorm:"column:phone;primaryKey"`
	ContactID string    `json:"contact_id" gorm:"column:contact_id;type:uuid;not null;index"`
	Position  int       `json:"position" gorm:"column:position;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (ContactTelephone) TableName(namer schema.Namer) string {
	return namer.TableName("contact_telephones")
}

// NormalizePhone strips whitespace and punctuation, keeping digits and a
// leading '+'. Country codes are not rewritten.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	if strings.HasPrefix(raw, "+") {
		b.WriteByte('+')
	}
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
