package model

import "gorm.io/gorm/schema"

// Channel is a provider phone line owned by the tenant.
type Channel struct {
	ID                string  `json:"id" gorm:"column:id;primaryKey;type:uuid"`
	ProviderChannelID string  `json:"provider_channel_id" gorm:"column:provider_channel_id;not null;uniqueIndex:idx_channels_provider_channel_id"`
	PhoneNumber       string  `json:"phone_number" gorm:"column:phone_number"`
	Alias             *string `json:"alias,omitempty" gorm:"column:alias"`
	Active            bool    `json:"active" gorm:"column:active;not null"`
	Audit
}

func (Channel) TableName(namer schema.Namer) string {
	return namer.TableName("channels")
}

// Label is the human name used in generated titles.
func (c *Channel) Label() string {
	if c == nil {
		return ChannelCodeWhatsApp
	}
	if c.Alias != nil && *c.Alias != "" {
		return *c.Alias
	}
	if c.PhoneNumber != "" {
		return c.PhoneNumber
	}
	return c.ProviderChannelID
}
