package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
)

// MaxSettingsTTL bounds how stale tenant settings may become.
const MaxSettingsTTL = 60 * time.Second

// SettingsCache holds tenant settings for a bounded time.
type SettingsCache struct {
	store     *gocache.Cache
	companyID string
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewSettingsCache creates a settings cache. ttl is clamped to MaxSettingsTTL.
func NewSettingsCache(companyID string, ttl time.Duration) *SettingsCache {
	if ttl <= 0 || ttl > MaxSettingsTTL {
		ttl = MaxSettingsTTL
	}
	return &SettingsCache{
		store:     gocache.New(ttl, 2*ttl),
		companyID: companyID,
	}
}

// Get returns a copy of the cached settings for companyID.
func (c *SettingsCache) Get(companyID string) (model.TenantSettings, bool) {
	v, ok := c.store.Get(companyID)
	if !ok {
		c.misses.Add(1)
		observer.IncCacheCheck(c.companyID, "tenant_settings", "miss")
		return model.TenantSettings{}, false
	}
	c.hits.Add(1)
	observer.IncCacheCheck(c.companyID, "tenant_settings", "hit")
	return v.(model.TenantSettings), true
}

func (c *SettingsCache) Set(settings model.TenantSettings) {
	c.store.SetDefault(settings.CompanyID, settings)
}

func (c *SettingsCache) Invalidate(companyID string) {
	c.store.Delete(companyID)
}

// ChannelCache maps provider_channel_id to the stored channel. Entries never
// expire; writers invalidate them.
type ChannelCache struct {
	store     *gocache.Cache
	companyID string
	hits      atomic.Int64
	misses    atomic.Int64
}

func NewChannelCache(companyID string) *ChannelCache {
	return &ChannelCache{
		store:     gocache.New(gocache.NoExpiration, 0),
		companyID: companyID,
	}
}

// Get returns a copy of the cached channel.
func (c *ChannelCache) Get(providerChannelID string) (model.Channel, bool) {
	v, ok := c.store.Get(providerChannelID)
	if !ok {
		c.misses.Add(1)
		observer.IncCacheCheck(c.companyID, "channel", "miss")
		return model.Channel{}, false
	}
	c.hits.Add(1)
	observer.IncCacheCheck(c.companyID, "channel", "hit")
	return v.(model.Channel), true
}

func (c *ChannelCache) Set(channel model.Channel) {
	c.store.Set(channel.ProviderChannelID, channel, gocache.NoExpiration)
}

// Invalidate drops the entry after a channel write.
func (c *ChannelCache) Invalidate(providerChannelID string) {
	c.store.Delete(providerChannelID)
	observer.IncCacheCheck(c.companyID, "channel", "invalidate")
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
	Items   int
}

func (c *SettingsCache) Stats() Stats {
	return newStats(c.hits.Load(), c.misses.Load(), c.store.ItemCount())
}

func (c *ChannelCache) Stats() Stats {
	return newStats(c.hits.Load(), c.misses.Load(), c.store.ItemCount())
}

func newStats(hits, misses int64, items int) Stats {
	total := hits + misses
	rate := float64(0)
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, HitRate: rate, Items: items}
}
