package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"namedepot/internal/models"
	"namedepot/internal/registrar"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrPriceNotFound means the extension has no entry in the current price set.
var ErrPriceNotFound = errors.New("no price for extension")

// PricingSource is the upstream the cache refreshes from. The registrar
// client satisfies it.
type PricingSource interface {
	FetchPricing(ctx context.Context) ([]registrar.TLDPrice, error)
}

// PricingSnapshot describes the cache's current state for the admin surface.
type PricingSnapshot struct {
	Enabled    bool      `json:"enabled"`
	TTLMinutes int       `json:"ttl_minutes"`
	Entries    int       `json:"entries"`
	CachedAt   time.Time `json:"cached_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Source     string    `json:"source"`
}

// PricingCache is a process-local TTL cache over the upstream TLD price
// table. The TTL and enabled flag are persisted settings, so admin changes
// survive restarts and take effect without one. Concurrent refreshes
// collapse to a single upstream fetch.
type PricingCache struct {
	settings   models.SettingRepository
	source     PricingSource
	clock      func() time.Time
	defaultTTL time.Duration
	group      singleflight.Group
	log        *logrus.Entry

	mu          sync.RWMutex
	entries     map[string]registrar.TLDPrice
	cachedAt    time.Time
	expiresAt   time.Time
	sourceLabel string
}

func NewPricingCache(settings models.SettingRepository, source PricingSource, defaultTTL time.Duration, clock func() time.Time) *PricingCache {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &PricingCache{
		settings:   settings,
		source:     source,
		clock:      clock,
		defaultTTL: defaultTTL,
		log:        logrus.WithField("component", "pricing"),
	}
}

// GetPrice serves the extension's entry from memory while the cache is
// enabled and fresh; otherwise it refreshes synchronously first. tld may be
// given with or without the leading dot.
func (c *PricingCache) GetPrice(ctx context.Context, tld string) (*registrar.TLDPrice, error) {
	key := normalizeTLD(tld)

	if c.Enabled(ctx) {
		c.mu.RLock()
		fresh := c.entries != nil && c.clock().Before(c.expiresAt)
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if fresh {
			if !ok {
				return nil, errors.Wrap(ErrPriceNotFound, key)
			}
			return &entry, nil
		}
	}

	entries, err := c.refresh(ctx, "upstream")
	if err != nil {
		return nil, err
	}
	entry, ok := entries[key]
	if !ok {
		return nil, errors.Wrap(ErrPriceNotFound, key)
	}
	return &entry, nil
}

// Refresh forces a fetch from the upstream source and returns the new set.
func (c *PricingCache) Refresh(ctx context.Context) ([]registrar.TLDPrice, error) {
	entries, err := c.refresh(ctx, "manual refresh")
	if err != nil {
		return nil, err
	}
	out := make([]registrar.TLDPrice, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out, nil
}

// refresh collapses concurrent callers onto one upstream fetch. The TTL is
// re-read from the persisted setting each time, so a changed TTL applies to
// the very next refresh. A disabled cache still fetches but discards the
// result set instead of storing it.
func (c *PricingCache) refresh(ctx context.Context, label string) (map[string]registrar.TLDPrice, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		prices, err := c.source.FetchPricing(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "fetch pricing")
		}

		entries := make(map[string]registrar.TLDPrice, len(prices))
		for _, p := range prices {
			entries[normalizeTLD(p.Extension)] = p
		}

		now := c.clock()
		ttl := c.ttl(ctx)

		c.mu.Lock()
		if c.Enabled(ctx) {
			c.entries = entries
			c.cachedAt = now
			c.expiresAt = now.Add(ttl)
			c.sourceLabel = label
		} else {
			c.entries = nil
		}
		c.mu.Unlock()

		c.log.WithFields(logrus.Fields{"entries": len(entries), "ttl": ttl}).Info("pricing refreshed")
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]registrar.TLDPrice), nil
}

// Purge drops the in-memory entries without fetching; the next read
// triggers a refresh.
func (c *PricingCache) Purge() {
	c.mu.Lock()
	c.entries = nil
	c.cachedAt = time.Time{}
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// SetTTL persists the TTL and recomputes the current expiry from it, so the
// change takes effect immediately.
func (c *PricingCache) SetTTL(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return errors.Errorf("ttl must be positive, got %d", minutes)
	}
	if err := c.settings.Set(ctx, models.SettingPricingCacheTTL, strconv.Itoa(minutes)); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.cachedAt.IsZero() {
		c.expiresAt = c.cachedAt.Add(time.Duration(minutes) * time.Minute)
	}
	c.mu.Unlock()
	return nil
}

// SetEnabled persists the flag. Disabling purges immediately so no stale
// entry can be served while the cache is off.
func (c *PricingCache) SetEnabled(ctx context.Context, enabled bool) error {
	if err := c.settings.Set(ctx, models.SettingPricingCacheEnabled, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	if !enabled {
		c.Purge()
	}
	return nil
}

// Enabled reads the persisted flag, defaulting to true when unset.
func (c *PricingCache) Enabled(ctx context.Context) bool {
	v, err := c.settings.Get(ctx, models.SettingPricingCacheEnabled)
	if err != nil {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return enabled
}

func (c *PricingCache) ttl(ctx context.Context) time.Duration {
	v, err := c.settings.Get(ctx, models.SettingPricingCacheTTL)
	if err == nil {
		if minutes, perr := strconv.Atoi(v); perr == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return c.defaultTTL
}

// Snapshot reports cache state for the admin surface.
func (c *PricingCache) Snapshot(ctx context.Context) PricingSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return PricingSnapshot{
		Enabled:    c.Enabled(ctx),
		TTLMinutes: int(c.ttl(ctx) / time.Minute),
		Entries:    len(c.entries),
		CachedAt:   c.cachedAt,
		ExpiresAt:  c.expiresAt,
		Source:     c.sourceLabel,
	}
}

func normalizeTLD(tld string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tld)), ".")
}
