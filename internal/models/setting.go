package models

import (
	"context"
	"errors"
)

var ErrSettingNotFound = errors.New("setting not found")

// Setting keys used by the pricing cache.
const (
	SettingPricingCacheEnabled = "tld_pricing_cache_enabled"
	SettingPricingCacheTTL     = "tld_pricing_cache_ttl"
)

// Setting is a persisted key/value override that survives restarts.
type Setting struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}

type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
