package models

import "time"

// CacheEntry stores a previously computed chat answer.
type CacheEntry struct {
	Key       string    `json:"key"`
	Answer    string    `json:"answer"`
	Model     string    `json:"model"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	Hits      int64     `json:"hits"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries             int64   `json:"entries"`
	Hits                int64   `json:"hits"`
	Misses              int64   `json:"misses"`
	Evictions           int64   `json:"evictions"`
	HitRate             float64 `json:"hit_rate"`
	EstimatedSavingsUSD float64 `json:"estimated_savings_usd"`
}

// CacheInfo is CacheStats plus the configured bounds.
type CacheInfo struct {
	CacheStats
	TTL           time.Duration `json:"ttl"`
	MaxSize       int           `json:"max_size"`
	SweepInterval time.Duration `json:"sweep_interval"`
}
