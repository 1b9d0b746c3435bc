// Package memory is the in-process response cache.
//
// Each process owns its own Cache. Entries expire after a TTL and the store
// is bounded: when full, the entry with the fewest hits is evicted. That
// keeps popular answers around but ignores recency, so it is not an LRU.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/metrics"
	"github.com/pario-ai/governor/pkg/models"
)

// SavingsPerHitUSD is the assumed cost of the paid call a cache hit avoids.
var SavingsPerHitUSD = decimal.RequireFromString("0.002")

// keySep is the ASCII unit separator joining fingerprint components.
const keySep = "\x1f"

// Cache maps request fingerprints to answers.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry

	ttl           time.Duration
	maxSize       int
	sweepInterval time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	logger zerolog.Logger
	now    func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used by the sweeper.
func WithLogger(l zerolog.Logger) Option { return func(c *Cache) { c.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New creates a Cache. Non-positive bounds fall back to the defaults.
func New(cfg config.CacheConfig, opts ...Option) *Cache {
	def := config.Default().Cache
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	c := &Cache{
		entries:       make(map[string]*models.CacheEntry),
		ttl:           cfg.TTL,
		maxSize:       cfg.MaxSize,
		sweepInterval: cfg.SweepInterval,
		logger:        zerolog.Nop(),
		now:           time.Now,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "cache").Logger()
	return c
}

// Fingerprint derives the cache key for a request. The message is trimmed,
// lowercased and has its whitespace collapsed, so casing and spacing do not
// change the key.
func Fingerprint(tenantID, message, page, buildingID, unitID string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	raw := strings.Join([]string{tenantID, page, buildingID, unitID, normalized}, keySep)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get returns the entry stored under key if it is younger than the TTL.
// Expired entries are removed on sight and count as misses.
func (c *Cache) Get(key string) (models.CacheEntry, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.now().Sub(e.CreatedAt) >= c.ttl {
		delete(c.entries, key)
		c.mu.Unlock()
		c.evictions.Add(1)
		c.misses.Add(1)
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		return models.CacheEntry{}, false
	}
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return models.CacheEntry{}, false
	}
	e.Hits++
	out := *e
	c.mu.Unlock()

	c.hits.Add(1)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return out, true
}

// Set stores answer under key with a fresh timestamp and zero hits. When the
// cache is full and key is new, the entry with the fewest hits is evicted
// first; ties go to whichever the map yields first.
func (c *Cache) Set(key, answer, model string, tier models.Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLowestHitsLocked()
	}
	c.entries[key] = &models.CacheEntry{
		Key:       key,
		Answer:    answer,
		Model:     model,
		Tier:      tier,
		CreatedAt: c.now(),
	}
}

func (c *Cache) evictLowestHitsLocked() {
	var victim string
	lowest := int64(-1)
	for k, e := range c.entries {
		if lowest < 0 || e.Hits < lowest {
			victim, lowest = k, e.Hits
		}
	}
	if lowest < 0 {
		return
	}
	delete(c.entries, victim)
	c.evictions.Add(1)
	metrics.CacheEvictions.WithLabelValues("size").Inc()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.CacheEvictions.WithLabelValues("ttl").Add(float64(removed))
		c.logger.Debug().Int("removed", removed).Msg("cache sweep")
	}
	return removed
}

// Start launches the background sweeper. It is a no-op after the first call.
func (c *Cache) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.sweepLoop()
	})
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Close stops the sweeper.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return models.CacheStats{
		Entries:             int64(c.Len()),
		Hits:                hits,
		Misses:              misses,
		Evictions:           c.evictions.Load(),
		HitRate:             rate,
		EstimatedSavingsUSD: SavingsPerHitUSD.Mul(decimal.NewFromInt(hits)).InexactFloat64(),
	}
}

// Info returns Stats together with the configured bounds.
func (c *Cache) Info() models.CacheInfo {
	return models.CacheInfo{
		CacheStats:    c.Stats(),
		TTL:           c.ttl,
		MaxSize:       c.maxSize,
		SweepInterval: c.sweepInterval,
	}
}
