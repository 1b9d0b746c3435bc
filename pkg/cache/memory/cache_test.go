package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	c := New(config.CacheConfig{TTL: ttl, MaxSize: maxSize}, WithClock(clk.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c, clk
}

func TestFingerprint(t *testing.T) {
	k1 := Fingerprint("t1", "  What is   my balance? ", "dashboard", "b1", "")
	k2 := Fingerprint("t1", "what IS my\tbalance?", "dashboard", "b1", "")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	assert.NotEqual(t, k1, Fingerprint("t2", "what is my balance?", "dashboard", "b1", ""))
	assert.NotEqual(t, k1, Fingerprint("t1", "what is my balance?", "payments", "b1", ""))
	assert.NotEqual(t, k1, Fingerprint("t1", "what is my balance?", "dashboard", "b1", "u1"))
	// components cannot bleed into each other
	assert.NotEqual(t,
		Fingerprint("t1", "x", "ab", "c", ""),
		Fingerprint("t1", "x", "a", "bc", ""))
}

func TestSetThenGet(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	c.Set("k", "hello", "gpt-4o-mini", models.TierCheap)
	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "hello", e.Answer)
	assert.Equal(t, "gpt-4o-mini", e.Model)
	assert.Equal(t, models.TierCheap, e.Tier)
	assert.Equal(t, int64(1), e.Hits)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.InDelta(t, 0.002, stats.EstimatedSavingsUSD, 1e-9)
}

func TestGetAfterTTL(t *testing.T) {
	c, clk := newTestCache(t, time.Hour, 10)

	c.Set("k", "hello", "gpt-4o-mini", models.TierCheap)
	clk.Advance(time.Hour)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
	assert.Zero(t, c.Len(), "expired entry is evicted on lookup")
}

func TestSetOverwritesAndResetsHits(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	c.Set("k", "one", "gpt-4o-mini", models.TierCheap)
	_, _ = c.Get("k")
	c.Set("k", "two", "gpt-4o", models.TierExpensive)

	e, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "two", e.Answer)
	assert.Equal(t, int64(1), e.Hits)
}

func TestEvictsLowestHitCount(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	c.Set("popular", "a", "m", models.TierCheap)
	c.Set("cold", "b", "m", models.TierCheap)
	c.Set("warm", "c", "m", models.TierCheap)
	for range 3 {
		_, _ = c.Get("popular")
	}
	_, _ = c.Get("warm")

	c.Set("new", "d", "m", models.TierCheap)
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get("cold")
	assert.False(t, ok)
	for _, k := range []string{"popular", "warm", "new"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestNeverExceedsMaxSize(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 5)
	for i := range 50 {
		c.Set(fmt.Sprintf("k%d", i), "v", "m", models.TierCheap)
		assert.LessOrEqual(t, c.Len(), 5)
	}
}

func TestSweep(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	c.Set("old", "a", "m", models.TierCheap)
	clk.Advance(45 * time.Second)
	c.Set("fresh", "b", "m", models.TierCheap)
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 20)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				k := fmt.Sprintf("k%d", (i*j)%40)
				c.Set(k, "v", "m", models.TierCheap)
				_, _ = c.Get(k)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 20)
	s := c.Stats()
	assert.Equal(t, int64(8*200), s.Hits+s.Misses)
}

func TestInfoAndDefaults(t *testing.T) {
	c := New(config.CacheConfig{})
	defer c.Close()

	info := c.Info()
	assert.Equal(t, time.Hour, info.TTL)
	assert.Equal(t, 1000, info.MaxSize)
	assert.Equal(t, 5*time.Minute, info.SweepInterval)
	assert.Zero(t, info.HitRate)
}

func TestStartClose(t *testing.T) {
	c := New(config.CacheConfig{SweepInterval: time.Millisecond, TTL: time.Nanosecond, MaxSize: 10})
	c.Set("k", "v", "m", models.TierCheap)
	c.Start()
	c.Start()
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)
	c.Set("k", "v", "m", models.TierCheap)
	c.Clear()
	assert.Zero(t, c.Len())
}
