package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyDeterministic(t *testing.T) {
	cache := NewDecisionCache(nil, 0)

	a := provenNiche(1, "Car Mounts")
	b := weakNiche(2, "Phone Cases")

	key1 := cache.Key([]NicheMetrics{a, b}, 10000)
	key2 := cache.Key([]NicheMetrics{b, a}, 10000)
	assert.Equal(t, key1, key2, "key must not depend on niche order")
	assert.Len(t, key1, 16)

	assert.NotEqual(t, key1, cache.Key([]NicheMetrics{a, b}, 9999))

	changed := b
	changed.TotalRuns++
	assert.NotEqual(t, key1, cache.Key([]NicheMetrics{a, changed}, 10000))
}

func TestCacheMemoryRoundTrip(t *testing.T) {
	cache := NewDecisionCache(nil, time.Hour)

	decision := Decision{CycleID: "cycle_20260820_120000_abc123", BudgetTotal: 5000}
	cache.Set(context.Background(), "k1", decision)

	got := cache.Get(context.Background(), "k1")
	require.NotNil(t, got)
	assert.Equal(t, decision.CycleID, got.CycleID)
	assert.Equal(t, 5000, got.BudgetTotal)

	assert.Nil(t, cache.Get(context.Background(), "missing"))
}

func TestCacheMemoryExpiry(t *testing.T) {
	cache := NewDecisionCache(nil, time.Hour)

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }
	cache.Set(context.Background(), "k1", Decision{CycleID: "c1"})

	cache.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.Nil(t, cache.Get(context.Background(), "k1"))
}
