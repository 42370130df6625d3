package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	cachePrefix     = "strategy:decision"
	cacheKeyVersion = "v1.0"
)

// DefaultCacheTTL bounds how long an identical cycle input reuses a
// previous decision.
const DefaultCacheTTL = 24 * time.Hour

type memoryEntry struct {
	cachedAt time.Time
	payload  []byte
}

// DecisionCache caches cycle decisions keyed by their inputs. Redis when
// available, in-memory otherwise; Redis failures degrade to memory.
type DecisionCache struct {
	redis *redis.Client
	ttl   time.Duration

	mu     sync.Mutex
	memory map[string]memoryEntry
	now    func() time.Time
}

// NewDecisionCache creates a cache. A nil client means memory only.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &DecisionCache{
		redis:  client,
		ttl:    ttl,
		memory: make(map[string]memoryEntry),
		now:    time.Now,
	}
}

// Key derives a deterministic key from the decision inputs. Niches are
// sorted by ID and reduced to the fields that change the outcome.
func (c *DecisionCache) Key(niches []NicheMetrics, budget int) string {
	type nicheKey struct {
		ID      int64   `json:"id"`
		Density float64 `json:"density"`
		Value   float64 `json:"value"`
		Runs    int     `json:"runs"`
	}

	entries := make([]nicheKey, 0, len(niches))
	for _, n := range niches {
		entries = append(entries, nicheKey{
			ID:      n.NicheID,
			Density: roundTo(n.Density, 4),
			Value:   roundTo(n.ValuePer1kTokens, 2),
			Runs:    n.TotalRuns,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	input, _ := json.Marshal(struct {
		Niches     []nicheKey `json:"niches"`
		Budget     int        `json:"budget"`
		Thresholds [2]float64 `json:"thresholds"`
		Version    string     `json:"version"`
	}{entries, budget, [2]float64{ExploitThreshold, ExploreThreshold}, cacheKeyVersion})

	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:8])
}

// Get returns the cached decision for the key, or nil.
func (c *DecisionCache) Get(ctx context.Context, key string) *Decision {
	if c.redis != nil {
		payload, err := c.redis.Get(ctx, fmt.Sprintf("%s:%s", cachePrefix, key)).Bytes()
		if err == nil {
			var d Decision
			if err := json.Unmarshal(payload, &d); err == nil {
				return &d
			}
		} else if err != redis.Nil {
			log.Warn().Err(err).Msg("decision cache redis get failed")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.memory[key]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		delete(c.memory, key)
		return nil
	}

	var d Decision
	if err := json.Unmarshal(entry.payload, &d); err != nil {
		return nil
	}
	return &d
}

// Set caches a decision under the key.
func (c *DecisionCache) Set(ctx context.Context, key string, d Decision) {
	payload, err := json.Marshal(d)
	if err != nil {
		return
	}

	if c.redis != nil {
		err := c.redis.Set(ctx, fmt.Sprintf("%s:%s", cachePrefix, key), payload, c.ttl).Err()
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("decision cache redis set failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[key] = memoryEntry{cachedAt: c.now(), payload: payload}
}

func roundTo(v float64, places int) float64 {
	factor := 1.0
	for i := 0; i < places; i++ {
		factor *= 10
	}
	if v >= 0 {
		return float64(int64(v*factor+0.5)) / factor
	}
	return float64(int64(v*factor-0.5)) / factor
}
