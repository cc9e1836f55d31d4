package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/chestguard/chestguard/internal/detection"
)

// DefaultResultsTTL bounds how long a history read is served from memory.
const DefaultResultsTTL = 5 * time.Minute

// ResultsCache holds GET /detections responses keyed by MR number. It is a
// detection side channel: every stored detection evicts its patient.
//
// Each MR number carries a generation that Invalidate bumps. A reader takes
// the generation before loading from the database and stores through
// SetIfCurrent, so a history loaded before an append is never cached after
// that append's eviction.
type ResultsCache struct {
	c *cache.Cache

	mu          sync.Mutex
	generations map[string]uint64
}

// NewResultsCache returns a cache with the given TTL.
func NewResultsCache(ttl time.Duration) *ResultsCache {
	return &ResultsCache{
		c:           cache.New(ttl, 2*ttl),
		generations: make(map[string]uint64),
	}
}

func cacheKey(mrNo string) string {
	return "history:" + strings.TrimSpace(mrNo)
}

// Get returns the cached payload for mrNo.
func (rc *ResultsCache) Get(mrNo string) (*HistoryData, bool) {
	v, ok := rc.c.Get(cacheKey(mrNo))
	if !ok {
		return nil, false
	}
	data, ok := v.(*HistoryData)
	return data, ok
}

// Set stores data for mrNo unconditionally.
func (rc *ResultsCache) Set(mrNo string, data *HistoryData) {
	rc.c.SetDefault(cacheKey(mrNo), data)
}

// Generation returns the current invalidation generation for mrNo.
func (rc *ResultsCache) Generation(mrNo string) uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.generations[cacheKey(mrNo)]
}

// SetIfCurrent stores data only when mrNo has not been invalidated since
// generation gen was read. It reports whether data was stored.
func (rc *ResultsCache) SetIfCurrent(mrNo string, gen uint64, data *HistoryData) bool {
	key := cacheKey(mrNo)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.generations[key] != gen {
		return false
	}
	rc.c.SetDefault(key, data)
	return true
}

// Invalidate drops mrNo and bumps its generation.
func (rc *ResultsCache) Invalidate(mrNo string) {
	key := cacheKey(mrNo)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.generations[key]++
	rc.c.Delete(key)
}

// Flush drops everything. Generations are kept so in-flight reads still
// observe earlier invalidations.
func (rc *ResultsCache) Flush() {
	rc.c.Flush()
}

// Name implements detection.Observer.
func (rc *ResultsCache) Name() string { return "results_cache" }

// Observe implements detection.Observer.
func (rc *ResultsCache) Observe(_ context.Context, ev *detection.Event) error {
	rc.Invalidate(ev.MRNo)
	return nil
}
