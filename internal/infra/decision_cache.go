package infra

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// decisionCache is an LRU-backed domain.DecisionCache with hit, miss and
// eviction counters.
type decisionCache struct {
	lru       *lru.Cache[string, domain.Verdict]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache always misses; used when size <= 0.
type disabledCache struct{}

// NewDecisionCache creates a verdict cache holding up to size entries.
// A size <= 0 disables caching.
func NewDecisionCache(size int) (domain.DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	var dc decisionCache
	cache, err := lru.NewWithEvict(size, func(_ string, _ domain.Verdict) {
		atomic.AddUint64(&dc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return &dc, nil
}

func (c *decisionCache) Get(key string) (domain.Verdict, bool) {
	if v, ok := c.lru.Get(key); ok {
		atomic.AddUint64(&c.hits, 1)
		return v, true
	}
	atomic.AddUint64(&c.misses, 1)
	return domain.Verdict{}, false
}

func (c *decisionCache) Put(key string, v domain.Verdict) {
	c.lru.Add(key, v)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge drops every entry; each one counts as an eviction.
func (c *decisionCache) Purge() { c.lru.Purge() }

func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledCache) Get(string) (domain.Verdict, bool) { return domain.Verdict{}, false }

func (d *disabledCache) Put(string, domain.Verdict) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ domain.DecisionCache = (*decisionCache)(nil)
var _ domain.DecisionCache = (*disabledCache)(nil)
