package chain

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"chainweaver/internal/attr"
	"chainweaver/internal/registry"
	"chainweaver/internal/telemetry"
)

// Cache memoizes a Finder by the content of its query. Concurrent identical
// queries share one search. Definitions are part of the query down to their
// action parameters and execution flags, so cached chains only carry steps
// that would execute the same way.
type Cache struct {
	finder  *Finder
	Metrics *telemetry.Metrics

	flight   singleflight.Group
	mu       sync.RWMutex
	results  map[string][]Solution
	searches atomic.Int64
}

func NewCache(finder *Finder) *Cache {
	return &Cache{finder: finder, results: make(map[string][]Solution)}
}

// Find is Finder.Find with memoization. The returned slice belongs to the
// caller; source indices refer to the caller's sources.
func (c *Cache) Find(sources []*attr.Set, requested *attr.Set, defs []*registry.Definition) []Solution {
	key := queryKey(sources, requested, defs)

	c.mu.RLock()
	cached, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		c.Metrics.ChainCacheHit()
		return clone(cached)
	}

	v, _, _ := c.flight.Do(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.results[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		c.searches.Add(1)
		c.Metrics.ChainSearch()
		found := c.finder.Find(sources, requested, defs)
		c.mu.Lock()
		c.results[key] = found
		c.mu.Unlock()
		return found, nil
	})
	return clone(v.([]Solution))
}

// Searches is the number of searches the cache has run.
func (c *Cache) Searches() int64 { return c.searches.Load() }

func clone(in []Solution) []Solution {
	if in == nil {
		return nil
	}
	out := make([]Solution, len(in))
	copy(out, in)
	return out
}

func queryKey(sources []*attr.Set, requested *attr.Set, defs []*registry.Definition) string {
	var b strings.Builder
	field := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	field(requested.Key())
	b.WriteString(strconv.Itoa(len(sources)))
	for _, s := range sources {
		field(s.Key())
	}
	b.WriteString(strconv.Itoa(len(defs)))
	for _, d := range defs {
		field(d.Name)
		field(d.ActionIdentity())
		if d.Action != nil {
			field(d.Action.SecondaryInputHash())
		}
		field(d.From.Key())
		field(d.To.Key())
		field(fmt.Sprintf("%t,%t,%t,%s", d.RequiresDependencies, d.Incremental, d.Cacheable, d.Normalization))
	}
	return b.String()
}
