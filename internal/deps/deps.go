// Package deps resolves the upstream artifacts a transform step consumes.
//
// Resolution is deferred until a step that declares it needs dependencies is
// about to run, and is cached per producing component and the step's from
// attributes.
package deps

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"chainweaver/internal/attr"
	"chainweaver/internal/logging"
)

// Request identifies the upstream artifacts of one component as seen by a
// step accepting From.
type Request struct {
	Component string

	// Project is the producing project path; empty for external components.
	Project string

	From *attr.Set
}

func (r Request) key() string {
	c := r.Component
	return strconv.Itoa(len(c)) + ":" + c + r.From.Key()
}

// Resolver computes upstream artifact paths.
type Resolver interface {
	Resolve(ctx context.Context, req Request) ([]string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, req Request) ([]string, error)

func (f ResolverFunc) Resolve(ctx context.Context, req Request) ([]string, error) {
	return f(ctx, req)
}

// Cache memoizes a Resolver. Concurrent requests for the same key share one
// resolution. Failures are not memoized.
type Cache struct {
	resolver Resolver
	locks    *ProjectLocks

	flight singleflight.Group
	mu     sync.RWMutex
	done   map[string][]string
	calls  atomic.Int64
}

// NewCache wraps r. Requests for project components are resolved while
// holding that project's lock from locks; a nil locks disables locking.
func NewCache(r Resolver, locks *ProjectLocks) *Cache {
	return &Cache{resolver: r, locks: locks, done: make(map[string][]string)}
}

// Dependencies returns the upstream artifacts for req. The returned slice
// belongs to the caller.
func (c *Cache) Dependencies(ctx context.Context, req Request) ([]string, error) {
	if req.From == nil {
		req.From = attr.Empty()
	}
	key := req.key()

	c.mu.RLock()
	files, ok := c.done[key]
	c.mu.RUnlock()
	if ok {
		return append([]string(nil), files...), nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		c.calls.Add(1)
		var files []string
		resolve := func(ctx context.Context) error {
			var err error
			files, err = c.resolver.Resolve(ctx, req)
			return err
		}
		var err error
		if req.Project != "" && c.locks != nil {
			err = c.locks.WithLock(ctx, req.Project, resolve)
		} else {
			err = resolve(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving dependencies of %s: %w", req.Component, err)
		}
		logging.FromContext(ctx).Debug("resolved dependencies",
			"component", req.Component, "from", req.From.String(), "count", len(files))
		c.mu.Lock()
		c.done[key] = files
		c.mu.Unlock()
		return files, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// Resolutions is the number of times the underlying resolver was called.
func (c *Cache) Resolutions() int64 { return c.calls.Load() }

// Upstream is one artifact set a component depends on.
type Upstream struct {
	Attributes *attr.Set
	Files      []string
}

// Static resolves from a fixed table keyed by component. Upstreams whose
// attributes do not match the step's from attributes are skipped; a nil
// Matcher keeps every upstream.
type Static struct {
	Matcher    attr.Matcher
	Components map[string][]Upstream
}

func (s *Static) Resolve(_ context.Context, req Request) ([]string, error) {
	var out []string
	for _, up := range s.Components[req.Component] {
		attrs := up.Attributes
		if attrs == nil {
			attrs = attr.Empty()
		}
		if s.Matcher != nil && !s.Matcher.IsMatching(attrs, req.From) {
			continue
		}
		out = append(out, up.Files...)
	}
	return out, nil
}
