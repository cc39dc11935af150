package deps

import (
	"context"
	"sync"
)

// ProjectLocks serializes access to each project's mutable state. Locks are
// reentrant through the context: a function already running under a
// project's lock may take it again without blocking.
type ProjectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewProjectLocks() *ProjectLocks {
	return &ProjectLocks{locks: make(map[string]*sync.Mutex)}
}

type heldKey struct{}

type held struct {
	parent  *held
	project string
}

func (h *held) has(project string) bool {
	for cur := h; cur != nil; cur = cur.parent {
		if cur.project == project {
			return true
		}
	}
	return false
}

// Holds reports whether ctx runs under the lock of project.
func Holds(ctx context.Context, project string) bool {
	h, _ := ctx.Value(heldKey{}).(*held)
	return h.has(project)
}

// WithLock runs fn while holding project's lock. The context passed to fn
// records the lock so nested calls for the same project do not deadlock.
func (l *ProjectLocks) WithLock(ctx context.Context, project string, fn func(context.Context) error) error {
	parent, _ := ctx.Value(heldKey{}).(*held)
	if parent.has(project) {
		return fn(ctx)
	}

	m := l.lock(project)
	m.Lock()
	defer m.Unlock()
	return fn(context.WithValue(ctx, heldKey{}, &held{parent: parent, project: project}))
}

func (l *ProjectLocks) lock(project string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[project]
	if !ok {
		m = &sync.Mutex{}
		l.locks[project] = m
	}
	return m
}
