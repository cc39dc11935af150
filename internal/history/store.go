// Package history persists the execution history of mutable transform
// workspaces: the input snapshot seen by the last successful execution and
// the results it produced.
package history

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("history store is closed")

// Entry is the last successful execution recorded for one workspace identity.
type Entry struct {
	// Identity is the workspace identity hash.
	Identity string

	// Transform names the transform, for diagnostics only.
	Transform string

	// InputSnapshot maps relative input file paths to content hashes.
	InputSnapshot map[string]string

	// Results is the encoded results record.
	Results string
}

// Store loads and saves history entries.
type Store interface {
	Load(ctx context.Context, identity string) (*Entry, bool, error)
	Save(ctx context.Context, entry Entry) error
	Remove(ctx context.Context, identity string) error
	Close() error
}

// MemoryStore keeps history in process memory. It is the default when no
// history path is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Load(_ context.Context, identity string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[identity]
	if !ok {
		return nil, false, nil
	}
	cp := copyEntry(e)
	return &cp, true, nil
}

func (s *MemoryStore) Save(_ context.Context, entry Entry) error {
	if entry.Identity == "" {
		return errors.New("history entry identity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Identity] = copyEntry(entry)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, identity)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyEntry(e Entry) Entry {
	snap := make(map[string]string, len(e.InputSnapshot))
	for k, v := range e.InputSnapshot {
		snap[k] = v
	}
	e.InputSnapshot = snap
	return e
}
