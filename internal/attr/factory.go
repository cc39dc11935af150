package attr

import "sync"

// Factory interns attribute sets for one resolution session. Concatenations
// are memoized so that repeated searches over the same registry reuse the
// same set instances instead of rebuilding them.
//
// A Factory is safe for concurrent use. Sessions that must stay isolated use
// separate factories.
type Factory struct {
	mu       sync.RWMutex
	interned map[string]*Set
	concats  map[concatKey]*Set
}

type concatKey struct {
	left  string
	right string
}

func NewFactory() *Factory {
	return &Factory{
		interned: make(map[string]*Set),
		concats:  make(map[concatKey]*Set),
	}
}

// Intern returns the canonical instance for the content of s.
func (f *Factory) Intern(s *Set) *Set {
	if s.IsEmpty() {
		return empty
	}
	key := s.Key()
	f.mu.RLock()
	got, ok := f.interned[key]
	f.mu.RUnlock()
	if ok {
		return got
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if got, ok := f.interned[key]; ok {
		return got
	}
	f.interned[key] = s
	return s
}

// Concat is Set.Concat with memoization and interning.
func (f *Factory) Concat(left, right *Set) *Set {
	k := concatKey{left: left.Key(), right: right.Key()}
	f.mu.RLock()
	got, ok := f.concats[k]
	f.mu.RUnlock()
	if ok {
		return got
	}
	result := f.Intern(left.Concat(right))
	f.mu.Lock()
	if existing, ok := f.concats[k]; ok {
		result = existing
	} else {
		f.concats[k] = result
	}
	f.mu.Unlock()
	return result
}
