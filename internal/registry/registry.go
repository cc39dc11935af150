// Package registry holds the ordered list of registered transforms.
//
// Registration order is significant: chain search visits definitions in
// order and disambiguation tie-breaks depend on it.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"chainweaver/internal/attr"
	"chainweaver/internal/core"
)

// Definition is one registered transform.
type Definition struct {
	Name string

	// From is the attribute set the transform accepts; To is merged into the
	// source attributes to describe its result.
	From *attr.Set
	To   *attr.Set

	Action core.Action

	// RequiresDependencies makes the coordinator resolve upstream artifacts
	// before executing this step.
	RequiresDependencies bool

	// Incremental asks for input changes between executions.
	Incremental bool

	// Cacheable is the per-implementation cache switch.
	Cacheable bool

	// Normalization applies to the input path of immutable identities.
	Normalization core.PathNormalization

	index int
}

// Index is the registration position, starting at zero.
func (d *Definition) Index() int { return d.index }

// ActionIdentity is the identity of the definition's action, or its name when
// it has none.
func (d *Definition) ActionIdentity() string {
	if d.Action == nil {
		return d.Name
	}
	return d.Action.Identity()
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s: %s -> %s", d.Name, d.From, d.To)
}

var (
	ErrDuplicateName = errors.New("duplicate transform name")
	ErrNoOp          = errors.New("transform from and to attributes are identical")
)

// Registry is an ordered, append-only list of definitions. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	defs   []*Definition
	byName map[string]*Definition
}

func New() *Registry {
	return &Registry{byName: make(map[string]*Definition)}
}

// Register appends a copy of d and returns the stored definition.
func (r *Registry) Register(d Definition) (*Definition, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, errors.New("transform name is required")
	}
	if d.Action == nil {
		return nil, fmt.Errorf("transform %q: action is required", name)
	}
	if d.From == nil {
		d.From = attr.Empty()
	}
	if d.To == nil || d.To.IsEmpty() {
		return nil, fmt.Errorf("transform %q: to attributes are required", name)
	}
	if d.From.Equal(d.To) {
		return nil, fmt.Errorf("transform %q: %w", name, ErrNoOp)
	}
	if d.Normalization == "" {
		d.Normalization = core.NormalizeAbsolute
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("transform %q: %w", name, ErrDuplicateName)
	}
	d.Name = name
	d.index = len(r.defs)
	stored := d
	r.defs = append(r.defs, &stored)
	r.byName[name] = &stored
	return &stored, nil
}

// Definitions returns the definitions in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
