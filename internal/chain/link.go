package chain

import (
	"strings"

	"chainweaver/internal/attr"
	"chainweaver/internal/registry"
)

// Link is the last step of a transform chain. Links point backwards, so
// chains found by extending the same prefix share the prefix's links and are
// never copied. A nil *Link is the empty chain.
type Link struct {
	prev  *Link
	attrs *attr.Set
	step  *registry.Definition
	depth int
}

// Append returns a chain that applies step after l and ends with attrs.
// l may be nil.
func (l *Link) Append(step *registry.Definition, attrs *attr.Set) *Link {
	return &Link{prev: l, attrs: attrs, step: step, depth: l.Depth() + 1}
}

func (l *Link) Previous() *Link {
	if l == nil {
		return nil
	}
	return l.prev
}

// Attributes are the attributes after this step.
func (l *Link) Attributes() *attr.Set {
	if l == nil {
		return nil
	}
	return l.attrs
}

func (l *Link) Step() *registry.Definition {
	if l == nil {
		return nil
	}
	return l.step
}

// Depth is the number of steps in the chain.
func (l *Link) Depth() int {
	if l == nil {
		return 0
	}
	return l.depth
}

// Links returns the chain's links in application order.
func (l *Link) Links() []*Link {
	out := make([]*Link, l.Depth())
	for cur := l; cur != nil; cur = cur.prev {
		out[cur.depth-1] = cur
	}
	return out
}

// Steps returns the chain's definitions in application order.
func (l *Link) Steps() []*registry.Definition {
	links := l.Links()
	out := make([]*registry.Definition, len(links))
	for i, link := range links {
		out[i] = link.step
	}
	return out
}

func (l *Link) uses(d *registry.Definition) bool {
	for cur := l; cur != nil; cur = cur.prev {
		if cur.step == d {
			return true
		}
	}
	return false
}

func (l *Link) String() string {
	if l == nil {
		return "(direct)"
	}
	names := make([]string, 0, l.depth)
	for _, d := range l.Steps() {
		names = append(names, d.Name)
	}
	return strings.Join(names, " -> ")
}
