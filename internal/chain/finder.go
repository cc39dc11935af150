package chain

import (
	"chainweaver/internal/attr"
	"chainweaver/internal/registry"
)

// MaxDepthCeiling bounds chain length regardless of registry size.
const MaxDepthCeiling = 8

// Solution is one way of satisfying a request. SourceIndex points into the
// sources passed to Find; Chain is nil when the source matches as is.
type Solution struct {
	SourceIndex int
	Chain       *Link
}

// Attributes are the attributes the solution produces.
func (s Solution) Attributes(sources []*attr.Set) *attr.Set {
	if s.Chain == nil {
		return sources[s.SourceIndex]
	}
	return s.Chain.Attributes()
}

// Finder searches for the shortest transform chains from a set of source
// attributes to a requested attribute set. It holds no state between calls
// other than what Factory memoizes.
type Finder struct {
	Matcher attr.Matcher

	// Factory memoizes attribute concatenation. Nil concatenates without
	// interning.
	Factory *attr.Factory

	// MaxDepth caps chain length. Zero or anything above MaxDepthCeiling
	// means MaxDepthCeiling.
	MaxDepth int
}

type visitKey struct {
	attrs  string
	source int
}

type node struct {
	attrs  *attr.Set
	source int
	chain  *Link
}

// Find returns every minimal-depth solution. Sources already matching the
// request are returned alone and no search is performed. An empty result
// means no source can be made to match.
func (f *Finder) Find(sources []*attr.Set, requested *attr.Set, defs []*registry.Definition) []Solution {
	var direct []Solution
	for i, src := range sources {
		if f.Matcher.IsMatching(src, requested) {
			direct = append(direct, Solution{SourceIndex: i})
		}
	}
	if len(direct) > 0 {
		return direct
	}

	limit := f.depthLimit(len(defs))
	visited := make(map[visitKey]int, len(sources))
	frontier := make([]node, 0, len(sources))
	for i, src := range sources {
		visited[visitKey{attrs: src.Key(), source: i}] = 0
		frontier = append(frontier, node{attrs: src, source: i})
	}

	for depth := 1; depth <= limit && len(frontier) > 0; depth++ {
		var solutions []Solution
		var next []node
		for _, n := range frontier {
			for _, d := range defs {
				if n.chain.uses(d) || !f.Matcher.IsMatching(n.attrs, d.From) {
					continue
				}
				result := f.concat(n.attrs, d.To)
				link := n.chain.Append(d, result)
				if f.Matcher.IsMatching(result, requested) {
					solutions = append(solutions, Solution{SourceIndex: n.source, Chain: link})
					continue
				}
				if depth == limit {
					continue
				}
				key := visitKey{attrs: result.Key(), source: n.source}
				if seen, ok := visited[key]; ok && seen <= depth {
					continue
				}
				visited[key] = depth
				next = append(next, node{attrs: result, source: n.source, chain: link})
			}
		}
		if len(solutions) > 0 {
			return solutions
		}
		frontier = next
	}
	return nil
}

func (f *Finder) depthLimit(defs int) int {
	limit := f.MaxDepth
	if limit <= 0 || limit > MaxDepthCeiling {
		limit = MaxDepthCeiling
	}
	if defs < limit {
		limit = defs
	}
	return limit
}

func (f *Finder) concat(left, right *attr.Set) *attr.Set {
	if f.Factory == nil {
		return left.Concat(right)
	}
	return f.Factory.Concat(left, right)
}
