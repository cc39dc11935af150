package chain

import (
	"fmt"

	"chainweaver/internal/attr"
	"chainweaver/internal/registry"
	"chainweaver/internal/trace"
)

// Selector picks the variant, possibly transformed, that satisfies a
// request. It is the session context for selection: the matcher, the
// registry and the chain cache it holds are shared by every call.
type Selector struct {
	Matcher  attr.Matcher
	Registry *registry.Registry
	Chains   *Cache

	// Trace receives one event per successful selection. Optional.
	Trace trace.Sink
}

// NewSelector builds a selector with a fresh chain cache over a session
// attribute factory.
func NewSelector(m attr.Matcher, reg *registry.Registry, maxDepth int) *Selector {
	finder := &Finder{Matcher: m, Factory: attr.NewFactory(), MaxDepth: maxDepth}
	return &Selector{Matcher: m, Registry: reg, Chains: NewCache(finder)}
}

// Select returns the single best match for requested among variants.
//
// Direct matches win over any chain; several direct matches the matcher
// cannot narrow fail with *AmbiguousVariantsError. Otherwise the shortest
// chains are disambiguated, failing with *AmbiguousChainsError. When nothing
// applies the error wraps ErrNoMatchFound. Unexpected failures, panics
// included, are returned as *UnknownFailureError.
func (s *Selector) Select(variants []*Variant, requested *attr.Set) (tv *TransformedVariant, err error) {
	defer func() {
		if r := recover(); r != nil {
			tv = nil
			err = &UnknownFailureError{Requested: requested, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	candidates := s.candidates(variants, requested)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoMatchFound, requested)
	}

	if candidates[0].IsDirect() {
		tv, err = s.chooseDirect(candidates, requested)
	} else {
		d := Disambiguator{Matcher: s.Matcher}
		tv, err = d.Choose(candidates, requested)
	}
	if err != nil {
		return nil, err
	}
	trace.SafeRecord(s.Trace, trace.TraceEvent{
		Kind:      trace.EventChainSelected,
		Transform: tv.Chain.String(),
		Subject:   tv.Source.String(),
	})
	return tv, nil
}

// Explain returns every candidate Select would consider, before
// disambiguation.
func (s *Selector) Explain(variants []*Variant, requested *attr.Set) []*TransformedVariant {
	return s.candidates(variants, requested)
}

func (s *Selector) candidates(variants []*Variant, requested *attr.Set) []*TransformedVariant {
	sources := make([]*attr.Set, len(variants))
	for i, v := range variants {
		sources[i] = v.Attributes
		if sources[i] == nil {
			sources[i] = attr.Empty()
		}
	}
	solutions := s.find(sources, requested)
	out := make([]*TransformedVariant, len(solutions))
	for i, sol := range solutions {
		out[i] = &TransformedVariant{
			Source:     variants[sol.SourceIndex],
			Chain:      sol.Chain,
			Attributes: sol.Attributes(sources),
		}
	}
	return out
}

func (s *Selector) find(sources []*attr.Set, requested *attr.Set) []Solution {
	var defs []*registry.Definition
	if s.Registry != nil {
		defs = s.Registry.Definitions()
	}
	if s.Chains != nil {
		return s.Chains.Find(sources, requested, defs)
	}
	f := &Finder{Matcher: s.Matcher}
	return f.Find(sources, requested, defs)
}

func (s *Selector) chooseDirect(candidates []*TransformedVariant, requested *attr.Set) (*TransformedVariant, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	attrs := make([]*attr.Set, len(candidates))
	for i, c := range candidates {
		attrs[i] = c.Attributes
	}
	idx := s.Matcher.Disambiguate(attrs, requested)
	if len(idx) == 1 {
		return candidates[idx[0]], nil
	}
	amb := &AmbiguousVariantsError{Requested: requested}
	for _, i := range idx {
		amb.Candidates = append(amb.Candidates, candidates[i].Source)
	}
	return nil, amb
}
