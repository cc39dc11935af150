package attr

import "sort"

// Matcher answers the three questions variant selection asks of the
// attribute space.
type Matcher interface {
	// IsMatching reports whether a producer offering candidate satisfies a
	// consumer requesting requested.
	IsMatching(candidate, requested *Set) bool

	// Disambiguate narrows compatible candidates to the preferred subset. It
	// returns indices into candidates in ascending order and never returns an
	// empty slice for a non-empty input.
	Disambiguate(candidates []*Set, requested *Set) []int

	// AreMutuallyCompatible reports whether every attribute present in both
	// sets is compatible in at least one direction.
	AreMutuallyCompatible(a, b *Set) bool
}

// Rule customizes matching for one attribute name.
type Rule struct {
	// Compatible decides whether a produced value satisfies a requested one.
	// Nil means equality.
	Compatible func(requested, produced Value) bool

	// Preferred, when valid, is the value favoured during disambiguation if
	// the consumer did not request this attribute.
	Preferred Value
}

// Schema is the default Matcher: per-attribute rules over equality.
//
// Disambiguation applies, in order: exact matches on requested attributes,
// preferred values for attributes the consumer did not ask for, and finally
// the fewest attributes not mentioned in the request.
type Schema struct {
	rules map[string]Rule
}

func NewSchema() *Schema { return &Schema{rules: make(map[string]Rule)} }

// Attribute registers a rule; it returns the schema for chaining.
func (s *Schema) Attribute(name string, r Rule) *Schema {
	s.rules[name] = r
	return s
}

func (s *Schema) compatible(name string, requested, produced Value) bool {
	if r, ok := s.rules[name]; ok && r.Compatible != nil {
		return r.Compatible(requested, produced)
	}
	return requested.Equal(produced)
}

func (s *Schema) IsMatching(candidate, requested *Set) bool {
	ok := true
	requested.Each(func(name string, want Value) {
		if !ok {
			return
		}
		have, present := candidate.Get(name)
		if !present {
			return
		}
		if !s.compatible(name, want, have) {
			ok = false
		}
	})
	return ok
}

func (s *Schema) AreMutuallyCompatible(a, b *Set) bool {
	ok := true
	a.Each(func(name string, av Value) {
		if !ok {
			return
		}
		bv, present := b.Get(name)
		if !present {
			return
		}
		if !s.compatible(name, av, bv) && !s.compatible(name, bv, av) {
			ok = false
		}
	})
	return ok
}

func (s *Schema) Disambiguate(candidates []*Set, requested *Set) []int {
	remaining := make([]int, len(candidates))
	for i := range candidates {
		remaining[i] = i
	}
	if len(remaining) <= 1 {
		return remaining
	}

	narrow := func(keep func(idx int) bool) {
		var kept []int
		for _, idx := range remaining {
			if keep(idx) {
				kept = append(kept, idx)
			}
		}
		if len(kept) > 0 {
			remaining = kept
		}
	}

	requested.Each(func(name string, want Value) {
		if len(remaining) <= 1 {
			return
		}
		narrow(func(idx int) bool {
			have, ok := candidates[idx].Get(name)
			return ok && have.Equal(want)
		})
	})

	for _, name := range s.extraNames(candidates, remaining, requested) {
		if len(remaining) <= 1 {
			break
		}
		r, ok := s.rules[name]
		if !ok || !r.Preferred.IsValid() {
			continue
		}
		narrow(func(idx int) bool {
			have, ok := candidates[idx].Get(name)
			return ok && have.Equal(r.Preferred)
		})
	}

	if len(remaining) > 1 {
		fewest := -1
		for _, idx := range remaining {
			n := countExtra(candidates[idx], requested)
			if fewest < 0 || n < fewest {
				fewest = n
			}
		}
		narrow(func(idx int) bool { return countExtra(candidates[idx], requested) == fewest })
	}
	return remaining
}

func (s *Schema) extraNames(candidates []*Set, remaining []int, requested *Set) []string {
	seen := make(map[string]struct{})
	for _, idx := range remaining {
		for _, name := range candidates[idx].Names() {
			if _, ok := requested.Get(name); ok {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func countExtra(candidate, requested *Set) int {
	n := 0
	candidate.Each(func(name string, _ Value) {
		if _, ok := requested.Get(name); !ok {
			n++
		}
	})
	return n
}
