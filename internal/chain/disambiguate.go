package chain

import "chainweaver/internal/attr"

// Disambiguator reduces candidate chains to one.
type Disambiguator struct {
	Matcher attr.Matcher
}

// Choose returns the preferred candidate. Candidates that remain after the
// matcher's own disambiguation are grouped by fingerprint; a single group
// yields its last member, several groups are ambiguous.
func (d *Disambiguator) Choose(candidates []*TransformedVariant, requested *attr.Set) (*TransformedVariant, error) {
	switch len(candidates) {
	case 0:
		return nil, ErrNoMatchFound
	case 1:
		return candidates[0], nil
	}

	attrs := make([]*attr.Set, len(candidates))
	for i, c := range candidates {
		attrs[i] = c.Attributes
	}
	idx := d.Matcher.Disambiguate(attrs, requested)
	preferred := make([]*TransformedVariant, len(idx))
	for i, j := range idx {
		preferred[i] = candidates[j]
	}
	if len(preferred) == 1 {
		return preferred[0], nil
	}

	last := preferred[len(preferred)-1]
	if d.sameWork(preferred, last) {
		return last, nil
	}

	groups := groupByFingerprint(preferred)
	if len(groups) == 1 {
		// Last in matcher order. Kept for compatibility with earlier
		// resolution results.
		return last, nil
	}
	reps := make([]*TransformedVariant, len(groups))
	for i, g := range groups {
		reps[i] = g[len(g)-1]
	}
	return nil, &AmbiguousChainsError{Requested: requested, Candidates: reps}
}

// sameWork reports whether every candidate applies the same step sequence as
// last and produces attributes compatible with it.
func (d *Disambiguator) sameWork(candidates []*TransformedVariant, last *TransformedVariant) bool {
	want := last.Steps()
	for _, c := range candidates {
		if c == last {
			continue
		}
		got := c.Steps()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		if !d.Matcher.AreMutuallyCompatible(c.Attributes, last.Attributes) {
			return false
		}
	}
	return true
}

func groupByFingerprint(candidates []*TransformedVariant) [][]*TransformedVariant {
	var groups [][]*TransformedVariant
	index := make(map[Fingerprint]int)
	for _, c := range candidates {
		fp := FingerprintOf(c.Chain)
		i, ok := index[fp]
		if !ok {
			i = len(groups)
			index[fp] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	return groups
}
