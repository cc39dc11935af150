package attr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type entry struct {
	name  string
	value Value
}

// Set is an immutable mapping from attribute name to Value.
//
// Sets compare and hash by content: two sets built independently from the
// same entries have the same Key and are Equal. A nil *Set behaves as the
// empty set.
type Set struct {
	entries []entry // sorted by name, unique
	key     string
}

var empty = &Set{}

// Empty returns the shared empty set.
func Empty() *Set { return empty }

// Builder accumulates entries for a new Set. Later puts for the same name
// replace earlier ones.
type Builder struct {
	values map[string]Value
}

func NewBuilder() *Builder { return &Builder{values: make(map[string]Value)} }

func (b *Builder) Put(name string, v Value) *Builder {
	b.values[name] = v
	return b
}

func (b *Builder) Build() *Set {
	if len(b.values) == 0 {
		return empty
	}
	entries := make([]entry, 0, len(b.values))
	for name, v := range b.values {
		entries = append(entries, entry{name: name, value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return newSet(entries)
}

// Of builds a set from alternating name/value pairs; it panics on malformed
// input and is intended for tests and literals.
func Of(pairs ...any) *Set {
	if len(pairs)%2 != 0 {
		panic("attr.Of: odd number of arguments")
	}
	b := NewBuilder()
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("attr.Of: name at %d is %T", i, pairs[i]))
		}
		v, err := ParseValue(pairs[i+1])
		if err != nil {
			panic(fmt.Sprintf("attr.Of: %s: %v", name, err))
		}
		b.Put(name, v)
	}
	return b.Build()
}

// FromMap converts decoded configuration into a Set.
func FromMap(m map[string]any) (*Set, error) {
	b := NewBuilder()
	for name, raw := range m {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("attribute name is empty")
		}
		v, err := ParseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		b.Put(name, v)
	}
	return b.Build(), nil
}

func newSet(entries []entry) *Set {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Quote(e.name))
		b.WriteByte('=')
		e.value.appendKey(&b)
	}
	b.WriteByte('}')
	return &Set{entries: entries, key: b.String()}
}

// Key is the canonical content encoding of the set, suitable as a map key.
func (s *Set) Key() string {
	if s == nil || len(s.entries) == 0 {
		return "{}"
	}
	return s.key
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func (s *Set) IsEmpty() bool { return s.Len() == 0 }

func (s *Set) Get(name string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].name >= name })
	if i < len(s.entries) && s.entries[i].name == name {
		return s.entries[i].value, true
	}
	return Value{}, false
}

// Names returns the attribute names in sorted order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.name
	}
	return out
}

// Each visits entries in name order.
func (s *Set) Each(fn func(name string, v Value)) {
	if s == nil {
		return
	}
	for _, e := range s.entries {
		fn(e.name, e.value)
	}
}

func (s *Set) Equal(o *Set) bool {
	if s == o {
		return true
	}
	return s.Key() == o.Key()
}

// Concat returns a set holding every entry of s overridden by the entries of
// other. When other adds nothing new the receiver itself is returned, and when
// other already covers every name of s, other is returned.
func (s *Set) Concat(other *Set) *Set {
	if other.IsEmpty() {
		if s == nil {
			return empty
		}
		return s
	}
	if s.IsEmpty() {
		return other
	}

	merged := make([]entry, 0, len(s.entries)+len(other.entries))
	changed := false
	coversReceiver := true
	i, j := 0, 0
	for i < len(s.entries) || j < len(other.entries) {
		switch {
		case j >= len(other.entries):
			merged = append(merged, s.entries[i])
			coversReceiver = false
			i++
		case i >= len(s.entries):
			merged = append(merged, other.entries[j])
			changed = true
			j++
		case s.entries[i].name < other.entries[j].name:
			merged = append(merged, s.entries[i])
			coversReceiver = false
			i++
		case s.entries[i].name > other.entries[j].name:
			merged = append(merged, other.entries[j])
			changed = true
			j++
		default:
			if !s.entries[i].value.Equal(other.entries[j].value) {
				changed = true
			}
			merged = append(merged, other.entries[j])
			i++
			j++
		}
	}
	if !changed {
		return s
	}
	if coversReceiver {
		return other
	}
	return newSet(merged)
}

func (s *Set) String() string {
	if s.IsEmpty() {
		return "{}"
	}
	parts := make([]string, len(s.entries))
	for i, e := range s.entries {
		parts[i] = e.name + "=" + e.value.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
