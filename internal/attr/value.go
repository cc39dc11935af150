// Package attr implements the attribute space used for variant matching:
// immutable attribute sets with content equality, a concatenation factory that
// shares structure, and a schema-driven matcher.
package attr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindBool
	KindInt
	// KindNamed is an enum-like symbolic value. A named value never equals a
	// string value with the same text.
	KindNamed
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindNamed:
		return "named"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a typed attribute value.
//
// Equality contract per kind:
//   - string, named: same kind and same text
//   - bool, int: same kind and same scalar
//   - list: same kind, same length, element-wise equal in order
//
// The zero Value is invalid and equals only another zero Value.
type Value struct {
	kind Kind
	text string
	num  int64
	list []Value
}

func String(s string) Value { return Value{kind: KindString, text: s} }

func Named(name string) Value { return Value{kind: KindNamed, text: name} }

func Int(n int64) Value { return Value{kind: KindInt, num: n} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// List copies its arguments; the resulting value is immutable.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != 0 }

// Text returns the text of a string or named value.
func (v Value) Text() (string, bool) {
	if v.kind == KindString || v.kind == KindNamed {
		return v.text, true
	}
	return "", false
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.num, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.num == 1, true
}

// Items returns a copy of a list value's elements.
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out, true
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString, KindNamed:
		return v.text == o.text
	case KindBool, KindInt:
		return v.num == o.num
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// appendKey writes the canonical encoding of v. Two values are Equal iff their
// encodings are identical.
func (v Value) appendKey(b *strings.Builder) {
	switch v.kind {
	case KindString:
		b.WriteString("s")
		b.WriteString(strconv.Quote(v.text))
	case KindNamed:
		b.WriteString("n")
		b.WriteString(strconv.Quote(v.text))
	case KindBool:
		if v.num == 1 {
			b.WriteString("b1")
		} else {
			b.WriteString("b0")
		}
	case KindInt:
		b.WriteString("i")
		b.WriteString(strconv.FormatInt(v.num, 10))
	case KindList:
		b.WriteString("l[")
		for i, item := range v.list {
			if i > 0 {
				b.WriteByte(',')
			}
			item.appendKey(b)
		}
		b.WriteByte(']')
	default:
		b.WriteString("?")
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString, KindNamed:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.num == 1)
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<invalid>"
	}
}

// ParseValue converts a decoded YAML/flag scalar into a Value. Strings of the
// form "enum:NAME" become named values.
func ParseValue(raw any) (Value, error) {
	switch x := raw.(type) {
	case Value:
		return x, nil
	case string:
		if name, ok := strings.CutPrefix(x, "enum:"); ok {
			return Named(name), nil
		}
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("attribute value %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case float64:
		if x < math.MinInt64 || x >= math.MaxInt64 || x != float64(int64(x)) {
			return Value{}, fmt.Errorf("attribute value %v is not an integer", x)
		}
		return Int(int64(x)), nil
	case []any:
		items := make([]Value, 0, len(x))
		for i, item := range x {
			v, err := ParseValue(item)
			if err != nil {
				return Value{}, fmt.Errorf("list item %d: %w", i, err)
			}
			items = append(items, v)
		}
		return List(items...), nil
	case map[string]any:
		if name, ok := x["enum"].(string); ok && len(x) == 1 {
			return Named(name), nil
		}
		return Value{}, fmt.Errorf("unsupported attribute object %v", x)
	default:
		return Value{}, fmt.Errorf("unsupported attribute value type %T", raw)
	}
}
