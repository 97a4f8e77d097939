// Package value defines the storable property value used by proxies.
//
// A Value is one of: null, string, number, bool, a list of values, or a
// reference to another proxy by id. Values are immutable; list accessors
// return copies.
package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupported is returned when converting data that has no Value form.
var ErrUnsupported = errors.New("unsupported property value")

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Value is a property value.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
}

// Null returns the null value. The zero Value is also null.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int returns a numeric value from an int.
func Int(i int) Value { return Number(float64(i)) }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Numbers is shorthand for a list of numbers.
func Numbers(fs ...float64) Value {
	items := make([]Value, len(fs))
	for i, f := range fs {
		items[i] = Number(f)
	}
	return Value{kind: KindList, list: items}
}

// Ref returns a reference to the proxy with the given id.
// An empty id yields null.
func Ref(id string) Value {
	if id == "" {
		return Null()
	}
	return Value{kind: KindRef, str: id}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string held by a string value.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the number held by a numeric value.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the boolean held by a bool value.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsList returns a copy of the items of a list value.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Len returns the number of items of a list value, 0 otherwise.
func (v Value) Len() int { return len(v.list) }

// RefID returns the proxy id held by a reference value.
func (v Value) RefID() (string, bool) {
	return v.str, v.kind == KindRef
}

// Text returns the text of a string or reference value, "" otherwise.
func (v Value) Text() string {
	if v.kind == KindString || v.kind == KindRef {
		return v.str
	}
	return ""
}

// Equal reports whether a and b hold the same data. A reference and a string
// with the same text are equal, since exported references are plain strings.
func Equal(a, b Value) bool {
	ak, bk := textual(a.kind), textual(b.kind)
	if ak != bk {
		return false
	}
	switch ak {
	case KindNull:
		return true
	case KindString:
		return a.str == b.str
	case KindNumber:
		return a.num == b.num
	case KindBool:
		return a.b == b.b
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func textual(k Kind) Kind {
	if k == KindRef {
		return KindString
	}
	return k
}

// Interface returns the plain Go form: nil, string, float64, bool or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString, KindRef:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.str)
	case KindRef:
		return "@" + v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "?"
}

// FromAny converts decoded YAML or JSON data into a Value.
// Mappings are not storable and yield ErrUnsupported.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("%w: %s", ErrUnsupported, t)
		}
		return Number(f), nil
	case []Value:
		return List(t...), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case []float64:
		return Numbers(t...), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	default:
		return Null(), fmt.Errorf("%w: %T", ErrUnsupported, x)
	}
}

// MustFromAny is FromAny for literals known to be valid. It panics otherwise.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// MarshalJSON encodes the value as plain JSON. References encode as their id.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes plain JSON. Strings decode as string values; callers
// that know a property holds references convert them.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
