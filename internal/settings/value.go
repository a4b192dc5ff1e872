package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Value is a sealed interface over the setting value types.
// Only Bool, Int, Float, String, List and *Map implement it.
type Value interface {
	settingsValue()
}

// Bool is a boolean setting.
type Bool bool

func (Bool) settingsValue() {}

// Int is an integer setting.
type Int int64

func (Int) settingsValue() {}

// Float is a floating point setting.
type Float float64

func (Float) settingsValue() {}

// String is a string setting.
type String string

func (String) settingsValue() {}

// List is an ordered list of values. Treat it as read-only once it is
// part of a Map.
type List []Value

func (List) settingsValue() {}

func (*Map) settingsValue() {}

// TypeName returns a short, stable name for the value's type.
func TypeName(v Value) string {
	switch v.(type) {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case List:
		return "list"
	case *Map:
		return "map"
	default:
		return "unknown"
	}
}

// FromAny converts a decoded JSON or YAML document into a Value.
// nil is rejected; there is no null setting.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a valid setting value")
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range: %d", val)
		}
		return Int(val), nil
	case float64:
		return Float(val), nil
	case float32:
		return Float(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Float(f), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			item, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = item
		}
		return list, nil
	case map[string]any:
		b := NewBuilder()
		for _, k := range sortedKeys(val) {
			item, err := FromAny(val[k])
			if err != nil {
				return nil, fmt.Errorf("map[%q]: %w", k, err)
			}
			b.Set(k, item)
		}
		return b.Map(), nil
	default:
		return nil, fmt.Errorf("unsupported setting type: %T", v)
	}
}

// ToAny converts a Value into plain Go values suitable for encoding.
// Maps become map[string]any, so callers that need key order should
// encode the *Map directly instead.
func ToAny(v Value) any {
	switch val := v.(type) {
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case String:
		return string(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case *Map:
		out := make(map[string]any, val.Len())
		for k, elem := range val.All() {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// Format renders a scalar for display. Lists and maps render as JSON.
func Format(v Value) string {
	switch val := v.(type) {
	case Bool:
		return strconv.FormatBool(bool(val))
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case String:
		return string(val)
	default:
		b, err := marshalValue(v)
		if err != nil {
			return "<unsupported>"
		}
		return string(b)
	}
}

// Equal reports whether two values have the same type and content.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Map:
		bv, ok := b.(*Map)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i, k := range av.keys {
			if bv.keys[i] != k || !Equal(av.values[k], bv.values[k]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// marshalValue encodes a Value as JSON, preserving map key order.
func marshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Bool:
		return json.Marshal(bool(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite float %v", f)
		}
		return json.Marshal(f)
	case String:
		return json.Marshal(string(val))
	case List:
		return marshalList(val)
	case *Map:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown setting type: %T", v)
	}
}

func marshalList(list List) ([]byte, error) {
	buf := []byte{'['}
	for i, elem := range list {
		if i > 0 {
			buf = append(buf, ',')
		}
		b, err := marshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		buf = append(buf, b...)
	}
	return append(buf, ']'), nil
}

// sortedKeys gives decoded documents, which carry no key order, a stable one.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
