package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Map is an immutable, versioned, insertion-ordered settings snapshot.
// The zero value is not usable; start from Empty or a Builder.
type Map struct {
	version uint64
	keys    []string
	values  map[string]Value
}

var empty = &Map{values: map[string]Value{}}

// Empty returns the empty snapshot at version 0.
func Empty() *Map {
	return empty
}

// Version returns how many edits separate this snapshot from its root.
func (m *Map) Version() uint64 {
	return m.version
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.keys)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	return slices.Clone(m.keys)
}

// All iterates over the entries in insertion order.
func (m *Map) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// With returns a copy of m with key set to v. An existing key keeps its
// position; a new key is appended.
func (m *Map) With(key string, v Value) *Map {
	next := m.clone(1)
	if _, ok := next.values[key]; !ok {
		next.keys = append(next.keys, key)
	}
	next.values[key] = v
	return next
}

// Without returns a copy of m with key removed. Removing a missing key
// still yields a new snapshot so CAS callers always have a distinct pointer.
func (m *Map) Without(key string) *Map {
	next := m.clone(0)
	if _, ok := next.values[key]; ok {
		delete(next.values, key)
		next.keys = slices.DeleteFunc(next.keys, func(k string) bool { return k == key })
	}
	return next
}

func (m *Map) clone(extra int) *Map {
	next := &Map{
		version: m.version + 1,
		keys:    make([]string, len(m.keys), len(m.keys)+extra),
		values:  make(map[string]Value, len(m.values)+extra),
	}
	copy(next.keys, m.keys)
	for k, v := range m.values {
		next.values[k] = v
	}
	return next
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseJSON decodes a JSON object into a new root snapshot. Keys are ordered
// lexically because decoding drops document order. Integers stay
// Int; numbers with a fraction or exponent become Float.
func ParseJSON(data []byte) (*Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("settings must be a JSON object, got %T", raw)
	}
	v, err := FromAny(obj)
	if err != nil {
		return nil, err
	}
	return v.(*Map), nil
}

// Builder assembles a root snapshot. It must not be used after Map.
type Builder struct {
	m *Map
}

// NewBuilder starts an empty root snapshot.
func NewBuilder() *Builder {
	return &Builder{m: &Map{values: map[string]Value{}}}
}

// Set stores v under key, keeping the position of an existing key.
func (b *Builder) Set(key string, v Value) *Builder {
	if _, ok := b.m.values[key]; !ok {
		b.m.keys = append(b.m.keys, key)
	}
	b.m.values[key] = v
	return b
}

// Map returns the built snapshot.
func (b *Builder) Map() *Map {
	m := b.m
	b.m = nil
	return m
}
