package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Entity is one record of a collection: an ordered mapping of field name to
// a loosely-typed JSON value. Field order survives decoding and encoding so
// that persisted records keep the order they were written in. Nested
// objects are decoded as *Entity too, so their order is kept as well.
//
// Numbers decoded from JSON are kept as json.Number so that a load/save
// round trip reproduces them exactly.
type Entity struct {
	keys   []string
	values map[string]any
}

// NewEntity returns an empty entity.
func NewEntity() *Entity {
	return &Entity{values: make(map[string]any)}
}

// EntityFromMap builds an entity from a plain map. Go maps are unordered,
// so fields are added in the order the caller lists them in keys; fields of
// m missing from keys are appended afterwards in unspecified order.
func EntityFromMap(m map[string]any, keys ...string) *Entity {
	e := NewEntity()
	for _, k := range keys {
		if v, ok := m[k]; ok {
			e.Set(k, v)
		}
	}
	for k, v := range m {
		if _, ok := e.values[k]; !ok {
			e.Set(k, v)
		}
	}
	return e
}

// Get returns the value of a field.
func (e *Entity) Get(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Set assigns a field. A new field is appended after the existing ones;
// an existing field keeps its position.
func (e *Entity) Set(key string, value any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Keys returns the field names in order.
func (e *Entity) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Len returns the number of fields.
func (e *Entity) Len() int { return len(e.keys) }

// ID returns the "id" field when it is a string.
func (e *Entity) ID() string {
	id, _ := e.values["id"].(string)
	return id
}

// StringField returns a field holding a string. A number is not a string:
// 12345678 never equals "12345678".
func (e *Entity) StringField(key string) (string, bool) {
	v, ok := e.values[key].(string)
	return v, ok
}

// Merge overlays the fields of other onto e. Fields only present in e are
// kept; nothing is ever removed.
func (e *Entity) Merge(other *Entity) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		e.Set(k, copyValue(other.values[k]))
	}
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := &Entity{
		keys:   make([]string, len(e.keys)),
		values: make(map[string]any, len(e.values)),
	}
	copy(c.keys, e.keys)
	for k, v := range e.values {
		c.values[k] = copyValue(v)
	}
	return c
}

// Map returns the entity as a plain map, nested objects included, for
// consumers that do not care about field order.
func (e *Entity) Map() map[string]any {
	m := make(map[string]any, len(e.values))
	for k, v := range e.values {
		m[k] = plainValue(v)
	}
	return m
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshal(e.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("entity must be a JSON object, got %v", tok)
	}
	e.keys = nil
	e.values = make(map[string]any)
	if err := e.readFields(dec); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected data after entity")
	}
	return nil
}

// readFields reads key/value pairs up to and including the closing brace.
func (e *Entity) readFields(dec *json.Decoder) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		v, err := readValue(dec)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		e.Set(key, v)
	}
	_, err := dec.Token()
	return err
}

func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			nested := NewEntity()
			if err := nested.readFields(dec); err != nil {
				return nil, err
			}
			return nested, nil
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := readValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	}
	return tok, nil
}

// marshal encodes v without escaping <, > and &, so persisted text reads
// exactly as it was sent.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = copyValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = copyValue(inner)
		}
		return s
	case *Entity:
		return t.Clone()
	}
	return v
}

func plainValue(v any) any {
	switch t := v.(type) {
	case *Entity:
		return t.Map()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = plainValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = plainValue(inner)
		}
		return s
	}
	return v
}
