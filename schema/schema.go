// Package schema validates shopping list records against a subset of JSON
// Schema, one schema per collection.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Supported JSON Schema keywords:
//   - type (a name or a list of names: string, number, integer, boolean,
//     object, array, null)
//   - properties, required, additionalProperties
//   - items (for arrays)
//   - minimum, maximum
//   - minLength, maxLength
//   - enum

// Builtin returns the record schemas used when validation is switched on
// without custom schemas.
func Builtin() map[string]map[string]any {
	return map[string]map[string]any{
		"users": {
			"type": "object",
			"properties": map[string]any{
				"id":    map[string]any{"type": "string", "minLength": 1},
				"email": map[string]any{"type": "string"},
			},
		},
		"lists": {
			"type": "object",
			"properties": map[string]any{
				"id":        map[string]any{"type": "string", "minLength": 1},
				"userId":    map[string]any{"type": "string"},
				"shareCode": map[string]any{"type": []any{"string", "null"}},
				"name":      map[string]any{"type": "string"},
			},
		},
		"items": {
			"type": "object",
			"properties": map[string]any{
				"id":        map[string]any{"type": "string", "minLength": 1},
				"listId":    map[string]any{"type": "string"},
				"purchased": map[string]any{"type": "boolean"},
				"createdAt": map[string]any{"type": "integer", "minimum": 0},
				"name":      map[string]any{"type": "string"},
			},
		},
	}
}

// Registry holds the schema of each collection. A collection without a
// schema accepts any record.
type Registry struct {
	schemas map[string]map[string]any
}

// NewRegistry starts from Builtin and replaces the schema of every
// collection named in overrides.
func NewRegistry(overrides map[string]map[string]any) *Registry {
	schemas := Builtin()
	for name, s := range overrides {
		schemas[name] = s
	}
	return &Registry{schemas: schemas}
}

// Collections lists the collections that have a schema.
func (r *Registry) Collections() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks one record of collection.
func (r *Registry) Validate(collection string, record map[string]any) error {
	return Validate(r.schemas[collection], record)
}

// Validate checks a record against a schema. Returns nil if validation
// passes or the schema is nil.
func Validate(schema map[string]any, record map[string]any) error {
	if schema == nil {
		return nil
	}
	return validateValue(schema, record, "$")
}

func validateValue(schema map[string]any, value any, path string) error {
	if t, ok := schema["type"]; ok {
		if err := checkType(typeNames(t), value, path); err != nil {
			return err
		}
	}

	if enumList, ok := schema["enum"].([]any); ok {
		if err := checkEnum(enumList, value, path); err != nil {
			return err
		}
	}

	switch v := value.(type) {
	case map[string]any:
		return validateObject(schema, v, path)
	case []any:
		return validateArray(schema, v, path)
	case string:
		return validateString(schema, v, path)
	}
	if n, ok := toFloat(value); ok {
		return validateNumber(schema, n, path)
	}
	return nil
}

func typeNames(t any) []string {
	switch v := t.(type) {
	case string:
		return []string{v}
	case []any:
		names := make([]string, 0, len(v))
		for _, n := range v {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
		return names
	case []string:
		return v
	}
	return nil
}

func checkType(expected []string, value any, path string) error {
	if len(expected) == 0 {
		return nil
	}
	actual := jsonType(value)
	for _, e := range expected {
		switch {
		case e == actual:
			return nil
		case e == "number" && actual == "integer":
			return nil
		case e == "integer" && actual == "number":
			if f, ok := toFloat(value); ok && f == float64(int64(f)) {
				return nil
			}
		}
	}
	if len(expected) == 1 {
		return fmt.Errorf("%s: expected type %q, got %q", path, expected[0], actual)
	}
	return fmt.Errorf("%s: expected one of types %v, got %q", path, expected, actual)
}

func jsonType(v any) string {
	if v == nil {
		return "null"
	}
	switch n := v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64:
		return "number"
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return "integer"
		}
		return "number"
	case int, int32, int64, uint, uint32, uint64:
		return "integer"
	default:
		return reflect.TypeOf(v).String()
	}
}

func checkEnum(allowed []any, value any, path string) error {
	for _, a := range allowed {
		if reflect.DeepEqual(a, value) {
			return nil
		}
		if fa, ok := toFloat(a); ok {
			if fv, ok := toFloat(value); ok && fa == fv {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: value not in enum %v", path, allowed)
}

func validateObject(schema map[string]any, obj map[string]any, path string) error {
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if field, ok := r.(string); ok {
				if _, exists := obj[field]; !exists {
					return fmt.Errorf("%s: missing required field %q", path, field)
				}
			}
		}
	}

	propsMap, _ := schema["properties"].(map[string]any)
	fields := make([]string, 0, len(propsMap))
	for field := range propsMap {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		val, exists := obj[field]
		if !exists {
			continue
		}
		ps, ok := propsMap[field].(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(ps, val, path+"."+field); err != nil {
			return err
		}
	}

	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		var extra []string
		for field := range obj {
			if _, defined := propsMap[field]; !defined {
				extra = append(extra, field)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return fmt.Errorf("%s: additional properties not allowed: %s", path, strings.Join(extra, ", "))
		}
	}
	return nil
}

func validateArray(schema map[string]any, arr []any, path string) error {
	itemSchema, ok := schema["items"].(map[string]any)
	if !ok {
		return nil
	}
	for i, elem := range arr {
		if err := validateValue(itemSchema, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateString(schema map[string]any, s string, path string) error {
	if v, ok := toFloat(schema["minLength"]); ok && float64(len(s)) < v {
		return fmt.Errorf("%s: string length %d is less than minLength %v", path, len(s), v)
	}
	if v, ok := toFloat(schema["maxLength"]); ok && float64(len(s)) > v {
		return fmt.Errorf("%s: string length %d is greater than maxLength %v", path, len(s), v)
	}
	return nil
}

func validateNumber(schema map[string]any, n float64, path string) error {
	if v, ok := toFloat(schema["minimum"]); ok && n < v {
		return fmt.Errorf("%s: %v is less than minimum %v", path, n, v)
	}
	if v, ok := toFloat(schema["maximum"]); ok && n > v {
		return fmt.Errorf("%s: %v is greater than maximum %v", path, n, v)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
