package tools

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
)

// Property describes one input field.
type Property struct {
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	// Items describes array elements. It is only advertised to the model;
	// validation stops at the top-level kind.
	Items *Property `json:"items,omitempty"`
}

// Schema is the input contract of a tool. Fields not declared in
// Properties are accepted and ignored.
type Schema struct {
	Description string              `json:"-"`
	Properties  map[string]Property `json:"properties"`
	Required    []string            `json:"required,omitempty"`
}

// JSONSchema renders the schema as the object the model expects in a
// function declaration.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func (p Property) jsonSchema() map[string]any {
	out := map[string]any{}
	if p.Type != "" {
		out["type"] = p.Type
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.jsonSchema()
	}
	return out
}

// Validate returns one message per violation: missing required fields
// first, then type mismatches in field-name order.
func (s Schema) Validate(input map[string]any) []string {
	var problems []string
	for _, name := range s.Required {
		if _, ok := input[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required field %q", name))
		}
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := s.Properties[name]
		v, ok := input[name]
		if !ok || prop.Type == "" {
			continue
		}
		if !matchesType(prop.Type, v) {
			problems = append(problems, fmt.Sprintf("field %q must be %s, got %s", name, prop.Type, kindName(v)))
			continue
		}
		if len(prop.Enum) > 0 {
			if str, _ := v.(string); !slices.Contains(prop.Enum, str) {
				problems = append(problems, fmt.Sprintf("field %q must be one of %v", name, prop.Enum))
			}
		}
	}
	return problems
}

func matchesType(typ string, v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch typ {
	case "string":
		return rv.Kind() == reflect.String
	case "number":
		return isNumeric(rv.Kind())
	case "integer":
		switch {
		case isInteger(rv.Kind()):
			return true
		case rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64:
			f := rv.Float()
			return f == math.Trunc(f) && !math.IsInf(f, 0)
		}
		return false
	case "boolean":
		return rv.Kind() == reflect.Bool
	case "array":
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case "object":
		return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
	default:
		// unknown declared types are not enforced
		return true
	}
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	return isInteger(k) || k == reflect.Float32 || k == reflect.Float64
}

func kindName(v any) string {
	if v == nil {
		return "null"
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.String:
		return "string"
	case isNumeric(rv.Kind()):
		return "number"
	case rv.Kind() == reflect.Bool:
		return "boolean"
	case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
		return "array"
	case rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct:
		return "object"
	}
	return rv.Kind().String()
}

// Number reads a numeric field regardless of its Go representation.
func Number(input map[string]any, name string) (float64, bool) {
	v, ok := input[name]
	if !ok || v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch {
	case isInteger(rv.Kind()):
		if rv.CanInt() {
			return float64(rv.Int()), true
		}
		return float64(rv.Uint()), true
	case rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// String reads a string field, returning "" when absent.
func String(input map[string]any, name string) string {
	s, _ := input[name].(string)
	return s
}
