// ABOUTME: Minimal JSON Schema subset used to describe and validate tool input
// ABOUTME: Supports object/string/integer/number types, required, and minimums

package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Schema is the subset of JSON Schema the tool descriptors use. It is
// marshaled as-is into tool listings so clients see standard schema keywords.
type Schema struct {
	Type             string             `json:"type"`
	Description      string             `json:"description,omitempty"`
	Properties       map[string]*Schema `json:"properties,omitempty"`
	Required         []string           `json:"required,omitempty"`
	Minimum          *float64           `json:"minimum,omitempty"`
	ExclusiveMinimum *float64           `json:"exclusiveMinimum,omitempty"`
}

// FieldError reports invalid tool input, naming the offending field path.
type FieldError struct {
	Path    string
	Message string
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func fieldErrf(path, format string, args ...any) *FieldError {
	return &FieldError{Path: path, Message: fmt.Sprintf(format, args...)}
}

func floatPtr(v float64) *float64 { return &v }

// Validate checks payload against the schema. The payload must be a JSON
// value of the schema's type; violations return a *FieldError with the path
// of the first offending field.
func (s *Schema) Validate(payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return &FieldError{Message: "body is not valid JSON"}
	}
	return s.validate("", value)
}

func (s *Schema) validate(path string, value any) error {
	switch s.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fieldErrf(path, "expected object, got %s", typeName(value))
		}
		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				return fieldErrf(join(path, name), "required field missing")
			}
		}
		// Deterministic error ordering for property violations
		names := make([]string, 0, len(obj))
		for name := range obj {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prop, known := s.Properties[name]
			if !known {
				return fieldErrf(join(path, name), "unknown field")
			}
			if err := prop.validate(join(path, name), obj[name]); err != nil {
				return err
			}
		}
		return nil

	case "string":
		if _, ok := value.(string); !ok {
			return fieldErrf(path, "expected string, got %s", typeName(value))
		}
		return nil

	case "integer":
		n, ok := value.(float64)
		if !ok {
			return fieldErrf(path, "expected integer, got %s", typeName(value))
		}
		if n != math.Trunc(n) {
			return fieldErrf(path, "expected integer, got fractional number")
		}
		return s.checkBounds(path, n)

	case "number":
		n, ok := value.(float64)
		if !ok {
			return fieldErrf(path, "expected number, got %s", typeName(value))
		}
		return s.checkBounds(path, n)

	default:
		return fieldErrf(path, "unsupported schema type %q", s.Type)
	}
}

func (s *Schema) checkBounds(path string, n float64) error {
	if s.Minimum != nil && n < *s.Minimum {
		return fieldErrf(path, "must be at least %g", *s.Minimum)
	}
	if s.ExclusiveMinimum != nil && n <= *s.ExclusiveMinimum {
		return fieldErrf(path, "must be greater than %g", *s.ExclusiveMinimum)
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}
