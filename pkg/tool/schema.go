package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ParameterSchema is a JSON-shape declaration for tool parameters.
type ParameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes a single parameter.
type PropertySchema struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Default     any             `json:"default,omitempty"`
	Items       *PropertySchema `json:"items,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
}

// ValidationError reports a schema violation on a specific parameter.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return e.Reason
	}
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Reason)
}

// Validate checks params against the schema and returns the coerced map.
// Strict mode rejects unknown properties. Coercion is by shape only: JSON
// numbers arriving as float64 are accepted for integer slots when whole, and
// json.Number values are narrowed; string values are never parsed into other
// types.
func (s ParameterSchema) Validate(params map[string]any, strict bool) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}

	if strict {
		for name := range params {
			if _, ok := s.Properties[name]; !ok {
				return nil, &ValidationError{Param: name, Reason: "unknown property"}
			}
		}
	}

	out := make(map[string]any, len(params))
	for name, prop := range s.Properties {
		value, present := params[name]
		if !present {
			if prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		coerced, err := coerceValue(prop, value)
		if err != nil {
			return nil, &ValidationError{Param: name, Reason: err.Error()}
		}
		out[name] = coerced
	}
	if !strict {
		for name, value := range params {
			if _, ok := s.Properties[name]; !ok {
				out[name] = value
			}
		}
	}

	for _, name := range s.Required {
		if _, ok := out[name]; !ok {
			return nil, &ValidationError{Param: name, Reason: "required"}
		}
	}
	return out, nil
}

func coerceValue(prop PropertySchema, value any) (any, error) {
	switch prop.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, str) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(prop.Enum, ", "))
		}
		return str, nil

	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}
		return b, nil

	case "integer":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got fractional number")
			}
			return int(v), nil
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v.String())
			}
			return int(i), nil
		}
		return nil, fmt.Errorf("expected integer, got %T", value)

	case "number":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v.String())
			}
			return f, nil
		}
		return nil, fmt.Errorf("expected number, got %T", value)

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", value)
		}
		if prop.Items == nil {
			return arr, nil
		}
		out := make([]any, 0, len(arr))
		for i, item := range arr {
			coerced, err := coerceValue(*prop.Items, item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, coerced)
		}
		return out, nil

	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", value)
		}
		return obj, nil

	case "":
		return value, nil
	}
	return nil, fmt.Errorf("unsupported schema type %q", prop.Type)
}

func enumContains(enum []string, value string) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}

// ParseArguments decodes a JSON argument string the way the model sends it.
// An empty string is an empty object.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid arguments JSON: %w", err)
	}
	return params, nil
}
