package util

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ValidationError describes one argument that does not match a tool's
// parameter schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

var jsonKinds = map[reflect.Kind]string{
	reflect.String:  "string",
	reflect.Bool:    "boolean",
	reflect.Int:     "integer",
	reflect.Int32:   "integer",
	reflect.Int64:   "integer",
	reflect.Float32: "number",
	reflect.Float64: "number",
	reflect.Slice:   "array",
	reflect.Map:     "object",
}

// CreateSchema derives the input schema of a tool from its argument struct.
// Properties are named after json tags and carry the `description` tag.
// Fields are required unless tagged omitempty or declared as pointers.
func CreateSchema(args any) map[string]any {
	properties := map[string]any{}
	schema := map[string]any{"type": "object", "properties": properties}

	t := reflect.TypeOf(args)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	var required []string
	for _, field := range reflect.VisibleFields(t) {
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if !field.IsExported() || field.Anonymous || name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}

		ft := field.Type
		optional := strings.Contains(opts, "omitempty") || ft.Kind() == reflect.Pointer
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		kind, ok := jsonKinds[ft.Kind()]
		if !ok {
			kind = "string"
		}

		prop := map[string]any{"type": kind}
		if d := field.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		properties[name] = prop
		if !optional {
			required = append(required, name)
		}
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateParameters checks args against a tool input schema, either one
// built by CreateSchema or one decoded from JSON (MCP servers). Every
// missing required field, type mismatch and enum violation is reported.
// Unknown fields are allowed.
func ValidateParameters(args map[string]any, schema map[string]any) error {
	var errs []error
	for _, name := range stringList(schema["required"]) {
		if _, ok := args[name]; !ok {
			errs = append(errs, &ValidationError{Field: name, Message: "required field is missing"})
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		prop, _ := properties[name].(map[string]any)
		if prop == nil {
			continue
		}
		value := args[name]
		want, _ := prop["type"].(string)
		if !matchesType(value, want) {
			errs = append(errs, &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", want, value),
			})
			continue
		}
		if enum, ok := prop["enum"].([]any); ok && !inEnum(enum, value) {
			errs = append(errs, &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("must be one of %v", enum),
			})
		}
	}
	return errors.Join(errs...)
}

// stringList accepts []string from Go-built schemas and []any from
// decoded JSON.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func inEnum(enum []any, value any) bool {
	if value == nil || !reflect.TypeOf(value).Comparable() {
		return true
	}
	return slices.Contains(enum, value)
}

// matchesType reports whether a decoded JSON value fits a schema type. Nil
// and unknown types always match.
func matchesType(value any, want string) bool {
	if value == nil {
		return true
	}
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}
