package tools

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaValidator checks parameter values against a tool's schema and
// collects every violation rather than stopping at the first one.
type SchemaValidator struct {
	schema *ToolSchema
	issues []*ValidationError
}

// NewSchemaValidator creates a new schema validator for the given tool schema.
func NewSchemaValidator(schema *ToolSchema) *SchemaValidator {
	return &SchemaValidator{
		schema: schema,
	}
}

// Validate returns the first violation, or nil when params are valid.
func (v *SchemaValidator) Validate(params map[string]interface{}) error {
	issues := v.ValidateAll(params)
	if len(issues) == 0 {
		return nil
	}
	return issues[0]
}

// ValidateAll returns every violation found in params.
func (v *SchemaValidator) ValidateAll(params map[string]interface{}) []*ValidationError {
	v.issues = nil
	if v.schema == nil {
		return nil
	}
	v.validateObject(v.schema.Properties, v.schema.Required, v.schema.AdditionalProperties, params, "")
	return v.issues
}

func (v *SchemaValidator) fail(path, message string) {
	v.issues = append(v.issues, &ValidationError{Path: path, Message: message})
}

func (v *SchemaValidator) validateObject(props map[string]*Property, required []string, additional *bool, value map[string]interface{}, path string) {
	if additional != nil && !*additional {
		for key := range value {
			if _, defined := props[key]; !defined {
				v.fail(path, fmt.Sprintf("additional property %q is not allowed", key))
			}
		}
	}

	for _, req := range required {
		if _, exists := value[req]; !exists {
			v.fail(joinPath(path, req), "required property is missing")
		}
	}

	for name, prop := range props {
		propValue, exists := value[name]
		if !exists {
			continue
		}
		v.validateValue(prop, propValue, joinPath(path, name))
	}
}

func (v *SchemaValidator) validateValue(prop *Property, value interface{}, path string) {
	if value == nil {
		if prop.Type != "null" {
			v.fail(path, "value cannot be null")
		}
		return
	}

	switch prop.Type {
	case "string":
		v.validateString(prop, value, path)
	case "number":
		v.validateNumber(prop, value, path)
	case "integer":
		v.validateInteger(prop, value, path)
	case "boolean":
		if _, ok := value.(bool); !ok {
			v.fail(path, fmt.Sprintf("expected boolean, got %T", value))
		}
	case "array":
		v.validateArray(prop, value, path)
	case "object":
		obj, ok := value.(map[string]interface{})
		if !ok {
			v.fail(path, fmt.Sprintf("expected object, got %T", value))
			return
		}
		v.validateObject(prop.Properties, prop.Required, nil, obj, path)
	case "null":
		v.fail(path, "value must be null")
	default:
		v.fail(path, fmt.Sprintf("unknown type %q", prop.Type))
	}
}

func (v *SchemaValidator) validateString(prop *Property, value interface{}, path string) {
	str, ok := value.(string)
	if !ok {
		v.fail(path, fmt.Sprintf("expected string, got %T", value))
		return
	}

	if len(prop.Enum) > 0 {
		found := false
		for _, allowed := range prop.Enum {
			if allowedStr, ok := allowed.(string); ok && allowedStr == str {
				found = true
				break
			}
		}
		if !found {
			v.fail(path, fmt.Sprintf("value %q is not in enum %v", str, prop.Enum))
		}
	}

	if prop.MinLength != nil && len(str) < *prop.MinLength {
		v.fail(path, fmt.Sprintf("string length %d is less than minimum %d", len(str), *prop.MinLength))
	}
	if prop.MaxLength != nil && len(str) > *prop.MaxLength {
		v.fail(path, fmt.Sprintf("string length %d is greater than maximum %d", len(str), *prop.MaxLength))
	}

	if prop.Pattern != "" {
		matched, err := regexp.MatchString(prop.Pattern, str)
		if err != nil {
			v.fail(path, fmt.Sprintf("invalid pattern: %v", err))
		} else if !matched {
			v.fail(path, fmt.Sprintf("string %q does not match pattern %q", str, prop.Pattern))
		}
	}

	if prop.Format != "" {
		if msg := checkFormat(prop.Format, str); msg != "" {
			v.fail(path, msg)
		}
	}
}

func (v *SchemaValidator) validateNumber(prop *Property, value interface{}, path string) {
	num, ok := toFloat64(value)
	if !ok {
		if n, isNumber := value.(json.Number); isNumber {
			f, err := n.Float64()
			if err != nil {
				v.fail(path, fmt.Sprintf("invalid number: %v", err))
				return
			}
			num = f
		} else {
			v.fail(path, fmt.Sprintf("expected number, got %T", value))
			return
		}
	}

	if len(prop.Enum) > 0 {
		found := false
		for _, allowed := range prop.Enum {
			if allowedNum, ok := toFloat64(allowed); ok && allowedNum == num {
				found = true
				break
			}
		}
		if !found {
			v.fail(path, fmt.Sprintf("value %v is not in enum %v", num, prop.Enum))
		}
	}

	v.checkRange(prop, num, path)
}

func (v *SchemaValidator) validateInteger(prop *Property, value interface{}, path string) {
	num, ok := toInt64(value)
	if !ok {
		switch n := value.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				v.fail(path, fmt.Sprintf("invalid integer: %v", err))
				return
			}
			num = i
		case float64:
			v.fail(path, fmt.Sprintf("expected integer, got float %v", n))
			return
		default:
			v.fail(path, fmt.Sprintf("expected integer, got %T", value))
			return
		}
	}

	if len(prop.Enum) > 0 {
		found := false
		for _, allowed := range prop.Enum {
			if allowedInt, ok := toInt64(allowed); ok && allowedInt == num {
				found = true
				break
			}
		}
		if !found {
			v.fail(path, fmt.Sprintf("value %v is not in enum %v", num, prop.Enum))
		}
	}

	v.checkRange(prop, float64(num), path)
}

func (v *SchemaValidator) checkRange(prop *Property, num float64, path string) {
	if prop.Minimum != nil && num < *prop.Minimum {
		v.fail(path, fmt.Sprintf("value %v is less than minimum %v", num, *prop.Minimum))
	}
	if prop.Maximum != nil && num > *prop.Maximum {
		v.fail(path, fmt.Sprintf("value %v is greater than maximum %v", num, *prop.Maximum))
	}
}

func (v *SchemaValidator) validateArray(prop *Property, value interface{}, path string) {
	arr, ok := toSlice(value)
	if !ok {
		v.fail(path, fmt.Sprintf("expected array, got %T", value))
		return
	}

	if prop.MinLength != nil && len(arr) < *prop.MinLength {
		v.fail(path, fmt.Sprintf("array length %d is less than minimum %d", len(arr), *prop.MinLength))
	}
	if prop.MaxLength != nil && len(arr) > *prop.MaxLength {
		v.fail(path, fmt.Sprintf("array length %d is greater than maximum %d", len(arr), *prop.MaxLength))
	}

	if prop.Items != nil {
		for i, item := range arr {
			v.validateValue(prop.Items, item, fmt.Sprintf("%s[%d]", path, i))
		}
	}
}

// checkFormat returns a violation message, or "" when value has the format.
func checkFormat(format, value string) string {
	switch format {
	case "email":
		if addr, err := mail.ParseAddress(value); err != nil || addr.Address != value {
			return fmt.Sprintf("%q is not a valid email address", value)
		}
	case "uri", "url":
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Sprintf("%q is not a valid URL", value)
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return fmt.Sprintf("%q is not a valid date-time", value)
		}
	case "date":
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			return fmt.Sprintf("%q is not a valid date", value)
		}
	case "uuid":
		if _, err := uuid.Parse(value); err != nil {
			return fmt.Sprintf("%q is not a valid UUID", value)
		}
	}
	return ""
}

// ValidationError describes one schema or context violation.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ApplyDefaults returns a copy of params with declared defaults filled in
// for absent top-level properties.
func ApplyDefaults(schema *ToolSchema, params map[string]interface{}) map[string]interface{} {
	out := cloneMap(params)
	if out == nil {
		out = make(map[string]interface{})
	}
	if schema == nil {
		return out
	}
	for name, prop := range schema.Properties {
		if _, ok := out[name]; !ok && prop.Default != nil {
			out[name] = prop.Default
		}
	}
	return out
}

// joinPath joins path segments for error reporting.
func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return int64(val), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch val := v.(type) {
	case []interface{}:
		return val, true
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
