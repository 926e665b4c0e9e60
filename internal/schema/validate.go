package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Validate checks raw arguments against the schema. It returns a new map
// holding the coerced, schema-conformant arguments, or a *ValidationError
// listing every violated constraint. raw is never modified.
//
// Coercion happens before type checks: numeric strings become numbers for
// number and integer fields, and absent optional fields receive their
// declared default. A JSON null is treated the same as an absent field.
func (s Schema) Validate(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s.Fields))
	var violations []Violation

	declared := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		declared[f.Name] = true

		value, present := raw[f.Name]
		if !present || value == nil {
			if f.Default != nil {
				if coerced, ok := validateValue(f.Name, f, f.Default, &violations); ok {
					out[f.Name] = coerced
				}
				continue
			}
			if f.Required {
				violations = append(violations, Violation{
					Path:       f.Name,
					Constraint: ConstraintRequired,
					Message:    "is required",
				})
			}
			continue
		}

		if coerced, ok := validateValue(f.Name, f, value, &violations); ok {
			out[f.Name] = coerced
		}
	}

	unknown := make([]string, 0)
	for name := range raw {
		if !declared[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)

	switch s.unknownPolicy() {
	case UnknownReject:
		for _, name := range unknown {
			violations = append(violations, Violation{
				Path:       name,
				Constraint: ConstraintUnknown,
				Value:      raw[name],
				Message:    "is not a declared argument",
			})
		}
	case UnknownPreserve:
		for _, name := range unknown {
			out[name] = raw[name]
		}
	}

	if len(violations) > 0 {
		return nil, newValidationError(violations)
	}
	return out, nil
}

// validateValue coerces and checks one value, appending violations. The
// boolean result reports whether the coerced value is usable.
func validateValue(path string, f Field, value any, violations *[]Violation) (any, bool) {
	coerced, ok := coerce(f.Type, value)
	if !ok {
		*violations = append(*violations, Violation{
			Path:       path,
			Constraint: ConstraintType,
			Value:      value,
			Message:    fmt.Sprintf("must be %s, got %s", articleFor(f.Type), describe(value)),
		})
		return nil, false
	}

	valid := true
	if len(f.Enum) > 0 && !inEnum(f.Enum, coerced) {
		*violations = append(*violations, Violation{
			Path:       path,
			Constraint: ConstraintEnum,
			Value:      value,
			Message:    fmt.Sprintf("must be one of [%s]", strings.Join(f.Enum, ", ")),
		})
		valid = false
	}

	if n, isNumber := asFloat(coerced); isNumber {
		if f.Minimum != nil && n < *f.Minimum {
			*violations = append(*violations, Violation{
				Path:       path,
				Constraint: ConstraintMinimum,
				Value:      value,
				Message:    fmt.Sprintf("must be >= %s", formatNumber(*f.Minimum)),
			})
			valid = false
		}
		if f.Maximum != nil && n > *f.Maximum {
			*violations = append(*violations, Violation{
				Path:       path,
				Constraint: ConstraintMaximum,
				Value:      value,
				Message:    fmt.Sprintf("must be <= %s", formatNumber(*f.Maximum)),
			})
			valid = false
		}
	}

	// An array without declared items accepts elements of any type.
	if f.Type == TypeArray && f.Items != nil {
		items := coerced.([]any)
		checked := make([]any, len(items))
		for i, item := range items {
			c, ok := validateValue(fmt.Sprintf("%s[%d]", path, i), *f.Items, item, violations)
			if !ok {
				valid = false
				continue
			}
			checked[i] = c
		}
		coerced = checked
	}

	return coerced, valid
}

// coerce converts value to the Go representation of t: string, float64,
// int64, bool, []any or map[string]any.
func coerce(t Type, value any) (any, bool) {
	switch t {
	case TypeString:
		s, ok := value.(string)
		return s, ok
	case TypeNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		return n, true
	case TypeInteger:
		n, ok := toInt(value)
		if !ok {
			return nil, false
		}
		return n, true
	case TypeBoolean:
		b, ok := value.(bool)
		return b, ok
	case TypeArray:
		switch v := value.(type) {
		case []any:
			return v, true
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, true
		}
		return nil, false
	case TypeObject:
		m, ok := value.(map[string]any)
		return m, ok
	}
	return nil, false
}

func toFloat(value any) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case int32:
		n = float64(v)
	case uint64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// maxExactFloat is the largest magnitude below which every integer has an
// exact float64 representation.
const maxExactFloat = 1 << 53

// toInt converts value to int64 without passing decimal text through
// float64, so large identifiers keep every digit. Float forms are accepted
// only when they hold an exact integer within ±2^53.
func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		return exactInt(v)
	case float32:
		return exactInt(float64(v))
	case json.Number:
		return parseInt(string(v))
	case string:
		return parseInt(strings.TrimSpace(v))
	}
	return 0, false
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n, true
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return exactInt(f)
}

func exactInt(f float64) (int64, bool) {
	if math.IsNaN(f) || f != math.Trunc(f) || f > maxExactFloat || f < -maxExactFloat {
		return 0, false
	}
	return int64(f), true
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func inEnum(enum []string, value any) bool {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case float64:
		s = formatNumber(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case bool:
		s = strconv.FormatBool(v)
	default:
		return false
	}
	for _, allowed := range enum {
		if allowed == s {
			return true
		}
	}
	return false
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func articleFor(t Type) string {
	switch t {
	case TypeArray, TypeObject, TypeInteger:
		return "an " + string(t)
	}
	return "a " + string(t)
}

func describe(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, uint64, json.Number:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}
