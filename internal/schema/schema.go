// Package schema declares tool argument schemas and validates raw tool
// arguments against them.
//
// A Schema is plain data: the same interpreter validates every tool, so adding
// a tool never means writing validation code.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Type is the JSON type a field accepts after coercion.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// UnknownPolicy controls what happens to arguments the schema does not declare.
type UnknownPolicy string

const (
	// UnknownDrop removes undeclared arguments silently. This is the default.
	UnknownDrop UnknownPolicy = "drop"
	// UnknownReject reports each undeclared argument as a violation.
	UnknownReject UnknownPolicy = "reject"
	// UnknownPreserve passes undeclared arguments through unchanged.
	UnknownPreserve UnknownPolicy = "preserve"
)

// Field declares one argument.
type Field struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Type        Type     `json:"type" yaml:"type" toml:"type"`
	Description string   `json:"description,omitempty" yaml:"description" toml:"description"`
	Required    bool     `json:"required,omitempty" yaml:"required" toml:"required"`
	Default     any      `json:"default,omitempty" yaml:"default" toml:"default"`
	Enum        []string `json:"enum,omitempty" yaml:"enum" toml:"enum"`
	Items       *Field   `json:"items,omitempty" yaml:"items" toml:"items"`
	Minimum     *float64 `json:"minimum,omitempty" yaml:"minimum" toml:"minimum"`
	Maximum     *float64 `json:"maximum,omitempty" yaml:"maximum" toml:"maximum"`
}

// Schema is the declared argument set of one tool.
type Schema struct {
	Fields  []Field       `json:"fields" yaml:"fields" toml:"fields"`
	Unknown UnknownPolicy `json:"unknown,omitempty" yaml:"unknown" toml:"unknown"`
}

// Field returns the declaration for name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) unknownPolicy() UnknownPolicy {
	switch s.Unknown {
	case UnknownReject, UnknownPreserve:
		return s.Unknown
	}
	return UnknownDrop
}

// Check verifies the schema declaration itself: field names are unique,
// types are known and declared defaults conform to their field.
func (s Schema) Check() error {
	var merr *multierror.Error

	switch s.Unknown {
	case "", UnknownDrop, UnknownReject, UnknownPreserve:
	default:
		merr = multierror.Append(merr, fmt.Errorf("unknown policy %q is not one of drop, reject, preserve", s.Unknown))
	}

	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			merr = multierror.Append(merr, fmt.Errorf("field %d has empty name", i))
			continue
		}
		if seen[f.Name] {
			merr = multierror.Append(merr, fmt.Errorf("field %q declared twice", f.Name))
		}
		seen[f.Name] = true
		merr = multierror.Append(merr, checkField(f.Name, f))
	}
	return merr.ErrorOrNil()
}

func checkField(path string, f Field) error {
	var merr *multierror.Error
	if !f.Type.valid() {
		merr = multierror.Append(merr, fmt.Errorf("field %q has unsupported type %q", path, f.Type))
		return merr.ErrorOrNil()
	}
	if f.Items != nil {
		if f.Type != TypeArray {
			merr = multierror.Append(merr, fmt.Errorf("field %q declares items but is %s", path, f.Type))
		} else {
			merr = multierror.Append(merr, checkField(path+"[]", *f.Items))
		}
	}
	if f.Minimum != nil && f.Maximum != nil && *f.Minimum > *f.Maximum {
		merr = multierror.Append(merr, fmt.Errorf("field %q has minimum above maximum", path))
	}
	if f.Default != nil {
		var defaults []Violation
		validateValue(path, f, f.Default, &defaults)
		for _, v := range defaults {
			merr = multierror.Append(merr, fmt.Errorf("field %q default: %s", path, v.Error()))
		}
	}
	return merr.ErrorOrNil()
}

// JSONSchema renders the schema as a JSON-Schema object suitable for an MCP
// tool's inputSchema.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Fields))
	required := make([]string, 0)
	for _, f := range s.Fields {
		properties[f.Name] = fieldJSONSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	sort.Strings(required)

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": s.unknownPolicy() == UnknownPreserve,
	}
}

func fieldJSONSchema(f Field) map[string]any {
	out := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		out["description"] = f.Description
	}
	if f.Default != nil {
		out["default"] = f.Default
	}
	if len(f.Enum) > 0 {
		out["enum"] = f.Enum
	}
	if f.Minimum != nil {
		out["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		out["maximum"] = *f.Maximum
	}
	if f.Type == TypeArray && f.Items != nil {
		out["items"] = fieldJSONSchema(*f.Items)
	}
	return out
}
