// Package catalog loads the tool catalog that maps tool names to upstream
// REST operations and turns it into dispatch descriptors.
package catalog

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/dispatch"
	"github.com/bobmcallan/toolgate/internal/normalize"
	"github.com/bobmcallan/toolgate/internal/schema"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

// allowedMethods is the whitelist of HTTP methods for catalog tools.
var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// File is the on-disk catalog document.
type File struct {
	Tools []CatalogTool `json:"tools" yaml:"tools" toml:"tools"`
}

// CatalogTool is one tool entry.
type CatalogTool struct {
	Name        string             `json:"name" yaml:"name" toml:"name"`
	Description string             `json:"description" yaml:"description" toml:"description"`
	Method      string             `json:"method" yaml:"method" toml:"method"`
	Path        string             `json:"path" yaml:"path" toml:"path"`
	Unknown     string             `json:"unknown,omitempty" yaml:"unknown,omitempty" toml:"unknown,omitempty"` // drop, reject or preserve
	Params      []CatalogParam     `json:"params" yaml:"params" toml:"params"`
	Success     *SuccessCheck      `json:"success,omitempty" yaml:"success,omitempty" toml:"success,omitempty"`
	Normalizer  *normalize.Options `json:"normalizer,omitempty" yaml:"normalizer,omitempty" toml:"normalizer,omitempty"`
}

// CatalogParam describes one argument and where it goes upstream.
type CatalogParam struct {
	Name        string        `json:"name" yaml:"name" toml:"name"`
	Type        string        `json:"type" yaml:"type" toml:"type"` // string, number, integer, boolean, array, object
	Description string        `json:"description" yaml:"description" toml:"description"`
	Required    bool          `json:"required" yaml:"required" toml:"required"`
	In          string        `json:"in" yaml:"in" toml:"in"`                                  // path, query, body, header
	Key         string        `json:"key,omitempty" yaml:"key,omitempty" toml:"key,omitempty"` // wire name when it differs
	Default     any           `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
	Enum        []string      `json:"enum,omitempty" yaml:"enum,omitempty" toml:"enum,omitempty"`
	Minimum     *float64      `json:"minimum,omitempty" yaml:"minimum,omitempty" toml:"minimum,omitempty"`
	Maximum     *float64      `json:"maximum,omitempty" yaml:"maximum,omitempty" toml:"maximum,omitempty"`
	Items       *schema.Field `json:"items,omitempty" yaml:"items,omitempty" toml:"items,omitempty"`
}

// SuccessCheck overrides the upstream-wide business status check for one tool.
// An empty Field disables the check.
type SuccessCheck struct {
	Field   string   `json:"field" yaml:"field" toml:"field"`
	Values  []string `json:"values" yaml:"values" toml:"values"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty" toml:"message,omitempty"`
}

// location returns where the param goes, defaulting to the query string for
// reads and the body for writes.
func (p CatalogParam) location(method string) upstream.Location {
	if p.In != "" {
		return upstream.Location(strings.ToLower(p.In))
	}
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodDelete:
		return upstream.InQuery
	}
	return upstream.InBody
}

// ValidateCatalogTool validates a single catalog tool entry.
func ValidateCatalogTool(ct CatalogTool) error {
	if ct.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if ct.Method == "" {
		return fmt.Errorf("tool %q has empty method", ct.Name)
	}
	if !allowedMethods[strings.ToUpper(ct.Method)] {
		return fmt.Errorf("tool %q has unsupported method %q", ct.Name, ct.Method)
	}
	if ct.Path == "" {
		return fmt.Errorf("tool %q has empty path", ct.Name)
	}
	if !strings.HasPrefix(ct.Path, "/") {
		return fmt.Errorf("tool %q has invalid path %q (must start with /)", ct.Name, ct.Path)
	}
	if strings.Contains(ct.Path, "..") {
		return fmt.Errorf("tool %q has invalid path %q (contains ..)", ct.Name, ct.Path)
	}

	pathParams := map[string]bool{}
	for _, p := range ct.Params {
		switch p.location(ct.Method) {
		case upstream.InPath:
			pathParams[p.Name] = true
			if !p.Required && p.Default == nil {
				return fmt.Errorf("tool %q path parameter %q must be required or have a default", ct.Name, p.Name)
			}
		case upstream.InQuery, upstream.InBody, upstream.InHeader:
		default:
			return fmt.Errorf("tool %q parameter %q has unsupported location %q", ct.Name, p.Name, p.In)
		}
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(ct.Path, -1) {
		if !pathParams[m[1]] {
			return fmt.Errorf("tool %q path placeholder {%s} has no path parameter", ct.Name, m[1])
		}
	}
	return nil
}

// Check reports every problem in the catalog at once.
func Check(tools []CatalogTool) error {
	var errs *multierror.Error
	seen := make(map[string]bool, len(tools))
	for _, ct := range tools {
		if _, err := BuildDescriptor(ct); err != nil {
			errs = multierror.Append(errs, err)
		}
		if ct.Name != "" && seen[ct.Name] {
			errs = multierror.Append(errs, fmt.Errorf("tool %q declared twice", ct.Name))
		}
		seen[ct.Name] = true
	}
	return errs.ErrorOrNil()
}

// Descriptors builds dispatch descriptors, logging warnings for invalid or
// duplicate tools and skipping them.
func Descriptors(tools []CatalogTool, logger *common.Logger) []dispatch.Descriptor {
	seen := make(map[string]bool, len(tools))
	out := make([]dispatch.Descriptor, 0, len(tools))
	for _, ct := range tools {
		d, err := BuildDescriptor(ct)
		if err != nil {
			logger.Warn().Str("error", err.Error()).Msg("skipping invalid catalog tool")
			continue
		}
		if seen[ct.Name] {
			logger.Warn().Str("name", ct.Name).Msg("skipping duplicate catalog tool")
			continue
		}
		seen[ct.Name] = true
		out = append(out, d)
	}
	return out
}

// BuildDescriptor converts a catalog entry into a dispatch descriptor.
func BuildDescriptor(ct CatalogTool) (dispatch.Descriptor, error) {
	if err := ValidateCatalogTool(ct); err != nil {
		return dispatch.Descriptor{}, err
	}

	method := strings.ToUpper(ct.Method)
	s := schema.Schema{Unknown: schema.UnknownPolicy(strings.ToLower(ct.Unknown))}
	op := upstream.Operation{Name: ct.Name, Method: method, Path: ct.Path}

	for _, p := range ct.Params {
		typ := schema.Type(strings.ToLower(p.Type))
		if typ == "" {
			typ = schema.TypeString
		}
		s.Fields = append(s.Fields, schema.Field{
			Name:        p.Name,
			Type:        typ,
			Description: p.Description,
			Required:    p.Required,
			Default:     p.Default,
			Enum:        p.Enum,
			Items:       p.Items,
			Minimum:     p.Minimum,
			Maximum:     p.Maximum,
		})
		op.Params = append(op.Params, upstream.Param{Name: p.Name, In: p.location(method), Key: p.Key})
	}
	if err := s.Check(); err != nil {
		return dispatch.Descriptor{}, fmt.Errorf("tool %q: %w", ct.Name, err)
	}

	if ct.Success != nil {
		op.Success = &upstream.BusinessCheck{
			Field:         ct.Success.Field,
			SuccessValues: ct.Success.Values,
			MessageField:  ct.Success.Message,
		}
	}

	var opts normalize.Options
	if ct.Normalizer != nil {
		opts = *ct.Normalizer
	}
	norm, err := normalize.Build(opts)
	if err != nil {
		return dispatch.Descriptor{}, fmt.Errorf("tool %q: %w", ct.Name, err)
	}

	return dispatch.Descriptor{
		Name:        ct.Name,
		Description: ct.Description,
		Schema:      s,
		Operation:   op,
		Normalizer:  norm,
	}, nil
}
