// Package normalize reshapes upstream payloads into stable tool outputs.
// Every built-in normalizer is total: it returns a value for any input,
// including invalid JSON, and never panics.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// Normalizer turns an upstream payload into the tool's output value. The
// returned value must be JSON-marshalable.
type Normalizer func(payload []byte) any

// Built-in normalizer names.
const (
	Raw             = "raw"
	PageList        = "page"
	PageBreadcrumbs = "page_breadcrumbs"
	Data            = "data"
)

// Options selects and configures a built-in normalizer.
type Options struct {
	Name      string   `json:"name" yaml:"name" toml:"name"`
	Fields    []string `json:"fields,omitempty" yaml:"fields,omitempty" toml:"fields,omitempty"`
	Separator string   `json:"separator,omitempty" yaml:"separator,omitempty" toml:"separator,omitempty"`
	Path      string   `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// Names lists the built-in normalizers.
func Names() []string {
	names := []string{Raw, PageList, PageBreadcrumbs, Data}
	sort.Strings(names)
	return names
}

// Build returns the named normalizer. An empty name selects Raw.
func Build(opts Options) (Normalizer, error) {
	switch opts.Name {
	case "", Raw:
		return RawJSON, nil
	case PageList:
		return func(payload []byte) any { return ExtractPage(payload) }, nil
	case PageBreadcrumbs:
		if len(opts.Fields) == 0 {
			return nil, fmt.Errorf("normalizer %q requires fields", opts.Name)
		}
		return PageWithBreadcrumbs(opts.Fields, opts.Separator), nil
	case Data:
		path := opts.Path
		if path == "" {
			path = "data"
		}
		return Pluck(path), nil
	}
	return nil, fmt.Errorf("unknown normalizer %q (available: %v)", opts.Name, Names())
}

// RawJSON returns the payload as-is when it is valid JSON, else as a string.
func RawJSON(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	if gjson.ValidBytes(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}

// Pluck returns the value at a gjson path, or the whole payload when the
// path is absent.
func Pluck(path string) Normalizer {
	return func(payload []byte) any {
		if !gjson.ValidBytes(payload) {
			return RawJSON(payload)
		}
		res := gjson.GetBytes(payload, path)
		if !res.Exists() {
			return json.RawMessage(payload)
		}
		return json.RawMessage(res.Raw)
	}
}

// PageWithBreadcrumbs extracts a page and decodes the embedded path fields
// of every item.
func PageWithBreadcrumbs(fields []string, separator string) Normalizer {
	fn := BreadcrumbFields(fields, separator)
	return func(payload []byte) any {
		page := ExtractPage(payload)
		page.Items = MapItems(page.Items, fn)
		return page
	}
}
