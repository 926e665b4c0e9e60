package normalize

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultSeparator joins breadcrumb names.
const DefaultSeparator = " > "

// Breadcrumb is a hierarchical path decoded from an embedded JSON field.
type Breadcrumb struct {
	Nodes []string `json:"nodes"`
	Text  string   `json:"text"`
}

// ParseBreadcrumb decodes a path stored as a JSON-encoded array of {"name": ...}
// objects, either as a string (`"[{\"name\":\"Root\"}]"`) or as an array
// already decoded. Anything else, including invalid JSON, entries that are
// not objects, or entries without a string name, yields an empty breadcrumb.
func ParseBreadcrumb(value gjson.Result, separator string) Breadcrumb {
	if separator == "" {
		separator = DefaultSeparator
	}

	list := value
	if value.Type == gjson.String {
		if !gjson.Valid(value.Str) {
			return emptyBreadcrumb()
		}
		list = gjson.Parse(value.Str)
	}
	if !list.IsArray() {
		return emptyBreadcrumb()
	}

	nodes := []string{}
	ok := true
	list.ForEach(func(_, entry gjson.Result) bool {
		name := entry.Get("name")
		if !entry.IsObject() || name.Type != gjson.String {
			ok = false
			return false
		}
		nodes = append(nodes, name.Str)
		return true
	})
	if !ok {
		return emptyBreadcrumb()
	}

	return Breadcrumb{Nodes: nodes, Text: strings.Join(nodes, separator)}
}

func emptyBreadcrumb() Breadcrumb {
	return Breadcrumb{Nodes: []string{}, Text: ""}
}
