package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrorField marks an item whose transform failed.
const ErrorField = "_error"

// ItemFunc transforms one list item.
type ItemFunc func(item []byte) ([]byte, error)

// MapItems applies fn to every item. A failing item, by error or panic, is
// replaced by the original item carrying an ErrorField marker; the rest of
// the batch is still transformed.
func MapItems(items []json.RawMessage, fn ItemFunc) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		out[i] = mapItem(item, fn)
	}
	return out
}

func mapItem(item json.RawMessage, fn ItemFunc) (result json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			result = markError(item, fmt.Sprintf("transform panicked: %v", r))
		}
	}()

	transformed, err := fn(bytes.Clone(item))
	if err != nil {
		return markError(item, err.Error())
	}
	if !gjson.ValidBytes(transformed) {
		return markError(item, "transform produced invalid JSON")
	}
	return transformed
}

// markError attaches msg to an object item, or wraps a non-object item as
// {"value": item, "_error": msg}.
func markError(item json.RawMessage, msg string) json.RawMessage {
	base := []byte(item)
	if !gjson.ValidBytes(base) || !gjson.ParseBytes(base).IsObject() {
		var err error
		base, err = sjson.SetRawBytes([]byte(`{}`), "value", rawOrNull(item))
		if err != nil {
			base = []byte(`{}`)
		}
	}
	marked, err := sjson.SetBytes(bytes.Clone(base), ErrorField, msg)
	if err != nil {
		return json.RawMessage(`{"_error":"transform failed"}`)
	}
	return marked
}

func rawOrNull(item json.RawMessage) []byte {
	if gjson.ValidBytes(item) {
		return item
	}
	b, _ := json.Marshal(string(item))
	return b
}

// BreadcrumbFields returns an ItemFunc replacing each named field that holds
// an embedded path with its decoded Breadcrumb. Absent fields are left alone.
func BreadcrumbFields(fields []string, separator string) ItemFunc {
	return func(item []byte) ([]byte, error) {
		out := item
		for _, field := range fields {
			value := gjson.GetBytes(out, field)
			if !value.Exists() {
				continue
			}
			var err error
			out, err = sjson.SetBytes(out, field, ParseBreadcrumb(value, separator))
			if err != nil {
				return nil, fmt.Errorf("set %s: %w", field, err)
			}
		}
		return out, nil
	}
}
