package normalize

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Page is the stable shape of a paged list, whatever envelope the upstream used.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	Page       int64             `json:"page"`
	Size       int64             `json:"size"`
	Total      int64             `json:"total"`
	TotalPages int64             `json:"totalPages"`
}

// ExtractPage reads a Spring-style page envelope:
//
//	{"data": {"content": [...], "pageable": {"pageNumber": 0, "pageSize": 20},
//	          "totalElements": 42, "totalPages": 3}}
//
// Missing parts default to page 0, size and total equal to the item count,
// and one page. A payload that is already a Page is read back unchanged, so
// extraction is idempotent. Invalid JSON yields an empty page.
func ExtractPage(payload []byte) Page {
	if !gjson.ValidBytes(payload) {
		return emptyPage()
	}
	root := gjson.ParseBytes(payload)

	data := root.Get("data")
	if !data.Exists() && root.Get("items").IsArray() {
		return fromNormalized(root)
	}

	items := rawItems(data.Get("content"))
	count := int64(len(items))
	return Page{
		Items:      items,
		Page:       intOr(data.Get("pageable.pageNumber"), 0),
		Size:       intOr(data.Get("pageable.pageSize"), count),
		Total:      intOr(data.Get("totalElements"), count),
		TotalPages: intOr(data.Get("totalPages"), 1),
	}
}

func fromNormalized(root gjson.Result) Page {
	items := rawItems(root.Get("items"))
	count := int64(len(items))
	return Page{
		Items:      items,
		Page:       intOr(root.Get("page"), 0),
		Size:       intOr(root.Get("size"), count),
		Total:      intOr(root.Get("total"), count),
		TotalPages: intOr(root.Get("totalPages"), 1),
	}
}

func emptyPage() Page {
	return Page{Items: []json.RawMessage{}, TotalPages: 1}
}

func rawItems(list gjson.Result) []json.RawMessage {
	items := []json.RawMessage{}
	if !list.IsArray() {
		return items
	}
	list.ForEach(func(_, value gjson.Result) bool {
		items = append(items, json.RawMessage(value.Raw))
		return true
	})
	return items
}

func intOr(r gjson.Result, fallback int64) int64 {
	if r.Type != gjson.Number {
		return fallback
	}
	return r.Int()
}
