package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Location is where an argument is placed in the outgoing request.
type Location string

const (
	InPath   Location = "path"
	InQuery  Location = "query"
	InBody   Location = "body"
	InHeader Location = "header"
)

// Param binds a validated argument to a place in the request.
type Param struct {
	Name string   // argument name
	In   Location // where it goes
	Key  string   // wire name; defaults to Name. For body params this is a dotted path.
}

func (p Param) wireKey() string {
	if p.Key != "" {
		return p.Key
	}
	return p.Name
}

// BusinessCheck detects a failure reported inside a 2xx body, for upstreams
// that answer {"status": "FAILED", ...} with HTTP 200.
type BusinessCheck struct {
	Field         string
	SuccessValues []string
	MessageField  string
}

// Failed reports whether payload carries a business failure. A missing
// status field is not a failure.
func (b *BusinessCheck) Failed(payload []byte) (bool, string) {
	if b == nil || b.Field == "" {
		return false, ""
	}
	res := gjson.GetBytes(payload, b.Field)
	if !res.Exists() || res.Type == gjson.Null {
		return false, ""
	}
	value := res.String()
	for _, ok := range b.SuccessValues {
		if value == ok {
			return false, ""
		}
	}
	reason := fmt.Sprintf("upstream reported %s=%q", b.Field, value)
	msgField := b.MessageField
	if msgField == "" {
		msgField = "message"
	}
	if msg := gjson.GetBytes(payload, msgField); msg.Exists() && msg.String() != "" {
		reason += ": " + msg.String()
	}
	return true, reason
}

// Operation is one REST endpoint the gateway can call.
type Operation struct {
	Name    string
	Method  string
	Path    string // may contain {name} placeholders
	Params  []Param
	Success *BusinessCheck // nil uses the client default
}

// Key identifies the endpoint for breakers and metrics.
func (op Operation) Key() string {
	return op.Method + " " + op.Path
}

// Mutating reports whether repeating the request could change upstream state.
func (op Operation) Mutating() bool {
	switch op.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// prepared is a request ready to be sent any number of times.
type prepared struct {
	method  string
	url     string
	body    []byte
	headers http.Header
}

// prepare places validated arguments into path, query, body and headers.
// Arguments with no matching Param are ignored.
func (op Operation) prepare(baseURL string, args map[string]any) (*prepared, error) {
	path := op.Path
	query := url.Values{}
	headers := http.Header{}
	var body []byte

	for _, p := range op.Params {
		value, ok := args[p.Name]
		if !ok || value == nil {
			if p.In == InPath {
				return nil, fmt.Errorf("missing path parameter %q", p.Name)
			}
			continue
		}

		switch p.In {
		case InPath:
			s, err := scalarString(value)
			if err != nil {
				return nil, fmt.Errorf("path parameter %q: %w", p.Name, err)
			}
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(s))
		case InQuery:
			if err := addQuery(query, p.wireKey(), value); err != nil {
				return nil, fmt.Errorf("query parameter %q: %w", p.Name, err)
			}
		case InHeader:
			s, err := scalarString(value)
			if err != nil {
				return nil, fmt.Errorf("header parameter %q: %w", p.Name, err)
			}
			headers.Set(p.wireKey(), s)
		case InBody:
			if body == nil {
				body = []byte("{}")
			}
			var err error
			body, err = sjson.SetBytes(body, p.wireKey(), value)
			if err != nil {
				return nil, fmt.Errorf("body parameter %q: %w", p.Name, err)
			}
		default:
			return nil, fmt.Errorf("parameter %q has unknown location %q", p.Name, p.In)
		}
	}

	if strings.Contains(path, "{") {
		return nil, fmt.Errorf("unresolved path placeholder in %s", path)
	}

	target := strings.TrimRight(baseURL, "/") + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	return &prepared{method: op.Method, url: target, body: body, headers: headers}, nil
}

// addQuery appends value under key. Arrays are repeated, not comma-joined.
func addQuery(q url.Values, key string, value any) error {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			s, err := scalarString(item)
			if err != nil {
				return err
			}
			q.Add(key, s)
		}
		return nil
	case []string:
		for _, s := range v {
			q.Add(key, s)
		}
		return nil
	}
	s, err := scalarString(value)
	if err != nil {
		return err
	}
	q.Add(key, s)
	return nil
}

func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	}
	return "", fmt.Errorf("cannot encode %T as a string", value)
}
