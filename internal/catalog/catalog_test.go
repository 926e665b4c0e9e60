package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/toolgate/internal/common"
	"github.com/bobmcallan/toolgate/internal/normalize"
	"github.com/bobmcallan/toolgate/internal/schema"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

func TestLoadFile_YAML(t *testing.T) {
	tools, err := LoadFile("testdata/catalog.yaml")
	require.NoError(t, err)
	require.Len(t, tools, 3)
	require.NoError(t, Check(tools))

	descs := Descriptors(tools, common.NewSilentLogger())
	require.Len(t, descs, 3)

	list := descs[0]
	assert.Equal(t, "list_indents", list.Name)
	assert.Equal(t, upstream.InQuery, list.Operation.Params[0].In, "GET params default to the query string")
	status, ok := list.Schema.Field("status")
	require.True(t, ok)
	assert.Equal(t, schema.TypeArray, status.Type)
	require.NotNil(t, status.Items)
	assert.Equal(t, schema.TypeString, status.Items.Type)

	approve := descs[2]
	assert.Equal(t, "POST", approve.Operation.Method)
	assert.Equal(t, schema.UnknownReject, approve.Schema.Unknown)
	assert.Equal(t, upstream.InBody, approve.Operation.Params[1].In, "POST params default to the body")
	assert.Equal(t, "note.text", approve.Operation.Params[2].Key)
	require.NotNil(t, approve.Operation.Success)
	assert.Equal(t, []string{"DONE"}, approve.Operation.Success.SuccessValues)
	decision, _ := approve.Schema.Field("decision")
	assert.Equal(t, schema.TypeString, decision.Type, "type defaults to string")
}

func TestLoadFile_YAMLArgumentsValidate(t *testing.T) {
	tools, err := LoadFile("testdata/catalog.yaml")
	require.NoError(t, err)
	d, err := BuildDescriptor(tools[0])
	require.NoError(t, err)

	args, err := d.Schema.Validate(map[string]any{"status": []any{"OPEN"}})
	require.NoError(t, err)
	assert.Equal(t, int64(20), args["size"])
	assert.Equal(t, int64(0), args["page"])

	_, err = d.Schema.Validate(map[string]any{"size": 500})
	assert.Error(t, err)
}

func TestLoadFile_JSONAndTOML(t *testing.T) {
	jsonTools, err := LoadFile("testdata/catalog.json")
	require.NoError(t, err)
	require.Len(t, jsonTools, 1)
	d, err := BuildDescriptor(jsonTools[0])
	require.NoError(t, err)
	assert.Equal(t, "GET", d.Operation.Method, "method is upper-cased")

	tomlTools, err := LoadFile("testdata/catalog.toml")
	require.NoError(t, err)
	require.Len(t, tomlTools, 1)
	assert.Equal(t, "list_vendors", tomlTools[0].Name)
	require.NotNil(t, tomlTools[0].Normalizer)
	assert.Equal(t, normalize.PageList, tomlTools[0].Normalizer.Name)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("tools:\n  - name: x\n    methd: GET\n"), FormatYAML)
	assert.Error(t, err)

	_, err = Parse([]byte(`{"tools":[{"name":"x","verb":"GET"}]}`), FormatJSON)
	assert.Error(t, err)
}

func TestParse_EmptyYAML(t *testing.T) {
	tools, err := Parse([]byte(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile("testdata/catalog.xml")
	assert.ErrorContains(t, err, "cannot infer catalog format")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	big := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, os.WriteFile(big, make([]byte, maxCatalogSize+1), 0o644))
	_, err = LoadFile(big)
	assert.ErrorContains(t, err, "too large")
}

func TestValidateCatalogTool(t *testing.T) {
	tests := []struct {
		name    string
		tool    CatalogTool
		wantErr string
	}{
		{"valid", CatalogTool{Name: "a", Method: "GET", Path: "/x"}, ""},
		{"empty name", CatalogTool{Method: "GET", Path: "/x"}, "empty name"},
		{"empty method", CatalogTool{Name: "a", Path: "/x"}, "empty method"},
		{"bad method", CatalogTool{Name: "a", Method: "TRACE", Path: "/x"}, "unsupported method"},
		{"empty path", CatalogTool{Name: "a", Method: "GET"}, "empty path"},
		{"relative path", CatalogTool{Name: "a", Method: "GET", Path: "x"}, "must start with /"},
		{"traversal", CatalogTool{Name: "a", Method: "GET", Path: "/x/../y"}, "contains .."},
		{"unbound placeholder", CatalogTool{Name: "a", Method: "GET", Path: "/x/{id}"}, "{id} has no path parameter"},
		{"optional path param", CatalogTool{Name: "a", Method: "GET", Path: "/x/{id}", Params: []CatalogParam{{Name: "id", In: "path"}}}, "must be required"},
		{"bad location", CatalogTool{Name: "a", Method: "GET", Path: "/x", Params: []CatalogParam{{Name: "id", In: "cookie"}}}, "unsupported location"},
		{"bound placeholder", CatalogTool{Name: "a", Method: "GET", Path: "/x/{id}", Params: []CatalogParam{{Name: "id", In: "path", Required: true}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCatalogTool(tt.tool)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBuildDescriptor_Errors(t *testing.T) {
	_, err := BuildDescriptor(CatalogTool{Name: "a", Method: "GET", Path: "/x", Unknown: "keep"})
	assert.ErrorContains(t, err, "unknown policy")

	_, err = BuildDescriptor(CatalogTool{Name: "a", Method: "GET", Path: "/x", Normalizer: &normalize.Options{Name: "csv"}})
	assert.ErrorContains(t, err, "unknown normalizer")

	_, err = BuildDescriptor(CatalogTool{Name: "a", Method: "GET", Path: "/x", Params: []CatalogParam{{Name: "n", Type: "decimal"}}})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestDescriptors_SkipsInvalidAndDuplicates(t *testing.T) {
	logger := common.NewSilentLogger()
	tools := []CatalogTool{
		{Name: "a", Method: "GET", Path: "/a"},
		{Name: "a", Method: "GET", Path: "/a2"},
		{Name: "b", Method: "CONNECT", Path: "/b"},
		{Name: "c", Method: "DELETE", Path: "/c"},
	}

	descs := Descriptors(tools, logger)
	require.Len(t, descs, 2)
	assert.Equal(t, "a", descs[0].Name)
	assert.Equal(t, "/a", descs[0].Operation.Path)
	assert.Equal(t, "c", descs[1].Name)

	err := Check(tools)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a" declared twice`)
	assert.Contains(t, err.Error(), "unsupported method")
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/catalog":
			w.Header().Set("Content-Type", "application/yaml")
			w.Write([]byte("tools:\n  - name: remote\n    method: GET\n    path: /r\n"))
		case "/catalog.json":
			w.Write([]byte(`{"tools":[{"name":"remote_json","method":"GET","path":"/r"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tools, err := Load(context.Background(), srv.Client(), srv.URL+"/catalog")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "remote", tools[0].Name)

	tools, err = Fetch(context.Background(), srv.Client(), srv.URL+"/catalog.json")
	require.NoError(t, err)
	assert.Equal(t, "remote_json", tools[0].Name)

	_, err = Fetch(context.Background(), srv.Client(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}
