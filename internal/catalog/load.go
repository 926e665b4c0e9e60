package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// maxCatalogSize is the maximum allowed size for a catalog document (1MB).
const maxCatalogSize = 1 << 20

// Format is a catalog document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatFor infers the format from a file name or URL path.
func FormatFor(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("cannot infer catalog format from %q (use .yaml, .json or .toml)", name)
}

// Parse decodes a catalog document. Unknown keys are rejected so typos in
// a catalog fail loudly at startup.
func Parse(data []byte, format Format) ([]CatalogTool, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to parse YAML catalog: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON catalog: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to parse TOML catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	return f.Tools, nil
}

// LoadFile reads a catalog from disk.
func LoadFile(path string) ([]CatalogTool, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if info.Size() > maxCatalogSize {
		return nil, fmt.Errorf("catalog too large: %d bytes (max %d)", info.Size(), maxCatalogSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data, format)
}

// Fetch downloads a catalog over HTTP. The format comes from the response
// Content-Type, falling back to the URL's extension, then JSON.
func Fetch(ctx context.Context, hc *http.Client, url string) ([]CatalogTool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/yaml, application/toml")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog response: %w", err)
	}
	if len(body) > maxCatalogSize {
		return nil, fmt.Errorf("catalog response too large (max %d bytes)", maxCatalogSize)
	}

	return Parse(body, formatForResponse(resp, url))
}

func formatForResponse(resp *http.Response, url string) Format {
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		switch {
		case strings.Contains(mt, "yaml"):
			return FormatYAML
		case strings.Contains(mt, "toml"):
			return FormatTOML
		case strings.Contains(mt, "json"):
			return FormatJSON
		}
	}
	if f, err := FormatFor(strings.SplitN(url, "?", 2)[0]); err == nil {
		return f
	}
	return FormatJSON
}

// Load reads a catalog from a file path or an http(s) URL.
func Load(ctx context.Context, hc *http.Client, source string) ([]CatalogTool, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return Fetch(ctx, hc, source)
	}
	return LoadFile(source)
}
