// Package toolfile loads tool definitions from YAML, TOML or JSON files.
//
// A definition file declares one or more GET tools against the CBETA API:
//
//	tools:
//	  - name: search_kwic_sorted
//	    description: {en: "...", zh-TW: "..."}
//	    endpoint: /search/kwic
//	    params:
//	      - {name: work, type: string, required: true}
//	      - {name: juan, type: integer, required: true}
//	      - {name: q, type: string, required: true}
//	      - {name: sort, type: string, default: location}
//
// Every format is decoded to a generic tree first and then read with the
// same strict JSON schema, so the three formats accept exactly the same
// documents.
package toolfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

// Format is a definition file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatOf returns the format implied by a file name, or "" for files that
// are not definition files.
func FormatOf(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	}
	return ""
}

// File is the top-level document of a definition file.
type File struct {
	Tools []Definition `json:"tools"`
}

// Definition declares one tool.
type Definition struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description Text   `json:"description"`
	Category    string `json:"category"`

	// Endpoint is the API path, e.g. "/search/kwic".
	Endpoint string `json:"endpoint"`
	// PathParam names a parameter whose value is appended to Endpoint as a
	// path segment instead of being sent as a query parameter.
	PathParam string `json:"path_param"`
	// Timeout is a Go duration string. Empty uses the client default.
	Timeout string `json:"timeout"`
	// Label prefixes failure messages.
	Label Text `json:"label"`

	Params []Param `json:"params"`

	// RequireAny lists parameter groups; a call must fill every member of
	// at least one group.
	RequireAny     [][]string `json:"require_any"`
	RequireMessage Text       `json:"require_message"`

	Reshape *Reshape       `json:"reshape"`
	Example map[string]any `json:"example"`
}

// Param declares one tool parameter.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Default     any      `json:"default"`
	Description Text     `json:"description"`
	Enum        []string `json:"enum"`

	// OmitEmpty drops the parameter from the query when it is "", 0 or false.
	OmitEmpty bool `json:"omit_empty"`
}

// Text is a localized string. Files may give a plain string or a map of
// locale to string.
type Text registry.Text

// UnmarshalJSON accepts "text" or {"en": "...", "zh-TW": "..."}.
func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(registry.Plain(s))
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("expected a string or a map of locale to string")
	}
	*t = m
	return nil
}

// Parse decodes a definition file.
func Parse(data []byte, format Format) (*File, error) {
	var tree any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case FormatTOML:
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
		tree = m
	case FormatJSON:
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, apierrors.NewValidationError("format", string(format), "unsupported definition format")
	}

	normalized, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", format, err)
	}

	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s definition: %w", format, err)
	}
	if len(f.Tools) == 0 {
		return nil, apierrors.NewValidationError("tools", "", "file declares no tools")
	}
	return &f, nil
}
