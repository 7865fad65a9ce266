package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
)

// DefaultLocale is used when a description has no entry for the requested locale.
const DefaultLocale = "en"

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ParamType is the JSON type a parameter accepts.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Text holds one string per locale.
type Text map[string]string

// Plain returns a Text with only the default locale set.
func Plain(s string) Text {
	return Text{DefaultLocale: s}
}

// In returns the text for locale, falling back to DefaultLocale and then to
// the lexically first locale present.
func (t Text) In(locale string) string {
	if s := t[locale]; s != "" {
		return s
	}
	if s := t[DefaultLocale]; s != "" {
		return s
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if t[k] != "" {
			return t[k]
		}
	}
	return ""
}

// Param describes one named tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description Text
	Enum        []string
}

// Handler executes a tool. It must always return an envelope.
type Handler func(ctx context.Context, args Args) envelope.Envelope

// Tool is the descriptor of one callable tool.
type Tool struct {
	Name        string
	Title       string
	Description Text
	Category    string
	Params      []Param
	Handler     Handler

	ReadOnly   bool
	Idempotent bool
	OpenWorld  bool

	// Example holds arguments that exercise the tool against the live API.
	Example map[string]any

	// Unit is the path of the unit that registered the tool. Set by the registry.
	Unit string
}

// Param returns the parameter named name.
func (t *Tool) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func (t *Tool) validate() error {
	if !toolNamePattern.MatchString(t.Name) {
		return apierrors.NewValidationError("name", t.Name, "tool names must start with a letter and contain only letters, digits and underscores")
	}
	if t.Handler == nil {
		return apierrors.NewValidationError("handler", t.Name, "tool has no handler")
	}

	seen := make(map[string]bool, len(t.Params))
	for _, p := range t.Params {
		if p.Name == "" {
			return apierrors.NewValidationError("params", t.Name, "parameter without a name")
		}
		if seen[p.Name] {
			return apierrors.NewValidationError("params", p.Name, fmt.Sprintf("parameter declared twice in %s", t.Name))
		}
		seen[p.Name] = true

		switch p.Type {
		case TypeString, TypeInteger, TypeBoolean:
		default:
			return apierrors.NewValidationError("type", string(p.Type), fmt.Sprintf("unsupported type for %s.%s", t.Name, p.Name))
		}
		if p.Default != nil {
			if _, err := coerce(p, p.Default); err != nil {
				return fmt.Errorf("%s: default: %w", t.Name, err)
			}
		}
	}
	return nil
}

// normalize applies defaults, enforces required parameters and coerces
// declared parameters to their types. Undeclared keys pass through.
func (t *Tool) normalize(in map[string]any) (Args, error) {
	args := make(Args, len(in)+len(t.Params))
	for k, v := range in {
		args[k] = v
	}

	for _, p := range t.Params {
		v, ok := in[p.Name]
		if !ok || v == nil {
			delete(args, p.Name)
			if p.Default != nil {
				args[p.Name], _ = coerce(p, p.Default)
				continue
			}
			if p.Required {
				return nil, apierrors.NewValidationError(p.Name, "", "is required")
			}
			continue
		}

		cv, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		args[p.Name] = cv
	}
	return args, nil
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case TypeString:
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case json.Number:
			s = x.String()
		case bool:
			s = strconv.FormatBool(x)
		case int, int64, float64:
			s = fmt.Sprint(x)
		default:
			return nil, apierrors.NewValidationError(p.Name, fmt.Sprint(v), "must be a string")
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return nil, apierrors.NewValidationError(p.Name, s, "must be one of "+strings.Join(p.Enum, ", "))
		}
		return s, nil

	case TypeInteger:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x == math.Trunc(x) {
				return int(x), nil
			}
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return int(n), nil
			}
			if f, err := x.Float64(); err == nil && f == math.Trunc(f) {
				return int(f), nil
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
				return n, nil
			}
		}
		return nil, apierrors.NewValidationError(p.Name, fmt.Sprint(v), "must be an integer")

	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b, nil
			}
		case json.Number:
			if n, err := x.Int64(); err == nil && (n == 0 || n == 1) {
				return n == 1, nil
			}
		}
		return nil, apierrors.NewValidationError(p.Name, fmt.Sprint(v), "must be a boolean")
	}
	return nil, apierrors.NewValidationError(p.Name, "", "unsupported type "+string(p.Type))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Args holds normalized tool arguments. Declared parameters carry their
// coerced Go types: string, int or bool.
type Args map[string]any

// String returns the named argument formatted as a string, or "" if absent.
func (a Args) String(name string) string {
	switch v := a[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the named argument as an int, or 0 if absent or not numeric.
func (a Args) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// Bool returns the named argument as a bool.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Has reports whether the named argument is present and not a zero value.
// Empty strings, 0 and false count as absent.
func (a Args) Has(name string) bool {
	switch v := a[name].(type) {
	case nil:
		return false
	case string:
		return v != ""
	case int:
		return v != 0
	case bool:
		return v
	case json.Number:
		return v.String() != "0"
	}
	return true
}

// Values builds query parameters from the named arguments, skipping absent ones.
func (a Args) Values(names ...string) url.Values {
	q := url.Values{}
	for _, name := range names {
		if v, ok := a[name]; ok && v != nil {
			q.Set(name, a.String(name))
		}
	}
	return q
}
