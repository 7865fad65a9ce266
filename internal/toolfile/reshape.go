package toolfile

import (
	"fmt"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	"github.com/olgasafonova/cbeta-mcp-server/internal/cbeta"
	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
)

// Reshape selects parts of a JSON object response. A nil Reshape passes the
// response through unchanged.
type Reshape struct {
	// Pick copies top-level keys. Absent or null keys take their value
	// from Defaults, or null.
	Pick     []string       `json:"pick"`
	Defaults map[string]any `json:"defaults"`

	// List names a top-level array to copy, stored under As (default List).
	List  string `json:"list"`
	As    string `json:"as"`
	Limit int    `json:"limit"`
	// Fields projects each list item onto these keys. Absent item keys
	// take their value from ItemDefaults, or null.
	Fields       []string       `json:"fields"`
	ItemDefaults map[string]any `json:"item_defaults"`
	// First stores only the first list item; an empty list is an error.
	First bool `json:"first"`
}

func (r *Reshape) validate() error {
	if len(r.Pick) == 0 && r.List == "" {
		return apierrors.NewValidationError("reshape", "", "needs pick or list")
	}
	if r.List == "" && (r.As != "" || r.Limit != 0 || len(r.Fields) > 0 || r.First) {
		return apierrors.NewValidationError("reshape", "", "as, limit, fields and first require list")
	}
	if r.Limit < 0 {
		return apierrors.NewValidationError("reshape.limit", fmt.Sprint(r.Limit), "must not be negative")
	}
	return nil
}

func (r *Reshape) apply(resp *base.Response) (any, error) {
	data, err := cbeta.Object(resp)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(r.Pick)+1)
	for _, key := range r.Pick {
		out[key] = valueOr(data, key, r.Defaults[key])
	}
	if r.List == "" {
		return out, nil
	}

	items, _ := data[r.List].([]any)
	if r.Limit > 0 && len(items) > r.Limit {
		items = items[:r.Limit]
	}
	projected := make([]any, 0, len(items))
	for _, item := range items {
		projected = append(projected, r.project(item))
	}

	as := r.As
	if as == "" {
		as = r.List
	}
	if r.First {
		if len(projected) == 0 {
			return nil, apierrors.NewNotFoundError(r.List, "")
		}
		out[as] = projected[0]
	} else {
		out[as] = projected
	}
	return out, nil
}

func (r *Reshape) project(item any) any {
	if len(r.Fields) == 0 {
		return item
	}
	m, _ := item.(map[string]any)
	out := make(map[string]any, len(r.Fields))
	for _, key := range r.Fields {
		out[key] = valueOr(m, key, r.ItemDefaults[key])
	}
	return out
}

func valueOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}
