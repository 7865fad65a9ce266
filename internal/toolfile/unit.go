package toolfile

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/olgasafonova/cbeta-mcp-server/internal/cbeta"
	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

// Opener returns a registry.Opener that turns definition files into units
// whose tools call the API through client. Other files are ignored.
func Opener(client *cbeta.Client) registry.Opener {
	return func(fsys fs.FS, name string) registry.Unit {
		format := FormatOf(name)
		if format == "" {
			return nil
		}
		return &unit{fsys: fsys, name: name, format: format, client: client}
	}
}

// unit reads and parses its file when registered, so that I/O and syntax
// errors are reported as load failures of this unit only.
type unit struct {
	fsys   fs.FS
	name   string
	format Format
	client *cbeta.Client
}

func (u *unit) Path() string {
	return u.name
}

func (u *unit) Register(c *registry.Collector) error {
	data, err := fs.ReadFile(u.fsys, u.name)
	if err != nil {
		return err
	}
	f, err := Parse(data, u.format)
	if err != nil {
		return err
	}
	for i := range f.Tools {
		tool, err := f.Tools[i].Tool(u.client)
		if err != nil {
			return err
		}
		c.Add(tool)
	}
	return nil
}

// Tool converts the definition into a registry descriptor.
func (d *Definition) Tool(client *cbeta.Client) (registry.Tool, error) {
	if !strings.HasPrefix(d.Endpoint, "/") {
		return registry.Tool{}, apierrors.NewValidationError("endpoint", d.Endpoint, fmt.Sprintf("%s: endpoint must start with /", d.Name))
	}

	var timeout time.Duration
	if d.Timeout != "" {
		var err error
		if timeout, err = time.ParseDuration(d.Timeout); err != nil || timeout <= 0 {
			return registry.Tool{}, apierrors.NewValidationError("timeout", d.Timeout, fmt.Sprintf("%s: timeout must be a positive duration", d.Name))
		}
	}

	params := make([]registry.Param, 0, len(d.Params))
	declared := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		params = append(params, registry.Param{
			Name:        p.Name,
			Type:        registry.ParamType(p.Type),
			Required:    p.Required,
			Default:     p.Default,
			Description: registry.Text(p.Description),
			Enum:        p.Enum,
		})
		declared[p.Name] = true
	}

	if d.PathParam != "" && !declared[d.PathParam] {
		return registry.Tool{}, apierrors.NewValidationError("path_param", d.PathParam, fmt.Sprintf("%s: not a declared parameter", d.Name))
	}
	for _, group := range d.RequireAny {
		if len(group) == 0 {
			return registry.Tool{}, apierrors.NewValidationError("require_any", "", fmt.Sprintf("%s: empty parameter group", d.Name))
		}
		for _, name := range group {
			if !declared[name] {
				return registry.Tool{}, apierrors.NewValidationError("require_any", name, fmt.Sprintf("%s: not a declared parameter", d.Name))
			}
		}
	}

	var reshape cbeta.Reshaper
	if d.Reshape != nil {
		if err := d.Reshape.validate(); err != nil {
			return registry.Tool{}, fmt.Errorf("%s: %w", d.Name, err)
		}
		reshape = d.Reshape.apply
	}

	label := registry.Text(d.Label)
	if len(label) == 0 {
		label = registry.Plain(d.Name + " failed")
	}
	requireMsg := registry.Text(d.RequireMessage)
	if len(requireMsg) == 0 {
		requireMsg = registry.Plain("Please provide " + describeGroups(d.RequireAny))
	}

	title := d.Title
	if title == "" {
		title = d.Name
	}

	def := *d
	return registry.Tool{
		Name:        d.Name,
		Title:       title,
		Description: registry.Text(d.Description),
		Category:    d.Category,
		Params:      params,
		ReadOnly:    true,
		Idempotent:  true,
		OpenWorld:   true,
		Example:     d.Example,
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			if !def.satisfied(args) {
				return client.Reject(requireMsg)
			}
			endpoint, query := def.request(args)
			return client.Do(ctx, cbeta.Call{
				Path:    endpoint,
				Query:   query,
				Timeout: timeout,
				Label:   label,
				Reshape: reshape,
			})
		},
	}, nil
}

// satisfied reports whether args fill at least one RequireAny group.
func (d *Definition) satisfied(args registry.Args) bool {
	if len(d.RequireAny) == 0 {
		return true
	}
	for _, group := range d.RequireAny {
		ok := true
		for _, name := range group {
			if !args.Has(name) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (d *Definition) request(args registry.Args) (string, url.Values) {
	endpoint := d.Endpoint
	q := url.Values{}
	for _, p := range d.Params {
		if p.Name == d.PathParam {
			if args.Has(p.Name) {
				endpoint += "/" + url.PathEscape(args.String(p.Name))
			}
			continue
		}
		if p.OmitEmpty {
			if args.Has(p.Name) {
				q.Set(p.Name, args.String(p.Name))
			}
			continue
		}
		if v, ok := args[p.Name]; ok && v != nil {
			q.Set(p.Name, args.String(p.Name))
		}
	}
	return endpoint, q
}

// describeGroups renders require_any groups as "a, or b and c".
func describeGroups(groups [][]string) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = strings.Join(g, " and ")
	}
	return strings.Join(parts, ", or ")
}
