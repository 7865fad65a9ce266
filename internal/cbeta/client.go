// Package cbeta implements the built-in tools backed by the CBETA Online API.
//
// Each tool is one endpoint: the handler builds query parameters, performs a
// single GET through the shared client, reshapes the JSON, and converts any
// fault into an error envelope.
package cbeta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

// Reshaper turns a successful upstream response into a tool result.
type Reshaper func(resp *base.Response) (any, error)

// Call is one upstream request made on behalf of a tool.
type Call struct {
	Path    string
	Query   url.Values
	Timeout time.Duration // zero uses the client default
	Label   registry.Text // prefix for failure messages
	Reshape Reshaper      // nil passes the decoded JSON through
}

// Client executes tool calls against the CBETA API.
type Client struct {
	api    *base.Client
	locale string
	logger *slog.Logger
}

// NewClient creates a client. locale selects tool descriptions and messages.
func NewClient(api *base.Client, locale string, logger *slog.Logger) *Client {
	if locale == "" {
		locale = registry.DefaultLocale
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, locale: locale, logger: logger}
}

// Locale returns the configured locale.
func (c *Client) Locale() string {
	return c.locale
}

// Do performs call and wraps the outcome in an envelope.
func (c *Client) Do(ctx context.Context, call Call) envelope.Envelope {
	resp, err := c.api.Get(ctx, base.Request{
		Path:    call.Path,
		Query:   call.Query,
		Timeout: call.Timeout,
	})
	if err != nil {
		return c.fail(call.Label, err)
	}

	reshape := call.Reshape
	if reshape == nil {
		reshape = Passthrough
	}
	result, err := reshape(resp)
	if err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			return c.Reject(rej.msg)
		}
		return c.fail(call.Label, err)
	}
	return envelope.Success(result)
}

// Reject returns a localized validation error envelope.
func (c *Client) Reject(msg registry.Text) envelope.Envelope {
	return envelope.Error(msg.In(c.locale))
}

// rejection is returned by a Reshaper when the upstream answered but the
// answer means the request cannot be satisfied. Its message is reported
// without the failure label.
type rejection struct {
	msg registry.Text
}

func (r *rejection) Error() string { return r.msg.In(registry.DefaultLocale) }

func reject(msg registry.Text) error {
	return &rejection{msg: msg}
}

func (c *Client) fail(label registry.Text, err error) envelope.Envelope {
	return envelope.FromError(label.In(c.locale), err)
}

// timeout returns d, or the client default when that is longer.
func (c *Client) timeout(d time.Duration) time.Duration {
	if def := c.api.Config().Timeout; def > d {
		return def
	}
	return d
}

// Passthrough decodes the body as JSON. Numbers keep their exact textual form.
func Passthrough(resp *base.Response) (any, error) {
	var v any
	if err := decodeJSON(resp, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Object decodes the body as a JSON object.
func Object(resp *base.Response) (map[string]any, error) {
	var m map[string]any
	if err := decodeJSON(resp, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("invalid JSON from %s: expected an object", resp.URL)
	}
	return m, nil
}

func decodeJSON(resp *base.Response, v any) error {
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON from %s: %w", resp.URL, err)
	}
	return nil
}

// getOr returns m[key], or def when the key is absent or null.
func getOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}

// list returns m[key] as a slice, or an empty slice.
func list(m map[string]any, key string) []any {
	if l, ok := m[key].([]any); ok {
		return l
	}
	return []any{}
}

// pick copies keys from m. Missing keys map to nil.
func pick(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

// setTruthy adds the named arguments that are present and non-zero.
func setTruthy(q url.Values, args registry.Args, names ...string) {
	for _, name := range names {
		if args.Has(name) {
			q.Set(name, args.String(name))
		}
	}
}
