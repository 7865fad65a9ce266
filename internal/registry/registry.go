// Package registry discovers tool units, enforces unique tool names, and
// dispatches calls by name.
//
// Discovery runs once before serving. After Discover returns the registry is
// read-only and safe for concurrent use.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
	"github.com/olgasafonova/cbeta-mcp-server/metrics"
)

// DuplicatePolicy decides what happens when a tool name is declared twice.
type DuplicatePolicy string

const (
	// KeepFirst logs a warning and keeps the earlier registration.
	KeepFirst DuplicatePolicy = "keep-first"
	// KeepLast logs a warning and replaces the earlier registration.
	KeepLast DuplicatePolicy = "keep-last"
	// Fail makes Discover return an error after the pass completes.
	Fail DuplicatePolicy = "fail"
)

// ParseDuplicatePolicy parses a policy name. The empty string means KeepFirst.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", KeepFirst:
		return KeepFirst, nil
	case KeepLast:
		return KeepLast, nil
	case Fail:
		return Fail, nil
	}
	return "", apierrors.NewValidationError("duplicate_policy", s, "must be one of keep-first, keep-last, fail")
}

// Report summarizes one discovery pass.
type Report struct {
	Loaded     []string
	Skipped    []string
	Failed     []*apierrors.LoadError
	Duplicates []*apierrors.DuplicateError
}

// Clean reports whether every unit loaded and no name collided.
func (r Report) Clean() bool {
	return len(r.Failed) == 0 && len(r.Duplicates) == 0
}

// Registry holds the tools published by the gateway.
type Registry struct {
	logger *slog.Logger
	policy DuplicatePolicy
	tools  map[string]*Tool
	order  []string
}

// Option configures the Registry
type Option func(*Registry)

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithDuplicatePolicy sets how duplicate tool names are resolved
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
		policy: KeepFirst,
		tools:  make(map[string]*Tool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover loads units in the given order and registers their tools.
// Units that fail to load are logged and skipped. The returned error is
// non-nil only under the Fail policy when duplicates were found.
func (r *Registry) Discover(units ...Unit) (Report, error) {
	var report Report

	for _, u := range units {
		unitPath := u.Path()

		if Excluded(unitPath) {
			r.logger.Debug("Skipping excluded tool unit", "unit", unitPath)
			report.Skipped = append(report.Skipped, unitPath)
			metrics.RecordDiscovery(metrics.OutcomeSkipped)
			continue
		}

		tools, err := load(u)
		if err != nil {
			loadErr := &apierrors.LoadError{Unit: unitPath, Err: err}
			r.logger.Error("Tool unit failed to load", "unit", unitPath, "error", err)
			report.Failed = append(report.Failed, loadErr)
			metrics.RecordDiscovery(metrics.OutcomeFailed)
			continue
		}

		report.Loaded = append(report.Loaded, unitPath)
		metrics.RecordDiscovery(metrics.OutcomeLoaded)

		for i := range tools {
			t := tools[i]
			t.Unit = unitPath
			if dup := r.add(&t); dup != nil {
				report.Duplicates = append(report.Duplicates, dup)
			}
		}
	}

	metrics.RegisteredTools.Set(float64(len(r.order)))
	r.logger.Info("Tool discovery complete",
		"tools", len(r.order),
		"units_loaded", len(report.Loaded),
		"units_skipped", len(report.Skipped),
		"units_failed", len(report.Failed),
		"duplicates", len(report.Duplicates))

	if r.policy == Fail && len(report.Duplicates) > 0 {
		errs := make([]error, len(report.Duplicates))
		for i, d := range report.Duplicates {
			errs[i] = d
		}
		return report, errors.Join(errs...)
	}
	return report, nil
}

// load collects and validates a unit's tools. A panic inside Register is
// reported as a load failure.
func load(u Unit) (tools []Tool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			tools = nil
			err = fmt.Errorf("panic during registration: %v", rec)
		}
	}()

	c := &Collector{unit: u.Path()}
	if err := u.Register(c); err != nil {
		return nil, err
	}
	for i := range c.tools {
		if err := c.tools[i].validate(); err != nil {
			return nil, err
		}
	}
	return c.tools, nil
}

func (r *Registry) add(t *Tool) *apierrors.DuplicateError {
	existing, ok := r.tools[t.Name]
	if !ok {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
		return nil
	}

	dup := &apierrors.DuplicateError{Tool: t.Name, Unit: t.Unit, Existing: existing.Unit}
	metrics.DuplicateRegistrations.WithLabelValues(t.Name).Inc()
	r.logger.Warn("Duplicate tool registration",
		"tool", t.Name,
		"unit", t.Unit,
		"existing_unit", existing.Unit,
		"policy", string(r.policy))

	if r.policy == KeepLast {
		r.tools[t.Name] = t
	}
	return dup
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return *t, true
}

// Names returns registered tool names in discovery order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Tools returns registered tools in discovery order.
func (r *Registry) Tools() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, *r.tools[name])
	}
	return tools
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Call dispatches a tool by name with raw JSON arguments.
func (r *Registry) Call(ctx context.Context, name string, raw json.RawMessage) envelope.Envelope {
	args, err := decodeArgs(raw)
	if err != nil {
		return envelope.FromError("invalid arguments", err)
	}
	return r.Invoke(ctx, name, args)
}

// Invoke dispatches a tool by name with decoded arguments. It always
// returns an envelope; handler panics become error envelopes.
func (r *Registry) Invoke(ctx context.Context, name string, in map[string]any) (env envelope.Envelope) {
	t, ok := r.tools[name]
	if !ok {
		return envelope.Errorf("unknown tool: %s", name)
	}

	args, err := t.normalize(in)
	if err != nil {
		return envelope.Error(err.Error())
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.PanicsRecovered.WithLabelValues(name).Inc()
			r.logger.Error("Panic recovered",
				"tool", name,
				"panic", rec,
				"stack", string(debug.Stack()))
			env = envelope.Errorf("%s failed unexpectedly: %v", name, rec)
		}
	}()

	return t.Handler(ctx, args)
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
