package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	"github.com/olgasafonova/cbeta-mcp-server/internal/cbeta"
	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	"github.com/olgasafonova/cbeta-mcp-server/internal/gateway"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
	"github.com/olgasafonova/cbeta-mcp-server/tools"
)

// listOptions holds options for the list command.
type listOptions struct {
	json     bool
	category string
}

func (a *App) newListCmd() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered tools",
		Long: `List every tool the server would publish, in registration order.

Examples:
  # Table of tools
  cbetactl list

  # Full descriptors in Traditional Chinese
  cbetactl list --json --locale zh-TW`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := a.gateway()
			if err != nil {
				return err
			}
			defer gw.Close()
			return a.list(gw, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "print descriptors as JSON")
	cmd.Flags().StringVar(&opts.category, "category", "", "only list tools in this category")
	return cmd
}

func (a *App) list(gw *gateway.Gateway, opts *listOptions) error {
	specs := tools.Specs(gw.Registry, gw.Locale)
	if opts.category != "" {
		filtered := specs[:0]
		for _, s := range specs {
			if s.Category == opts.category {
				filtered = append(filtered, s)
			}
		}
		specs = filtered
	}

	if opts.json {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(specs)
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCATEGORY\tPARAMS\tUNIT")
	for _, s := range specs {
		names := make([]string, 0, len(s.Params))
		for _, p := range s.Params {
			name := p.Name
			if p.Required && p.Default == nil {
				name += "*"
			}
			names = append(names, name)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Category, strings.Join(names, ","), s.Unit)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "\n%d tools\n", len(specs))
	return nil
}

// validateOptions holds options for the validate command.
type validateOptions struct {
	strict bool
}

func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Check that every tool unit loads",
		Long: `Run discovery and report loaded, skipped, and failed units and duplicate
tool names. Failed units always make the command fail; duplicates do so
with --strict.

Examples:
  # Validate the configured tools directory
  cbetactl validate

  # Validate another directory, treating duplicates as errors
  cbetactl validate ./tools --strict`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.toolsDir = args[0]
			}
			return a.validate(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false, "fail on duplicate tool names")
	return cmd
}

func (a *App) validate(opts *validateOptions) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	logger := a.logger(cfg)

	api := base.NewClient(cfg.API(), base.WithLogger(logger))
	defer api.Close()

	units, err := gateway.Units(cbeta.NewClient(api, cfg.Locale, logger), cfg.ToolsDir, logger)
	if err != nil {
		return err
	}
	reg := registry.New(registry.WithLogger(logger), registry.WithDuplicatePolicy(cfg.DuplicatePolicy))
	report, discoverErr := reg.Discover(units...)

	_, _ = fmt.Fprintf(a.stdout, "Loaded %d units, %d tools\n", len(report.Loaded), reg.Len())
	for _, s := range report.Skipped {
		_, _ = fmt.Fprintf(a.stdout, "  skipped    %s\n", s)
	}
	for _, f := range report.Failed {
		_, _ = fmt.Fprintf(a.stdout, "  failed     %s: %v\n", f.Unit, f.Err)
	}
	for _, d := range report.Duplicates {
		_, _ = fmt.Fprintf(a.stdout, "  duplicate  %s in %s (kept from %s)\n", d.Tool, d.Unit, kept(reg, d.Tool))
	}

	switch {
	case discoverErr != nil:
		return discoverErr
	case len(report.Failed) > 0:
		return fmt.Errorf("%d unit(s) failed to load", len(report.Failed))
	case opts.strict && len(report.Duplicates) > 0:
		return fmt.Errorf("%d duplicate tool name(s)", len(report.Duplicates))
	}
	_, _ = fmt.Fprintln(a.stdout, "✓ All tool units are valid")
	return nil
}

func kept(reg *registry.Registry, name string) string {
	if t, ok := reg.Lookup(name); ok {
		return t.Unit
	}
	return "?"
}

// callOptions holds options for the call command.
type callOptions struct {
	args string
}

func (a *App) newCallCmd() *cobra.Command {
	opts := &callOptions{}

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call one tool and print its envelope",
		Long: `Dispatch a tool by name exactly as the MCP server would and print the
resulting envelope as JSON. The command fails when the envelope is an error.

Examples:
  cbetactl call cbeta_kwic_search --args '{"work": "T0001", "juan": 1, "q": "老子"}'
  cbetactl call get_cbeta_work_info --args '{"work": "T0001"}' --locale zh-TW`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := a.gateway()
			if err != nil {
				return err
			}
			defer gw.Close()
			return a.call(cmd.Context(), gw, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.args, "args", "{}", "tool arguments as a JSON object")
	return cmd
}

func (a *App) call(ctx context.Context, gw *gateway.Gateway, name string, opts *callOptions) error {
	env := gw.Registry.Call(ctx, name, json.RawMessage(opts.args))

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return err
	}
	if env.IsError() {
		return errors.New(env.Message)
	}
	return nil
}

// smokeOptions holds options for the smoke command.
type smokeOptions struct {
	tools   []string
	timeout time.Duration
}

type smokeResult struct {
	tool     string
	env      envelope.Envelope
	duration time.Duration
}

func (a *App) newSmokeCmd() *cobra.Command {
	opts := &smokeOptions{}

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Call every tool with its example arguments",
		Long: `Call each tool that declares example arguments against the configured
API and report the outcome and latency. Calls run concurrently, bounded by
CBETA_MAX_CONCURRENT. The command fails if any call returns an error envelope.

Examples:
  cbetactl smoke
  cbetactl smoke --tool cbeta_kwic_search --tool get_cbeta_toc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, cfg, err := a.gateway()
			if err != nil {
				return err
			}
			defer gw.Close()
			return a.smoke(cmd.Context(), gw, cfg.MaxConcurrent, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.tools, "tool", nil, "only smoke-test these tools")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}

func (a *App) smoke(ctx context.Context, gw *gateway.Gateway, limit int, opts *smokeOptions) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	only := make(map[string]bool, len(opts.tools))
	for _, name := range opts.tools {
		only[name] = true
	}

	var (
		mu      sync.Mutex
		results []smokeResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, t := range gw.Registry.Tools() {
		if len(only) > 0 && !only[t.Name] {
			continue
		}
		if t.Example == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			env := gw.Registry.Invoke(gctx, t.Name, t.Example)
			mu.Lock()
			results = append(results, smokeResult{tool: t.Name, env: env, duration: time.Since(start)})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].tool < results[j].tool })

	failed := 0
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOOL\tSTATUS\tDURATION\tMESSAGE")
	for _, r := range results {
		if r.env.IsError() {
			failed++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.tool, r.env.Status, r.duration.Round(time.Millisecond), r.env.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "\n%d passed, %d failed\n", len(results)-failed, failed)

	if len(results) == 0 {
		return errors.New("no tools with example arguments matched")
	}
	if failed > 0 {
		return fmt.Errorf("%d smoke call(s) failed", failed)
	}
	return nil
}
