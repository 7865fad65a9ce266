package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/cbeta-mcp-server/internal/config"
	"github.com/olgasafonova/cbeta-mcp-server/internal/gateway"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

// App is the cbetactl command tree.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	// Overrides applied on top of the loaded configuration.
	toolsDir string
	locale   string
	baseURL  string
	policy   string
	verbose  bool
}

// New creates the CLI application.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "cbetactl",
		Short: "Inspect and exercise CBETA gateway tools",
		Long: `cbetactl discovers the same tools as the MCP server (built-in units plus
definition files under the tools directory) and lets you list, validate,
and call them from the command line.

Configuration is read like the server's: defaults, then the YAML file named
by CBETA_CONFIG, then environment variables, then the flags below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := app.root.PersistentFlags()
	flags.StringVar(&app.toolsDir, "tools-dir", "", "definition file directory (overrides CBETA_TOOLS_DIR)")
	flags.StringVar(&app.locale, "locale", "", "description locale, e.g. en or zh-TW (overrides CBETA_LOCALE)")
	flags.StringVar(&app.baseURL, "base-url", "", "CBETA API base URL (overrides CBETA_BASE_URL)")
	flags.StringVar(&app.policy, "duplicate-policy", "", "keep-first, keep-last or fail (overrides CBETA_DUPLICATE_POLICY)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "log discovery and API activity to stderr")

	app.root.AddCommand(
		app.newListCmd(),
		app.newValidateCmd(),
		app.newCallCmd(),
		app.newSmokeCmd(),
	)
	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the CLI until it finishes or is interrupted.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

// config loads the configuration and applies flag overrides.
func (a *App) config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if a.toolsDir != "" {
		cfg.ToolsDir = a.toolsDir
	}
	if a.locale != "" {
		cfg.Locale = a.locale
	}
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}
	if a.policy != "" {
		cfg.DuplicatePolicy = registry.DuplicatePolicy(a.policy)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *App) logger(cfg *config.Config) *slog.Logger {
	if !a.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.Level()}))
}

// gateway discovers every tool. The caller closes the result.
func (a *App) gateway() (*gateway.Gateway, *config.Config, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, nil, err
	}
	gw, err := gateway.New(cfg, a.logger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return gw, cfg, nil
}
