// Package gateway assembles the tool registry: it builds the CBETA API
// client, gathers the built-in tool units and the definition files found
// under the tools directory, and runs discovery over them.
package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	"github.com/olgasafonova/cbeta-mcp-server/internal/cbeta"
	"github.com/olgasafonova/cbeta-mcp-server/internal/config"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
	"github.com/olgasafonova/cbeta-mcp-server/internal/toolfile"
)

// Gateway is a discovered registry together with the clients its tools use.
type Gateway struct {
	API      *base.Client
	CBETA    *cbeta.Client
	Registry *registry.Registry
	Report   registry.Report
	Locale   string
}

// New builds the clients and discovers every tool. It fails only when
// discovery itself fails, which happens under the fail duplicate policy.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithAPI(cfg, base.NewClient(cfg.API(), base.WithLogger(logger)), logger)
}

// NewWithAPI is New with a caller-supplied upstream client.
func NewWithAPI(cfg *config.Config, api *base.Client, logger *slog.Logger) (*Gateway, error) {
	client := cbeta.NewClient(api, cfg.Locale, logger)

	units, err := Units(client, cfg.ToolsDir, logger)
	if err != nil {
		api.Close()
		return nil, err
	}

	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithDuplicatePolicy(cfg.DuplicatePolicy),
	)
	report, err := reg.Discover(units...)
	if err != nil {
		api.Close()
		return nil, fmt.Errorf("tool discovery: %w", err)
	}

	return &Gateway{
		API:      api,
		CBETA:    client,
		Registry: reg,
		Report:   report,
		Locale:   client.Locale(),
	}, nil
}

// Units returns the built-in units followed by the definition files under
// toolsDir, each group in lexical order. A missing toolsDir is not an error.
func Units(client *cbeta.Client, toolsDir string, logger *slog.Logger) ([]registry.Unit, error) {
	units := client.Units()
	if toolsDir == "" {
		return units, nil
	}

	dir := filepath.Clean(toolsDir)
	files, err := registry.WalkUnits(os.DirFS(filepath.Dir(dir)), filepath.Base(dir), toolfile.Opener(client))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("No tool definition directory", "dir", dir)
	case err != nil:
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return append(units, files...), nil
}

// Close releases the upstream client.
func (g *Gateway) Close() {
	g.API.Close()
}
