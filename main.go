// CBETA MCP Server - A Model Context Protocol gateway for the CBETA Online API
// Discovers tool units at startup and dispatches calls to them by name
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/olgasafonova/cbeta-mcp-server/internal/config"
	"github.com/olgasafonova/cbeta-mcp-server/internal/gateway"
	"github.com/olgasafonova/cbeta-mcp-server/tools"
	"github.com/olgasafonova/cbeta-mcp-server/tracing"
)

// recoverPanic recovers a panic in a background goroutine and logs it instead of crashing
func recoverPanic(logger *slog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error("Panic recovered",
			"operation", operation,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}

const (
	ServerName    = "cbeta-mcp-server"
	ServerVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

const instructions = `CBETA MCP Server provides tools for the CBETA Chinese Buddhist canon (api.cbetaonline.cn).

Tool groups:
- catalog: catalog entries, title search, and lookups by volume, translator, or dynasty
- search: full-text, extended, synonym, simplified-Chinese, facet, KWIC, notes, title, and similarity search
- work: scripture metadata, table of contents, juan HTML, line ranges, and reader URLs

Every tool returns an envelope: {"status": "success", "result": ...} or {"status": "error", "message": ...}.
Parameters such as rows and start are optional and fall back to their documented defaults.`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure logging to stderr (stdout is used for MCP protocol)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	traceCfg := tracing.DefaultConfig()
	traceCfg.ServiceName = ServerName
	traceCfg.ServiceVersion = ServerVersion
	shutdownTracing, err := tracing.Setup(ctx, traceCfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	server := newMCPServer(gw, logger)

	logger.Info("Starting CBETA MCP Server",
		"name", ServerName,
		"version", ServerVersion,
		"transport", cfg.Transport,
		"api_url", cfg.BaseURL,
		"tools", gw.Registry.Len(),
		"locale", gw.Locale,
	)

	if cfg.Transport == config.TransportStdio {
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	return serveHTTP(ctx, cfg, gw, server, logger)
}

func newMCPServer(gw *gateway.Gateway, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, &mcp.ServerOptions{
		Logger:       logger,
		Instructions: instructions,
	})
	tools.NewHandlerRegistry(gw.Registry, gw.Locale, logger).RegisterAll(server)
	return server
}

func serveHTTP(ctx context.Context, cfg *config.Config, gw *gateway.Gateway, server *mcp.Server, logger *slog.Logger) error {
	security := NewSecurityMiddleware(newRouter(gw, server), logger, SecurityConfig{
		RateLimit:   cfg.RateLimit,
		MaxBodySize: cfg.MaxBodySize,
	})
	defer security.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware.RealIP(security),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer recoverPanic(logger, "http server")
		logger.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
