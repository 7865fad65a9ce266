package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
	"github.com/olgasafonova/cbeta-mcp-server/metrics"
	"github.com/olgasafonova/cbeta-mcp-server/tracing"
)

// HandlerRegistry mounts registry tools on an MCP server. Each MCP tool
// forwards its raw arguments to the registry, which normalizes them and
// runs the tool's handler.
type HandlerRegistry struct {
	tools  *registry.Registry
	locale string
	logger *slog.Logger
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry(tools *registry.Registry, locale string, logger *slog.Logger) *HandlerRegistry {
	if locale == "" {
		locale = registry.DefaultLocale
	}
	return &HandlerRegistry{
		tools:  tools,
		locale: locale,
		logger: logger,
	}
}

// RegisterAll registers all tools with the MCP server.
func (h *HandlerRegistry) RegisterAll(server *mcp.Server) {
	tools := h.tools.Tools()
	for _, t := range tools {
		server.AddTool(h.buildTool(t), h.handler(t))
	}
	h.logger.Info("Registered all tools", "count", len(tools), "locale", h.locale)
}

// buildTool creates an mcp.Tool from a registry descriptor.
func (h *HandlerRegistry) buildTool(t registry.Tool) *mcp.Tool {
	annotations := &mcp.ToolAnnotations{
		Title:          t.Title,
		ReadOnlyHint:   t.ReadOnly,
		IdempotentHint: t.Idempotent,
	}
	if t.OpenWorld {
		annotations.OpenWorldHint = ptr(true)
	}

	return &mcp.Tool{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description.In(h.locale),
		InputSchema: h.inputSchema(t),
		Annotations: annotations,
	}
}

// inputSchema describes the tool's parameters as a JSON Schema object.
// Undeclared properties are allowed and passed through to the handler.
func (h *HandlerRegistry) inputSchema(t registry.Tool) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(t.Params)),
	}
	for _, p := range t.Params {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description.In(h.locale),
		}
		if p.Default != nil {
			if raw, err := json.Marshal(p.Default); err == nil {
				prop.Default = raw
			}
		}
		for _, v := range p.Enum {
			prop.Enum = append(prop.Enum, v)
		}
		schema.Properties[p.Name] = prop
		if p.Required && p.Default == nil {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

// handler wraps a registry dispatch with panic recovery, metrics, tracing,
// and logging. The envelope is returned both as JSON text and as
// structured content; error envelopes set IsError.
func (h *HandlerRegistry) handler(t registry.Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		defer h.recoverPanic(t.Name, &result)

		callID := uuid.NewString()

		// Start trace span
		ctx, span := tracing.StartSpan(ctx, "mcp.tool."+t.Name)
		defer span.End()

		tracing.AddToolAttributes(span, t.Name, t.Category, t.Unit)
		span.SetAttributes(
			attribute.String("mcp.call_id", callID),
			attribute.Bool("mcp.tool.readonly", t.ReadOnly),
		)

		// Track in-flight requests
		metrics.RequestInFlight.WithLabelValues(t.Name).Inc()
		defer metrics.RequestInFlight.WithLabelValues(t.Name).Dec()

		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}

		start := time.Now()
		env := h.tools.Call(ctx, t.Name, raw)
		duration := time.Since(start).Seconds()

		span.SetAttributes(
			attribute.Float64("mcp.tool.duration_seconds", duration),
			attribute.String("mcp.envelope.status", string(env.Status)),
		)
		if env.IsError() {
			span.SetStatus(codes.Error, env.Message)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		metrics.RecordRequest(t.Name, duration, env.IsSuccess())
		h.logExecution(t, callID, env, duration)

		return toResult(env)
	}
}

// toResult converts an envelope into an MCP tool result.
func toResult(env envelope.Envelope) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(env)
	if err != nil {
		env = envelope.Errorf("invalid tool result: %v", err)
		data, _ = json.Marshal(env)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: env,
		IsError:           env.IsError(),
	}, nil
}

// recoverPanic recovers from panics in tool handlers and replaces the
// result with an error envelope.
func (h *HandlerRegistry) recoverPanic(toolName string, result **mcp.CallToolResult) {
	if rec := recover(); rec != nil {
		metrics.PanicsRecovered.WithLabelValues(toolName).Inc()
		h.logger.Error("Panic recovered",
			"tool", toolName,
			"panic", rec,
			"stack", string(debug.Stack()))
		*result, _ = toResult(envelope.Error(fmt.Sprintf("%s failed unexpectedly: %v", toolName, rec)))
	}
}

// logExecution logs tool execution details.
func (h *HandlerRegistry) logExecution(t registry.Tool, callID string, env envelope.Envelope, duration float64) {
	attrs := []any{
		"tool", t.Name,
		"unit", t.Unit,
		"call_id", callID,
		"status", env.Status,
		"duration_ms", int64(duration * 1000),
	}
	if env.IsError() {
		attrs = append(attrs, "message", env.Message)
		h.logger.Warn("Tool executed", attrs...)
		return
	}
	h.logger.Info("Tool executed", attrs...)
}
