package tracing

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	// Clear environment variables for consistent testing
	_ = os.Unsetenv("OTEL_ENVIRONMENT")
	_ = os.Unsetenv("OTEL_ENABLED")
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = os.Unsetenv("OTEL_SAMPLE_RATE")
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_INSECURE")

	cfg := DefaultConfig()

	if cfg.ServiceName != "cbeta-mcp-server" {
		t.Errorf("Expected ServiceName 'cbeta-mcp-server', got %q", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "1.0.0" {
		t.Errorf("Expected ServiceVersion '1.0.0', got %q", cfg.ServiceVersion)
	}
	if cfg.Environment != "development" {
		t.Errorf("Expected Environment 'development', got %q", cfg.Environment)
	}
	if cfg.Enabled {
		t.Error("Expected Enabled to be false by default")
	}
	if cfg.OTLPEndpoint != "" {
		t.Errorf("Expected OTLPEndpoint to be empty, got %q", cfg.OTLPEndpoint)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("Expected SampleRate 1.0, got %f", cfg.SampleRate)
	}
	if !cfg.Insecure {
		t.Error("Expected Insecure to default to true")
	}
}

func TestDefaultConfig_WithEnvVars(t *testing.T) {
	t.Setenv("OTEL_ENVIRONMENT", "production")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	t.Setenv("OTEL_SAMPLE_RATE", "0.25")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg := DefaultConfig()

	if cfg.Environment != "production" {
		t.Errorf("Expected Environment 'production', got %q", cfg.Environment)
	}
	if !cfg.Enabled {
		t.Error("Expected Enabled to be true")
	}
	if cfg.OTLPEndpoint != "localhost:4318" {
		t.Errorf("Expected OTLPEndpoint 'localhost:4318', got %q", cfg.OTLPEndpoint)
	}
	if cfg.SampleRate != 0.25 {
		t.Errorf("Expected SampleRate 0.25, got %f", cfg.SampleRate)
	}
	if cfg.Insecure {
		t.Error("Expected Insecure to be false")
	}
}

func TestDefaultConfig_EnabledByEndpoint(t *testing.T) {
	_ = os.Unsetenv("OTEL_ENABLED")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Expected Enabled to be true when OTLP endpoint is set")
	}
}

func TestDefaultConfig_InvalidSampleRate(t *testing.T) {
	t.Setenv("OTEL_SAMPLE_RATE", "often")

	if cfg := DefaultConfig(); cfg.SampleRate != 1.0 {
		t.Errorf("Expected fallback SampleRate 1.0, got %f", cfg.SampleRate)
	}
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown returned error: %v", err)
	}
}

func TestSetup_ConsoleExporterWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		Enabled:        true,
		Console:        &buf,
		SampleRate:     1.0,
	}

	shutdown, err := Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	_, span := StartSpan(context.Background(), "console-span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("console-span")) {
		t.Error("Expected exported span in console writer")
	}
}

func TestSetup_DifferentSampleRates(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
	}{
		{"always sample", 1.0},
		{"never sample", 0.0},
		{"ratio sample", 0.5},
		{"above 1.0", 1.5},
		{"below 0.0", -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				Environment:    "test",
				Enabled:        true,
				Console:        &bytes.Buffer{},
				SampleRate:     tt.sampleRate,
			}

			shutdown, err := Setup(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Setup failed: %v", err)
			}
			_ = shutdown(context.Background())
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased"},
	}

	for _, tt := range tests {
		if got := newSampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("newSampler(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_ENV_BOOL_ON", "1")
	t.Setenv("TEST_ENV_BOOL_BAD", "sometimes")

	if !envBool("TEST_ENV_BOOL_ON", false) {
		t.Error("Expected 1 to parse as true")
	}
	if !envBool("TEST_ENV_BOOL_BAD", true) {
		t.Error("Expected fallback for an unparsable value")
	}
	if envBool("TEST_ENV_BOOL_UNSET", false) {
		t.Error("Expected fallback for an unset key")
	}
}

func TestStartSpan(t *testing.T) {
	newCtx, span := StartSpan(context.Background(), "test-span")
	defer span.End()

	if span == nil {
		t.Fatal("Expected span to be non-nil")
	}
	if !trace.SpanFromContext(newCtx).SpanContext().Equal(span.SpanContext()) {
		t.Error("Expected span to be stored in the returned context")
	}
}

func TestAddAttributes(t *testing.T) {
	_, span := StartSpan(context.Background(), "test-tool")
	defer span.End()

	// Should not panic
	AddToolAttributes(span, "cbeta_kwic_search", "search", "cbeta/search/kwic")
	AddUpstreamAttributes(span, "/search/kwic", "https://api.cbetaonline.cn/search/kwic?q=x")
}

func TestRecordError(t *testing.T) {
	_, span := StartSpan(context.Background(), "test-error")
	defer span.End()

	RecordError(span, nil)
	RecordError(span, errors.New("test error"))
}

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name         string
		envKey       string
		envValue     string
		defaultValue string
		expected     string
		setEnv       bool
	}{
		{
			name:         "env set",
			envKey:       "TEST_GET_ENV_KEY",
			envValue:     "custom-value",
			defaultValue: "default-value",
			expected:     "custom-value",
			setEnv:       true,
		},
		{
			name:         "env not set",
			envKey:       "TEST_GET_ENV_KEY_UNSET",
			defaultValue: "default-value",
			expected:     "default-value",
		},
		{
			name:         "env empty",
			envKey:       "TEST_GET_ENV_KEY_EMPTY",
			envValue:     "",
			defaultValue: "default-value",
			expected:     "default-value",
			setEnv:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv(tt.envKey, tt.envValue)
			}

			if result := getEnvOrDefault(tt.envKey, tt.defaultValue); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestTracerName(t *testing.T) {
	if TracerName != "cbeta-mcp-server" {
		t.Errorf("Expected TracerName 'cbeta-mcp-server', got %q", TracerName)
	}
}
