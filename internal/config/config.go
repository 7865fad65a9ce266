// Package config loads server settings from defaults, an optional YAML file
// named by CBETA_CONFIG, and environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

// Transports accepted in MCP_TRANSPORT.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultToolsDir    = "tools"
	DefaultMaxBodySize = 1 << 20
	DefaultRateLimit   = 120
)

// Config holds server settings.
type Config struct {
	// Host and Port are the HTTP listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Transport is "http" (Streamable HTTP) or "stdio".
	Transport string `yaml:"transport"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// RateLimit is the number of requests per minute allowed per client IP.
	// Zero disables rate limiting.
	RateLimit   int   `yaml:"rate_limit"`
	MaxBodySize int64 `yaml:"max_body_size"`

	// ToolsDir is the root searched for definition files.
	ToolsDir        string                   `yaml:"tools_dir"`
	Locale          string                   `yaml:"locale"`
	DuplicatePolicy registry.DuplicatePolicy `yaml:"duplicate_policy"`

	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxRetries    int           `yaml:"max_retries"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Transport:       TransportHTTP,
		LogLevel:        "info",
		RateLimit:       DefaultRateLimit,
		MaxBodySize:     DefaultMaxBodySize,
		ToolsDir:        DefaultToolsDir,
		Locale:          registry.DefaultLocale,
		DuplicatePolicy: registry.KeepFirst,
		BaseURL:         base.DefaultBaseURL,
		Timeout:         base.DefaultTimeout,
		MaxConcurrent:   base.DefaultMaxConcurrent,
	}
}

// Load builds the configuration. Invalid values are errors.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CBETA_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays settings from a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and changes nothing.
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, apierrors.NewValidationError(key, v, "must be an integer"))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, apierrors.NewValidationError(key, v, "must be a duration such as 20s or a number of seconds"))
				return
			}
			*dst = d
		}
	}

	str("APP_HOST", &c.Host)
	num("APP_PORT", &c.Port)
	str("MCP_TRANSPORT", &c.Transport)
	str("LOG_LEVEL", &c.LogLevel)
	num("RATE_LIMIT", &c.RateLimit)
	str("CBETA_TOOLS_DIR", &c.ToolsDir)
	str("CBETA_LOCALE", &c.Locale)
	str("CBETA_BASE_URL", &c.BaseURL)
	dur("CBETA_TIMEOUT", &c.Timeout)
	num("CBETA_MAX_CONCURRENT", &c.MaxConcurrent)
	num("CBETA_MAX_RETRIES", &c.MaxRetries)
	dur("CBETA_CACHE_TTL", &c.CacheTTL)

	if v, ok := lookup("CBETA_DUPLICATE_POLICY"); ok && v != "" {
		c.DuplicatePolicy = registry.DuplicatePolicy(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup("MAX_BODY_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, apierrors.NewValidationError("MAX_BODY_SIZE", v, "must be an integer"))
		} else {
			c.MaxBodySize = n
		}
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations and plain seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks the settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, apierrors.NewValidationError("port", strconv.Itoa(c.Port), "must be between 1 and 65535"))
	}
	switch c.Transport {
	case TransportHTTP, TransportStdio:
	default:
		errs = append(errs, apierrors.NewValidationError("transport", c.Transport, "must be http or stdio"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if policy, err := registry.ParseDuplicatePolicy(string(c.DuplicatePolicy)); err != nil {
		errs = append(errs, err)
	} else {
		c.DuplicatePolicy = policy
	}
	if c.RateLimit < 0 {
		errs = append(errs, apierrors.NewValidationError("rate_limit", strconv.Itoa(c.RateLimit), "must not be negative"))
	}
	if c.MaxBodySize <= 0 {
		errs = append(errs, apierrors.NewValidationError("max_body_size", strconv.FormatInt(c.MaxBodySize, 10), "must be positive"))
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, apierrors.NewValidationError("base_url", c.BaseURL, "must be an http(s) URL"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, apierrors.NewValidationError("timeout", c.Timeout.String(), "must be positive"))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, apierrors.NewValidationError("max_concurrent", strconv.Itoa(c.MaxConcurrent), "must be at least 1"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, apierrors.NewValidationError("max_retries", strconv.Itoa(c.MaxRetries), "must not be negative"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, apierrors.NewValidationError("cache_ttl", c.CacheTTL.String(), "must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, apierrors.NewValidationError("log_level", s, "must be debug, info, warn or error")
	}
	return level, nil
}

// API returns the upstream client settings.
func (c *Config) API() base.Config {
	cfg := base.DefaultConfig()
	cfg.BaseURL = c.BaseURL
	cfg.Timeout = c.Timeout
	cfg.MaxConcurrent = c.MaxConcurrent
	cfg.MaxRetries = c.MaxRetries
	cfg.CacheTTL = c.CacheTTL
	return cfg
}
