// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"elevenline/internal/catalog"
	"elevenline/internal/dispatch"
	"elevenline/internal/elevenlabs"
	"elevenline/internal/operations"
	"elevenline/internal/paths"
	"elevenline/internal/policy"
	"elevenline/internal/retry"
)

const (
	appDirName         = "elevenline"
	configFileName     = "config.json"
	defaultHistoryFile = ".elevenline_history"
	defaultConcurrency = 4
)

// Config represents the application configuration
type Config struct {
	APIKey              string        `json:"api_key,omitempty"`
	APIURL              string        `json:"api_url,omitempty"`
	DefaultVoice        string        `json:"default_voice,omitempty"`
	DefaultModel        string        `json:"default_model,omitempty"`
	DefaultOutputFormat string        `json:"default_output_format,omitempty"`
	MCP                 MCPSettings   `json:"mcp"`
	Retry               RetrySettings `json:"retry"`
	RateLimit           RateLimit     `json:"rate_limit"`
	Timeouts            Timeouts      `json:"timeouts"`
	Limits              Limits        `json:"limits"`
	HistoryFile         string        `json:"history_file,omitempty"`
}

// MCPSettings holds the defaults of the tool server policy knobs. Command
// line flags override them for one session.
type MCPSettings struct {
	EnableTools        []string `json:"enable_tools,omitempty"`
	DisableTools       []string `json:"disable_tools,omitempty"`
	DisableAdmin       bool     `json:"disable_admin,omitempty"`
	DisableDestructive bool     `json:"disable_destructive,omitempty"`
	ReadOnly           bool     `json:"read_only,omitempty"`
	MaxConcurrent      int      `json:"max_concurrent,omitempty" validate:"gte=0,lte=64"`
}

// RetrySettings configures the backoff schedule in milliseconds.
type RetrySettings struct {
	BaseDelayMS    int      `json:"base_delay_ms,omitempty" validate:"gte=0"`
	MaxDelayMS     int      `json:"max_delay_ms,omitempty" validate:"gte=0"`
	MaxTotalWaitMS int      `json:"max_total_wait_ms,omitempty" validate:"gte=0"`
	Jitter         *float64 `json:"jitter,omitempty" validate:"omitempty,gte=0,lt=1"`
}

// RateLimit paces outgoing requests.
type RateLimit struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" validate:"gte=0"`
	Burst             int     `json:"burst,omitempty" validate:"gte=0"`
}

// Timeouts configures per-attempt operation timeouts.
type Timeouts struct {
	DefaultSeconds int            `json:"default_seconds,omitempty" validate:"gte=0"`
	PerToolSeconds map[string]int `json:"per_tool_seconds,omitempty" validate:"dive,gte=0"`
}

// Limits bounds local file access and request sizes.
type Limits struct {
	MaxUploadBytes int64 `json:"max_upload_bytes,omitempty" validate:"gte=0"`
	MaxTextChars   int   `json:"max_text_chars,omitempty" validate:"gte=0"`
	// FileRoot confines every path an operation reads or writes.
	FileRoot string `json:"file_root,omitempty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	backoff := retry.DefaultPolicy()
	return &Config{
		APIURL:              elevenlabs.DefaultBaseURL,
		DefaultVoice:        operations.DefaultVoice,
		DefaultModel:        operations.DefaultModel,
		DefaultOutputFormat: operations.DefaultOutputFormat,
		MCP:                 MCPSettings{MaxConcurrent: defaultConcurrency},
		Retry: RetrySettings{
			BaseDelayMS:    int(backoff.BaseDelay / time.Millisecond),
			MaxDelayMS:     int(backoff.MaxDelay / time.Millisecond),
			MaxTotalWaitMS: int(backoff.MaxTotalWait / time.Millisecond),
		},
		Limits: Limits{
			MaxUploadBytes: paths.DefaultMaxUploadBytes,
			MaxTextChars:   operations.DefaultMaxTextChars,
		},
		HistoryFile: defaultHistoryFile,
	}
}

// DefaultPath returns the config file location under the user config
// directory ($XDG_CONFIG_HOME on Linux).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, configFileName), nil
}

// LoadConfig loads configuration from a JSON file and applies env overrides.
// A missing file yields the defaults. The API key is not required here so
// that commands which never reach the service work without one.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		normalized, err := normalizeConfigJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := json.Unmarshal(normalized, config); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if val := os.Getenv("ELEVENLABS_API_KEY"); val != "" {
		config.APIKey = val
	}
	if val := os.Getenv("ELEVENLABS_API_URL"); val != "" {
		config.APIURL = val
	}

	if config.APIURL == "" {
		config.APIURL = elevenlabs.DefaultBaseURL
	}
	if config.DefaultModel == "" {
		config.DefaultModel = operations.DefaultModel
	}
	if config.DefaultOutputFormat == "" {
		config.DefaultOutputFormat = operations.DefaultOutputFormat
	}

	return config, nil
}

// Redacted returns a copy safe to print, with the API key masked.
func (c *Config) Redacted() *Config {
	out := *c
	if len(out.APIKey) > 8 {
		out.APIKey = out.APIKey[:4] + "..." + out.APIKey[len(out.APIKey)-4:]
	} else if out.APIKey != "" {
		out.APIKey = "***"
	}
	return &out
}

// PolicyConfig converts the mcp section into a policy configuration.
func (c *Config) PolicyConfig() policy.Config {
	return policy.NewConfig(
		c.MCP.EnableTools,
		c.MCP.DisableTools,
		c.MCP.DisableAdmin,
		c.MCP.DisableDestructive,
		c.MCP.ReadOnly,
	)
}

// MaxConcurrent returns the tool server concurrency bound.
func (c *Config) MaxConcurrent() int {
	if c.MCP.MaxConcurrent <= 0 {
		return defaultConcurrency
	}
	return c.MCP.MaxConcurrent
}

// RetryPolicy returns the backoff schedule. Unset fields fall back to the
// defaults of the retry package.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Retry.BaseDelayMS > 0 {
		p.BaseDelay = time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
	}
	if c.Retry.MaxDelayMS > 0 {
		p.MaxDelay = time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
	}
	if c.Retry.MaxTotalWaitMS > 0 {
		p.MaxTotalWait = time.Duration(c.Retry.MaxTotalWaitMS) * time.Millisecond
	}
	if c.Retry.Jitter != nil {
		p.Jitter = *c.Retry.Jitter
	}
	return p
}

// TimeoutConfig returns per-operation attempt timeouts.
func (c *Config) TimeoutConfig() dispatch.TimeoutConfig {
	perTool := make(map[string]time.Duration, len(c.Timeouts.PerToolSeconds))
	for name, seconds := range c.Timeouts.PerToolSeconds {
		if seconds <= 0 {
			continue
		}
		perTool[name] = time.Duration(seconds) * time.Second
	}

	var defaultTimeout time.Duration
	if c.Timeouts.DefaultSeconds > 0 {
		defaultTimeout = time.Duration(c.Timeouts.DefaultSeconds) * time.Second
	}

	return dispatch.TimeoutConfig{
		Default:      defaultTimeout,
		PerOperation: perTool,
	}
}

// ClientOptions returns the options of the ElevenLabs client.
func (c *Config) ClientOptions(logger zerolog.Logger) elevenlabs.Options {
	return elevenlabs.Options{
		APIKey:            c.APIKey,
		BaseURL:           c.APIURL,
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
		Logger:            logger,
	}
}

// Resolver returns the file path policy of operations.
func (c *Config) Resolver() paths.Resolver {
	return paths.Resolver{
		Root:           c.Limits.FileRoot,
		MaxUploadBytes: c.Limits.MaxUploadBytes,
	}
}

// OperationDefaults returns the generation defaults.
func (c *Config) OperationDefaults() operations.Defaults {
	return operations.Defaults{
		Voice:        c.DefaultVoice,
		Model:        c.DefaultModel,
		OutputFormat: c.DefaultOutputFormat,
	}
}

// ValidationWarning represents a non-fatal configuration issue
type ValidationWarning struct {
	Field   string
	Message string
}

// Validate checks the configuration for common issues and returns warnings
func (c *Config) Validate(cat *catalog.Catalog) []ValidationWarning {
	warnings := validateRanges(c)

	if c.Retry.MaxDelayMS > 0 && c.Retry.BaseDelayMS > c.Retry.MaxDelayMS {
		warnings = append(warnings, ValidationWarning{
			Field:   "retry.max_delay_ms",
			Message: fmt.Sprintf("max_delay_ms %d is below base_delay_ms %d", c.Retry.MaxDelayMS, c.Retry.BaseDelayMS),
		})
	}

	if c.DefaultOutputFormat != "" && !knownFormat(c.DefaultOutputFormat) {
		warnings = append(warnings, ValidationWarning{
			Field:   "default_output_format",
			Message: fmt.Sprintf("output format %q is not recognised", c.DefaultOutputFormat),
		})
	}

	if c.MCP.ReadOnly && len(c.MCP.EnableTools) > 0 {
		for _, name := range c.MCP.EnableTools {
			if d, ok := lookup(cat, name); ok && d.Category != catalog.CategorySafe {
				warnings = append(warnings, ValidationWarning{
					Field:   "mcp.enable_tools",
					Message: fmt.Sprintf("tool %q is enabled but read_only hides %s operations", name, d.Category),
				})
			}
		}
	}

	if cat != nil {
		check := func(field string, names []string) {
			for _, name := range names {
				if _, ok := cat.Lookup(name); !ok {
					warnings = append(warnings, ValidationWarning{
						Field:   field,
						Message: fmt.Sprintf("tool %q is not a known operation", name),
					})
				}
			}
		}
		check("mcp.enable_tools", c.MCP.EnableTools)
		check("mcp.disable_tools", c.MCP.DisableTools)

		names := make([]string, 0, len(c.Timeouts.PerToolSeconds))
		for name := range c.Timeouts.PerToolSeconds {
			names = append(names, name)
		}
		sort.Strings(names)
		check("timeouts.per_tool_seconds", names)
	}

	return warnings
}

func lookup(cat *catalog.Catalog, name string) (catalog.Descriptor, bool) {
	if cat == nil {
		return catalog.Descriptor{}, false
	}
	return cat.Lookup(name)
}

func knownFormat(format string) bool {
	for _, f := range operations.OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}
