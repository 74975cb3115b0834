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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"elevenline/internal/elevenlabs"
	"elevenline/internal/operations"
	"elevenline/internal/policy"
	"elevenline/internal/retry"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("ELEVENLABS_API_URL", "")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `{"api_key":"file-key","api_url":"https://file.example"}`)
	t.Setenv("ELEVENLABS_API_KEY", "env-key")
	t.Setenv("ELEVENLABS_API_URL", "https://env.example")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("expected env key to override file, got %s", cfg.APIKey)
	}
	if cfg.APIURL != "https://env.example" {
		t.Fatalf("expected env API URL to override file, got %s", cfg.APIURL)
	}
}

func TestMissingAPIKeyIsNotAnError(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	clearEnv(t)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "" {
		t.Fatalf("expected empty API key, got %q", cfg.APIKey)
	}
}

func TestLoadConfigMissingFileReturnsDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.APIURL != elevenlabs.DefaultBaseURL {
		t.Fatalf("expected default API URL, got %s", cfg.APIURL)
	}
	if cfg.DefaultVoice != operations.DefaultVoice || cfg.DefaultModel != operations.DefaultModel {
		t.Fatalf("expected generation defaults, got voice=%s model=%s", cfg.DefaultVoice, cfg.DefaultModel)
	}
	if cfg.MaxConcurrent() != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.MaxConcurrent())
	}
}

func TestConfigValidationRejectsMalformedFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", `{"unknown_field":123}`, `unknown configuration field "unknown_field"`},
		{"unknown nested field", `{"mcp":{"allow":["x"]}}`, `unknown configuration field "mcp.allow"`},
		{"wrong type", `{"retry":{"jitter":"high"}}`, "retry.jitter must be a number"},
		{"fractional integer", `{"mcp":{"max_concurrent":1.5}}`, "mcp.max_concurrent must be an integer"},
		{"section not object", `{"limits":7}`, "limits must be an object"},
		{"array of numbers", `{"mcp":{"disable_tools":[1,2]}}`, "mcp.disable_tools must be an array of strings"},
		{"per tool value", `{"timeouts":{"per_tool_seconds":{"x":"9"}}}`, "timeouts.per_tool_seconds.x must be a number"},
		{"not json", `{`, "unexpected end of JSON input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLegacyCommaSeparatedToolLists(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"mcp":{"enable_tools":"text_to_speech, list_voices ,,","disable_tools":""}}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"text_to_speech", "list_voices"}, cfg.MCP.EnableTools); diff != "" {
		t.Fatalf("enable_tools mismatch (-want +got):\n%s", diff)
	}
	if len(cfg.MCP.DisableTools) != 0 {
		t.Fatalf("expected no disabled tools, got %v", cfg.MCP.DisableTools)
	}
}

func TestPolicyConfigFromMCPSection(t *testing.T) {
	content := `{
		"mcp": {
			"enable_tools": ["text_to_speech"],
			"disable_tools": ["delete_voice"],
			"disable_admin": true,
			"disable_destructive": true,
			"read_only": false,
			"max_concurrent": 1
		}
	}`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := policy.NewConfig([]string{"text_to_speech"}, []string{"delete_voice"}, true, true, false)
	if diff := cmp.Diff(want, cfg.PolicyConfig()); diff != "" {
		t.Fatalf("policy mismatch (-want +got):\n%s", diff)
	}
	if cfg.MaxConcurrent() != 1 {
		t.Fatalf("expected sequential processing, got %d", cfg.MaxConcurrent())
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := DefaultConfig()
	if diff := cmp.Diff(retry.DefaultPolicy(), cfg.RetryPolicy()); diff != "" {
		t.Fatalf("default policy mismatch (-want +got):\n%s", diff)
	}

	path := writeTempConfig(t, `{"retry":{"base_delay_ms":100,"max_delay_ms":2000,"max_total_wait_ms":5000,"jitter":0}}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := retry.Policy{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		MaxTotalWait: 5 * time.Second,
		Jitter:       0,
	}
	if diff := cmp.Diff(want, cfg.RetryPolicy()); diff != "" {
		t.Fatalf("policy mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeoutConfig(t *testing.T) {
	content := `{
		"timeouts": {
			"default_seconds": 3,
			"per_tool_seconds": {
				"create_dubbing": 9,
				"list_voices": 0
			}
		}
	}`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	timeouts := cfg.TimeoutConfig()
	if got := timeouts.TimeoutFor("create_dubbing"); got != 9*time.Second {
		t.Fatalf("expected create_dubbing timeout 9s, got %s", got)
	}
	if got := timeouts.TimeoutFor("list_voices"); got != 3*time.Second {
		t.Fatalf("expected zero override to fall back to default, got %s", got)
	}
}

func TestClientOptionsAndResolver(t *testing.T) {
	clearEnv(t)
	content := `{
		"api_key": "k",
		"rate_limit": {"requests_per_second": 2.5, "burst": 3},
		"limits": {"max_upload_bytes": 1024, "file_root": "/srv/audio"}
	}`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opts := cfg.ClientOptions(zerolog.Nop())
	if opts.APIKey != "k" || opts.BaseURL != elevenlabs.DefaultBaseURL {
		t.Fatalf("unexpected client options %+v", opts)
	}
	if opts.RequestsPerSecond != 2.5 || opts.Burst != 3 {
		t.Fatalf("expected pacing 2.5/3, got %v/%d", opts.RequestsPerSecond, opts.Burst)
	}
	resolver := cfg.Resolver()
	if resolver.Root != "/srv/audio" || resolver.MaxUploadBytes != 1024 {
		t.Fatalf("unexpected resolver %+v", resolver)
	}
	defaults := cfg.OperationDefaults()
	if defaults.OutputFormat != operations.DefaultOutputFormat {
		t.Fatalf("expected default output format, got %s", defaults.OutputFormat)
	}
}

func TestValidateDefaultsHasNoWarnings(t *testing.T) {
	cat, err := operations.NewCatalog(operations.Deps{})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if warnings := DefaultConfig().Validate(cat); len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", warnings)
	}
}

func TestValidateWarnings(t *testing.T) {
	cat, err := operations.NewCatalog(operations.Deps{})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	jitter := 1.5
	cfg := DefaultConfig()
	cfg.DefaultOutputFormat = "flac_44100"
	cfg.MCP.ReadOnly = true
	cfg.MCP.EnableTools = []string{"text_to_speech", "delete_voice", "speak_loudly"}
	cfg.MCP.DisableTools = []string{"nope"}
	cfg.Retry.Jitter = &jitter
	cfg.Retry.BaseDelayMS = 5000
	cfg.Retry.MaxDelayMS = 1000
	cfg.Timeouts.PerToolSeconds = map[string]int{"bogus": 5}

	warnings := cfg.Validate(cat)
	got := make(map[string][]string)
	for _, w := range warnings {
		got[w.Field] = append(got[w.Field], w.Message)
	}

	for _, field := range []string{"retry.jitter", "retry.max_delay_ms", "default_output_format", "mcp.disable_tools", "timeouts.per_tool_seconds"} {
		if len(got[field]) != 1 {
			t.Errorf("expected one warning for %s, got %v", field, got[field])
		}
	}
	if msgs := got["mcp.enable_tools"]; len(msgs) != 2 {
		t.Fatalf("expected read-only and unknown tool warnings, got %v", msgs)
	}
	joined := strings.Join(got["mcp.enable_tools"], "\n")
	if !strings.Contains(joined, `"delete_voice"`) || !strings.Contains(joined, `"speak_loudly"`) {
		t.Fatalf("unexpected enable_tools warnings: %s", joined)
	}
}

func TestSetValueAndUnset(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	steps := []struct{ key, value string }{
		{"default_voice", "Rachel"},
		{"mcp.read_only", "true"},
		{"mcp.enable_tools", "text_to_speech, list_voices"},
		{"mcp.max_concurrent", "2"},
		{"retry.jitter", "0.1"},
		{"timeouts.per_tool_seconds.create_dubbing", "600"},
	}
	for _, step := range steps {
		if err := SetValue(path, step.key, step.value); err != nil {
			t.Fatalf("set %s: %v", step.key, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.DefaultVoice != "Rachel" || !cfg.MCP.ReadOnly || cfg.MCP.MaxConcurrent != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if diff := cmp.Diff([]string{"text_to_speech", "list_voices"}, cfg.MCP.EnableTools); diff != "" {
		t.Fatalf("enable_tools mismatch (-want +got):\n%s", diff)
	}
	if cfg.Retry.Jitter == nil || *cfg.Retry.Jitter != 0.1 {
		t.Fatalf("expected jitter 0.1, got %v", cfg.Retry.Jitter)
	}
	if cfg.Timeouts.PerToolSeconds["create_dubbing"] != 600 {
		t.Fatalf("expected create_dubbing timeout 600, got %v", cfg.Timeouts.PerToolSeconds)
	}

	if err := UnsetValue(path, "mcp.read_only"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if err := UnsetValue(path, "retry.jitter"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	raw, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := raw["retry"]; ok {
		t.Fatalf("expected empty retry section to be removed, got %v", raw["retry"])
	}
	mcp, ok := raw["mcp"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected mcp section to remain, got %v", raw)
	}
	if _, ok := mcp["read_only"]; ok {
		t.Fatal("expected read_only to be removed")
	}
}

func TestSetValueRejectsInvalidInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	tests := []struct {
		key, value string
		wantErr    string
	}{
		{"voice", "Rachel", `unknown configuration field "voice"`},
		{"mcp.allow", "x", `unknown configuration field "mcp.allow"`},
		{"mcp.read_only", "maybe", "mcp.read_only must be a boolean"},
		{"retry.base_delay_ms", "1.5", "retry.base_delay_ms must be an integer"},
		{"mcp", "yes", "mcp must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := SetValue(path, tt.key, tt.value)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected rejected sets to leave no file, got %v", err)
	}
	if err := UnsetValue(path, "nope"); err == nil {
		t.Fatal("expected unset of unknown key to fail")
	}
}

func TestKeysListsLeafFields(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"api_key", "mcp.read_only", "retry.jitter", "timeouts.per_tool_seconds", "limits.file_root"} {
		found := false
		for _, key := range keys {
			if key == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected key %s in %v", want, keys)
		}
	}
	for _, key := range keys {
		if key == "mcp" || key == "retry" {
			t.Fatalf("section %s must not be listed as a key", key)
		}
	}
}

func TestRedactedMasksAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "sk_1234567890abcdef"
	if got := cfg.Redacted().APIKey; got != "sk_1...cdef" {
		t.Fatalf("unexpected redaction %q", got)
	}
	if cfg.APIKey != "sk_1234567890abcdef" {
		t.Fatal("redaction must not modify the original")
	}
	cfg.APIKey = "short"
	if got := cfg.Redacted().APIKey; got != "***" {
		t.Fatalf("unexpected redaction %q", got)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	if _, err := normalizeConfigJSON([]byte(ExampleConfigJSON())); err != nil {
		t.Fatalf("example config is invalid: %v", err)
	}
	if !strings.Contains(SchemaJSON(), `"per_tool_seconds"`) {
		t.Fatal("schema is missing per_tool_seconds")
	}
}
