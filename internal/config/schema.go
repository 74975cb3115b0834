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
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SchemaJSON returns the JSON schema for config.json.
func SchemaJSON() string {
	return configSchemaJSON
}

// ExampleConfigJSON returns a minimal example config derived from the schema.
func ExampleConfigJSON() string {
	return exampleConfigJSON
}

func normalizeConfigJSON(data []byte) ([]byte, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := normalizeConfigMap(raw); err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

func normalizeConfigMap(raw map[string]interface{}) error {
	migrateLegacyConfig(raw)
	return validateConfigMap(raw, "")
}

// migrateLegacyConfig rewrites the comma separated tool lists of older
// config files into arrays.
func migrateLegacyConfig(raw map[string]interface{}) {
	mcp, ok := raw["mcp"].(map[string]interface{})
	if !ok {
		return
	}
	for _, key := range []string{"enable_tools", "disable_tools"} {
		legacy, ok := mcp[key].(string)
		if !ok {
			continue
		}
		list := []interface{}{}
		for _, part := range strings.Split(legacy, ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		mcp[key] = list
	}
}

func validateConfigMap(raw map[string]interface{}, prefix string) error {
	allowed := map[string]func(interface{}) error{
		"api_key":       func(v interface{}) error { return validateString(v, prefix+"api_key") },
		"api_url":       func(v interface{}) error { return validateString(v, prefix+"api_url") },
		"default_voice": func(v interface{}) error { return validateString(v, prefix+"default_voice") },
		"default_model": func(v interface{}) error { return validateString(v, prefix+"default_model") },
		"default_output_format": func(v interface{}) error {
			return validateString(v, prefix+"default_output_format")
		},
		"history_file": func(v interface{}) error {
			return validateString(v, prefix+"history_file")
		},
		"mcp": func(v interface{}) error {
			return validateMCP(v, prefix+"mcp.")
		},
		"retry": func(v interface{}) error {
			return validateRetry(v, prefix+"retry.")
		},
		"rate_limit": func(v interface{}) error {
			return validateRateLimit(v, prefix+"rate_limit.")
		},
		"timeouts": func(v interface{}) error {
			return validateTimeouts(v, prefix+"timeouts.")
		},
		"limits": func(v interface{}) error {
			return validateLimits(v, prefix+"limits.")
		},
	}
	return validateSection(raw, allowed, prefix)
}

func validateMCP(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object", strings.TrimSuffix(prefix, "."))
	}
	allowed := map[string]func(interface{}) error{
		"enable_tools":        func(v interface{}) error { return validateStringArray(v, prefix+"enable_tools") },
		"disable_tools":       func(v interface{}) error { return validateStringArray(v, prefix+"disable_tools") },
		"disable_admin":       func(v interface{}) error { return validateBool(v, prefix+"disable_admin") },
		"disable_destructive": func(v interface{}) error { return validateBool(v, prefix+"disable_destructive") },
		"read_only":           func(v interface{}) error { return validateBool(v, prefix+"read_only") },
		"max_concurrent":      func(v interface{}) error { return validateInteger(v, prefix+"max_concurrent") },
	}
	return validateSection(section, allowed, prefix)
}

func validateRetry(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object", strings.TrimSuffix(prefix, "."))
	}
	allowed := map[string]func(interface{}) error{
		"base_delay_ms":     func(v interface{}) error { return validateInteger(v, prefix+"base_delay_ms") },
		"max_delay_ms":      func(v interface{}) error { return validateInteger(v, prefix+"max_delay_ms") },
		"max_total_wait_ms": func(v interface{}) error { return validateInteger(v, prefix+"max_total_wait_ms") },
		"jitter":            func(v interface{}) error { return validateNumber(v, prefix+"jitter") },
	}
	return validateSection(section, allowed, prefix)
}

func validateRateLimit(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object", strings.TrimSuffix(prefix, "."))
	}
	allowed := map[string]func(interface{}) error{
		"requests_per_second": func(v interface{}) error { return validateNumber(v, prefix+"requests_per_second") },
		"burst":               func(v interface{}) error { return validateInteger(v, prefix+"burst") },
	}
	return validateSection(section, allowed, prefix)
}

func validateTimeouts(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object", strings.TrimSuffix(prefix, "."))
	}
	allowed := map[string]func(interface{}) error{
		"default_seconds":  func(v interface{}) error { return validateInteger(v, prefix+"default_seconds") },
		"per_tool_seconds": func(v interface{}) error { return validateStringNumberMap(v, prefix+"per_tool_seconds") },
	}
	return validateSection(section, allowed, prefix)
}

func validateLimits(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object", strings.TrimSuffix(prefix, "."))
	}
	allowed := map[string]func(interface{}) error{
		"max_upload_bytes": func(v interface{}) error { return validateInteger(v, prefix+"max_upload_bytes") },
		"max_text_chars":   func(v interface{}) error { return validateInteger(v, prefix+"max_text_chars") },
		"file_root":        func(v interface{}) error { return validateString(v, prefix+"file_root") },
	}
	return validateSection(section, allowed, prefix)
}

func validateSection(section map[string]interface{}, allowed map[string]func(interface{}) error, prefix string) error {
	keys := make([]string, 0, len(section))
	for key := range section {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		validator, ok := allowed[key]
		if !ok {
			return fmt.Errorf("unknown configuration field %q", prefix+key)
		}
		if err := validator(section[key]); err != nil {
			return err
		}
	}
	return nil
}

func validateString(value interface{}, name string) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("%s must be a string", name)
	}
	return nil
}

func validateNumber(value interface{}, name string) error {
	if _, ok := value.(float64); !ok {
		return fmt.Errorf("%s must be a number", name)
	}
	return nil
}

func validateInteger(value interface{}, name string) error {
	n, ok := value.(float64)
	if !ok || n != float64(int64(n)) {
		return fmt.Errorf("%s must be an integer", name)
	}
	return nil
}

func validateBool(value interface{}, name string) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("%s must be a boolean", name)
	}
	return nil
}

func validateStringArray(value interface{}, name string) error {
	list, ok := value.([]interface{})
	if !ok {
		return fmt.Errorf("%s must be an array of strings", name)
	}
	for _, item := range list {
		if _, ok := item.(string); !ok {
			return fmt.Errorf("%s must be an array of strings", name)
		}
	}
	return nil
}

func validateStringNumberMap(value interface{}, name string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object of number values", name)
	}
	for key, entry := range section {
		if _, ok := entry.(float64); !ok {
			return fmt.Errorf("%s.%s must be a number", name, key)
		}
	}
	return nil
}

var rangeValidator = newRangeValidator()

func newRangeValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRanges reports values that parse but fall outside their useful
// range. They are warnings because the runtime clamps or ignores them.
func validateRanges(c *Config) []ValidationWarning {
	err := rangeValidator.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationWarning{{Field: "config", Message: err.Error()}}
	}
	warnings := make([]ValidationWarning, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		warnings = append(warnings, ValidationWarning{
			Field:   field,
			Message: fmt.Sprintf("%v is out of range (%s %s)", fe.Value(), fe.Tag(), fe.Param()),
		})
	}
	return warnings
}

const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Elevenline Config",
  "type": "object",
  "properties": {
    "api_key": { "type": "string" },
    "api_url": { "type": "string" },
    "default_voice": { "type": "string" },
    "default_model": { "type": "string" },
    "default_output_format": { "type": "string" },
    "history_file": { "type": "string" },
    "mcp": {
      "type": "object",
      "properties": {
        "enable_tools": { "type": "array", "items": { "type": "string" } },
        "disable_tools": { "type": "array", "items": { "type": "string" } },
        "disable_admin": { "type": "boolean" },
        "disable_destructive": { "type": "boolean" },
        "read_only": { "type": "boolean" },
        "max_concurrent": { "type": "integer", "minimum": 0 }
      }
    },
    "retry": {
      "type": "object",
      "properties": {
        "base_delay_ms": { "type": "integer", "minimum": 0 },
        "max_delay_ms": { "type": "integer", "minimum": 0 },
        "max_total_wait_ms": { "type": "integer", "minimum": 0 },
        "jitter": { "type": "number", "minimum": 0, "exclusiveMaximum": 1 }
      }
    },
    "rate_limit": {
      "type": "object",
      "properties": {
        "requests_per_second": { "type": "number", "minimum": 0 },
        "burst": { "type": "integer", "minimum": 0 }
      }
    },
    "timeouts": {
      "type": "object",
      "properties": {
        "default_seconds": { "type": "integer", "minimum": 0 },
        "per_tool_seconds": { "type": "object", "additionalProperties": { "type": "integer" } }
      }
    },
    "limits": {
      "type": "object",
      "properties": {
        "max_upload_bytes": { "type": "integer", "minimum": 0 },
        "max_text_chars": { "type": "integer", "minimum": 0 },
        "file_root": { "type": "string" }
      }
    }
  }
}`

const exampleConfigJSON = `{
  "api_key": "sk_...",
  "default_voice": "21m00Tcm4TlvDq8ikWAM",
  "default_model": "eleven_multilingual_v2",
  "default_output_format": "mp3_44100_128",
  "mcp": {
    "disable_destructive": true,
    "disable_tools": ["delete_agent", "delete_secret"],
    "max_concurrent": 4
  },
  "retry": {
    "base_delay_ms": 500,
    "max_delay_ms": 8000,
    "max_total_wait_ms": 20000,
    "jitter": 0.2
  },
  "timeouts": {
    "default_seconds": 120,
    "per_tool_seconds": {
      "create_dubbing": 600
    }
  }
}`
