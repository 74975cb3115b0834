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
	"strconv"
	"strings"
)

type schemaNode struct {
	Type                 string                 `json:"type"`
	Properties           map[string]*schemaNode `json:"properties"`
	AdditionalProperties *schemaNode            `json:"additionalProperties"`
}

var rootSchema = mustParseSchema()

func mustParseSchema() *schemaNode {
	var node schemaNode
	if err := json.Unmarshal([]byte(configSchemaJSON), &node); err != nil {
		panic(fmt.Sprintf("config schema: %v", err))
	}
	return &node
}

// Keys lists every dotted key accepted by SetValue, sorted.
func Keys() []string {
	var keys []string
	var walk func(prefix string, node *schemaNode)
	walk = func(prefix string, node *schemaNode) {
		for name, child := range node.Properties {
			if child.Type == "object" && child.Properties != nil {
				walk(prefix+name+".", child)
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk("", rootSchema)
	sort.Strings(keys)
	return keys
}

func schemaFor(key string) (*schemaNode, error) {
	node := rootSchema
	for _, part := range strings.Split(key, ".") {
		var next *schemaNode
		if node.Properties != nil {
			next = node.Properties[part]
		}
		if next == nil && node.AdditionalProperties != nil && part != "" {
			next = node.AdditionalProperties
		}
		if next == nil {
			return nil, fmt.Errorf("unknown configuration field %q", key)
		}
		node = next
	}
	return node, nil
}

func parseValue(node *schemaNode, key, value string) (interface{}, error) {
	switch node.Type {
	case "string":
		return value, nil
	case "boolean":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be a boolean", key)
		}
		return b, nil
	case "integer":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		return float64(n), nil
	case "number":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number", key)
		}
		return f, nil
	case "array":
		if strings.HasPrefix(strings.TrimSpace(value), "[") {
			var list []interface{}
			if err := json.Unmarshal([]byte(value), &list); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			return list, nil
		}
		list := []interface{}{}
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		return list, nil
	case "object":
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(value), &obj); err != nil {
			return nil, fmt.Errorf("%s must be a JSON object", key)
		}
		return obj, nil
	}
	return nil, fmt.Errorf("%s cannot be set", key)
}

// SetValue stores one dotted key in the config file at path, creating the
// file when it does not exist. Values are parsed by the schema type of key;
// arrays accept a comma separated list or a JSON array.
func SetValue(path, key, value string) error {
	node, err := schemaFor(key)
	if err != nil {
		return err
	}
	parsed, err := parseValue(node, key, value)
	if err != nil {
		return err
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	section := raw
	for _, part := range parts[:len(parts)-1] {
		child, ok := section[part].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			section[part] = child
		}
		section = child
	}
	section[parts[len(parts)-1]] = parsed

	if err := normalizeConfigMap(raw); err != nil {
		return err
	}
	return writeRaw(path, raw)
}

// UnsetValue removes one dotted key from the config file at path so that
// its default applies again. Empty sections are removed as well.
func UnsetValue(path, key string) error {
	if _, err := schemaFor(key); err != nil {
		return err
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	unset(raw, strings.Split(key, "."))
	return writeRaw(path, raw)
}

func unset(section map[string]interface{}, parts []string) {
	if len(parts) == 1 {
		delete(section, parts[0])
		return
	}
	child, ok := section[parts[0]].(map[string]interface{})
	if !ok {
		return
	}
	unset(child, parts[1:])
	if len(child) == 0 {
		delete(section, parts[0])
	}
}

// ReadFile returns the raw contents of the config file at path with legacy
// fields migrated, or an empty object when it does not exist.
func ReadFile(path string) (map[string]interface{}, error) {
	return readRaw(path)
}

func readRaw(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw := map[string]interface{}{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	migrateLegacyConfig(raw)
	return raw, nil
}

func writeRaw(path string, raw map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
