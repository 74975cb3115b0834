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

package dispatch

import (
	"fmt"
	"math"
	"strings"

	"elevenline/internal/catalog"
	apperrors "elevenline/internal/errors"
)

// ValidateArguments checks raw arguments against the descriptor schema:
// unknown names, required presence, JSON type and enum membership. It
// returns a copy with defaults applied.
func ValidateArguments(desc catalog.Descriptor, raw map[string]interface{}) (catalog.Args, error) {
	for name := range raw {
		if _, ok := desc.Param(name); !ok {
			return nil, apperrors.InvalidArgument(name, "unknown parameter")
		}
	}

	args := make(catalog.Args, len(desc.Params))
	for _, p := range desc.Params {
		value, present := raw[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, apperrors.InvalidArgument(p.Name, "required parameter is missing")
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		normalized, err := checkType(p, value)
		if err != nil {
			return nil, apperrors.InvalidArgument(p.Name, err.Error())
		}
		args[p.Name] = normalized
	}
	return args, nil
}

func checkType(p catalog.Param, value interface{}) (interface{}, error) {
	switch p.Type {
	case catalog.TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, typeMismatch(p.Type, value)
		}
		if p.Required && strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("must not be empty")
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return nil, fmt.Errorf("must be one of %s", strings.Join(p.Enum, ", "))
		}
		return s, nil
	case catalog.TypeInteger:
		switch v := value.(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		return nil, typeMismatch(p.Type, value)
	case catalog.TypeNumber:
		switch v := value.(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("expected finite number")
			}
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		return nil, typeMismatch(p.Type, value)
	case catalog.TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, typeMismatch(p.Type, value)
	case catalog.TypeArray:
		switch v := value.(type) {
		case []interface{}:
			for i, item := range v {
				if _, ok := item.(string); !ok {
					return nil, fmt.Errorf("item %d: expected string, got %s", i, jsonType(item))
				}
			}
			return v, nil
		case []string:
			out := make([]interface{}, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, nil
		}
		return nil, typeMismatch(p.Type, value)
	case catalog.TypeObject:
		if m, ok := value.(map[string]interface{}); ok {
			return m, nil
		}
		return nil, typeMismatch(p.Type, value)
	}
	return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
}

func typeMismatch(want catalog.ParamType, value interface{}) error {
	return fmt.Errorf("expected %s, got %s", want, jsonType(value))
}

func jsonType(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []interface{}, []string:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
