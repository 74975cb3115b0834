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

package catalog

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "elevenline/internal/errors"
)

// ValidationRule checks arguments beyond what the schema expresses.
type ValidationRule func(args Args) error

// ChainValidation runs rules in order until the first error.
func ChainValidation(rules ...ValidationRule) func(Args) error {
	return func(args Args) error {
		for _, rule := range rules {
			if rule == nil {
				continue
			}
			if err := rule(args); err != nil {
				return err
			}
		}
		return nil
	}
}

// MaxChars limits the length of a string argument in characters.
func MaxChars(name string, max int) ValidationRule {
	return func(args Args) error {
		if n := utf8.RuneCountInString(args.String(name)); n > max {
			return apperrors.InvalidArgument(name, fmt.Sprintf("%d characters exceeds the limit of %d", n, max))
		}
		return nil
	}
}

// Range bounds a numeric argument when present.
func Range(name string, min, max float64) ValidationRule {
	return func(args Args) error {
		v, ok := args.Float(name)
		if !ok {
			return nil
		}
		if v < min || v > max {
			return apperrors.InvalidArgument(name, fmt.Sprintf("must be between %g and %g", min, max))
		}
		return nil
	}
}

// RequireOneOf demands at least one of the named arguments.
func RequireOneOf(names ...string) ValidationRule {
	return func(args Args) error {
		for _, name := range names {
			if args.Has(name) {
				if s, ok := args[name].(string); ok && strings.TrimSpace(s) == "" {
					continue
				}
				return nil
			}
		}
		return apperrors.InvalidArgument(names[0], fmt.Sprintf("one of %s is required", strings.Join(names, ", ")))
	}
}

// ExactlyOneOf demands that exactly one of the named arguments is set.
func ExactlyOneOf(names ...string) ValidationRule {
	return func(args Args) error {
		var set []string
		for _, name := range names {
			if s, ok := args[name].(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			if args.Has(name) {
				set = append(set, name)
			}
		}
		switch len(set) {
		case 1:
			return nil
		case 0:
			return apperrors.InvalidArgument(names[0], fmt.Sprintf("one of %s is required", strings.Join(names, ", ")))
		}
		return apperrors.InvalidArgument(set[1], fmt.Sprintf("only one of %s may be given", strings.Join(names, ", ")))
	}
}

// NonEmptyList demands a non-empty array argument.
func NonEmptyList(name string) ValidationRule {
	return func(args Args) error {
		if len(args.Strings(name)) == 0 {
			return apperrors.InvalidArgument(name, "must contain at least one item")
		}
		return nil
	}
}
