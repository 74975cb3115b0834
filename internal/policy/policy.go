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

// Package policy decides which catalog operations a session may invoke.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"elevenline/internal/catalog"
)

// Rule names the policy clause that decided an evaluation.
type Rule string

const (
	RuleAllowed             Rule = ""
	RuleDisabledByName      Rule = "disabled_by_name"
	RuleDestructiveDisabled Rule = "destructive_disabled"
	RuleAdminDisabled       Rule = "admin_disabled"
	RuleReadOnly            Rule = "read_only"
	RuleNotEnabled          Rule = "not_enabled"
)

// Config holds the filtering knobs of a session. It is fixed once the
// session starts.
type Config struct {
	// Enabled is the allow-list. An empty set disables allow-list mode.
	Enabled            map[string]bool
	Disabled           map[string]bool
	DisableAdmin       bool
	DisableDestructive bool
	ReadOnly           bool
}

// NewConfig builds a Config from name lists.
func NewConfig(enabled, disabled []string, disableAdmin, disableDestructive, readOnly bool) Config {
	return Config{
		Enabled:            toSet(enabled),
		Disabled:           toSet(disabled),
		DisableAdmin:       disableAdmin,
		DisableDestructive: disableDestructive,
		ReadOnly:           readOnly,
	}
}

// Permissive returns a configuration that allows every operation.
func Permissive() Config {
	return Config{}
}

// ParseList splits a comma separated list of operation names, dropping
// blanks and surrounding whitespace.
func ParseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			set[name] = true
		}
	}
	return set
}

// Decision is the outcome of evaluating one operation.
type Decision struct {
	Allowed  bool
	Rule     Rule
	Category catalog.Category
}

// Reason renders a human readable explanation of a denial.
func (d Decision) Reason() string {
	switch d.Rule {
	case RuleAllowed:
		return "allowed"
	case RuleDisabledByName:
		return "operation is explicitly disabled"
	case RuleDestructiveDisabled:
		return "destructive operations are disabled"
	case RuleAdminDisabled:
		return "administrative operations are disabled"
	case RuleReadOnly:
		return fmt.Sprintf("%s operations are not allowed in read-only mode", d.Category)
	case RuleNotEnabled:
		return "operation is not in the enabled list"
	}
	return string(d.Rule)
}

// Evaluate applies the precedence order to a single descriptor. Exclusions
// always win over the allow-list.
func Evaluate(cfg Config, d catalog.Descriptor) Decision {
	deny := func(rule Rule) Decision {
		return Decision{Allowed: false, Rule: rule, Category: d.Category}
	}

	if cfg.Disabled[d.Name] {
		return deny(RuleDisabledByName)
	}
	if d.Category == catalog.CategoryDestructive {
		if cfg.DisableDestructive {
			return deny(RuleDestructiveDisabled)
		}
		if cfg.ReadOnly {
			return deny(RuleReadOnly)
		}
	}
	if d.Category.IsAdmin() {
		if cfg.DisableAdmin {
			return deny(RuleAdminDisabled)
		}
		if cfg.ReadOnly {
			return deny(RuleReadOnly)
		}
	}
	if len(cfg.Enabled) > 0 && !cfg.Enabled[d.Name] {
		return deny(RuleNotEnabled)
	}
	return Decision{Allowed: true, Rule: RuleAllowed, Category: d.Category}
}

// Resolve returns the allowed descriptors in catalog order.
func Resolve(cfg Config, c *catalog.Catalog) []catalog.Descriptor {
	var out []catalog.Descriptor
	for _, d := range c.List() {
		if Evaluate(cfg, d).Allowed {
			out = append(out, d)
		}
	}
	return out
}

// IsAllowed reports whether name is in the resolved set. Unknown names are
// never allowed.
func IsAllowed(name string, cfg Config, c *catalog.Catalog) bool {
	d, ok := c.Lookup(name)
	if !ok {
		return false
	}
	return Evaluate(cfg, d).Allowed
}

// Warnings lists policy entries that name no catalog operation.
func Warnings(cfg Config, c *catalog.Catalog) []string {
	var warnings []string
	check := func(field string, set map[string]bool) {
		names := make([]string, 0, len(set))
		for name := range set {
			if _, ok := c.Lookup(name); !ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			warnings = append(warnings, fmt.Sprintf("%s: unknown operation %q", field, name))
		}
	}
	check("enable_tools", cfg.Enabled)
	check("disable_tools", cfg.Disabled)
	return warnings
}

// Engine caches the resolved set of a session. It is immutable and safe for
// concurrent use.
type Engine struct {
	cfg     Config
	catalog *catalog.Catalog
	allowed map[string]bool
	ordered []catalog.Descriptor
}

// NewEngine resolves cfg against the catalog.
func NewEngine(cfg Config, c *catalog.Catalog) *Engine {
	ordered := Resolve(cfg, c)
	allowed := make(map[string]bool, len(ordered))
	for _, d := range ordered {
		allowed[d.Name] = true
	}
	return &Engine{cfg: cfg, catalog: c, allowed: allowed, ordered: ordered}
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Allowed returns the resolved descriptors in catalog order.
func (e *Engine) Allowed() []catalog.Descriptor {
	out := make([]catalog.Descriptor, len(e.ordered))
	copy(out, e.ordered)
	return out
}

// IsAllowed reports membership in the resolved set.
func (e *Engine) IsAllowed(name string) bool {
	return e.allowed[name]
}

// Check evaluates a descriptor. The result agrees with IsAllowed.
func (e *Engine) Check(d catalog.Descriptor) Decision {
	return Evaluate(e.cfg, d)
}
