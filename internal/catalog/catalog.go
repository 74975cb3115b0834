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

// Package catalog holds the immutable registry of remote operations that the
// CLI and the tool server expose.
package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Category classifies the risk of an operation. Destructive operations are
// also treated as administrative when policies are applied.
type Category string

const (
	CategorySafe        Category = "safe"
	CategoryAdmin       Category = "admin"
	CategoryDestructive Category = "destructive"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySafe, CategoryAdmin, CategoryDestructive:
		return true
	}
	return false
}

// IsAdmin reports whether c falls under administrative filtering.
func (c Category) IsAdmin() bool {
	return c == CategoryAdmin || c == CategoryDestructive
}

// ParamType is the JSON type accepted for a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Param describes one named argument of an operation.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Default     interface{}
}

// Handler performs an operation with already validated arguments.
type Handler func(ctx context.Context, args Args) (interface{}, error)

// Descriptor is the immutable description of one operation.
type Descriptor struct {
	Name        string
	Description string
	Category    Category
	Params      []Param
	// Idempotent operations may be retried after the request reached the
	// remote service.
	Idempotent bool
	Handler    Handler
	// Validate runs after schema checks and before any remote call. It
	// should return an invalid_arguments error naming the parameter.
	Validate func(args Args) error
}

// Param returns the named parameter.
func (d Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Catalog is an immutable, name-indexed set of descriptors. It is safe for
// concurrent use.
type Catalog struct {
	order []Descriptor
	index map[string]int
}

// Lookup returns the descriptor registered under name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.order[i], true
}

// List returns all descriptors in registration order.
func (c *Catalog) List() []Descriptor {
	if c == nil {
		return nil
	}
	out := make([]Descriptor, len(c.order))
	copy(out, c.order)
	return out
}

// Names returns all operation names in registration order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.order))
	for i, d := range c.order {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered operations.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Builder accumulates descriptors and produces a Catalog. Errors are
// collected and reported by Build so registration code can stay linear.
type Builder struct {
	descs []Descriptor
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers one or more descriptors.
func (b *Builder) Add(descs ...Descriptor) *Builder {
	b.descs = append(b.descs, descs...)
	return b
}

// Build validates every descriptor and returns the catalog. A duplicate
// operation name is an error.
func (b *Builder) Build() (*Catalog, error) {
	c := &Catalog{
		order: make([]Descriptor, 0, len(b.descs)),
		index: make(map[string]int, len(b.descs)),
	}
	for _, d := range b.descs {
		if err := validateDescriptor(d); err != nil {
			return nil, err
		}
		if _, exists := c.index[d.Name]; exists {
			return nil, fmt.Errorf("duplicate operation %q", d.Name)
		}
		d.Params = append([]Param(nil), d.Params...)
		c.index[d.Name] = len(c.order)
		c.order = append(c.order, d)
	}
	return c, nil
}

// MustBuild is like Build but panics on error. Use it only at startup.
func (b *Builder) MustBuild() *Catalog {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

func validateDescriptor(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("operation with empty name")
	}
	if !d.Category.Valid() {
		return fmt.Errorf("operation %q: unknown category %q", d.Name, d.Category)
	}
	if d.Handler == nil {
		return fmt.Errorf("operation %q: nil handler", d.Name)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("operation %q: parameter with empty name", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("operation %q: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = true
		if !p.Type.valid() {
			return fmt.Errorf("operation %q: parameter %q has unknown type %q", d.Name, p.Name, p.Type)
		}
		if len(p.Enum) > 0 && p.Type != TypeString {
			return fmt.Errorf("operation %q: enum on non-string parameter %q", d.Name, p.Name)
		}
	}
	return nil
}
