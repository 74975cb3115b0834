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

package main

import (
	"context"
	"fmt"

	"elevenline/internal/config"
	"elevenline/internal/operations"
)

// ConfigCmd groups the configuration commands.
type ConfigCmd struct {
	Show    ConfigShowCmd    `cmd:"" default:"1" help:"Show the effective configuration with the API key redacted."`
	Path    ConfigPathCmd    `cmd:"" help:"Print the configuration file path."`
	Set     ConfigSetCmd     `cmd:"" help:"Set a configuration key."`
	Unset   ConfigUnsetCmd   `cmd:"" help:"Remove a configuration key."`
	Keys    ConfigKeysCmd    `cmd:"" help:"List the configuration keys."`
	Schema  ConfigSchemaCmd  `cmd:"" help:"Print the JSON schema of the configuration file."`
	Example ConfigExampleCmd `cmd:"" help:"Print an example configuration file."`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(_ context.Context, a *app) error {
	cat, err := operations.NewCatalog(operations.Deps{})
	if err != nil {
		return err
	}
	warnings := a.cfg.Validate(cat)
	if err := a.printer.JSON(a.cfg.Redacted()); err != nil {
		return err
	}
	for _, w := range warnings {
		a.printer.Warn("%s: %s", w.Field, w.Message)
	}
	return nil
}

type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(_ context.Context, a *app) error {
	fmt.Fprintln(a.printer.Out(), a.configPath)
	return nil
}

type ConfigSetCmd struct {
	Key   string `arg:"" help:"Dotted key, e.g. mcp.read_only."`
	Value string `arg:"" help:"Value. Lists are comma separated or JSON."`
}

func (c *ConfigSetCmd) Run(_ context.Context, a *app) error {
	if err := config.SetValue(a.configPath, c.Key, c.Value); err != nil {
		return err
	}
	a.printer.Success("%s updated in %s", c.Key, a.configPath)
	return nil
}

type ConfigUnsetCmd struct {
	Key string `arg:"" help:"Dotted key."`
}

func (c *ConfigUnsetCmd) Run(_ context.Context, a *app) error {
	if err := config.UnsetValue(a.configPath, c.Key); err != nil {
		return err
	}
	a.printer.Success("%s removed from %s", c.Key, a.configPath)
	return nil
}

type ConfigKeysCmd struct{}

func (c *ConfigKeysCmd) Run(_ context.Context, a *app) error {
	keys := config.Keys()
	if a.printer.JSONMode() {
		return a.printer.JSON(keys)
	}
	for _, key := range keys {
		fmt.Fprintln(a.printer.Out(), key)
	}
	return nil
}

type ConfigSchemaCmd struct{}

func (c *ConfigSchemaCmd) Run(_ context.Context, a *app) error {
	fmt.Fprintln(a.printer.Out(), config.SchemaJSON())
	return nil
}

type ConfigExampleCmd struct{}

func (c *ConfigExampleCmd) Run(_ context.Context, a *app) error {
	fmt.Fprintln(a.printer.Out(), config.ExampleConfigJSON())
	return nil
}
