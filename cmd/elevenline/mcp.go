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

	"golang.org/x/sync/errgroup"

	"elevenline/internal/catalog"
	"elevenline/internal/config"
	"elevenline/internal/instructions"
	"elevenline/internal/metrics"
	"elevenline/internal/policy"
	"elevenline/internal/toolserver"
)

// PolicyFlags narrow the operations an agent may call. They add to the mcp
// section of the configuration file; --enable-tools replaces its list.
type PolicyFlags struct {
	EnableTools        []string `name:"enable-tools" placeholder:"NAME,..." help:"Only expose these operations."`
	DisableTools       []string `name:"disable-tools" placeholder:"NAME,..." help:"Never expose these operations."`
	DisableAdmin       bool     `name:"disable-admin" help:"Hide operations that create or change resources."`
	DisableDestructive bool     `name:"disable-destructive" help:"Hide operations that delete resources."`
	ReadOnly           bool     `name:"read-only" help:"Expose only safe operations."`
}

func (f PolicyFlags) resolve(cfg *config.Config) policy.Config {
	enabled := cfg.MCP.EnableTools
	if len(f.EnableTools) > 0 {
		enabled = f.EnableTools
	}
	disabled := append(append([]string(nil), cfg.MCP.DisableTools...), f.DisableTools...)
	return policy.NewConfig(
		enabled,
		disabled,
		f.DisableAdmin || cfg.MCP.DisableAdmin,
		f.DisableDestructive || cfg.MCP.DisableDestructive,
		f.ReadOnly || cfg.MCP.ReadOnly,
	)
}

// MCPCmd groups the tool server commands.
type MCPCmd struct {
	Serve MCPServeCmd `cmd:"" help:"Serve operations over stdio using the Model Context Protocol."`
	Tools MCPToolsCmd `cmd:"" help:"List the operations an agent would see."`
}

type MCPServeCmd struct {
	PolicyFlags `embed:""`

	MaxConcurrent int    `name:"max-concurrent" help:"Tool calls processed at once. 1 handles messages in arrival order."`
	MetricsListen string `name:"metrics-listen" placeholder:"ADDR" help:"Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464."`
}

func (c *MCPServeCmd) Run(ctx context.Context, a *app) error {
	if c.MetricsListen != "" {
		a.metrics = metrics.New()
	}
	pol := c.PolicyFlags.resolve(a.cfg)
	files, err := a.agentFiles()
	if err != nil {
		return err
	}
	d, err := a.dispatcher(pol, files)
	if err != nil {
		return err
	}
	a.logger.Info().Str("file_root", files.Root).Msg("agent file access confined")
	for _, w := range a.cfg.Validate(d.Catalog()) {
		a.logger.Warn().Str("field", w.Field).Msg(w.Message)
	}
	for _, w := range policy.Warnings(pol, d.Catalog()) {
		a.logger.Warn().Msg(w)
	}
	if a.cfg.APIKey == "" {
		a.logger.Warn().Msg("no API key configured, tool calls will fail")
	}

	guidance, err := instructions.Load()
	if err != nil {
		return err
	}
	maxConcurrent := a.cfg.MaxConcurrent()
	if c.MaxConcurrent > 0 {
		maxConcurrent = c.MaxConcurrent
	}
	server := toolserver.New(d, toolserver.Options{
		Name:          "elevenline",
		Version:       Version,
		MaxConcurrent: maxConcurrent,
		Instructions:  guidance,
		Logger:        a.logger,
	})
	a.logger.Info().
		Int("operations", len(d.Allowed())).
		Int("max_concurrent", maxConcurrent).
		Msg("tool server starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	if a.metrics != nil {
		group.Go(func() error {
			return a.metrics.Serve(ctx, c.MetricsListen, a.logger)
		})
	}
	group.Go(func() error {
		defer cancel()
		return server.Run(ctx, a.stdin, a.printer.Out())
	})
	return group.Wait()
}

type MCPToolsCmd struct {
	PolicyFlags `embed:""`

	Format string `enum:"table,json,openai" default:"table" help:"Output format: table, json or openai."`
}

func (c *MCPToolsCmd) Run(_ context.Context, a *app) error {
	pol := c.PolicyFlags.resolve(a.cfg)
	d, err := a.dispatcher(pol, a.cfg.Resolver())
	if err != nil {
		return err
	}
	for _, w := range policy.Warnings(pol, d.Catalog()) {
		a.printer.Warn("%s", w)
	}

	allowed := d.Allowed()
	switch c.Format {
	case "openai":
		return a.printer.JSON(catalog.OpenAITools(allowed))
	case "json":
		return a.printer.JSON(toolListing(allowed))
	}
	if a.printer.JSONMode() {
		return a.printer.JSON(toolListing(allowed))
	}
	a.printer.Operations(allowed)
	a.printer.Info("%d of %d operations exposed", len(allowed), d.Catalog().Len())
	return nil
}

func toolListing(descs []catalog.Descriptor) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(descs))
	for _, d := range descs {
		out = append(out, map[string]interface{}{
			"name":         d.Name,
			"description":  d.Description,
			"category":     string(d.Category),
			"idempotent":   d.Idempotent,
			"input_schema": d.InputSchema(),
		})
	}
	return out
}
