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
	"os"

	"elevenline/internal/commands"
)

// CallCmd invokes any catalog operation by name.
type CallCmd struct {
	Operation string `arg:"" help:"Operation name, see 'elevenline mcp tools'."`
	Arguments string `arg:"" optional:"" help:"Arguments as a JSON object."`
	ArgsFile  string `name:"args-file" type:"existingfile" help:"Read the JSON arguments from a file."`
}

func (c *CallCmd) Run(ctx context.Context, a *app) error {
	raw := c.Arguments
	if c.ArgsFile != "" {
		if raw != "" {
			return fmt.Errorf("give the arguments inline or with --args-file, not both")
		}
		data, err := os.ReadFile(c.ArgsFile)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	args, err := commands.ParseArguments(raw)
	if err != nil {
		return err
	}
	return a.invoke(ctx, c.Operation, args)
}
