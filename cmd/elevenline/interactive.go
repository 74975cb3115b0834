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
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/chzyer/readline"

	"elevenline/internal/commands"
	"elevenline/internal/policy"
	"elevenline/internal/ui"
)

// InteractiveCmd runs the read-eval-print session.
type InteractiveCmd struct{}

func (c *InteractiveCmd) Run(ctx context.Context, a *app) error {
	d, err := a.dispatcher(policy.Permissive(), a.userFiles())
	if err != nil {
		return err
	}
	registry := commands.NewRegistry()
	historyPath := a.historyPath()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:              "❯ ",
		HistoryFile:         historyPath,
		AutoComplete:        commandCompleter(registry.Names(), d.Catalog().Names()),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		FuncFilterInputRune: filterInterruptRune,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	var closeOnce sync.Once
	closeReadline := func() { closeOnce.Do(func() { rl.Close() }) }
	defer closeReadline()

	out := a.printer.Out()
	fmt.Fprintln(out, a.printer.Brand("ElevenLine")+" "+a.printer.Dim(Version))
	fmt.Fprintln(out, a.printer.Dim("Type help for commands, exit to quit. Ctrl-C cancels a running request."))
	if a.cfg.APIKey == "" {
		a.printer.Warn("no API key configured, set ELEVENLABS_API_KEY or run: elevenline config set api_key <key>")
	}
	fmt.Fprintln(out)

	canceler := &operationCanceler{}
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-interrupts:
				if canceler.Cancel() {
					a.printer.Warn("cancelled")
				}
			case <-ctx.Done():
				closeReadline()
				return
			}
		}
	}()

	env := &commands.Env{
		Dispatcher:   d,
		Printer:      a.printer,
		History:      ui.NewHistory(ui.LoadHistoryFromFile(historyPath)),
		OutputFormat: a.cfg.DefaultOutputFormat,
		Now:          a.now,
	}

	for {
		line, err := rl.Readline()
		switch classifyReadlineError(line, err) {
		case readlineContinue:
			continue
		case readlineExit:
			a.logger.Debug().Msg("session ended")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		line, err = env.History.Expand(sanitizeInputLine(line))
		if err != nil {
			a.reportError(err)
			continue
		}
		env.History.Add(line)
		a.logger.Debug().Str("input", line).Msg("command")

		opCtx, end := canceler.Begin(ctx)
		exit, err := registry.Execute(opCtx, env, line)
		end()
		if err != nil {
			a.reportError(err)
		}
		if exit || ctx.Err() != nil {
			return nil
		}
	}
}

// historyPath places a relative history file in the home directory.
func (a *app) historyPath() string {
	path := a.cfg.HistoryFile
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path)
}
