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

// Package commands implements the interactive session commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"elevenline/internal/dispatch"
	"elevenline/internal/operations"
	"elevenline/internal/ui"
)

// Env is the state shared by command handlers.
type Env struct {
	Dispatcher   *dispatch.Dispatcher
	Printer      *ui.Printer
	History      *ui.History
	OutputFormat string
	Now          func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Handler runs a command with the text following its name. It returns true
// when the session should end.
type Handler func(ctx context.Context, env *Env, args string) (bool, error)

// Command represents an interactive command
type Command struct {
	Name        string
	Usage       string
	Description string
	Handler     Handler
}

// Registry holds all available commands
type Registry struct {
	commands map[string]*Command
	order    []string
}

// NewRegistry creates a new command registry
func NewRegistry() *Registry {
	r := &Registry{commands: make(map[string]*Command)}

	r.Register("voices", "voices", "List available voices", invoke("list_voices"))
	r.Register("models", "models", "List available models", invoke("list_models"))
	r.Register("user", "user", "Show account and subscription", handleUser)
	r.Register("tts", "tts <text>", "Convert text to speech and save it", handleTTS)
	r.Register("call", "call <operation> [json]", "Invoke any operation with JSON arguments", handleCall)
	r.Register("tools", "tools", "List the operations this session may invoke", handleTools)
	r.Register("history", "history [n]", "Show entered commands, !N re-runs one", handleHistory)
	r.Register("debug", "debug", "Toggle debug logging", handleDebug)
	r.Register("help", "help", "Show available commands", r.handleHelp)
	r.Register("exit", "exit", "Exit the session", handleQuit)
	r.Register("quit", "quit", "Exit the session", handleQuit)

	return r
}

// Register adds a new command to the registry
func (r *Registry) Register(name, usage, description string, handler Handler) {
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = &Command{
		Name:        name,
		Usage:       usage,
		Description: description,
		Handler:     handler,
	}
}

// Names returns command names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Execute runs one input line. A leading slash is accepted for familiarity.
func (r *Registry) Execute(ctx context.Context, env *Env, line string) (bool, error) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if line == "" {
		return false, nil
	}
	name, args, _ := strings.Cut(line, " ")
	cmd, exists := r.commands[strings.ToLower(name)]
	if !exists {
		return false, fmt.Errorf("unknown command %q (type help for available commands)", name)
	}
	return cmd.Handler(ctx, env, strings.TrimSpace(args))
}

// Command handlers

func invoke(operation string) Handler {
	return func(ctx context.Context, env *Env, _ string) (bool, error) {
		return false, run(ctx, env, operation, nil)
	}
}

func run(ctx context.Context, env *Env, operation string, args map[string]interface{}) error {
	res, err := env.Dispatcher.Dispatch(ctx, dispatch.Invocation{Operation: operation, Arguments: args})
	if err != nil {
		return err
	}
	return env.Printer.Result(res.Payload)
}

func handleUser(ctx context.Context, env *Env, _ string) (bool, error) {
	if err := run(ctx, env, "get_user_info", nil); err != nil {
		return false, err
	}
	return false, run(ctx, env, "get_user_subscription", nil)
}

func handleTTS(ctx context.Context, env *Env, text string) (bool, error) {
	if text == "" {
		return false, fmt.Errorf("usage: tts <text>")
	}
	format := env.OutputFormat
	if format == "" {
		format = operations.DefaultOutputFormat
	}
	return false, run(ctx, env, "text_to_speech", map[string]interface{}{
		"text":          text,
		"output_format": format,
		"output_file":   operations.DefaultOutputName("tts", format, env.now()),
	})
}

func handleCall(ctx context.Context, env *Env, rest string) (bool, error) {
	operation, raw, _ := strings.Cut(rest, " ")
	if operation == "" {
		return false, fmt.Errorf("usage: call <operation> [json]")
	}
	args, err := ParseArguments(raw)
	if err != nil {
		return false, err
	}
	return false, run(ctx, env, operation, args)
}

// ParseArguments decodes a JSON object of operation arguments. Blank input
// yields no arguments.
func ParseArguments(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %v", err)
	}
	return args, nil
}

func handleTools(_ context.Context, env *Env, _ string) (bool, error) {
	env.Printer.Operations(env.Dispatcher.Allowed())
	return false, nil
}

func handleHistory(_ context.Context, env *Env, args string) (bool, error) {
	if env.History == nil {
		return false, nil
	}
	n := 20
	if args != "" {
		if _, err := fmt.Sscanf(args, "%d", &n); err != nil {
			return false, fmt.Errorf("usage: history [n]")
		}
	}
	entries := env.History.Entries()
	last := env.History.Last(n)
	offset := len(entries) - len(last)
	rows := make([][]string, len(last))
	for i, entry := range last {
		rows[i] = []string{fmt.Sprintf("%d", offset+i+1), entry}
	}
	env.Printer.Table([]string{"#", "COMMAND"}, rows)
	return false, nil
}

func handleDebug(_ context.Context, env *Env, _ string) (bool, error) {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		env.Printer.Success("Debug logging disabled")
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		env.Printer.Success("Debug logging enabled")
	}
	return false, nil
}

func (r *Registry) handleHelp(_ context.Context, env *Env, _ string) (bool, error) {
	names := r.Names()
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		cmd := r.commands[name]
		rows = append(rows, []string{cmd.Usage, cmd.Description})
	}
	env.Printer.Table([]string{"COMMAND", "DESCRIPTION"}, rows)
	return false, nil
}

func handleQuit(context.Context, *Env, string) (bool, error) {
	return true, nil
}
