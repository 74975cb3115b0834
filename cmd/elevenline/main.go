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
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"elevenline/internal/catalog"
	"elevenline/internal/config"
	"elevenline/internal/dispatch"
	"elevenline/internal/elevenlabs"
	apperrors "elevenline/internal/errors"
	"elevenline/internal/metrics"
	"elevenline/internal/operations"
	"elevenline/internal/paths"
	"elevenline/internal/policy"
	"elevenline/internal/retry"
	"elevenline/internal/ui"
)

// Version is set at build time.
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	APIKey     string           `name:"api-key" short:"k" help:"ElevenLabs API key. Overrides ELEVENLABS_API_KEY and the config file."`
	JSON       bool             `short:"j" help:"Print results as JSON."`
	Yes        bool             `short:"y" help:"Do not ask before deleting or overwriting."`
	Debug      bool             `short:"d" help:"Enable debug logging."`
	LogFile    string           `name:"log-file" type:"path" help:"Append logs to this file."`
	LogStderr  bool             `name:"log-stderr" help:"Write logs to stderr."`
	ConfigFile string           `name:"config" type:"path" placeholder:"PATH" help:"Configuration file."`
	Version    kong.VersionFlag `help:"Print the version and exit."`
}

// CLI is the command tree.
type CLI struct {
	Globals

	TTS          TTSCmd          `cmd:"" name:"tts" help:"Convert text to speech."`
	TTSStream    TTSStreamCmd    `cmd:"" name:"tts-stream" help:"Stream speech over a websocket while it is generated."`
	STT          STTCmd          `cmd:"" name:"stt" help:"Transcribe an audio file."`
	SFX          SFXCmd          `cmd:"" name:"sfx" help:"Generate a sound effect."`
	Isolate      IsolateCmd      `cmd:"" help:"Remove background noise from an audio file."`
	VoiceChanger VoiceChangerCmd `cmd:"" name:"voice-changer" help:"Speak an audio file with another voice."`
	Voice        VoiceCmd        `cmd:"" help:"Manage voices."`
	Models       ModelsCmd       `cmd:"" help:"List available models."`
	User         UserCmd         `cmd:"" help:"Show account information."`
	Usage        UsageCmd        `cmd:"" help:"Show character usage."`
	History      HistoryCmd      `cmd:"" help:"Manage generated audio."`
	Config       ConfigCmd       `cmd:"" help:"Show or edit the configuration file."`
	MCP          MCPCmd          `cmd:"" name:"mcp" help:"Expose operations to AI agents."`
	Call         CallCmd         `cmd:"" help:"Invoke any operation with JSON arguments."`
	Interactive  InteractiveCmd  `cmd:"" default:"1" help:"Start an interactive session."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("elevenline"),
		kong.Description("ElevenLabs on the command line and as an MCP tool server."),
		kong.UsageOnError(),
		kong.Vars{"version": Version},
	)
	os.Exit(run(kctx, &cli.Globals))
}

func run(kctx *kong.Context, g *Globals) int {
	a, closer, err := newApp(g, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elevenline: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}

	// The interactive session handles Ctrl-C itself to cancel one operation.
	ctx, stop := notifyContext(context.Background(), kctx.Command() != "interactive")
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(a); err != nil {
		a.reportError(err)
		return exitCode(err)
	}
	return 0
}

func notifyContext(parent context.Context, interrupt bool) (context.Context, context.CancelFunc) {
	signals := terminationSignals
	if interrupt {
		signals = append([]os.Signal{os.Interrupt}, signals...)
	}
	if len(signals) == 0 {
		return context.WithCancel(parent)
	}
	return signal.NotifyContext(parent, signals...)
}

// initLogger builds the logger. Logs go to logFilePath when set, then to
// console when non-nil, and are discarded otherwise. Stdout is never used
// so that it stays clean for results and the tool server protocol.
func initLogger(debug bool, logFilePath string, console ...io.Writer) (zerolog.Logger, io.Closer, error) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var output io.Writer = io.Discard
	var closer io.Closer
	switch {
	case logFilePath != "":
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
		closer = file
	case len(console) > 0 && console[0] != nil:
		output = zerolog.ConsoleWriter{Out: console[0], TimeFormat: time.Kitchen, NoColor: true}
	}

	return zerolog.New(output).With().Timestamp().Logger(), closer, nil
}

// app carries what commands share: configuration, logger and output.
type app struct {
	globals    *Globals
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
	printer    *ui.Printer
	stdin      io.Reader
	metrics    *metrics.Metrics
	confirm    func(prompt string) (bool, error)
	now        func() time.Time
}

func newApp(g *Globals, stdin io.Reader, stdout, stderr io.Writer) (*app, io.Closer, error) {
	var console io.Writer
	if g.LogStderr {
		console = stderr
	}
	logger, closer, err := initLogger(g.Debug, g.LogFile, console)
	if err != nil {
		return nil, nil, err
	}

	configPath := g.ConfigFile
	if configPath == "" {
		if configPath, err = config.DefaultPath(); err != nil {
			return nil, closer, err
		}
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, closer, err
	}
	if g.APIKey != "" {
		cfg.APIKey = g.APIKey
	}
	logger.Debug().Str("config", configPath).Str("api_url", cfg.APIURL).Msg("configuration loaded")

	return &app{
		globals:    g,
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		printer:    ui.New(stdout, stderr, g.JSON),
		stdin:      stdin,
		confirm:    terminalConfirm,
		now:        time.Now,
	}, closer, nil
}

// client returns the HTTP client, or nil when no API key is configured so
// that listing operations works without credentials.
func (a *app) client() (*elevenlabs.Client, error) {
	if a.cfg.APIKey == "" {
		return nil, nil
	}
	return elevenlabs.NewClient(a.cfg.ClientOptions(a.logger))
}

// dispatcher wires the catalog, the policy engine and the retry caller.
func (a *app) dispatcher(pol policy.Config, files paths.Resolver) (*dispatch.Dispatcher, error) {
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	cat, err := operations.NewCatalog(operations.Deps{
		Client:       client,
		Files:        files,
		Defaults:     a.cfg.OperationDefaults(),
		MaxTextChars: a.cfg.Limits.MaxTextChars,
		Logger:       a.logger,
		Now:          a.now,
	})
	if err != nil {
		return nil, err
	}

	var callerOpts []retry.CallerOption
	opts := dispatch.Options{Timeouts: a.cfg.TimeoutConfig(), Logger: a.logger}
	if a.metrics != nil {
		callerOpts = append(callerOpts, retry.WithRecorder(a.metrics))
		opts.Recorder = a.metrics
	}
	caller := retry.NewCaller(a.cfg.RetryPolicy(), a.logger, callerOpts...)
	return dispatch.New(cat, policy.NewEngine(pol, cat), caller, opts), nil
}

// agentFiles confines agent file access to limits.file_root, or to the
// working directory when no root is configured.
func (a *app) agentFiles() (paths.Resolver, error) {
	files := a.cfg.Resolver()
	if files.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return files, fmt.Errorf("resolve file root: %w", err)
		}
		files.Root = wd
	}
	return files, nil
}

// userFiles lets the person at the terminal read and write anywhere, with
// the configured upload limit.
func (a *app) userFiles() paths.Resolver {
	files := a.cfg.Resolver()
	files.Root = ""
	return files
}

// invoke runs one operation for the command line and prints its result.
// Destructive operations ask for confirmation unless --yes is given.
func (a *app) invoke(ctx context.Context, operation string, args map[string]interface{}) error {
	res, err := a.dispatch(ctx, operation, args)
	if err != nil {
		return err
	}
	return a.printer.Result(res.Payload)
}

func (a *app) dispatch(ctx context.Context, operation string, args map[string]interface{}) (*dispatch.Result, error) {
	d, err := a.dispatcher(policy.Permissive(), a.userFiles())
	if err != nil {
		return nil, err
	}
	if desc, ok := d.Catalog().Lookup(operation); ok && desc.Category == catalog.CategoryDestructive {
		prompt := "Run " + operation
		if detail := describeArgs(args); detail != "" {
			prompt += " " + detail
		}
		if err := a.confirmAction(prompt + "?"); err != nil {
			return nil, err
		}
	}
	return d.Dispatch(ctx, dispatch.Invocation{Operation: operation, Arguments: args})
}

var errAborted = errors.New("aborted")

func (a *app) confirmAction(prompt string) error {
	if a.globals.Yes {
		return nil
	}
	ok, err := a.confirm(prompt)
	if err != nil {
		return fmt.Errorf("confirmation required (use --yes): %w", err)
	}
	if !ok {
		return errAborted
	}
	return nil
}

// confirmOverwrite asks before replacing an existing output file.
func (a *app) confirmOverwrite(path string) error {
	if path == "" || path == "-" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return a.confirmAction(fmt.Sprintf("Overwrite %s?", path))
}

// reportError prints err with a hint on how to fix it.
func (a *app) reportError(err error) {
	if errors.Is(err, errAborted) {
		a.printer.Warn("aborted")
		return
	}
	if a.printer.JSONMode() {
		_ = a.printer.JSON(errorPayload(err))
		return
	}
	a.printer.Error("%v", err)
	if hint := elevenlabs.Guidance(err); hint != "" {
		a.printer.Info("%s", hint)
	}
}

func errorPayload(err error) map[string]interface{} {
	out := map[string]interface{}{"error": err.Error()}
	var dispatchErr *dispatch.Error
	if errors.As(err, &dispatchErr) {
		out["kind"] = string(dispatchErr.Kind)
		out["operation"] = dispatchErr.Operation
		if dispatchErr.Param != "" {
			out["param"] = dispatchErr.Param
		}
		if dispatchErr.Attempts > 0 {
			out["attempts"] = dispatchErr.Attempts
		}
	}
	if hint := elevenlabs.Guidance(err); hint != "" {
		out["hint"] = hint
	}
	return out
}

// exitCode maps failures to process exit codes: 2 for usage errors, 3 for
// policy denials, 130 for cancellation and 1 otherwise.
func exitCode(err error) int {
	switch dispatch.KindOf(err) {
	case apperrors.CodeInvalidArguments, apperrors.CodeNotFound:
		return 2
	case apperrors.CodeForbidden:
		return 3
	case apperrors.CodeCancelled:
		return 130
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
