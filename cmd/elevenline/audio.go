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
	"strings"

	"elevenline/internal/operations"
	"elevenline/internal/realtime"
)

// arguments collects operation arguments from optional flags.
type arguments map[string]interface{}

func (a arguments) str(name, value string) {
	if value != "" {
		a[name] = value
	}
}

func (a arguments) num(name string, value *float64) {
	if value != nil {
		a[name] = *value
	}
}

func (a arguments) flag(name string, value *bool) {
	if value != nil {
		a[name] = *value
	}
}

// readText returns text, or stdin when text is empty or "-".
func readText(stdin io.Reader, text string) (string, error) {
	if text != "" && text != "-" {
		return text, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if text = strings.TrimSpace(string(data)); text == "" {
		return "", errors.New("no text given")
	}
	return text, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// VoiceSettingFlags are the per-request voice settings.
type VoiceSettingFlags struct {
	Stability       *float64 `help:"Voice stability, 0.0 to 1.0."`
	SimilarityBoost *float64 `name:"similarity-boost" help:"Similarity boost, 0.0 to 1.0."`
	Style           *float64 `help:"Style exaggeration, 0.0 to 1.0."`
	Speed           *float64 `help:"Speaking speed, 0.7 to 1.2."`
	SpeakerBoost    *bool    `name:"speaker-boost" help:"Enable speaker boost."`
}

func (f VoiceSettingFlags) apply(args arguments) {
	args.num("stability", f.Stability)
	args.num("similarity_boost", f.SimilarityBoost)
	args.num("style", f.Style)
	args.num("speed", f.Speed)
	args.flag("speaker_boost", f.SpeakerBoost)
}

// TTSCmd converts text to speech.
type TTSCmd struct {
	Text     string `arg:"" optional:"" help:"Text to speak. Read from stdin when omitted or \"-\"."`
	Voice    string `short:"v" help:"Voice ID or name."`
	Model    string `short:"m" help:"Model ID."`
	Format   string `short:"f" help:"Output format, e.g. mp3_44100_128."`
	Output   string `short:"o" type:"path" help:"Output file. Defaults to a timestamped name."`
	Language string `help:"ISO 639-1 language code to enforce."`

	VoiceSettingFlags `embed:""`
}

func (c *TTSCmd) Run(ctx context.Context, a *app) error {
	text, err := readText(a.stdin, c.Text)
	if err != nil {
		return err
	}
	format := firstNonEmpty(c.Format, a.cfg.DefaultOutputFormat, operations.DefaultOutputFormat)
	output := firstNonEmpty(c.Output, operations.DefaultOutputName("tts", format, a.now()))
	if err := a.confirmOverwrite(output); err != nil {
		return err
	}

	args := arguments{"text": text, "output_format": format, "output_file": output}
	args.str("voice", c.Voice)
	args.str("model", c.Model)
	args.str("language_code", c.Language)
	c.VoiceSettingFlags.apply(args)
	return a.invoke(ctx, "text_to_speech", args)
}

// TTSStreamCmd streams speech over the websocket API, writing audio as it
// arrives.
type TTSStreamCmd struct {
	Text   string `arg:"" optional:"" help:"Text to speak. Read from stdin when omitted or \"-\"."`
	Voice  string `short:"v" help:"Voice ID or name."`
	Model  string `short:"m" help:"Model ID."`
	Format string `short:"f" help:"Output format, e.g. mp3_44100_128."`
	Output string `short:"o" help:"Output file, \"-\" for stdout. Defaults to a timestamped name."`

	VoiceSettingFlags `embed:""`
}

func (c *TTSStreamCmd) Run(ctx context.Context, a *app) error {
	text, err := readText(a.stdin, c.Text)
	if err != nil {
		return err
	}
	voice, err := a.resolveVoiceID(ctx, firstNonEmpty(c.Voice, a.cfg.DefaultVoice, operations.DefaultVoice))
	if err != nil {
		return err
	}
	format := firstNonEmpty(c.Format, a.cfg.DefaultOutputFormat, operations.DefaultOutputFormat)
	output := firstNonEmpty(c.Output, operations.DefaultOutputName("tts_stream", format, a.now()))
	if err := a.confirmOverwrite(output); err != nil {
		return err
	}

	client, err := realtime.NewClient(realtime.Options{APIKey: a.cfg.APIKey, BaseURL: a.cfg.APIURL, Logger: a.logger})
	if err != nil {
		return err
	}

	var sink io.Writer = a.printer.Out()
	if output != "-" {
		file, err := os.Create(output)
		if err != nil {
			return err
		}
		defer file.Close()
		sink = file
	}

	settings := arguments{}
	c.VoiceSettingFlags.apply(settings)
	if speakerBoost, ok := settings["speaker_boost"]; ok {
		delete(settings, "speaker_boost")
		settings["use_speaker_boost"] = speakerBoost
	}

	stats, err := client.Stream(ctx, realtime.Request{
		VoiceID:       voice,
		ModelID:       firstNonEmpty(c.Model, a.cfg.DefaultModel, operations.DefaultModel),
		OutputFormat:  format,
		Text:          text,
		VoiceSettings: settings,
	}, func(chunk []byte) error {
		_, err := sink.Write(chunk)
		return err
	})
	if err != nil {
		return err
	}
	if output == "-" {
		return nil
	}
	return a.printer.Result(map[string]interface{}{
		"output_file":    output,
		"bytes":          stats.Bytes,
		"chunks":         stats.Chunks,
		"first_audio_ms": stats.FirstAudio.Milliseconds(),
	})
}

// resolveVoiceID turns a voice name into its ID using the account's voices.
func (a *app) resolveVoiceID(ctx context.Context, voice string) (string, error) {
	if operations.LooksLikeVoiceID(voice) {
		return voice, nil
	}
	res, err := a.dispatch(ctx, "list_voices", nil)
	if err != nil {
		return "", err
	}
	listing, _ := res.Payload.(map[string]interface{})
	voices, _ := listing["voices"].([]interface{})
	for _, item := range voices {
		entry, _ := item.(map[string]interface{})
		name, _ := entry["name"].(string)
		if id, ok := entry["voice_id"].(string); ok && strings.EqualFold(name, voice) {
			return id, nil
		}
	}
	return "", fmt.Errorf("no voice named %q", voice)
}

// STTCmd transcribes an audio file.
type STTCmd struct {
	File        string `arg:"" type:"existingfile" help:"Audio file to transcribe."`
	Model       string `short:"m" help:"Transcription model."`
	Language    string `short:"l" help:"Language code, detected when omitted."`
	Diarize     bool   `help:"Annotate which speaker is talking."`
	NumSpeakers int    `name:"num-speakers" help:"Maximum number of speakers."`
	Timestamps  string `help:"Timestamp granularity: none, word or character."`
	Output      string `short:"o" type:"path" help:"Write the transcript to this file."`
}

func (c *STTCmd) Run(ctx context.Context, a *app) error {
	args := arguments{"file": c.File}
	args.str("model", c.Model)
	args.str("language", c.Language)
	args.str("timestamps", c.Timestamps)
	if c.Diarize {
		args["diarize"] = true
	}
	if c.NumSpeakers > 0 {
		args["num_speakers"] = c.NumSpeakers
	}

	res, err := a.dispatch(ctx, "speech_to_text", args)
	if err != nil {
		return err
	}
	transcript, _ := res.Payload.(map[string]interface{})
	text, _ := transcript["text"].(string)
	if c.Output != "" {
		if err := a.confirmOverwrite(c.Output); err != nil {
			return err
		}
		if err := os.WriteFile(c.Output, []byte(text+"\n"), 0o644); err != nil {
			return err
		}
		a.printer.Success("transcript written to %s", c.Output)
		return nil
	}
	if a.printer.JSONMode() || text == "" {
		return a.printer.Result(res.Payload)
	}
	fmt.Fprintln(a.printer.Out(), text)
	return nil
}

// SFXCmd generates a sound effect from a description.
type SFXCmd struct {
	Text      string   `arg:"" help:"Description of the sound."`
	Duration  *float64 `help:"Duration in seconds, 0.5 to 22."`
	Influence *float64 `help:"Prompt influence, 0.0 to 1.0."`
	Format    string   `short:"f" help:"Output format."`
	Output    string   `short:"o" type:"path" help:"Output file. Defaults to a timestamped name."`
}

func (c *SFXCmd) Run(ctx context.Context, a *app) error {
	format := firstNonEmpty(c.Format, a.cfg.DefaultOutputFormat, operations.DefaultOutputFormat)
	output := firstNonEmpty(c.Output, operations.DefaultOutputName("sfx", format, a.now()))
	if err := a.confirmOverwrite(output); err != nil {
		return err
	}
	args := arguments{"text": c.Text, "output_format": format, "output_file": output}
	args.num("duration", c.Duration)
	args.num("influence", c.Influence)
	return a.invoke(ctx, "generate_sfx", args)
}

// IsolateCmd removes background noise.
type IsolateCmd struct {
	File   string `arg:"" type:"existingfile" help:"Input audio file."`
	Output string `short:"o" type:"path" help:"Output file. Defaults to a timestamped name."`
}

func (c *IsolateCmd) Run(ctx context.Context, a *app) error {
	output := firstNonEmpty(c.Output, operations.DefaultOutputName("isolated", "mp3", a.now()))
	if err := a.confirmOverwrite(output); err != nil {
		return err
	}
	return a.invoke(ctx, "audio_isolation", arguments{"file": c.File, "output_file": output})
}

// VoiceChangerCmd re-voices an audio file.
type VoiceChangerCmd struct {
	File   string `arg:"" type:"existingfile" help:"Input audio file."`
	Voice  string `short:"v" required:"" help:"Target voice ID or name."`
	Model  string `short:"m" help:"Speech-to-speech model."`
	Format string `short:"f" help:"Output format."`
	Output string `short:"o" type:"path" help:"Output file. Defaults to a timestamped name."`
}

func (c *VoiceChangerCmd) Run(ctx context.Context, a *app) error {
	format := firstNonEmpty(c.Format, a.cfg.DefaultOutputFormat, operations.DefaultOutputFormat)
	output := firstNonEmpty(c.Output, operations.DefaultOutputName("voice_changed", format, a.now()))
	if err := a.confirmOverwrite(output); err != nil {
		return err
	}
	args := arguments{"file": c.File, "voice": c.Voice, "output_format": format, "output_file": output}
	args.str("model", c.Model)
	return a.invoke(ctx, "voice_changer", args)
}
