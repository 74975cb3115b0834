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

package operations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"elevenline/internal/catalog"
	"elevenline/internal/elevenlabs"
	apperrors "elevenline/internal/errors"
)

func audioDescriptors(d Deps) []catalog.Descriptor {
	formatParam := catalog.Param{
		Name:        "output_format",
		Type:        catalog.TypeString,
		Description: "Audio encoding, e.g. mp3_44100_128 or pcm_16000.",
		Enum:        OutputFormats,
	}

	ttsParams := []catalog.Param{
		{Name: "text", Type: catalog.TypeString, Description: "The text to convert to speech.", Required: true},
		{Name: "voice", Type: catalog.TypeString, Description: "Voice ID or name, e.g. Rachel."},
		{Name: "model", Type: catalog.TypeString, Description: "Model: eleven_multilingual_v2, eleven_flash_v2_5, eleven_turbo_v2_5, eleven_v3."},
		formatParam,
		{Name: "language_code", Type: catalog.TypeString, Description: "ISO 639-1 language code to enforce."},
	}
	ttsParams = append(ttsParams, voiceSettingParams...)
	ttsParams = append(ttsParams, outputFileParam)

	return []catalog.Descriptor{
		{
			Name:        "text_to_speech",
			Description: "Convert text to natural speech.",
			Category:    catalog.CategorySafe,
			Params:      ttsParams,
			Idempotent:  true,
			Validate: catalog.ChainValidation(
				catalog.MaxChars("text", d.maxTextChars()),
				validateVoiceSettings,
			),
			Handler: d.textToSpeech,
		},
		{
			Name:        "speech_to_text",
			Description: "Transcribe an audio file to text.",
			Category:    catalog.CategorySafe,
			Params: []catalog.Param{
				{Name: "file", Type: catalog.TypeString, Description: "Path to the audio file to transcribe.", Required: true},
				{Name: "model", Type: catalog.TypeString, Description: "Transcription model, e.g. scribe_v1.", Default: DefaultSTTModel},
				{Name: "language", Type: catalog.TypeString, Description: "Language code, detected when omitted."},
				{Name: "diarize", Type: catalog.TypeBoolean, Description: "Annotate which speaker is talking."},
				{Name: "num_speakers", Type: catalog.TypeInteger, Description: "Maximum number of speakers."},
				{Name: "timestamps", Type: catalog.TypeString, Description: "Timestamp granularity.", Enum: []string{"none", "word", "character"}, Default: DefaultTimestampsGranular},
			},
			Idempotent: true,
			Validate:   catalog.Range("num_speakers", 1, 32),
			Handler:    d.speechToText,
		},
		{
			Name:        "generate_sfx",
			Description: "Generate a sound effect from a text description.",
			Category:    catalog.CategorySafe,
			Params: []catalog.Param{
				{Name: "text", Type: catalog.TypeString, Description: "Description of the sound effect.", Required: true},
				{Name: "duration", Type: catalog.TypeNumber, Description: "Duration in seconds, 0.5 to 22. Chosen automatically when omitted."},
				{Name: "influence", Type: catalog.TypeNumber, Description: "Prompt influence, 0.0 to 1.0."},
				formatParam,
				outputFileParam,
			},
			Idempotent: true,
			Validate: catalog.ChainValidation(
				catalog.Range("duration", 0.5, 22),
				catalog.Range("influence", 0, 1),
			),
			Handler: d.generateSFX,
		},
		{
			Name:        "audio_isolation",
			Description: "Remove background noise from an audio file.",
			Category:    catalog.CategorySafe,
			Params: []catalog.Param{
				{Name: "file", Type: catalog.TypeString, Description: "Path to the input audio file.", Required: true},
				outputFileParam,
			},
			Idempotent: true,
			Handler:    d.audioIsolation,
		},
		{
			Name:        "voice_changer",
			Description: "Re-voice an audio file with another voice.",
			Category:    catalog.CategorySafe,
			Params: []catalog.Param{
				{Name: "file", Type: catalog.TypeString, Description: "Path to the input audio file.", Required: true},
				{Name: "voice", Type: catalog.TypeString, Description: "Target voice ID or name.", Required: true},
				{Name: "model", Type: catalog.TypeString, Description: "Speech-to-speech model.", Default: DefaultVoiceChangerModel},
				formatParam,
				outputFileParam,
			},
			Idempotent: true,
			Handler:    d.voiceChanger,
		},
		{
			Name:        "create_dialogue",
			Description: "Render a multi-voice dialogue. Each line is \"voice_id: text\".",
			Category:    catalog.CategorySafe,
			Params: []catalog.Param{
				{Name: "lines", Type: catalog.TypeArray, Description: "Dialogue lines formatted as \"voice_id: text\".", Required: true},
				{Name: "model", Type: catalog.TypeString, Description: "Dialogue model.", Default: DefaultDialogueModel},
				formatParam,
				outputFileParam,
			},
			Idempotent: true,
			Validate: catalog.ChainValidation(
				catalog.NonEmptyList("lines"),
				validateDialogueLines,
			),
			Handler: d.createDialogue,
		},
		{
			Name:        "generate_music",
			Description: "Compose music from a prompt.",
			Category:    catalog.CategorySafe,
			Params: []catalog.Param{
				{Name: "prompt", Type: catalog.TypeString, Description: "Description of the music.", Required: true},
				{Name: "length_ms", Type: catalog.TypeInteger, Description: "Length in milliseconds, 10000 to 300000."},
				formatParam,
				outputFileParam,
			},
			Idempotent: true,
			Validate:   catalog.Range("length_ms", 10000, 300000),
			Handler:    d.generateMusic,
		},
		d.download("download_history", "Download the audio of a history item.", "/v1/history/{history_item_id}/audio",
			catalog.Param{Name: "history_item_id", Type: catalog.TypeString, Description: "History item ID.", Required: true}),
		d.download("get_conversation_audio", "Download the recording of an agent conversation.", "/v1/convai/conversations/{conversation_id}/audio",
			catalog.Param{Name: "conversation_id", Type: catalog.TypeString, Description: "Conversation ID.", Required: true}),
		d.download("get_dubbed_audio", "Download the dubbed audio or video of a language.", "/v1/dubbing/{dubbing_id}/audio/{language_code}",
			catalog.Param{Name: "dubbing_id", Type: catalog.TypeString, Description: "Dubbing ID.", Required: true},
			catalog.Param{Name: "language_code", Type: catalog.TypeString, Description: "Target language code.", Required: true}),
		d.download("download_music", "Download the audio of a generated music track.", "/v1/music/{music_id}/audio",
			catalog.Param{Name: "music_id", Type: catalog.TypeString, Description: "Music ID.", Required: true}),
		d.download("get_sample_audio", "Download a voice sample.", "/v1/voices/{voice_id}/samples/{sample_id}/audio",
			catalog.Param{Name: "voice_id", Type: catalog.TypeString, Description: "Voice ID.", Required: true},
			catalog.Param{Name: "sample_id", Type: catalog.TypeString, Description: "Sample ID.", Required: true}),
	}
}

func (d Deps) textToSpeech(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	voiceID, err := d.resolveVoice(ctx, c, d.voice(args, "voice"))
	if err != nil {
		return nil, err
	}
	format := d.outputFormat(args)
	body := map[string]interface{}{
		"text":     args.String("text"),
		"model_id": d.model(args),
	}
	if lang := args.String("language_code"); lang != "" {
		body["language_code"] = lang
	}
	if settings := voiceSettingsFrom(args); !settings.Empty() {
		body["voice_settings"] = settings
	}

	audio, _, err := c.Bytes(ctx, elevenlabs.Request{
		Method: http.MethodPost,
		Path:   "/v1/text-to-speech/" + url.PathEscape(voiceID),
		Query:  url.Values{"output_format": {format}},
		JSON:   body,
		Accept: "audio/*",
	})
	if err != nil {
		return nil, err
	}
	result, err := d.deliverAudio(args, audio, format)
	if err != nil {
		return nil, err
	}
	result["voice_id"] = voiceID
	result["model"] = body["model_id"]
	return result, nil
}

func (d Deps) speechToText(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	part, err := d.upload("file", "file", args)
	if err != nil {
		return nil, err
	}
	form := &elevenlabs.Multipart{
		Fields: []elevenlabs.Field{
			{Name: "model_id", Value: args.String("model")},
			{Name: "timestamps_granularity", Value: args.String("timestamps")},
			{Name: "tag_audio_events", Value: "true"},
		},
		Files: []elevenlabs.Part{part},
	}
	if lang := args.String("language"); lang != "" {
		form.Fields = append(form.Fields, elevenlabs.Field{Name: "language_code", Value: lang})
	}
	if diarize, ok := args.Bool("diarize"); ok && diarize {
		form.Fields = append(form.Fields, elevenlabs.Field{Name: "diarize", Value: "true"})
	}
	if n, ok := args.Int("num_speakers"); ok {
		form.Fields = append(form.Fields, elevenlabs.Field{Name: "num_speakers", Value: strconv.Itoa(n)})
	}
	return c.Value(ctx, elevenlabs.Request{Method: http.MethodPost, Path: "/v1/speech-to-text", Multipart: form})
}

func (d Deps) generateSFX(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	format := d.outputFormat(args)
	body := map[string]interface{}{"text": args.String("text")}
	if v, ok := args.Float("duration"); ok {
		body["duration_seconds"] = v
	}
	if v, ok := args.Float("influence"); ok {
		body["prompt_influence"] = v
	}
	audio, _, err := c.Bytes(ctx, elevenlabs.Request{
		Method: http.MethodPost,
		Path:   "/v1/sound-generation",
		Query:  url.Values{"output_format": {format}},
		JSON:   body,
	})
	if err != nil {
		return nil, err
	}
	return d.deliverAudio(args, audio, format)
}

func (d Deps) audioIsolation(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	part, err := d.upload("file", "audio", args)
	if err != nil {
		return nil, err
	}
	audio, contentType, err := c.Bytes(ctx, elevenlabs.Request{
		Method:    http.MethodPost,
		Path:      "/v1/audio-isolation",
		Multipart: &elevenlabs.Multipart{Files: []elevenlabs.Part{part}},
	})
	if err != nil {
		return nil, err
	}
	return d.deliverAudio(args, audio, formatFromContentType(contentType))
}

func (d Deps) voiceChanger(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	voiceID, err := d.resolveVoice(ctx, c, args.String("voice"))
	if err != nil {
		return nil, err
	}
	part, err := d.upload("file", "audio", args)
	if err != nil {
		return nil, err
	}
	format := d.outputFormat(args)
	audio, _, err := c.Bytes(ctx, elevenlabs.Request{
		Method: http.MethodPost,
		Path:   "/v1/speech-to-speech/" + url.PathEscape(voiceID),
		Query:  url.Values{"output_format": {format}},
		Multipart: &elevenlabs.Multipart{
			Fields: []elevenlabs.Field{{Name: "model_id", Value: args.String("model")}},
			Files:  []elevenlabs.Part{part},
		},
	})
	if err != nil {
		return nil, err
	}
	result, err := d.deliverAudio(args, audio, format)
	if err != nil {
		return nil, err
	}
	result["voice_id"] = voiceID
	return result, nil
}

type dialogueInput struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func parseDialogueLine(line string) (dialogueInput, bool) {
	voice, text, ok := strings.Cut(line, ":")
	voice, text = strings.TrimSpace(voice), strings.TrimSpace(text)
	if !ok || voice == "" || text == "" {
		return dialogueInput{}, false
	}
	return dialogueInput{Text: text, VoiceID: voice}, true
}

func validateDialogueLines(args catalog.Args) error {
	for i, line := range args.Strings("lines") {
		if _, ok := parseDialogueLine(line); !ok {
			return apperrors.InvalidArgument("lines", fmt.Sprintf("line %d must look like \"voice_id: text\"", i+1))
		}
	}
	return nil
}

func (d Deps) createDialogue(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	lines := args.Strings("lines")
	inputs := make([]dialogueInput, 0, len(lines))
	for _, line := range lines {
		input, _ := parseDialogueLine(line)
		inputs = append(inputs, input)
	}
	format := d.outputFormat(args)
	audio, _, err := c.Bytes(ctx, elevenlabs.Request{
		Method: http.MethodPost,
		Path:   "/v1/text-to-dialogue",
		Query:  url.Values{"output_format": {format}},
		JSON:   map[string]interface{}{"inputs": inputs, "model_id": args.String("model")},
	})
	if err != nil {
		return nil, err
	}
	return d.deliverAudio(args, audio, format)
}

func (d Deps) generateMusic(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	format := d.outputFormat(args)
	body := map[string]interface{}{"prompt": args.String("prompt")}
	if n, ok := args.Int("length_ms"); ok {
		body["music_length_ms"] = n
	}
	audio, _, err := c.Bytes(ctx, elevenlabs.Request{
		Method: http.MethodPost,
		Path:   "/v1/music",
		Query:  url.Values{"output_format": {format}},
		JSON:   body,
	})
	if err != nil {
		return nil, err
	}
	return d.deliverAudio(args, audio, format)
}

// download builds a descriptor that fetches stored audio.
func (d Deps) download(name, description, template string, params ...catalog.Param) catalog.Descriptor {
	return catalog.Descriptor{
		Name:        name,
		Description: description,
		Category:    catalog.CategorySafe,
		Params:      append(params, outputFileParam),
		Idempotent:  true,
		Handler: func(ctx context.Context, args catalog.Args) (interface{}, error) {
			c, err := d.client()
			if err != nil {
				return nil, err
			}
			path, err := expandPath(template, args)
			if err != nil {
				return nil, err
			}
			audio, contentType, err := c.Bytes(ctx, elevenlabs.Request{Method: http.MethodGet, Path: path})
			if err != nil {
				return nil, err
			}
			return d.deliverAudio(args, audio, formatFromContentType(contentType))
		},
	}
}

// upload reads the file named by the param argument as a multipart part.
func (d Deps) upload(param, field string, args catalog.Args) (elevenlabs.Part, error) {
	data, name, err := d.Files.ReadUpload(args.String(param))
	if err != nil {
		return elevenlabs.Part{}, apperrors.InvalidArgument(param, err.Error())
	}
	return elevenlabs.Part{Field: field, FileName: name, Data: data}, nil
}

// resolveVoice accepts a voice ID or a voice name. Names are looked up in
// the account's voices, case-insensitively.
func (d Deps) resolveVoice(ctx context.Context, c *elevenlabs.Client, voice string) (string, error) {
	if LooksLikeVoiceID(voice) {
		return voice, nil
	}
	var listing struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := c.JSON(ctx, elevenlabs.Request{Method: http.MethodGet, Path: "/v1/voices"}, &listing); err != nil {
		return "", err
	}
	for _, v := range listing.Voices {
		if strings.EqualFold(v.Name, voice) {
			return v.VoiceID, nil
		}
	}
	return "", apperrors.InvalidArgument("voice", fmt.Sprintf("no voice named %q", voice))
}

// LooksLikeVoiceID reports whether voice has the shape of a voice ID
// rather than a name.
func LooksLikeVoiceID(voice string) bool {
	if len(voice) != 20 {
		return false
	}
	for _, r := range voice {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
