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
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"elevenline/internal/catalog"
	apperrors "elevenline/internal/errors"
)

// OutputFormats lists the audio encodings accepted by generation endpoints.
var OutputFormats = []string{
	"mp3_22050_32", "mp3_44100_32", "mp3_44100_64", "mp3_44100_96", "mp3_44100_128", "mp3_44100_192",
	"pcm_8000", "pcm_16000", "pcm_22050", "pcm_24000", "pcm_44100", "pcm_48000",
	"ulaw_8000", "alaw_8000",
	"opus_48000_32", "opus_48000_64", "opus_48000_96", "opus_48000_128", "opus_48000_192",
}

// Extension maps an output format to a file extension.
func Extension(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "mp3"
	case strings.HasPrefix(format, "pcm"), strings.HasPrefix(format, "wav"):
		return "wav"
	case strings.HasPrefix(format, "ulaw"), strings.HasPrefix(format, "mulaw"):
		return "ulaw"
	case strings.HasPrefix(format, "opus"):
		return "opus"
	}
	return "mp3"
}

// DefaultOutputName returns a timestamped file name such as
// speech_1700000000.mp3.
func DefaultOutputName(prefix, format string, now time.Time) string {
	return fmt.Sprintf("%s_%d.%s", prefix, now.Unix(), Extension(format))
}

// outputFileParam is shared by every operation that produces audio.
var outputFileParam = catalog.Param{
	Name:        "output_file",
	Type:        catalog.TypeString,
	Description: "Path to write the audio to. Without it the audio is returned base64-encoded.",
}

// deliverAudio writes audio to the requested output file or embeds it in
// the result.
func (d Deps) deliverAudio(args catalog.Args, audio []byte, format string) (map[string]interface{}, error) {
	result := map[string]interface{}{
		"success": true,
		"bytes":   len(audio),
	}
	if format != "" {
		result["format"] = format
	}
	if target := args.String(outputFileParam.Name); target != "" {
		written, err := d.Files.WriteOutput(target, audio)
		if err != nil {
			return nil, apperrors.InvalidArgument(outputFileParam.Name, err.Error())
		}
		d.Logger.Debug().Str("path", written).Int("bytes", len(audio)).Msg("audio written")
		result["output_file"] = written
		return result, nil
	}
	result["audio_base64"] = base64.StdEncoding.EncodeToString(audio)
	return result, nil
}

// formatFromContentType guesses an output format for downloaded audio.
func formatFromContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "mp3"
	case strings.Contains(contentType, "wav"):
		return "wav"
	case strings.Contains(contentType, "ogg"), strings.Contains(contentType, "opus"):
		return "opus"
	}
	return ""
}
