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

// Package operations binds the ElevenLabs API to catalog descriptors.
package operations

import (
	"time"

	"github.com/rs/zerolog"

	"elevenline/internal/catalog"
	"elevenline/internal/elevenlabs"
	"elevenline/internal/paths"
)

// Defaults used when neither the caller nor the configuration names one.
const (
	DefaultVoice              = "21m00Tcm4TlvDq8ikWAM" // Rachel
	DefaultModel              = "eleven_multilingual_v2"
	DefaultOutputFormat       = "mp3_44100_128"
	DefaultSTTModel           = "scribe_v1"
	DefaultVoiceChangerModel  = "eleven_multilingual_sts_v2"
	DefaultDialogueModel      = "eleven_v3"
	DefaultMaxTextChars       = 50000
	DefaultHistoryPageSize    = 10
	DefaultTimestampsGranular = "word"
)

// Defaults are the configured fallbacks for audio operations.
type Defaults struct {
	Voice        string
	Model        string
	OutputFormat string
}

// Deps are the collaborators shared by every handler. A nil Client is
// allowed so that the catalog can be listed without credentials; calls
// then fail with a configuration error.
type Deps struct {
	Client       *elevenlabs.Client
	Files        paths.Resolver
	Defaults     Defaults
	MaxTextChars int
	Logger       zerolog.Logger
	Now          func() time.Time
}

func (d Deps) client() (*elevenlabs.Client, error) {
	if d.Client == nil {
		return nil, elevenlabs.ErrMissingAPIKey
	}
	return d.Client, nil
}

func (d Deps) voice(args catalog.Args, name string) string {
	if v := args.String(name); v != "" {
		return v
	}
	if d.Defaults.Voice != "" {
		return d.Defaults.Voice
	}
	return DefaultVoice
}

func (d Deps) model(args catalog.Args) string {
	if v := args.String("model"); v != "" {
		return v
	}
	if d.Defaults.Model != "" {
		return d.Defaults.Model
	}
	return DefaultModel
}

func (d Deps) outputFormat(args catalog.Args) string {
	if v := args.String("output_format"); v != "" {
		return v
	}
	if d.Defaults.OutputFormat != "" {
		return d.Defaults.OutputFormat
	}
	return DefaultOutputFormat
}

func (d Deps) maxTextChars() int {
	if d.MaxTextChars <= 0 {
		return DefaultMaxTextChars
	}
	return d.MaxTextChars
}

// Descriptors returns every operation in registration order.
func Descriptors(d Deps) []catalog.Descriptor {
	var out []catalog.Descriptor
	out = append(out, audioDescriptors(d)...)
	out = append(out, uploadDescriptors(d)...)
	out = append(out, usageDescriptor(d), modelRatesDescriptor(d))
	out = append(out, endpointDescriptors(d, endpoints)...)
	return out
}

// NewCatalog builds the operation catalog.
func NewCatalog(d Deps) (*catalog.Catalog, error) {
	return catalog.NewBuilder().Add(Descriptors(d)...).Build()
}
