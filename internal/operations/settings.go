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
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"elevenline/internal/catalog"
	apperrors "elevenline/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// VoiceSettings tune a voice for one request or persistently.
type VoiceSettings struct {
	Stability       *float64 `json:"stability,omitempty" validate:"omitempty,gte=0,lte=1"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty" validate:"omitempty,gte=0,lte=1"`
	Style           *float64 `json:"style,omitempty" validate:"omitempty,gte=0,lte=1"`
	Speed           *float64 `json:"speed,omitempty" validate:"omitempty,gte=0.7,lte=1.2"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
}

// Empty reports whether no setting is present.
func (s VoiceSettings) Empty() bool {
	return s.Stability == nil && s.SimilarityBoost == nil && s.Style == nil && s.Speed == nil && s.UseSpeakerBoost == nil
}

// Validate checks every present setting against its range.
func (s VoiceSettings) Validate() error {
	return validateStruct(s)
}

var voiceSettingParams = []catalog.Param{
	{Name: "stability", Type: catalog.TypeNumber, Description: "Voice stability, 0.0 to 1.0. Higher is more stable."},
	{Name: "similarity_boost", Type: catalog.TypeNumber, Description: "Similarity boost, 0.0 to 1.0."},
	{Name: "style", Type: catalog.TypeNumber, Description: "Style exaggeration, 0.0 to 1.0."},
	{Name: "speed", Type: catalog.TypeNumber, Description: "Speaking speed, 0.7 to 1.2."},
	{Name: "speaker_boost", Type: catalog.TypeBoolean, Description: "Enable speaker boost."},
}

// voiceSettingsFrom collects the voice setting arguments.
func voiceSettingsFrom(args catalog.Args) VoiceSettings {
	var s VoiceSettings
	if v, ok := args.Float("stability"); ok {
		s.Stability = &v
	}
	if v, ok := args.Float("similarity_boost"); ok {
		s.SimilarityBoost = &v
	}
	if v, ok := args.Float("style"); ok {
		s.Style = &v
	}
	if v, ok := args.Float("speed"); ok {
		s.Speed = &v
	}
	if v, ok := args.Bool("speaker_boost"); ok {
		s.UseSpeakerBoost = &v
	}
	return s
}

func validateVoiceSettings(args catalog.Args) error {
	return voiceSettingsFrom(args).Validate()
}

// validateStruct runs the struct tags and reports the first violation as an
// invalid_arguments error naming the JSON field.
func validateStruct(value interface{}) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.Wrap(apperrors.CodeInvalidArguments, "invalid arguments", err)
	}
	fe := fieldErrs[0]
	return apperrors.InvalidArgument(fe.Field(), describeViolation(fe))
}

func describeViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "required":
		return "is required"
	case "email":
		return "must be an email address"
	case "url":
		return "must be a URL"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
