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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"elevenline/internal/catalog"
	"elevenline/internal/elevenlabs"
	apperrors "elevenline/internal/errors"
)

// uploadDescriptors are the operations that send local files.
func uploadDescriptors(d Deps) []catalog.Descriptor {
	return []catalog.Descriptor{
		{
			Name:        "clone_voice",
			Description: "Clone a voice from audio samples.",
			Category:    catalog.CategoryAdmin,
			Params: []catalog.Param{
				{Name: "name", Type: catalog.TypeString, Description: "Name of the new voice.", Required: true},
				{Name: "samples", Type: catalog.TypeArray, Description: "Paths to audio sample files.", Required: true},
				{Name: "description", Type: catalog.TypeString, Description: "Description of the voice."},
				{Name: "labels", Type: catalog.TypeObject, Description: "Labels as key/value strings, e.g. {\"accent\": \"british\"}."},
			},
			Validate: catalog.NonEmptyList("samples"),
			Handler:  d.cloneVoice,
		},
		{
			Name:        "create_dubbing",
			Description: "Start dubbing an audio or video file into another language.",
			Category:    catalog.CategoryAdmin,
			Params: []catalog.Param{
				{Name: "file", Type: catalog.TypeString, Description: "Path to the audio or video file.", Required: true},
				{Name: "source_lang", Type: catalog.TypeString, Description: "Source language code, or auto.", Required: true},
				{Name: "target_lang", Type: catalog.TypeString, Description: "Target language code.", Required: true},
				{Name: "num_speakers", Type: catalog.TypeInteger, Description: "Number of speakers, detected when omitted."},
			},
			Validate: catalog.Range("num_speakers", 1, 32),
			Handler:  d.createDubbing,
		},
		{
			Name:        "add_knowledge",
			Description: "Add a document to the agents knowledge base from a URL, text or file.",
			Category:    catalog.CategoryAdmin,
			Params: []catalog.Param{
				{Name: "source_type", Type: catalog.TypeString, Description: "Where the content comes from.", Required: true, Enum: []string{"url", "text", "file"}},
				{Name: "content", Type: catalog.TypeString, Description: "The URL, the text, or the file path.", Required: true},
				{Name: "name", Type: catalog.TypeString, Description: "Document name.", Required: true},
			},
			Handler: d.addKnowledge,
		},
		{
			Name:        "add_pronunciation_dictionary",
			Description: "Create a pronunciation dictionary from a PLS file.",
			Category:    catalog.CategoryAdmin,
			Params: []catalog.Param{
				{Name: "file", Type: catalog.TypeString, Description: "Path to the PLS file.", Required: true},
				{Name: "name", Type: catalog.TypeString, Description: "Dictionary name.", Required: true},
				{Name: "description", Type: catalog.TypeString, Description: "Dictionary description."},
			},
			Handler: d.addDictionary,
		},
		{
			Name:        "add_pronunciation_rules",
			Description: "Add rules from a JSON file to a pronunciation dictionary.",
			Category:    catalog.CategoryAdmin,
			Params: []catalog.Param{
				{Name: "dictionary_id", Type: catalog.TypeString, Description: "Dictionary ID.", Required: true},
				{Name: "rules_file", Type: catalog.TypeString, Description: "Path to a JSON array of rules.", Required: true},
			},
			Idempotent: true,
			Handler:    d.addRules,
		},
		{
			Name:        "remove_pronunciation_rules",
			Description: "Remove rules listed in a JSON file from a pronunciation dictionary.",
			Category:    catalog.CategoryDestructive,
			Params: []catalog.Param{
				{Name: "dictionary_id", Type: catalog.TypeString, Description: "Dictionary ID.", Required: true},
				{Name: "rules_file", Type: catalog.TypeString, Description: "Path to a JSON array of words or rules.", Required: true},
			},
			Idempotent: true,
			Handler:    d.removeRules,
		},
	}
}

func (d Deps) cloneVoice(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	form := &elevenlabs.Multipart{Fields: []elevenlabs.Field{{Name: "name", Value: args.String("name")}}}
	if desc := args.String("description"); desc != "" {
		form.Fields = append(form.Fields, elevenlabs.Field{Name: "description", Value: desc})
	}
	if labels := args.Object("labels"); len(labels) > 0 {
		encoded, err := encodeLabels(labels)
		if err != nil {
			return nil, err
		}
		form.Fields = append(form.Fields, elevenlabs.Field{Name: "labels", Value: encoded})
	}
	for _, sample := range args.Strings("samples") {
		data, name, err := d.Files.ReadUpload(sample)
		if err != nil {
			return nil, apperrors.InvalidArgument("samples", err.Error())
		}
		form.Files = append(form.Files, elevenlabs.Part{Field: "files", FileName: name, Data: data})
	}
	return c.Value(ctx, elevenlabs.Request{Method: http.MethodPost, Path: "/v1/voices/add", Multipart: form})
}

func encodeLabels(labels map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(labels))
	for _, k := range keys {
		s, ok := labels[k].(string)
		if !ok {
			return "", apperrors.InvalidArgument("labels", fmt.Sprintf("label %q must be a string", k))
		}
		out[k] = s
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", apperrors.InvalidArgument("labels", err.Error())
	}
	return string(data), nil
}

func (d Deps) createDubbing(ctx context.Context, args catalog.Args) (interface{}, error) {
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
			{Name: "source_lang", Value: args.String("source_lang")},
			{Name: "target_lang", Value: args.String("target_lang")},
		},
		Files: []elevenlabs.Part{part},
	}
	if n, ok := args.Int("num_speakers"); ok {
		form.Fields = append(form.Fields, elevenlabs.Field{Name: "num_speakers", Value: strconv.Itoa(n)})
	}
	return c.Value(ctx, elevenlabs.Request{Method: http.MethodPost, Path: "/v1/dubbing", Multipart: form})
}

func (d Deps) addKnowledge(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	name, content := args.String("name"), args.String("content")
	switch args.String("source_type") {
	case "url":
		if u, err := url.Parse(content); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, apperrors.InvalidArgument("content", "must be an absolute URL")
		}
		return c.Value(ctx, elevenlabs.Request{
			Method: http.MethodPost,
			Path:   "/v1/convai/knowledge-base/url",
			JSON:   map[string]interface{}{"url": content, "name": name},
		})
	case "text":
		return c.Value(ctx, elevenlabs.Request{
			Method: http.MethodPost,
			Path:   "/v1/convai/knowledge-base/text",
			JSON:   map[string]interface{}{"text": content, "name": name},
		})
	default:
		part, err := d.upload("content", "file", args)
		if err != nil {
			return nil, err
		}
		return c.Value(ctx, elevenlabs.Request{
			Method: http.MethodPost,
			Path:   "/v1/convai/knowledge-base/file",
			Multipart: &elevenlabs.Multipart{
				Fields: []elevenlabs.Field{{Name: "name", Value: name}},
				Files:  []elevenlabs.Part{part},
			},
		})
	}
}

func (d Deps) addDictionary(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	part, err := d.upload("file", "file", args)
	if err != nil {
		return nil, err
	}
	form := &elevenlabs.Multipart{
		Fields: []elevenlabs.Field{{Name: "name", Value: args.String("name")}},
		Files:  []elevenlabs.Part{part},
	}
	if desc := args.String("description"); desc != "" {
		form.Fields = append(form.Fields, elevenlabs.Field{Name: "description", Value: desc})
	}
	return c.Value(ctx, elevenlabs.Request{
		Method:    http.MethodPost,
		Path:      "/v1/pronunciation-dictionaries/add-from-file",
		Multipart: form,
	})
}

// pronunciationRule is one entry of a rules file.
type pronunciationRule struct {
	StringToReplace string `json:"string_to_replace"`
	Type            string `json:"type"`
	Alias           string `json:"alias,omitempty"`
	Phoneme         string `json:"phoneme,omitempty"`
	Alphabet        string `json:"alphabet,omitempty"`
}

func (d Deps) readRules(args catalog.Args) ([]json.RawMessage, error) {
	data, _, err := d.Files.ReadUpload(args.String("rules_file"))
	if err != nil {
		return nil, apperrors.InvalidArgument("rules_file", err.Error())
	}
	var rules []json.RawMessage
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, apperrors.InvalidArgument("rules_file", "must contain a JSON array: "+err.Error())
	}
	if len(rules) == 0 {
		return nil, apperrors.InvalidArgument("rules_file", "contains no rules")
	}
	return rules, nil
}

func (d Deps) addRules(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	raw, err := d.readRules(args)
	if err != nil {
		return nil, err
	}
	rules := make([]pronunciationRule, 0, len(raw))
	for i, r := range raw {
		var rule pronunciationRule
		if err := json.Unmarshal(r, &rule); err != nil || rule.StringToReplace == "" {
			return nil, apperrors.InvalidArgument("rules_file", fmt.Sprintf("rule %d needs string_to_replace", i+1))
		}
		if rule.Type == "" {
			rule.Type = "alias"
			if rule.Phoneme != "" {
				rule.Type = "phoneme"
			}
		}
		rules = append(rules, rule)
	}
	path, err := expandPath("/v1/pronunciation-dictionaries/{dictionary_id}/add-rules", args)
	if err != nil {
		return nil, err
	}
	return c.Value(ctx, elevenlabs.Request{Method: http.MethodPost, Path: path, JSON: map[string]interface{}{"rules": rules}})
}

func (d Deps) removeRules(ctx context.Context, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	raw, err := d.readRules(args)
	if err != nil {
		return nil, err
	}
	words := make([]string, 0, len(raw))
	for i, r := range raw {
		var word string
		if err := json.Unmarshal(r, &word); err == nil && word != "" {
			words = append(words, word)
			continue
		}
		var rule pronunciationRule
		if err := json.Unmarshal(r, &rule); err != nil || rule.StringToReplace == "" {
			return nil, apperrors.InvalidArgument("rules_file", fmt.Sprintf("entry %d is neither a word nor a rule", i+1))
		}
		words = append(words, rule.StringToReplace)
	}
	path, err := expandPath("/v1/pronunciation-dictionaries/{dictionary_id}/remove-rules", args)
	if err != nil {
		return nil, err
	}
	return c.Value(ctx, elevenlabs.Request{Method: http.MethodPost, Path: path, JSON: map[string]interface{}{"rule_strings": words}})
}
