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
	"net/http"
	"net/url"
	"strconv"
	"time"

	"elevenline/internal/catalog"
	"elevenline/internal/elevenlabs"
	apperrors "elevenline/internal/errors"
)

// usageWindow is the default span of get_usage.
const usageWindow = 30 * 24 * time.Hour

func agentParams(create bool) []catalog.Param {
	return []catalog.Param{
		{Name: "name", Type: catalog.TypeString, Description: "Agent name.", Required: create},
		stringParam("first_message", "What the agent says first."),
		stringParam("system_prompt", "System prompt of the agent."),
		stringParam("voice_id", "Voice of the agent."),
		stringParam("language", "Conversation language code."),
	}
}

// agentBody nests the flat agent arguments into a conversation config.
func agentBody(create bool) func(args catalog.Args) (interface{}, error) {
	return func(args catalog.Args) (interface{}, error) {
		body := map[string]interface{}{}
		if name := args.String("name"); name != "" {
			body["name"] = name
		}
		agent := map[string]interface{}{}
		if v := args.String("first_message"); v != "" {
			agent["first_message"] = v
		}
		if v := args.String("system_prompt"); v != "" {
			agent["prompt"] = map[string]interface{}{"prompt": v}
		}
		if v := args.String("language"); v != "" {
			agent["language"] = v
		}
		config := map[string]interface{}{}
		if len(agent) > 0 {
			config["agent"] = agent
		}
		if v := args.String("voice_id"); v != "" {
			config["tts"] = map[string]interface{}{"voice_id": v}
		}
		if create || len(config) > 0 {
			body["conversation_config"] = config
		}
		if len(body) == 0 {
			return nil, apperrors.InvalidArgument("name", "nothing to update")
		}
		return body, nil
	}
}

func secretBody(args catalog.Args) (interface{}, error) {
	return map[string]interface{}{
		"type":  "new",
		"name":  args.String("name"),
		"value": args.String("value"),
	}, nil
}

type webhookSettings struct {
	AuthType   string `json:"auth_type"`
	Name       string `json:"name" validate:"required"`
	WebhookURL string `json:"url" validate:"required,url"`
}

func webhookBody(args catalog.Args) (interface{}, error) {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"auth_type":   "hmac",
			"name":        args.String("name"),
			"webhook_url": args.String("url"),
		},
	}, nil
}

func validateWebhookURL(args catalog.Args) error {
	return validateStruct(webhookSettings{
		AuthType:   "hmac",
		Name:       args.String("name"),
		WebhookURL: args.String("url"),
	})
}

type invitation struct {
	Email string `json:"email" validate:"required,email"`
}

func validateEmail(args catalog.Args) error {
	return validateStruct(invitation{Email: args.String("email")})
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// usageDescriptor reports character usage. The window defaults to the
// last 30 days.
func usageDescriptor(d Deps) catalog.Descriptor {
	return catalog.Descriptor{
		Name:        "get_usage",
		Description: "Get character usage statistics. Start and end are Unix seconds, defaulting to the last 30 days.",
		Category:    catalog.CategorySafe,
		Params: []catalog.Param{
			{Name: "start", Type: catalog.TypeInteger, Description: "Start of the window in Unix seconds."},
			{Name: "end", Type: catalog.TypeInteger, Description: "End of the window in Unix seconds."},
		},
		Idempotent: true,
		Validate: func(args catalog.Args) error {
			start, hasStart := args.Int("start")
			end, hasEnd := args.Int("end")
			if hasStart && hasEnd && start > end {
				return apperrors.InvalidArgument("start", "must not be after end")
			}
			return nil
		},
		Handler: func(ctx context.Context, args catalog.Args) (interface{}, error) {
			c, err := d.client()
			if err != nil {
				return nil, err
			}
			end := d.now()
			if v, ok := args.Int("end"); ok {
				end = time.Unix(int64(v), 0)
			}
			start := end.Add(-usageWindow)
			if v, ok := args.Int("start"); ok {
				start = time.Unix(int64(v), 0)
			}
			return c.Value(ctx, elevenlabs.Request{
				Method: http.MethodGet,
				Path:   "/v1/usage/character-stats",
				Query: url.Values{
					"start_unix": {strconv.FormatInt(start.UnixMilli(), 10)},
					"end_unix":   {strconv.FormatInt(end.UnixMilli(), 10)},
				},
			})
		},
	}
}

// modelRatesDescriptor projects list_models onto the pricing fields.
func modelRatesDescriptor(d Deps) catalog.Descriptor {
	return catalog.Descriptor{
		Name:        "get_model_rates",
		Description: "Get the character cost multiplier of every model.",
		Category:    catalog.CategorySafe,
		Idempotent:  true,
		Handler: func(ctx context.Context, _ catalog.Args) (interface{}, error) {
			c, err := d.client()
			if err != nil {
				return nil, err
			}
			var models []struct {
				ModelID    string                 `json:"model_id"`
				Name       string                 `json:"name"`
				ModelRates map[string]interface{} `json:"model_rates"`
			}
			if err := c.JSON(ctx, elevenlabs.Request{Method: http.MethodGet, Path: "/v1/models"}, &models); err != nil {
				return nil, err
			}
			rates := make([]interface{}, 0, len(models))
			for _, m := range models {
				rates = append(rates, map[string]interface{}{
					"model_id":    m.ModelID,
					"name":        m.Name,
					"model_rates": m.ModelRates,
				})
			}
			return map[string]interface{}{"models": rates}, nil
		},
	}
}
