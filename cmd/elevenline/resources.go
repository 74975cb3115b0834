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
	"strings"
	"time"

	"elevenline/internal/operations"
)

// VoiceCmd groups the voice commands.
type VoiceCmd struct {
	List     VoiceListCmd     `cmd:"" default:"1" help:"List voices."`
	Get      VoiceGetCmd      `cmd:"" help:"Show a voice."`
	Delete   VoiceDeleteCmd   `cmd:"" help:"Delete a voice."`
	Settings VoiceSettingsCmd `cmd:"" help:"Show or change the stored settings of a voice."`
}

type VoiceListCmd struct {
	Search string `short:"s" help:"Only voices whose name contains this text."`
}

func (c *VoiceListCmd) Run(ctx context.Context, a *app) error {
	res, err := a.dispatch(ctx, "list_voices", nil)
	if err != nil {
		return err
	}
	return a.printer.Result(filterVoices(res.Payload, c.Search))
}

// filterVoices keeps the voices whose name contains search, ignoring case.
func filterVoices(payload interface{}, search string) interface{} {
	listing, ok := payload.(map[string]interface{})
	if !ok || search == "" {
		return payload
	}
	voices, _ := listing["voices"].([]interface{})
	search = strings.ToLower(search)
	kept := make([]interface{}, 0, len(voices))
	for _, item := range voices {
		entry, _ := item.(map[string]interface{})
		name, _ := entry["name"].(string)
		if strings.Contains(strings.ToLower(name), search) {
			kept = append(kept, item)
		}
	}
	return map[string]interface{}{"voices": kept}
}

type VoiceGetCmd struct {
	VoiceID string `arg:"" name:"voice-id" help:"Voice ID."`
}

func (c *VoiceGetCmd) Run(ctx context.Context, a *app) error {
	return a.invoke(ctx, "get_voice", arguments{"voice_id": c.VoiceID})
}

type VoiceDeleteCmd struct {
	VoiceID string `arg:"" name:"voice-id" help:"Voice ID."`
}

func (c *VoiceDeleteCmd) Run(ctx context.Context, a *app) error {
	return a.invoke(ctx, "delete_voice", arguments{"voice_id": c.VoiceID})
}

// VoiceSettingsCmd shows the stored settings, or edits them when any
// setting flag is given.
type VoiceSettingsCmd struct {
	VoiceID string `arg:"" name:"voice-id" help:"Voice ID."`

	VoiceSettingFlags `embed:""`
}

func (c *VoiceSettingsCmd) Run(ctx context.Context, a *app) error {
	args := arguments{"voice_id": c.VoiceID}
	c.VoiceSettingFlags.apply(args)
	if len(args) == 1 {
		return a.invoke(ctx, "get_voice_settings", args)
	}
	return a.invoke(ctx, "edit_voice_settings", args)
}

type ModelsCmd struct {
	Rates bool `help:"Show the character cost multiplier of each model."`
}

func (c *ModelsCmd) Run(ctx context.Context, a *app) error {
	if c.Rates {
		return a.invoke(ctx, "get_model_rates", nil)
	}
	return a.invoke(ctx, "list_models", nil)
}

// UserCmd groups the account commands.
type UserCmd struct {
	Info         UserInfoCmd         `cmd:"" default:"1" help:"Show account information."`
	Subscription UserSubscriptionCmd `cmd:"" help:"Show the subscription and quota."`
}

type UserInfoCmd struct{}

func (c *UserInfoCmd) Run(ctx context.Context, a *app) error {
	return a.invoke(ctx, "get_user_info", nil)
}

type UserSubscriptionCmd struct{}

func (c *UserSubscriptionCmd) Run(ctx context.Context, a *app) error {
	return a.invoke(ctx, "get_user_subscription", nil)
}

type UsageCmd struct {
	Days int `default:"30" help:"Number of days to report, ending now."`
}

func (c *UsageCmd) Run(ctx context.Context, a *app) error {
	end := a.now()
	args := arguments{"end": end.Unix()}
	if c.Days > 0 {
		args["start"] = end.Add(-time.Duration(c.Days) * 24 * time.Hour).Unix()
	}
	return a.invoke(ctx, "get_usage", args)
}

// HistoryCmd groups the generated audio commands.
type HistoryCmd struct {
	List     HistoryListCmd     `cmd:"" default:"1" help:"List generated audio."`
	Get      HistoryGetCmd      `cmd:"" help:"Show a history item."`
	Delete   HistoryDeleteCmd   `cmd:"" help:"Delete a history item."`
	Download HistoryDownloadCmd `cmd:"" help:"Download the audio of a history item."`
}

type HistoryListCmd struct {
	Limit      int    `short:"n" default:"10" help:"Maximum number of items."`
	Voice      string `short:"v" help:"Only items generated with this voice ID."`
	StartAfter string `name:"start-after" help:"History item ID to continue after."`
}

func (c *HistoryListCmd) Run(ctx context.Context, a *app) error {
	args := arguments{"limit": c.Limit}
	args.str("voice_id", c.Voice)
	args.str("start_after", c.StartAfter)
	return a.invoke(ctx, "list_history", args)
}

type HistoryGetCmd struct {
	ID string `arg:"" help:"History item ID."`
}

func (c *HistoryGetCmd) Run(ctx context.Context, a *app) error {
	return a.invoke(ctx, "get_history_item", arguments{"history_item_id": c.ID})
}

type HistoryDeleteCmd struct {
	ID string `arg:"" help:"History item ID."`
}

func (c *HistoryDeleteCmd) Run(ctx context.Context, a *app) error {
	return a.invoke(ctx, "delete_history_item", arguments{"history_item_id": c.ID})
}

type HistoryDownloadCmd struct {
	ID     string `arg:"" help:"History item ID."`
	Output string `short:"o" type:"path" help:"Output file. Defaults to a timestamped name."`
}

func (c *HistoryDownloadCmd) Run(ctx context.Context, a *app) error {
	output := firstNonEmpty(c.Output, operations.DefaultOutputName("history", "mp3", a.now()))
	if err := a.confirmOverwrite(output); err != nil {
		return err
	}
	return a.invoke(ctx, "download_history", arguments{"history_item_id": c.ID, "output_file": output})
}
