package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"elevenline/internal/config"
)

func TestReadText(t *testing.T) {
	got, err := readText(strings.NewReader("ignored"), "hello")
	if err != nil || got != "hello" {
		t.Fatalf("expected argument text, got %q %v", got, err)
	}
	got, err = readText(strings.NewReader("  from stdin\n"), "-")
	if err != nil || got != "from stdin" {
		t.Fatalf("expected stdin text, got %q %v", got, err)
	}
	if _, err := readText(strings.NewReader("   "), ""); err == nil {
		t.Fatal("expected error for blank input")
	}
}

func TestVoiceSettingFlagsApply(t *testing.T) {
	stability, speed := 0.3, 1.1
	boost := true
	flags := VoiceSettingFlags{Stability: &stability, Speed: &speed, SpeakerBoost: &boost}
	args := arguments{}
	flags.apply(args)
	want := arguments{"stability": 0.3, "speed": 1.1, "speaker_boost": true}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterVoices(t *testing.T) {
	payload := map[string]interface{}{
		"voices": []interface{}{
			map[string]interface{}{"voice_id": "1", "name": "Rachel"},
			map[string]interface{}{"voice_id": "2", "name": "Adam"},
			map[string]interface{}{"voice_id": "3", "name": "Rachel (clone)"},
		},
	}
	filtered := filterVoices(payload, "RACHEL").(map[string]interface{})
	if got := len(filtered["voices"].([]interface{})); got != 2 {
		t.Fatalf("expected two voices, got %d", got)
	}
	if filterVoices(payload, "") == nil {
		t.Fatal("expected payload back without a search")
	}
}

func TestPolicyFlagsResolve(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MCP.EnableTools = []string{"list_voices", "text_to_speech"}
	cfg.MCP.DisableTools = []string{"get_voice"}
	cfg.MCP.DisableAdmin = true

	pol := PolicyFlags{DisableTools: []string{"list_models"}, ReadOnly: true}.resolve(cfg)
	if !pol.Enabled["list_voices"] || !pol.Enabled["text_to_speech"] || len(pol.Enabled) != 2 {
		t.Fatalf("expected config allow-list, got %v", pol.Enabled)
	}
	if !pol.Disabled["get_voice"] || !pol.Disabled["list_models"] {
		t.Fatalf("expected merged deny-list, got %v", pol.Disabled)
	}
	if !pol.DisableAdmin || !pol.ReadOnly || pol.DisableDestructive {
		t.Fatalf("unexpected switches %+v", pol)
	}

	pol = PolicyFlags{EnableTools: []string{"get_usage"}}.resolve(cfg)
	if len(pol.Enabled) != 1 || !pol.Enabled["get_usage"] {
		t.Fatalf("expected flag allow-list to replace the config one, got %v", pol.Enabled)
	}
	if len(cfg.MCP.DisableTools) != 1 {
		t.Fatal("resolve must not modify the configuration")
	}
}

func TestHistoryPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	a := &app{cfg: config.DefaultConfig()}
	a.cfg.HistoryFile = ".elevenline_history"
	if got := a.historyPath(); got != filepath.Join(home, ".elevenline_history") {
		t.Fatalf("unexpected history path %s", got)
	}
	a.cfg.HistoryFile = "/tmp/history"
	if got := a.historyPath(); got != "/tmp/history" {
		t.Fatalf("expected absolute path kept, got %s", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if firstNonEmpty() != "" {
		t.Fatal("expected empty result")
	}
}
