package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestParseConfirmInput(t *testing.T) {
	cases := []struct {
		input    string
		expected confirmDecision
	}{
		{"", confirmNo},
		{"\n", confirmNo},
		{"y", confirmYes},
		{"YES\n", confirmYes},
		{"n", confirmNo},
		{" no ", confirmNo},
		{"yess", confirmUnknown},
		{"maybe", confirmUnknown},
	}

	for _, tc := range cases {
		if got := parseConfirmInput(tc.input); got != tc.expected {
			t.Fatalf("input %q: expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestPromptConfirmRepeatsUntilAnswered(t *testing.T) {
	var out bytes.Buffer
	ok, err := promptConfirm(strings.NewReader("what\ny\n"), &out, "Delete voice?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected confirmation")
	}
	if strings.Count(out.String(), "Delete voice? (y/N): ") != 2 {
		t.Fatalf("expected the prompt twice, got %q", out.String())
	}
	if !strings.Contains(out.String(), "Please enter yes or no.") {
		t.Fatalf("expected a hint, got %q", out.String())
	}
}

func TestPromptConfirmEOF(t *testing.T) {
	ok, err := promptConfirm(strings.NewReader(""), io.Discard, "Continue?")
	if ok || err == nil {
		t.Fatalf("expected EOF error, got ok=%v err=%v", ok, err)
	}

	// An answer without a trailing newline still counts.
	ok, err = promptConfirm(strings.NewReader("yes"), io.Discard, "Continue?")
	if err != nil || !ok {
		t.Fatalf("expected yes, got ok=%v err=%v", ok, err)
	}
}

func TestDescribeArgs(t *testing.T) {
	args := map[string]interface{}{
		"voice_id": "abc",
		"text":     strings.Repeat("x", 100),
		"limit":    3,
	}
	if got := describeArgs(args); got != `limit=3 voice_id="abc"` {
		t.Fatalf("unexpected description %q", got)
	}
	if describeArgs(nil) != "" {
		t.Fatal("expected empty description")
	}
}
