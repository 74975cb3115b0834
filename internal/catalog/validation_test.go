package catalog

import (
	"testing"

	apperrors "elevenline/internal/errors"
)

func TestExactlyOneOf(t *testing.T) {
	rule := ExactlyOneOf("voice_id", "text")
	tests := []struct {
		name      string
		args      Args
		wantParam string
	}{
		{name: "voice only", args: Args{"voice_id": "v1"}},
		{name: "text only", args: Args{"text": "warm narrator"}},
		{name: "blank counts as unset", args: Args{"voice_id": "  ", "text": "calm"}},
		{name: "neither", args: Args{}, wantParam: "voice_id"},
		{name: "both", args: Args{"voice_id": "v1", "text": "calm"}, wantParam: "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule(tt.args)
			if tt.wantParam == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !apperrors.HasCode(err, apperrors.CodeInvalidArguments) || apperrors.ParamOf(err) != tt.wantParam {
				t.Fatalf("expected invalid %s, got %v", tt.wantParam, err)
			}
		})
	}
}
