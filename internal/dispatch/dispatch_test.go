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

package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"elevenline/internal/catalog"
	apperrors "elevenline/internal/errors"
	"elevenline/internal/policy"
	"elevenline/internal/retry"
)

type fakeRemote struct {
	calls atomic.Int32
	errs  []error
}

func (f *fakeRemote) handler(ctx context.Context, args catalog.Args) (interface{}, error) {
	n := int(f.calls.Add(1))
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return map[string]interface{}{"ok": true, "text": args.String("text")}, nil
}

func instantClock(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newDispatcher(t *testing.T, cfg policy.Config, remote *fakeRemote) *Dispatcher {
	t.Helper()
	c, err := catalog.NewBuilder().Add(
		catalog.Descriptor{
			Name: "tts", Category: catalog.CategorySafe, Idempotent: true, Handler: remote.handler,
			Params: []catalog.Param{
				{Name: "text", Type: catalog.TypeString, Required: true},
				{Name: "format", Type: catalog.TypeString, Enum: []string{"mp3", "pcm"}, Default: "mp3"},
				{Name: "speed", Type: catalog.TypeNumber},
			},
			Validate: catalog.ChainValidation(catalog.MaxChars("text", 20), catalog.Range("speed", 0.5, 2)),
		},
		catalog.Descriptor{Name: "stt", Category: catalog.CategorySafe, Idempotent: true, Handler: remote.handler},
		catalog.Descriptor{Name: "list_voices", Category: catalog.CategorySafe, Idempotent: true, Handler: remote.handler},
		catalog.Descriptor{Name: "create_agent", Category: catalog.CategoryAdmin, Handler: remote.handler,
			Params: []catalog.Param{{Name: "limit", Type: catalog.TypeInteger}}},
		catalog.Descriptor{Name: "delete_voice", Category: catalog.CategoryDestructive, Idempotent: true, Handler: remote.handler},
	).Build()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	caller := retry.NewCaller(retry.DefaultPolicy(), zerolog.Nop(), retry.WithClock(instantClock))
	return New(c, policy.NewEngine(cfg, c), caller, Options{Logger: zerolog.Nop()})
}

func dispatchErr(t *testing.T, err error) *Error {
	t.Helper()
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *dispatch.Error, got %T %v", err, err)
	}
	return de
}

func TestUnknownOperationIsNotFound(t *testing.T) {
	remote := &fakeRemote{}
	d := newDispatcher(t, policy.Permissive(), remote)

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "nope"})
	if de := dispatchErr(t, err); de.Kind != apperrors.CodeNotFound {
		t.Fatalf("expected not_found, got %q", de.Kind)
	}
	if remote.calls.Load() != 0 {
		t.Fatal("expected no remote call")
	}
}

func TestForbiddenOperationIsNotCalled(t *testing.T) {
	remote := &fakeRemote{}
	d := newDispatcher(t, policy.Config{DisableAdmin: true}, remote)

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "delete_voice"})
	de := dispatchErr(t, err)
	if de.Kind != apperrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %q", de.Kind)
	}
	if de.Rule != policy.RuleAdminDisabled || de.Category != catalog.CategoryDestructive {
		t.Fatalf("expected admin_disabled/destructive, got %q/%q", de.Rule, de.Category)
	}
	if remote.calls.Load() != 0 {
		t.Fatal("expected no remote call")
	}

	res, err := d.Dispatch(context.Background(), Invocation{Operation: "list_voices"})
	if err != nil {
		t.Fatalf("expected list_voices to be allowed: %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestAllowListScenario(t *testing.T) {
	remote := &fakeRemote{}
	d := newDispatcher(t, policy.NewConfig([]string{"tts"}, nil, false, false, false), remote)

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "stt"})
	if de := dispatchErr(t, err); de.Kind != apperrors.CodeForbidden || de.Rule != policy.RuleNotEnabled {
		t.Fatalf("expected forbidden by allow list, got %+v", de)
	}

	res, err := d.Dispatch(context.Background(), Invocation{Operation: "tts", Arguments: map[string]interface{}{"text": "hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 1 || remote.calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", res.Attempts)
	}
	payload := res.Payload.(map[string]interface{})
	if payload["text"] != "hello" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestInvalidArguments(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		args      map[string]interface{}
		param     string
	}{
		{name: "missing required", operation: "tts", args: map[string]interface{}{}, param: "text"},
		{name: "empty required", operation: "tts", args: map[string]interface{}{"text": "  "}, param: "text"},
		{name: "wrong type", operation: "tts", args: map[string]interface{}{"text": 12.0}, param: "text"},
		{name: "enum", operation: "tts", args: map[string]interface{}{"text": "a", "format": "wav"}, param: "format"},
		{name: "unknown parameter", operation: "tts", args: map[string]interface{}{"text": "a", "voice": "x"}, param: "voice"},
		{name: "too long", operation: "tts", args: map[string]interface{}{"text": "this text is longer than twenty"}, param: "text"},
		{name: "out of range", operation: "tts", args: map[string]interface{}{"text": "a", "speed": 3.0}, param: "speed"},
		{name: "fractional integer", operation: "create_agent", args: map[string]interface{}{"limit": 1.5}, param: "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{}
			d := newDispatcher(t, policy.Permissive(), remote)
			_, err := d.Dispatch(context.Background(), Invocation{Operation: tt.operation, Arguments: tt.args})
			de := dispatchErr(t, err)
			if de.Kind != apperrors.CodeInvalidArguments {
				t.Fatalf("expected invalid_arguments, got %q (%v)", de.Kind, err)
			}
			if de.Param != tt.param {
				t.Fatalf("expected param %q, got %q", tt.param, de.Param)
			}
			if remote.calls.Load() != 0 {
				t.Fatal("expected no remote call")
			}
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	desc := catalog.Descriptor{Params: []catalog.Param{
		{Name: "format", Type: catalog.TypeString, Default: "mp3"},
		{Name: "count", Type: catalog.TypeInteger},
	}}
	raw := map[string]interface{}{"count": 2}
	args, err := ValidateArguments(desc, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args.String("format") != "mp3" {
		t.Fatalf("expected default format, got %v", args["format"])
	}
	if n, _ := args.Int("count"); n != 2 {
		t.Fatalf("expected count 2, got %v", args["count"])
	}
	if _, ok := raw["format"]; ok {
		t.Fatal("caller arguments must not be mutated")
	}
}

func TestTransientFailureExhausted(t *testing.T) {
	unavailable := &retry.StatusError{StatusCode: http.StatusServiceUnavailable}
	remote := &fakeRemote{errs: []error{unavailable, unavailable, unavailable}}
	d := newDispatcher(t, policy.Permissive(), remote)

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "list_voices"})
	de := dispatchErr(t, err)
	if de.Kind != apperrors.CodeTransient || !de.Retryable {
		t.Fatalf("expected retryable transient failure, got %+v", de)
	}
	if de.Attempts != retry.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", retry.MaxAttempts, de.Attempts)
	}
	if !errors.Is(err, unavailable) {
		t.Fatal("expected the remote failure to be preserved")
	}
}

func TestRetryThenSuccess(t *testing.T) {
	unavailable := &retry.StatusError{StatusCode: http.StatusServiceUnavailable}
	remote := &fakeRemote{errs: []error{unavailable, unavailable}}
	d := newDispatcher(t, policy.Permissive(), remote)

	res, err := d.Dispatch(context.Background(), Invocation{Operation: "list_voices"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestNonIdempotentNotRetried(t *testing.T) {
	remote := &fakeRemote{errs: []error{&retry.StatusError{StatusCode: http.StatusBadGateway}}}
	d := newDispatcher(t, policy.Permissive(), remote)

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "create_agent"})
	de := dispatchErr(t, err)
	if de.Attempts != 1 || remote.calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", de.Attempts)
	}
	if !de.Retryable {
		t.Fatal("expected retryable flag to be preserved")
	}
}

func TestTerminalFailure(t *testing.T) {
	remote := &fakeRemote{errs: []error{&retry.StatusError{StatusCode: http.StatusUnauthorized}}}
	d := newDispatcher(t, policy.Permissive(), remote)

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "list_voices"})
	if de := dispatchErr(t, err); de.Kind != apperrors.CodeTerminal || de.Retryable {
		t.Fatalf("expected terminal failure, got %+v", de)
	}
}

func TestHandlerArgumentErrorSurfacesAsInvalidArguments(t *testing.T) {
	remote := &fakeRemote{errs: []error{apperrors.InvalidArgument("file", "no such file")}}
	d := newDispatcher(t, policy.Permissive(), remote)

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "stt"})
	de := dispatchErr(t, err)
	if de.Kind != apperrors.CodeInvalidArguments || de.Param != "file" {
		t.Fatalf("expected invalid_arguments for file, got %+v", de)
	}
}

func TestCancelledContext(t *testing.T) {
	remote := &fakeRemote{}
	d := newDispatcher(t, policy.Permissive(), remote)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, Invocation{Operation: "list_voices"})
	if KindOf(err) != apperrors.CodeCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestPanickingHandlerIsTerminal(t *testing.T) {
	c := catalog.NewBuilder().Add(catalog.Descriptor{
		Name: "boom", Category: catalog.CategorySafe, Idempotent: true,
		Handler: func(context.Context, catalog.Args) (interface{}, error) { panic("bad state") },
	}).MustBuild()
	caller := retry.NewCaller(retry.DefaultPolicy(), zerolog.Nop(), retry.WithClock(instantClock))
	d := New(c, policy.NewEngine(policy.Permissive(), c), caller, Options{Logger: zerolog.Nop()})

	_, err := d.Dispatch(context.Background(), Invocation{Operation: "boom"})
	if KindOf(err) != apperrors.CodeTerminal {
		t.Fatalf("expected terminal, got %v", err)
	}
}

func TestAllowedFollowsPolicy(t *testing.T) {
	d := newDispatcher(t, policy.Config{ReadOnly: true}, &fakeRemote{})
	var names []string
	for _, desc := range d.Allowed() {
		names = append(names, desc.Name)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 safe operations, got %v", names)
	}
	if d.Catalog().Len() != 5 {
		t.Fatalf("expected full catalog of 5, got %d", d.Catalog().Len())
	}
}

func TestTimeoutFor(t *testing.T) {
	cfg := TimeoutConfig{Default: time.Minute, PerOperation: map[string]time.Duration{"tts": time.Second}}
	if cfg.TimeoutFor("tts") != time.Second || cfg.TimeoutFor("stt") != time.Minute {
		t.Fatal("unexpected timeout resolution")
	}
}
