package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"elevenline/internal/catalog"
	"elevenline/internal/dispatch"
	"elevenline/internal/policy"
	"elevenline/internal/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int       `json:"code"`
		Message string    `json:"message"`
		Data    rejection `json:"data"`
	} `json:"error"`
}

type testHarness struct {
	pairStarted atomic.Int32
	started     chan struct{}
	flaky       atomic.Int32
}

func instantClock(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestDispatcher(t *testing.T, cfg policy.Config) (*dispatch.Dispatcher, *testHarness) {
	t.Helper()
	h := &testHarness{started: make(chan struct{}, 8)}
	c, err := catalog.NewBuilder().Add(
		catalog.Descriptor{
			Name: "list_voices", Description: "List voices", Category: catalog.CategorySafe, Idempotent: true,
			Handler: func(context.Context, catalog.Args) (interface{}, error) {
				return map[string]interface{}{"voices": []interface{}{"Rachel"}}, nil
			},
		},
		catalog.Descriptor{
			Name: "text_to_speech", Description: "Speak", Category: catalog.CategorySafe, Idempotent: true,
			Params: []catalog.Param{{Name: "text", Type: catalog.TypeString, Required: true}},
			Handler: func(_ context.Context, args catalog.Args) (interface{}, error) {
				return map[string]interface{}{"chars": len(args.String("text"))}, nil
			},
		},
		catalog.Descriptor{
			Name: "flaky", Description: "Always unavailable", Category: catalog.CategorySafe, Idempotent: true,
			Handler: func(context.Context, catalog.Args) (interface{}, error) {
				h.flaky.Add(1)
				return nil, &retry.StatusError{StatusCode: http.StatusServiceUnavailable}
			},
		},
		catalog.Descriptor{
			Name: "block", Description: "Blocks until cancelled", Category: catalog.CategorySafe, Idempotent: true,
			Handler: func(ctx context.Context, _ catalog.Args) (interface{}, error) {
				h.started <- struct{}{}
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		catalog.Descriptor{
			Name: "pair", Description: "Succeeds once two calls overlap", Category: catalog.CategorySafe, Idempotent: true,
			Handler: func(ctx context.Context, _ catalog.Args) (interface{}, error) {
				h.pairStarted.Add(1)
				deadline := time.After(2 * time.Second)
				for h.pairStarted.Load() < 2 {
					select {
					case <-deadline:
						return map[string]interface{}{"overlapped": false}, nil
					case <-time.After(time.Millisecond):
					}
				}
				return map[string]interface{}{"overlapped": true}, nil
			},
		},
		catalog.Descriptor{
			Name: "slow", Description: "Sleeps briefly", Category: catalog.CategorySafe, Idempotent: true,
			Handler: func(context.Context, catalog.Args) (interface{}, error) {
				time.Sleep(20 * time.Millisecond)
				return "slow", nil
			},
		},
		catalog.Descriptor{
			Name: "delete_voice", Description: "Delete a voice", Category: catalog.CategoryDestructive, Idempotent: true,
			Params: []catalog.Param{{Name: "voice_id", Type: catalog.TypeString, Required: true}},
			Handler: func(context.Context, catalog.Args) (interface{}, error) {
				return map[string]interface{}{"status": "ok"}, nil
			},
		},
	).Build()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	caller := retry.NewCaller(retry.DefaultPolicy(), zerolog.Nop(), retry.WithClock(instantClock))
	return dispatch.New(c, policy.NewEngine(cfg, c), caller, dispatch.Options{Logger: zerolog.Nop()}), h
}

func initMessages() []map[string]any {
	return []map[string]any{
		{
			"jsonrpc": "2.0",
			"id":      0,
			"method":  "initialize",
			"params": map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]any{},
				"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
			},
		},
		{
			"jsonrpc": "2.0",
			"method":  "notifications/initialized",
		},
	}
}

func callMessage(id int, name string, args map[string]any) map[string]any {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	return map[string]any{"jsonrpc": "2.0", "id": id, "method": "tools/call", "params": params}
}

func encodeMessages(t *testing.T, messages ...map[string]any) []byte {
	t.Helper()
	var input bytes.Buffer
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal message: %v", err)
		}
		input.Write(data)
		input.WriteByte('\n')
	}
	return input.Bytes()
}

func parseResponses(t *testing.T, output []byte) []testResponse {
	t.Helper()
	var responses []testResponse
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp testResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("unmarshal response: %v\nraw: %s", err, line)
		}
		responses = append(responses, resp)
	}
	return responses
}

func mcpSession(t *testing.T, d Dispatcher, opts Options, raw []byte) []testResponse {
	t.Helper()
	var output bytes.Buffer
	server := New(d, opts)
	if err := server.Run(context.Background(), bytes.NewReader(raw), &output); err != nil {
		t.Fatalf("server.Run: %v", err)
	}
	if server.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", server.State())
	}
	return parseResponses(t, output.Bytes())
}

func byID(t *testing.T, responses []testResponse) map[string]testResponse {
	t.Helper()
	out := make(map[string]testResponse, len(responses))
	for _, r := range responses {
		out[string(r.ID)] = r
	}
	return out
}

func decodeCallResult(t *testing.T, raw json.RawMessage) toolsCallResult {
	t.Helper()
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal tools/call result: %v", err)
	}
	return result
}

func TestInitializeAndListAllowedTools(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Config{DisableDestructive: true})
	messages := append(initMessages(), map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	responses := mcpSession(t, d, Options{Version: "test"}, encodeMessages(t, messages...))

	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	var init initializeResult
	if err := json.Unmarshal(responses[0].Result, &init); err != nil {
		t.Fatalf("unmarshal initialize: %v", err)
	}
	if init.ProtocolVersion != protocolVersion || init.ServerInfo.Name != "elevenline" {
		t.Fatalf("unexpected initialize result %+v", init)
	}

	var list struct {
		Tools []struct {
			Name        string          `json:"name"`
			InputSchema map[string]any  `json:"inputSchema"`
			Annotations toolAnnotations `json:"annotations"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(responses[1].Result, &list); err != nil {
		t.Fatalf("unmarshal tools/list: %v", err)
	}
	for _, tool := range list.Tools {
		if tool.Name == "delete_voice" {
			t.Fatal("destructive tool must not be listed when disabled")
		}
		if tool.InputSchema["type"] != "object" {
			t.Fatalf("expected object schema for %s", tool.Name)
		}
		if tool.Annotations.ReadOnlyHint == nil || !*tool.Annotations.ReadOnlyHint {
			t.Fatalf("expected readOnlyHint for safe tool %s", tool.Name)
		}
	}
	if len(list.Tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(list.Tools))
	}
}

func TestToolsCallSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	messages := append(initMessages(), callMessage(1, "text_to_speech", map[string]any{"text": "hello"}))
	responses := mcpSession(t, d, Options{}, encodeMessages(t, messages...))

	result := decodeCallResult(t, responses[1].Result)
	if result.IsError {
		t.Fatalf("unexpected error result %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Text != `{"chars":5}` {
		t.Fatalf("unexpected content %+v", result.Content)
	}
	if result.StructuredContent == nil {
		t.Fatal("expected structured content for object payload")
	}
}

func TestToolsCallRejections(t *testing.T) {
	tests := []struct {
		name  string
		cfg   policy.Config
		msg   map[string]any
		kind  string
		rule  string
		param string
	}{
		{
			name: "unknown operation",
			cfg:  policy.Permissive(),
			msg:  callMessage(1, "nope", nil),
			kind: "not_found",
		},
		{
			name: "forbidden by read only",
			cfg:  policy.Config{ReadOnly: true},
			msg:  callMessage(1, "delete_voice", map[string]any{"voice_id": "v1"}),
			kind: "forbidden",
			rule: string(policy.RuleReadOnly),
		},
		{
			name:  "missing argument",
			cfg:   policy.Permissive(),
			msg:   callMessage(1, "text_to_speech", map[string]any{}),
			kind:  "invalid_arguments",
			param: "text",
		},
		{
			name: "arguments not an object",
			cfg:  policy.Permissive(),
			msg: map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/call",
				"params": map[string]any{"name": "text_to_speech", "arguments": []any{"x"}}},
			kind: "invalid_arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDispatcher(t, tt.cfg)
			messages := append(initMessages(), tt.msg)
			responses := mcpSession(t, d, Options{}, encodeMessages(t, messages...))
			resp := responses[1]
			if resp.Error == nil {
				t.Fatalf("expected error response, got %s", resp.Result)
			}
			if resp.Error.Code != codeInvalidParams {
				t.Fatalf("expected code %d, got %d", codeInvalidParams, resp.Error.Code)
			}
			if resp.Error.Data.Kind != tt.kind {
				t.Fatalf("expected kind %q, got %q", tt.kind, resp.Error.Data.Kind)
			}
			if resp.Error.Data.Rule != tt.rule {
				t.Fatalf("expected rule %q, got %q", tt.rule, resp.Error.Data.Rule)
			}
			if resp.Error.Data.Param != tt.param {
				t.Fatalf("expected param %q, got %q", tt.param, resp.Error.Data.Param)
			}
		})
	}
}

func TestRemoteFailureIsToolError(t *testing.T) {
	d, h := newTestDispatcher(t, policy.Permissive())
	messages := append(initMessages(), callMessage(1, "flaky", nil))
	responses := mcpSession(t, d, Options{}, encodeMessages(t, messages...))

	result := decodeCallResult(t, responses[1].Result)
	if !result.IsError || result.ErrorInfo == nil {
		t.Fatalf("expected tool error, got %+v", result)
	}
	if result.ErrorInfo.Kind != "transient" || !result.ErrorInfo.Retryable || result.ErrorInfo.Attempts != retry.MaxAttempts {
		t.Fatalf("unexpected error info %+v", result.ErrorInfo)
	}
	if h.flaky.Load() != retry.MaxAttempts {
		t.Fatalf("expected %d remote attempts, got %d", retry.MaxAttempts, h.flaky.Load())
	}
}

func TestMalformedInputKeepsSessionAlive(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	raw := append([]byte("{not json\n"), encodeMessages(t,
		map[string]any{"jsonrpc": "1.0", "id": 7, "method": "ping"},
		map[string]any{"jsonrpc": "2.0", "id": 8, "method": "ping"},
		map[string]any{"jsonrpc": "2.0", "id": 9, "method": "resources/list"},
	)...)
	responses := mcpSession(t, d, Options{}, raw)

	if len(responses) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != codeParseError || string(responses[0].ID) != "null" {
		t.Fatalf("expected parse error with null id, got %+v", responses[0])
	}
	if responses[1].Error == nil || responses[1].Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", responses[1])
	}
	if responses[2].Error != nil {
		t.Fatalf("expected ping to succeed, got %+v", responses[2].Error)
	}
	if responses[3].Error == nil || responses[3].Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", responses[3])
	}
}

func TestNotInitialized(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	responses := mcpSession(t, d, Options{}, encodeMessages(t,
		map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"},
		callMessage(2, "list_voices", nil),
	))
	for _, resp := range responses {
		if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
			t.Fatalf("expected not initialized error, got %+v", resp)
		}
	}
}

func TestShutdownStopsReading(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	messages := append(initMessages(),
		callMessage(1, "slow", nil),
		map[string]any{"jsonrpc": "2.0", "id": 2, "method": "shutdown"},
		map[string]any{"jsonrpc": "2.0", "id": 3, "method": "ping"},
	)
	responses := byID(t, mcpSession(t, d, Options{}, encodeMessages(t, messages...)))

	if _, ok := responses["3"]; ok {
		t.Fatal("expected no response after shutdown")
	}
	if _, ok := responses["2"]; !ok {
		t.Fatal("expected shutdown to be acknowledged")
	}
	slow, ok := responses["1"]
	if !ok {
		t.Fatal("expected in-flight call to be drained")
	}
	if result := decodeCallResult(t, slow.Result); result.IsError {
		t.Fatalf("expected drained call to succeed, got %+v", result)
	}
}

func TestConcurrentCallsOverlap(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	messages := append(initMessages(), callMessage(1, "pair", nil), callMessage(2, "pair", nil))
	responses := byID(t, mcpSession(t, d, Options{MaxConcurrent: 4}, encodeMessages(t, messages...)))

	for _, id := range []string{"1", "2"} {
		result := decodeCallResult(t, responses[id].Result)
		if result.Content[0].Text != `{"overlapped":true}` {
			t.Fatalf("expected call %s to overlap, got %s", id, result.Content[0].Text)
		}
	}
}

func TestSequentialModePreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	messages := append(initMessages(),
		callMessage(1, "slow", nil),
		map[string]any{"jsonrpc": "2.0", "id": 2, "method": "ping"},
		callMessage(3, "list_voices", nil),
	)
	responses := mcpSession(t, d, Options{MaxConcurrent: 1}, encodeMessages(t, messages...))

	var ids []string
	for _, r := range responses[1:] {
		ids = append(ids, string(r.ID))
	}
	if len(ids) != 3 || ids[0] != "1" || ids[1] != "2" || ids[2] != "3" {
		t.Fatalf("expected responses in request order, got %v", ids)
	}
}

// liveSession runs a server over pipes so a test can interleave writes
// with observations.
type liveSession struct {
	t         *testing.T
	server    *Server
	in        *io.PipeWriter
	responses chan testResponse
	done      chan error
}

func startLiveSession(t *testing.T, ctx context.Context, d Dispatcher, opts Options) *liveSession {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s := &liveSession{
		t:         t,
		server:    New(d, opts),
		in:        inW,
		responses: make(chan testResponse, 16),
		done:      make(chan error, 1),
	}
	go func() {
		err := s.server.Run(ctx, inR, outW)
		outW.Close()
		s.done <- err
	}()
	go func() {
		defer close(s.responses)
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			var resp testResponse
			if err := json.Unmarshal(scanner.Bytes(), &resp); err == nil {
				s.responses <- resp
			}
		}
	}()
	return s
}

func (s *liveSession) send(messages ...map[string]any) {
	s.t.Helper()
	if _, err := s.in.Write(encodeMessages(s.t, messages...)); err != nil {
		s.t.Fatalf("write input: %v", err)
	}
}

func (s *liveSession) next() testResponse {
	s.t.Helper()
	select {
	case resp, ok := <-s.responses:
		if !ok {
			s.t.Fatal("output closed")
		}
		return resp
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for response")
	}
	return testResponse{}
}

func TestContextCancellationDrainsInFlightCalls(t *testing.T) {
	d, h := newTestDispatcher(t, policy.Permissive())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := startLiveSession(t, ctx, d, Options{})

	s.send(initMessages()...)
	s.next()
	s.send(callMessage(1, "block", nil))
	<-h.started

	cancel()
	resp := s.next()
	result := decodeCallResult(t, resp.Result)
	if !result.IsError || result.ErrorInfo.Kind != "cancelled" {
		t.Fatalf("expected cancelled result, got %+v", result)
	}

	select {
	case err := <-s.done:
		if err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if s.server.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", s.server.State())
	}
	s.in.Close()
	for range s.responses {
	}
}

func TestCancelledNotificationCancelsCall(t *testing.T) {
	for _, maxConcurrent := range []int{DefaultMaxConcurrent, 1} {
		t.Run(fmt.Sprintf("max_concurrent=%d", maxConcurrent), func(t *testing.T) {
			testCancelledNotification(t, Options{MaxConcurrent: maxConcurrent})
		})
	}
}

func testCancelledNotification(t *testing.T, opts Options) {
	d, h := newTestDispatcher(t, policy.Permissive())
	s := startLiveSession(t, context.Background(), d, opts)

	s.send(initMessages()...)
	s.next()
	s.send(callMessage(5, "block", nil))
	<-h.started
	s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/cancelled",
		"params":  map[string]any{"requestId": 5, "reason": "user abort"},
	})

	resp := s.next()
	if string(resp.ID) != "5" {
		t.Fatalf("expected response to call 5, got %s", resp.ID)
	}
	if result := decodeCallResult(t, resp.Result); result.ErrorInfo == nil || result.ErrorInfo.Kind != "cancelled" {
		t.Fatalf("expected cancelled result, got %+v", result)
	}

	s.in.Close()
	if err := <-s.done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	for range s.responses {
	}
}

func TestSequentialCancelReachesQueuedCall(t *testing.T) {
	d, h := newTestDispatcher(t, policy.Permissive())
	s := startLiveSession(t, context.Background(), d, Options{MaxConcurrent: 1})

	s.send(initMessages()...)
	s.next()
	s.send(callMessage(1, "block", nil), callMessage(2, "block", nil))
	<-h.started
	s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/cancelled",
		"params":  map[string]any{"requestId": 2},
	})
	s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/cancelled",
		"params":  map[string]any{"requestId": 1},
	})

	for _, want := range []string{"1", "2"} {
		resp := s.next()
		if string(resp.ID) != want {
			t.Fatalf("expected response to call %s, got %s", want, resp.ID)
		}
		if result := decodeCallResult(t, resp.Result); result.ErrorInfo == nil || result.ErrorInfo.Kind != "cancelled" {
			t.Fatalf("expected cancelled result for %s, got %+v", want, result)
		}
	}

	s.in.Close()
	if err := <-s.done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	for range s.responses {
	}
}

func TestDuplicateInFlightIDRejected(t *testing.T) {
	d, h := newTestDispatcher(t, policy.Permissive())
	s := startLiveSession(t, context.Background(), d, Options{})

	s.send(initMessages()...)
	s.next()
	s.send(callMessage(4, "block", nil))
	<-h.started
	s.send(callMessage(4, "list_voices", nil))

	resp := s.next()
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest || string(resp.ID) != "4" {
		t.Fatalf("expected duplicate id rejection, got %+v", resp)
	}

	s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/cancelled",
		"params":  map[string]any{"requestId": 4},
	})
	resp = s.next()
	if result := decodeCallResult(t, resp.Result); result.ErrorInfo == nil || result.ErrorInfo.Kind != "cancelled" {
		t.Fatalf("expected original call to stay cancellable, got %+v", result)
	}

	s.in.Close()
	if err := <-s.done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	for range s.responses {
	}
}

func TestOversizedMessageKeepsSessionAlive(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	messages := append(initMessages(),
		callMessage(1, "text_to_speech", map[string]any{"text": strings.Repeat("a", 2*DefaultMaxMessageBytes)}),
		callMessage(2, "list_voices", nil),
	)
	responses := mcpSession(t, d, Options{}, encodeMessages(t, messages...))

	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}
	tooLong := responses[1]
	if tooLong.Error == nil || tooLong.Error.Code != codeInvalidRequest || string(tooLong.ID) != "null" {
		t.Fatalf("expected invalid request with null id, got %+v", tooLong)
	}
	if string(responses[2].ID) != "2" {
		t.Fatalf("expected list_voices response, got id %s", responses[2].ID)
	}
	if result := decodeCallResult(t, responses[2].Result); result.IsError {
		t.Fatalf("expected list_voices to succeed, got %+v", result)
	}
}

func TestMessageLimitIsConfigurable(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	raw := append([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping","padding":"`+strings.Repeat("x", 256)+`"}`+"\n"),
		encodeMessages(t, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "ping"})...)
	responses := mcpSession(t, d, Options{MaxMessageBytes: 128}, raw)

	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != codeInvalidRequest {
		t.Fatalf("expected oversized ping to be rejected, got %+v", responses[0])
	}
	if responses[1].Error != nil || string(responses[1].ID) != "2" {
		t.Fatalf("expected second ping to succeed, got %+v", responses[1])
	}
}

func TestRunTwiceFails(t *testing.T) {
	d, _ := newTestDispatcher(t, policy.Permissive())
	server := New(d, Options{})
	if err := server.Run(context.Background(), bytes.NewReader(nil), io.Discard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := server.Run(context.Background(), bytes.NewReader(nil), io.Discard); err == nil {
		t.Fatal("expected error on second run")
	}
}
