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

// Package toolserver serves catalog operations to agents over
// newline-delimited JSON-RPC 2.0 (the Model Context Protocol stdio
// transport).
package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"elevenline/internal/catalog"
	"elevenline/internal/dispatch"
	apperrors "elevenline/internal/errors"
)

// DefaultMaxConcurrent bounds the tool calls processed at once.
const DefaultMaxConcurrent = 4

// DefaultMaxMessageBytes bounds a single inbound message. Tool arguments
// can carry long texts.
const DefaultMaxMessageBytes = 1024 * 1024

// State is the lifecycle state of a Server.
type State int32

const (
	StateIdle State = iota
	StateServing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dispatcher runs invocations and lists the operations a session may call.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv dispatch.Invocation) (*dispatch.Result, error)
	Allowed() []catalog.Descriptor
}

// Options configure a Server.
type Options struct {
	Name    string
	Version string
	// MaxConcurrent bounds concurrently processed tool calls. 1 processes
	// every message strictly in arrival order.
	MaxConcurrent int
	// MaxMessageBytes bounds one inbound line. Longer messages are
	// answered with an invalid request error and skipped.
	MaxMessageBytes int
	Instructions    string
	Logger          zerolog.Logger
}

// Server is a single-session MCP tool server.
type Server struct {
	dispatcher Dispatcher
	opts       Options
	logger     zerolog.Logger

	state       atomic.Int32
	initialized atomic.Bool

	writeMu  sync.Mutex
	encoder  *json.Encoder
	writeErr error

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc

	slots *semaphore.Weighted
	// tail is closed once the last message queued in sequential mode has
	// been handled. Only the read loop touches it.
	tail chan struct{}
}

// New creates a server for one session.
func New(d Dispatcher, opts Options) *Server {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.Name == "" {
		opts.Name = "elevenline"
	}
	return &Server{
		dispatcher: d,
		opts:       opts,
		logger:     opts.Logger.With().Str("session", uuid.NewString()).Logger(),
		inflight:   make(map[string]context.CancelFunc),
		slots:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Run serves the session until input reaches EOF, the client sends
// shutdown, or ctx is cancelled. In every case the server stops reading,
// waits for in-flight calls and then returns. Cancelling ctx also cancels
// the in-flight calls, abandoning any pending retry.
func (s *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateServing)) {
		return fmt.Errorf("server already started")
	}
	s.encoder = json.NewEncoder(output)
	s.logger.Info().Int("max_concurrent", s.opts.MaxConcurrent).Msg("tool server serving")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	messages := make(chan inbound)
	readErr := make(chan error, 1)
	go readMessages(readCtx, input, s.opts.MaxMessageBytes, messages, readErr)

	// The group only tracks call goroutines; slots bounds them so the
	// read loop never blocks and can always observe cancellations.
	var group errgroup.Group

	var inputErr error
loop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session cancelled")
			break loop
		case msg, ok := <-messages:
			if !ok {
				inputErr = <-readErr
				s.logger.Info().Msg("input closed")
				break loop
			}
			if msg.tooLong {
				s.logger.Warn().Int("limit", s.opts.MaxMessageBytes).Msg("message too long")
				s.inOrder(&group, func() {
					s.writeError(json.RawMessage("null"), codeInvalidRequest,
						fmt.Sprintf("message exceeds %d bytes", s.opts.MaxMessageBytes), nil)
				})
				continue
			}
			if stop := s.handleLine(ctx, &group, msg.line); stop {
				s.logger.Info().Msg("shutdown requested")
				break loop
			}
			if s.failedWrite() != nil {
				break loop
			}
		}
	}

	s.state.Store(int32(StateDraining))
	stopReading()
	_ = group.Wait()
	s.state.Store(int32(StateStopped))
	s.logger.Info().Msg("tool server stopped")

	if err := s.failedWrite(); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	if inputErr != nil {
		return fmt.Errorf("reading input: %w", inputErr)
	}
	return nil
}

// inbound is one newline-delimited message, or the marker for a message
// that exceeded the size limit and was discarded.
type inbound struct {
	line    []byte
	tooLong bool
}

func readMessages(ctx context.Context, input io.Reader, limit int, out chan<- inbound, readErr chan<- error) {
	defer close(out)
	reader := bufio.NewReaderSize(input, 64*1024)
	var buf []byte
	overflow := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if !overflow {
			if len(buf)+len(chunk) > limit {
				overflow = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		var msg inbound
		send := overflow
		if overflow {
			msg.tooLong = true
		} else if line := bytes.TrimSpace(buf); len(line) > 0 {
			msg.line = append([]byte(nil), line...)
			send = true
		}
		buf = buf[:0]
		overflow = false

		if send {
			select {
			case out <- msg:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			readErr <- err
			return
		}
	}
}

// inOrder runs fn after every message queued before it when the server is
// strictly sequential, and inline otherwise.
func (s *Server) inOrder(group *errgroup.Group, fn func()) {
	if s.opts.MaxConcurrent != 1 {
		fn()
		return
	}
	prev, done := s.tail, make(chan struct{})
	s.tail = done
	group.Go(func() error {
		defer close(done)
		if prev != nil {
			<-prev
		}
		fn()
		return nil
	})
}

// handleLine processes one message and reports whether the session should
// stop reading.
func (s *Server) handleLine(ctx context.Context, group *errgroup.Group, line []byte) bool {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.inOrder(group, func() {
			s.writeError(json.RawMessage("null"), codeParseError, "parse error: "+err.Error(), nil)
		})
		return false
	}

	if req.JSONRPC != "2.0" {
		if !req.isNotification() {
			s.inOrder(group, func() {
				s.writeError(req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
			})
		}
		return false
	}

	// Notifications are handled on the read loop so a cancellation reaches
	// a running call even in sequential mode.
	if req.isNotification() {
		s.handleNotification(&req)
		return false
	}

	switch req.Method {
	case "shutdown":
		if s.tail != nil {
			<-s.tail
		}
		s.writeResult(req.ID, map[string]any{})
		return true
	case "tools/call":
		s.startToolsCall(ctx, group, &req)
	default:
		s.inOrder(group, func() { s.handleRequest(&req) })
	}
	return false
}

func (s *Server) handleRequest(req *request) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "ping":
		s.writeResult(req.ID, map[string]any{})
	case "tools/list":
		if !s.initialized.Load() {
			s.writeError(req.ID, codeInvalidRequest, "server not initialized (call initialize first)", nil)
			return
		}
		s.handleToolsList(req)
	default:
		s.writeError(req.ID, codeMethodNotFound, "unknown method: "+req.Method, nil)
	}
}

// startToolsCall registers the call for cancellation and runs it on a
// worker. Calls with an id that is already in flight are rejected.
func (s *Server) startToolsCall(ctx context.Context, group *errgroup.Group, req *request) {
	callCtx, release, ok := s.track(ctx, req.ID)
	if !ok {
		s.inOrder(group, func() {
			s.writeError(req.ID, codeInvalidRequest, "request id already in flight: "+string(req.ID), nil)
		})
		return
	}
	if s.opts.MaxConcurrent == 1 {
		s.inOrder(group, func() {
			defer release()
			s.handleToolsCall(callCtx, req)
		})
		return
	}
	group.Go(func() error {
		defer release()
		// A failed acquire means the call was cancelled while queued; the
		// dispatcher reports that as a cancelled result.
		if err := s.slots.Acquire(callCtx, 1); err == nil {
			defer s.slots.Release(1)
		}
		s.handleToolsCall(callCtx, req)
		return nil
	})
}

func (s *Server) track(ctx context.Context, id json.RawMessage) (context.Context, func(), bool) {
	key := string(id)
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, dup := s.inflight[key]; dup {
		return nil, nil, false
	}
	callCtx, cancel := context.WithCancel(ctx)
	s.inflight[key] = cancel
	return callCtx, func() {
		s.inflightMu.Lock()
		delete(s.inflight, key)
		s.inflightMu.Unlock()
		cancel()
	}, true
}

func (s *Server) handleNotification(req *request) {
	switch req.Method {
	case "notifications/cancelled":
		var params cancelledParams
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params.RequestID) == 0 {
			return
		}
		key := string(params.RequestID)
		s.inflightMu.Lock()
		cancel, ok := s.inflight[key]
		s.inflightMu.Unlock()
		if ok {
			s.logger.Debug().Str("id", key).Str("reason", params.Reason).Msg("cancelling call")
			cancel()
		}
	default:
		// notifications/initialized and unknown notifications need no action.
	}
}

func (s *Server) handleInitialize(req *request) {
	if len(req.Params) == 0 {
		s.writeError(req.ID, codeInvalidParams, "params required for initialize", nil)
		return
	}
	var params initializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, codeInvalidParams, "invalid initialize params: "+err.Error(), nil)
		return
	}
	s.initialized.Store(true)
	s.logger.Info().
		Str("client", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Str("protocol", params.ProtocolVersion).
		Msg("client initialized")

	s.writeResult(req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    serverCapabilities{Tools: &toolCapability{}},
		ServerInfo:      serverInfo{Name: s.opts.Name, Version: s.opts.Version},
		Instructions:    s.opts.Instructions,
	})
}

func (s *Server) handleToolsList(req *request) {
	allowed := s.dispatcher.Allowed()
	descriptions := make([]toolDescription, 0, len(allowed))
	for _, d := range allowed {
		descriptions = append(descriptions, toolDescription{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema(),
			Annotations: annotationsFor(d),
		})
	}
	s.writeResult(req.ID, toolsListResult{Tools: descriptions})
}

func annotationsFor(d catalog.Descriptor) *toolAnnotations {
	return &toolAnnotations{
		ReadOnlyHint:    boolPtr(d.Category == catalog.CategorySafe),
		DestructiveHint: boolPtr(d.Category == catalog.CategoryDestructive),
		IdempotentHint:  boolPtr(d.Idempotent),
		OpenWorldHint:   boolPtr(true),
	}
}

func boolPtr(value bool) *bool {
	return &value
}

func (s *Server) handleToolsCall(ctx context.Context, req *request) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("tools/call panicked")
			s.writeError(req.ID, codeInternalError, fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	if !s.initialized.Load() {
		s.writeError(req.ID, codeInvalidRequest, "server not initialized (call initialize first)", nil)
		return
	}
	if len(req.Params) == 0 {
		s.writeError(req.ID, codeInvalidParams, "params required for tools/call", nil)
		return
	}
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error(), nil)
		return
	}
	args := map[string]interface{}{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			s.writeError(req.ID, codeInvalidParams, "tool arguments must be a JSON object", &rejection{
				Kind:    string(apperrors.CodeInvalidArguments),
				Message: err.Error(),
			})
			return
		}
	}

	res, err := s.dispatcher.Dispatch(ctx, dispatch.Invocation{Operation: params.Name, Arguments: args})
	if err != nil {
		s.writeCallFailure(req.ID, err)
		return
	}
	s.writeResult(req.ID, successResult(res))
}

func (s *Server) writeCallFailure(id json.RawMessage, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		s.writeResult(id, toolsCallResult{
			Content:   []contentBlock{{Type: "text", Text: err.Error()}},
			IsError:   true,
			ErrorInfo: &errorInfo{Kind: string(apperrors.CodeTerminal)},
		})
		return
	}

	switch de.Kind {
	case apperrors.CodeNotFound, apperrors.CodeForbidden, apperrors.CodeInvalidArguments:
		message := de.Message
		if de.Err != nil {
			message = de.Err.Error()
		}
		s.writeError(id, codeInvalidParams, de.Error(), &rejection{
			Kind:     string(de.Kind),
			Message:  message,
			Rule:     string(de.Rule),
			Category: string(de.Category),
			Param:    de.Param,
		})
	default:
		s.writeResult(id, toolsCallResult{
			Content: []contentBlock{{Type: "text", Text: de.Error()}},
			IsError: true,
			ErrorInfo: &errorInfo{
				Kind:      string(de.Kind),
				Retryable: de.Retryable,
				Attempts:  de.Attempts,
			},
		})
	}
}

func successResult(res *dispatch.Result) toolsCallResult {
	data, err := json.Marshal(res.Payload)
	if err != nil {
		return toolsCallResult{
			Content:   []contentBlock{{Type: "text", Text: "encode result: " + err.Error()}},
			IsError:   true,
			ErrorInfo: &errorInfo{Kind: string(apperrors.CodeTerminal), Attempts: res.Attempts},
		}
	}
	result := toolsCallResult{Content: []contentBlock{{Type: "text", Text: string(data)}}}
	if _, ok := res.Payload.(map[string]interface{}); ok {
		result.StructuredContent = res.Payload
	}
	return result
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	s.write(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, message string, data *rejection) {
	rpcErr := &rpcError{Code: code, Message: message}
	if data != nil {
		rpcErr.Data = data
	}
	s.write(response{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

func (s *Server) write(resp response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeErr != nil {
		return
	}
	if err := s.encoder.Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("write response")
		s.writeErr = err
	}
}

func (s *Server) failedWrite() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeErr
}
