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

// Package dispatch routes named invocations through lookup, policy,
// argument validation and the resilient caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"elevenline/internal/catalog"
	apperrors "elevenline/internal/errors"
	"elevenline/internal/policy"
	"elevenline/internal/retry"
)

// Invocation is a request to run one named operation.
type Invocation struct {
	Operation string
	Arguments map[string]interface{}
}

// Result is the outcome of a successful invocation.
type Result struct {
	Operation string
	Payload   interface{}
	Attempts  int
}

// Error is the failure of an invocation. Kind is one of the error codes
// not_found, forbidden, invalid_arguments, transient, terminal, cancelled.
type Error struct {
	Kind      apperrors.Code
	Operation string
	Message   string
	Param     string
	Rule      policy.Rule
	Category  catalog.Category
	Attempts  int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the error kind.
func (e *Error) Code() apperrors.Code {
	return e.Kind
}

// Recorder observes completed invocations.
type Recorder interface {
	ObserveDispatch(operation string, kind apperrors.Code, elapsed time.Duration)
}

// Options configure a Dispatcher.
type Options struct {
	Timeouts TimeoutConfig
	Recorder Recorder
	Logger   zerolog.Logger
}

// Dispatcher is stateless apart from its immutable collaborators and safe
// for concurrent use.
type Dispatcher struct {
	catalog  *catalog.Catalog
	engine   *policy.Engine
	caller   *retry.Caller
	timeouts TimeoutConfig
	recorder Recorder
	logger   zerolog.Logger
}

// New creates a Dispatcher.
func New(c *catalog.Catalog, engine *policy.Engine, caller *retry.Caller, opts Options) *Dispatcher {
	return &Dispatcher{
		catalog:  c,
		engine:   engine,
		caller:   caller,
		timeouts: opts.Timeouts,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
}

// Catalog returns the full catalog, including operations the policy denies.
func (d *Dispatcher) Catalog() *catalog.Catalog {
	return d.catalog
}

// Allowed returns the operations the session may invoke, in catalog order.
func (d *Dispatcher) Allowed() []catalog.Descriptor {
	return d.engine.Allowed()
}

// Dispatch runs one invocation. Cheap checks run first so that unknown,
// forbidden or malformed invocations never reach the remote service.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) (*Result, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, inv)

	kind := apperrors.Code("ok")
	var dispatchErr *Error
	if errors.As(err, &dispatchErr) {
		kind = dispatchErr.Kind
	}
	if d.recorder != nil {
		d.recorder.ObserveDispatch(inv.Operation, kind, time.Since(start))
	}

	event := d.logger.Debug()
	if err != nil {
		event = d.logger.Info().Err(err)
	}
	event.Str("operation", inv.Operation).Str("outcome", string(kind)).Dur("elapsed", time.Since(start)).Msg("dispatch")
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, inv Invocation) (*Result, error) {
	desc, ok := d.catalog.Lookup(inv.Operation)
	if !ok {
		return nil, &Error{
			Kind:      apperrors.CodeNotFound,
			Operation: inv.Operation,
			Message:   "unknown operation",
		}
	}

	decision := d.engine.Check(desc)
	if !decision.Allowed {
		return nil, &Error{
			Kind:      apperrors.CodeForbidden,
			Operation: desc.Name,
			Message:   decision.Reason(),
			Rule:      decision.Rule,
			Category:  decision.Category,
		}
	}

	args, err := ValidateArguments(desc, inv.Arguments)
	if err != nil {
		return nil, invalidArguments(desc.Name, err)
	}
	if desc.Validate != nil {
		if err := desc.Validate(args); err != nil {
			return nil, invalidArguments(desc.Name, err)
		}
	}

	opts := retry.Options{
		Operation:      desc.Name,
		Idempotent:     desc.Idempotent,
		AttemptTimeout: d.timeouts.TimeoutFor(desc.Name),
	}
	payload, attempts, err := retry.Do(ctx, d.caller, opts, func(ctx context.Context) (payload interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.Newf(apperrors.CodeInternal, "operation panicked: %v", r)
			}
		}()
		return desc.Handler(ctx, args)
	})
	if err != nil {
		return nil, callFailure(desc, err)
	}
	return &Result{Operation: desc.Name, Payload: payload, Attempts: attempts}, nil
}

func invalidArguments(operation string, err error) *Error {
	return &Error{
		Kind:      apperrors.CodeInvalidArguments,
		Operation: operation,
		Message:   "invalid arguments",
		Param:     apperrors.ParamOf(err),
		Err:       err,
	}
}

func callFailure(desc catalog.Descriptor, err error) *Error {
	var callErr *retry.CallError
	if !errors.As(err, &callErr) {
		return &Error{Kind: apperrors.CodeTerminal, Operation: desc.Name, Message: "call failed", Err: err}
	}

	out := &Error{
		Operation: desc.Name,
		Category:  desc.Category,
		Attempts:  callErr.Attempts,
		Retryable: callErr.Retryable,
		Err:       callErr.Err,
	}
	switch callErr.Kind {
	case retry.KindCancelled:
		out.Kind = apperrors.CodeCancelled
		out.Message = "cancelled"
	case retry.KindTransient:
		out.Kind = apperrors.CodeTransient
		out.Message = fmt.Sprintf("transient failure after %d attempt(s)", callErr.Attempts)
	default:
		if apperrors.HasCode(callErr.Err, apperrors.CodeInvalidArguments) {
			inv := invalidArguments(desc.Name, callErr.Err)
			inv.Attempts = callErr.Attempts
			return inv
		}
		out.Kind = apperrors.CodeTerminal
		out.Message = "request failed"
	}
	return out
}

// KindOf returns the dispatch error kind of err, or "" for other errors.
func KindOf(err error) apperrors.Code {
	var dispatchErr *Error
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Kind
	}
	return ""
}
