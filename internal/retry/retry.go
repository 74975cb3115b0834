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

// Package retry wraps remote calls in a bounded, idempotency aware retry
// loop with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// MaxAttempts bounds the number of attempts of a single call.
const MaxAttempts = 3

// Kind classifies the final outcome of a failed call.
type Kind string

const (
	KindTransient Kind = "transient"
	KindTerminal  Kind = "terminal"
	KindCancelled Kind = "cancelled"
)

// Policy configures the backoff schedule.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxTotalWait caps the accumulated sleep of one call. Zero disables
	// the cap.
	MaxTotalWait time.Duration
	// Jitter adds up to this fraction of the exponential delay. It is
	// clamped to [0, 1) so that delays never decrease.
	Jitter float64
}

// DefaultPolicy returns the backoff schedule used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		MaxTotalWait: 20 * time.Second,
		Jitter:       0.2,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxTotalWait < 0 {
		p.MaxTotalWait = 0
	}
	if p.Jitter < 0 || math.IsNaN(p.Jitter) {
		p.Jitter = 0
	}
	if p.Jitter >= 1 {
		p.Jitter = 0.99
	}
	return p
}

// Delay returns the backoff after the given failed attempt (1 based), with
// r in [0, 1) selecting the jitter.
func (p Policy) Delay(attempt int, r float64) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = math.Nextafter(1, 0)
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)) * (1 + p.Jitter*r)
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Recorder observes attempts. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveAttempt(operation string, attempt int, err error, elapsed time.Duration)
	ObserveBackoff(operation string, delay time.Duration)
}

// Options describe one call.
type Options struct {
	Operation  string
	Idempotent bool
	// AttemptTimeout bounds each attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
}

// CallError is returned when a call does not succeed.
type CallError struct {
	Operation string
	Kind      Kind
	Attempts  int
	Retryable bool
	// Err is the last failure observed, unmodified.
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s failure after %d attempt(s): %v", e.Operation, e.Kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Caller runs actions under a retry policy. It holds no per-call state and
// is safe for concurrent use.
type Caller struct {
	policy   Policy
	logger   zerolog.Logger
	recorder Recorder
	after    func(time.Duration) <-chan time.Time
	random   func() float64
}

// CallerOption customizes a Caller.
type CallerOption func(*Caller)

// WithRecorder attaches an attempt observer.
func WithRecorder(r Recorder) CallerOption {
	return func(c *Caller) { c.recorder = r }
}

// WithClock replaces the timer used between attempts.
func WithClock(after func(time.Duration) <-chan time.Time) CallerOption {
	return func(c *Caller) { c.after = after }
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) CallerOption {
	return func(c *Caller) { c.random = fn }
}

// NewCaller creates a Caller.
func NewCaller(policy Policy, logger zerolog.Logger, opts ...CallerOption) *Caller {
	c := &Caller{
		policy: policy.normalized(),
		logger: logger,
		after:  time.After,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the normalized policy.
func (c *Caller) Policy() Policy {
	return c.policy
}

// Do runs action until it succeeds, fails terminally, exhausts MaxAttempts
// or the total wait budget, or ctx is cancelled. It returns the number of
// attempts made. Non idempotent actions are retried only when the failed
// request never reached the remote service.
func Do[T any](ctx context.Context, c *Caller, opts Options, action func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	var waited, previous time.Duration
	log := c.logger.With().Str("operation", opts.Operation).Logger()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, &CallError{Operation: opts.Operation, Kind: KindCancelled, Attempts: attempt - 1, Err: err}
		}

		start := time.Now()
		value, err := runAttempt(ctx, opts.AttemptTimeout, action)
		elapsed := time.Since(start)
		if c.recorder != nil {
			c.recorder.ObserveAttempt(opts.Operation, attempt, err, elapsed)
		}
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("call succeeded after retry")
			}
			return value, attempt, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Debug().Int("attempt", attempt).Err(err).Msg("call cancelled")
			return zero, attempt, &CallError{Operation: opts.Operation, Kind: KindCancelled, Attempts: attempt, Err: ctxErr}
		}

		retryable := Retryable(err)
		fail := func() (T, int, error) {
			kind := KindTerminal
			if retryable {
				kind = KindTransient
			}
			return zero, attempt, &CallError{Operation: opts.Operation, Kind: kind, Attempts: attempt, Retryable: retryable, Err: err}
		}

		if !retryable {
			log.Debug().Int("attempt", attempt).Err(err).Msg("terminal failure")
			return fail()
		}
		if !opts.Idempotent && !Undelivered(err) {
			log.Warn().Int("attempt", attempt).Err(err).Msg("not retrying non-idempotent call")
			return fail()
		}
		if attempt >= MaxAttempts {
			log.Warn().Int("attempt", attempt).Err(err).Msg("retries exhausted")
			return fail()
		}

		delay := c.policy.Delay(attempt, c.random())
		if ra := RetryAfterOf(err); ra > delay {
			delay = ra
		}
		// A Retry-After hint raises the floor for every later wait.
		delay = max(delay, previous)
		if c.policy.MaxTotalWait > 0 && waited+delay > c.policy.MaxTotalWait {
			log.Warn().Int("attempt", attempt).Dur("delay", delay).Dur("waited", waited).Err(err).Msg("retry budget exhausted")
			return fail()
		}

		log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("transient failure, retrying")
		if c.recorder != nil {
			c.recorder.ObserveBackoff(opts.Operation, delay)
		}
		select {
		case <-ctx.Done():
			return zero, attempt, &CallError{Operation: opts.Operation, Kind: KindCancelled, Attempts: attempt, Err: ctx.Err()}
		case <-c.after(delay):
		}
		waited += delay
		previous = delay
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, action func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return action(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return action(attemptCtx)
}
