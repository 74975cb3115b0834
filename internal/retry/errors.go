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

package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError reports a non-success HTTP status from the remote service.
type StatusError struct {
	StatusCode int
	Message    string
	// RetryAfter is the server supplied minimum delay, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.StatusCode)
	if e.Message == "" {
		return fmt.Sprintf("remote returned %d %s", e.StatusCode, text)
	}
	return fmt.Sprintf("remote returned %d %s: %s", e.StatusCode, text, e.Message)
}

// TransportError reports a failure below HTTP: connection refused or
// reset, DNS failure, timeout. Delivered is false when the request was
// never fully written, which makes a retry safe for any operation.
type TransportError struct {
	Err       error
	Delivered bool
}

func (e *TransportError) Error() string {
	if e.Delivered {
		return fmt.Sprintf("transport error after request was sent: %v", e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err belongs to a class that may succeed on a
// later attempt: 5xx, 429 and transport failures.
func Retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var decode *DecodeError
	if errors.As(err, &decode) {
		return false
	}
	// An attempt timeout without a transport wrapper is treated like a
	// timeout on the wire.
	return errors.Is(err, context.DeadlineExceeded)
}

// Undelivered reports whether err is a transport failure that happened
// before the request reached the remote service.
func Undelivered(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport) && !transport.Delivered
}

// RetryAfterOf returns the server supplied delay carried by a 429 error.
func RetryAfterOf(err error) time.Duration {
	var status *StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusTooManyRequests {
		return status.RetryAfter
	}
	return 0
}

// ParseRetryAfter decodes a Retry-After header holding either delta
// seconds or an HTTP date. Invalid or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := when.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
