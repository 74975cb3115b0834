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

// Package elevenlabs is a thin HTTP client for the ElevenLabs API. It maps
// failures onto the error classes understood by the retry package and
// performs no retries itself.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "elevenline/internal/errors"
	"elevenline/internal/retry"
)

const (
	DefaultBaseURL        = "https://api.elevenlabs.io"
	DefaultTimeout        = 300 * time.Second
	DefaultConnectTimeout = 30 * time.Second

	apiKeyHeader    = "xi-api-key"
	requestIDHeader = "X-Request-Id"
	userAgent       = "elevenline"
	maxErrorBody    = 64 * 1024
)

// ErrMissingAPIKey is returned when no credential is configured.
var ErrMissingAPIKey = apperrors.New(apperrors.CodeConfig, "API key is required (set ELEVENLABS_API_KEY or use --api-key)")

// Options configure a Client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// MaxErrorChars truncates remote error messages.
	MaxErrorChars int
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// Client talks to the ElevenLabs HTTP API. It is safe for concurrent use.
type Client struct {
	apiKey        string
	baseURL       *url.URL
	http          *http.Client
	limiter       *rate.Limiter
	maxErrorChars int
	logger        zerolog.Logger
}

// NewClient validates opts and builds a client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, apperrors.Newf(apperrors.CodeConfig, "invalid API URL %q", base)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: DefaultConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout: DefaultConnectTimeout,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	maxChars := opts.MaxErrorChars
	if maxChars <= 0 {
		maxChars = defaultMaxErrorChars
	}

	return &Client{
		apiKey:        opts.APIKey,
		baseURL:       parsed,
		http:          httpClient,
		limiter:       limiter,
		maxErrorChars: maxChars,
		logger:        opts.Logger,
	}, nil
}

// APIKey returns the configured credential.
func (c *Client) APIKey() string {
	return c.apiKey
}

// BaseURL returns the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Part is one file of a multipart upload.
type Part struct {
	Field    string
	FileName string
	Data     []byte
}

// Field is one text field of a multipart upload.
type Field struct {
	Name  string
	Value string
}

// Multipart is a multipart/form-data request body.
type Multipart struct {
	Fields []Field
	Files  []Part
}

// Request describes one API call. Path is relative to the API root and
// must already be escaped.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	JSON      interface{}
	Multipart *Multipart
	Accept    string
}

// Response is a fully read API response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Do performs req and returns the response for 2xx statuses. Failures are
// *retry.StatusError or *retry.TransportError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArguments, "encode request", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, &retry.TransportError{Err: ctx.Err()}
			}
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var delivered atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				delivered.Store(true)
			}
		},
	}

	endpoint := c.endpoint(req.Path, req.Query)
	httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), req.Method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "build request", err)
	}
	httpReq.Header.Set(apiKeyHeader, c.apiKey)
	httpReq.Header.Set("User-Agent", userAgent)
	requestID := uuid.NewString()
	httpReq.Header.Set(requestIDHeader, requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug().Str("method", req.Method).Str("path", req.Path).Str("request_id", requestID).Err(err).Msg("request failed")
		return nil, &retry.TransportError{Err: err, Delivered: delivered.Load()}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &retry.StatusError{
			StatusCode: resp.StatusCode,
			Message:    c.errorMessage(raw),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retry.TransportError{Err: fmt.Errorf("read response body: %w", err), Delivered: true}
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// JSON performs req and decodes a JSON response into out. An empty body
// leaves out untouched.
func (c *Client) JSON(ctx context.Context, req Request, out interface{}) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &retry.DecodeError{Err: err}
	}
	return nil
}

// Value performs req and decodes any JSON response into a generic value.
// Successful empty responses yield a {"status":"ok"} object.
func (c *Client) Value(ctx context.Context, req Request) (interface{}, error) {
	var out interface{}
	if err := c.JSON(ctx, req, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]interface{}{"status": "ok"}, nil
	}
	return out, nil
}

// Bytes performs req and returns the raw response body, typically audio.
func (c *Client) Bytes(ctx context.Context, req Request) ([]byte, string, error) {
	if req.Accept == "" {
		req.Accept = "*/*"
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.ContentType, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	if unescaped, err := url.PathUnescape(u.Path); err == nil && unescaped != u.Path {
		u.RawPath = u.Path
		u.Path = unescaped
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Multipart != nil:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, f := range req.Multipart.Fields {
			if err := w.WriteField(f.Name, f.Value); err != nil {
				return nil, "", err
			}
		}
		for _, p := range req.Multipart.Files {
			fw, err := w.CreateFormFile(p.Field, p.FileName)
			if err != nil {
				return nil, "", err
			}
			if _, err := fw.Write(p.Data); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), w.FormDataContentType(), nil
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
	return nil, "", nil
}

// errorMessage extracts the human readable part of an API error body.
func (c *Client) errorMessage(raw []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &envelope); err == nil {
		for _, field := range []json.RawMessage{envelope.Detail, envelope.Error} {
			if text := detailText(field); text != "" {
				msg = text
				break
			}
		}
	}
	sanitized, _ := sanitizeText(msg, c.maxErrorChars)
	return sanitized
}

func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Status != "" {
			return obj.Status + ": " + obj.Message
		}
		return obj.Message
	}
	var list []struct {
		Msg string        `json:"msg"`
		Loc []interface{} `json:"loc"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item.Msg == "" {
				continue
			}
			if len(item.Loc) > 0 {
				parts = append(parts, fmt.Sprintf("%v: %s", item.Loc[len(item.Loc)-1], item.Msg))
			} else {
				parts = append(parts, item.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// Guidance returns a hint for common credential and quota failures, or ""
// when err has none.
func Guidance(err error) string {
	if errors.Is(err, ErrMissingAPIKey) {
		return "Get an API key at https://elevenlabs.io/app/settings/api-keys and export it as ELEVENLABS_API_KEY."
	}
	var status *retry.StatusError
	if !errors.As(err, &status) {
		return ""
	}
	switch status.StatusCode {
	case http.StatusUnauthorized:
		return "Your API key may be invalid or expired. Get a new key from https://elevenlabs.io/app/settings/api-keys."
	case http.StatusForbidden:
		return "Your API key lacks permission for this feature. Check your subscription tier at https://elevenlabs.io/app/settings."
	case http.StatusNotFound:
		return "The requested resource does not exist or has been deleted."
	case http.StatusTooManyRequests:
		return "Too many requests. Wait a moment and try again."
	}
	return ""
}
