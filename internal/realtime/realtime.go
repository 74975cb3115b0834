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

// Package realtime streams speech over the ElevenLabs text-to-speech
// WebSocket, sending text incrementally and receiving audio as it is
// generated.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	apperrors "elevenline/internal/errors"
	"elevenline/internal/elevenlabs"
	"elevenline/internal/retry"
)

const (
	apiKeyHeader   = "xi-api-key"
	readLimit      = 4 << 20
	dialTimeout    = 30 * time.Second
	maxChunkChars  = 250
	closeReasonEnd = "done"
)

// Options configure a Client.
type Options struct {
	APIKey  string
	BaseURL string
	Logger  zerolog.Logger
}

// Client opens streaming sessions.
type Client struct {
	apiKey string
	base   *url.URL
	logger zerolog.Logger
}

// NewClient validates opts and returns a Client. The https or http scheme
// of BaseURL is mapped to wss or ws.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, elevenlabs.ErrMissingAPIKey
	}
	base := opts.BaseURL
	if base == "" {
		base = elevenlabs.DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, apperrors.Newf(apperrors.CodeConfig, "invalid API URL %q", base)
	}
	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	case "http", "ws":
		parsed.Scheme = "ws"
	default:
		return nil, apperrors.Newf(apperrors.CodeConfig, "unsupported URL scheme %q", parsed.Scheme)
	}
	return &Client{apiKey: opts.APIKey, base: parsed, logger: opts.Logger}, nil
}

// Request describes one streaming synthesis.
type Request struct {
	VoiceID      string
	ModelID      string
	OutputFormat string
	Text         string
	// VoiceSettings are sent with the first message when non-empty.
	VoiceSettings map[string]interface{}
}

// Stats summarises a finished stream.
type Stats struct {
	Chunks     int
	Bytes      int
	FirstAudio time.Duration
}

type textMessage struct {
	Text          string                 `json:"text"`
	VoiceSettings map[string]interface{} `json:"voice_settings,omitempty"`
	Flush         bool                   `json:"flush,omitempty"`
}

type serverMessage struct {
	Audio         *string         `json:"audio"`
	IsFinal       *bool           `json:"isFinal"`
	IsFinalLegacy *bool           `json:"is_final"`
	Error         json.RawMessage `json:"error"`
	Message       string          `json:"message"`
}

func (m serverMessage) final() bool {
	return (m.IsFinal != nil && *m.IsFinal) || (m.IsFinalLegacy != nil && *m.IsFinalLegacy)
}

func (c *Client) endpoint(req Request) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID) + "/stream-input"
	q := url.Values{}
	if req.ModelID != "" {
		q.Set("model_id", req.ModelID)
	}
	if req.OutputFormat != "" {
		q.Set("output_format", req.OutputFormat)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Stream sends the text of req in chunks and calls onAudio for every audio
// fragment in arrival order. It returns once the server marks the stream
// final or closes the connection.
func (c *Client) Stream(ctx context.Context, req Request, onAudio func([]byte) error) (Stats, error) {
	var stats Stats
	if strings.TrimSpace(req.Text) == "" {
		return stats, apperrors.InvalidArgument("text", "must not be empty")
	}
	if req.VoiceID == "" {
		return stats, apperrors.InvalidArgument("voice", "must not be empty")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, c.endpoint(req), &websocket.DialOptions{
		HTTPHeader: http.Header{apiKeyHeader: []string{c.apiKey}},
	})
	cancel()
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return stats, &retry.StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return stats, &retry.TransportError{Err: fmt.Errorf("websocket dial: %w", err)}
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	start := time.Now()
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- c.send(ctx, conn, req)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			if sendFailure := drain(sendErr); sendFailure != nil {
				return stats, sendFailure
			}
			return stats, fmt.Errorf("read: %w", err)
		}

		var audio []byte
		final := false
		switch typ {
		case websocket.MessageBinary:
			audio = data
		default:
			var msg serverMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Debug().Err(err).Msg("ignoring unparsable stream message")
				continue
			}
			if len(msg.Error) > 0 && string(msg.Error) != "null" {
				return stats, fmt.Errorf("stream error: %s %s", strings.Trim(string(msg.Error), `"`), msg.Message)
			}
			if msg.Audio != nil && *msg.Audio != "" {
				audio, err = base64.StdEncoding.DecodeString(*msg.Audio)
				if err != nil {
					return stats, fmt.Errorf("decode audio: %w", err)
				}
			}
			final = msg.final()
		}

		if len(audio) > 0 {
			if stats.Chunks == 0 {
				stats.FirstAudio = time.Since(start)
				c.logger.Debug().Dur("first_audio", stats.FirstAudio).Msg("stream started")
			}
			stats.Chunks++
			stats.Bytes += len(audio)
			if err := onAudio(audio); err != nil {
				return stats, err
			}
		}
		if final {
			conn.Close(websocket.StatusNormalClosure, closeReasonEnd)
			break
		}
	}

	if stats.Chunks == 0 {
		return stats, errors.New("no audio data received")
	}
	return stats, nil
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, req Request) error {
	if err := writeJSON(ctx, conn, textMessage{Text: " ", VoiceSettings: req.VoiceSettings}); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	chunks := SplitText(req.Text, maxChunkChars)
	for i, chunk := range chunks {
		msg := textMessage{Text: chunk + " ", Flush: i == len(chunks)-1}
		if err := writeJSON(ctx, conn, msg); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return fmt.Errorf("end stream: %w", err)
	}
	return nil
}

func drain(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// SplitText breaks text into chunks of at most max runes, preferring
// sentence ends and then whitespace as boundaries.
func SplitText(text string, max int) []string {
	text = strings.Join(strings.Fields(text), " ")
	var chunks []string
	for len(text) > 0 {
		runes := []rune(text)
		if len(runes) <= max {
			chunks = append(chunks, text)
			break
		}
		window := string(runes[:max])
		cut := -1
		for _, sep := range []string{". ", "! ", "? ", "; ", ", "} {
			if i := strings.LastIndex(window, sep); i >= 0 && i+1 > cut {
				cut = i + 1
			}
		}
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	return chunks
}
