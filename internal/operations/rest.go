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

package operations

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"elevenline/internal/catalog"
	"elevenline/internal/elevenlabs"
	apperrors "elevenline/internal/errors"
)

// endpoint declares an operation that maps its arguments onto one REST
// call: path placeholders, query parameters and a flat JSON body.
type endpoint struct {
	Name        string
	Description string
	Category    catalog.Category
	Idempotent  bool
	Method      string
	// Path may contain {param} placeholders filled from the arguments.
	Path   string
	Params []catalog.Param
	Query  []string
	Body   []string
	// Rename maps argument names to wire names for Query and Body.
	Rename map[string]string
	// BuildBody replaces Body when the wire shape is nested.
	BuildBody func(args catalog.Args) (interface{}, error)
	Validate  func(args catalog.Args) error
	// Raw endpoints return non-JSON content as text.
	Raw bool
}

func endpointDescriptors(d Deps, table []endpoint) []catalog.Descriptor {
	out := make([]catalog.Descriptor, 0, len(table))
	for _, e := range table {
		out = append(out, catalog.Descriptor{
			Name:        e.Name,
			Description: e.Description,
			Category:    e.Category,
			Params:      e.Params,
			Idempotent:  e.Idempotent,
			Validate:    e.Validate,
			Handler: func(ctx context.Context, args catalog.Args) (interface{}, error) {
				return d.callEndpoint(ctx, e, args)
			},
		})
	}
	return out
}

func (d Deps) callEndpoint(ctx context.Context, e endpoint, args catalog.Args) (interface{}, error) {
	c, err := d.client()
	if err != nil {
		return nil, err
	}
	req, err := e.request(args)
	if err != nil {
		return nil, err
	}
	if !e.Raw {
		return c.Value(ctx, req)
	}
	body, contentType, err := c.Bytes(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": string(body), "content_type": contentType}, nil
}

func (e endpoint) wireName(name string) string {
	if renamed, ok := e.Rename[name]; ok {
		return renamed
	}
	return name
}

func (e endpoint) request(args catalog.Args) (elevenlabs.Request, error) {
	path, err := expandPath(e.Path, args)
	if err != nil {
		return elevenlabs.Request{}, err
	}
	req := elevenlabs.Request{Method: e.Method, Path: path}

	if len(e.Query) > 0 {
		query := url.Values{}
		for _, name := range e.Query {
			if value, ok := queryValue(args[name]); ok {
				query.Set(e.wireName(name), value)
			}
		}
		if len(query) > 0 {
			req.Query = query
		}
	}

	switch {
	case e.BuildBody != nil:
		body, err := e.BuildBody(args)
		if err != nil {
			return elevenlabs.Request{}, err
		}
		req.JSON = body
	case len(e.Body) > 0:
		body := make(map[string]interface{}, len(e.Body))
		for _, name := range e.Body {
			if args.Has(name) {
				body[e.wireName(name)] = args[name]
			}
		}
		req.JSON = body
	}
	return req, nil
}

// expandPath fills {param} placeholders with escaped argument values.
func expandPath(template string, args catalog.Args) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("malformed path template %q", template)
		}
		name := rest[open+1 : open+end]
		value := strings.TrimSpace(args.String(name))
		if value == "" {
			return "", apperrors.InvalidArgument(name, "required parameter is missing")
		}
		// PathEscape keeps dots, so these would address a parent resource.
		if value == "." || value == ".." {
			return "", apperrors.InvalidArgument(name, "must not be a dot segment")
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(value))
		rest = rest[open+end+1:]
	}
}

func queryValue(v interface{}) (string, bool) {
	switch value := v.(type) {
	case nil:
		return "", false
	case string:
		return value, value != ""
	case bool:
		return strconv.FormatBool(value), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case int:
		return strconv.Itoa(value), true
	}
	return fmt.Sprint(v), true
}
