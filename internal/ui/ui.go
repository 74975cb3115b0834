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

// Package ui renders command output for humans or, in JSON mode, for
// scripts.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"elevenline/internal/catalog"
)

const maxCellChars = 48

type styles struct {
	brand   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	dim     lipgloss.Style
	key     lipgloss.Style
	val     lipgloss.Style
	header  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		brand:   r.NewStyle().Foreground(lipgloss.Color("99")).Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("42")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		err:     r.NewStyle().Foreground(lipgloss.Color("196")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("241")),
		key:     r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		val:     r.NewStyle().Foreground(lipgloss.Color("255")),
		header:  r.NewStyle().Bold(true).Underline(true),
	}
}

// Printer writes results to out and status lines to errOut. Colours are
// only emitted when the destination is a terminal.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
	data   styles
	status styles
}

// New creates a Printer.
func New(out, errOut io.Writer, jsonMode bool) *Printer {
	return &Printer{
		out:    out,
		errOut: errOut,
		json:   jsonMode,
		data:   newStyles(lipgloss.NewRenderer(out)),
		status: newStyles(lipgloss.NewRenderer(errOut)),
	}
}

// JSONMode reports whether results are printed as JSON.
func (p *Printer) JSONMode() bool {
	return p.json
}

// Out returns the result writer.
func (p *Printer) Out() io.Writer {
	return p.out
}

func (p *Printer) Brand(s string) string { return p.status.brand.Render(s) }
func (p *Printer) Dim(s string) string   { return p.status.dim.Render(s) }
func (p *Printer) Key(s string) string   { return p.status.key.Render(s) }

func (p *Printer) Success(format string, a ...any) {
	fmt.Fprintln(p.errOut, p.status.success.Render("✓ "+fmt.Sprintf(format, a...)))
}

func (p *Printer) Warn(format string, a ...any) {
	fmt.Fprintln(p.errOut, p.status.warn.Render("! "+fmt.Sprintf(format, a...)))
}

func (p *Printer) Error(format string, a ...any) {
	fmt.Fprintln(p.errOut, p.status.err.Render("✗ "+fmt.Sprintf(format, a...)))
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintln(p.errOut, fmt.Sprintf(format, a...))
}

// KV prints one aligned key/value line to the result writer.
func (p *Printer) KV(k, v string) {
	fmt.Fprintf(p.out, "  %s  %s\n", p.data.key.Render(k), p.data.val.Render(v))
}

// JSON prints v as indented JSON regardless of the mode.
func (p *Printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Result prints the payload of an operation. Lists of objects become
// tables, objects become key/value lines.
func (p *Printer) Result(v interface{}) error {
	if p.json {
		return p.JSON(v)
	}
	switch value := v.(type) {
	case nil:
		p.Success("done")
	case string:
		fmt.Fprintln(p.out, value)
	case []interface{}:
		p.list(value)
	case map[string]interface{}:
		if key, rows, ok := soleList(value); ok {
			p.list(rows)
			for _, k := range sortedKeys(value) {
				if k != key && isScalar(value[k]) && value[k] != nil {
					p.KV(k, formatCell(value[k]))
				}
			}
			return nil
		}
		for _, k := range sortedKeys(value) {
			p.KV(k, formatValue(value[k]))
		}
	default:
		return p.JSON(v)
	}
	return nil
}

func (p *Printer) list(items []interface{}) {
	if len(items) == 0 {
		fmt.Fprintln(p.out, p.data.dim.Render("(none)"))
		return
	}
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			for _, item := range items {
				fmt.Fprintln(p.out, formatValue(item))
			}
			return
		}
		rows = append(rows, obj)
	}
	columns := columnsFor(rows)
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(columns))
		for j, col := range columns {
			cells[i][j] = formatCell(row[col])
		}
	}
	p.Table(columns, cells)
}

// Table prints rows under headers in padded columns.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.json {
		out := make([]map[string]string, len(rows))
		for i, row := range rows {
			out[i] = make(map[string]string, len(headers))
			for j, h := range headers {
				if j < len(row) {
					out[i][h] = row[j]
				}
			}
		}
		_ = p.JSON(out)
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) && lipgloss.Width(row[i]) > widths[i] {
				widths[i] = lipgloss.Width(row[i])
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(headers))
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			padded := cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if style != nil {
				padded = style.Render(padded)
			}
			parts[i] = padded
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(p.out, line(headers, &p.data.header))
	for _, row := range rows {
		fmt.Fprintln(p.out, line(row, nil))
	}
}

// Operations prints catalog descriptors as a table.
func (p *Printer) Operations(descs []catalog.Descriptor) {
	rows := make([][]string, len(descs))
	for i, d := range descs {
		idempotent := "yes"
		if !d.Idempotent {
			idempotent = "no"
		}
		rows[i] = []string{d.Name, string(d.Category), idempotent, truncate(d.Description, 60)}
	}
	p.Table([]string{"NAME", "CATEGORY", "IDEMPOTENT", "DESCRIPTION"}, rows)
}

var preferredColumns = []string{
	"voice_id", "agent_id", "history_item_id", "dubbing_id", "conversation_id",
	"model_id", "phone_number_id", "webhook_id", "id", "name", "category",
	"status", "text", "date_unix", "created_at_unix",
}

const maxColumns = 5

func columnsFor(rows []map[string]interface{}) []string {
	present := make(map[string]bool)
	for _, row := range rows {
		for k, v := range row {
			if isScalar(v) {
				present[k] = true
			}
		}
	}
	var columns []string
	for _, col := range preferredColumns {
		if present[col] && len(columns) < maxColumns {
			columns = append(columns, col)
			delete(present, col)
		}
	}
	rest := make([]string, 0, len(present))
	for k := range present {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, col := range rest {
		if len(columns) >= maxColumns {
			break
		}
		columns = append(columns, col)
	}
	return columns
}

// soleList finds the single list-of-objects field of a response envelope
// such as {"voices": [...], "has_more": false}.
func soleList(obj map[string]interface{}) (string, []interface{}, bool) {
	key := ""
	var rows []interface{}
	for k, v := range obj {
		list, ok := v.([]interface{})
		if !ok {
			continue
		}
		if key != "" {
			return "", nil, false
		}
		if len(list) > 0 {
			if _, ok := list[0].(map[string]interface{}); !ok {
				return "", nil, false
			}
		}
		key, rows = k, list
	}
	return key, rows, key != ""
}

func sortedKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return false
	}
	return true
}

func formatValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return "-"
	case string:
		return value
	case float64:
		return formatNumber(value)
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(raw)
	}
	return fmt.Sprint(v)
}

func formatCell(v interface{}) string {
	return truncate(strings.ReplaceAll(formatValue(v), "\n", " "), maxCellChars)
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
