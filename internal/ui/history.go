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

package ui

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// History keeps the lines entered in an interactive session.
type History struct {
	entries []string
}

// LoadHistoryFromFile reads history entries from a file, one per line.
// A missing file yields no entries.
func LoadHistoryFromFile(filepath string) []string {
	var history []string
	file, err := os.Open(filepath)
	if err != nil {
		return history
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			history = append(history, line)
		}
	}

	return history
}

// NewHistory initializes a History with existing entries.
func NewHistory(entries []string) *History {
	return &History{entries: entries}
}

// Add appends an entry. Blank entries and immediate repeats are skipped.
func (h *History) Add(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == entry {
		return
	}
	h.entries = append(h.entries, entry)
}

// Last returns up to n most recent entries, oldest first.
func (h *History) Last(n int) []string {
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]string, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Expand resolves a history reference: "!!" is the previous entry and
// "!N" the N-th entry counting from 1. Other lines are returned unchanged.
func (h *History) Expand(line string) (string, error) {
	if !strings.HasPrefix(line, "!") {
		return line, nil
	}
	if len(h.entries) == 0 {
		return "", fmt.Errorf("history is empty")
	}
	ref := strings.TrimPrefix(line, "!")
	if ref == "!" {
		return h.entries[len(h.entries)-1], nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 || n > len(h.entries) {
		return "", fmt.Errorf("no history entry %q", ref)
	}
	return h.entries[n-1], nil
}

// Entries returns a copy of history entries.
func (h *History) Entries() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}
