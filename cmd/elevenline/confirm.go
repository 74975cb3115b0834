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

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

type confirmDecision int

const (
	confirmUnknown confirmDecision = iota
	confirmYes
	confirmNo
)

// terminalConfirm asks on the controlling terminal, falling back to
// /dev/tty when stdin is piped.
func terminalConfirm(prompt string) (bool, error) {
	input := os.Stdin
	output := io.Writer(os.Stderr)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
		if err != nil {
			return false, fmt.Errorf("no TTY available")
		}
		defer tty.Close()
		input = tty
		output = tty
	}
	return promptConfirm(input, output, prompt)
}

// promptConfirm asks until the answer is yes or no. An empty answer is no.
func promptConfirm(input io.Reader, output io.Writer, prompt string) (bool, error) {
	reader := bufio.NewReader(input)
	for {
		fmt.Fprintf(output, "%s (y/N): ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false, err
		}
		switch parseConfirmInput(line) {
		case confirmYes:
			return true, nil
		case confirmNo:
			return false, nil
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintln(output, "Please enter yes or no.")
	}
}

func parseConfirmInput(input string) confirmDecision {
	normalized := strings.TrimSpace(strings.ToLower(input))
	if normalized == "" {
		return confirmNo
	}
	switch {
	case isPrefixToken(normalized, "yes"):
		return confirmYes
	case isPrefixToken(normalized, "no"):
		return confirmNo
	default:
		return confirmUnknown
	}
}

func isPrefixToken(input, target string) bool {
	if input == "" || len(input) > len(target) {
		return false
	}
	return strings.HasPrefix(target, input)
}

// describeArgs renders arguments for a prompt, leaving out long text.
func describeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		raw, err := json.Marshal(args[k])
		if err != nil || len(raw) > 80 {
			continue
		}
		parts = append(parts, k+"="+string(raw))
	}
	return strings.Join(parts, " ")
}
