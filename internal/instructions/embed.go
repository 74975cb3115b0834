// Package instructions holds the guidance the tool server sends to agents
// when a session is initialized.
package instructions

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.txt
var files embed.FS

// Load joins the embedded instruction files in lexical order, separated by
// a blank line.
func Load() (string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return "", fmt.Errorf("failed to read embedded instructions: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no instruction files embedded")
	}
	sort.Strings(names)

	sections := make([]string, 0, len(names))
	for _, name := range names {
		data, err := files.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("failed to read instruction file %q: %w", name, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			sections = append(sections, text)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}
