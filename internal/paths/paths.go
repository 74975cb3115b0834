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

package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxPathLen     = 4096
	DefaultMaxUploadBytes = 100 * 1024 * 1024
)

// ValidatePathString validates raw path input before resolution.
func ValidatePathString(path string, maxLen int) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.IndexByte(path, 0) != -1 {
		return fmt.Errorf("path contains null byte")
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("path is not valid UTF-8")
	}
	for _, r := range path {
		if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Me, r) {
			return fmt.Errorf("path contains unsupported unicode combining mark")
		}
	}
	if maxLen > 0 {
		if len(path) > maxLen {
			return fmt.Errorf("path exceeds maximum length of %d characters", maxLen)
		}
		if len(filepath.Clean(path)) > maxLen {
			return fmt.Errorf("path exceeds maximum length of %d characters", maxLen)
		}
	}
	return nil
}

// ResolveWithinBase resolves a relative path under a base directory.
func ResolveWithinBase(path, baseDir string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed")
	}

	baseResolved, err := resolveBase(baseDir)
	if err != nil {
		return "", err
	}

	cleanRel := filepath.Clean(path)
	absPath := filepath.Clean(filepath.Join(baseResolved, cleanRel))
	if !HasPathPrefix(absPath, baseResolved) {
		return "", fmt.Errorf("path escapes file root")
	}

	resolved, err := ResolveSymlinkedPath(absPath, baseResolved)
	if err != nil {
		return "", err
	}

	if !HasPathPrefix(resolved, baseResolved) {
		return "", fmt.Errorf("path escapes file root")
	}

	return resolved, nil
}

func resolveBase(baseDir string) (string, error) {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %v", err)
	}
	baseResolved, err := filepath.EvalSymlinks(baseAbs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %v", err)
	}
	return baseResolved, nil
}

// ResolveSymlinkedPath resolves symlinks while ensuring the base stays within bounds.
func ResolveSymlinkedPath(path, baseResolved string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %v", err)
		}
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat path: %v", err)
	}

	parent := filepath.Dir(path)
	parentResolved, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("failed to resolve parent path: %v", err)
	}
	if !HasPathPrefix(parentResolved, baseResolved) {
		return "", fmt.Errorf("path escapes file root")
	}
	return filepath.Join(parentResolved, filepath.Base(path)), nil
}

// HasPathPrefix returns true when path is within base.
func HasPathPrefix(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && rel != "..")
}

// Resolver validates file paths supplied by a user or an agent. With a
// Root set every path must resolve inside it.
type Resolver struct {
	Root           string
	MaxPathLen     int
	MaxUploadBytes int64
}

func (r Resolver) maxLen() int {
	if r.MaxPathLen <= 0 {
		return DefaultMaxPathLen
	}
	return r.MaxPathLen
}

func (r Resolver) maxUpload() int64 {
	if r.MaxUploadBytes <= 0 {
		return DefaultMaxUploadBytes
	}
	return r.MaxUploadBytes
}

// Resolve validates path and returns its cleaned absolute form.
func (r Resolver) Resolve(path string) (string, error) {
	if err := ValidatePathString(path, r.maxLen()); err != nil {
		return "", err
	}
	if r.Root == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("invalid path: %v", err)
		}
		return abs, nil
	}
	if filepath.IsAbs(path) {
		base, err := resolveBase(r.Root)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(base, filepath.Clean(path))
		if err != nil || !HasPathPrefix(filepath.Clean(path), base) {
			return "", fmt.Errorf("path escapes file root")
		}
		path = rel
	}
	return ResolveWithinBase(path, r.Root)
}

// ReadUpload resolves and reads a file to upload, enforcing the size limit.
// It returns the contents and the base name.
func (r Resolver) ReadUpload(path string) ([]byte, string, error) {
	resolved, err := r.Resolve(path)
	if err != nil {
		return nil, "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("cannot read %s: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return nil, "", fmt.Errorf("%s is empty", path)
	}
	if info.Size() > r.maxUpload() {
		return nil, "", fmt.Errorf("%s is %d bytes, larger than the %d byte upload limit", path, info.Size(), r.maxUpload())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("cannot read %s: %v", path, err)
	}
	return data, filepath.Base(resolved), nil
}

// WriteOutput resolves path and writes data to it, creating or truncating
// the file. The parent directory must exist.
func (r Resolver) WriteOutput(path string, data []byte) (string, error) {
	resolved, err := r.Resolve(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(filepath.Dir(resolved)); err != nil || !info.IsDir() {
		return "", fmt.Errorf("output directory %s does not exist", filepath.Dir(resolved))
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %v", path, err)
	}
	return resolved, nil
}
