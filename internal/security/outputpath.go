// Package security guards the paths the CLI writes artifacts to.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLen bounds names derived from frame identifiers.
const maxFilenameLen = 128

// SanitizeFilename makes a safe filename from an arbitrary string. Runs of
// characters other than ASCII letters, digits, dot, underscore or dash
// become a single underscore; leading and trailing dots and underscores are
// trimmed. An empty result becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// OutputPath joins a sanitized name onto dir and confirms the result does
// not escape dir once symlinks in dir are resolved.
func OutputPath(dir, name string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory symlinks: %w", err)
	}

	path := filepath.Join(canonicalDir, SanitizeFilename(name))
	rel, err := filepath.Rel(canonicalDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q escapes %s", name, dir)
	}
	return path, nil
}
