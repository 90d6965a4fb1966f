// Package sandbox bridges training into a WSL-style Linux sandbox: it
// translates host paths, generates the entry script, rewrites dataset
// manifests, and parses the trainer's progress stream.
package sandbox

import (
	"strings"
	"unicode"
)

// PathTranslator converts between Windows host paths and their /mnt mounts
// inside the sandbox. Translation is best effort: a path that does not match
// the expected shape passes through unchanged so callers never have to
// special-case already-translated input.
type PathTranslator struct{}

// NewPathTranslator creates a path translator.
func NewPathTranslator() *PathTranslator {
	return &PathTranslator{}
}

// ToSandbox converts a Windows path like `C:\data\ds1` to `/mnt/c/data/ds1`.
func (t *PathTranslator) ToSandbox(path string) string {
	if len(path) < 2 || path[1] != ':' || !isDriveLetter(rune(path[0])) {
		return normalizeSeparators(path)
	}
	drive := unicode.ToLower(rune(path[0]))
	rest := normalizeSeparators(path[2:])
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return "/mnt/" + string(drive) + rest
}

// ToHost converts a sandbox path like `/mnt/c/data/ds1` back to `C:\data\ds1`.
func (t *PathTranslator) ToHost(path string) string {
	rest, ok := strings.CutPrefix(path, "/mnt/")
	if !ok || rest == "" || !isDriveLetter(rune(rest[0])) {
		return path
	}
	if len(rest) > 1 && rest[1] != '/' {
		return path
	}
	drive := unicode.ToUpper(rune(rest[0]))
	tail := strings.ReplaceAll(rest[1:], "/", `\`)
	return string(drive) + ":" + tail
}

func isDriveLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func normalizeSeparators(path string) string {
	return strings.ReplaceAll(path, `\`, "/")
}
