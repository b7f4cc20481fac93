package util

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/gobwas/glob"
)

// SortedStringKeys returns the map's keys in sorted order.
func SortedStringKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// WriteFileWithDirs creates parent directories (0755) and writes the file with perm.
func WriteFileWithDirs(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, perm)
}

// Matcher is a compiled, case-insensitive glob. The zero value matches everything.
type Matcher struct {
	pattern string
	g       glob.Glob
}

// CompileMatcher compiles pattern. A bare word without glob metacharacters
// matches as a substring.
func CompileMatcher(pattern string) (Matcher, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Matcher{}, nil
	}
	expr := strings.ToLower(pattern)
	if !strings.ContainsAny(expr, "*?[{") {
		expr = "*" + expr + "*"
	}
	g, err := glob.Compile(expr)
	if err != nil {
		return Matcher{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return Matcher{pattern: pattern, g: g}, nil
}

func (m Matcher) Match(s string) bool {
	if m.g == nil {
		return true
	}
	return m.g.Match(strings.ToLower(s))
}

func (m Matcher) String() string {
	return m.pattern
}

// SafeFileName turns an arbitrary display name into a portable file name stem.
func SafeFileName(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-':
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "untitled"
	}
	return out
}
