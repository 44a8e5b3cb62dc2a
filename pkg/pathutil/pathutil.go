// Package pathutil provides normalized, absolute-path containment checks used
// for claim overlap detection. Paths are compared after filepath.Clean so that
// "./a/../b", "b/" and "/repo/b" resolve to the same key.
package pathutil

import (
	"path/filepath"
	"strings"
)

// Normalize returns p as a cleaned absolute path. Relative paths are resolved
// against base; an empty base leaves them relative to the process cwd.
func Normalize(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		if base == "" {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return filepath.Clean(p)
		}
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}

// NormalizeAll normalizes every path, dropping empties and duplicates while
// preserving order.
func NormalizeAll(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		n := Normalize(base, p)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Contains reports whether child equals parent or lies beneath it. Both
// arguments must already be normalized.
func Contains(parent, child string) bool {
	if parent == "" || child == "" {
		return false
	}
	if parent == child {
		return true
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}

// Overlaps reports containment in either direction.
func Overlaps(a, b string) bool {
	return Contains(a, b) || Contains(b, a)
}

// FirstOverlap returns the first pair (want, have) where a path in want
// overlaps a path in have.
func FirstOverlap(want, have []string) (string, string, bool) {
	for _, w := range want {
		for _, h := range have {
			if Overlaps(w, h) {
				return w, h, true
			}
		}
	}
	return "", "", false
}
