// Package match selects scene files for render submission using
// doublestar glob semantics, with static-prefix derivation so large
// scene trees are only walked where a pattern can match.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Normalization rules:
//   - Unescaped backslashes converted to forward slashes (Windows compat)
//   - Escaped backslashes and glob metacharacters preserved (\*, \?, \[, etc.)
//   - Leading slash, trailing slash, and // sequences preserved
//
// Artists on Windows write patterns like "shots\ep01\**\*.ma"; those must
// behave the same as "shots/ep01/**/*.ma" without breaking escape
// sequences for literal metacharacters.
//
// Examples:
//
//	"shots/ep01/**"       → "shots/ep01/**"      (unchanged)
//	"shots\ep01\**"       → "shots/ep01/**"      (backslash → slash)
//	"shots/take\*.ma"     → "shots/take\*.ma"    (escape preserved)
//	"shots\\old\\*"       → "shots/old/*"        (unescaped \ → /)
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if strings.ContainsRune(globEscapable, next) {
				// Preserve the escape sequence
				result.WriteRune('\\')
				result.WriteRune(next)
				i++
				continue
			}
			// Unescaped backslash - convert to forward slash
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			// Trailing backslash
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return result.String()
}

// IsHidden returns true if any path segment starts with a dot.
//
// Scene trees accumulate hidden workspace entries (.mayaSwatches,
// .DS_Store, .git) that must never reach the farm unless the caller
// opts in.
//
// Examples:
//
//	"shots/ep01/sc010.ma"        → false
//	".mayaSwatches/sc010.swatch" → true
//	"shots/.snapshot/sc010.ma"   → true
func IsHidden(path string) bool {
	if path == "" {
		return false
	}

	segments := strings.Split(path, "/")
	for _, seg := range segments {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}

	return false
}
