package match

import (
	"sort"
	"strings"
)

// DerivePrefix extracts the longest static prefix from a glob pattern.
//
// The prefix is the portion of the pattern before any unescaped glob
// metacharacter. Escaped metacharacters (\*, \?, \[, \{) are treated as
// literals and included in the prefix. A scan uses this prefix to skip
// subtrees of the scene root where the pattern cannot match.
//
// Examples:
//
//	"shots/ep01/**/*.ma"    → "shots/ep01/"
//	"*.nk"                  → ""
//	"shots/sc0{10,20}/*.ma" → "shots/"
//	"shots/ep01/sc010.ma"   → "shots/ep01/sc010.ma"
//	"shots/take\*.ma"       → "shots/take*.ma" (escaped * is literal)
func DerivePrefix(pattern string) string {
	if pattern == "" {
		return ""
	}

	pattern = NormalizePattern(pattern)

	metaIdx := findFirstUnescapedMeta(pattern)

	if metaIdx == -1 {
		// No unescaped metacharacters - pattern is an exact path.
		// Unescape so the prefix names the actual file.
		return unescapePrefix(pattern)
	}

	if metaIdx == 0 {
		// Starts with unescaped metacharacter - no prefix
		return ""
	}

	prefix := pattern[:metaIdx]

	// Truncate to last complete path segment
	// e.g., "shots/sc0" becomes "shots/" not "shots/sc0"
	lastSlash := strings.LastIndex(prefix, "/")
	if lastSlash >= 0 {
		return unescapePrefix(prefix[:lastSlash+1])
	}

	// No slash before metacharacter - no usable prefix
	return ""
}

// findFirstUnescapedMeta returns the index of the first unescaped glob
// metacharacter (* ? [ {) in the pattern, or -1 if none found.
//
// A plain IndexAny cannot distinguish literal metacharacters (escaped
// with \) from glob metacharacters; patterns like "shots/take\*.ma"
// would incorrectly terminate at \* even though the user wants to match
// a literal asterisk in the filename.
func findFirstUnescapedMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]

		if c == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			// Skip both the backslash and the escaped char so we don't
			// treat the metacharacter as a glob terminator.
			if next == '*' || next == '?' || next == '[' || next == '{' || next == '\\' {
				i++
				continue
			}
			// Backslash before a non-meta char is not an escape in glob
			// context, keep scanning
			continue
		}

		if c == '*' || c == '?' || c == '[' || c == '{' {
			return i
		}
	}
	return -1
}

// unescapePrefix removes escape backslashes from glob metacharacters in
// a prefix. Filesystem paths carry no escape sequences; a pattern
// "shots/take\*.ma" must yield the prefix "shots/take*.ma".
func unescapePrefix(prefix string) string {
	if !strings.ContainsRune(prefix, '\\') {
		return prefix
	}

	var result strings.Builder
	result.Grow(len(prefix))

	for i := 0; i < len(prefix); i++ {
		c := prefix[i]

		if c == '\\' && i+1 < len(prefix) {
			next := prefix[i+1]
			// Remove the escape backslash, keep the literal character.
			if next == '*' || next == '?' || next == '[' || next == ']' ||
				next == '{' || next == '}' || next == '\\' {
				result.WriteByte(next)
				i++
				continue
			}
		}

		result.WriteByte(c)
	}

	return result.String()
}

// DerivePrefixes extracts prefixes from multiple patterns and
// deduplicates them.
//
// The returned prefixes are:
//   - Derived from each include pattern
//   - Deduplicated (parent prefixes subsume children)
//   - Sorted for deterministic ordering
//
// Examples:
//
//	["shots/ep01/**", "shots/ep02/**"] → ["shots/ep01/", "shots/ep02/"]
//	["shots/**", "shots/ep01/**"]      → ["shots/"]  (parent subsumes child)
//	["**/*.nk"]                        → [""]        (empty = full walk)
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}

	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		prefixes = append(prefixes, DerivePrefix(p))
	}

	return deduplicatePrefixes(prefixes)
}

// deduplicatePrefixes removes prefixes that are subsumed by shorter
// prefixes. A prefix P1 subsumes P2 if P2 starts with P1; the empty
// string subsumes everything (full walk).
func deduplicatePrefixes(prefixes []string) []string {
	if len(prefixes) == 0 {
		return nil
	}

	for _, p := range prefixes {
		if p == "" {
			return []string{""}
		}
	}

	// Sort by length (shortest first) for subsumption check
	sorted := make([]string, len(prefixes))
	copy(sorted, prefixes)
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i]) < len(sorted[j])
	})

	result := make([]string, 0, len(sorted))
	for _, candidate := range sorted {
		subsumed := false
		for _, existing := range result {
			if strings.HasPrefix(candidate, existing) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			result = append(result, candidate)
		}
	}

	sort.Strings(result)

	return result
}

// IsGlobPattern returns true if the pattern contains unescaped glob
// metacharacters. Escaped metacharacters (\*, \?, \[, \{) are literals
// and do not count.
//
// Examples:
//
//	"shots/**/*.ma"     → true  (unescaped glob)
//	"shots/take\*.ma"   → false (escaped asterisk is literal)
//	"shots/sc010.ma"    → false (no metacharacters)
func IsGlobPattern(pattern string) bool {
	return findFirstUnescapedMeta(pattern) != -1
}
