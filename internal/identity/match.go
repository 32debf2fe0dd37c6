package identity

import "strings"

// MatchExact compares two strings byte-for-byte (spec.md §4.1 "Exact-string").
func MatchExact(pattern, value string) bool {
	return pattern == value
}

// MatchWildcard implements the §4.1 wildcard rule: '*' matches any run of
// characters, '?' matches exactly one, matching is case-insensitive and
// anchored to the full string, and a literal '*' or '?' can be matched by
// escaping it with a backslash in the pattern. When fuzzy is true the
// wildcards are stripped and a case-insensitive substring test is used
// instead.
func MatchWildcard(pattern, value string, fuzzy bool) bool {
	if pattern == "" {
		return value == ""
	}
	if fuzzy {
		needle := strings.ToLower(stripWildcards(pattern))
		if needle == "" {
			return true
		}
		return strings.Contains(strings.ToLower(value), needle)
	}
	return wildcardMatch([]rune(strings.ToLower(pattern)), []rune(strings.ToLower(value)))
}

// stripWildcards removes unescaped '*'/'?' and un-escapes "\*"/"\?" so the
// fuzzy path can run a plain substring search.
func stripWildcards(pattern string) string {
	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes) && (runes[i+1] == '*' || runes[i+1] == '?'):
			b.WriteRune(runes[i+1])
			i++
		case r == '*' || r == '?':
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// wildcardMatch is a classic backtracking glob matcher over rune slices,
// honoring escaped '*'/'?' as literals.
func wildcardMatch(pattern, value []rune) bool {
	pi, vi := 0, 0
	starIdx, matchIdx := -1, 0

	nextLiteral := func(i int) (rune, bool, int) {
		if i < len(pattern) && pattern[i] == '\\' && i+1 < len(pattern) &&
			(pattern[i+1] == '*' || pattern[i+1] == '?') {
			return pattern[i+1], true, i + 2
		}
		return 0, false, i
	}

	for vi < len(value) {
		if lit, escaped, next := nextLiteral(pi); escaped {
			if vi < len(value) && value[vi] == lit {
				pi, vi = next, vi+1
				continue
			}
		} else if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == value[vi]) {
			pi, vi = pi+1, vi+1
			continue
		} else if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			matchIdx = vi
			pi++
			continue
		}

		if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			vi = matchIdx
			continue
		}
		return false
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// MatchSet reports whether stored and wanted share at least one element
// (spec.md §4.1 "Set fields").
func MatchSet(wanted, stored []string) bool {
	if len(wanted) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(stored))
	for _, s := range stored {
		have[s] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := have[w]; ok {
			return true
		}
	}
	return false
}
