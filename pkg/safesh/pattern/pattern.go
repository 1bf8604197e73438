// Package pattern translates SafeShell's user-facing glob patterns (used
// by env masking and import policy) into anchored regular expressions.
package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// cache memoizes compiled patterns; patterns are reused heavily across
// validation calls (every flag, every path, every import specifier).
var (
	mu    sync.RWMutex
	cache = map[string]*regexp.Regexp{}
)

// compile translates a glob pattern to a regex anchored at the start
// (prefix-match semantics) unless anchorEnd is set, in which case the
// whole string must match.
func compile(pat string, anchorEnd bool) *regexp.Regexp {
	key := pat
	if anchorEnd {
		key = "$" + pat
	}

	mu.RLock()
	if re, ok := cache[key]; ok {
		mu.RUnlock()
		return re
	}
	mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pat {
		if r == '*' {
			sb.WriteString(".*")
			continue
		}
		sb.WriteString(regexp.QuoteMeta(string(r)))
	}
	if anchorEnd {
		sb.WriteString("$")
	}

	re := regexp.MustCompile(sb.String())

	mu.Lock()
	cache[key] = re
	mu.Unlock()

	return re
}

// Matches reports whether text matches pattern using prefix semantics:
// every regex metacharacter in pattern is escaped, '*' becomes '.*', and
// the result is anchored at start only. Used by the import policy, where
// a specifier is considered matched if the pattern matches as a prefix.
func Matches(pat, text string) bool {
	return compile(pat, false).MatchString(text)
}

// MatchesExact reports whether text matches pattern anchored on both
// ends (pattern wrapped in ^...$). Used by env-var masking, where the
// full variable name must match.
func MatchesExact(pat, text string) bool {
	return compile(pat, true).MatchString(text)
}

// MatchesAny reports whether text matches any pattern in pats, using
// prefix semantics. "Matches any pattern" is disjunction and is
// order-independent.
func MatchesAny(pats []string, text string) bool {
	for _, p := range pats {
		if Matches(p, text) {
			return true
		}
	}
	return false
}

// MatchesAnyExact is the anchored-both-ends counterpart of MatchesAny.
func MatchesAnyExact(pats []string, text string) bool {
	for _, p := range pats {
		if MatchesExact(p, text) {
			return true
		}
	}
	return false
}
