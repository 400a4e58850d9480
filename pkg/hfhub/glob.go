// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub

import (
	"regexp"
	"strings"
)

// Pattern matching for C11's allow/ignore lists is shell-style glob, not
// regex, and — unlike path.Match — "*" must be free to cross "/" so that
// a pattern like "*.bin" matches "checkpoints/model.bin". There is no
// glob library anywhere in the available third-party stack for this
// shape of matching, so the match is built the same way a hand-rolled
// shell matcher elsewhere in the ecosystem is built: translate the glob
// to a regexp and delegate to the standard library from there.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			end += i + 1
			cls := pattern[i : end+1]
			if strings.HasPrefix(cls, "[!") {
				cls = "[^" + cls[2:]
			}
			b.WriteString(cls)
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// expandTrailingSlash implicitly appends a wildcard to a directory-style
// pattern, so "data/" matches anything under "data/".
func expandTrailingSlash(pattern string) string {
	if strings.HasSuffix(pattern, "/") {
		return pattern + "*"
	}
	return pattern
}

// matchesAny reports whether path matches at least one pattern in the
// list. An empty list is treated as "no constraint" by the caller, not
// by matchesAny itself.
func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		re, err := globToRegexp(expandTrailingSlash(p))
		if err != nil {
			continue
		}
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// passesFilter implements C11's allow/ignore combination rule: a path
// passes if any allow-pattern matches it (or no allow list was given)
// and no ignore-pattern matches it.
func passesFilter(allow, ignore []string, path string) bool {
	if len(allow) > 0 && !matchesAny(allow, path) {
		return false
	}
	return !matchesAny(ignore, path)
}

// MatchesFilter exposes passesFilter to callers outside the package (a
// CLI plan preview, a server dry-run listing) that need to replicate the
// snapshot coordinator's allow/ignore decision without downloading anything.
func MatchesFilter(allow, ignore []string, path string) bool {
	return passesFilter(allow, ignore, path)
}
