package router

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// matchKind describes how a compiled pattern matches request paths.
type matchKind int

const (
	matchExact matchKind = iota
	matchSingleSegment           // trailing "/*"
	matchCatchAll                // trailing "/**"
	matchGlob                    // embedded wildcards, delegated to doublestar
)

// pathMatcher is a compiled route path pattern.
//
// Trailing wildcards follow gateway conventions: "/api/users/**" matches the
// prefix plus any number of extra segments, "/api/users/*" exactly one.
// Patterns with wildcards elsewhere ("/api/*/files/**") fall back to
// doublestar glob matching.
type pathMatcher struct {
	pattern string
	kind    matchKind
	prefix  string // literal prefix for single/catch-all kinds
}

func newPathMatcher(pattern string) *pathMatcher {
	m := &pathMatcher{pattern: pattern}

	switch {
	case strings.HasSuffix(pattern, "/**") && !hasInnerWildcard(pattern[:len(pattern)-3]):
		m.kind = matchCatchAll
		m.prefix = pattern[:len(pattern)-3]
	case strings.HasSuffix(pattern, "/*") && !hasInnerWildcard(pattern[:len(pattern)-2]):
		m.kind = matchSingleSegment
		m.prefix = pattern[:len(pattern)-2]
	case hasInnerWildcard(pattern):
		m.kind = matchGlob
	default:
		m.kind = matchExact
	}
	return m
}

func hasInnerWildcard(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// matches reports whether the request path matches the pattern.
func (m *pathMatcher) matches(path string) bool {
	if path == "" {
		return false
	}

	switch m.kind {
	case matchExact:
		return path == m.pattern

	case matchCatchAll:
		// The bare prefix itself matches, as does any deeper path.
		if path == m.prefix {
			return true
		}
		return strings.HasPrefix(path, m.prefix+"/")

	case matchSingleSegment:
		if !strings.HasPrefix(path, m.prefix+"/") {
			return false
		}
		rest := path[len(m.prefix)+1:]
		return rest != "" && !strings.Contains(rest, "/")

	default:
		ok, err := doublestar.Match(m.pattern, path)
		return err == nil && ok
	}
}

// specificity orders candidate routes: higher values are tried first. Exact
// patterns beat single-segment wildcards, which beat catch-alls; within a
// kind, longer literal prefixes win.
func (m *pathMatcher) specificity() int {
	base := len(m.prefix)
	if m.kind == matchExact || m.kind == matchGlob {
		base = len(m.pattern)
	}
	switch m.kind {
	case matchExact:
		return base + 3000
	case matchSingleSegment:
		return base + 2000
	case matchGlob:
		return base + 1000
	default:
		return base
	}
}
