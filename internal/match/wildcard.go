package match

import "strings"

// WildcardPattern is a compiled '*' wildcard matcher.
// Params: internal split parts and anchor flags.
// Returns: reusable matcher for many Match calls.
type WildcardPattern struct {
	parts         []string
	anchoredStart bool
	anchoredEnd   bool
	matchAll      bool
}

// CompileWildcard compiles pattern into reusable wildcard matcher.
// Params: pattern may contain '*' wildcards.
// Returns: compiled matcher and false when pattern is empty.
func CompileWildcard(pattern string) (WildcardPattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return WildcardPattern{}, false
	}
	if p == "*" {
		return WildcardPattern{matchAll: true}, true
	}

	return WildcardPattern{
		parts:         strings.Split(p, "*"),
		anchoredStart: !strings.HasPrefix(p, "*"),
		anchoredEnd:   !strings.HasSuffix(p, "*"),
	}, true
}

// Match evaluates compiled wildcard pattern against value.
// Params: value is compared text.
// Returns: true on pattern match.
func (p WildcardPattern) Match(value string) bool {
	if p.matchAll {
		return true
	}
	if len(p.parts) == 0 {
		return false
	}

	cursor := 0
	partIndex := 0

	if p.anchoredStart {
		startPart := p.parts[0]
		if !strings.HasPrefix(value, startPart) {
			return false
		}
		cursor = len(startPart)
		partIndex = 1
	}

	lastIndex := len(p.parts) - 1
	loopLimit := len(p.parts)
	if p.anchoredEnd {
		loopLimit = lastIndex
	}

	for ; partIndex < loopLimit; partIndex++ {
		segment := p.parts[partIndex]
		if segment == "" {
			continue
		}
		offset := strings.Index(value[cursor:], segment)
		if offset < 0 {
			return false
		}
		cursor += offset + len(segment)
	}

	if p.anchoredEnd {
		endPart := p.parts[lastIndex]
		if endPart == "" {
			return true
		}
		// suffix must not overlap text already consumed by earlier parts
		if len(value)-len(endPart) < cursor {
			return false
		}
		return strings.HasSuffix(value, endPart)
	}

	return true
}

// WildcardMatch evaluates '*' wildcard pattern against value.
// Params: pattern may contain '*' wildcards; value is compared text.
// Returns: true on pattern match.
func WildcardMatch(pattern, value string) bool {
	compiled, ok := CompileWildcard(pattern)
	if !ok {
		return false
	}
	return compiled.Match(value)
}

// Set is a list of compiled patterns matched with OR semantics.
type Set struct {
	patterns []WildcardPattern
}

// CompileSet compiles every non-empty pattern.
// Params: patterns raw '*' wildcard list, typically metric names to deny.
// Returns: set; empty patterns are skipped.
func CompileSet(patterns []string) Set {
	out := Set{patterns: make([]WildcardPattern, 0, len(patterns))}
	for _, pattern := range patterns {
		compiled, ok := CompileWildcard(pattern)
		if !ok {
			continue
		}
		out.patterns = append(out.patterns, compiled)
	}
	return out
}

// Empty reports whether the set has no patterns.
func (s Set) Empty() bool {
	return len(s.patterns) == 0
}

// MatchAny reports whether value matches at least one pattern.
func (s Set) MatchAny(value string) bool {
	for _, pattern := range s.patterns {
		if pattern.Match(value) {
			return true
		}
	}
	return false
}
