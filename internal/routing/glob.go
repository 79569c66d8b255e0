// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package routing

import "strings"

// CompiledGlob is a pre-compiled channel glob, mirroring the shape of the
// teacher's events.CompiledPattern but generalized to full "*"/"?" glob
// semantics at an arbitrary position — the teacher's PatternMatcher only
// special-cases a wildcard at the very start or end of a dot-segmented
// pattern ("service.*", "*.finished"), which can't express "discord:*"
// with the glob anywhere, so this is a new but structurally analogous
// type rather than a reuse of events.PatternMatcher.
type CompiledGlob struct {
	pattern string // lower-cased source pattern
}

// CompileGlob pre-compiles pattern for repeated matching.
func CompileGlob(pattern string) CompiledGlob {
	return CompiledGlob{pattern: strings.ToLower(pattern)}
}

// Match reports whether s matches the glob, case-insensitively. "*"
// matches any run of characters (including none); "?" matches exactly one
// rune.
func (g CompiledGlob) Match(s string) bool {
	return globMatch(g.pattern, strings.ToLower(s))
}

// globMatch is a classic recursive glob matcher over runes, supporting
// "*" and "?".
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(pattern, s []rune) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive stars.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchRunes(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		}
	}
	return len(s) == 0
}
