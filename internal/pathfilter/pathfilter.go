// Package pathfilter supplies the PathFilter predicate the scanner and
// reconciler consume to decide whether a relative path participates in
// sync. Glob compilation itself is an external collaborator per the spec;
// this package is the default, concrete implementation of that collaborator.
package pathfilter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// PathFilter reports whether relPath (forward-slash normalized, relative to
// a directory root) should be included in sync. true means include.
type PathFilter func(relPath string) bool

// Always is a PathFilter that admits every path.
func Always(string) bool { return true }

// Compile builds a PathFilter from a set of glob-style ignore patterns
// (shell-glob syntax, gobwas/glob semantics — `**` matches across path
// separators, `*` does not). A path matching any pattern is excluded.
func Compile(patterns []string) (PathFilter, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	if len(compiled) == 0 {
		return Always, nil
	}
	return func(relPath string) bool {
		for _, g := range compiled {
			if g.Match(relPath) {
				return false
			}
		}
		return true
	}, nil
}

// MergePatterns unions two ignore-pattern lists and deduplicates them,
// preserving first-seen order (defaults first, then directory-specific),
// per the config merge rule in spec.md §6.
func MergePatterns(defaults, specific []string) []string {
	seen := make(map[string]bool, len(defaults)+len(specific))
	out := make([]string, 0, len(defaults)+len(specific))
	for _, p := range append(append([]string{}, defaults...), specific...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
