// Package matcher evaluates glob exclusion patterns against paths relative
// to the watch root.
package matcher

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

type rule struct {
	pattern string
	g       glob.Glob
	// segment rules have no slash and are tested against each path element,
	// the others against every ancestor-or-self prefix.
	segment bool
}

// Matcher holds compiled patterns. It is immutable and safe for concurrent use.
type Matcher struct {
	rules []rule
}

func New(patterns []string) (*Matcher, error) {
	m := &Matcher{rules: make([]rule, 0, len(patterns))}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		normalized := strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
		normalized = strings.TrimPrefix(normalized, "./")
		if normalized == "" {
			continue
		}

		g, err := glob.Compile(normalized, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}

		m.rules = append(m.rules, rule{
			pattern: p,
			g:       g,
			segment: !strings.Contains(normalized, "/"),
		})
	}

	return m, nil
}

// Match reports whether rel, or any of its ancestors, matches a pattern.
func (m *Matcher) Match(rel string) bool {
	return m.MatchedBy(rel) != ""
}

// MatchedBy returns the first pattern excluding rel, or "".
func (m *Matcher) MatchedBy(rel string) string {
	if m == nil || len(m.rules) == 0 {
		return ""
	}

	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if rel == "." || rel == "" {
		return ""
	}

	parts := strings.Split(rel, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		for _, r := range m.rules {
			if r.segment {
				if r.g.Match(parts[i]) {
					return r.pattern
				}
				continue
			}

			if r.g.Match(prefix) {
				return r.pattern
			}
		}
	}

	return ""
}

func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}

	return len(m.rules)
}
