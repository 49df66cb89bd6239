// Package pattern compiles the include/exclude globs used by the web and
// folder connectors into anchored, case-insensitive matchers.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Glob is a compiled glob pattern. `*` matches any run of characters and `?`
// matches exactly one; matching is anchored and case-insensitive.
type Glob struct {
	raw string
	re  *regexp.Regexp
}

// Compile converts a glob into a Glob matcher.
func Compile(raw string) (Glob, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range raw {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return Glob{}, fmt.Errorf("compile glob %q: %w", raw, err)
	}
	return Glob{raw: raw, re: re}, nil
}

// CompileAll compiles a pattern list, skipping blank entries.
func CompileAll(raws []string) ([]Glob, error) {
	globs := make([]Glob, 0, len(raws))
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		g, err := Compile(raw)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match reports whether value matches the glob.
func (g Glob) Match(value string) bool {
	if g.re == nil {
		return false
	}
	return g.re.MatchString(value)
}

// String returns the original pattern text.
func (g Glob) String() string { return g.raw }

// MatchAny reports whether any glob in the list matches value.
func MatchAny(globs []Glob, value string) bool {
	for _, g := range globs {
		if g.Match(value) {
			return true
		}
	}
	return false
}
