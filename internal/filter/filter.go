// Package filter decides which calendar events are hidden by the
// user's excludedEvents rules.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type matcher struct {
	pattern string
	re      *regexp.Regexp
	fold    bool
	allow   bool
	valid   bool
}

// Filter is a compiled, immutable rule list. The zero value and nil exclude
// nothing. A Filter is safe for concurrent use.
type Filter struct {
	matchers []matcher
	defects  []error
}

// Compile prepares rules for matching. Rules that cannot match anything (no
// filterBy, or a regex that does not compile) are kept in place as
// never-matching entries and reported by Defects.
func Compile(rules []Rule) *Filter {
	f := &Filter{matchers: make([]matcher, 0, len(rules))}
	for i, rule := range rules {
		m, err := compileRule(rule)
		if err != nil {
			f.defects = append(f.defects, fmt.Errorf("rule %d: %w", i, err))
		}
		f.matchers = append(f.matchers, m)
	}
	return f
}

func compileRule(rule Rule) (matcher, error) {
	m := matcher{allow: !rule.Plain && rule.Until != ""}

	useRegex := false
	switch {
	case rule.Plain:
		m.pattern = strings.ToLower(rule.FilterBy)
		m.fold = true
	case rule.CaseSensitive:
		m.pattern = rule.FilterBy
		useRegex = rule.Regex
	case rule.Regex:
		m.pattern = rule.FilterBy
		useRegex = true
	default:
		m.pattern = strings.ToLower(rule.FilterBy)
		m.fold = true
	}

	if m.pattern == "" {
		return m, errors.New("missing filterBy")
	}

	if useRegex {
		expr := stripDelimiters(m.pattern)
		if !rule.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return m, fmt.Errorf("invalid regex %q: %w", rule.FilterBy, err)
		}
		m.re = re
	}

	m.valid = true
	return m, nil
}

// stripDelimiters turns "/expr/" into "expr".
func stripDelimiters(pattern string) string {
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		return pattern[1 : len(pattern)-1]
	}
	return pattern
}

func (m matcher) matches(title string) bool {
	if !m.valid {
		return false
	}
	if m.re != nil {
		return m.re.MatchString(title)
	}
	if m.fold {
		return strings.Contains(strings.ToLower(title), m.pattern)
	}
	return strings.Contains(title, m.pattern)
}

// ShouldExclude reports whether the event titled title is hidden. Rules are
// tried in order and the first match decides: a rule with an until date
// keeps the event, any other rule hides it.
func (f *Filter) ShouldExclude(title string) bool {
	if f == nil {
		return false
	}
	for _, m := range f.matchers {
		if m.matches(title) {
			return !m.allow
		}
	}
	return false
}

// Defects lists the rules that were compiled as never-matching.
func (f *Filter) Defects() []error {
	if f == nil {
		return nil
	}
	return f.defects
}

// Len returns the number of rules, defective ones included.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.matchers)
}

// ShouldExclude compiles rules and evaluates title against them.
func ShouldExclude(title string, rules []Rule) bool {
	return Compile(rules).ShouldExclude(title)
}

// FilterEvents returns the events that survive f, in their original order.
// title extracts the text the rules are matched against.
func FilterEvents[E any](f *Filter, events []E, title func(E) string) []E {
	kept := make([]E, 0, len(events))
	for _, ev := range events {
		if f.ShouldExclude(title(ev)) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}
