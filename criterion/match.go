package criterion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MatchType selects how a name is compared
type MatchType int

// Match types
const (
	MatchExact MatchType = iota
	MatchRegex
	MatchRegexRegion
	MatchGlob
	MatchAny
)

var matchTypeNames = []string{"EXACT", "REGEX", "REGEX_REGION", "GLOB", "ANY"}

func (t MatchType) String() string {
	if t < 0 || int(t) >= len(matchTypeNames) {
		return "MatchType(" + strconv.Itoa(int(t)) + ")"
	}
	return matchTypeNames[t]
}

// ParseMatchType parses a match type name. The empty string is EXACT.
func ParseMatchType(s string) (MatchType, error) {
	if s == "" {
		return MatchExact, nil
	}
	for i, name := range matchTypeNames {
		if strings.EqualFold(s, name) {
			return MatchType(i), nil
		}
	}
	return MatchExact, fmt.Errorf("%w: match type %q", ErrUnknownOperator, s)
}

// Match is a compiled name test. The zero value matches the empty string
// exactly.
type Match struct {
	Type    MatchType
	Pattern string
	Negate  bool

	re *regexp.Regexp
}

// Exact matches names equal to name
func Exact(name string) Match {
	return Match{Type: MatchExact, Pattern: name}
}

// AnyName matches every name
func AnyName() Match {
	return Match{Type: MatchAny}
}

// Regex matches names fully matched by pattern
func Regex(pattern string) (Match, error) {
	return NewMatch(MatchRegex, pattern)
}

// Glob matches names against a shell style pattern
func Glob(pattern string) (Match, error) {
	return NewMatch(MatchGlob, pattern)
}

// NewMatch compiles a match of any type
func NewMatch(t MatchType, pattern string) (Match, error) {
	m := Match{Type: t, Pattern: pattern}
	var expr string
	switch t {
	case MatchExact, MatchAny:
		return m, nil
	case MatchRegex:
		expr = "^(?:" + pattern + ")$"
	case MatchRegexRegion:
		expr = pattern
	case MatchGlob:
		expr = globToRegexp(pattern)
	default:
		return m, fmt.Errorf("%w: match type %d", ErrUnknownOperator, int(t))
	}
	if err := checkPatternComplexity(pattern); err != nil {
		return m, err
	}
	re, err := compilePattern(expr)
	if err != nil {
		return m, err
	}
	m.re = re
	return m, nil
}

// MustMatch is NewMatch that panics on error
func MustMatch(t MatchType, pattern string) Match {
	m, err := NewMatch(t, pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Not returns the negated match
func (m Match) Not() Match {
	m.Negate = !m.Negate
	return m
}

// Test applies the match to name
func (m Match) Test(name string) bool {
	var ok bool
	switch m.Type {
	case MatchExact:
		ok = name == m.Pattern
	case MatchAny:
		ok = true
	default:
		ok = m.re != nil && m.re.MatchString(name)
	}
	return ok != m.Negate
}

// exactName returns the name when the match selects exactly one name
func (m Match) exactName() (string, bool) {
	if m.Type == MatchExact && !m.Negate {
		return m.Pattern, true
	}
	return "", false
}

func (m Match) unconstrained() bool {
	return m.Type == MatchAny && !m.Negate
}

func (m Match) String() string {
	var s string
	switch m.Type {
	case MatchExact:
		s = strconv.Quote(m.Pattern)
	case MatchAny:
		s = "*"
	default:
		s = strings.ToLower(m.Type.String()) + "(" + strconv.Quote(m.Pattern) + ")"
	}
	if m.Negate {
		return "!" + s
	}
	return s
}
