package events

import (
	"fmt"
	"strings"
)

// SubjectPrefix is the root of every data change subject
const SubjectPrefix = "twin.data"

// DataSubject builds the subject of one resource:
// twin.data.<model>.<provider>.<service>.<resource>
func DataSubject(model, provider, service, resource string) string {
	return strings.Join([]string{
		SubjectPrefix,
		EscapeToken(model),
		EscapeToken(provider),
		EscapeToken(service),
		EscapeToken(resource),
	}, ".")
}

// SubjectPattern builds a subscription pattern. An empty segment is a single
// token wildcard, and trailing wildcards collapse into ">".
func SubjectPattern(model, provider, service, resource string) string {
	segs := []string{model, provider, service, resource}
	last := len(segs) - 1
	for last >= 0 && segs[last] == "" {
		last--
	}
	parts := []string{SubjectPrefix}
	for _, s := range segs[:last+1] {
		if s == "" {
			parts = append(parts, "*")
		} else {
			parts = append(parts, EscapeToken(s))
		}
	}
	if last < len(segs)-1 {
		parts = append(parts, ">")
	}
	return strings.Join(parts, ".")
}

// EscapeToken makes a name safe to use as one subject token. Separators,
// wildcards, whitespace and the escape character are percent encoded and the
// empty name becomes "_".
func EscapeToken(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '.' || r == '*' || r == '>' || r == '%' || r == '_' && s == "_":
			fmt.Fprintf(&b, "%%%02X", r)
		case r <= ' ' || r == 0x7f:
			fmt.Fprintf(&b, "%%%02X", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchSubject reports whether subject matches a NATS style pattern where
// "*" matches one token and a final ">" matches one or more tokens.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
