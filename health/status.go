package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the coarse health of a part
type State string

// States
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

var severity = map[State]int{StateHealthy: 0, StateDegraded: 1, StateUnhealthy: 2}

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one part, or of the whole gateway when it carries
// sub-statuses
type Status struct {
	Component   string    `json:"component"`
	State       State     `json:"state"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// Healthy builds a healthy status
func Healthy(message string) Status {
	return Status{State: StateHealthy, Message: message}
}

// Degraded builds a degraded status
func Degraded(message string) Status {
	return Status{State: StateDegraded, Message: message}
}

// Unhealthy builds an unhealthy status. The message is sanitized.
func Unhealthy(message string) Status {
	return Status{State: StateUnhealthy, Message: sanitize(message)}
}

// IsHealthy reports whether the state is healthy
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// Aggregate folds subs into one status named component. The worst state
// wins; no subs means healthy.
func Aggregate(component string, subs []Status) Status {
	worst := StateHealthy
	var failing []string
	for _, sub := range subs {
		if severity[sub.State] > severity[worst] {
			worst = sub.State
		}
		if sub.State != StateHealthy {
			failing = append(failing, sub.Component)
		}
	}

	out := Status{Component: component, State: worst}
	switch worst {
	case StateHealthy:
		out.Message = "all parts healthy"
	default:
		out.Message = string(worst) + ": " + strings.Join(failing, ", ")
	}
	if len(subs) > 0 {
		out.SubStatuses = append([]Status(nil), subs...)
	}
	return out
}

// sanitize masks addresses and credentials in error text
func sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = portRegex.ReplaceAllString(msg, "[PORT]")
	return credentialRegex.ReplaceAllString(msg, "[REDACTED]")
}
