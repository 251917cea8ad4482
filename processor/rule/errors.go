package rule

import "errors"

var (
	// ErrWhiteboardStopped is returned when registering after Stop
	ErrWhiteboardStopped = errors.New("rule whiteboard stopped")

	// ErrWhiteboardNotStarted is returned when registering before Start
	ErrWhiteboardNotStarted = errors.New("rule whiteboard not started")

	// ErrRuleExists is returned when an identity is registered twice
	ErrRuleExists = errors.New("rule already registered")

	// ErrRuleNotFound is returned when removing an unknown identity
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleAbandoned is returned when a rule gives up before it could be
	// registered
	ErrRuleAbandoned = errors.New("rule abandoned")

	// ErrNilDefinition is returned for a nil definition or input filter
	ErrNilDefinition = errors.New("rule definition or input filter is nil")
)
