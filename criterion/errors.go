package criterion

import "errors"

var (
	// ErrInvalidPattern is returned for patterns that fail to compile or
	// exceed the complexity limits
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidSelector is returned for selector documents that fail
	// validation
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrUnknownOperator is returned when parsing an unknown operator,
	// check type or match type
	ErrUnknownOperator = errors.New("unknown operator")
)
