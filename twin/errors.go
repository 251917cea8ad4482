package twin

import "errors"

var (
	// ErrProviderNotFound is returned when a provider does not exist
	ErrProviderNotFound = errors.New("provider not found")

	// ErrServiceNotFound is returned when a service does not exist
	ErrServiceNotFound = errors.New("service not found")

	// ErrResourceNotFound is returned when a resource does not exist
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidUpdate is returned for updates missing a name
	ErrInvalidUpdate = errors.New("invalid update")
)
