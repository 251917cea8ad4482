package worker

import "errors"

var (
	// ErrNotStarted is returned by Submit before Start
	ErrNotStarted = errors.New("worker: not started")
	// ErrStopped is returned by Submit and Schedule after Stop
	ErrStopped = errors.New("worker: stopped")
	// ErrAlreadyStarted is returned by a second Start on a pool or scheduler
	ErrAlreadyStarted = errors.New("worker: already started")
	// ErrQueueFull is returned by Submit when the queue has no free slot
	ErrQueueFull = errors.New("worker: queue full")
	// ErrNilHandler is the panic value of NewPool when the handler is nil
	ErrNilHandler = errors.New("worker: nil handler")
	// ErrStopTimeout is returned by Pool.Stop when workers outlive the timeout
	ErrStopTimeout = errors.New("worker: stop timed out")
)
