package rule

import (
	"fmt"
	"time"

	"github.com/c360/semtwin/errors"
)

// Config sizes the whiteboard's shared worker pool and the rebuild retry
// policy of every rule processor
type Config struct {
	// Workers run snapshot rebuilds and rule evaluations
	Workers int `json:"workers"`

	// QueueSize bounds the pool's work queue
	QueueSize int `json:"queue_size"`

	// MaxAttempts is the number of consecutive failed rebuilds after which a
	// rule is abandoned
	MaxAttempts int `json:"max_attempts"`

	// Retry spaces rebuild attempts
	Retry errors.RetryConfig `json:"-"`

	// StopTimeout bounds how long Stop waits for in-flight work
	StopTimeout time.Duration `json:"stop_timeout"`
}

// DefaultConfig returns the engine defaults: 4 workers, 6 attempts
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueSize:   1024,
		MaxAttempts: 6,
		Retry: errors.RetryConfig{
			MaxRetries:    5,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
		},
		StopTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return errors.WrapInvalid(fmt.Errorf("workers must be positive, got %d", c.Workers),
			"Whiteboard", "Validate", "check workers")
	case c.QueueSize <= 0:
		return errors.WrapInvalid(fmt.Errorf("queue_size must be positive, got %d", c.QueueSize),
			"Whiteboard", "Validate", "check queue size")
	case c.MaxAttempts <= 0:
		return errors.WrapInvalid(fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts),
			"Whiteboard", "Validate", "check max attempts")
	case c.Retry.BackoffFactor < 1:
		return errors.WrapInvalid(fmt.Errorf("backoff factor must be at least 1, got %g", c.Retry.BackoffFactor),
			"Whiteboard", "Validate", "check backoff")
	}
	return nil
}
