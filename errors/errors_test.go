package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrap(t *testing.T) {
	cause := errors.New("bucket offline")
	err := Wrap(cause, "KVStore", "Save", "put resource record")

	require.Error(t, err)
	assert.Equal(t, "KVStore.Save: put resource record failed: bucket offline", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestWrapClassified(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"transient", WrapTransient(cause, "Twin", "Apply", "commit"), ErrorTransient},
		{"invalid", WrapInvalid(cause, "Selector", "Compile", "compile pattern"), ErrorInvalid},
		{"fatal", WrapFatal(cause, "Server", "Start", "listen"), ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ce *ClassifiedError
			require.True(t, errors.As(tt.err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.ErrorIs(t, tt.err, cause)
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}

	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", ErrConnectionTimeout, true},
		{"no connection", ErrNoConnection, true},
		{"deadline", context.DeadlineExceeded, true},
		{"message pattern", fmt.Errorf("twin store temporarily unavailable"), true},
		{"invalid data", ErrInvalidData, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: ErrConnectionLost}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestIsFatalAndInvalid(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(fmt.Errorf("load: %w", ErrMissingConfig)))
	assert.False(t, IsFatal(ErrConnectionLost))
	assert.False(t, IsFatal(nil))

	assert.True(t, IsInvalid(ErrParsingFailed))
	assert.True(t, IsInvalid(fmt.Errorf("decode: %w", ErrInvalidData)))
	assert.False(t, IsInvalid(ErrConnectionLost))
	assert.False(t, IsInvalid(nil))
}

func TestRetryConfig_BackoffDelay(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, rc.BackoffDelay(0))
	assert.Equal(t, 200*time.Millisecond, rc.BackoffDelay(1))
	assert.Equal(t, 400*time.Millisecond, rc.BackoffDelay(2))
	assert.Equal(t, 800*time.Millisecond, rc.BackoffDelay(3))
	assert.Equal(t, time.Second, rc.BackoffDelay(4))
	assert.Equal(t, time.Second, rc.BackoffDelay(10))
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(ErrInvalidData, 0))
	assert.False(t, rc.ShouldRetry(nil, 0))
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	rc := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 3}
	cfg := rc.ToRetryConfig()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, time.Second, cfg.MaxDelay)
	assert.Equal(t, 3.0, cfg.Multiplier)
	assert.True(t, cfg.AddJitter)
}
