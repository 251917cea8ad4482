// Package events carries data change notifications between the twin and its
// consumers, either in process or over NATS subjects.
package events

import (
	"context"
	"reflect"
	"time"

	"github.com/c360/semtwin/snapshot"
)

// DataChangeEvent reports that one resource received a new value
type DataChangeEvent struct {
	Model     string         `json:"model"`
	Provider  string         `json:"provider"`
	Service   string         `json:"service"`
	Resource  string         `json:"resource"`
	OldValue  any            `json:"old_value,omitempty"`
	NewValue  any            `json:"new_value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Subject returns the subject the event is published on
func (e DataChangeEvent) Subject() string {
	return DataSubject(e.Model, e.Provider, e.Service, e.Resource)
}

// Value returns the new value as a timed value
func (e DataChangeEvent) Value() snapshot.TimedValue {
	return snapshot.TimedValue{Value: e.NewValue, Timestamp: e.Timestamp}
}

// Handler receives events. It runs on the publisher's goroutine and must not
// block for long.
type Handler func(ctx context.Context, ev DataChangeEvent)

// Registration cancels a subscription
type Registration interface {
	Unregister() error
}

// Bus publishes events and fans them out to subscribers whose subject
// patterns match.
type Bus interface {
	Publish(ctx context.Context, ev DataChangeEvent) error
	Subscribe(ctx context.Context, patterns []string, h Handler) (Registration, error)
}

// ValuesEqual compares two event or snapshot values. Numbers compare by
// value regardless of their Go type.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// MetadataEqual compares metadata maps ignoring the value and timestamp keys
func MetadataEqual(a, b map[string]any) bool {
	count := func(m map[string]any) int {
		n := 0
		for k := range m {
			if !ignoredMetadataKey(k) {
				n++
			}
		}
		return n
	}
	if count(a) != count(b) {
		return false
	}
	for k, va := range a {
		if ignoredMetadataKey(k) {
			continue
		}
		vb, ok := b[k]
		if !ok || !ValuesEqual(va, vb) {
			return false
		}
	}
	return true
}

func ignoredMetadataKey(k string) bool {
	return k == "value" || k == "timestamp"
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
