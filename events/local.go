package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/semtwin/metric"
)

// LocalBus delivers events synchronously to in-process subscribers
type LocalBus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*localSub
	logger  *slog.Logger
	metrics *metric.Metrics
}

type localSub struct {
	patterns []string
	handler  Handler
}

// LocalOption configures a LocalBus
type LocalOption func(*LocalBus)

// WithLocalLogger sets the bus logger
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(b *LocalBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithLocalMetrics records published events in the core metrics
func WithLocalMetrics(m *metric.Metrics) LocalOption {
	return func(b *LocalBus) {
		b.metrics = m
	}
}

// NewLocalBus creates an empty in-process bus
func NewLocalBus(opts ...LocalOption) *LocalBus {
	b := &LocalBus{
		subs:   make(map[uint64]*localSub),
		logger: slog.Default().With("component", "local-bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish hands ev to every matching subscriber before returning. A panicking
// handler is logged and does not stop delivery to the others.
func (b *LocalBus) Publish(ctx context.Context, ev DataChangeEvent) error {
	subject := ev.Subject()

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(subject) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(ctx, h, subject, ev)
	}
	if b.metrics != nil {
		b.metrics.RecordEventPublished("local")
	}
	return nil
}

func (b *LocalBus) deliver(ctx context.Context, h Handler, subject string, ev DataChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "subject", subject, "panic", r)
		}
	}()
	h(ctx, ev)
}

// Subscribe registers h for events whose subject matches any of patterns
func (b *LocalBus) Subscribe(_ context.Context, patterns []string, h Handler) (Registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[id] = &localSub{
		patterns: append([]string(nil), patterns...),
		handler:  h,
	}
	return &localRegistration{bus: b, id: id}, nil
}

// Subscribers returns the number of live subscriptions
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *localSub) matches(subject string) bool {
	for _, p := range s.patterns {
		if MatchSubject(p, subject) {
			return true
		}
	}
	return false
}

type localRegistration struct {
	bus  *LocalBus
	id   uint64
	once sync.Once
}

func (r *localRegistration) Unregister() error {
	r.once.Do(func() {
		r.bus.mu.Lock()
		delete(r.bus.subs, r.id)
		r.bus.mu.Unlock()
	})
	return nil
}
