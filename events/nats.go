package events

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/metric"
	"github.com/c360/semtwin/natsclient"
)

// NATSBus publishes events as JSON on their data subject
type NATSBus struct {
	client  *natsclient.Client
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NATSOption configures a NATSBus
type NATSOption func(*NATSBus)

// WithNATSLogger sets the bus logger
func WithNATSLogger(logger *slog.Logger) NATSOption {
	return func(b *NATSBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithNATSMetrics records published events in the core metrics
func WithNATSMetrics(m *metric.Metrics) NATSOption {
	return func(b *NATSBus) {
		b.metrics = m
	}
}

// NewNATSBus creates a bus over a connected client
func NewNATSBus(client *natsclient.Client, opts ...NATSOption) *NATSBus {
	b := &NATSBus{
		client: client,
		logger: slog.Default().With("component", "nats-bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish encodes ev and sends it on its subject
func (b *NATSBus) Publish(ctx context.Context, ev DataChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBus", "Publish", "encode event")
	}
	if err := b.client.Publish(ctx, ev.Subject(), data); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.RecordEventPublished("nats")
	}
	return nil
}

// Subscribe creates one NATS subscription per pattern. Undecodable messages
// are logged and dropped.
func (b *NATSBus) Subscribe(ctx context.Context, patterns []string, h Handler) (Registration, error) {
	reg := &natsRegistration{client: b.client}
	for _, p := range patterns {
		sub, err := b.client.Subscribe(ctx, p, func(msgCtx context.Context, subject string, data []byte) {
			var ev DataChangeEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				b.logger.Warn("dropping undecodable event", "subject", subject, "error", err)
				return
			}
			h(msgCtx, ev)
		})
		if err != nil {
			_ = reg.Unregister()
			return nil, errors.Wrap(err, "NATSBus", "Subscribe", "subscribe "+p)
		}
		reg.subs = append(reg.subs, sub)
	}
	return reg, nil
}

type natsRegistration struct {
	client *natsclient.Client
	mu     sync.Mutex
	subs   []*nats.Subscription
}

func (r *natsRegistration) Unregister() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := r.client.Unsubscribe(s); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
