// Package twin holds the live digital twin: providers, their services and
// timestamped resource values. Mutations are applied atomically per call,
// optionally persisted, and announced as data change events.
package twin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/metric"
	"github.com/c360/semtwin/snapshot"
)

// DefaultModel is the model of providers created without one
const DefaultModel = "default"

// Update sets one resource. Missing providers, services and resources are
// created on the fly. A zero Timestamp means now.
type Update struct {
	Model     string         `json:"model,omitempty"`
	Provider  string         `json:"provider"`
	Service   string         `json:"service"`
	Resource  string         `json:"resource"`
	Type      string         `json:"type,omitempty"`
	Value     any            `json:"value"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (u Update) validate() error {
	if u.Provider == "" || u.Service == "" || u.Resource == "" {
		return fmt.Errorf("%w: provider, service and resource are required (%s/%s/%s)",
			ErrInvalidUpdate, u.Provider, u.Service, u.Resource)
	}
	return nil
}

// Twin is the live model. It is safe for concurrent use.
type Twin struct {
	mu        sync.RWMutex
	providers map[string]*provider

	bus     events.Bus
	store   Store
	builder *snapshot.Builder
	metrics *metric.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Twin
type Option func(*Twin)

// WithBus publishes data change events on bus after each commit
func WithBus(bus events.Bus) Option {
	return func(t *Twin) { t.bus = bus }
}

// WithStore persists every committed value to store
func WithStore(store Store) Option {
	return func(t *Twin) { t.store = store }
}

// WithMetrics records update and snapshot metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(t *Twin) { t.metrics = m }
}

// WithLogger sets the twin logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Twin) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the clock used for default timestamps and snapshots
func WithClock(now func() time.Time) Option {
	return func(t *Twin) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates an empty twin
func New(opts ...Option) *Twin {
	t := &Twin{
		providers: make(map[string]*provider),
		logger:    slog.Default().With("component", "twin"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.builder = snapshot.NewBuilder(snapshot.WithClock(t.now), snapshot.WithLogger(t.logger))
	return t
}

// Apply commits updates as one unit. Either every update is validated and
// applied under one lock or none is. Updates older than the stored value
// and updates of action resources are ignored. It returns the number of
// values changed.
func (t *Twin) Apply(ctx context.Context, updates ...Update) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, u := range updates {
		if err := u.validate(); err != nil {
			return 0, errors.WrapInvalid(err, "Twin", "Apply", "validate update")
		}
	}

	now := t.now()
	changed := make([]events.DataChangeEvent, 0, len(updates))
	records := make([]Record, 0, len(updates))

	t.mu.Lock()
	for _, u := range updates {
		if u.Timestamp.IsZero() {
			u.Timestamp = now
		}
		ev, rec, ok := t.applyLocked(u)
		if !ok {
			continue
		}
		changed = append(changed, ev)
		records = append(records, rec)
	}
	count := len(t.providers)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordProviders(count)
	}
	if t.store != nil && len(records) > 0 {
		if err := t.store.Save(ctx, records); err != nil {
			t.logger.Warn("persisting updates failed", "count", len(records), "error", err)
		}
	}
	t.publish(ctx, changed)
	return len(changed), nil
}

// applyLocked writes one update. The lock is held.
func (t *Twin) applyLocked(u Update) (events.DataChangeEvent, Record, bool) {
	p, ok := t.providers[u.Provider]
	if !ok {
		model := u.Model
		if model == "" {
			model = DefaultModel
		}
		p = newProvider(u.Provider, model)
		t.providers[u.Provider] = p
	}
	r := p.ensureService(u.Service).ensureResource(u.Resource)
	if u.Type != "" {
		r.typ = u.Type
	}

	if r.kind == snapshot.KindAction || (r.value.IsSet() && u.Timestamp.Before(r.value.Timestamp)) {
		if t.metrics != nil {
			t.metrics.RecordUpdateIgnored(p.model)
		}
		t.logger.Debug("update ignored", "provider", u.Provider, "service", u.Service,
			"resource", u.Resource, "kind", r.kind, "timestamp", u.Timestamp)
		return events.DataChangeEvent{}, Record{}, false
	}

	old := r.value.Value
	r.value = snapshot.TimedValue{Value: snapshot.CopyValue(u.Value), Timestamp: u.Timestamp}
	if len(u.Metadata) > 0 {
		if r.metadata == nil {
			r.metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			r.metadata[k] = snapshot.CopyValue(v)
		}
	}
	if t.metrics != nil {
		t.metrics.RecordUpdateApplied(p.model)
	}

	ev := events.DataChangeEvent{
		Model:     p.model,
		Provider:  p.name,
		Service:   u.Service,
		Resource:  r.name,
		OldValue:  old,
		NewValue:  snapshot.CopyValue(r.value.Value),
		Timestamp: r.value.Timestamp,
		Metadata:  snapshot.CopyMap(r.metadata),
	}
	return ev, recordOf(p, u.Service, r), true
}

func (t *Twin) publish(ctx context.Context, evs []events.DataChangeEvent) {
	if t.bus == nil {
		return
	}
	for _, ev := range evs {
		if err := t.bus.Publish(ctx, ev); err != nil {
			t.logger.Warn("publishing data change failed", "subject", ev.Subject(), "error", err)
		}
	}
}

// Declare creates a resource without a value. Declaring an existing
// resource updates its type and kind only.
func (t *Twin) Declare(model, providerName, serviceName, resourceName, typ string, kind snapshot.ResourceKind) error {
	u := Update{Provider: providerName, Service: serviceName, Resource: resourceName}
	if err := u.validate(); err != nil {
		return errors.WrapInvalid(err, "Twin", "Declare", "validate declaration")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.providers[providerName]
	if !ok {
		if model == "" {
			model = DefaultModel
		}
		p = newProvider(providerName, model)
		t.providers[providerName] = p
	}
	r := p.ensureService(serviceName).ensureResource(resourceName)
	if typ != "" {
		r.typ = typ
	}
	r.kind = kind
	if kind == snapshot.KindAction {
		r.value = snapshot.TimedValue{}
	}
	return nil
}

// RemoveProvider deletes a provider and its persisted values
func (t *Twin) RemoveProvider(ctx context.Context, name string) error {
	t.mu.Lock()
	_, ok := t.providers[name]
	delete(t.providers, name)
	count := len(t.providers)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	if t.metrics != nil {
		t.metrics.RecordProviders(count)
	}
	if t.store != nil {
		if err := t.store.Delete(ctx, name); err != nil {
			return errors.Wrap(err, "Twin", "RemoveProvider", "delete persisted values")
		}
	}
	return nil
}

// Providers returns the sorted provider names
func (t *Twin) Providers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handles := source{t.providers}.Providers()
	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = h.Name()
	}
	return names
}

// View runs fn with a consistent read-only view of the twin. fn must not
// retain the source or call back into the twin for writing.
func (t *Twin) View(fn func(src snapshot.Source)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(source{t.providers})
}

// FilteredSnapshot builds a snapshot of every provider surviving f, all as
// of one instant
func (t *Twin) FilteredSnapshot(ctx context.Context, f snapshot.Filters) ([]*snapshot.ProviderSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Twin", "FilteredSnapshot", "check context")
	}
	start := time.Now()
	var out []*snapshot.ProviderSnapshot
	t.View(func(src snapshot.Source) {
		out = t.builder.Build(src, f)
	})
	if t.metrics != nil {
		t.metrics.RecordSnapshot("filtered", time.Since(start))
	}
	return out, nil
}

// SnapshotProvider snapshots one provider
func (t *Twin) SnapshotProvider(ctx context.Context, name string) (*snapshot.ProviderSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *snapshot.ProviderSnapshot
	t.View(func(src snapshot.Source) {
		p = t.builder.BuildProvider(src, name)
	})
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// SnapshotService snapshots one service of one provider
func (t *Twin) SnapshotService(ctx context.Context, providerName, serviceName string) (*snapshot.ServiceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s *snapshot.ServiceSnapshot
	found := false
	t.View(func(src snapshot.Source) {
		_, found = src.Provider(providerName)
		s = t.builder.BuildService(src, providerName, serviceName)
	})
	switch {
	case !found:
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	case s == nil:
		return nil, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, providerName, serviceName)
	}
	return s, nil
}

// SnapshotResource snapshots one resource
func (t *Twin) SnapshotResource(ctx context.Context, providerName, serviceName, resourceName string) (*snapshot.ResourceSnapshot, error) {
	s, err := t.SnapshotService(ctx, providerName, serviceName)
	if err != nil {
		return nil, err
	}
	r := s.Resource(resourceName)
	if r == nil {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrResourceNotFound, providerName, serviceName, resourceName)
	}
	return r, nil
}

// Restore loads persisted values into the twin without publishing events
// or writing them back
func (t *Twin) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	records, err := t.store.Load(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "Twin", "Restore", "load records")
	}

	t.mu.Lock()
	for _, rec := range records {
		p, ok := t.providers[rec.Provider]
		if !ok {
			p = newProvider(rec.Provider, rec.Model)
			t.providers[rec.Provider] = p
		}
		r := p.ensureService(rec.Service).ensureResource(rec.Resource)
		r.typ = rec.Type
		r.kind = rec.Kind
		r.metadata = rec.Metadata
		if rec.Kind != snapshot.KindAction && !rec.Timestamp.IsZero() {
			r.value = snapshot.TimedValue{Value: rec.Value, Timestamp: rec.Timestamp}
		}
	}
	count := len(t.providers)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordProviders(count)
	}
	t.logger.Info("twin restored", "records", len(records), "providers", count)
	return len(records), nil
}
