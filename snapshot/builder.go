package snapshot

import (
	"log/slog"
	"time"
)

// Builder produces snapshots from a Source
type Builder struct {
	now    func() time.Time
	logger *slog.Logger
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithClock overrides the time source used for SnapshotTime
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the builder logger
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a builder using the wall clock
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		now:    time.Now,
		logger: slog.Default().With("component", "snapshot-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build snapshots every provider of src that survives f. The caller must keep
// src stable for the duration of the call.
func (b *Builder) Build(src Source, f Filters) []*ProviderSnapshot {
	at := b.now()
	handles := src.Providers()
	out := make([]*ProviderSnapshot, 0, len(handles))
	for _, h := range handles {
		if p := b.build(h, f, at); p != nil {
			out = append(out, p)
		}
	}
	out = ApplyValueFilter(out, f.ResourceValue)
	for _, p := range out {
		p.FilterEmptyServices()
	}
	b.logger.Debug("snapshot built", "providers", len(out), "scanned", len(handles))
	return out
}

// BuildProvider snapshots a single provider. It returns nil when the provider
// is unknown. The provider is never filtered out and all set services are
// included.
func (b *Builder) BuildProvider(src Source, name string) *ProviderSnapshot {
	h, ok := src.Provider(name)
	if !ok {
		return nil
	}
	p := b.build(h, Filters{}, b.now())
	p.FilterEmptyServices()
	return p
}

// BuildService snapshots one service of one provider, nil when either is
// unknown.
func (b *Builder) BuildService(src Source, provider, service string) *ServiceSnapshot {
	h, ok := src.Provider(provider)
	if !ok {
		return nil
	}
	sh, ok := h.Service(service)
	if !ok {
		return nil
	}
	p := shell(h, b.now())
	s := &ServiceSnapshot{Name: sh.Name()}
	p.add(s)
	fillResources(s, sh, nil)
	return s
}

// BuildResource snapshots one resource, nil when any level is unknown
func (b *Builder) BuildResource(src Source, provider, service, resource string) *ResourceSnapshot {
	s := b.BuildService(src, provider, service)
	if s == nil {
		return nil
	}
	return s.Resource(resource)
}

func shell(h ProviderHandle, at time.Time) *ProviderSnapshot {
	p := &ProviderSnapshot{
		Name:         h.Name(),
		Model:        h.Model(),
		SnapshotTime: at,
	}
	if loc := h.Location(); loc != nil {
		l := *loc
		p.Location = &l
	}
	return p
}

// build runs the structural phases for one provider. It returns nil when the
// provider is filtered out.
func (b *Builder) build(h ProviderHandle, f Filters, at time.Time) *ProviderSnapshot {
	if f.Location != nil && !f.Location(h.Location()) {
		return nil
	}

	p := shell(h, at)
	if f.Provider != nil && !f.Provider(p) {
		return nil
	}

	for _, name := range h.ServiceNames() {
		sh, ok := h.Service(name)
		if !ok || !sh.IsSet() {
			continue
		}
		s := &ServiceSnapshot{Name: sh.Name(), provider: p}
		if f.Service != nil && !f.Service(s) {
			continue
		}
		p.add(s)
		fillResources(s, sh, f.Resource)
	}

	if (f.Service != nil || f.Resource != nil) && !hasResources(p) {
		return nil
	}
	return p
}

func fillResources(s *ServiceSnapshot, sh ServiceHandle, filter ResourceFilter) {
	for _, name := range sh.ResourceNames() {
		rh, ok := sh.Resource(name)
		if !ok {
			continue
		}
		r := &ResourceSnapshot{
			service:  s,
			Name:     rh.Name(),
			Type:     rh.Type(),
			Kind:     rh.Kind(),
			Metadata: CopyMap(rh.Metadata()),
		}
		if r.Kind != KindAction {
			v := rh.Value()
			r.Value = TimedValue{Value: CopyValue(v.Value), Timestamp: v.Timestamp}
		}
		if filter != nil && !filter(r) {
			continue
		}
		s.add(r)
	}
}

func hasResources(p *ProviderSnapshot) bool {
	for _, s := range p.Services {
		if len(s.Resources) > 0 {
			return true
		}
	}
	return false
}

// CopyValue deep-copies maps and slices produced by JSON decoding. Other
// values are returned as is.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CopyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}

// CopyMap deep-copies a metadata map. A nil map stays nil.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}
