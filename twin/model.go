package twin

import (
	"sort"

	"github.com/c360/semtwin/snapshot"
)

// provider, service and resource are the live, mutable twin entities. They
// are only touched with the twin lock held and implement the snapshot
// handles directly.

type provider struct {
	name     string
	model    string
	services map[string]*service
	order    []string
}

type service struct {
	name      string
	resources map[string]*resource
	order     []string
}

type resource struct {
	name     string
	typ      string
	kind     snapshot.ResourceKind
	value    snapshot.TimedValue
	metadata map[string]any
}

func newProvider(name, model string) *provider {
	return &provider{name: name, model: model, services: make(map[string]*service)}
}

func (p *provider) ensureService(name string) *service {
	s, ok := p.services[name]
	if !ok {
		s = &service{name: name, resources: make(map[string]*resource)}
		p.services[name] = s
		p.order = append(p.order, name)
	}
	return s
}

func (s *service) ensureResource(name string) *resource {
	r, ok := s.resources[name]
	if !ok {
		r = &resource{name: name, typ: "any"}
		s.resources[name] = r
		s.order = append(s.order, name)
	}
	return r
}

func (p *provider) Name() string  { return p.name }
func (p *provider) Model() string { return p.model }

// Location reads the admin/location resource
func (p *provider) Location() *snapshot.Location {
	s, ok := p.services[snapshot.AdminService]
	if !ok {
		return nil
	}
	r, ok := s.resources[snapshot.LocationResource]
	if !ok || !r.value.IsSet() {
		return nil
	}
	loc, _ := snapshot.ParseLocation(r.value.Value)
	return loc
}

func (p *provider) ServiceNames() []string {
	return append([]string(nil), p.order...)
}

func (p *provider) Service(name string) (snapshot.ServiceHandle, bool) {
	s, ok := p.services[name]
	if !ok {
		return nil, false
	}
	return s, true
}

func (s *service) Name() string { return s.name }

func (s *service) IsSet() bool {
	for _, r := range s.resources {
		if r.value.IsSet() {
			return true
		}
	}
	return false
}

func (s *service) ResourceNames() []string {
	return append([]string(nil), s.order...)
}

func (s *service) Resource(name string) (snapshot.ResourceHandle, bool) {
	r, ok := s.resources[name]
	if !ok {
		return nil, false
	}
	return r, true
}

func (r *resource) Name() string                { return r.name }
func (r *resource) Type() string                { return r.typ }
func (r *resource) Kind() snapshot.ResourceKind { return r.kind }
func (r *resource) Value() snapshot.TimedValue  { return r.value }
func (r *resource) Metadata() map[string]any    { return r.metadata }

// source exposes the provider map as a snapshot.Source. The caller holds
// the twin lock.
type source struct {
	providers map[string]*provider
}

func (s source) Providers() []snapshot.ProviderHandle {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]snapshot.ProviderHandle, len(names))
	for i, name := range names {
		out[i] = s.providers[name]
	}
	return out
}

func (s source) Provider(name string) (snapshot.ProviderHandle, bool) {
	p, ok := s.providers[name]
	if !ok {
		return nil, false
	}
	return p, true
}
