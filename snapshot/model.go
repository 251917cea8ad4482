package snapshot

import (
	"fmt"
	"strings"
	"time"
)

// ResourceKind classifies a resource
type ResourceKind int

// Resource kinds. Actions carry no value.
const (
	KindProperty ResourceKind = iota
	KindSensor
	KindState
	KindAction
)

var kindNames = []string{"property", "sensor", "state", "action"}

// String returns the lower-case kind name
func (k ResourceKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind parses a kind name. The empty string is a property.
func ParseKind(s string) (ResourceKind, error) {
	if s == "" {
		return KindProperty, nil
	}
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return ResourceKind(i), nil
		}
	}
	return KindProperty, fmt.Errorf("unknown resource kind %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (k ResourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ResourceKind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// TimedValue is a value and the instant it was set. A zero Timestamp means
// the value was never set.
type TimedValue struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// IsSet reports whether the value has ever been written
func (v TimedValue) IsSet() bool {
	return !v.Timestamp.IsZero()
}

// Location is a WGS84 point
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// ResourceSnapshot is the frozen state of one resource
type ResourceSnapshot struct {
	service *ServiceSnapshot

	Name     string
	Type     string
	Kind     ResourceKind
	Value    TimedValue
	Metadata map[string]any
}

// IsSet reports whether the resource has a value
func (r *ResourceSnapshot) IsSet() bool {
	return r.Value.IsSet()
}

// Service returns the owning service
func (r *ResourceSnapshot) Service() *ServiceSnapshot {
	return r.service
}

// Provider returns the owning provider, nil for a detached resource
func (r *ResourceSnapshot) Provider() *ProviderSnapshot {
	if r.service == nil {
		return nil
	}
	return r.service.provider
}

// ServiceSnapshot groups the resources of one service
type ServiceSnapshot struct {
	provider *ProviderSnapshot

	Name      string
	Resources []*ResourceSnapshot
}

// Provider returns the owning provider
func (s *ServiceSnapshot) Provider() *ProviderSnapshot {
	return s.provider
}

// Resource returns the named resource or nil
func (s *ServiceSnapshot) Resource(name string) *ResourceSnapshot {
	for _, r := range s.Resources {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (s *ServiceSnapshot) add(r *ResourceSnapshot) {
	r.service = s
	s.Resources = append(s.Resources, r)
}

// ProviderSnapshot is the frozen state of one provider
type ProviderSnapshot struct {
	Name         string
	Model        string
	Location     *Location
	Services     []*ServiceSnapshot
	SnapshotTime time.Time
}

// Service returns the named service or nil
func (p *ProviderSnapshot) Service(name string) *ServiceSnapshot {
	for _, s := range p.Services {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Resource returns the named resource or nil
func (p *ProviderSnapshot) Resource(service, resource string) *ResourceSnapshot {
	if s := p.Service(service); s != nil {
		return s.Resource(resource)
	}
	return nil
}

// Resources returns every resource of every service, in order
func (p *ProviderSnapshot) Resources() []*ResourceSnapshot {
	n := 0
	for _, s := range p.Services {
		n += len(s.Resources)
	}
	out := make([]*ResourceSnapshot, 0, n)
	for _, s := range p.Services {
		out = append(out, s.Resources...)
	}
	return out
}

// FilterEmptyServices drops services that hold no resources
func (p *ProviderSnapshot) FilterEmptyServices() {
	kept := p.Services[:0]
	for _, s := range p.Services {
		if len(s.Resources) > 0 {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(p.Services); i++ {
		p.Services[i] = nil
	}
	p.Services = kept
}

func (p *ProviderSnapshot) add(s *ServiceSnapshot) {
	s.provider = p
	p.Services = append(p.Services, s)
}

// Single builds a detached one-resource provider snapshot, used to test a
// data change event against structural predicates.
func Single(model, provider, service string, r ResourceSnapshot, at time.Time) *ProviderSnapshot {
	p := &ProviderSnapshot{Name: provider, Model: model, SnapshotTime: at}
	p.AddService(service).AddResource(r)
	return p
}

// AddService appends an empty service and returns it. Intended for
// assembling snapshots outside the builder, such as decoded twin dumps.
func (p *ProviderSnapshot) AddService(name string) *ServiceSnapshot {
	s := &ServiceSnapshot{Name: name}
	p.add(s)
	return s
}

// AddResource appends a copy of r and returns the stored resource
func (s *ServiceSnapshot) AddResource(r ResourceSnapshot) *ResourceSnapshot {
	rc := r
	s.add(&rc)
	return &rc
}
