package criterion

import (
	"github.com/c360/semtwin/snapshot"
)

// selection is one compiled resource selector. Its value tests must all hold
// on a single resource of the service/resource path, and the structural
// filters keep only that path. A nil service or resource match leaves that
// segment unconstrained.
type selection struct {
	names    []Criterion
	service  *Match
	resource *Match
	tests    []ValueTest
	location []Criterion
	negate   bool
}

// Path selects the providers holding a resource at service/resource whose
// value passes every test. Unlike And(ServiceName, ResourceName, Value...),
// all parts apply to the same resource and siblings are pruned away.
func Path(service, resource Match, tests ...ValueTest) Criterion {
	return &selection{service: &service, resource: &resource, tests: tests}
}

func (s *selection) pathMatches() (Match, Match) {
	svc, rc := AnyName(), AnyName()
	if s.service != nil {
		svc = *s.service
	}
	if s.resource != nil {
		rc = *s.resource
	}
	return svc, rc
}

// scoped reports whether the selection restricts services or resources
func (s *selection) scoped() bool {
	svc, rc := s.pathMatches()
	return !svc.unconstrained() || !rc.unconstrained()
}

func (s *selection) onPath(r *snapshot.ResourceSnapshot) bool {
	svc, rc := s.pathMatches()
	sv := r.Service()
	return sv != nil && svc.Test(sv.Name) && rc.Test(r.Name)
}

func (s *selection) LocationFilter() snapshot.LocationFilter {
	if s.negate || len(s.location) == 0 {
		return nil
	}
	return And(s.location...).LocationFilter()
}

func (s *selection) ProviderFilter() snapshot.ProviderFilter {
	if s.negate || len(s.names) == 0 {
		return nil
	}
	return And(s.names...).ProviderFilter()
}

func (s *selection) ServiceFilter() snapshot.ServiceFilter {
	svc, _ := s.pathMatches()
	if s.negate || svc.unconstrained() {
		return nil
	}
	return func(sv *snapshot.ServiceSnapshot) bool { return svc.Test(sv.Name) }
}

func (s *selection) ResourceFilter() snapshot.ResourceFilter {
	if s.negate || !s.scoped() {
		return nil
	}
	return s.onPath
}

// ResourceValueFilter is nil when the structural filters already decide the
// selection. A negated selection is only decided here.
func (s *selection) ResourceValueFilter() snapshot.ResourceValueFilter {
	if !s.negate && len(s.tests) == 0 {
		return nil
	}
	return func(p *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool {
		return len(rs) > 0 && s.eval(p, rs)
	}
}

func (s *selection) DataTopics() []string { return renderTopics(s.topics()) }

func (s *selection) Negate() Criterion {
	out := *s
	out.negate = !s.negate
	return &out
}

// String renders the selector as the conjunction of its parts
func (s *selection) String() string {
	if s.negate {
		return "NOT " + s.expand().String()
	}
	return s.expand().String()
}

// expand lists the parts in selector order: names, path, values, location
func (s *selection) expand() Criterion {
	parts := append([]Criterion(nil), s.names...)
	if s.service != nil {
		parts = append(parts, ServiceName(*s.service))
	}
	if s.resource != nil {
		parts = append(parts, ResourceName(*s.resource))
	}
	svc, rc := s.pathMatches()
	for _, vt := range s.tests {
		parts = append(parts, Value(svc, rc, vt))
	}
	parts = append(parts, s.location...)
	return And(parts...)
}

func (s *selection) eval(p *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool {
	return s.holds(p, rs) != s.negate
}

func (s *selection) holds(p *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool {
	for _, c := range s.names {
		if !c.eval(p, rs) {
			return false
		}
	}
	for _, c := range s.location {
		if !c.eval(p, rs) {
			return false
		}
	}
	if len(s.tests) == 0 && !s.scoped() {
		return true
	}
	for _, r := range rs {
		if s.onPath(r) && s.passes(r) {
			return true
		}
	}
	return false
}

func (s *selection) passes(r *snapshot.ResourceSnapshot) bool {
	for _, vt := range s.tests {
		if !vt.Test(r) {
			return false
		}
	}
	return true
}

// topics merges the exact segments of every part into one pattern. A
// negated selection can be affected by any change.
func (s *selection) topics() []topic {
	if s.negate {
		return []topic{{}}
	}
	var t topic
	for _, c := range s.names {
		for _, o := range c.topics() {
			if m, ok := t.merge(o); ok {
				t = m
			}
		}
	}
	svc, rc := s.pathMatches()
	if name, ok := svc.exactName(); ok {
		t[FieldService] = name
	}
	if name, ok := rc.exactName(); ok {
		t[FieldResource] = name
	}
	return []topic{t}
}
