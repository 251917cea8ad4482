package criterion

import (
	"strings"

	"github.com/c360/semtwin/snapshot"
)

// Criterion is a compiled selection over providers, services and resources
type Criterion interface {
	LocationFilter() snapshot.LocationFilter
	ProviderFilter() snapshot.ProviderFilter
	ServiceFilter() snapshot.ServiceFilter
	ResourceFilter() snapshot.ResourceFilter
	ResourceValueFilter() snapshot.ResourceValueFilter

	// DataTopics returns the event subject patterns that can carry a change
	// relevant to the criterion
	DataTopics() []string

	// Negate returns the logical complement
	Negate() Criterion

	String() string

	// eval is the full semantic test of a provider given its resources
	eval(p *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool
	topics() []topic
}

// Filters returns the snapshot filters of c
func Filters(c Criterion) snapshot.Filters {
	return snapshot.Filters{
		Location:      c.LocationFilter(),
		Provider:      c.ProviderFilter(),
		Service:       c.ServiceFilter(),
		Resource:      c.ResourceFilter(),
		ResourceValue: c.ResourceValueFilter(),
	}
}

// Apply filters already built snapshots with c. The input is not modified.
func Apply(c Criterion, providers []*snapshot.ProviderSnapshot) []*snapshot.ProviderSnapshot {
	return snapshot.Filter(providers, Filters(c))
}

// Field names a provider level or structural attribute
type Field int

// Fields
const (
	FieldModel Field = iota
	FieldProvider
	FieldService
	FieldResource
)

var fieldNames = []string{"model", "provider", "service", "resource"}

func (f Field) String() string {
	return fieldNames[f]
}

// nameLeaf tests one name field
type nameLeaf struct {
	field Field
	match Match
}

// ModelName selects providers by model name
func ModelName(m Match) Criterion { return &nameLeaf{field: FieldModel, match: m} }

// ProviderName selects providers by name
func ProviderName(m Match) Criterion { return &nameLeaf{field: FieldProvider, match: m} }

// ServiceName selects services by name
func ServiceName(m Match) Criterion { return &nameLeaf{field: FieldService, match: m} }

// ResourceName selects resources by name
func ResourceName(m Match) Criterion { return &nameLeaf{field: FieldResource, match: m} }

func (l *nameLeaf) LocationFilter() snapshot.LocationFilter { return nil }

func (l *nameLeaf) ProviderFilter() snapshot.ProviderFilter {
	switch l.field {
	case FieldModel:
		return func(p *snapshot.ProviderSnapshot) bool { return l.match.Test(p.Model) }
	case FieldProvider:
		return func(p *snapshot.ProviderSnapshot) bool { return l.match.Test(p.Name) }
	}
	return nil
}

func (l *nameLeaf) ServiceFilter() snapshot.ServiceFilter {
	if l.field != FieldService {
		return nil
	}
	return func(s *snapshot.ServiceSnapshot) bool { return l.match.Test(s.Name) }
}

func (l *nameLeaf) ResourceFilter() snapshot.ResourceFilter {
	switch l.field {
	case FieldService:
		return func(r *snapshot.ResourceSnapshot) bool {
			s := r.Service()
			return s != nil && l.match.Test(s.Name)
		}
	case FieldResource:
		return func(r *snapshot.ResourceSnapshot) bool { return l.match.Test(r.Name) }
	}
	return nil
}

func (l *nameLeaf) ResourceValueFilter() snapshot.ResourceValueFilter { return nil }

func (l *nameLeaf) DataTopics() []string { return renderTopics(l.topics()) }

func (l *nameLeaf) Negate() Criterion {
	return &nameLeaf{field: l.field, match: l.match.Not()}
}

func (l *nameLeaf) String() string {
	return l.field.String() + " " + l.match.String()
}

func (l *nameLeaf) eval(p *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool {
	if pf := l.ProviderFilter(); pf != nil {
		return pf(p)
	}
	rf := l.ResourceFilter()
	for _, r := range rs {
		if rf(r) {
			return true
		}
	}
	return false
}

func (l *nameLeaf) topics() []topic {
	var t topic
	if name, ok := l.match.exactName(); ok {
		t[l.field] = name
	}
	return []topic{t}
}

// valueLeaf compares the value of the resources found at a path
type valueLeaf struct {
	service  Match
	resource Match
	test     ValueTest
}

// Value tests the resources whose service and resource names match. The
// leaf places no structural constraint. Resources outside the path do not
// take part in the comparison.
func Value(service, resource Match, vt ValueTest) Criterion {
	return &valueLeaf{service: service, resource: resource, test: vt}
}

// Compare is Value with exact path names and a VALUE check
func Compare(service, resource string, op Operator, operands ...string) (Criterion, error) {
	vt, err := NewValueTest(op, CheckValue, operands...)
	if err != nil {
		return nil, err
	}
	return Value(Exact(service), Exact(resource), vt), nil
}

// Present selects providers where service/resource has been set
func Present(service, resource string) Criterion {
	return Value(Exact(service), Exact(resource), ValueTest{Op: OpIsSet})
}

func (l *valueLeaf) LocationFilter() snapshot.LocationFilter { return nil }
func (l *valueLeaf) ProviderFilter() snapshot.ProviderFilter { return nil }
func (l *valueLeaf) ServiceFilter() snapshot.ServiceFilter   { return nil }
func (l *valueLeaf) ResourceFilter() snapshot.ResourceFilter { return nil }

func (l *valueLeaf) ResourceValueFilter() snapshot.ResourceValueFilter {
	return l.eval
}

func (l *valueLeaf) DataTopics() []string { return renderTopics(l.topics()) }

func (l *valueLeaf) Negate() Criterion {
	return &valueLeaf{service: l.service, resource: l.resource, test: l.test.Not()}
}

func (l *valueLeaf) String() string {
	return l.service.String() + "/" + l.resource.String() + " " + l.test.String()
}

func (l *valueLeaf) onPath(r *snapshot.ResourceSnapshot) bool {
	s := r.Service()
	return s != nil && l.service.Test(s.Name) && l.resource.Test(r.Name)
}

func (l *valueLeaf) eval(_ *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool {
	for _, r := range rs {
		if l.onPath(r) && l.test.Test(r) {
			return true
		}
	}
	return false
}

func (l *valueLeaf) topics() []topic {
	var t topic
	if name, ok := l.service.exactName(); ok {
		t[FieldService] = name
	}
	if name, ok := l.resource.exactName(); ok {
		t[FieldResource] = name
	}
	return []topic{t}
}

// constant matches everything or nothing
type constant bool

// All matches every provider
func All() Criterion { return constant(true) }

// None matches no provider
func None() Criterion { return constant(false) }

func (c constant) LocationFilter() snapshot.LocationFilter { return nil }

func (c constant) ProviderFilter() snapshot.ProviderFilter {
	if c {
		return nil
	}
	return func(*snapshot.ProviderSnapshot) bool { return false }
}

func (c constant) ServiceFilter() snapshot.ServiceFilter             { return nil }
func (c constant) ResourceFilter() snapshot.ResourceFilter           { return nil }
func (c constant) ResourceValueFilter() snapshot.ResourceValueFilter { return nil }
func (c constant) DataTopics() []string                              { return renderTopics(c.topics()) }
func (c constant) Negate() Criterion                                 { return !c }

func (c constant) String() string {
	if c {
		return "all"
	}
	return "none"
}

func (c constant) eval(*snapshot.ProviderSnapshot, []*snapshot.ResourceSnapshot) bool {
	return bool(c)
}

func (c constant) topics() []topic {
	if c {
		return []topic{{}}
	}
	return nil
}

// junction is an And or an Or over two or more children
type junction struct {
	and      bool
	children []Criterion
}

// And matches when every child matches. With no children it matches
// everything.
func And(children ...Criterion) Criterion {
	return newJunction(true, children)
}

// Or matches when any child matches. With no children it matches nothing.
func Or(children ...Criterion) Criterion {
	return newJunction(false, children)
}

// Any is the union of independent top level criteria
func Any(criteria ...Criterion) Criterion {
	return Or(criteria...)
}

// Negate returns the complement of c
func Negate(c Criterion) Criterion {
	return c.Negate()
}

func newJunction(and bool, children []Criterion) Criterion {
	kept := make([]Criterion, 0, len(children))
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return constant(and)
	case 1:
		return kept[0]
	}
	return &junction{and: and, children: kept}
}

func (j *junction) LocationFilter() snapshot.LocationFilter {
	var filters []snapshot.LocationFilter
	for _, c := range j.children {
		f := c.LocationFilter()
		if f == nil {
			if !j.and {
				return nil
			}
			continue
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return nil
	}
	return func(l *snapshot.Location) bool {
		for _, f := range filters {
			if f(l) == !j.and {
				return !j.and
			}
		}
		return j.and
	}
}

// ProviderFilter is undefined as soon as one child has no provider level
// filter. Such children are only evaluated by the value filter.
func (j *junction) ProviderFilter() snapshot.ProviderFilter {
	filters := make([]snapshot.ProviderFilter, 0, len(j.children))
	for _, c := range j.children {
		f := c.ProviderFilter()
		if f == nil {
			return nil
		}
		filters = append(filters, f)
	}
	return func(p *snapshot.ProviderSnapshot) bool {
		for _, f := range filters {
			if f(p) == !j.and {
				return !j.and
			}
		}
		return j.and
	}
}

// ServiceFilter keeps the services any child keeps, under And as well as Or.
// Pruning stays a superset of every child's selection, and the value filter
// then checks each child against the surviving resources.
func (j *junction) ServiceFilter() snapshot.ServiceFilter {
	filters := make([]snapshot.ServiceFilter, 0, len(j.children))
	for _, c := range j.children {
		f := c.ServiceFilter()
		if f == nil {
			return nil
		}
		filters = append(filters, f)
	}
	return func(s *snapshot.ServiceSnapshot) bool {
		for _, f := range filters {
			if f(s) {
				return true
			}
		}
		return false
	}
}

// ResourceFilter keeps the resources any child keeps
func (j *junction) ResourceFilter() snapshot.ResourceFilter {
	filters := make([]snapshot.ResourceFilter, 0, len(j.children))
	for _, c := range j.children {
		f := c.ResourceFilter()
		if f == nil {
			return nil
		}
		filters = append(filters, f)
	}
	return func(r *snapshot.ResourceSnapshot) bool {
		for _, f := range filters {
			if f(r) {
				return true
			}
		}
		return false
	}
}

// ResourceValueFilter requires at least one resource, then the provider
// filter when there is one, then every child (And) or any child (Or).
func (j *junction) ResourceValueFilter() snapshot.ResourceValueFilter {
	pf := j.ProviderFilter()
	return func(p *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool {
		if len(rs) == 0 {
			return false
		}
		if pf != nil && !pf(p) {
			return false
		}
		return j.eval(p, rs)
	}
}

func (j *junction) eval(p *snapshot.ProviderSnapshot, rs []*snapshot.ResourceSnapshot) bool {
	for _, c := range j.children {
		if c.eval(p, rs) == !j.and {
			return !j.and
		}
	}
	return j.and
}

func (j *junction) DataTopics() []string { return renderTopics(j.topics()) }

func (j *junction) Negate() Criterion {
	negated := make([]Criterion, len(j.children))
	for i, c := range j.children {
		negated[i] = c.Negate()
	}
	return &junction{and: !j.and, children: negated}
}

func (j *junction) String() string {
	op := " OR "
	if j.and {
		op = " AND "
	}
	parts := make([]string, len(j.children))
	for i, c := range j.children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, op) + ")"
}

// topics concatenates the children's patterns. A change on any of them can
// flip the junction, whichever way the children are combined.
func (j *junction) topics() []topic {
	var out []topic
	for _, c := range j.children {
		out = append(out, c.topics()...)
	}
	return reduceTopics(out)
}
