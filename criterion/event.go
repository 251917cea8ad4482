package criterion

import (
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/snapshot"
)

// EventFilter decides whether a data change event may affect a criterion
type EventFilter func(ev events.DataChangeEvent) bool

// DataEventFilter tests the structural predicates of c against a one
// resource snapshot built from the event. The location predicate only
// applies to changes of the admin/location resource.
func DataEventFilter(c Criterion) EventFilter {
	lf := c.LocationFilter()
	pf := c.ProviderFilter()
	sf := c.ServiceFilter()
	rf := c.ResourceFilter()

	return func(ev events.DataChangeEvent) bool {
		p := snapshot.Single(ev.Model, ev.Provider, ev.Service, snapshot.ResourceSnapshot{
			Name:     ev.Resource,
			Value:    ev.Value(),
			Metadata: ev.Metadata,
		}, ev.Timestamp)

		if lf != nil && ev.Service == snapshot.AdminService && ev.Resource == snapshot.LocationResource {
			loc, _ := snapshot.ParseLocation(ev.NewValue)
			if !lf(loc) {
				return false
			}
		}
		if pf != nil && !pf(p) {
			return false
		}
		svc := p.Services[0]
		if sf != nil && !sf(svc) {
			return false
		}
		if rf != nil && !rf(svc.Resources[0]) {
			return false
		}
		return true
	}
}
