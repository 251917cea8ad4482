package snapshot

// Predicates applied by the builder. A nil predicate accepts everything.
type (
	LocationFilter      func(*Location) bool
	ProviderFilter      func(*ProviderSnapshot) bool
	ServiceFilter       func(*ServiceSnapshot) bool
	ResourceFilter      func(*ResourceSnapshot) bool
	ResourceValueFilter func(*ProviderSnapshot, []*ResourceSnapshot) bool
)

// Filters bundles the predicates of one Build call
type Filters struct {
	Location      LocationFilter
	Provider      ProviderFilter
	Service       ServiceFilter
	Resource      ResourceFilter
	ResourceValue ResourceValueFilter
}

// Structural returns a copy without the resource value predicate
func (f Filters) Structural() Filters {
	f.ResourceValue = nil
	return f
}

// ApplyValueFilter keeps the providers whose flattened resources satisfy rv.
// A nil rv keeps everything.
func ApplyValueFilter(providers []*ProviderSnapshot, rv ResourceValueFilter) []*ProviderSnapshot {
	if rv == nil {
		return providers
	}
	out := make([]*ProviderSnapshot, 0, len(providers))
	for _, p := range providers {
		if rv(p, p.Resources()) {
			out = append(out, p)
		}
	}
	return out
}
