package snapshot

// Filter applies f to already built snapshots and returns pruned copies.
// The input is left untouched and every copy keeps its SnapshotTime.
func Filter(providers []*ProviderSnapshot, f Filters) []*ProviderSnapshot {
	b := NewBuilder()
	out := make([]*ProviderSnapshot, 0, len(providers))
	for _, p := range providers {
		if c := b.build(frozenProvider{p}, f.Structural(), p.SnapshotTime); c != nil {
			out = append(out, c)
		}
	}
	out = ApplyValueFilter(out, f.ResourceValue)
	for _, p := range out {
		p.FilterEmptyServices()
	}
	return out
}

// Sources adapts a set of snapshots to the Source interface
func Sources(providers []*ProviderSnapshot) Source {
	return frozenSource(providers)
}

type frozenSource []*ProviderSnapshot

func (s frozenSource) Providers() []ProviderHandle {
	out := make([]ProviderHandle, len(s))
	for i, p := range s {
		out[i] = frozenProvider{p}
	}
	return out
}

func (s frozenSource) Provider(name string) (ProviderHandle, bool) {
	for _, p := range s {
		if p.Name == name {
			return frozenProvider{p}, true
		}
	}
	return nil, false
}

type frozenProvider struct{ p *ProviderSnapshot }

func (f frozenProvider) Name() string        { return f.p.Name }
func (f frozenProvider) Model() string       { return f.p.Model }
func (f frozenProvider) Location() *Location { return f.p.Location }

func (f frozenProvider) ServiceNames() []string {
	names := make([]string, len(f.p.Services))
	for i, s := range f.p.Services {
		names[i] = s.Name
	}
	return names
}

func (f frozenProvider) Service(name string) (ServiceHandle, bool) {
	if s := f.p.Service(name); s != nil {
		return frozenService{s}, true
	}
	return nil, false
}

type frozenService struct{ s *ServiceSnapshot }

func (f frozenService) Name() string { return f.s.Name }

func (f frozenService) IsSet() bool {
	for _, r := range f.s.Resources {
		if r.IsSet() {
			return true
		}
	}
	return false
}

func (f frozenService) ResourceNames() []string {
	names := make([]string, len(f.s.Resources))
	for i, r := range f.s.Resources {
		names[i] = r.Name
	}
	return names
}

func (f frozenService) Resource(name string) (ResourceHandle, bool) {
	if r := f.s.Resource(name); r != nil {
		return frozenResource{r}, true
	}
	return nil, false
}

type frozenResource struct{ r *ResourceSnapshot }

func (f frozenResource) Name() string             { return f.r.Name }
func (f frozenResource) Type() string             { return f.r.Type }
func (f frozenResource) Kind() ResourceKind       { return f.r.Kind }
func (f frozenResource) Value() TimedValue        { return f.r.Value }
func (f frozenResource) Metadata() map[string]any { return f.r.Metadata }
