package snapshot

// Source is the read side of the live twin. Implementations must hold
// whatever lock keeps the view consistent for the duration of a Build.
type Source interface {
	Providers() []ProviderHandle
	Provider(name string) (ProviderHandle, bool)
}

// ProviderHandle exposes one live provider
type ProviderHandle interface {
	Name() string
	Model() string
	Location() *Location
	ServiceNames() []string
	Service(name string) (ServiceHandle, bool)
}

// ServiceHandle exposes one live service. IsSet is false until one of its
// resources has been written.
type ServiceHandle interface {
	Name() string
	IsSet() bool
	ResourceNames() []string
	Resource(name string) (ResourceHandle, bool)
}

// ResourceHandle exposes one live resource
type ResourceHandle interface {
	Name() string
	Type() string
	Kind() ResourceKind
	Value() TimedValue
	Metadata() map[string]any
}
