package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/c360/semtwin/config"
	"github.com/c360/semtwin/snapshot"
)

// DumpProvider is the file form of one provider. Services map to resources
// by name.
type DumpProvider struct {
	Name     string                             `json:"name"`
	Model    string                             `json:"model,omitempty"`
	Services map[string]map[string]DumpResource `json:"services"`
}

// DumpResource is the file form of one resource
type DumpResource struct {
	Value     any                   `json:"value"`
	Timestamp time.Time             `json:"timestamp"`
	Type      string                `json:"type,omitempty"`
	Kind      snapshot.ResourceKind `json:"kind,omitempty"`
	Metadata  map[string]any        `json:"metadata,omitempty"`
}

// loadDump reads a twin dump and turns it into snapshots ordered by
// provider name. The admin/location resource sets the provider location.
func loadDump(path string) ([]*snapshot.ProviderSnapshot, error) {
	data, err := config.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dump []DumpProvider
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("decode dump %s: %w", path, err)
	}
	sort.Slice(dump, func(i, j int) bool { return dump[i].Name < dump[j].Name })

	out := make([]*snapshot.ProviderSnapshot, 0, len(dump))
	for _, dp := range dump {
		if dp.Name == "" {
			return nil, fmt.Errorf("decode dump %s: provider without name", path)
		}
		p := &snapshot.ProviderSnapshot{Name: dp.Name, Model: dp.Model}
		for _, svcName := range sortedKeys(dp.Services) {
			svc := p.AddService(svcName)
			resources := dp.Services[svcName]
			for _, rcName := range sortedKeys(resources) {
				dr := resources[rcName]
				r := snapshot.ResourceSnapshot{
					Name:     rcName,
					Type:     dr.Type,
					Kind:     dr.Kind,
					Metadata: dr.Metadata,
				}
				if dr.Kind != snapshot.KindAction {
					r.Value = snapshot.TimedValue{Value: dr.Value, Timestamp: dr.Timestamp}
				}
				svc.AddResource(r)
			}
		}
		if r := p.Resource(snapshot.AdminService, snapshot.LocationResource); r != nil {
			if loc, ok := snapshot.ParseLocation(r.Value.Value); ok {
				p.Location = loc
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// toDump converts snapshots back to the file form
func toDump(providers []*snapshot.ProviderSnapshot) []DumpProvider {
	out := make([]DumpProvider, 0, len(providers))
	for _, p := range providers {
		dp := DumpProvider{Name: p.Name, Model: p.Model, Services: make(map[string]map[string]DumpResource)}
		for _, s := range p.Services {
			resources := make(map[string]DumpResource, len(s.Resources))
			for _, r := range s.Resources {
				resources[r.Name] = DumpResource{
					Value:     r.Value.Value,
					Timestamp: r.Value.Timestamp,
					Type:      r.Type,
					Kind:      r.Kind,
					Metadata:  r.Metadata,
				}
			}
			dp.Services[s.Name] = resources
		}
		out = append(out, dp)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
