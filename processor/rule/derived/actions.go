package derived

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/c360/semtwin/criterion"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/snapshot"
	rtypes "github.com/c360/semtwin/types/rule"
)

// ActionFunc writes derived values for the selected providers
type ActionFunc func(ctx context.Context, providers []*snapshot.ProviderSnapshot, updater rtypes.ResourceUpdater) error

// ActionFactory creates actions of one type
type ActionFactory interface {
	Type() string
	Validate(a Action) error
	Create(a Action) (ActionFunc, error)
}

var (
	actionsMu sync.RWMutex
	actions   = make(map[string]ActionFactory)
)

func init() {
	for _, f := range []ActionFactory{setFactory{}, aggregateFactory{}} {
		if err := RegisterAction(f); err != nil {
			panic(err)
		}
	}
}

// RegisterAction makes an action type available to specs
func RegisterAction(f ActionFactory) error {
	actionsMu.Lock()
	defer actionsMu.Unlock()
	if _, exists := actions[f.Type()]; exists {
		return fmt.Errorf("action factory already registered for type: %s", f.Type())
	}
	actions[f.Type()] = f
	return nil
}

// LookupAction returns the factory for an action type
func LookupAction(actionType string) (ActionFactory, bool) {
	actionsMu.RLock()
	defer actionsMu.RUnlock()
	f, ok := actions[actionType]
	return f, ok
}

// ActionTypes lists the registered action types
func ActionTypes() []string {
	actionsMu.RLock()
	defer actionsMu.RUnlock()
	types := make([]string, 0, len(actions))
	for t := range actions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// snapshotTime is the instant shared by every provider of one evaluation
func snapshotTime(providers []*snapshot.ProviderSnapshot) time.Time {
	if len(providers) == 0 {
		return time.Time{}
	}
	return providers[0].SnapshotTime
}

// setFactory writes a constant. Without a target provider the value goes
// to every selected provider, skipping those already holding it.
type setFactory struct{}

func (setFactory) Type() string { return "set" }

func (setFactory) Validate(a Action) error {
	if a.Value == nil {
		return fmt.Errorf("set action needs a value")
	}
	if a.Function != "" || a.Source != nil {
		return fmt.Errorf("set action takes no function or source")
	}
	return nil
}

func (setFactory) Create(a Action) (ActionFunc, error) {
	target, value := a.Target, a.Value
	return func(ctx context.Context, providers []*snapshot.ProviderSnapshot, updater rtypes.ResourceUpdater) error {
		at := snapshotTime(providers)
		if target.Provider != "" {
			return updater.UpdateResource(ctx, target.Provider, target.Service, target.Resource, value, at)
		}

		batch := updater.UpdateBatch()
		for _, p := range providers {
			if r := p.Resource(target.Service, target.Resource); r != nil && r.IsSet() &&
				events.ValuesEqual(r.Value.Value, value) {
				continue
			}
			batch.Update(p.Name, target.Service, target.Resource, value, at)
		}
		return batch.Complete(ctx)
	}, nil
}

// aggregateFactory reduces a numeric source resource across the selected
// providers into a single target resource
type aggregateFactory struct{}

var aggregates = map[string]func([]float64) float64{
	"avg": func(vs []float64) float64 {
		sum := 0.0
		for _, v := range vs {
			sum += v
		}
		return sum / float64(len(vs))
	},
	"min": func(vs []float64) float64 {
		m := math.Inf(1)
		for _, v := range vs {
			m = math.Min(m, v)
		}
		return m
	},
	"max": func(vs []float64) float64 {
		m := math.Inf(-1)
		for _, v := range vs {
			m = math.Max(m, v)
		}
		return m
	},
	"sum": func(vs []float64) float64 {
		sum := 0.0
		for _, v := range vs {
			sum += v
		}
		return sum
	},
}

func (aggregateFactory) Type() string { return "aggregate" }

func (aggregateFactory) Validate(a Action) error {
	if a.Target.Provider == "" {
		return fmt.Errorf("aggregate action needs a target provider")
	}
	if a.Function == "count" {
		return nil
	}
	if _, ok := aggregates[a.Function]; !ok {
		return fmt.Errorf("unknown aggregate function %q", a.Function)
	}
	if a.Source == nil {
		return fmt.Errorf("aggregate %s needs a source resource", a.Function)
	}
	return nil
}

func (aggregateFactory) Create(a Action) (ActionFunc, error) {
	target, source, fn := a.Target, a.Source, a.Function
	return func(ctx context.Context, providers []*snapshot.ProviderSnapshot, updater rtypes.ResourceUpdater) error {
		at := snapshotTime(providers)
		if fn == "count" && source == nil {
			return updater.UpdateResource(ctx, target.Provider, target.Service, target.Resource, len(providers), at)
		}

		values := make([]float64, 0, len(providers))
		for _, p := range providers {
			r := p.Resource(source.Service, source.Resource)
			if r == nil || !r.IsSet() {
				continue
			}
			if v, ok := criterion.AsFloat(r.Value.Value); ok {
				values = append(values, v)
			}
		}
		if fn == "count" {
			return updater.UpdateResource(ctx, target.Provider, target.Service, target.Resource, len(values), at)
		}
		if len(values) == 0 {
			return nil
		}
		return updater.UpdateResource(ctx, target.Provider, target.Service, target.Resource, aggregates[fn](values), at)
	}, nil
}
