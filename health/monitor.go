package health

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Probe reports the current health of one part
type Probe func() Status

// ErrorProbe adapts a nil-means-healthy check
func ErrorProbe(check func() error) Probe {
	return func() Status {
		if err := check(); err != nil {
			return Unhealthy(err.Error())
		}
		return Healthy("")
	}
}

// Monitor runs named probes on demand
type Monitor struct {
	name string
	now  func() time.Time

	mu     sync.RWMutex
	probes map[string]Probe
}

// NewMonitor creates a monitor reporting under the name "semtwin"
func NewMonitor() *Monitor {
	return &Monitor{
		name:   "semtwin",
		now:    time.Now,
		probes: make(map[string]Probe),
	}
}

// Register adds or replaces the probe of a part
func (m *Monitor) Register(name string, p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = p
}

// Remove drops the probe of a part
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, name)
}

// Components lists the probed parts in name order
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.probes))
	for name := range m.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe and aggregates the results. Probes run without the
// monitor lock held.
func (m *Monitor) Check() Status {
	names := m.Components()
	m.mu.RLock()
	probes := make([]Probe, len(names))
	for i, name := range names {
		probes[i] = m.probes[name]
	}
	m.mu.RUnlock()

	at := m.now()
	subs := make([]Status, 0, len(names))
	for i, p := range probes {
		if p == nil {
			continue
		}
		s := p()
		s.Component = names[i]
		s.Timestamp = at
		subs = append(subs, s)
	}
	out := Aggregate(m.name, subs)
	out.Timestamp = at
	return out
}

// Err returns nil unless some part is unhealthy. A degraded gateway keeps
// serving and reports healthy here.
func (m *Monitor) Err() error {
	s := m.Check()
	if s.State == StateUnhealthy {
		return fmt.Errorf("%s", s.Message)
	}
	return nil
}
