package rule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/criterion"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/snapshot"
	"github.com/c360/semtwin/twin"
	rtypes "github.com/c360/semtwin/types/rule"
)

var (
	t100 = time.Date(2024, 6, 1, 10, 0, 0, 100, time.UTC)
	errUnavailable = errors.New("twin unavailable")
)

// gatedSource wraps a twin and can fail or hold snapshot requests
type gatedSource struct {
	tw *twin.Twin

	mu       sync.Mutex
	calls    int
	failures int
	gate     chan struct{}
	entered  chan struct{}
}

func (s *gatedSource) FilteredSnapshot(ctx context.Context, f snapshot.Filters) ([]*snapshot.ProviderSnapshot, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	gate, entered := s.gate, s.entered
	s.mu.Unlock()

	var out []*snapshot.ProviderSnapshot
	err := errUnavailable
	if !fail {
		out, err = s.tw.FilteredSnapshot(ctx, f)
	}
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return out, err
}

func (s *gatedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// hold makes the next snapshot request block after reading the twin
func (s *gatedSource) hold() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	in := make(chan struct{}, 1)
	s.gate, s.entered = gate, in
	return in, func() {
		s.mu.Lock()
		s.gate, s.entered = nil, nil
		s.mu.Unlock()
		close(gate)
	}
}

// evalRecorder records the provider names of every evaluation
type evalRecorder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *evalRecorder) evaluate(_ context.Context, providers []*snapshot.ProviderSnapshot, _ rtypes.ResourceUpdater) error {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, names)
	return r.err
}

func (r *evalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *evalRecorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

type fixture struct {
	tw  *twin.Twin
	bus *events.LocalBus
	src *gatedSource
	wb  *Whiteboard
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	return cfg
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	bus := events.NewLocalBus()
	tw := twin.New(twin.WithBus(bus))
	src := &gatedSource{tw: tw}

	wb, err := NewWhiteboard(src, bus, tw.Updater(), append([]Option{WithConfig(testConfig())}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, wb.Start(context.Background()))
	t.Cleanup(func() { _ = wb.Stop() })
	return &fixture{tw: tw, bus: bus, src: src, wb: wb}
}

func (f *fixture) apply(t *testing.T, provider string, v any, ts time.Time) {
	t.Helper()
	_, err := f.tw.Apply(context.Background(), twin.Update{
		Model: "thermo", Provider: provider, Service: "sensor", Resource: "temperature",
		Value: v, Timestamp: ts,
	})
	require.NoError(t, err)
}

func (f *fixture) processor(t *testing.T, id string) *Processor {
	t.Helper()
	f.wb.mu.Lock()
	defer f.wb.mu.Unlock()
	p, ok := f.wb.rules[id]
	require.True(t, ok, "rule %s not registered", id)
	return p
}

func waitIdle(t *testing.T, p *Processor) {
	t.Helper()
	require.Eventually(t, func() bool { return !p.Working() }, 2*time.Second, 2*time.Millisecond)
}

func temperatureFilter() criterion.Criterion {
	return criterion.Path(criterion.Exact("sensor"), criterion.Exact("temperature"))
}

func mustValueTest(t *testing.T, op criterion.Operator, operands ...string) criterion.ValueTest {
	t.Helper()
	vt, err := criterion.NewValueTest(op, criterion.CheckValue, operands...)
	require.NoError(t, err)
	return vt
}
