package twin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/criterion"
	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/metric"
	"github.com/c360/semtwin/snapshot"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func upd(p, s, r string, v any, ts time.Time) Update {
	return Update{Model: "thermo", Provider: p, Service: s, Resource: r, Value: v, Timestamp: ts}
}

type recorder struct {
	mu  sync.Mutex
	evs []events.DataChangeEvent
}

func (r *recorder) handle(_ context.Context, ev events.DataChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) events() []events.DataChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.DataChangeEvent(nil), r.evs...)
}

func TestApplyCreatesAndPublishes(t *testing.T) {
	ctx := context.Background()
	bus := events.NewLocalBus()
	rec := &recorder{}
	_, err := bus.Subscribe(ctx, []string{"twin.data.>"}, rec.handle)
	require.NoError(t, err)

	tw := New(WithBus(bus))
	n, err := tw.Apply(ctx,
		upd("t1", "sensor", "temperature", 21.5, t0),
		Update{Provider: "t1", Service: "sensor", Resource: "unit", Value: "C", Timestamp: t0,
			Metadata: map[string]any{"source": "probe"}},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"t1"}, tw.Providers())

	evs := rec.events()
	require.Len(t, evs, 2)
	assert.Equal(t, "thermo", evs[0].Model)
	assert.Equal(t, "twin.data.thermo.t1.sensor.temperature", evs[0].Subject())
	assert.Nil(t, evs[0].OldValue)
	assert.Equal(t, "probe", evs[1].Metadata["source"])

	_, err = tw.Apply(ctx, upd("t1", "sensor", "temperature", 22.0, t0.Add(time.Second)))
	require.NoError(t, err)
	evs = rec.events()
	require.Len(t, evs, 3)
	assert.Equal(t, 21.5, evs[2].OldValue)
	assert.Equal(t, 22.0, evs[2].NewValue)
}

func TestApplyIgnoresOlderAndActions(t *testing.T) {
	ctx := context.Background()
	reg := metric.NewMetricsRegistry()
	tw := New(WithMetrics(reg.CoreMetrics()))

	_, err := tw.Apply(ctx, upd("t1", "sensor", "temperature", 20, t0))
	require.NoError(t, err)

	n, err := tw.Apply(ctx, upd("t1", "sensor", "temperature", 10, t0.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = tw.Apply(ctx, upd("t1", "sensor", "temperature", 25, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "equal timestamps overwrite")

	require.NoError(t, tw.Declare("thermo", "t1", "control", "reset", "", snapshot.KindAction))
	n, err = tw.Apply(ctx, upd("t1", "control", "reset", true, t0))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r, err := tw.SnapshotResource(ctx, "t1", "sensor", "temperature")
	require.NoError(t, err)
	assert.Equal(t, 25, r.Value.Value)

	core := reg.CoreMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(core.UpdatesApplied.WithLabelValues("thermo")))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.UpdatesIgnored.WithLabelValues("thermo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.Providers))
}

func TestApplyIsAtomic(t *testing.T) {
	tw := New()
	_, err := tw.Apply(context.Background(),
		upd("t1", "sensor", "temperature", 1, t0),
		upd("t2", "", "temperature", 1, t0),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	assert.True(t, errors.IsInvalid(err))
	assert.Empty(t, tw.Providers())
}

func TestApplyDefaults(t *testing.T) {
	tw := New(WithClock(func() time.Time { return t0 }))
	_, err := tw.Apply(context.Background(), Update{Provider: "p", Service: "s", Resource: "r", Value: 1})
	require.NoError(t, err)

	p, err := tw.SnapshotProvider(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.Model)
	assert.Equal(t, t0, p.Resource("s", "r").Value.Timestamp)
	assert.Equal(t, t0, p.SnapshotTime)
}

func TestSnapshotConsistency(t *testing.T) {
	ctx := context.Background()
	tw := New()
	_, err := tw.Apply(ctx,
		upd("a", "sensor", "temperature", 10, t0),
		upd("a", "sensor", "tags", []any{"x"}, t0),
		upd("b", "sensor", "temperature", 20, t0),
	)
	require.NoError(t, err)

	snap, err := tw.FilteredSnapshot(ctx, snapshot.Filters{})
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, snap[0].SnapshotTime, snap[1].SnapshotTime)

	_, err = tw.Apply(ctx,
		upd("a", "sensor", "temperature", 99, t0.Add(time.Hour)),
		upd("c", "sensor", "temperature", 5, t0),
	)
	require.NoError(t, err)
	require.NoError(t, tw.RemoveProvider(ctx, "b"))

	assert.Len(t, snap, 2)
	assert.Equal(t, 10, snap[0].Resource("sensor", "temperature").Value.Value)
	assert.Equal(t, []any{"x"}, snap[0].Resource("sensor", "tags").Value.Value)
	assert.Equal(t, "b", snap[1].Name)
}

func TestFilteredSnapshotWithCriterion(t *testing.T) {
	ctx := context.Background()
	tw := New()
	_, err := tw.Apply(ctx,
		upd("Temp1", "sensor", "temperature", 10, t0),
		upd("Temp1", "sensor", "humidity", 50, t0),
		upd("Other", "admin", "friendlyName", "x", t0),
	)
	require.NoError(t, err)

	ge10, err := criterion.NewValueTest(criterion.OpGreaterOrEqual, criterion.CheckValue, "10")
	require.NoError(t, err)
	c := criterion.Path(criterion.Exact("sensor"), criterion.Exact("temperature"), ge10)

	got, err := tw.FilteredSnapshot(ctx, criterion.Filters(c))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Temp1", got[0].Name)
	assert.Len(t, got[0].Resources(), 1)

	_, err = tw.Apply(ctx, upd("Temp1", "sensor", "temperature", 9, t0.Add(time.Second)))
	require.NoError(t, err)
	got, err = tw.FilteredSnapshot(ctx, criterion.Filters(c))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocationFromAdminResource(t *testing.T) {
	ctx := context.Background()
	tw := New()
	_, err := tw.Apply(ctx,
		upd("paris", "admin", "location", map[string]any{"lat": 48.8566, "lon": 2.3522}, t0),
		upd("paris", "sensor", "temperature", 1, t0),
		upd("lyon", "admin", "location", `{"type":"Point","coordinates":[4.8357,45.764]}`, t0),
		upd("nowhere", "sensor", "temperature", 1, t0),
	)
	require.NoError(t, err)

	got, err := tw.FilteredSnapshot(ctx, criterion.Filters(criterion.Near(48.86, 2.35, 2000)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "paris", got[0].Name)
	require.NotNil(t, got[0].Location)
}

func TestDeclaredResourcesAreUnset(t *testing.T) {
	ctx := context.Background()
	tw := New()
	require.NoError(t, tw.Declare("m", "p", "sensor", "battery", "float", snapshot.KindSensor))

	snap, err := tw.FilteredSnapshot(ctx, snapshot.Filters{})
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Empty(t, snap[0].Services, "services without any set resource are skipped")

	_, err = tw.Apply(ctx, upd("p", "sensor", "temperature", 1, t0))
	require.NoError(t, err)

	s, err := tw.SnapshotService(ctx, "p", "sensor")
	require.NoError(t, err)
	battery := s.Resource("battery")
	require.NotNil(t, battery)
	assert.False(t, battery.IsSet())
	assert.Equal(t, "float", battery.Type)
	assert.Equal(t, snapshot.KindSensor, battery.Kind)

	assert.Error(t, tw.Declare("m", "", "s", "r", "", snapshot.KindProperty))
}

func TestSnapshotNotFound(t *testing.T) {
	ctx := context.Background()
	tw := New()
	_, err := tw.Apply(ctx, upd("p", "s", "r", 1, t0))
	require.NoError(t, err)

	_, err = tw.SnapshotProvider(ctx, "nope")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	_, err = tw.SnapshotService(ctx, "nope", "s")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	_, err = tw.SnapshotService(ctx, "p", "nope")
	assert.ErrorIs(t, err, ErrServiceNotFound)
	_, err = tw.SnapshotResource(ctx, "p", "s", "nope")
	assert.ErrorIs(t, err, ErrResourceNotFound)
	assert.ErrorIs(t, tw.RemoveProvider(ctx, "nope"), ErrProviderNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tw.FilteredSnapshot(cancelled, snapshot.Filters{})
	assert.True(t, errors.IsTransient(err))
}

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	saveErr error
}

func newMemStore() *memStore { return &memStore{records: map[string]Record{}} }

func (m *memStore) Save(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, r := range records {
		m.records[RecordKey(r.Provider, r.Service, r.Resource)] = r
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.records {
		if r.Provider == provider {
			delete(m.records, k)
		}
	}
	return nil
}

func (m *memStore) Load(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tw := New(WithStore(store))
	_, err := tw.Apply(ctx,
		upd("a", "sensor", "temperature", 10.5, t0),
		upd("b", "sensor", "temperature", 3.0, t0),
	)
	require.NoError(t, err)
	require.NoError(t, tw.RemoveProvider(ctx, "b"))
	assert.Len(t, store.records, 1)

	bus := events.NewLocalBus()
	rec := &recorder{}
	_, err = bus.Subscribe(ctx, []string{"twin.data.>"}, rec.handle)
	require.NoError(t, err)

	restored := New(WithStore(store), WithBus(bus))
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, rec.events())

	r, err := restored.SnapshotResource(ctx, "a", "sensor", "temperature")
	require.NoError(t, err)
	assert.Equal(t, 10.5, r.Value.Value)
	assert.True(t, r.Value.Timestamp.Equal(t0))

	p, err := restored.SnapshotProvider(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "thermo", p.Model)
}

func TestPersistFailureDoesNotFailApply(t *testing.T) {
	store := newMemStore()
	store.saveErr = assert.AnError
	tw := New(WithStore(store))
	n, err := tw.Apply(context.Background(), upd("a", "s", "r", 1, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, "t1.sensor.temperature", RecordKey("t1", "sensor", "temperature"))
	assert.Equal(t, "a=2Eb.s=20x.r=2A", RecordKey("a.b", "s x", "r*"))
}

func TestConcurrentApplyAndSnapshot(t *testing.T) {
	ctx := context.Background()
	tw := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = tw.Apply(ctx, upd("p", "s", "r", j, t0.Add(time.Duration(i*100+j)*time.Millisecond)))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap, err := tw.FilteredSnapshot(ctx, snapshot.Filters{})
				if err == nil && len(snap) == 1 {
					_ = snap[0].Resources()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"p"}, tw.Providers())
}
