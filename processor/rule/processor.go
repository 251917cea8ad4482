package rule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/semtwin/criterion"
	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/snapshot"
	rtypes "github.com/c360/semtwin/types/rule"
)

// SnapshotSource builds filtered snapshots of the twin. Every provider in
// one result shares a single snapshot time.
type SnapshotSource interface {
	FilteredSnapshot(ctx context.Context, f snapshot.Filters) ([]*snapshot.ProviderSnapshot, error)
}

// Processor keeps one rule's cached snapshot in step with the twin. At most
// one rebuild is in flight per processor; events arriving during a rebuild
// are queued and re-checked against the new cache once it completes.
type Processor struct {
	id    string
	name  string
	label string
	tags  []string

	def         rtypes.Definition
	structural  snapshot.Filters
	valueFilter snapshot.ResourceValueFilter
	accepts     criterion.EventFilter

	src      SnapshotSource
	updater  rtypes.ResourceUpdater
	submit   func(rebuildTask) error
	schedule func(time.Duration, func()) (func(), error)
	retry    errors.RetryConfig
	attempts int
	metrics  *ruleMetrics
	logger   *slog.Logger
	onClose  func(*Processor)

	// mu guards everything below. It is never held across a rebuild or an
	// evaluation.
	mu        sync.Mutex
	working   bool
	closed    bool
	abandoned bool
	pending   []events.DataChangeEvent
	cache     map[string]*snapshot.ProviderSnapshot
	reg       events.Registration
	cancel    func()
}

// rebuildTask is the pool work item for one rebuild attempt
type rebuildTask struct {
	proc    *Processor
	attempt int
}

type processorDeps struct {
	src      SnapshotSource
	bus      events.Bus
	updater  rtypes.ResourceUpdater
	submit   func(rebuildTask) error
	schedule func(time.Duration, func()) (func(), error)
	cfg      Config
	tags     []string
	metrics  *ruleMetrics
	logger   *slog.Logger
	onClose  func(*Processor)
}

// newProcessor subscribes to the rule's data topics and dispatches the
// initial rebuild. The processor starts in the working state so events
// delivered before the first snapshot lands are queued.
func newProcessor(ctx context.Context, id, name string, def rtypes.Definition, deps processorDeps) (*Processor, error) {
	c := def.InputFilter()
	if c == nil {
		return nil, ErrNilDefinition
	}
	f := criterion.Filters(c)

	p := &Processor{
		id:          id,
		name:        name,
		label:       metricLabel(name),
		tags:        deps.tags,
		def:         def,
		structural:  f.Structural(),
		valueFilter: f.ResourceValue,
		accepts:     criterion.DataEventFilter(c),
		src:         deps.src,
		updater:     deps.updater,
		submit:      deps.submit,
		schedule:    deps.schedule,
		retry:       deps.cfg.Retry,
		attempts:    deps.cfg.MaxAttempts,
		metrics:     deps.metrics,
		logger:      deps.logger.With("rule", name, "rule_id", id),
		onClose:     deps.onClose,
		working:     true,
	}

	topics := c.DataTopics()
	reg, err := deps.bus.Subscribe(ctx, topics, p.notify)
	if err != nil {
		return nil, errors.Wrap(err, "Processor", "newProcessor", "subscribe to data topics")
	}
	p.mu.Lock()
	p.reg = reg
	p.mu.Unlock()

	p.logger.Debug("rule processor created", "filter", c.String(), "topics", topics)
	p.trigger(0)
	return p, nil
}

// ID returns the registration identity
func (p *Processor) ID() string { return p.id }

// Name returns the display name
func (p *Processor) Name() string { return p.name }

// Closed reports whether the processor was closed or abandoned
func (p *Processor) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Abandoned reports whether the processor gave up after repeated rebuild
// failures
func (p *Processor) Abandoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abandoned
}

// Working reports whether a rebuild is in flight
func (p *Processor) Working() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.working
}

// notify handles one delivered data change event. It runs on the
// publisher's goroutine and never blocks beyond the state lock.
func (p *Processor) notify(_ context.Context, ev events.DataChangeEvent) {
	p.metrics.recordDelivered(p.label)
	if !p.accepts(ev) {
		p.metrics.recordRejected(p.label)
		return
	}

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return
	case p.working:
		p.pending = append(p.pending, ev)
		p.mu.Unlock()
		return
	case !p.staleLocked(ev):
		p.mu.Unlock()
		return
	}
	p.working = true
	p.pending = nil
	p.mu.Unlock()

	p.trigger(0)
}

// staleLocked reports whether ev is not yet reflected by the cache. A
// resource missing from the cache always counts as stale.
func (p *Processor) staleLocked(ev events.DataChangeEvent) bool {
	prov, ok := p.cache[ev.Provider]
	if !ok {
		return true
	}
	r := prov.Resource(ev.Service, ev.Resource)
	if r == nil {
		return true
	}
	cached := r.Value.Timestamp
	switch {
	case cached.After(ev.Timestamp):
		return false
	case cached.Equal(ev.Timestamp) &&
		events.ValuesEqual(r.Value.Value, ev.NewValue) &&
		events.MetadataEqual(r.Metadata, ev.Metadata):
		return false
	}
	return true
}

// trigger hands a rebuild attempt to the worker pool
func (p *Processor) trigger(attempt int) {
	if err := p.submit(rebuildTask{proc: p, attempt: attempt}); err != nil {
		p.failed(attempt, errors.WrapTransient(err, "Processor", "trigger", "submit rebuild"))
	}
}

// rebuild runs on a pool worker. It replaces the cache, evaluates the rule,
// then either schedules one follow-up rebuild for stale pending events or
// returns to idle.
func (p *Processor) rebuild(ctx context.Context, attempt int) error {
	if p.Closed() {
		return nil
	}

	start := time.Now()
	providers, err := p.src.FilteredSnapshot(ctx, p.structural)
	if err != nil {
		p.failed(attempt, err)
		return err
	}
	providers = snapshot.ApplyValueFilter(providers, p.valueFilter)

	cache := make(map[string]*snapshot.ProviderSnapshot, len(providers))
	for _, prov := range providers {
		cache[prov.Name] = prov
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.cache = cache
	p.mu.Unlock()
	p.metrics.recordRebuild(p.label, time.Since(start))

	p.evaluate(ctx, providers)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	stale := false
	for i := len(p.pending) - 1; i >= 0; i-- {
		if p.staleLocked(p.pending[i]) {
			stale = true
			break
		}
	}
	p.pending = nil
	p.working = stale
	p.mu.Unlock()

	if stale {
		p.trigger(0)
	}
	return nil
}

// evaluate calls the rule. Errors and panics are logged and counted.
func (p *Processor) evaluate(ctx context.Context, providers []*snapshot.ProviderSnapshot) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("rule panicked: %v", r)
			}
		}()
		return p.def.Evaluate(ctx, providers, p.updater)
	}()
	p.metrics.recordEvaluation(p.label, time.Since(start), err != nil)
	if err != nil {
		p.logger.Error("rule evaluation failed", "providers", len(providers), "error", err)
	}
}

// failed handles a failed rebuild attempt: retry after a backoff delay, or
// abandon the rule once every attempt is spent. A closed processor is left
// alone.
func (p *Processor) failed(attempt int, err error) {
	p.metrics.recordRebuildFailure(p.label)
	next := attempt + 1

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	abandon := next >= p.attempts
	if abandon {
		p.abandoned = true
	} else {
		p.pending = nil
	}
	p.mu.Unlock()

	if abandon {
		p.logger.Error("abandoning rule after repeated snapshot failures", "attempts", next, "error", err)
		p.metrics.recordAbandoned(p.label)
		if cerr := p.Close(); cerr != nil {
			p.logger.Warn("closing abandoned rule failed", "error", cerr)
		}
		return
	}

	delay := p.retry.BackoffDelay(attempt)
	p.logger.Warn("snapshot rebuild failed, retrying", "attempt", next, "delay", delay, "error", err)
	cancel, serr := p.schedule(delay, func() { p.trigger(next) })
	if serr != nil {
		p.logger.Error("scheduling rebuild retry failed", "error", serr)
		if cerr := p.Close(); cerr != nil {
			p.logger.Warn("closing rule failed", "error", cerr)
		}
		return
	}

	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
}

// Close stops the processor. It is idempotent. A rebuild already running
// completes without touching state. The returned error reports a failed
// unsubscription only.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cache = nil
	p.pending = nil
	reg, cancel := p.reg, p.cancel
	p.reg, p.cancel = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p.onClose != nil {
		p.onClose(p)
	}
	if reg != nil {
		if err := reg.Unregister(); err != nil {
			return errors.Wrap(err, "Processor", "Close", "unregister subscription")
		}
	}
	p.logger.Debug("rule processor closed")
	return nil
}
