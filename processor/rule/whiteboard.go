package rule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/metric"
	"github.com/c360/semtwin/pkg/worker"
	rtypes "github.com/c360/semtwin/types/rule"
)

const defaultRuleName = "unnamed_rule"

// Whiteboard owns the rule processors, the worker pool shared by their
// rebuilds and the scheduler used for retry delays
type Whiteboard struct {
	src     SnapshotSource
	bus     events.Bus
	updater rtypes.ResourceUpdater
	cfg     Config

	pool      *worker.Pool[rebuildTask]
	scheduler *worker.Scheduler
	registry  *metric.MetricsRegistry
	metrics   *ruleMetrics
	logger    *slog.Logger

	mu        sync.Mutex
	rules     map[string]*Processor
	abandoned []string
	ctx       context.Context
	started   bool
	stopped   bool
}

// Option configures a Whiteboard
type Option func(*Whiteboard)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(w *Whiteboard) { w.cfg = cfg }
}

// WithMetricsRegistry records rule and pool metrics in registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(w *Whiteboard) { w.registry = registry }
}

// WithLogger sets the whiteboard logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Whiteboard) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// RuleInfo describes a registered rule
type RuleInfo struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Tags   []string `json:"tags,omitempty"`
	Closed bool     `json:"closed"`
}

// NewWhiteboard creates a stopped whiteboard reading snapshots from src,
// listening for data changes on bus and handing updater to rule
// definitions
func NewWhiteboard(src SnapshotSource, bus events.Bus, updater rtypes.ResourceUpdater, opts ...Option) (*Whiteboard, error) {
	w := &Whiteboard{
		src:     src,
		bus:     bus,
		updater: updater,
		cfg:     DefaultConfig(),
		rules:   make(map[string]*Processor),
		logger:  slog.Default().With("component", "rule-whiteboard"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.cfg.Validate(); err != nil {
		return nil, err
	}

	metrics, err := newRuleMetrics(w.registry)
	if err != nil {
		return nil, errors.Wrap(err, "Whiteboard", "NewWhiteboard", "register rule metrics")
	}
	w.metrics = metrics

	poolOpts := []worker.Option[rebuildTask]{worker.WithLogger[rebuildTask](w.logger)}
	if w.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[rebuildTask](w.registry, "semtwin_rule_pool"))
	}
	w.pool = worker.NewPool(w.cfg.Workers, w.cfg.QueueSize, runRebuild, poolOpts...)
	w.scheduler = worker.NewScheduler()
	return w, nil
}

func runRebuild(ctx context.Context, t rebuildTask) error {
	return t.proc.rebuild(ctx, t.attempt)
}

// Start launches the worker pool and the scheduler. ctx bounds every rule
// evaluation and subscription.
func (w *Whiteboard) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrWhiteboardStopped
	}
	if w.started {
		return errors.ErrAlreadyStarted
	}
	if err := w.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Whiteboard", "Start", "start worker pool")
	}
	if err := w.scheduler.Start(ctx); err != nil {
		return errors.Wrap(err, "Whiteboard", "Start", "start scheduler")
	}
	w.ctx = ctx
	w.started = true
	w.logger.Info("rule whiteboard started", "workers", w.cfg.Workers, "max_attempts", w.cfg.MaxAttempts)
	return nil
}

// AddRuleDefinition registers def under props.ID(). A missing identity is
// generated and a missing name defaults to unnamed_rule. It returns the
// identity used.
func (w *Whiteboard) AddRuleDefinition(def rtypes.Definition, props rtypes.Properties) (string, error) {
	if def == nil || def.InputFilter() == nil {
		return "", errors.WrapInvalid(ErrNilDefinition, "Whiteboard", "AddRuleDefinition", "check definition")
	}
	id := props.ID()
	if id == "" {
		id = uuid.NewString()
	}
	name := props.Name()
	if name == "" {
		name = defaultRuleName
	}

	w.mu.Lock()
	switch {
	case w.stopped:
		w.mu.Unlock()
		return "", ErrWhiteboardStopped
	case !w.started:
		w.mu.Unlock()
		return "", ErrWhiteboardNotStarted
	}
	if _, ok := w.rules[id]; ok {
		w.mu.Unlock()
		return "", errors.WrapInvalid(fmt.Errorf("%w: %s", ErrRuleExists, id),
			"Whiteboard", "AddRuleDefinition", "check identity")
	}
	ctx := w.ctx
	w.mu.Unlock()

	cfg := w.cfg
	cfg.MaxAttempts = props.MaxAttempts(cfg.MaxAttempts)
	proc, err := newProcessor(ctx, id, name, def, processorDeps{
		src:      w.src,
		bus:      w.bus,
		updater:  w.updater,
		submit:   w.pool.Submit,
		schedule: w.scheduler.Schedule,
		cfg:      cfg,
		tags:     props.Tags(),
		metrics:  w.metrics,
		logger:   w.logger,
		onClose:  w.forget,
	})
	if err != nil {
		return "", errors.Wrap(err, "Whiteboard", "AddRuleDefinition", "create processor")
	}

	w.mu.Lock()
	_, dup := w.rules[id]
	stopped := w.stopped
	closed := proc.Closed()
	switch {
	case dup || stopped:
	case closed:
		// abandoned before it could be registered, so forget did not see it
		if proc.Abandoned() {
			w.abandoned = append(w.abandoned, name)
		}
	default:
		w.rules[id] = proc
		w.metrics.setActiveRules(len(w.rules))
	}
	w.mu.Unlock()

	switch {
	case dup || stopped:
		if cerr := proc.Close(); cerr != nil {
			w.logger.Warn("closing rule failed", "rule", name, "rule_id", id, "error", cerr)
		}
		if dup {
			return "", errors.WrapInvalid(fmt.Errorf("%w: %s", ErrRuleExists, id),
				"Whiteboard", "AddRuleDefinition", "register processor")
		}
		return "", ErrWhiteboardStopped
	case closed:
		return "", errors.WrapTransient(fmt.Errorf("%w: %s", ErrRuleAbandoned, id),
			"Whiteboard", "AddRuleDefinition", "initial snapshot")
	}
	w.logger.Info("rule registered", "rule", name, "rule_id", id)
	return id, nil
}

// RemoveRuleDefinition unregisters the rule registered with props
func (w *Whiteboard) RemoveRuleDefinition(props rtypes.Properties) error {
	return w.RemoveRule(props.ID())
}

// RemoveRule closes and forgets the rule registered under id
func (w *Whiteboard) RemoveRule(id string) error {
	w.mu.Lock()
	proc, ok := w.rules[id]
	delete(w.rules, id)
	w.metrics.setActiveRules(len(w.rules))
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err := proc.Close(); err != nil {
		w.logger.Warn("closing rule failed", "rule", proc.Name(), "rule_id", id, "error", err)
	}
	w.logger.Info("rule removed", "rule", proc.Name(), "rule_id", id)
	return nil
}

// forget drops a closed processor from the registry and remembers it when
// it was abandoned
func (w *Whiteboard) forget(p *Processor) {
	w.mu.Lock()
	if w.rules[p.id] == p {
		delete(w.rules, p.id)
		if p.Abandoned() {
			w.abandoned = append(w.abandoned, p.name)
		}
	}
	w.metrics.setActiveRules(len(w.rules))
	w.mu.Unlock()
}

// Abandoned lists the names of rules dropped after repeated rebuild
// failures, oldest first
func (w *Whiteboard) Abandoned() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.abandoned...)
}

// Running reports whether the whiteboard was started and not yet stopped
func (w *Whiteboard) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Rules lists the registered rules ordered by identity
func (w *Whiteboard) Rules() []RuleInfo {
	w.mu.Lock()
	procs := make([]*Processor, 0, len(w.rules))
	for _, p := range w.rules {
		procs = append(procs, p)
	}
	w.mu.Unlock()

	out := make([]RuleInfo, len(procs))
	for i, p := range procs {
		out[i] = RuleInfo{ID: p.id, Name: p.name, Tags: p.tags, Closed: p.Closed()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop closes every rule, then stops the scheduler and drains the pool.
// It is best effort: a failing close is logged and the others proceed.
func (w *Whiteboard) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	procs := make([]*Processor, 0, len(w.rules))
	for _, p := range w.rules {
		procs = append(procs, p)
	}
	w.rules = make(map[string]*Processor)
	w.metrics.setActiveRules(0)
	w.mu.Unlock()

	var g errgroup.Group
	for _, p := range procs {
		p := p
		g.Go(func() error {
			if err := p.Close(); err != nil {
				w.logger.Warn("closing rule failed", "rule", p.Name(), "rule_id", p.ID(), "error", err)
				return err
			}
			return nil
		})
	}
	closeErr := g.Wait()

	w.scheduler.Stop()
	if err := w.pool.Stop(w.cfg.StopTimeout); err != nil {
		return errors.Wrap(err, "Whiteboard", "Stop", "stop worker pool")
	}
	w.logger.Info("rule whiteboard stopped", "rules", len(procs))
	if closeErr != nil {
		return errors.Wrap(closeErr, "Whiteboard", "Stop", "close rules")
	}
	return nil
}
