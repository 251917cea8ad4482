package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semtwin/config"
	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/health"
	"github.com/c360/semtwin/metric"
	"github.com/c360/semtwin/natsclient"
	"github.com/c360/semtwin/processor/rule"
	"github.com/c360/semtwin/processor/rule/derived"
	"github.com/c360/semtwin/twin"
)

// gateway holds the running twin, its event bus and the rule whiteboard
type gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	client   *natsclient.Client
	bus      events.Bus
	twin     *twin.Twin
	wb       *rule.Whiteboard
	server   *metric.Server
	monitor  *health.Monitor
	ingest   *ingester
}

// newGateway connects NATS when enabled and assembles the twin and the
// whiteboard. Nothing runs until start.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	g := &gateway{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
	core := g.registry.CoreMetrics()

	twinOpts := []twin.Option{
		twin.WithMetrics(core),
		twin.WithLogger(logger.With("component", "twin")),
	}

	if cfg.NATS.Enabled {
		client, err := newNATSClient(cfg, logger, g.registry)
		if err != nil {
			return nil, err
		}
		if err := connectToNATS(ctx, client); err != nil {
			return nil, err
		}
		g.client = client
		g.bus = events.NewNATSBus(client,
			events.WithNATSLogger(logger.With("component", "nats-bus")),
			events.WithNATSMetrics(core))
	} else {
		g.bus = events.NewLocalBus(
			events.WithLocalLogger(logger.With("component", "local-bus")),
			events.WithLocalMetrics(core))
	}
	twinOpts = append(twinOpts, twin.WithBus(g.bus))

	if cfg.Twin.Persistence == config.PersistenceKV {
		store, err := g.openStore(ctx)
		if err != nil {
			g.closeClient(ctx)
			return nil, err
		}
		twinOpts = append(twinOpts, twin.WithStore(store))
	}
	g.twin = twin.New(twinOpts...)

	wb, err := rule.NewWhiteboard(g.twin, g.bus, g.twin.Updater(),
		rule.WithConfig(whiteboardConfig(cfg.Rules)),
		rule.WithMetricsRegistry(g.registry),
		rule.WithLogger(logger.With("component", "rule-whiteboard")))
	if err != nil {
		g.closeClient(ctx)
		return nil, fmt.Errorf("create whiteboard: %w", err)
	}
	g.wb = wb

	g.registerProbes()
	if cfg.Metrics.Enabled {
		g.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, g.registry, g.monitor.Err)
	}
	if g.client != nil {
		g.ingest = newIngester(g.twin, logger.With("component", "ingest"),
			withRateLimit(cfg.NATS.UpdateRate, cfg.NATS.UpdateBurst),
			withIngestMetrics(g.registry))
	}
	return g, nil
}

func newNATSClient(cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	url := "nats://localhost:4222"
	if len(cfg.NATS.URLs) > 0 {
		url = cfg.NATS.URLs[0]
	}

	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithName(appName + "-" + cfg.Gateway.ID),
		natsclient.WithLogger(natsclient.NewSlogLogger(logger.With("component", "natsclient"))),
		natsclient.WithMetrics(registry),
	}
	switch {
	case cfg.NATS.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	case cfg.NATS.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	client, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

// connectToNATS establishes the NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, client *natsclient.Client) error {
	slog.Info("Connecting to NATS", "url", client.URL())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

func (g *gateway) openStore(ctx context.Context) (*twin.KVStore, error) {
	bucket, err := g.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      g.cfg.Twin.Bucket,
		Description: "semtwin resource values",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", g.cfg.Twin.Bucket, err)
	}
	return twin.NewKVStore(g.client.NewKVStore(bucket)), nil
}

// whiteboardConfig overlays the configured rule settings on the defaults
func whiteboardConfig(rc config.RulesConfig) rule.Config {
	cfg := rule.DefaultConfig()
	if rc.Workers > 0 {
		cfg.Workers = rc.Workers
	}
	if rc.QueueSize > 0 {
		cfg.QueueSize = rc.QueueSize
	}
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	if rc.RetryInitialDelay > 0 {
		cfg.Retry.InitialDelay = rc.RetryInitialDelay
	}
	if rc.RetryMaxDelay > 0 {
		cfg.Retry.MaxDelay = rc.RetryMaxDelay
	}
	if rc.StopTimeout > 0 {
		cfg.StopTimeout = rc.StopTimeout
	}
	return cfg
}

func (g *gateway) registerProbes() {
	if g.client != nil {
		g.monitor.Register("nats", health.ErrorProbe(g.client.Health))
	}
	g.monitor.Register("twin", func() health.Status {
		return health.Healthy(fmt.Sprintf("%d providers", len(g.twin.Providers())))
	})
	g.monitor.Register("rules", func() health.Status {
		if !g.wb.Running() {
			return health.Unhealthy("rule whiteboard not running")
		}
		if abandoned := g.wb.Abandoned(); len(abandoned) > 0 {
			return health.Degraded(fmt.Sprintf("%d rule(s) abandoned: %s", len(abandoned), strings.Join(abandoned, ", ")))
		}
		return health.Healthy(fmt.Sprintf("%d rule(s) active", len(g.wb.Rules())))
	})
}

// start restores persisted values, starts the whiteboard, registers the
// derived rules, then opens the metrics endpoint and the update subject
func (g *gateway) start(ctx context.Context) error {
	if n, err := g.twin.Restore(ctx); err != nil {
		return fmt.Errorf("restore twin: %w", err)
	} else if n > 0 {
		g.logger.Info("Twin restored", "providers", n, "bucket", g.cfg.Twin.Bucket)
	}

	if err := g.wb.Start(ctx); err != nil {
		return fmt.Errorf("start whiteboard: %w", err)
	}
	if err := g.loadRules(g.cfg.Rules.Files); err != nil {
		return err
	}

	if g.server != nil {
		if err := g.server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		g.logger.Info("Metrics server started", "address", g.server.Address())
	}

	if g.ingest == nil {
		g.logger.Warn("NATS disabled, updates are not ingested")
		return nil
	}
	if _, err := g.client.Subscribe(ctx, g.cfg.NATS.UpdateSubject, g.ingest.handle); err != nil {
		return fmt.Errorf("subscribe to %s: %w", g.cfg.NATS.UpdateSubject, err)
	}
	g.logger.Info("Ingesting updates", "subject", g.cfg.NATS.UpdateSubject)
	return nil
}

// loadRules registers every enabled derived rule found in files
func (g *gateway) loadRules(files []string) error {
	for _, path := range files {
		specs, err := derived.Load(path)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		for _, s := range specs {
			if !s.IsEnabled() {
				g.logger.Info("Rule disabled", "rule", s.ID, "file", path)
				continue
			}
			def, err := s.Build()
			if err != nil {
				return fmt.Errorf("build rule %s from %s: %w", s.ID, path, err)
			}
			if _, err := g.wb.AddRuleDefinition(def, s.Properties()); err != nil {
				return fmt.Errorf("register rule %s: %w", s.ID, err)
			}
		}
		g.logger.Info("Rules loaded", "file", path, "count", len(specs))
	}
	return nil
}

// stop releases everything in reverse start order. It keeps going after a
// failure and returns every error met.
func (g *gateway) stop(ctx context.Context) error {
	var errs []error
	if g.server != nil {
		if err := g.server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := g.wb.Stop(); err != nil {
		errs = append(errs, errors.Wrap(err, "gateway", "stop", "stop whiteboard"))
	}
	if g.client != nil {
		if err := g.client.Close(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "gateway", "stop", "close NATS client"))
		}
	}
	return stderrors.Join(errs...)
}

func (g *gateway) closeClient(ctx context.Context) {
	if g.client == nil {
		return
	}
	if err := g.client.Close(ctx); err != nil {
		g.logger.Warn("closing NATS client failed", "error", err)
	}
}
