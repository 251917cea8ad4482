package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/metric"
	"github.com/c360/semtwin/twin"
)

// Ingest outcomes, used as the outcome label
const (
	outcomeApplied   = "applied"
	outcomeRejected  = "rejected"
	outcomeMalformed = "malformed"
	outcomeThrottled = "throttled"
)

// updateApplier is the part of the twin the ingester writes to
type updateApplier interface {
	Apply(ctx context.Context, updates ...twin.Update) (int, error)
}

// ingester applies JSON updates received on the update subject. A nil
// limiter admits every message.
type ingester struct {
	twin     updateApplier
	limiter  *rate.Limiter
	messages *prometheus.CounterVec
	logger   *slog.Logger
}

type ingestOption func(*ingester)

// withRateLimit admits at most perSecond messages per second with the given
// burst. A non-positive rate disables limiting.
func withRateLimit(perSecond float64, burst int) ingestOption {
	return func(in *ingester) {
		if perSecond <= 0 {
			return
		}
		in.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// withIngestMetrics counts messages per outcome in registry
func withIngestMetrics(registry *metric.MetricsRegistry) ingestOption {
	return func(in *ingester) {
		if registry == nil {
			return
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Update messages received on the update subject, by outcome",
		}, []string{"outcome"})
		if err := registry.RegisterCounterVec("ingest", "messages_total", vec); err != nil {
			in.logger.Warn("ingest metrics unavailable", "error", err)
			return
		}
		in.messages = vec
	}
}

func newIngester(t updateApplier, logger *slog.Logger, opts ...ingestOption) *ingester {
	in := &ingester{twin: t, logger: logger}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func (in *ingester) handle(ctx context.Context, subject string, data []byte) {
	if in.limiter != nil && !in.limiter.Allow() {
		err := errors.WrapTransient(fmt.Errorf("rate limit exceeded"), "ingester", "handle", "admit update")
		in.logger.Warn("dropping update", "subject", subject, "error", err)
		in.record(outcomeThrottled)
		return
	}

	updates, err := decodeUpdates(data)
	if err != nil {
		in.logger.Warn("dropping malformed update", "subject", subject, "error", err)
		in.record(outcomeMalformed)
		return
	}
	n, err := in.twin.Apply(ctx, updates...)
	if err != nil {
		in.logger.Warn("update rejected", "subject", subject, "updates", len(updates), "error", err)
		in.record(outcomeRejected)
		return
	}
	in.record(outcomeApplied)
	in.logger.Debug("updates applied", "subject", subject, "received", len(updates), "applied", n)
}

func (in *ingester) record(outcome string) {
	if in.messages != nil {
		in.messages.WithLabelValues(outcome).Inc()
	}
}

// decodeUpdates accepts a single update object or an array of them
func decodeUpdates(data []byte) ([]twin.Update, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if data[0] == '[' {
		var updates []twin.Update
		if err := json.Unmarshal(data, &updates); err != nil {
			return nil, fmt.Errorf("decode update list: %w", err)
		}
		if len(updates) == 0 {
			return nil, fmt.Errorf("empty update list")
		}
		return updates, nil
	}
	var u twin.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return []twin.Update{u}, nil
}
