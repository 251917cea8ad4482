package twin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/semtwin/types/rule"
)

// Updater pushes rule output into the twin
type Updater struct {
	twin   *Twin
	logger *slog.Logger
}

var _ rule.ResourceUpdater = (*Updater)(nil)

// Updater returns a resource updater bound to t
func (t *Twin) Updater() *Updater {
	return &Updater{twin: t, logger: t.logger.With("role", "updater")}
}

// UpdateResource sets one value
func (u *Updater) UpdateResource(ctx context.Context, providerName, serviceName, resourceName string, value any, ts time.Time) error {
	_, err := u.twin.Apply(ctx, Update{
		Provider:  providerName,
		Service:   serviceName,
		Resource:  resourceName,
		Value:     value,
		Timestamp: ts,
	})
	return err
}

// UpdateBatch starts an atomic batch
func (u *Updater) UpdateBatch() rule.Batch {
	return &Batch{id: uuid.NewString(), updater: u}
}

// Batch accumulates updates and commits them with a single Apply
type Batch struct {
	id      string
	updater *Updater

	mu      sync.Mutex
	updates []Update
	done    bool
}

// ID identifies the batch in logs
func (b *Batch) ID() string { return b.id }

// Update queues one value. Updates queued after Complete are dropped.
func (b *Batch) Update(providerName, serviceName, resourceName string, value any, ts time.Time) rule.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.done {
		b.updates = append(b.updates, Update{
			Provider:  providerName,
			Service:   serviceName,
			Resource:  resourceName,
			Value:     value,
			Timestamp: ts,
		})
	}
	return b
}

// Complete commits the queued updates as one unit. Calling it twice is a
// no-op.
func (b *Batch) Complete(ctx context.Context) error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil
	}
	b.done = true
	updates := b.updates
	b.updates = nil
	b.mu.Unlock()

	if len(updates) == 0 {
		return nil
	}
	n, err := b.updater.twin.Apply(ctx, updates...)
	if err != nil {
		return err
	}
	b.updater.logger.Debug("batch committed", "batch", b.id, "queued", len(updates), "applied", n)
	return nil
}
