// Package rule provides the contracts shared by rule definitions, the rule
// engine and the twin
package rule

import (
	"context"
	"time"

	"github.com/c360/semtwin/config"
	"github.com/c360/semtwin/criterion"
	"github.com/c360/semtwin/snapshot"
)

// Registration property keys
const (
	// PropertyID is the stable identity of a registration
	PropertyID = "rule.id"
	// PropertyName is the display name used in logs and metric labels
	PropertyName = "rule.name"
	// PropertyMaxAttempts overrides the whiteboard's rebuild attempt limit
	PropertyMaxAttempts = "rule.max_attempts"
	// PropertyTags is a list of free-form labels reported with the rule
	PropertyTags = "rule.tags"
)

// Definition derives resource values from a filtered snapshot of the twin.
// The engine calls Evaluate serially for one definition, never concurrently.
type Definition interface {
	// InputFilter selects the providers the rule reads
	InputFilter() criterion.Criterion

	// Evaluate receives the selected providers and pushes derived values
	// through updater. An error is logged and does not stop the rule.
	Evaluate(ctx context.Context, providers []*snapshot.ProviderSnapshot, updater ResourceUpdater) error
}

// ResourceUpdater pushes values into the twin. A zero timestamp means now.
type ResourceUpdater interface {
	UpdateResource(ctx context.Context, provider, service, resource string, value any, ts time.Time) error

	// UpdateBatch starts a batch committed as one unit by Complete
	UpdateBatch() Batch
}

// Batch accumulates updates until Complete
type Batch interface {
	Update(provider, service, resource string, value any, ts time.Time) Batch
	Complete(ctx context.Context) error
}

// Properties carry registration metadata such as PropertyID and
// PropertyName
type Properties map[string]any

// ID returns the registration identity, empty when unset
func (p Properties) ID() string {
	return config.GetString(p, PropertyID, "")
}

// Name returns the display name, empty when unset
func (p Properties) Name() string {
	return config.GetString(p, PropertyName, "")
}

// MaxAttempts returns the rebuild attempt limit, or def when unset
func (p Properties) MaxAttempts(def int) int {
	if n := config.GetInt(p, PropertyMaxAttempts, def); n > 0 {
		return n
	}
	return def
}

// Tags returns the rule labels
func (p Properties) Tags() []string {
	return config.GetStringSlice(p, PropertyTags, nil)
}

// Func adapts a filter and a function to Definition
type Func struct {
	Filter criterion.Criterion
	Fn     func(ctx context.Context, providers []*snapshot.ProviderSnapshot, updater ResourceUpdater) error
}

// InputFilter implements Definition
func (f Func) InputFilter() criterion.Criterion { return f.Filter }

// Evaluate implements Definition
func (f Func) Evaluate(ctx context.Context, providers []*snapshot.ProviderSnapshot, updater ResourceUpdater) error {
	return f.Fn(ctx, providers, updater)
}
