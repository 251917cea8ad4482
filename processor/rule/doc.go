// Package rule runs rule definitions incrementally against the twin.
//
// # Overview
//
// A Whiteboard owns one Processor per registered rule.Definition. Each
// processor caches the filtered snapshot selected by the definition's input
// criterion and re-evaluates the rule only when a data change event shows
// that the cache is stale.
//
// # Processor states
//
// A processor is either working (a rebuild is queued or running) or idle.
// It starts working so that the initial snapshot is built before anything
// else happens.
//
//   - idle: an accepted event is checked against the cache. A stale event
//     flips the processor to working and dispatches a rebuild.
//   - working: accepted events are queued. After the rebuild and the
//     evaluation, the queue is re-checked newest first. One stale event is
//     enough to dispatch exactly one follow-up rebuild.
//
// An event is not stale when the cached value is newer, or when timestamp,
// value and metadata are all equal. A resource missing from the cache is
// always stale.
//
// # Failures
//
// A failed rebuild is retried after a backoff delay computed by
// errors.RetryConfig. After Config.MaxAttempts consecutive failures the
// processor is abandoned: it unsubscribes and leaves the whiteboard. Errors
// returned by Evaluate are logged and counted and never stop the rule.
//
// # Example
//
//	wb, _ := rule.NewWhiteboard(tw, bus, tw.Updater())
//	_ = wb.Start(ctx)
//	id, err := wb.AddRuleDefinition(rtypes.Func{
//	    Filter: criterion.ServiceName(criterion.Exact("sensor")),
//	    Fn:     average,
//	}, rtypes.Properties{rtypes.PropertyName: "average temperature"})
//
// A definition must not write into resources its own input filter
// selects, otherwise every evaluation makes its cache stale again.
package rule
