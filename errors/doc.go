// Package errors provides the error classification used across semtwin.
//
// Errors fall into three classes: transient (the operation may succeed if
// retried, e.g. the twin store or the NATS server is briefly unreachable),
// invalid (bad input such as a malformed selector document or rule file) and
// fatal (the component cannot continue).
//
// Wrap third-party errors with the component, method and action that failed:
//
//	if err := kv.Put(ctx, key, data); err != nil {
//	    return errors.WrapTransient(err, "KVStore", "Save", "put resource record")
//	}
//
// which renders as "KVStore.Save: put resource record failed: <cause>" and keeps
// the cause reachable through errors.Is and errors.As.
//
// RetryConfig describes exponential backoff between attempts. The rule
// processor uses BackoffDelay to space snapshot rebuild attempts, and
// ToRetryConfig converts it for pkg/retry.
package errors
