// Package resilience retries operations that fail with transient errors.
//
// Retry runs a function until it succeeds, the error is not retryable, the
// attempt budget is spent or the context ends, sleeping with exponential
// backoff and jitter in between:
//
//	h, err := resilience.Retry(ctx, cfg, func() (provider.Handle, error) {
//	    return p.Connect(name, onState)
//	})
//
// By default only errors marked retryable (errors.IsRetryable) are retried.
package resilience
