// Package httputil is the transport used to talk to index servers.
//
// # Client
//
// [Client] issues GET requests with a per-request timeout and a
// User-Agent naming the ipm build. Failures are classified into the
// error taxonomy of package errors:
//
//   - transport failures, 5xx and 429 responses: NETWORK, retryable
//   - 404: NOT_FOUND
//   - any other non-200 status: NETWORK, not retried
//
// [Client.GetBytes] reads a small document such as an index;
// [Client.Download] streams an artifact to disk.
//
// # Retry
//
// [Backoff.Do] runs an operation up to a fixed number of attempts,
// doubling the delay between them, and only for errors marked with
// [Transient]. A Retry-After header on a 429 or 5xx response stretches the
// next wait, up to the policy's MaxDelay:
//
//	err := httputil.DefaultBackoff.Do(ctx, func(attempt int) error {
//	    return fetch(ctx)
//	})
//
// Every request emits [observability.HTTPHooks] events.
package httputil
