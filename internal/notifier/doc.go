// Package notifier delivers operator alerts.
//
// The service watches the event bus for jobs the queue disabled after
// exhausting their retries and turns each into a short message. Messages go
// through a bounded queue and a small worker pool, are rate limited, and are
// retried with jittered backoff before reaching a Sender (Telegram in
// production). Repeats of the same alert inside the dedup window are
// suppressed; with PersistDedup the window survives restarts through storage.
package notifier
