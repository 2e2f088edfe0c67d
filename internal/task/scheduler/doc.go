// Package scheduler is the in-process job queue.
//
// A Service owns a table of jobs keyed by id. A periodic tick scans the table
// and dispatches every enabled, idle, due job to its own goroutine. Manual
// triggers go through the same claim and execute path as the tick, so retry
// and disable bookkeeping is identical for both.
//
// Per-job state machine:
//
//	idle(enabled) --due--> running --ok--> idle, retry=0, next=schedule
//	                       running --err, retry<max--> idle, next=now+RetryDelay
//	                       running --err, retry>=max--> disabled
//
// Job state is memory only; a restart resets it to the registered defaults.
// The engine imposes no timeout on a job action. Stop halts the tick but lets
// in-flight actions finish; Close additionally waits for them.
package scheduler
