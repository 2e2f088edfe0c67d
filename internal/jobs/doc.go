// Package jobs holds the catalog sync jobs run by the queue engine.
//
// Both jobs walk a work list from storage, call the catalog once or twice
// per entity with a pacing delay in between and write the result back.
// A failure for one entity is counted and logged; only a failure to build the
// work list or to authenticate at all fails the job.
package jobs
