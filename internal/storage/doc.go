// Package storage is the record store behind the sync jobs.
//
// It keeps:
//   - artists and their catalog data
//   - releases discovered by the release checker
//   - a log of finished job runs and operator actions
//   - notifier dedup state (to survive restarts)
package storage
