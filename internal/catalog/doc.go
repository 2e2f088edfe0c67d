// Package catalog is the client for the music catalog API (Spotify Web API).
//
// The client hides the client-credentials token lifecycle and retries HTTP 429
// answers a bounded number of times. Broader retry policy belongs to the job
// scheduler, so transport errors are returned immediately.
package catalog
