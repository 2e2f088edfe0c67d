// Package control is the operator surface of the queue: a Service with the
// status/trigger/toggle/health operations, an HTTP server exposing them under
// /queue and a Client used by the command line.
package control
