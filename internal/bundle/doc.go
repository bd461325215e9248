// Package bundle retrieves precompiled bundle documents from the storage
// service and manages the transient document references they are loaded
// through.
//
// The fetch path is defensive end to end: the origin allow-list is checked
// before any network traffic, responses are content-sniffed and size
// capped, transient failures are retried, and a circuit breaker covers the
// storage origin as a whole. Transient references are a finite per-origin
// resource and must be released on teardown.
package bundle
