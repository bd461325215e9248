// Package recovery decides what happens after an artifact fails.
//
// A small state machine (idle, auto-recovering, awaiting-manual-action,
// exhausted) consumes classified errors and either retries, switches
// execution strategy, or schedules a model fix request after a short
// cancellable delay. Automatic action is bounded by MaxAttempts per
// artifact identity; once exhausted only the manual fix request remains.
package recovery
