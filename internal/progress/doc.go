// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the audit orchestrator uses to report session progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs, Prometheus metrics, or an in-process tally.
package progress
