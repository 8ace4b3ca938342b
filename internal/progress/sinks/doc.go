// Package sinks implements concrete progress consumers: structured logging,
// Prometheus counters, and an in-process tally of session state. Each sink
// satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
