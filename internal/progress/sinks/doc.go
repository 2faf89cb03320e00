// Package sinks implements progress consumers for structured logging,
// Prometheus and job persistence. Each satisfies progress.Sink.
package sinks
