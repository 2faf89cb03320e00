// Package progress carries job telemetry from the orchestrator to observers.
//
// Events form a closed union keyed by Kind. A job is handed an explicit
// Emitter at start; in the service that is a Tee of the job's Journal (what
// the browser streams) and the process-wide Hub (which batches events to
// metrics, logging and persistence sinks). Emission is best-effort and never
// blocks the capture loop.
package progress
