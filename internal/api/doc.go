// Package api hosts the HTTP server, middleware, and REST handlers for the
// capture service. Notable routes:
//   - POST /v1/jobs accepts a spreadsheet upload and queues a capture job.
//   - GET /v1/jobs/{job_id} reports the job record and per-task outcomes.
//   - GET /v1/jobs/{job_id}/events streams progress as Server-Sent Events.
//   - GET /v1/jobs/{job_id}/archive and GET /download?path= serve the zip.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
