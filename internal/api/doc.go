// Package api hosts the HTTP server, middleware, and REST handlers for
// operating the follower auditor remotely. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions and /v1/sessions/{pause,resume,stop} for session control.
//   - GET /v1/targets/{handle} and /v1/targets/{handle}/export for saved results.
//   - GET /v1/progress for live session snapshots via the ProgressReader interface.
package api
