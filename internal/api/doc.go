// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /scrape accepts a domain run and returns 202 with its run ID.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/result report run state and records.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
