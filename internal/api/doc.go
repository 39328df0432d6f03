// Package api hosts the read-only HTTP view served by the serve command.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for graph totals and the latest run snapshot.
//   - GET /v1/nodes/{id} for one person with advisor and student IDs.
//   - GET /v1/runs for the snapshot listing, newest first.
//   - GET /v1/runs/history for runs recorded in Postgres via store.RunReader.
package api
