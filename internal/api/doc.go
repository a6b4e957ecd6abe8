// Package api hosts the ops HTTP server, middleware, and handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes; readyz pings Postgres.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/checkpoint for the crawl cursor.
//   - POST and GET /v1/rescan to start and watch an alert rescan.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the
//     RunRepository interface.
//   - GET /v1/alerts for the most recent keyword alerts.
package api
