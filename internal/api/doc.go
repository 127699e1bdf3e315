// Package api hosts the HTTP server, middleware, and handlers for the
// signature service. Notable routes:
//   - GET / and POST / for the browser form.
//   - POST /v1/signatures for programmatic submissions (multipart in, JSON out).
//   - GET /download/{filename} for previously rendered signatures.
//   - GET /media/* for headshots when the local blob store is in use.
//   - GET /healthz / readyz for probes and GET /metrics for Prometheus scraping.
package api
