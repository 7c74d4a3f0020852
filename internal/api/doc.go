// Package api hosts the read-only HTTP server over the webmention caches.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/mentions, /v1/mentions/count and /v1/outgoing for cache contents.
package api
