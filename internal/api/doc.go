// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawls lists the crawls the scheduler is running.
//   - POST /v1/requests queues an audit request for a user.
package api
