// Package api hosts the HTTP server, middleware, and REST handlers for agent
// and operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/navigation/check for allow/block decisions on a URL pair.
//   - GET/PUT /v1/lists for inspecting and replacing the safety lists.
//   - POST /v1/lists/refresh and GET /v1/lists/refresh/{id} for refresh jobs.
//   - GET /v1/decisions/recent for audit rows via the DecisionRepository
//     interface.
package api
