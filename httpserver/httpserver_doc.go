// Package httpserver provides the HTTP server wrapping the key broker
// protocol handler with operational endpoints: liveness and readiness checks,
// drain/undrain for load balancer rotation, optional pprof, and a separate
// Prometheus metrics listener.
package httpserver
