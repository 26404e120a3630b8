// Package metrics exposes Prometheus counters for the key broker and a
// standalone metrics server listening next to the API server.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbs",
		Name:      "sessions_started_total",
		Help:      "Attestation sessions created.",
	})
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbs",
		Name:      "sessions_expired_total",
		Help:      "Sessions frozen after passing their deadline.",
	})
	MeasurementsVerified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbs",
		Name:      "measurements_verified_total",
		Help:      "Measurement submissions that matched the expected digest.",
	})
	MeasurementsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbs",
		Name:      "measurements_rejected_total",
		Help:      "Measurement submissions that failed policy or digest verification.",
	})
	SecretsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbs",
		Name:      "secrets_released_total",
		Help:      "Secrets released to verified sessions.",
	})
	ReleaseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbs",
		Name:      "release_failures_total",
		Help:      "Secret release attempts that failed against the backend.",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server bound to the given address.
func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
