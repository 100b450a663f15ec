// Package metrics exposes beeblinkd's Prometheus counters: request volume
// by code and disk-image/speed-test byte throughput, grounded on the
// teacher's own use of prometheus/client_golang for its own operational
// counters (accounting stats exported alongside rclone's rc HTTP server).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/gauge this server exports.
type Registry struct {
	RequestsTotal   *prometheus.CounterVec
	BytesTransferred prometheus.Counter
	OpenSessions    prometheus.Gauge
}

// NewRegistry constructs and registers every metric against a fresh
// prometheus.Registry, so tests can run with an isolated registry instead
// of colliding on the global default one.
func NewRegistry() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beeblinkd_requests_total",
			Help: "Requests dispatched, by request name.",
		}, []string{"request"}),
		BytesTransferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "beeblinkd_bytes_transferred_total",
			Help: "Bytes moved by OSBGET/OSBPUT/OSGBPB/disk-image transfers.",
		}),
		OpenSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beeblinkd_open_sessions",
			Help: "Currently active BeebLink sessions (serial + tunnel).",
		}),
	}, reg
}

// Handler returns an http.Handler serving reg's metrics in the Prometheus
// text exposition format, for mounting at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
