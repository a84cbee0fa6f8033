package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks open websocket connections by role.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fogvizu_ws_connections_active",
		Help: "Open websocket connections by role.",
	}, []string{"role"})

	// DiscoveriesTotal counts discovery reports processed, by actor.
	DiscoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fogvizu_discoveries_total",
		Help: "Discovery reports processed, by actor.",
	}, []string{"actor"})

	// LinksPropagated counts links revealed by propagation, including the
	// reported ones.
	LinksPropagated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fogvizu_links_propagated_total",
		Help: "Links revealed by discovery propagation.",
	})

	// PeersDropped counts peers removed from a room after a failed delivery.
	PeersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fogvizu_peers_dropped_total",
		Help: "Peers dropped from a room after a failed broadcast delivery.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
