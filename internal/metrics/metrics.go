// Package metrics exposes the relay's Prometheus counters and gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total", Help: "Total accepted WebSocket connections",
	})
	RoomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_rooms_created_total", Help: "Total rooms created",
	})
	RoomsDestroyedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_rooms_destroyed_total", Help: "Total rooms destroyed",
	})
	MessagesRelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_relayed_total", Help: "Binary frames relayed, by delivery kind",
	}, []string{"kind"}) // "unicast" | "broadcast"
	ProtocolErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_protocol_errors_total", Help: "Error frames emitted, by reason",
	}, []string{"reason"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limited_total", Help: "Upgrade attempts rejected by the rate limiter",
	})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_active", Help: "Currently live rooms",
	})
	PeersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_peers_active", Help: "Currently connected peers across all rooms",
	})
)

// Init registers every collector with the package's private registry.
// Safe to call once at process start.
func Init() {
	reg.MustRegister(
		ConnectionsTotal,
		RoomsCreatedTotal,
		RoomsDestroyedTotal,
		MessagesRelayedTotal,
		ProtocolErrorsTotal,
		RateLimitedTotal,
		RoomsActive,
		PeersActive,
	)
}

// Handler serves the exposition format for the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SetRooms updates the active-rooms gauge.
func SetRooms(n int) { RoomsActive.Set(float64(n)) }

// SetPeers updates the active-peers gauge.
func SetPeers(n int) { PeersActive.Set(float64(n)) }
