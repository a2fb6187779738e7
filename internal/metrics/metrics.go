// Package metrics exposes Prometheus collectors for the watch-party service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions is the number of sessions currently held by the registry.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_active_sessions",
		Help: "Number of active watch-party sessions",
	})

	// SessionOperations counts lifecycle operations by name and outcome.
	SessionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_session_operations_total",
		Help: "Total number of session lifecycle operations",
	}, []string{"operation", "result"})

	// MessagesTotal counts appended session messages by kind.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_messages_total",
		Help: "Total number of session messages appended",
	}, []string{"kind"})

	// TransportDrops counts envelopes dropped because a receiver fell behind.
	TransportDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_transport_drops_total",
		Help: "Total number of envelopes dropped due to backpressure",
	}, []string{"transport"})

	// RelayConnections is the number of open relay websocket connections.
	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watchparty_relay_connections",
		Help: "Number of open relay websocket connections",
	})

	// ProviderFallbacks counts upstream provider failures that were served
	// from a fallback source.
	ProviderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchparty_provider_fallbacks_total",
		Help: "Total number of upstream provider failures recovered locally",
	}, []string{"provider"})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
