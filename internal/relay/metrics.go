package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayMetricsOnce sync.Once

	wsConnectionsActive prometheus.Gauge
	wsConnectionsTotal  prometheus.Counter
	messagesForwarded   *prometheus.CounterVec
	messagesDropped     *prometheus.CounterVec
	routingErrors       *prometheus.CounterVec
	forwardedBytes      prometheus.Histogram
)

func initRelayMetrics() {
	wsConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hypo",
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Currently registered WebSocket sessions.",
		},
	)

	wsConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hypo",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Total number of WebSocket sessions registered since start.",
		},
	)

	messagesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hypo",
			Subsystem: "relay",
			Name:      "messages_forwarded_total",
			Help:      "Clipboard frames forwarded to recipients.",
		},
		[]string{"kind"},
	)

	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hypo",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Inbound frames dropped before routing.",
		},
		[]string{"reason"},
	)

	routingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hypo",
			Subsystem: "relay",
			Name:      "routing_errors_total",
			Help:      "Targeted sends that could not reach their recipient.",
		},
		[]string{"code"},
	)

	forwardedBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "hypo",
			Subsystem: "relay",
			Name:      "forwarded_frame_bytes",
			Help:      "Size distribution of forwarded binary frames.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 12),
		},
	)

	prometheus.MustRegister(
		wsConnectionsActive,
		wsConnectionsTotal,
		messagesForwarded,
		messagesDropped,
		routingErrors,
		forwardedBytes,
	)
}

func recordConnectionOpened(active int) {
	relayMetricsOnce.Do(initRelayMetrics)
	wsConnectionsTotal.Inc()
	wsConnectionsActive.Set(float64(active))
}

func recordActiveConnections(active int) {
	relayMetricsOnce.Do(initRelayMetrics)
	wsConnectionsActive.Set(float64(active))
}

func recordForwarded(kind string, frameBytes int) {
	relayMetricsOnce.Do(initRelayMetrics)
	messagesForwarded.WithLabelValues(kind).Inc()
	forwardedBytes.Observe(float64(frameBytes))
}

func recordDropped(reason string) {
	relayMetricsOnce.Do(initRelayMetrics)
	messagesDropped.WithLabelValues(reason).Inc()
}

func recordRoutingError(code string) {
	relayMetricsOnce.Do(initRelayMetrics)
	routingErrors.WithLabelValues(code).Inc()
}
