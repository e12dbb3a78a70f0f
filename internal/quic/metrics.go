package quic

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegisterer is the subset of prometheus.Registerer an Endpoint
// needs; satisfied by *prometheus.Registry or prometheus.DefaultRegisterer.
type MetricsRegisterer interface {
	Register(prometheus.Collector) error
}

// endpointMetrics bundles the Prometheus collectors exposed by an Endpoint.
// Grounded on the collector layout shared by distribution-distribution's
// metrics package and m-lab-tcp-info's collector metrics: a handful of
// Gauges/Counters registered once at construction time, updated inline by
// the code that owns the underlying state rather than scraped out-of-band.
type endpointMetrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	bytesInFlight     prometheus.Gauge
	packetsSent       prometheus.Counter
	packetsLost       prometheus.Counter
	ptoFirings        prometheus.Counter
	versionRejections prometheus.Counter
}

func newEndpointMetrics(reg MetricsRegisterer) *endpointMetrics {
	m := &endpointMetrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quant",
			Subsystem: "endpoint",
			Name:      "connections_active",
			Help:      "Number of connections currently tracked by the endpoint.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quant",
			Subsystem: "endpoint",
			Name:      "connections_total",
			Help:      "Total connections created since startup.",
		}),
		bytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quant",
			Subsystem: "recovery",
			Name:      "bytes_in_flight",
			Help:      "Sum of in-flight bytes across all connections and packet-number spaces.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quant",
			Subsystem: "recovery",
			Name:      "packets_sent_total",
			Help:      "Total packets handed to the I/O layer.",
		}),
		packetsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quant",
			Subsystem: "recovery",
			Name:      "packets_lost_total",
			Help:      "Total packets declared lost by the recovery engine.",
		}),
		ptoFirings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quant",
			Subsystem: "recovery",
			Name:      "pto_firings_total",
			Help:      "Total probe-timeout alarm firings.",
		}),
		versionRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quant",
			Subsystem: "handshake",
			Name:      "version_rejections_total",
			Help:      "Total version-negotiation rejections sent by this endpoint as a server.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.connectionsActive, m.connectionsTotal, m.bytesInFlight,
			m.packetsSent, m.packetsLost, m.ptoFirings, m.versionRejections,
		} {
			// Registration failures (duplicate collector) are not fatal:
			// the endpoint still functions, just without that metric
			// exported a second time under the same registry.
			_ = reg.Register(c)
		}
	}
	return m
}
