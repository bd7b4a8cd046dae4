package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EngineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refetch",
			Name:      "engine_events_total",
			Help:      "Count of lifecycle events emitted by the download engine.",
		},
		[]string{"type"},
	)

	TransportFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refetch",
			Name:      "transport_failures_total",
			Help:      "Terminal task failures reported by the transport layer.",
		},
		[]string{"kind"},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "refetch",
			Name:      "bytes_downloaded_total",
			Help:      "Total bytes received across all transfers.",
		},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refetch",
			Name:      "active_downloads",
			Help:      "Number of records currently in the Downloading state.",
		},
	)
)

// Register registers the refetch metrics into the default registry.
func Register() {
	prometheus.MustRegister(EngineEvents, TransportFailures, BytesDownloaded, ActiveDownloads)
}
