package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the proxy.
type Metrics struct {
	BlockNumberRequests *prometheus.CounterVec
	Refreshes           *prometheus.CounterVec
	Passthrough         *prometheus.CounterVec
	CachedBlock         prometheus.Gauge
	UpstreamLatency     prometheus.Histogram
}

// NewMetrics registers the proxy's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		BlockNumberRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lazynode_block_number_requests_total",
			Help: "eth_blockNumber requests answered, by whether the cache was refreshed",
		}, []string{"source"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lazynode_block_number_refreshes_total",
			Help: "Upstream block number refreshes, by result",
		}, []string{"result"}),
		Passthrough: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lazynode_passthrough_requests_total",
			Help: "Requests forwarded to the upstream node, by result",
		}, []string{"result"}),
		CachedBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "lazynode_cached_block_number",
			Help: "Block number currently served from the cache",
		}),
		UpstreamLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lazynode_upstream_request_duration_seconds",
			Help:    "Latency of calls to the upstream node",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// The helpers below accept a nil receiver so a proxy can run without metrics.

func (m *Metrics) blockNumber(source string, block uint64) {
	if m == nil {
		return
	}
	m.BlockNumberRequests.WithLabelValues(source).Inc()
	m.CachedBlock.Set(float64(block))
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) passthrough(result string) {
	if m == nil {
		return
	}
	m.Passthrough.WithLabelValues(result).Inc()
}
