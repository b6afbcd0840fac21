// Package metrics defines the Prometheus metrics the P2P node exposes
// on its admin surface, in the nil-safe singleton style used
// elsewhere in this codebase: every setter is safe to call on a nil
// *Metrics, so a node can be run with metrics disabled without
// threading a bool through every call site.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every gauge and counter the node reports.
type Metrics struct {
	PoolSize          prometheus.Gauge
	CacheEntries      prometheus.Gauge
	CacheBytes        prometheus.Gauge
	CacheMaxBytes     prometheus.Gauge
	PeersKnown        prometheus.Gauge
	PeersOnline       prometheus.Gauge
	BloomIndexedPeers prometheus.Gauge

	PingsSent       prometheus.Counter
	PingsFailed     prometheus.Counter
	BlobFetches     prometheus.Counter
	BlobFetchErrors prometheus.Counter
	QueriesRouted   prometheus.Counter
}

// New builds and registers the node's metrics against the default
// Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_connection_pool_size",
			Help: "Number of pooled connections currently open to peers.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_blob_cache_entries",
			Help: "Number of blobs currently held in the cache.",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_blob_cache_bytes",
			Help: "Total bytes currently held in the cache.",
		}),
		CacheMaxBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_blob_cache_max_bytes",
			Help: "Configured cache byte ceiling.",
		}),
		PeersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_peers_known",
			Help: "Number of peers in the registry, online or not.",
		}),
		PeersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_peers_online",
			Help: "Number of peers currently marked online.",
		}),
		BloomIndexedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_search_indexed_peers",
			Help: "Number of peers this node holds a Bloom filter for.",
		}),
		PingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2p_pings_sent_total",
			Help: "Total number of liveness pings sent to peers.",
		}),
		PingsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2p_pings_failed_total",
			Help: "Total number of liveness pings that failed or timed out.",
		}),
		BlobFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2p_blob_fetches_total",
			Help: "Total number of blob fetch attempts from peers.",
		}),
		BlobFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2p_blob_fetch_errors_total",
			Help: "Total number of blob fetch attempts that failed.",
		}),
		QueriesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2p_queries_routed_total",
			Help: "Total number of search queries routed to at least one peer.",
		}),
	}

	prometheus.MustRegister(
		m.PoolSize, m.CacheEntries, m.CacheBytes, m.CacheMaxBytes,
		m.PeersKnown, m.PeersOnline, m.BloomIndexedPeers,
		m.PingsSent, m.PingsFailed, m.BlobFetches, m.BlobFetchErrors, m.QueriesRouted,
	)
	return m
}

func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.PoolSize.Set(float64(n))
}

func (m *Metrics) SetCache(entries int, bytes, maxBytes uint64) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(entries))
	m.CacheBytes.Set(float64(bytes))
	m.CacheMaxBytes.Set(float64(maxBytes))
}

func (m *Metrics) SetPeers(known, online int) {
	if m == nil {
		return
	}
	m.PeersKnown.Set(float64(known))
	m.PeersOnline.Set(float64(online))
}

func (m *Metrics) SetBloomIndexedPeers(n int) {
	if m == nil {
		return
	}
	m.BloomIndexedPeers.Set(float64(n))
}

func (m *Metrics) IncPingSent() {
	if m == nil {
		return
	}
	m.PingsSent.Inc()
}

func (m *Metrics) IncPingFailed() {
	if m == nil {
		return
	}
	m.PingsFailed.Inc()
}

func (m *Metrics) IncBlobFetch(failed bool) {
	if m == nil {
		return
	}
	m.BlobFetches.Inc()
	if failed {
		m.BlobFetchErrors.Inc()
	}
}

func (m *Metrics) IncQueryRouted() {
	if m == nil {
		return
	}
	m.QueriesRouted.Inc()
}
