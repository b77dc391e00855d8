// Package metrics exposes per-node operational counters over Prometheus.
// It is ambient observability only: pkg/kv, pkg/column, pkg/dataframe and
// pkg/transport accept a nil *Collector and then record nothing, and a node
// that never wires a Collector still obeys the KV contract exactly the same way.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the counters and gauges a node reports. One Collector is
// created per node and threaded into the KV shard, transport, and chunked
// column layers that care to record against it.
type Collector struct {
	registry *prometheus.Registry

	Puts         prometheus.Counter
	Gets         prometheus.Counter
	WaitAndGets  prometheus.Counter
	RemoteCalls  prometheus.Counter
	DispatchWake prometheus.Counter
	ChunkHits    prometheus.Counter
	ChunkMisses  prometheus.Counter
	PeersUp      prometheus.Gauge
}

// NewCollector builds a Collector with a fresh registry holding only the
// eau2 metrics below (no Go runtime collectors), labelled with the node's index.
func NewCollector(nodeIndex uint64) *Collector {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"node": uint64Label(nodeIndex)}

	c := &Collector{
		registry: reg,
		Puts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eau2_kv_puts_total",
			Help:        "Number of put operations completed by this node's KV shard.",
			ConstLabels: labels,
		}),
		Gets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eau2_kv_gets_total",
			Help:        "Number of get operations completed by this node's KV shard.",
			ConstLabels: labels,
		}),
		WaitAndGets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eau2_kv_wait_and_gets_total",
			Help:        "Number of wait_and_get operations completed by this node's KV shard.",
			ConstLabels: labels,
		}),
		RemoteCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eau2_kv_remote_calls_total",
			Help:        "Number of KV operations that required a remote RPC.",
			ConstLabels: labels,
		}),
		DispatchWake: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eau2_transport_dispatch_wakeups_total",
			Help:        "Number of frames received by the transport's per-connection read loops.",
			ConstLabels: labels,
		}),
		ChunkHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eau2_column_chunk_cache_hits_total",
			Help:        "Number of chunked-column reads served from the resident chunk cache.",
			ConstLabels: labels,
		}),
		ChunkMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "eau2_column_chunk_cache_misses_total",
			Help:        "Number of chunked-column reads that required a KV fetch.",
			ConstLabels: labels,
		}),
		PeersUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "eau2_directory_peers_connected",
			Help:        "Number of peers this node currently holds a live connection to.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		c.Puts, c.Gets, c.WaitAndGets, c.RemoteCalls,
		c.DispatchWake, c.ChunkHits, c.ChunkMisses, c.PeersUp,
	)
	return c
}

// Handler returns the HTTP handler serving this Collector's registry in the
// Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func uint64Label(v uint64) string {
	const digits = "0123456789"
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v%10]
		v /= 10
	}
	return string(buf[i:])
}
