package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TrieNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routecore_trie_nodes",
			Help: "Live nodes in a trie instance.",
		},
		[]string{"instance"},
	)

	TriePayloadCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routecore_trie_payload_count",
			Help: "Nodes carrying a payload in a trie instance.",
		},
		[]string{"instance"},
	)

	RefTrieDeletedPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routecore_reftrie_deleted_pending",
			Help: "Nodes marked deleted in a ref-counted trie, awaiting the last iterator release.",
		},
		[]string{"instance"},
	)

	SubnetRouteRefcountCorruptionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecore_subnetroute_refcount_corruption_total",
			Help: "Refcount underflow detected on a route record just before the invariant panic; should stay at zero.",
		},
		[]string{"instance"},
	)

	NextHopCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecore_nexthop_cache_hits_total",
			Help: "Next-hop registrations served from the cache without an RIB RPC.",
		},
		[]string{"instance"},
	)

	NextHopCacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecore_nexthop_cache_misses_total",
			Help: "Next-hop registrations that required an RIB register_nexthop RPC.",
		},
		[]string{"instance"},
	)

	NextHopRibRTT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routecore_nexthop_rib_rtt_seconds",
			Help:    "Round-trip latency of register_nexthop/deregister_nexthop RPCs.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"instance", "op"},
	)

	RibClientTransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routecore_ribclient_transaction_duration_seconds",
			Help:    "Duration of a RibClient transaction from start_transaction to commit_transaction.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5},
		},
		[]string{"target"},
	)

	RibClientTasksPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routecore_ribclient_tasks_pending",
			Help: "Queued or in-flight tasks for a RibClient target.",
		},
		[]string{"target"},
	)

	RibClientTransactionsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routecore_ribclient_transactions_failed_total",
			Help: "RibClient transactions that ended in a fatal failure.",
		},
		[]string{"target"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TrieNodes,
			TriePayloadCount,
			RefTrieDeletedPending,
			SubnetRouteRefcountCorruptionTotal,
			NextHopCacheHitsTotal,
			NextHopCacheMissesTotal,
			NextHopRibRTT,
			RibClientTransactionDuration,
			RibClientTasksPending,
			RibClientTransactionsFailedTotal,
		)
	})
}
