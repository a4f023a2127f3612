package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage metrics
	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "percolate_entities_total",
			Help: "Total number of entities by tenant and schema",
		},
		[]string{"tenant", "schema"},
	)

	SchemasTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "percolate_schemas_total",
			Help: "Total number of registered schemas by tenant",
		},
		[]string{"tenant"},
	)

	TombstonesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "percolate_tombstones_total",
			Help: "Total number of soft-deleted entities awaiting vacuum by tenant",
		},
		[]string{"tenant"},
	)

	// Write pipeline metrics
	WriteOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "percolate_write_ops_total",
			Help: "Total number of write pipeline operations by kind and status",
		},
		[]string{"kind", "status"},
	)

	WriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "percolate_write_duration_seconds",
			Help:    "Time taken to execute a write pipeline operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Query metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "percolate_queries_total",
			Help: "Total number of executed queries by plan kind and status",
		},
		[]string{"kind", "status"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "percolate_query_duration_seconds",
			Help:    "Query execution duration in seconds by plan kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueryFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "percolate_query_fallback_total",
			Help: "Total number of queries that fell back from their primary plan due to insufficient results",
		},
	)

	// Vector index metrics
	VectorIndexSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "percolate_vector_index_size",
			Help: "Number of live (non-tombstoned) vectors in the HNSW graph by tenant and schema",
		},
		[]string{"tenant", "schema"},
	)

	VectorSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "percolate_vector_search_duration_seconds",
			Help:    "Time taken to perform an HNSW nearest-neighbor search in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EmbeddingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "percolate_embedding_duration_seconds",
			Help:    "Time taken to compute an embedding in seconds by provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	EmbeddingFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "percolate_embedding_failures_total",
			Help: "Total number of embedding requests that failed, leaving the vector record stale",
		},
		[]string{"provider"},
	)

	// WAL and replication metrics
	WalSequence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percolate_wal_sequence",
			Help: "Current write-ahead log sequence number on this node",
		},
	)

	WalAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "percolate_wal_append_duration_seconds",
			Help:    "Time taken to append an entry to the write-ahead log in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicationLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percolate_replication_lag",
			Help: "Difference between the primary's sequence and this follower's locally applied sequence",
		},
	)

	ReplicaCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "percolate_replica_count",
			Help: "Number of followers currently streaming from this primary",
		},
	)

	ReplicationReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "percolate_replication_reconnects_total",
			Help: "Total number of times a follower has reconnected to its primary",
		},
	)

	// Vacuum metrics
	VacuumDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "percolate_vacuum_duration_seconds",
			Help:    "Time taken for a vacuum pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	VacuumEntitiesPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "percolate_vacuum_entities_purged_total",
			Help: "Total number of tombstoned entities physically removed by vacuum passes",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "percolate_api_requests_total",
			Help: "Total number of API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "percolate_api_request_duration_seconds",
			Help:    "API request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(EntitiesTotal)
	prometheus.MustRegister(SchemasTotal)
	prometheus.MustRegister(TombstonesTotal)

	prometheus.MustRegister(WriteOpsTotal)
	prometheus.MustRegister(WriteDuration)

	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryFallbackTotal)

	prometheus.MustRegister(VectorIndexSize)
	prometheus.MustRegister(VectorSearchDuration)
	prometheus.MustRegister(EmbeddingDuration)
	prometheus.MustRegister(EmbeddingFailuresTotal)

	prometheus.MustRegister(WalSequence)
	prometheus.MustRegister(WalAppendDuration)
	prometheus.MustRegister(ReplicationLag)
	prometheus.MustRegister(ReplicaCount)
	prometheus.MustRegister(ReplicationReconnectsTotal)

	prometheus.MustRegister(VacuumDuration)
	prometheus.MustRegister(VacuumEntitiesPurgedTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
