/*
Package metrics provides Prometheus metrics collection and exposition for the
Percolate storage engine.

The metrics package defines and registers every Percolate metric using the
Prometheus client library, providing observability into storage growth,
write-pipeline throughput, query-plan latency, vector-index size, and
write-ahead log / replication lag. Metrics are exposed via an HTTP endpoint
for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Storage: entities, schemas, tombstones     │          │
	│  │  Write pipeline: op count, latency          │          │
	│  │  Query: plan kind, latency, fallback count  │          │
	│  │  Vector index: size, search latency         │          │
	│  │  Embedding: duration, failures              │          │
	│  │  WAL / replication: sequence, lag, replicas │          │
	│  │  Vacuum: duration, entities purged          │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Collector:
  - Polls the kv store, WAL, and replication server on a 15s ticker
  - Populates gauges that aren't naturally updated inline (entity counts,
    schema counts, WAL sequence, replica count)
  - Counters and operation-latency histograms are not updated by the
    collector; only the vacuum ones are updated, by the CLI's vacuum
    command

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to a histogram or histogram vec

# Metrics Catalog

Storage:

	percolate_entities_total{tenant, schema} - Gauge
	percolate_schemas_total{tenant} - Gauge
	percolate_tombstones_total{tenant} - Gauge, soft-deleted entities awaiting vacuum

Write pipeline:

	percolate_write_ops_total{kind, status} - Counter
	percolate_write_duration_seconds{kind} - Histogram

Query:

	percolate_queries_total{kind, status} - Counter
	percolate_query_duration_seconds{kind} - Histogram
	percolate_query_fallback_total - Counter

Vector index:

	percolate_vector_index_size{tenant, schema} - Gauge
	percolate_vector_search_duration_seconds - Histogram
	percolate_embedding_duration_seconds{provider} - Histogram
	percolate_embedding_failures_total{provider} - Counter

WAL and replication:

	percolate_wal_sequence - Gauge
	percolate_wal_append_duration_seconds - Histogram
	percolate_replication_lag - Gauge, follower-only
	percolate_replica_count - Gauge, primary-only
	percolate_replication_reconnects_total - Counter, follower-only

Vacuum:

	percolate_vacuum_duration_seconds - Histogram
	percolate_vacuum_entities_purged_total - Counter

API:

	percolate_api_requests_total{operation, status} - Counter
	percolate_api_request_duration_seconds{operation} - Histogram

# Usage

Recording an operation's latency from an instrumented caller:

	timer := metrics.NewTimer()
	_, err := pipeline.Write(ctx, tenant, op)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.WriteOpsTotal.WithLabelValues(string(op.Kind), status).Inc()
	timer.ObserveDurationVec(metrics.WriteDuration, string(op.Kind))

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/healthz", metrics.HealthHandler())
	http.Handle("/readyz", metrics.ReadyHandler())
	http.Handle("/livez", metrics.LivenessHandler())

Running the background collector:

	collector := metrics.NewCollector(store, walLog, replicationServer)
	collector.Start()
	defer collector.Stop()

# Design Patterns

Package Init Registration:
  - All metrics registered in init(), panicking on duplicate registration
    so a naming collision is caught at process start rather than silently
    dropping a metric.

Label Discipline:
  - Labels are bounded by tenant count and schema count, both small and
    operator-controlled, never by entity id or timestamp.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
