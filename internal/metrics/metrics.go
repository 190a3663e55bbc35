package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ErrorsTotal counts surfaced errors by stable error code.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_nexus_errors_total",
		Help: "Surfaced errors by error code.",
	}, []string{"code"})

	// MirrorFailures counts fail-soft mirror write/delete failures.
	MirrorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_nexus_mirror_failures_total",
		Help: "Mirror write and delete failures by provider and operation.",
	}, []string{"provider", "op"})

	// GraphIngestFailures counts fail-soft graph ingest failures.
	GraphIngestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "core_nexus_graph_ingest_failures_total",
		Help: "Graph ingest failures recovered locally.",
	})

	// QueriesServed counts queries by the provider that served them.
	QueriesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "core_nexus_queries_served_total",
		Help: "Queries served by provider.",
	}, []string{"provider"})

	// MemoriesCreated counts successful primary writes.
	MemoriesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "core_nexus_memories_created_total",
		Help: "Memories accepted by the primary provider.",
	})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
