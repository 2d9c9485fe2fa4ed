// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BandDecisions counts triage band outcomes.
	BandDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forensicgraph_band_decisions_total",
		Help: "Stage-1 band decisions by band.",
	}, []string{"band"})

	// EventOutcomes counts per-event statuses (processed, replayed, conflict, failed).
	EventOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forensicgraph_event_outcomes_total",
		Help: "Per-event triage outcomes by status.",
	}, []string{"status"})

	// LedgerAppends counts ledger entries by type.
	LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forensicgraph_ledger_appends_total",
		Help: "Evidence ledger appends by entry type.",
	}, []string{"type"})

	// GateActions counts ARV gate evaluations by gate and action.
	GateActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forensicgraph_gate_actions_total",
		Help: "ARV gate decisions by gate and action.",
	}, []string{"gate", "action"})

	// TriageSeconds observes Stage-1 batch wall time.
	TriageSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forensicgraph_triage_seconds",
		Help:    "Stage-1 batch classification duration.",
		Buckets: prometheus.DefBuckets,
	})
)

// Serve starts a metrics endpoint on addr. It blocks, so callers run it on
// its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
