package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the ingestion pipeline. Labels keep cardinality
// bounded: parser kind and server identity only, never player identity.
var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_cycles_total",
		Help: "Completed polling cycles by parser kind and outcome",
	}, []string{"kind", "outcome"})

	LinesReadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_lines_read_total",
		Help: "Raw lines read from remote files",
	}, []string{"kind"})

	ParseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_parse_errors_total",
		Help: "Lines skipped because they did not match any pattern",
	}, []string{"kind"})

	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_events_emitted_total",
		Help: "Typed events handed to the notification sink",
	}, []string{"event"})

	BatchesAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_replay_batches_applied_total",
		Help: "Chronological batches fully applied by the batch processor",
	})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingest_circuit_state",
		Help: "Connection circuit state per endpoint (0 closed, 1 half-open, 2 open)",
	}, []string{"endpoint"})

	LocksAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_session_locks_abandoned_total",
		Help: "Session leases reclaimed by the sweep after timeout",
	})
)

// ServeMetrics exposes the Prometheus registry on /metrics. Blocks until the
// listener fails; intended to run in its own goroutine.
func ServeMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Int("port", port).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics endpoint failed")
	}
}
