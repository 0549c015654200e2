package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "espresso"

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Analysis runs by terminal status.",
	}, []string{"status"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Runs currently executing.",
	})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_total",
		Help:      "Processed chunks by sample and status.",
	}, []string{"sample", "status"})

	chunkRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_retries_total",
		Help:      "Chunk processing attempts beyond the first.",
	})

	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Events read per sample.",
	}, []string{"sample"})

	eventsSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_selected_total",
		Help:      "Events surviving skim and preselection per sample.",
	}, []string{"sample"})

	chunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chunk_duration_seconds",
		Help:      "Wall time per processed chunk.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"sample"})
)

// RecordRun counts one run reaching a terminal status.
func RecordRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// RunStarted and RunFinished track the in-flight run gauge.
func RunStarted()  { activeRuns.Inc() }
func RunFinished() { activeRuns.Dec() }

// RecordChunk counts one chunk outcome and its timing.
func RecordChunk(sample, status string, processed, selected int, elapsed time.Duration) {
	chunksTotal.WithLabelValues(sample, status).Inc()
	eventsProcessed.WithLabelValues(sample).Add(float64(processed))
	eventsSelected.WithLabelValues(sample).Add(float64(selected))
	chunkDuration.WithLabelValues(sample).Observe(elapsed.Seconds())
}

// RecordChunkRetry counts one retried chunk attempt.
func RecordChunkRetry() {
	chunkRetriesTotal.Inc()
}
