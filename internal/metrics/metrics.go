// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedscribe/pkg/types"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedscribe_runs_total",
		Help: "Pipeline invocations by terminal outcome.",
	}, []string{"outcome"})

	transcriptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedscribe_transcripts_total",
		Help: "Transcripts recorded in the ledger.",
	})

	publishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedscribe_publish_failures_total",
		Help: "Publish attempts that failed after the transcript was recorded.",
	})

	lastTickTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedscribe_scheduler_last_tick_timestamp_seconds",
		Help: "Unix time of the last scheduler tick.",
	})
)

// RecordRun counts one finished pipeline invocation.
func RecordRun(outcome types.RunOutcome) {
	runsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordTranscript counts one recorded transcript.
func RecordTranscript() {
	transcriptsTotal.Inc()
}

// RecordPublishFailure counts one failed publish attempt.
func RecordPublishFailure() {
	publishFailuresTotal.Inc()
}

// MarkTick records when the scheduler last evaluated subscriptions.
func MarkTick(at time.Time) {
	lastTickTimestamp.Set(float64(at.Unix()))
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
