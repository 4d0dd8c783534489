// Package metrics exposes Prometheus counters and histograms for intake,
// the worker and cleanup.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocrbatch_jobs_submitted_total",
		Help: "The total number of jobs created by intake",
	})

	ItemsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocrbatch_items_enqueued_total",
		Help: "The total number of job items published to the work queue",
	})

	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocrbatch_duplicates_skipped_total",
		Help: "Items dropped at intake because identical content was already in the batch",
	})

	IntakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocrbatch_intake_failures_total",
		Help: "Per-item intake failures",
	}, []string{"stage"}) // stage: put, create, enqueue

	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocrbatch_items_processed_total",
		Help: "Job items processed by the worker",
	}, []string{"status"}) // status: DONE, ERROR

	MessagesUnacked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocrbatch_messages_unacked_total",
		Help: "Messages left on the queue for redelivery",
	}, []string{"reason"})

	ExtractDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocrbatch_extract_duration_seconds",
		Help:    "Duration of text extraction per item",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"extractor"})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocrbatch_jobs_completed_total",
		Help: "Jobs that transitioned to DONE",
	})

	ObjectsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocrbatch_objects_deleted_total",
		Help: "Content store objects removed by cleanup",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
