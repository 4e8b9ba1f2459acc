// Package metrics exposes the server's Prometheus collectors. Collectors
// are registered on the default registry and served by the /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished jobs by terminal outcome (done, failed).
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliptune_jobs_total",
		Help: "Jobs finished, by terminal outcome.",
	}, []string{"outcome"})

	// StageDuration observes wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cliptune_stage_duration_seconds",
		Help:    "Wall time spent per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	// ActiveJobs tracks jobs currently between intake and a terminal
	// state.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cliptune_active_jobs",
		Help: "Jobs currently in a non-terminal state.",
	})

	// UploadsRejected counts uploads refused before scheduling, by
	// reason (too_large, bad_request, queue_full).
	UploadsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliptune_uploads_rejected_total",
		Help: "Uploads rejected before scheduling, by reason.",
	}, []string{"reason"})

	// WebhookDeliveries counts delivery outcomes (delivered, failed).
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliptune_webhook_deliveries_total",
		Help: "Webhook delivery outcomes.",
	}, []string{"result"})
)
