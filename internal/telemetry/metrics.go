// Package telemetry provides Prometheus metrics for the jukebox.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueuePushesTotal counts accepted queue pushes, by source.
	QueuePushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_queue_pushes_total",
		Help: "Total number of entries pushed into the queue, by outcome.",
	}, []string{"outcome"})

	// PlaysTotal counts entries handed to the playback device.
	PlaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_plays_total",
		Help: "Total number of entries played, by kind (request/filler).",
	}, []string{"kind"})

	// SkipsTotal counts skipped entries.
	SkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_skips_total",
		Help: "Total number of skipped entries.",
	})

	// DownloadFailuresTotal counts failed media downloads.
	DownloadFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_download_failures_total",
		Help: "Total number of failed media downloads.",
	})

	// EventsDispatchedTotal counts events fanned out to buckets.
	EventsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_events_dispatched_total",
		Help: "Total number of events dispatched to the event bus.",
	})

	// EventSubscribers tracks currently connected event stream observers.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_event_subscribers",
		Help: "Number of currently subscribed event buckets.",
	})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_api_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "endpoint", "status"})
)
