// Package telemetry exposes the pipeline's prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsTotal counts finished turns by outcome: ok, duplicate, error.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_turns_total",
		Help: "Turns processed, by outcome.",
	}, []string{"outcome"})

	// AttemptsTotal counts upstream generation attempts including retries.
	AttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_generation_attempts_total",
		Help: "Upstream completion attempts, including retries.",
	})

	// RejectionsTotal counts candidate rejections by validator reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_candidate_rejections_total",
		Help: "Candidate replies rejected before acceptance, by reason.",
	}, []string{"reason"})

	// IdemHitsTotal counts duplicate submissions collapsed by the
	// idempotency window.
	IdemHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_idempotency_hits_total",
		Help: "Duplicate submissions served from the idempotency window.",
	})

	// MirrorEventsTotal counts mirror fan-out results: ok, dropped, failed.
	MirrorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_mirror_events_total",
		Help: "Mirror fan-out events, by result.",
	}, []string{"result"})

	// UpstreamSeconds observes completion call latency.
	UpstreamSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_upstream_seconds",
		Help:    "Latency of upstream completion calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }
