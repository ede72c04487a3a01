// Package metrics provides Prometheus instrumentation for the spam moderation
// service: classification throughput and latency, flag volume, moderation
// action outcomes, and the size of the repetition tracker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesChecked counts classified messages, labeled by verdict:
	// "spam", "clean", or "muted".
	MessagesChecked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spamguard_messages_checked_total",
		Help: "Total number of messages checked for spam",
	}, []string{"verdict"})

	// ClassifyLatency records classification latency in seconds.
	ClassifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spamguard_classify_latency_seconds",
		Help:    "Spam classification latency in seconds",
		Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
	})

	// FlagsTotal counts new moderation records, labeled by spam type.
	FlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spamguard_flags_total",
		Help: "Total number of moderation records created",
	}, []string{"type"}) // type = "auto_detected", "user_reported"

	// ActionsTotal counts moderation actions, labeled by action and outcome
	// ("ok" or an error code).
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spamguard_actions_total",
		Help: "Total number of moderation actions handled",
	}, []string{"action", "outcome"})

	// RepetitionKeys tracks the number of keys held by the repetition tracker.
	RepetitionKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spamguard_repetition_keys",
		Help: "Current number of sender/content keys in the repetition tracker",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesChecked,
		ClassifyLatency,
		FlagsTotal,
		ActionsTotal,
		RepetitionKeys,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
