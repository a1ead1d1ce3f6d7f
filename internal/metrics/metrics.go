// Package metrics provides Prometheus metrics for the consensus engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PollsTotal counts poll attempts by source and outcome.
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_polls_total",
			Help: "Total number of poll attempts by outcome",
		},
		[]string{"source", "outcome"},
	)

	// PollDuration is a histogram of upstream fetch plus normalize time.
	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delphi_poll_duration_seconds",
			Help:    "Duration of successful and failed polls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	// QuotesIngested counts accepted and rejected quotes per source.
	QuotesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_quotes_ingested_total",
			Help: "Total number of normalized quotes by result",
		},
		[]string{"source", "result"},
	)

	// CacheEntries is a gauge of cache entries per category.
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delphi_cache_entries",
			Help: "Number of cache entries per category",
		},
		[]string{"category"},
	)

	// CacheLookups counts cache reads by result (hit_fresh, hit_stale, miss).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheSwept counts entries removed by sweeps.
	CacheSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delphi_cache_swept_total",
			Help: "Total number of cache entries removed by sweeps",
		},
	)

	// ConsensusConfidence is a histogram of snapshot confidence values.
	ConsensusConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delphi_consensus_confidence",
			Help:    "Confidence of computed consensus snapshots",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		},
	)

	// RateLimitUsage is a gauge of requests consumed in the current window.
	RateLimitUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delphi_rate_limit_usage",
			Help: "Requests consumed in the current window per source",
		},
		[]string{"source", "window"},
	)

	// SchedulerTicks counts scheduler ticks.
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delphi_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delphi_http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default Prometheus registry.
// Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PollsTotal,
			PollDuration,
			QuotesIngested,
			CacheEntries,
			CacheLookups,
			CacheSwept,
			ConsensusConfidence,
			RateLimitUsage,
			SchedulerTicks,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

// RecordPoll records a poll outcome and, when it reached upstream, its duration.
func RecordPoll(source, outcome string, duration time.Duration) {
	PollsTotal.WithLabelValues(source, outcome).Inc()
	if duration > 0 {
		PollDuration.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// RecordQuotes records accepted and rejected quote counts for a poll.
func RecordQuotes(source string, accepted, rejected int) {
	QuotesIngested.WithLabelValues(source, "accepted").Add(float64(accepted))
	QuotesIngested.WithLabelValues(source, "rejected").Add(float64(rejected))
}

// RecordCacheLookup records one cache read.
func RecordCacheLookup(found, fresh bool) {
	switch {
	case !found:
		CacheLookups.WithLabelValues("miss").Inc()
	case fresh:
		CacheLookups.WithLabelValues("hit_fresh").Inc()
	default:
		CacheLookups.WithLabelValues("hit_stale").Inc()
	}
}

// RecordCacheEntries sets the per-category entry gauges.
func RecordCacheEntries(byCategory map[string]int) {
	for category, n := range byCategory {
		CacheEntries.WithLabelValues(category).Set(float64(n))
	}
}

// RecordSweep records entries removed by a sweep.
func RecordSweep(removed int) {
	CacheSwept.Add(float64(removed))
}

// RecordConfidence records a snapshot's consensus confidence.
func RecordConfidence(confidence float64) {
	ConsensusConfidence.Observe(confidence)
}

// RecordRateLimitUsage records the current daily and hourly usage of a source.
func RecordRateLimitUsage(source string, daily, hourly int) {
	RateLimitUsage.WithLabelValues(source, "daily").Set(float64(daily))
	RateLimitUsage.WithLabelValues(source, "hourly").Set(float64(hourly))
}

// RecordTick records a scheduler tick.
func RecordTick() {
	SchedulerTicks.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
