// Package metrics exposes the fastpath and reactor subsystems' counters and
// gauges for scraping. Nothing in fastpath or reactor depends on this
// package for correctness; it's wired in purely for observability.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastpath_cache_hits_total",
		Help: "File cache lookups served from a resident entry.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastpath_cache_misses_total",
		Help: "File cache lookups that triggered a build.",
	})
	CacheBuildErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastpath_cache_build_errors_total",
		Help: "File cache builds that failed (stat/read error).",
	})
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastpath_cache_evictions_total",
		Help: "Entries evicted from the file cache to stay under its size budget.",
	})
	CacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fastpath_cache_bytes",
		Help: "Total bytes currently accounted for in the file cache.",
	})
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fastpath_cache_entries",
		Help: "Number of distinct keys currently resident in the file cache.",
	})

	ReactorRegisteredFDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fastpath_reactor_registered_fds",
		Help: "File descriptors currently registered with the socket reactor.",
	})
	ReactorPollCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastpath_reactor_poll_cycles_total",
		Help: "Completed poll(2) cycles in the socket reactor.",
	})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fastpath_requests_total",
		Help: "Fast path requests by outcome.",
	}, []string{"status"})
	RequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fastpath_request_duration_seconds",
		Help:    "Fast path request handling latency.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		CacheHits, CacheMisses, CacheBuildErrors, CacheEvictions, CacheBytes, CacheEntries,
		ReactorRegisteredFDs, ReactorPollCycles,
		RequestsTotal, RequestDuration,
	)
}
