// Package obsmetrics exposes Prometheus instrumentation for the cache
// core, grounded on the teacher's internal/staging/stage/metrics.go:
// promauto-registered vectors keyed by a "table" label, a shared
// latency bucket scheme, and count/duration/error triples per
// operation.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets are the histogram buckets (seconds) shared by every
// duration metric below.
var LatencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// TableLabels is the common label set: every metric is broken down by
// the physical table it concerns.
var TableLabels = []string{"table"}

var (
	// FetchTotal counts fetcher invocations, whether point or range.
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fincache_fetch_total",
		Help: "the number of times a caller-provided fetcher was invoked",
	}, TableLabels)

	// FetchErrors counts fetcher invocations that returned an error.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fincache_fetch_errors_total",
		Help: "the number of fetcher invocations that returned an error",
	}, TableLabels)

	// FetchDuration times fetcher invocations.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fincache_fetch_duration_seconds",
		Help:    "the length of time a caller-provided fetcher took to return",
		Buckets: LatencyBuckets,
	}, TableLabels)

	// CacheHits counts point/range lookups fully served without a
	// fetcher call.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fincache_cache_hits_total",
		Help: "the number of lookups served entirely from the local store",
	}, TableLabels)

	// CacheMisses counts point/range lookups that required at least one
	// fetcher call.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fincache_cache_misses_total",
		Help: "the number of lookups that required at least one fetcher call",
	}, TableLabels)

	// ManifestIntervals reports the current number of disjoint cached
	// intervals recorded for a dataset; a rising count without
	// corresponding coalescing indicates a fragmenting access pattern.
	ManifestIntervals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fincache_manifest_intervals",
		Help: "the current number of disjoint intervals recorded in a dataset's manifest",
	}, TableLabels)
)

// ObserveFetch records one fetcher invocation's outcome and duration
// for table.
func ObserveFetch(table string, seconds float64, err error) {
	FetchTotal.WithLabelValues(table).Inc()
	FetchDuration.WithLabelValues(table).Observe(seconds)
	if err != nil {
		FetchErrors.WithLabelValues(table).Inc()
	}
}

// ObserveLookup records whether a point/range lookup for table was
// served from cache or required a fetch.
func ObserveLookup(table string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(table).Inc()
	} else {
		CacheMisses.WithLabelValues(table).Inc()
	}
}

// SetManifestIntervals records the current fragment count for table's
// manifest.
func SetManifestIntervals(table string, count int) {
	ManifestIntervals.WithLabelValues(table).Set(float64(count))
}
