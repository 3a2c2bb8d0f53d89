package pagefile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookupLatencyHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pagefile_lookup_latency_histogram",
		Help:    "Pagefile lookup latency",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 10),
	},
	[]string{"result"},
)

var lookupExternalTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "pagefile_lookup_external_total",
		Help: "Lookups resolved via a second, external-entry ranged read",
	},
)

var buildPagesSealedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "pagefile_build_pages_sealed_total",
		Help: "Pages written by Builder.Seal",
	},
)
