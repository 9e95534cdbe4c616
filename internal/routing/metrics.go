package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentrouter",
		Subsystem: "routing",
		Name:      "route_duration_seconds",
		Help:      "Time spent generating and selecting candidates.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	candidateCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentrouter",
		Subsystem: "routing",
		Name:      "candidates",
		Help:      "Number of candidates produced per request.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})

	selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentrouter",
		Subsystem: "routing",
		Name:      "selections_total",
		Help:      "Routing outcomes by mode and result.",
	}, []string{"mode", "outcome"})

	passMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentrouter",
		Subsystem: "routing",
		Name:      "pass_matches_total",
		Help:      "Candidates contributed by each generator pass.",
	}, []string{"pass"})
)
