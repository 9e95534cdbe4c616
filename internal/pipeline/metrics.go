package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentrouter",
		Subsystem: "pipeline",
		Name:      "downstream_calls_total",
		Help:      "Downstream calls by service and outcome.",
	}, []string{"service", "outcome"})

	downstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentrouter",
		Subsystem: "pipeline",
		Name:      "downstream_duration_seconds",
		Help:      "Downstream call latency including fallback.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})
)

// observe 记录一次下游调用的结果。
func observe(call CallOutcome, failed bool) {
	outcome := "ok"
	switch {
	case failed:
		outcome = "failed"
	case call.Degraded:
		outcome = "degraded"
	}
	downstreamCalls.WithLabelValues(string(call.Service), outcome).Inc()
	downstreamLatency.WithLabelValues(string(call.Service)).Observe(call.Duration.Seconds())
}
