package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"AgentRouter/internal/breaker"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"breaker"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state transitions.",
	}, []string{"breaker", "from", "to"})

	breakerFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "failure_count",
		Help:      "Failure count recorded at the last transition.",
	}, []string{"breaker"})
)

// BreakerObserver mirrors breaker transitions into Prometheus.
type BreakerObserver struct{}

// OnStateChange implements breaker.Observer.
func (BreakerObserver) OnStateChange(ev breaker.Event) {
	breakerState.WithLabelValues(ev.Breaker).Set(stateValue(ev.To))
	breakerTransitions.WithLabelValues(ev.Breaker, ev.From.String(), ev.To.String()).Inc()
	breakerFailures.WithLabelValues(ev.Breaker).Set(float64(ev.FailureCount))
}

// SeedBreakers publishes the initial state of every breaker in the set so
// the gauges exist before the first transition.
func SeedBreakers(set *breaker.Set) {
	if set == nil {
		return
	}
	for _, st := range set.Statuses() {
		breakerState.WithLabelValues(st.Name).Set(stateValue(st.State))
		breakerFailures.WithLabelValues(st.Name).Set(float64(st.FailureCount))
	}
}

func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

var _ breaker.Observer = BreakerObserver{}
