package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pocketllm",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations by kind and result",
		},
		[]string{"kind", "result"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pocketllm",
			Subsystem: "session",
			Name:      "operation_duration_seconds",
			Help:      "Duration of native session operations in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 1800},
		},
		[]string{"kind"},
	)

	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pocketllm",
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		},
		[]string{"state"},
	)

	busyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pocketllm",
			Subsystem: "session",
			Name:      "busy_rejections_total",
			Help:      "Calls rejected because another operation was in flight",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal, operationDuration, stateGauge, busyRejections)
}

func observeState(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		stateGauge.WithLabelValues(string(st)).Set(v)
	}
}
