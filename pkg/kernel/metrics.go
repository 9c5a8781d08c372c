package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sameehj/cellgate/pkg/types"
)

var (
	metricCells = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cellgate",
		Name:      "cells_total",
		Help:      "Cells processed by outcome status.",
	}, []string{"status"})
	metricCellDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cellgate",
		Name:      "cell_duration_seconds",
		Help:      "Wall time from admission to outcome for admitted cells.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
	})
	metricInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cellgate",
		Name:      "cells_in_flight",
		Help:      "Cells currently holding an admission slot.",
	})
	metricPolicyTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cellgate",
		Name:      "policy_triggers_total",
		Help:      "Denylist terms that caused a cell to be rejected.",
	}, []string{"trigger"})
)

func recordOutcome(outcome types.Outcome, elapsed time.Duration, admitted bool) {
	metricCells.WithLabelValues(string(outcome.Status)).Inc()
	if admitted {
		metricCellDuration.Observe(elapsed.Seconds())
	}
	if outcome.Security != nil {
		for _, trigger := range outcome.Security.Triggers {
			metricPolicyTriggers.WithLabelValues(trigger).Inc()
		}
	}
}

func recordInFlight(n int) {
	metricInFlight.Set(float64(n))
}
