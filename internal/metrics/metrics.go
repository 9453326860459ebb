// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_ledger_appends_total",
		Help: "Ledger writes by kind (match, bye, correction)",
	}, []string{"kind"})

	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_ledger_rejections_total",
		Help: "Ledger writes rejected, by reason",
	}, []string{"reason"})

	Recomputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_recompute_total",
		Help: "Entity recomputations by result",
	}, []string{"result"})

	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kvk_recompute_duration_seconds",
		Help:    "Duration of one entity recomputation",
		Buckets: prometheus.DefBuckets,
	})

	ReconcileEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvk_reconcile_entities_total",
		Help: "Entities processed by reconciliation runs, by status",
	}, []string{"status"})

	ThresholdVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvk_tier_thresholds_version",
		Help: "Version of the tier threshold snapshot in use",
	})

	ThresholdPopulation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvk_tier_population",
		Help: "Number of scored entities behind the current thresholds",
	})

	ThresholdPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvk_tier_publish_failures_total",
		Help: "Failed threshold publications to the shared cache",
	})
)
