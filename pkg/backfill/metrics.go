package backfill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the backfill pipeline.
var (
	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_pages_total",
		Help: "Non-empty candidate pages processed",
	})

	candidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_candidates_total",
		Help: "Candidates read from storage",
	})

	fetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_fetch_failures_total",
		Help: "Per-item metadata fetches that failed and were dropped",
	})

	reconcileMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_reconcile_misses_total",
		Help: "Candidates without a matching fetched payload",
	})

	writeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_write_failures_total",
		Help: "Per-item metadata writes that failed and were dropped",
	})

	recordsUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backfill_records_updated_total",
		Help: "Records whose metadata was written successfully",
	})
)
