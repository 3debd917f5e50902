package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figma_sync_operations_total",
			Help: "Total number of sync engine operations",
		},
		[]string{"operation", "result"},
	)

	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figma_sync_frames_total",
			Help: "Frames processed by full and single-slide syncs",
		},
		[]string{"result"},
	)

	checkBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "figma_check_batches_total",
			Help: "Node batches fetched by modification checks",
		},
		[]string{"result"},
	)

	modifiedSlidesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "figma_modified_slides_total",
			Help: "Slides reported as modified by modification checks",
		},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "figma_sync_duration_seconds",
			Help:    "Sync engine operation duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)
)
