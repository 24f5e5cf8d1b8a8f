package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediavault",
			Subsystem: "upload",
			Name:      "results_total",
			Help:      "Upload pipeline outcomes",
		},
		[]string{"status", "reason"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mediavault",
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Total bytes accepted by the upload pipeline",
		},
	)

	StorageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediavault",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Storage driver operations",
		},
		[]string{"driver", "operation"},
	)

	StorageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediavault",
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage driver operation duration in seconds",
			Buckets:   []float64{0.005, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"driver", "operation"},
	)

	ThumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediavault",
			Subsystem: "thumbnail",
			Name:      "results_total",
			Help:      "Thumbnail generation outcomes",
		},
		[]string{"variant", "outcome"},
	)

	GCDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediavault",
			Subsystem: "gc",
			Name:      "deleted_total",
			Help:      "Objects deleted by garbage collection",
		},
		[]string{"mode"},
	)
)

// RecordStorageOp records one driver request.
func RecordStorageOp(driver, operation string, durationSec float64) {
	StorageOpsTotal.WithLabelValues(driver, operation).Inc()
	StorageOpDuration.WithLabelValues(driver, operation).Observe(durationSec)
}

// RecordUpload records the outcome of one upload pipeline run.
func RecordUpload(status, reason string, bytes int64) {
	UploadsTotal.WithLabelValues(status, reason).Inc()
	if bytes > 0 {
		UploadBytesTotal.Add(float64(bytes))
	}
}
