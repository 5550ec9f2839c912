package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analysis_queue_length",
			Help: "Current number of queued analysis jobs",
		},
	)

	processingJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analysis_processing_jobs",
			Help: "Current number of analysis jobs in processing",
		},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "status"},
	)

	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_admission_decisions_total",
			Help: "Admission check outcomes by tier",
		},
		[]string{"tier", "decision"},
	)

	promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_queue_promotions_total",
			Help: "Queued jobs promoted to processing",
		},
	)

	analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Wall time of completed analyses",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"provider", "status"},
	)
)

type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Track queue operations
func (m *Monitor) TrackQueueOperation(operation, status string) {
	queueOperations.WithLabelValues(operation, status).Inc()
}

// Track admission check outcomes
func (m *Monitor) TrackAdmission(tier string, admitted bool) {
	decision := "queued"
	if admitted {
		decision = "admitted"
	}
	admissionDecisions.WithLabelValues(tier, decision).Inc()
}

func (m *Monitor) TrackPromotions(n int) {
	promotions.Add(float64(n))
}

// Track analysis wall time
func (m *Monitor) TrackAnalysisDuration(provider, status string, duration time.Duration) {
	analysisDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// SetQueueGauges updates the point-in-time queue gauges.
func (m *Monitor) SetQueueGauges(queued, processing int) {
	queueLength.Set(float64(queued))
	processingJobs.Set(float64(processing))
}
