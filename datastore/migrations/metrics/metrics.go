package metrics

import (
	"time"

	"github.com/clinicapp/clinic/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	durationHist *prometheus.HistogramVec
	appliedTotal *prometheus.CounterVec
	failedTotal  *prometheus.CounterVec
)

const (
	subsystem      = "migrations"
	directionLabel = "direction"
	reasonLabel    = "reason"

	durationName = "duration_seconds"
	durationDesc = "A histogram of durations of applied schema migrations."

	appliedName = "applied_total"
	appliedDesc = "A counter of applied schema migrations."

	failedName = "failed_total"
	failedDesc = "A counter of schema migrations that failed to apply."
)

func init() {
	durationHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      durationName,
			Help:      durationDesc,
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{directionLabel},
	)

	appliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      appliedName,
			Help:      appliedDesc,
		},
		[]string{directionLabel},
	)

	failedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      failedName,
			Help:      failedDesc,
		},
		[]string{directionLabel, reasonLabel},
	)

	prometheus.MustRegister(durationHist)
	prometheus.MustRegister(appliedTotal)
	prometheus.MustRegister(failedTotal)
}

// Direction is the direction in which a migration is applied.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) String() string {
	return string(d)
}

// FailureReason categorizes migration failures.
type FailureReason string

const (
	ReasonBackfillRequired FailureReason = "backfill_required"
	ReasonDatabaseError    FailureReason = "database_error"
)

// Applied records a successfully applied migration.
func Applied(d Direction, duration time.Duration) {
	appliedTotal.WithLabelValues(d.String()).Inc()
	durationHist.WithLabelValues(d.String()).Observe(duration.Seconds())
}

// Failed records a migration that could not be applied.
func Failed(d Direction, reason FailureReason) {
	failedTotal.WithLabelValues(d.String(), string(reason)).Inc()
}
