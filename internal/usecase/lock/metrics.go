package lock

import (
	"errors"
	"time"

	"savings-service/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savings_lock_operations_total",
			Help: "Total number of balance operations by outcome",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "savings_lock_operation_duration_seconds",
			Help:    "Duration of balance operations including retries",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	conflictRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savings_lock_conflict_retries_total",
			Help: "Total number of retries after a write conflict",
		},
		[]string{"operation"},
	)
)

func observe(op string, start time.Time, err error) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrOverUnlock):
		return "over_unlock"
	case errors.Is(err, domain.ErrMembershipBanned):
		return "banned"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "rejected"
	}
}
