package tasks

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agileflow/internal/domain"
)

const (
	outcomeMoved       = "moved"
	outcomeNotFound    = "not_found"
	outcomeConflict    = "conflict"
	outcomeInvalid     = "invalid"
	outcomeExhausted   = "exhausted"
	outcomePersistence = "persistence"
)

var (
	movesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agileflow",
		Name:      "task_moves_total",
		Help:      "Task move requests by outcome.",
	}, []string{"outcome"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agileflow",
		Name:      "write_conflicts_total",
		Help:      "Optimistic write conflicts observed, by operation.",
	}, []string{"op"})

	moveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agileflow",
		Name:      "task_move_duration_seconds",
		Help:      "Time spent in the move procedure, retries included.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, domain.ErrCrossSpace), errors.Is(err, domain.ErrInvalidArgument):
		return outcomeInvalid
	case errors.Is(err, domain.ErrPositionExhausted):
		return outcomeExhausted
	case errors.Is(err, domain.ErrConflict):
		return outcomeConflict
	default:
		return outcomePersistence
	}
}
