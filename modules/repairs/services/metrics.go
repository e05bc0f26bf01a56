package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
)

var (
	engineTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repairs",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Total number of transition commands broken down by outcome.",
	}, []string{"outcome"})

	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "repairs",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Total number of escalation sweep passes.",
	})

	sweepEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "repairs",
		Subsystem: "sweep",
		Name:      "escalations_total",
		Help:      "Total number of escalation events fired by the sweep.",
	})

	sweepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repairs",
		Subsystem: "sweep",
		Name:      "transitions_total",
		Help:      "Total number of transitions the sweep applied broken down by kind.",
	}, []string{"kind"})

	sweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "repairs",
		Subsystem: "sweep",
		Name:      "failures_total",
		Help:      "Total number of per-job sweep failures.",
	})
)

func recordTransition(outcome string) {
	engineTransitions.WithLabelValues(outcome).Inc()
}

// transitionOutcomeLabel folds the engine's typed errors into a small
// outcome vocabulary.
func transitionOutcomeLabel(err error) string {
	var (
		invalid      *repairjob.InvalidTransitionError
		unauthorized *repairjob.UnauthorizedError
		validation   *repairjob.ValidationError
		conflict     *repairjob.ConcurrencyConflictError
		terminal     *repairjob.AlreadyTerminalError
	)
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, repairjob.ErrJobNotFound):
		return "not_found"
	case errors.As(err, &invalid):
		return "invalid_transition"
	case errors.As(err, &unauthorized):
		return "unauthorized"
	case errors.As(err, &validation):
		return "validation_failed"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &terminal):
		return "terminal"
	default:
		return "error"
	}
}
