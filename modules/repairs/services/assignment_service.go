package services

import (
	"context"

	gerrors "github.com/go-faster/errors"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/domain/technician"
	"github.com/repairhq/workshop/pkg/composables"
)

var ErrNoTechnicians = gerrors.New("no active technicians available")

// AssignmentService picks technicians for intake follow-ups.
type AssignmentService struct {
	registry    *repairjob.Registry
	technicians technician.Repository
	jobs        repairjob.Repository
}

func NewAssignmentService(registry *repairjob.Registry, technicians technician.Repository, jobs repairjob.Repository) *AssignmentService {
	return &AssignmentService{
		registry:    registry,
		technicians: technicians,
		jobs:        jobs,
	}
}

// PickTechnician returns the active technician carrying the fewest open
// jobs. Ties go to the longest-serving technician.
func (s *AssignmentService) PickTechnician(ctx context.Context) (technician.Technician, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (technician.Technician, error) {
		pool, err := s.technicians.ListActive(txCtx)
		if err != nil {
			return technician.Technician{}, err
		}
		if len(pool) == 0 {
			return technician.Technician{}, ErrNoTechnicians
		}

		counts, err := s.jobs.CountActiveByTechnician(txCtx, s.registry.NonTerminalStates())
		if err != nil {
			return technician.Technician{}, err
		}

		best := pool[0]
		for _, t := range pool[1:] {
			if counts[t.ID()] < counts[best.ID()] {
				best = t
			}
		}
		return best, nil
	})
}
