package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/repairhq/workshop/modules/repairs/domain/technician"
	"github.com/repairhq/workshop/pkg/composables"
)

type TechnicianService struct {
	repo  technician.Repository
	clock clockwork.Clock
}

func NewTechnicianService(repo technician.Repository, clock clockwork.Clock) *TechnicianService {
	return &TechnicianService{repo: repo, clock: clock}
}

func (s *TechnicianService) Create(ctx context.Context, name string) (technician.Technician, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (technician.Technician, error) {
		return s.repo.Create(txCtx, technician.New(name, s.clock.Now().UTC()))
	})
}

func (s *TechnicianService) GetByID(ctx context.Context, id uuid.UUID) (technician.Technician, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *TechnicianService) ListActive(ctx context.Context) ([]technician.Technician, error) {
	return s.repo.ListActive(ctx)
}

func (s *TechnicianService) Deactivate(ctx context.Context, id uuid.UUID) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		t, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		return s.repo.Update(txCtx, t.Deactivate())
	})
}
