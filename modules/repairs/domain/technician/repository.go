package technician

import (
	"context"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
)

var ErrNotFound = gerrors.New("technician not found")

type Repository interface {
	Create(ctx context.Context, t Technician) (Technician, error)
	GetByID(ctx context.Context, id uuid.UUID) (Technician, error)
	ListActive(ctx context.Context) ([]Technician, error)
	Update(ctx context.Context, t Technician) error
}
