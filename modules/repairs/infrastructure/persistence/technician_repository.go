package persistence

import (
	"context"
	"errors"
	"sort"
	"sync"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/repairhq/workshop/modules/repairs/domain/technician"
	"github.com/repairhq/workshop/modules/repairs/infrastructure/persistence/models"
	"github.com/repairhq/workshop/pkg/composables"
)

const technicianColumns = `id, name, active, created_at`

type PgTechnicianRepository struct{}

func NewTechnicianRepository() technician.Repository {
	return &PgTechnicianRepository{}
}

func (r *PgTechnicianRepository) Create(ctx context.Context, t technician.Technician) (technician.Technician, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return technician.Technician{}, err
	}

	var row models.Technician
	if err := tx.QueryRow(ctx, `
		INSERT INTO repair_technicians (id, name, active, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+technicianColumns,
		t.ID().String(), t.Name(), t.Active(), t.CreatedAt(),
	).Scan(&row.ID, &row.Name, &row.Active, &row.CreatedAt); err != nil {
		return technician.Technician{}, gerrors.Wrap(err, "insert technician")
	}
	return toDomainTechnician(&row)
}

func (r *PgTechnicianRepository) GetByID(ctx context.Context, id uuid.UUID) (technician.Technician, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return technician.Technician{}, err
	}

	var row models.Technician
	err = tx.QueryRow(ctx,
		`SELECT `+technicianColumns+` FROM repair_technicians WHERE id = $1`, id,
	).Scan(&row.ID, &row.Name, &row.Active, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return technician.Technician{}, technician.ErrNotFound
	}
	if err != nil {
		return technician.Technician{}, gerrors.Wrap(err, "query technician")
	}
	return toDomainTechnician(&row)
}

func (r *PgTechnicianRepository) ListActive(ctx context.Context) ([]technician.Technician, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+technicianColumns+` FROM repair_technicians
		WHERE active
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "list technicians")
	}
	defer rows.Close()

	var out []technician.Technician
	for rows.Next() {
		var row models.Technician
		if err := rows.Scan(&row.ID, &row.Name, &row.Active, &row.CreatedAt); err != nil {
			return nil, gerrors.Wrap(err, "scan technician")
		}
		t, err := toDomainTechnician(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PgTechnicianRepository) Update(ctx context.Context, t technician.Technician) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE repair_technicians SET name = $2, active = $3 WHERE id = $1`,
		t.ID().String(), t.Name(), t.Active(),
	)
	if err != nil {
		return gerrors.Wrap(err, "update technician")
	}
	if tag.RowsAffected() == 0 {
		return technician.ErrNotFound
	}
	return nil
}

// InmemTechnicianRepository keeps the technician pool in memory.
type InmemTechnicianRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]technician.Technician
}

func NewInmemTechnicianRepository() *InmemTechnicianRepository {
	return &InmemTechnicianRepository{items: make(map[uuid.UUID]technician.Technician)}
}

func (r *InmemTechnicianRepository) Create(_ context.Context, t technician.Technician) (technician.Technician, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[t.ID()] = t
	return t, nil
}

func (r *InmemTechnicianRepository) GetByID(_ context.Context, id uuid.UUID) (technician.Technician, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[id]
	if !ok {
		return technician.Technician{}, technician.ErrNotFound
	}
	return t, nil
}

func (r *InmemTechnicianRepository) ListActive(_ context.Context) ([]technician.Technician, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]technician.Technician, 0, len(r.items))
	for _, t := range r.items {
		if t.Active() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out, nil
}

func (r *InmemTechnicianRepository) Update(_ context.Context, t technician.Technician) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[t.ID()]; !ok {
		return technician.ErrNotFound
	}
	r.items[t.ID()] = t
	return nil
}
