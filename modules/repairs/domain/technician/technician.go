package technician

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Technician is a member of the workshop's repair pool. Only active
// technicians receive automated assignments.
type Technician struct {
	id        uuid.UUID
	name      string
	active    bool
	createdAt time.Time
}

func New(name string, now time.Time) Technician {
	return Technician{
		id:        uuid.New(),
		name:      strings.TrimSpace(name),
		active:    true,
		createdAt: now,
	}
}

func Hydrate(id uuid.UUID, name string, active bool, createdAt time.Time) Technician {
	return Technician{
		id:        id,
		name:      strings.TrimSpace(name),
		active:    active,
		createdAt: createdAt,
	}
}

func (t Technician) ID() uuid.UUID        { return t.id }
func (t Technician) Name() string         { return t.name }
func (t Technician) Active() bool         { return t.active }
func (t Technician) CreatedAt() time.Time { return t.createdAt }
func (t Technician) IsZero() bool         { return t.id == uuid.Nil }

// Deactivate removes the technician from the assignment pool.
func (t Technician) Deactivate() Technician {
	next := t
	next.active = false
	return next
}
