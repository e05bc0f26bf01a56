package repairjob

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ActorRole identifies who is attempting a transition. RoleSystem is
// reserved for moves the engine schedules on its own behalf.
type ActorRole string

const (
	RoleTechnician ActorRole = "TECHNICIAN"
	RoleCustomer   ActorRole = "CUSTOMER"
	RoleSupervisor ActorRole = "SUPERVISOR"
	RoleAdmin      ActorRole = "ADMIN"
	RoleSystem     ActorRole = "SYSTEM"
)

func ParseRole(v string) (ActorRole, error) {
	r := ActorRole(strings.ToUpper(strings.TrimSpace(v)))
	switch r {
	case RoleTechnician, RoleCustomer, RoleSupervisor, RoleAdmin, RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("unknown actor role %q", v)
	}
}

// Actor is the identity attempting a transition.
type Actor struct {
	ID   uuid.UUID
	Role ActorRole
}

// SystemActor is the identity used for engine-scheduled moves.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleSystem}
}
