package dtos

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/repairhq/workshop/pkg/constants"
)

// CreateJobRequest opens a new repair case in CREATED.
type CreateJobRequest struct {
	CustomerID string `json:"customer_id" validate:"required,uuid4"`
	Device     string `json:"device" validate:"required"`
	Issue      string `json:"issue" validate:"required"`
	Priority   string `json:"priority"`
}

func (d *CreateJobRequest) Normalize() {
	d.CustomerID = strings.TrimSpace(d.CustomerID)
	d.Device = strings.TrimSpace(d.Device)
	d.Issue = strings.TrimSpace(d.Issue)
	d.Priority = strings.TrimSpace(d.Priority)
}

func (d *CreateJobRequest) Ok() (map[string]string, bool) {
	d.Normalize()
	return validateStruct(d)
}

// ActorRequest identifies who requests a transition.
type ActorRequest struct {
	ID   string `json:"id" validate:"required,uuid4"`
	Role string `json:"role" validate:"required"`
}

// TransitionJobRequest carries one requested state change.
type TransitionJobRequest struct {
	ExpectedFrom   string          `json:"expected_from_state"`
	To             string          `json:"to_state" validate:"required"`
	Actor          ActorRequest    `json:"actor" validate:"required"`
	Reason         string          `json:"reason"`
	Notes          string          `json:"notes"`
	Attachments    []string        `json:"attachments"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
}

func (d *TransitionJobRequest) Normalize() {
	d.ExpectedFrom = strings.TrimSpace(d.ExpectedFrom)
	d.To = strings.TrimSpace(d.To)
	d.Actor.ID = strings.TrimSpace(d.Actor.ID)
	d.Actor.Role = strings.TrimSpace(d.Actor.Role)
	d.IdempotencyKey = strings.TrimSpace(d.IdempotencyKey)
}

func (d *TransitionJobRequest) Ok() (map[string]string, bool) {
	d.Normalize()
	return validateStruct(d)
}

// CreateTechnicianRequest adds a technician to the assignment pool.
type CreateTechnicianRequest struct {
	Name string `json:"name" validate:"required"`
}

func (d *CreateTechnicianRequest) Ok() (map[string]string, bool) {
	d.Name = strings.TrimSpace(d.Name)
	return validateStruct(d)
}

func validateStruct(v interface{}) (map[string]string, bool) {
	err := constants.Validate.Struct(v)
	if err == nil {
		return map[string]string{}, true
	}
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		verrs = fieldErrs
	}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	if len(out) == 0 {
		out["request"] = "invalid"
	}
	return out, false
}
