package persistence

import (
	"encoding/json"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/domain/technician"
	"github.com/repairhq/workshop/modules/repairs/infrastructure/persistence/models"
)

func toDomainJob(row *models.RepairJob) (repairjob.Job, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return repairjob.Job{}, gerrors.Wrap(err, "parse job id")
	}
	customerID, err := uuid.Parse(row.CustomerID)
	if err != nil {
		return repairjob.Job{}, gerrors.Wrap(err, "parse customer id")
	}
	technicianID := uuid.Nil
	if row.TechnicianID != nil {
		technicianID, err = uuid.Parse(*row.TechnicianID)
		if err != nil {
			return repairjob.Job{}, gerrors.Wrap(err, "parse technician id")
		}
	}

	payloads := make(map[repairjob.State]json.RawMessage)
	if len(row.Payloads) > 0 {
		if err := json.Unmarshal(row.Payloads, &payloads); err != nil {
			return repairjob.Job{}, gerrors.Wrap(err, "decode payload bag")
		}
	}

	return repairjob.Hydrate(
		id,
		row.Number,
		customerID,
		row.Device,
		row.Issue,
		repairjob.Priority(row.Priority),
		technicianID,
		repairjob.State(row.State),
		payloads,
		row.EnteredStateAt,
		row.EscalatedAt,
		row.CreatedAt,
		row.UpdatedAt,
	), nil
}

func toDBJob(job repairjob.Job) (*models.RepairJob, error) {
	payloads := []byte("{}")
	if bag := job.Payloads(); len(bag) > 0 {
		encoded, err := json.Marshal(bag)
		if err != nil {
			return nil, gerrors.Wrap(err, "encode payload bag")
		}
		payloads = encoded
	}

	var technicianID *string
	if job.TechnicianID() != uuid.Nil {
		v := job.TechnicianID().String()
		technicianID = &v
	}

	row := &models.RepairJob{
		ID:             job.ID().String(),
		Number:         job.Number(),
		CustomerID:     job.CustomerID().String(),
		Device:         job.Device(),
		Issue:          job.Issue(),
		Priority:       string(job.Priority()),
		TechnicianID:   technicianID,
		State:          string(job.State()),
		Payloads:       payloads,
		EnteredStateAt: job.EnteredStateAt(),
		CreatedAt:      job.CreatedAt(),
		UpdatedAt:      job.UpdatedAt(),
	}
	if at, ok := job.EscalatedAt(); ok {
		row.EscalatedAt = &at
	}
	return row, nil
}

func toDomainTransition(row *models.RepairTransition) (repairjob.TransitionRecord, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return repairjob.TransitionRecord{}, gerrors.Wrap(err, "parse transition id")
	}
	jobID, err := uuid.Parse(row.JobID)
	if err != nil {
		return repairjob.TransitionRecord{}, gerrors.Wrap(err, "parse transition job id")
	}
	actorID := uuid.Nil
	if row.ActorID != "" {
		actorID, err = uuid.Parse(row.ActorID)
		if err != nil {
			return repairjob.TransitionRecord{}, gerrors.Wrap(err, "parse actor id")
		}
	}

	key := ""
	if row.IdempotencyKey != nil {
		key = *row.IdempotencyKey
	}

	return repairjob.TransitionRecord{
		ID:             id,
		JobID:          jobID,
		From:           repairjob.State(row.FromState),
		To:             repairjob.State(row.ToState),
		Reason:         row.Reason,
		Notes:          row.Notes,
		Attachments:    row.Attachments,
		ActorID:        actorID,
		ActorRole:      repairjob.ActorRole(row.ActorRole),
		IdempotencyKey: key,
		PerformedAt:    row.PerformedAt,
	}, nil
}

func toDBTransition(record repairjob.TransitionRecord) *models.RepairTransition {
	var key *string
	if record.IdempotencyKey != "" {
		v := record.IdempotencyKey
		key = &v
	}
	attachments := record.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return &models.RepairTransition{
		ID:             record.ID.String(),
		JobID:          record.JobID.String(),
		FromState:      string(record.From),
		ToState:        string(record.To),
		Reason:         record.Reason,
		Notes:          record.Notes,
		Attachments:    attachments,
		ActorID:        record.ActorID.String(),
		ActorRole:      string(record.ActorRole),
		IdempotencyKey: key,
		PerformedAt:    record.PerformedAt,
	}
}

func toDomainTechnician(row *models.Technician) (technician.Technician, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return technician.Technician{}, gerrors.Wrap(err, "parse technician id")
	}
	return technician.Hydrate(id, row.Name, row.Active, row.CreatedAt), nil
}
