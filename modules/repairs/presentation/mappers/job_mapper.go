package mappers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/domain/technician"
	"github.com/repairhq/workshop/modules/repairs/presentation/viewmodels"
	"github.com/repairhq/workshop/modules/repairs/services"
)

func JobToViewModel(job repairjob.Job) viewmodels.Job {
	vm := viewmodels.Job{
		ID:             job.ID().String(),
		Number:         job.Number(),
		CustomerID:     job.CustomerID().String(),
		Device:         job.Device(),
		Issue:          job.Issue(),
		Priority:       string(job.Priority()),
		State:          job.State().String(),
		EnteredStateAt: job.EnteredStateAt().Format(time.RFC3339),
		CreatedAt:      job.CreatedAt().Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt().Format(time.RFC3339),
	}
	if job.TechnicianID() != uuid.Nil {
		vm.TechnicianID = job.TechnicianID().String()
	}
	if payloads := job.Payloads(); len(payloads) > 0 {
		vm.Payloads = make(map[string]json.RawMessage, len(payloads))
		for state, raw := range payloads {
			vm.Payloads[state.String()] = raw
		}
	}
	return vm
}

func TransitionToViewModel(record repairjob.TransitionRecord) viewmodels.TransitionRecord {
	return viewmodels.TransitionRecord{
		ID:          record.ID.String(),
		FromState:   record.From.String(),
		ToState:     record.To.String(),
		Reason:      record.Reason,
		Notes:       record.Notes,
		Attachments: record.Attachments,
		ActorID:     record.ActorID.String(),
		ActorRole:   string(record.ActorRole),
		PerformedAt: record.PerformedAt.Format(time.RFC3339),
	}
}

func OverviewToViewModel(o services.Overview) viewmodels.AnalyticsSummary {
	vm := viewmodels.AnalyticsSummary{
		TotalJobs:        o.TotalJobs,
		DeliveredJobs:    o.DeliveredJobs,
		CancelledJobs:    o.CancelledJobs,
		CompletionRate:   o.CompletionRate,
		CancellationRate: o.CancellationRate,
		AvgCycleTimeSec:  o.AvgCycleTime.Seconds(),
		DwellByState:     make([]viewmodels.StateDwell, 0, len(o.DwellByState)),
	}
	for _, d := range o.DwellByState {
		vm.DwellByState = append(vm.DwellByState, viewmodels.StateDwell{
			State:       d.State.String(),
			Samples:     d.Samples,
			AvgDwellSec: d.AvgDwell.Seconds(),
			MaxDwellSec: d.MaxDwell.Seconds(),
		})
	}
	return vm
}

func TechnicianToViewModel(t technician.Technician) viewmodels.Technician {
	return viewmodels.Technician{
		ID:        t.ID().String(),
		Name:      t.Name(),
		Active:    t.Active(),
		CreatedAt: t.CreatedAt().Format(time.RFC3339),
	}
}
