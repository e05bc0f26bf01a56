package viewmodels

import "encoding/json"

// Job is the API representation of a repair case.
type Job struct {
	ID             string                     `json:"id"`
	Number         string                     `json:"number"`
	CustomerID     string                     `json:"customer_id"`
	Device         string                     `json:"device"`
	Issue          string                     `json:"issue"`
	Priority       string                     `json:"priority"`
	TechnicianID   string                     `json:"technician_id,omitempty"`
	State          string                     `json:"state"`
	Payloads       map[string]json.RawMessage `json:"payloads,omitempty"`
	EnteredStateAt string                     `json:"entered_state_at"`
	CreatedAt      string                     `json:"created_at"`
	UpdatedAt      string                     `json:"updated_at"`
}

// TransitionRecord is one immutable history entry.
type TransitionRecord struct {
	ID          string   `json:"id"`
	FromState   string   `json:"from_state"`
	ToState     string   `json:"to_state"`
	Reason      string   `json:"reason,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	ActorID     string   `json:"actor_id"`
	ActorRole   string   `json:"actor_role"`
	PerformedAt string   `json:"performed_at"`
}

// StateDwell is one row of the dwell-time distribution.
type StateDwell struct {
	State       string  `json:"state"`
	Samples     int64   `json:"samples"`
	AvgDwellSec float64 `json:"avg_dwell_seconds"`
	MaxDwellSec float64 `json:"max_dwell_seconds"`
}

// AnalyticsSummary is the read-only aggregation over the whole store.
type AnalyticsSummary struct {
	TotalJobs        int64        `json:"total_jobs"`
	DeliveredJobs    int64        `json:"delivered_jobs"`
	CancelledJobs    int64        `json:"cancelled_jobs"`
	CompletionRate   float64      `json:"completion_rate"`
	CancellationRate float64      `json:"cancellation_rate"`
	AvgCycleTimeSec  float64      `json:"avg_cycle_time_seconds"`
	DwellByState     []StateDwell `json:"dwell_by_state"`
}

// Technician is the API representation of a pool member.
type Technician struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}
