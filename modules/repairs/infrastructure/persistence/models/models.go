package models

import "time"

type RepairJob struct {
	ID             string
	Number         string
	CustomerID     string
	Device         string
	Issue          string
	Priority       string
	TechnicianID   *string
	State          string
	Payloads       []byte
	EnteredStateAt time.Time
	EscalatedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RepairTransition struct {
	Seq            int64
	ID             string
	JobID          string
	FromState      string
	ToState        string
	Reason         string
	Notes          string
	Attachments    []string
	ActorID        string
	ActorRole      string
	IdempotencyKey *string
	PerformedAt    time.Time
}

type Technician struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}
