package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/pkg/eventbus"
)

type idempotencyKey struct {
	jobID uuid.UUID
	key   string
}

// InmemJobRepository is a full Job Store kept in process memory. One
// mutex guards jobs, history, counters and idempotency records so Save
// keeps the same compare-and-set semantics as the Postgres store.
// Events publish directly on the bus once the write is committed.
type InmemJobRepository struct {
	mu           sync.RWMutex
	numberPrefix string
	bus          eventbus.EventBus
	jobs         map[uuid.UUID]repairjob.Job
	history      map[uuid.UUID][]repairjob.TransitionRecord
	idempotency  map[idempotencyKey]repairjob.TransitionRecord
	counters     map[string]int64
}

func NewInmemJobRepository(numberPrefix string, bus eventbus.EventBus) *InmemJobRepository {
	return &InmemJobRepository{
		numberPrefix: numberPrefix,
		bus:          bus,
		jobs:         make(map[uuid.UUID]repairjob.Job),
		history:      make(map[uuid.UUID][]repairjob.TransitionRecord),
		idempotency:  make(map[idempotencyKey]repairjob.TransitionRecord),
		counters:     make(map[string]int64),
	}
}

func (r *InmemJobRepository) NextNumber(_ context.Context, at time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	period := repairjob.NumberPeriod(at)
	r.counters[period]++
	return repairjob.FormatNumber(r.numberPrefix, period, r.counters[period]), nil
}

func (r *InmemJobRepository) Create(_ context.Context, job repairjob.Job, events []repairjob.Event) (repairjob.Job, error) {
	r.mu.Lock()
	r.jobs[job.ID()] = job
	r.mu.Unlock()

	r.publish(events)
	return job, nil
}

func (r *InmemJobRepository) GetByID(_ context.Context, id uuid.UUID) (repairjob.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return repairjob.Job{}, repairjob.ErrJobNotFound
	}
	return job, nil
}

func (r *InmemJobRepository) GetByNumber(_ context.Context, number string) (repairjob.Job, error) {
	number = strings.TrimSpace(number)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if job.Number() == number {
			return job, nil
		}
	}
	return repairjob.Job{}, repairjob.ErrJobNotFound
}

func (r *InmemJobRepository) List(_ context.Context, params *repairjob.FindParams) ([]repairjob.Job, int64, error) {
	if params == nil {
		params = &repairjob.FindParams{}
	}

	r.mu.RLock()
	matched := make([]repairjob.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if params.State != "" && job.State() != params.State {
			continue
		}
		matched = append(matched, job)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt().After(matched[j].CreatedAt())
	})

	total := int64(len(matched))
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *InmemJobRepository) ListInStates(_ context.Context, states []repairjob.State, limit int) ([]repairjob.Job, error) {
	if len(states) == 0 {
		return nil, nil
	}
	wanted := make(map[repairjob.State]struct{}, len(states))
	for _, s := range states {
		wanted[s] = struct{}{}
	}

	r.mu.RLock()
	matched := make([]repairjob.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if _, ok := wanted[job.State()]; ok {
			matched = append(matched, job)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].EnteredStateAt().Before(matched[j].EnteredStateAt())
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *InmemJobRepository) History(_ context.Context, jobID uuid.UUID) ([]repairjob.TransitionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := r.history[jobID]
	out := make([]repairjob.TransitionRecord, len(records))
	copy(out, records)
	return out, nil
}

func (r *InmemJobRepository) FindByIdempotencyKey(_ context.Context, jobID uuid.UUID, key string) (repairjob.TransitionRecord, bool, error) {
	if key == "" {
		return repairjob.TransitionRecord{}, false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.idempotency[idempotencyKey{jobID: jobID, key: key}]
	return record, ok, nil
}

func (r *InmemJobRepository) Save(_ context.Context, job repairjob.Job, record repairjob.TransitionRecord, events []repairjob.Event) error {
	r.mu.Lock()
	current, ok := r.jobs[job.ID()]
	if !ok {
		r.mu.Unlock()
		return repairjob.ErrJobNotFound
	}
	if current.State() != record.From {
		actual := current.State()
		r.mu.Unlock()
		return &repairjob.ConcurrencyConflictError{Expected: record.From, Actual: actual}
	}
	if record.IdempotencyKey != "" {
		k := idempotencyKey{jobID: job.ID(), key: record.IdempotencyKey}
		if _, dup := r.idempotency[k]; dup {
			r.mu.Unlock()
			return repairjob.ErrDuplicateIdempotencyKey
		}
		r.idempotency[k] = record
	}

	r.jobs[job.ID()] = job
	r.history[job.ID()] = append(r.history[job.ID()], record)
	r.mu.Unlock()

	r.publish(events)
	return nil
}

func (r *InmemJobRepository) MarkEscalated(_ context.Context, jobID uuid.UUID, enteredStateAt, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return false, nil
	}
	if !job.EnteredStateAt().Equal(enteredStateAt) {
		return false, nil
	}
	if _, already := job.EscalatedAt(); already {
		return false, nil
	}
	r.jobs[jobID] = job.WithEscalatedAt(at)
	return true, nil
}

func (r *InmemJobRepository) CountActiveByTechnician(_ context.Context, states []repairjob.State) (map[uuid.UUID]int64, error) {
	wanted := make(map[repairjob.State]struct{}, len(states))
	for _, s := range states {
		wanted[s] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]int64)
	for _, job := range r.jobs {
		if job.TechnicianID() == uuid.Nil {
			continue
		}
		if _, ok := wanted[job.State()]; ok {
			out[job.TechnicianID()]++
		}
	}
	return out, nil
}

// snapshot copies jobs and histories for read-only aggregation.
func (r *InmemJobRepository) snapshot() (map[uuid.UUID]repairjob.Job, map[uuid.UUID][]repairjob.TransitionRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make(map[uuid.UUID]repairjob.Job, len(r.jobs))
	for id, job := range r.jobs {
		jobs[id] = job
	}
	histories := make(map[uuid.UUID][]repairjob.TransitionRecord, len(r.history))
	for id, records := range r.history {
		cp := make([]repairjob.TransitionRecord, len(records))
		copy(cp, records)
		histories[id] = cp
	}
	return jobs, histories
}

func (r *InmemJobRepository) publish(events []repairjob.Event) {
	if r.bus == nil {
		return
	}
	for _, event := range events {
		r.bus.Publish(event)
	}
}
