package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/presentation/controllers/dtos"
	"github.com/repairhq/workshop/modules/repairs/presentation/mappers"
	"github.com/repairhq/workshop/modules/repairs/presentation/viewmodels"
	"github.com/repairhq/workshop/modules/repairs/services"
	"github.com/repairhq/workshop/pkg/application"
	"github.com/repairhq/workshop/pkg/configuration"
	"github.com/repairhq/workshop/pkg/middleware"
)

// JobAPIController exposes the inbound contract of the repair core:
// job intake, transitions, queries and the analytics summary.
type JobAPIController struct {
	app         application.Application
	jobs        *services.JobService
	analytics   *services.AnalyticsService
	technicians *services.TechnicianService
	basePath    string
}

func NewJobAPIController(app application.Application) application.Controller {
	return &JobAPIController{
		app:         app,
		jobs:        app.Service(services.JobService{}).(*services.JobService),
		analytics:   app.Service(services.AnalyticsService{}).(*services.AnalyticsService),
		technicians: app.Service(services.TechnicianService{}).(*services.TechnicianService),
		basePath:    "/repairs/api",
	}
}

func (c *JobAPIController) Key() string {
	return c.basePath
}

func (c *JobAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/jobs", c.List).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}", c.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}/history", c.History).Methods(http.MethodGet)
	router.HandleFunc("/analytics/summary", c.AnalyticsSummary).Methods(http.MethodGet)
	router.HandleFunc("/technicians", c.ListTechnicians).Methods(http.MethodGet)

	writeRouter := r.PathPrefix(c.basePath).Subrouter()
	writeRouter.Use(middleware.WithTransaction())
	writeRouter.HandleFunc("/jobs", c.Create).Methods(http.MethodPost)
	writeRouter.HandleFunc("/jobs/{id}/transitions", c.Transition).Methods(http.MethodPost)
	writeRouter.HandleFunc("/technicians", c.CreateTechnician).Methods(http.MethodPost)
}

func (c *JobAPIController) Create(w http.ResponseWriter, r *http.Request) {
	var dto dtos.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "REPAIR_INVALID_JSON", "invalid json", nil)
		return
	}
	if errs, ok := dto.Ok(); !ok {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", "validation failed", errs)
		return
	}

	customerID, err := uuid.Parse(dto.CustomerID)
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", "customer_id is not a uuid", nil)
		return
	}
	priority, err := repairjob.ParsePriority(dto.Priority)
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", err.Error(), nil)
		return
	}

	job, err := c.jobs.Create(r.Context(), repairjob.CreateJobCommand{
		CustomerID: customerID,
		Device:     dto.Device,
		Issue:      dto.Issue,
		Priority:   priority,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mappers.JobToViewModel(job))
}

func (c *JobAPIController) Transition(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var dto dtos.TransitionJobRequest
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "REPAIR_INVALID_JSON", "invalid json", nil)
		return
	}
	if errs, ok := dto.Ok(); !ok {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", "validation failed", errs)
		return
	}

	cmd, err := transitionCommand(jobID, dto)
	if err != nil {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", err.Error(), nil)
		return
	}

	job, record, err := c.jobs.Transition(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":        mappers.JobToViewModel(job),
		"transition": mappers.TransitionToViewModel(record),
	})
}

func (c *JobAPIController) GetByID(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := c.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappers.JobToViewModel(job))
}

func (c *JobAPIController) List(w http.ResponseWriter, r *http.Request) {
	conf := configuration.Use()
	params := &repairjob.FindParams{Limit: conf.PageSize}

	if v := strings.TrimSpace(r.URL.Query().Get("state")); v != "" {
		state, err := repairjob.ParseState(v)
		if err != nil {
			writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", err.Error(), nil)
			return
		}
		params.State = state
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= conf.MaxPageSize {
			params.Limit = parsed
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			params.Offset = parsed
		}
	}

	jobs, total, err := c.jobs.List(r.Context(), params)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	items := make([]viewmodels.Job, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, mappers.JobToViewModel(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (c *JobAPIController) History(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	records, err := c.jobs.History(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items := make([]viewmodels.TransitionRecord, 0, len(records))
	for _, record := range records {
		items = append(items, mappers.TransitionToViewModel(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

func (c *JobAPIController) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	overview, err := c.analytics.Overview(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappers.OverviewToViewModel(overview))
}

func (c *JobAPIController) CreateTechnician(w http.ResponseWriter, r *http.Request) {
	var dto dtos.CreateTechnicianRequest
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "REPAIR_INVALID_JSON", "invalid json", nil)
		return
	}
	if errs, ok := dto.Ok(); !ok {
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", "validation failed", errs)
		return
	}
	created, err := c.technicians.Create(r.Context(), dto.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mappers.TechnicianToViewModel(created))
}

func (c *JobAPIController) ListTechnicians(w http.ResponseWriter, r *http.Request) {
	pool, err := c.technicians.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items := make([]viewmodels.Technician, 0, len(pool))
	for _, t := range pool {
		items = append(items, mappers.TechnicianToViewModel(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "REPAIR_INVALID_ID", fmt.Sprintf("%s is not a uuid", name), nil)
		return uuid.Nil, false
	}
	return id, true
}

func transitionCommand(jobID uuid.UUID, dto dtos.TransitionJobRequest) (repairjob.TransitionCommand, error) {
	to, err := repairjob.ParseState(dto.To)
	if err != nil {
		return repairjob.TransitionCommand{}, err
	}

	var expectedFrom repairjob.State
	if dto.ExpectedFrom != "" {
		expectedFrom, err = repairjob.ParseState(dto.ExpectedFrom)
		if err != nil {
			return repairjob.TransitionCommand{}, err
		}
	}

	role, err := repairjob.ParseRole(dto.Actor.Role)
	if err != nil {
		return repairjob.TransitionCommand{}, err
	}
	if role == repairjob.RoleSystem {
		// SYSTEM is reserved for moves the engine schedules itself.
		return repairjob.TransitionCommand{}, errors.New("actor role SYSTEM cannot be requested externally")
	}
	actorID, err := uuid.Parse(dto.Actor.ID)
	if err != nil {
		return repairjob.TransitionCommand{}, errors.New("actor.id is not a uuid")
	}

	return repairjob.TransitionCommand{
		JobID:          jobID,
		ExpectedFrom:   expectedFrom,
		To:             to,
		Actor:          repairjob.Actor{ID: actorID, Role: role},
		Reason:         dto.Reason,
		Notes:          dto.Notes,
		Attachments:    dto.Attachments,
		IdempotencyKey: dto.IdempotencyKey,
		Payload:        dto.Payload,
	}, nil
}
