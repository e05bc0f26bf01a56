package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/pkg/configuration"
	"github.com/repairhq/workshop/pkg/httpapi"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		panic(err)
	}
}

func ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(configuration.Use().RequestIDHeader)
	if header == "" {
		header = "X-Request-ID"
	}

	requestID := strings.TrimSpace(r.Header.Get(header))
	if requestID == "" {
		requestID = uuid.NewString()
		w.Header().Set(header, requestID)
	}
	return requestID
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	if meta == nil {
		meta = map[string]string{}
	}
	meta["request_id"] = ensureRequestID(w, r)
	_ = httpapi.WriteError(w, status, code, message, meta)
}

// writeDomainError maps the transition engine's error taxonomy onto
// stable HTTP codes. Every branch carries enough detail to act on the
// failure without retry-and-hope.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid      *repairjob.InvalidTransitionError
		unauthorized *repairjob.UnauthorizedError
		validation   *repairjob.ValidationError
		conflict     *repairjob.ConcurrencyConflictError
		terminal     *repairjob.AlreadyTerminalError
	)
	switch {
	case errors.Is(err, repairjob.ErrJobNotFound):
		writeAPIError(w, r, http.StatusNotFound, "REPAIR_NOT_FOUND", "repair job not found", nil)
	case errors.As(err, &invalid):
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_INVALID_TRANSITION", invalid.Error(), map[string]string{
			"from_state": invalid.From.String(),
			"to_state":   invalid.To.String(),
		})
	case errors.As(err, &unauthorized):
		writeAPIError(w, r, http.StatusForbidden, "REPAIR_UNAUTHORIZED", unauthorized.Error(), map[string]string{
			"required_role": string(unauthorized.Required),
			"actor_role":    string(unauthorized.Actual),
		})
	case errors.As(err, &validation):
		writeAPIError(w, r, http.StatusUnprocessableEntity, "REPAIR_VALIDATION_FAILED", validation.Error(), map[string]string{
			"missing_field": validation.Field,
		})
	case errors.As(err, &conflict):
		writeAPIError(w, r, http.StatusConflict, "REPAIR_CONFLICT", conflict.Error(), map[string]string{
			"expected_state": conflict.Expected.String(),
			"actual_state":   conflict.Actual.String(),
		})
	case errors.As(err, &terminal):
		writeAPIError(w, r, http.StatusConflict, "REPAIR_TERMINAL", terminal.Error(), map[string]string{
			"state": terminal.State.String(),
		})
	default:
		writeAPIError(w, r, http.StatusInternalServerError, "REPAIR_INTERNAL", "internal error", nil)
	}
}
