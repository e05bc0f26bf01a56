// Package httpapi holds the JSON response envelope shared by the API
// controllers.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope is the error body every API endpoint returns. Code is
// a stable machine-readable identifier; Meta carries per-error detail
// such as the offending states or the missing payload field.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}
