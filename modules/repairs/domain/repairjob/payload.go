package repairjob

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// One typed payload per target state that requires fields. States
// without required fields accept an empty payload.

type DiagnosisPayload struct {
	TechnicianID uuid.UUID `json:"technician_id"`
}

type EstimatePayload struct {
	Diagnosis     string `json:"diagnosis"`
	EstimatedCost int64  `json:"estimated_cost"`
}

type ApprovalPayload struct {
	ApprovedCost int64 `json:"approved_cost"`
}

type PartsPayload struct {
	Parts []string `json:"parts"`
}

type QualityPayload struct {
	QualityScore int `json:"quality_score"`
}

type CompletionPayload struct {
	FinalCost int64 `json:"final_cost"`
}

type CancellationPayload struct {
	CancelReason string `json:"cancel_reason"`
}

// DecodePayload unmarshals raw into the typed variant for the target
// state. Targets without required fields decode to nil.
func DecodePayload(to State, raw json.RawMessage) (interface{}, error) {
	var v interface{}
	switch to {
	case StateInDiagnosis:
		v = &DiagnosisPayload{}
	case StateAwaitingApproval:
		v = &EstimatePayload{}
	case StateApproved:
		v = &ApprovalPayload{}
	case StatePartsOrdered:
		v = &PartsPayload{}
	case StateQualityCheck:
		v = &QualityPayload{}
	case StateCompleted:
		v = &CompletionPayload{}
	case StateCancelled:
		v = &CancellationPayload{}
	default:
		return nil, nil
	}

	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, &ValidationError{To: to, Field: typeErr.Field}
		}
		return nil, &ValidationError{To: to, Field: "payload"}
	}
	return v, nil
}

// ValidatePayload checks raw against the fields required to enter
// cfg.State. A missing, null, empty-string or empty-array field rejects
// the transition with the field's name.
func ValidatePayload(cfg StateConfig, raw json.RawMessage) error {
	if len(cfg.RequiredFields) == 0 {
		return nil
	}

	var bag map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &bag); err != nil {
			return &ValidationError{To: cfg.State, Field: "payload"}
		}
	}
	for _, field := range cfg.RequiredFields {
		v, ok := bag[field]
		if !ok || emptyJSONValue(v) {
			return &ValidationError{To: cfg.State, Field: field}
		}
	}

	_, err := DecodePayload(cfg.State, raw)
	return err
}

func emptyJSONValue(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	switch {
	case len(t) == 0:
		return true
	case bytes.Equal(t, []byte("null")):
		return true
	case bytes.Equal(t, []byte(`""`)):
		return true
	case bytes.Equal(t, []byte("[]")):
		return true
	default:
		return false
	}
}
