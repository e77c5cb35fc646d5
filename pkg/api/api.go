// Package api defines the wire contracts for the HTTP surface and the
// response envelope helpers. It decouples the API structure from the
// internal domain models.
package api

import (
	"encoding/json"
	"net/http"

	apperr "github.com/llcontext/llcd/internal/errors"
)

// Version is the wire protocol version stamped on every envelope.
const Version = "v1"

// Envelope is the common header of every response body.
type Envelope struct {
	Version   string           `json:"version"`
	RequestID string           `json:"request_id"`
	TimingsMS map[string]int64 `json:"timings_ms,omitempty"`
	Issues    []string         `json:"issues,omitempty"`
}

func NewEnvelope(requestID string) Envelope {
	return Envelope{Version: Version, RequestID: requestID}
}

// ErrorDetail is the structured error carried by error responses.
type ErrorDetail struct {
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrorResponse is a standardized error body.
type ErrorResponse struct {
	Envelope
	Error ErrorDetail `json:"error"`
}

// WriteJSON serializes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status and writes the standard
// error body. Unknown error types surface as 500 INTERNAL.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr := apperr.AsError(err)
	detail := ErrorDetail{
		Kind:      string(appErr.Kind),
		Code:      appErr.Code,
		Message:   appErr.Message,
		Retryable: appErr.Retryable,
	}
	WriteJSON(w, apperr.HTTPStatus(err), ErrorResponse{
		Envelope: NewEnvelope(requestID),
		Error:    detail,
	})
}

// Decode parses a JSON request body into dst, surfacing malformed input as a
// VALIDATION error.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("MALFORMED_BODY", "request body is not valid JSON: "+err.Error())
	}
	return nil
}
