// Package httputil holds the JSON request and response helpers shared by the
// portal's HTTP handlers and middleware.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/program_portal/internal/errors"
)

// maxBodyBytes bounds request bodies decoded by ReadJSON.
const maxBodyBytes = 1 << 20

// APIResponse is the envelope written for every JSON response.
type APIResponse struct {
	Success bool                    `json:"success"`
	Data    any                     `json:"data,omitempty"`
	Error   *svcerrors.ServiceError `json:"error,omitempty"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// WriteCreated writes a 201 envelope around data.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

// WriteError maps err onto its ServiceError status. Anything that is not a
// ServiceError is reported as an internal error without leaking its text.
func WriteError(w http.ResponseWriter, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("internal error", err)
	}
	status := se.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, APIResponse{Success: false, Error: se})
}

// ReadJSON decodes the request body into v, rejecting unknown fields and
// trailing data.
func ReadJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return svcerrors.Validation("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return svcerrors.Validation("request body is required")
		}
		return svcerrors.Validation(fmt.Sprintf("invalid request body: %v", err))
	}
	if dec.More() {
		return svcerrors.Validation("request body must contain a single JSON value")
	}
	return nil
}
