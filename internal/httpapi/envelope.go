// Package httpapi wires the §6 HTTP surface to the component operations:
// thin handlers, a uniform JSON envelope, and an injected auth function
// in place of full JWT/session middleware (spec's Non-goals §1).
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/codequest-platform/arena-server/internal/apperr"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(apperr.KindOf(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: code, Details: err.Error()})
}

func statusFor(kind apperr.Kind) (int, string) {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest, "validation"
	case apperr.Unauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case apperr.Forbidden:
		return http.StatusForbidden, "forbidden"
	case apperr.NotFound:
		return http.StatusNotFound, "not_found"
	case apperr.Conflict:
		return http.StatusConflict, "conflict"
	case apperr.Precondition:
		return http.StatusPreconditionFailed, "precondition"
	case apperr.Dependency:
		return http.StatusBadGateway, "dependency"
	case apperr.Timeout:
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid request body", err)
	}
	return nil
}
