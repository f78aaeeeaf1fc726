package web

import (
	"encoding/json"
	"net/http"

	"cylinder-billing/internal/app"
)

type errorResponse struct {
	Error     string       `json:"error"`
	Code      string       `json:"code"`
	Failure   *app.Failure `json:"failure,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeFailure maps a classified operation failure onto an HTTP status.
// NOT_FOUND covers tenant mismatches too, by design.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	f := app.ClassifyError(err)

	status := http.StatusInternalServerError
	switch f.Kind {
	case app.FailureValidation:
		status = http.StatusBadRequest
	case app.FailureRule:
		status = http.StatusUnprocessableEntity
	case app.FailureNotFound:
		status = http.StatusNotFound
	case app.FailureConflict:
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:     f.Message,
		Code:      string(f.Kind),
		Failure:   f,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
