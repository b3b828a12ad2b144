package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflows.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflows.ErrNotAwaitingUser), errors.Is(err, workflows.ErrNoPendingInterrupt),
		errors.Is(err, workflows.ErrNotRecoverable):
		return http.StatusConflict
	case errors.Is(err, workflows.ErrRunInterrupted):
		return http.StatusServiceUnavailable
	case errors.Is(err, workflows.ErrInvalidResume):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingScope):
		return http.StatusForbidden
	case errors.Is(err, activities.ErrClarifyFailed), errors.Is(err, activities.ErrBriefFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeStrict decodes a JSON body, rejecting unknown fields.
func decodeStrict(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
