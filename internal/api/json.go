package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/nous/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error      string   `json:"error" validate:"required"`
	Candidates []string `json:"candidates,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps a realm error onto a status code. Unexpected errors are
// logged under op and reported as internal.
func writeError(w http.ResponseWriter, op string, err error) {
	var nameErr *apperr.NameError
	switch {
	case errors.As(err, &nameErr) && nameErr.Ambiguous:
		writeJSON(w, http.StatusConflict, errResponse{Error: err.Error(), Candidates: nameErr.Candidates})
	case errors.Is(err, apperr.ErrUnresolved), errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrLocked):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("realm is locked, retry later"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
