package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/andenapp/anden/internal/departures"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

// errBadRequest marks handler-side input validation failures.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: encode response: %v", err)
	}
}

// writeError maps domain sentinels onto HTTP statuses: unknown
// resources to 404, a missing snapshot or failing database to 503, bad
// input to 400, anything else to 500. Internal detail stays in the log.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, schedule.ErrNotLoaded):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "schedule not loaded"})
	case errors.Is(err, departures.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable"})
	case errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.Printf("API: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
