package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andenapp/anden/internal/departures"
	"github.com/andenapp/anden/internal/planner"
)

func (s *Server) handleDepartures(w http.ResponseWriter, r *http.Request) {
	req := departures.Request{
		StopID:  chi.URLParam(r, "id"),
		RouteID: r.URL.Query().Get("route"),
		Limit:   intParam(r, "limit", 0),
		Now:     time.Now().In(s.loc),
		Verbose: r.URL.Query().Get("verbose") == "true",
	}
	resp, err := s.deps.Departures(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeError(w, fmt.Errorf("%w: from and to parameters required", errBadRequest))
		return
	}

	req := planner.Request{
		From:            from,
		To:              to,
		Now:             time.Now().In(s.loc),
		MaxTransfers:    intParam(r, "maxTransfers", 0),
		MaxAlternatives: intParam(r, "maxAlternatives", 0),
	}
	if t := q.Get("time"); t != "" {
		sec, err := parseClock(t)
		if err != nil {
			writeError(w, fmt.Errorf("%w: time must be HH:MM or HH:MM:SS", errBadRequest))
			return
		}
		req.DepartureSec = sec
	}

	resp, err := s.planner.Plan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseClock accepts HH:MM or HH:MM:SS and returns seconds since
// midnight. Hours past 24 are allowed for overnight queries.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("malformed clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("malformed hour %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed minute %q", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("malformed second %q", s)
		}
	}
	return h*3600 + m*60 + sec, nil
}

func intParam(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
