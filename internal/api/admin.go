package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/andenapp/anden/internal/models"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// handleHealth pings the database; a failing ping turns the whole
// check red.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "error",
			Database:  "disconnected",
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Database:  "connected",
		Timestamp: time.Now().UTC(),
	})
}

// handleReady reports 503 until the first schedule load completes, so
// orchestrators hold traffic off a cold process.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.sched.Loaded() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := models.StatusResponse{Operators: []models.OperatorStatus{}}
	if snap, err := s.sched.Snapshot(); err == nil {
		resp.ScheduleLoaded = true
		t := snap.LoadedAt()
		resp.ScheduleLoadedAt = &t
	}
	if s.status != nil {
		resp.Operators = s.status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReload rebuilds the schedule snapshot from the database. Gated
// on ADMIN_TOKEN with a constant-time comparison; disabled when no
// token is configured.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminToken == "" {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin endpoints disabled"})
		return
	}
	token := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	if err := s.sched.Load(r.Context(), s.db); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.sched.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"counts": snap.Counts(),
	})
}
