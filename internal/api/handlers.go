package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andenapp/anden/internal/departures"
	"github.com/andenapp/anden/internal/models"
)

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := s.db.Networks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, networks)
}

func (s *Server) handleNetworkLines(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, err := s.db.Network(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	routes, err := s.db.RoutesForNetwork(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.db.Routes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.db.Route(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleRouteStops(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.Route(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	stops, err := s.db.RouteStopsDetailed(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stops)
}

func (s *Server) handleRouteShape(w http.ResponseWriter, r *http.Request) {
	points, err := s.db.RouteShape(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleRouteFrequencies(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.RouteFrequencies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]models.RouteFrequency, 0, len(rows))
	for _, f := range rows {
		out = append(out, models.RouteFrequency{
			RouteID:     f.RouteID,
			DayType:     f.DayType,
			StartTime:   formatSeconds(f.StartSec),
			EndTime:     formatSeconds(f.EndSec),
			HeadwaySecs: f.HeadwaySecs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRouteHours(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.RouteFrequencies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	windows := departures.OperatingHours(rows)
	if windows == nil {
		windows = []models.OperatingWindow{}
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleRouteDelays(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.Route(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.db.RouteDelayStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if stats == nil {
		stats = []models.RouteDelayStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleStops serves stop search: ?q= matches on name, ?prefix= on the
// canonical ID namespace. One of the two is required; listing every
// stop is not an endpoint.
func (s *Server) handleStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	prefix := r.URL.Query().Get("prefix")
	switch {
	case q != "":
		limit := intParam(r, "limit", 20)
		if limit > 100 {
			limit = 100
		}
		stops, err := s.db.SearchStops(r.Context(), q, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stops)
	case prefix != "":
		stops, err := s.db.StopsByPrefix(r.Context(), prefix)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stops)
	default:
		writeError(w, fmt.Errorf("%w: q or prefix parameter required", errBadRequest))
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stop, err := s.db.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if snap, err := s.sched.Snapshot(); err == nil {
		stop.Routes = snap.RoutesAtStop(stop.ID)
	}
	writeJSON(w, http.StatusOK, stop)
}

func (s *Server) handleStopPlatforms(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	platforms, err := s.db.StopPlatforms(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, platforms)
}

func (s *Server) handleStopCorrespondences(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	corr, err := s.db.StopCorrespondences(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, corr)
}

func (s *Server) handleTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.db.Trip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.db.Alerts(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// formatSeconds renders seconds since midnight as HH:MM:SS; values past
// 24 h keep their overflow hour, GTFS style.
func formatSeconds(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec%3600/60, sec%60)
}
