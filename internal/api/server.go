// Package api is the HTTP boundary: a thin chi router over the
// departures fusion engine, the journey planner, and the metadata
// reads. Handlers parse, delegate, and map errors; no domain logic
// lives here.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/andenapp/anden/internal/config"
	"github.com/andenapp/anden/internal/departures"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/planner"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

// Server wires the domain engines behind the router. The status
// callback comes from the ingestion engine; a nil callback reports no
// operators.
type Server struct {
	cfg     *config.Config
	db      store.Store
	sched   *schedule.Store
	deps    *departures.Engine
	planner *planner.Planner
	status  func() []models.OperatorStatus
	loc     *time.Location
}

func New(cfg *config.Config, db store.Store, sched *schedule.Store, deps *departures.Engine, pl *planner.Planner, status func() []models.OperatorStatus) *Server {
	return &Server{
		cfg:     cfg,
		db:      db,
		sched:   sched,
		deps:    deps,
		planner: pl,
		status:  status,
		loc:     cfg.Location(),
	}
}

// Router builds the chi router with CORS and all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/networks", cached(3600, s.handleNetworks))
		r.Get("/networks/{code}/lines", cached(3600, s.handleNetworkLines))

		r.Get("/routes", cached(3600, s.handleRoutes))
		r.Get("/routes/{id}", cached(3600, s.handleRoute))
		r.Get("/routes/{id}/stops", cached(3600, s.handleRouteStops))
		r.Get("/routes/{id}/shape", cached(86400, s.handleRouteShape))
		r.Get("/routes/{id}/frequencies", cached(3600, s.handleRouteFrequencies))
		r.Get("/routes/{id}/hours", cached(3600, s.handleRouteHours))
		r.Get("/routes/{id}/delays", cached(300, s.handleRouteDelays))

		r.Get("/stops", cached(3600, s.handleStops))
		r.Get("/stops/{id}", cached(3600, s.handleStop))
		r.Get("/stops/{id}/departures", s.handleDepartures)
		r.Get("/stops/{id}/platforms", cached(3600, s.handleStopPlatforms))
		r.Get("/stops/{id}/correspondences", cached(3600, s.handleStopCorrespondences))

		r.Get("/trips/{id}", cached(600, s.handleTrip))
		r.Get("/plan", s.handlePlan)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/status", s.handleStatus)
	})

	r.Post("/admin/reload", s.handleReload)
	return r
}

// cached sets a public max-age on read endpoints whose payload changes
// only on schedule reload.
func cached(seconds int, h http.HandlerFunc) http.HandlerFunc {
	value := "public, max-age=" + strconv.Itoa(seconds)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", value)
		h(w, r)
	}
}
