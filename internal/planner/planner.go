package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

const (
	defaultMaxTransfers    = 3
	maxMaxTransfers        = 5
	defaultMaxAlternatives = 3
)

// Reader is the persistence slice the planner consumes: shape geometry
// for transit segments and the alert overlay.
type Reader interface {
	ShapePoints(ctx context.Context, shapeID string) ([]models.ShapePoint, error)
	ActiveAlertsForRoutes(ctx context.Context, routeIDs []string, now time.Time) ([]models.Alert, error)
}

// Request is one journey query. Now is the wall clock in the operator
// timezone; DepartureSec overrides it when positive.
type Request struct {
	From            string
	To              string
	Now             time.Time
	DepartureSec    int
	MaxTransfers    int
	MaxAlternatives int
}

// Planner searches Pareto-optimal journeys over the schedule snapshot.
type Planner struct {
	sched *schedule.Store
	db    Reader
}

func New(sched *schedule.Store, db Reader) *Planner {
	return &Planner{sched: sched, db: db}
}

// Plan answers one journey query. An exhausted search is a successful
// response with Success=false; only unknown stops and a missing
// snapshot are errors.
func (p *Planner) Plan(ctx context.Context, req Request) (*models.PlanResponse, error) {
	snap, err := p.sched.Snapshot()
	if err != nil {
		return nil, err
	}

	originStops := snap.ResolvePlatforms(req.From)
	if len(originStops) == 0 {
		return nil, fmt.Errorf("origin %s: %w", req.From, store.ErrNotFound)
	}
	destStops := snap.ResolvePlatforms(req.To)
	if len(destStops) == 0 {
		return nil, fmt.Errorf("destination %s: %w", req.To, store.ErrNotFound)
	}

	resp := &models.PlanResponse{From: req.From, To: req.To}

	depSec := req.DepartureSec
	if depSec <= 0 {
		depSec = req.Now.Hour()*3600 + req.Now.Minute()*60 + req.Now.Second()
	}

	dests := make(map[string]bool, len(destStops))
	for _, id := range destStops {
		dests[id] = true
	}
	origins := make(map[string]int, len(originStops))
	same := false
	for _, id := range originStops {
		origins[id] = depSec
		if dests[id] {
			same = true
		}
	}
	if same || req.From == req.To {
		resp.Success = true
		resp.Journeys = []models.Journey{{
			DepartureSeconds: depSec,
			ArrivalSeconds:   depSec,
		}}
		return resp, nil
	}

	maxTransfers := req.MaxTransfers
	if maxTransfers <= 0 {
		maxTransfers = defaultMaxTransfers
	} else if maxTransfers > maxMaxTransfers {
		maxTransfers = maxMaxTransfers
	}
	rounds := maxTransfers + 1

	maxAlternatives := req.MaxAlternatives
	if maxAlternatives <= 0 {
		maxAlternatives = defaultMaxAlternatives
	}

	active := snap.ActiveServices(req.Now)
	st := run(snap, origins, dests, active, rounds)

	var cands []candidate
	for k := 1; k <= rounds; k++ {
		for dest := range dests {
			if c, ok := reconstruct(snap, st, k, dest); ok {
				cands = append(cands, c)
			}
		}
	}
	if len(cands) == 0 {
		resp.Success = false
		resp.Message = "no journey found within the transfer limit"
		return resp, nil
	}

	kept := paretoFilter(cands)
	sort.Slice(kept, func(a, b int) bool {
		if kept[a].arrivalSec != kept[b].arrivalSec {
			return kept[a].arrivalSec < kept[b].arrivalSec
		}
		return kept[a].transfers < kept[b].transfers
	})
	if len(kept) > maxAlternatives {
		kept = kept[:maxAlternatives]
	}

	routeSet := make(map[string]bool)
	for _, c := range kept {
		j := p.toJourney(ctx, snap, c)
		resp.Journeys = append(resp.Journeys, j)
		for _, seg := range j.Segments {
			if seg.RouteID != "" {
				routeSet[seg.RouteID] = true
			}
		}
	}
	resp.Success = true

	if p.db != nil && len(routeSet) > 0 {
		routeIDs := make([]string, 0, len(routeSet))
		for id := range routeSet {
			routeIDs = append(routeIDs, id)
		}
		sort.Strings(routeIDs)
		if alerts, err := p.db.ActiveAlertsForRoutes(ctx, routeIDs, req.Now); err == nil {
			resp.Alerts = alerts
		}
	}
	return resp, nil
}
