package platform

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/andenapp/anden/internal/realtime/visor"
	"github.com/andenapp/anden/internal/store"
)

const renfePrefix = "RENFE_"

// Store is the persistence slice the post-processor needs.
type Store interface {
	store.PlatformOps
	Session(ctx context.Context) (store.Session, error)
}

// Processor runs after each ingestion tick: first a bulk correlation
// from vehicle positions, then the Renfe visor fallback for stops still
// missing platforms. Historical prediction stays a read-time concern of
// the departures engine.
type Processor struct {
	db       Store
	visor    *visor.Client
	recorder *Recorder
}

func NewProcessor(db Store, visorClient *visor.Client, recorder *Recorder) *Processor {
	return &Processor{db: db, visor: visorClient, recorder: recorder}
}

// Process is best-effort throughout: every step logs and moves on.
func (p *Processor) Process(ctx context.Context, now time.Time) {
	filled, err := p.db.BackfillPlatforms(ctx)
	if err != nil {
		log.Printf("Platform post-processor: backfill failed: %v", err)
	} else if filled > 0 {
		log.Printf("Platform post-processor: backfilled %d platforms from positions", filled)
	}

	if p.visor == nil {
		return
	}
	stops, err := p.db.PlatformlessStops(ctx, renfePrefix)
	if err != nil {
		log.Printf("Platform post-processor: platformless stops: %v", err)
		return
	}
	for _, stopID := range stops {
		p.visorFallback(ctx, stopID, now)
	}
}

// visorFallback matches one station's visor board against its
// platformless stop_time_updates and records what it learns.
func (p *Processor) visorFallback(ctx context.Context, stopID string, now time.Time) {
	code := strings.TrimPrefix(stopID, renfePrefix)
	board, err := p.visor.Departures(ctx, code)
	if err != nil {
		log.Printf("Platform post-processor: visor %s: %v", code, err)
		return
	}
	if len(board) == 0 {
		return
	}
	byTrip := make(map[string]visor.Departure, len(board))
	for _, dep := range board {
		if dep.TripID != "" && dep.Platform != "" {
			byTrip[dep.TripID] = dep
		}
	}
	if len(byTrip) == 0 {
		return
	}

	updates, err := p.db.StopTimeUpdatesAtStop(ctx, stopID)
	if err != nil {
		log.Printf("Platform post-processor: updates at %s: %v", stopID, err)
		return
	}

	var session store.Session
	for _, stu := range updates {
		if stu.Platform != nil && *stu.Platform != "" {
			continue
		}
		dep, ok := byTrip[stu.TripID]
		if !ok {
			continue
		}
		if err := p.db.SetStopTimeUpdatePlatform(ctx, stu.TripID, stu.StopID, dep.Platform); err != nil {
			log.Printf("Platform post-processor: set platform %s/%s: %v", stu.TripID, stu.StopID, err)
			continue
		}
		// Visor observations feed the history too.
		if p.recorder == nil {
			continue
		}
		if session == nil {
			session, err = p.db.Session(ctx)
			if err != nil {
				log.Printf("Platform post-processor: session: %v", err)
				continue
			}
			defer session.Release()
		}
		if row, ok := p.recorder.Sighting(stu.StopID, stu.TripID, "", dep.Platform, now); ok {
			if err := session.RecordPlatformSighting(ctx, row); err != nil {
				log.Printf("Platform post-processor: record sighting: %v", err)
			}
		}
	}
}
