// Package realtime runs the ingestion engine: one orchestrator loop
// that fans out per-operator workers on a fixed cadence, evicts stale
// state up front, and runs the platform post-processor after the
// barrier.
package realtime

import (
	"context"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andenapp/anden/internal/config"
	"github.com/andenapp/anden/internal/ids"
	"github.com/andenapp/anden/internal/metrics"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/platform"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

const (
	tripUpdateRetention      = 2 * time.Hour
	platformHistoryRetention = 30 * 24 * time.Hour
)

type operatorState struct {
	enabled    bool
	fetchCount int64
	errorCount int64
	lastFetch  time.Time
	lastError  string
}

// Engine orchestrates the per-operator workers.
type Engine struct {
	cfg        *config.Config
	db         store.Store
	sched      *schedule.Store
	norm       *ids.Normalizer
	recorder   *platform.Recorder
	processor  *platform.Processor
	classifier Classifier
	http       *http.Client

	mu          sync.Mutex
	ops         map[string]*operatorState
	lastCleanup time.Time
}

func NewEngine(cfg *config.Config, db store.Store, sched *schedule.Store, norm *ids.Normalizer, processor *platform.Processor, classifier Classifier) *Engine {
	e := &Engine{
		cfg:        cfg,
		db:         db,
		sched:      sched,
		norm:       norm,
		recorder:   platform.NewRecorder(sched, norm),
		processor:  processor,
		classifier: classifier,
		http:       &http.Client{Timeout: cfg.FetchTimeout},
		ops:        make(map[string]*operatorState),
	}
	for _, op := range cfg.Operators {
		enabled := !op.Disabled && cfg.HasCredentials(op)
		e.ops[op.Code] = &operatorState{enabled: enabled}
		if !enabled {
			log.Printf("Ingestion: operator %s disabled", op.Code)
		}
	}
	return e
}

// Run executes the polling loop until the context is cancelled. A tick
// that overruns the interval is followed immediately by the next one;
// there is no catch-up backlog.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("Ingestion: polling %d operators every %v", len(e.cfg.Operators), e.cfg.PollInterval)
	e.tick(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.tick(ctx)
		case <-ctx.Done():
			log.Println("Ingestion: loop stopped")
			return
		}
	}
}

// tick is one ingestion round: evict, fan out, barrier, post-process,
// record.
func (e *Engine) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, e.cfg.TickDeadline)
	defer cancel()

	started := time.Now()
	now := started.UTC()

	if stats, err := e.db.EvictStale(tickCtx, now); err != nil {
		log.Printf("Ingestion: eviction failed: %v", err)
	} else if total := stats.TripUpdates + stats.OrphanStopTimes + stats.ExpiredAlerts + stats.AbandonedAlerts; total > 0 {
		log.Printf("Ingestion: evicted %d trip updates, %d orphan stop updates, %d alerts",
			stats.TripUpdates, stats.OrphanStopTimes, stats.ExpiredAlerts+stats.AbandonedAlerts)
	}

	var wg sync.WaitGroup
	results := make(chan workerResult, len(e.cfg.Operators))
	for _, op := range e.cfg.Operators {
		if st := e.ops[op.Code]; st == nil || !st.enabled {
			continue
		}
		wg.Add(1)
		go func(op config.Operator) {
			defer wg.Done()
			results <- e.pollOperator(tickCtx, op, now)
		}(op)
	}
	wg.Wait()
	close(results)

	run := store.IngestRunRow{ID: uuid.New().String(), StartedAt: started.UTC()}
	var delays []delayObservation
	for res := range results {
		st := e.ops[res.operator]
		e.mu.Lock()
		if res.err != nil {
			st.errorCount++
			st.lastError = res.err.Error()
			run.OperatorsKO++
			log.Printf("Ingestion: %s failed: %v", res.operator, res.err)
		} else {
			st.fetchCount++
			st.lastFetch = started
			st.lastError = ""
			run.OperatorsOK++
		}
		e.mu.Unlock()
		run.Positions += res.positions
		run.TripUpdates += res.updates
		run.Alerts += res.alerts
		delays = append(delays, res.delays...)
	}

	if e.processor != nil {
		e.processor.Process(tickCtx, now)
	}
	e.recordDelayStats(tickCtx, delays, started)

	run.DurationMS = time.Since(started).Milliseconds()
	if err := e.db.RecordIngestRun(tickCtx, run); err != nil {
		log.Printf("Ingestion: record run: %v", err)
	}

	e.cleanupPlatformHistory(tickCtx, now)
}

// cleanupPlatformHistory prunes sightings older than the retention
// window once per day rollover.
func (e *Engine) cleanupPlatformHistory(ctx context.Context, now time.Time) {
	e.mu.Lock()
	due := e.lastCleanup.IsZero() || now.Day() != e.lastCleanup.Day()
	if due {
		e.lastCleanup = now
	}
	e.mu.Unlock()
	if !due {
		return
	}
	removed, err := e.db.CleanupPlatformHistory(ctx, now.Add(-platformHistoryRetention))
	if err != nil {
		log.Printf("Ingestion: platform history cleanup: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Ingestion: pruned %d platform history rows", removed)
	}
}

type delayObservation struct {
	routeID string
	seconds int
}

// recordDelayStats folds this tick's trip-update delays into the hourly
// per-route Welford aggregates.
func (e *Engine) recordDelayStats(ctx context.Context, obs []delayObservation, now time.Time) {
	if len(obs) == 0 {
		return
	}
	hour := now.UTC().Hour()
	byRoute := make(map[string][]int)
	for _, o := range obs {
		if o.routeID != "" {
			byRoute[o.routeID] = append(byRoute[o.routeID], o.seconds)
		}
	}
	for routeID, samples := range byRoute {
		stat, err := e.db.RouteDelayStat(ctx, routeID, hour)
		var running metrics.DelayStats
		if err == nil {
			running = metrics.Resume(stat.Count, stat.MeanDelay, stat.StdDev)
		}
		for _, s := range samples {
			running.Observe(float64(s))
		}
		err = e.db.UpsertRouteDelayStat(ctx, models.RouteDelayStat{
			RouteID:    routeID,
			HourBucket: hour,
			Count:      running.Count,
			MeanDelay:  running.Mean,
			StdDev:     running.StdDev(),
		})
		if err != nil {
			log.Printf("Ingestion: delay stats for %s: %v", routeID, err)
		}
	}
}

// Status snapshots the per-operator counters for the status endpoint.
func (e *Engine) Status() []models.OperatorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.OperatorStatus, 0, len(e.ops))
	for code, st := range e.ops {
		s := models.OperatorStatus{
			Operator:   code,
			Enabled:    st.enabled,
			FetchCount: st.fetchCount,
			ErrorCount: st.errorCount,
			LastError:  st.lastError,
		}
		if !st.lastFetch.IsZero() {
			t := st.lastFetch
			s.LastFetch = &t
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operator < out[j].Operator })
	return out
}
