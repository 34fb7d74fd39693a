// Package departures merges scheduled stop times, real-time updates,
// vehicle positions, platform history, and frequency-synthesized
// departures into one per-stop board.
package departures

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andenapp/anden/internal/headsign"
	"github.com/andenapp/anden/internal/holidays"
	"github.com/andenapp/anden/internal/ids"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

// ErrUnavailable wraps persistence failures; the HTTP boundary maps it
// to 503.
var ErrUnavailable = errors.New("departures unavailable")

// minPlatformSightings is the observation count below which historical
// platform prediction refuses to guess.
const minPlatformSightings = 3

// livePrefixes marks the networks with real GTFS-RT feeds; only routes
// outside them are gated by frequency-derived operating hours.
var livePrefixes = []string{
	"RENFE_", "TMB_METRO_", "FGC_", "EUSKOTREN_", "METRO_BILBAO_",
}

func hasLivePrefix(id string) bool {
	for _, p := range livePrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// Reader is the slice of the persistence contract the engine consumes.
type Reader interface {
	store.DepartureReader
	TopPlatform(ctx context.Context, stopID, routeShortName string) (string, int, error)
	RouteDelayStat(ctx context.Context, routeID string, hour int) (models.RouteDelayStat, error)
}

// Request is one departures query. Now is the wall clock in the
// operator's timezone; handlers inject it so tests stay deterministic.
type Request struct {
	StopID  string
	RouteID string
	Limit   int
	Now     time.Time
	Verbose bool
}

// Engine is the departures fusion engine. Stateless; safe for
// concurrent use.
type Engine struct {
	sched *schedule.Store
	db    Reader
	norm  *ids.Normalizer
	civis CivisTable
}

func NewEngine(sched *schedule.Store, db Reader, norm *ids.Normalizer) *Engine {
	return &Engine{sched: sched, db: db, norm: norm, civis: DefaultCivisTable()}
}

// Departures answers one stop query. Errors: schedule.ErrNotLoaded
// before the first load, store.ErrNotFound for unknown stops,
// ErrUnavailable when the database fails.
func (e *Engine) Departures(ctx context.Context, req Request) (*models.DeparturesResponse, error) {
	snap, err := e.sched.Snapshot()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(req.Limit)

	resolved := snap.ResolvePlatforms(req.StopID)
	if len(resolved) == 0 {
		return nil, fmt.Errorf("stop %s: %w", req.StopID, store.ErrNotFound)
	}

	dayType := holidays.EffectiveDayType(req.Now)
	active := snap.ActiveServices(req.Now)
	nowSec := secondsSinceMidnight(req.Now)

	rows, err := e.db.ScheduledDepartures(ctx, store.ScheduledQuery{
		StopIDs:         resolved,
		MinDepartureSec: nowSec,
		ServiceIDs:      setToSlice(active),
		RouteID:         req.RouteID,
		Limit:           limit * 3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scheduled departures: %v", ErrUnavailable, err)
	}

	deps, err := e.enrich(ctx, snap, rows, resolved, req.Now, nowSec)
	if err != nil {
		return nil, err
	}

	// Frequency synthesis: full fallback when nothing is scheduled,
	// supplement for metro routes the scheduled rows missed.
	if freqEligible(resolved) {
		var missing map[string]bool
		if len(rows) > 0 {
			missing = e.missingFrequencyRoutes(ctx, resolved, rows)
			if len(missing) == 0 {
				missing = nil
			}
		}
		if len(rows) == 0 || missing != nil {
			synth, err := e.frequencyDepartures(ctx, snap, resolved, string(dayType), nowSec, limit, missing)
			if err != nil {
				return nil, fmt.Errorf("%w: frequency synthesis: %v", ErrUnavailable, err)
			}
			deps = append(deps, synth...)
		}
	}

	deps, err = e.gateOperatingHours(ctx, deps, string(dayType))
	if err != nil {
		return nil, err
	}
	deps = dedupe(deps)

	sort.SliceStable(deps, func(a, b int) bool {
		return sortMinutes(deps[a]) < sortMinutes(deps[b])
	})
	if len(deps) > limit {
		deps = deps[:limit]
	}

	resp := &models.DeparturesResponse{
		StopID:      req.StopID,
		StopName:    stopName(snap, req.StopID, resolved),
		DayType:     string(dayType),
		GeneratedAt: req.Now,
		Departures:  deps,
	}
	if req.Verbose {
		e.attachVerbose(ctx, resp, req.Now)
	}
	return resp, nil
}

// enrich fuses one scheduled row set with the real-time state.
func (e *Engine) enrich(ctx context.Context, snap *schedule.Snapshot, rows []store.ScheduledDepartureRow, resolved []string, now time.Time, nowSec int) ([]models.Departure, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	tripIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if !seen[r.TripID] {
			seen[r.TripID] = true
			tripIDs = append(tripIDs, r.TripID)
		}
	}

	updates, err := e.db.TripUpdatesFor(ctx, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: trip updates: %v", ErrUnavailable, err)
	}
	stus, err := e.db.StopTimeUpdatesFor(ctx, tripIDs, resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: stop time updates: %v", ErrUnavailable, err)
	}
	stuByKey := make(map[string]store.StopTimeUpdateRow, len(stus))
	for _, s := range stus {
		stuByKey[s.TripID+"\x00"+s.StopID] = s
	}
	positions, err := e.db.VehiclePositionsFor(ctx, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: vehicle positions: %v", ErrUnavailable, err)
	}
	atStops, err := e.db.VehiclePositionsAtStops(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: vehicle positions at stops: %v", ErrUnavailable, err)
	}
	posByStopTrip := make(map[string]store.VehiclePositionRow)
	for _, vp := range atStops {
		if vp.StopID != nil && vp.TripID != nil {
			posByStopTrip[*vp.StopID+"\x00"+*vp.TripID] = vp
		}
	}

	resolvedSet := make(map[string]bool, len(resolved))
	for _, id := range resolved {
		resolvedSet[id] = true
	}

	deps := make([]models.Departure, 0, len(rows))
	for _, row := range rows {
		d := models.Departure{
			TripID:           row.TripID,
			RouteID:          row.RouteID,
			RouteColor:       row.RouteColor,
			StopID:           row.StopID,
			DepartureSeconds: row.DepartureSeconds,
			MinutesUntil:     (row.DepartureSeconds - nowSec) / 60,
		}

		d.Headsign = e.headsignFor(snap, row)
		d.RouteShortName = e.shortNameFor(row, d.Headsign)

		stu, hasSTU := stuByKey[row.TripID+"\x00"+row.StopID]
		tu, hasTU := updates[row.TripID]

		if delay, ok := resolveDelay(stu, hasSTU, tu, hasTU, now, row.DepartureSeconds); ok {
			d.DelaySeconds = &delay
			rt := row.DepartureSeconds + delay
			d.RealtimeDepartureSeconds = &rt
			rtMin := (rt - nowSec) / 60
			d.RealtimeMinutesUntil = &rtMin
			d.IsDelayed = delay > 60
		}

		e.resolvePlatform(ctx, &d, stu, hasSTU, positions, posByStopTrip, resolvedSet)

		if hasSTU {
			if stu.OccupancyPercent != nil {
				pct := *stu.OccupancyPercent
				d.OccupancyPercent = &pct
				d.OccupancyStatus = models.OccupancyStatusFromPercent(pct)
			}
			d.OccupancyPerCar = stu.OccupancyPerCar
		}

		if stopCount := len(snap.StopTimes(row.TripID)); e.civis.IsExpress(d.RouteShortName, stopCount) {
			d.IsExpress = true
			d.ExpressName = civisName
			d.ExpressColor = civisColor
		}

		deps = append(deps, d)
	}
	return deps, nil
}

// resolveDelay prefers the stop-level update, then the trip-level one.
// Updates that carry a predicted time instead of a delay are converted
// against the schedule.
func resolveDelay(stu store.StopTimeUpdateRow, hasSTU bool, tu store.TripUpdateRow, hasTU bool, now time.Time, scheduledSec int) (int, bool) {
	if hasSTU {
		if stu.DepartureDelay != nil {
			return *stu.DepartureDelay, true
		}
		if stu.ArrivalDelay != nil {
			return *stu.ArrivalDelay, true
		}
		if t := firstNonNil(stu.DepartureTime, stu.ArrivalTime); t != nil {
			predicted := secondsSinceMidnight(t.In(now.Location()))
			return predicted - scheduledSec, true
		}
	}
	if hasTU && tu.DelaySecs != nil {
		return *tu.DelaySecs, true
	}
	return 0, false
}

// resolvePlatform walks the platform sources in priority order:
// stop-time update, the trip's vehicle when at or approaching this
// stop, any vehicle indexed at the stop for the trip, and finally the
// historical prediction, which is flagged as an estimate.
func (e *Engine) resolvePlatform(ctx context.Context, d *models.Departure, stu store.StopTimeUpdateRow, hasSTU bool, positions map[string]store.VehiclePositionRow, posByStopTrip map[string]store.VehiclePositionRow, resolvedSet map[string]bool) {
	if hasSTU && stu.Platform != nil && *stu.Platform != "" {
		d.Platform = stu.Platform
		return
	}
	if vp, ok := positions[d.TripID]; ok && vp.Platform != nil && *vp.Platform != "" {
		if vp.StopID != nil && resolvedSet[*vp.StopID] && (vp.Status == "STOPPED_AT" || vp.Status == "INCOMING_AT") {
			d.Platform = vp.Platform
			return
		}
	}
	if vp, ok := posByStopTrip[d.StopID+"\x00"+d.TripID]; ok && vp.Platform != nil && *vp.Platform != "" {
		d.Platform = vp.Platform
		return
	}
	platform, count, err := e.db.TopPlatform(ctx, d.StopID, d.RouteShortName)
	if err == nil && platform != "" && count >= minPlatformSightings {
		d.Platform = &platform
		d.PlatformEstimated = true
	}
}

// headsignFor falls back to the trip's last stop when the feed carries
// no headsign, then normalizes ALL CAPS texts.
func (e *Engine) headsignFor(snap *schedule.Snapshot, row store.ScheduledDepartureRow) string {
	h := ""
	if row.TripHeadsign != nil {
		h = *row.TripHeadsign
	}
	if h == "" {
		if calls := snap.StopTimes(row.TripID); len(calls) > 0 {
			last := calls[len(calls)-1].StopID
			if info, ok := snap.Stop(last); ok {
				h = info.Name
			} else {
				h = last
			}
		}
	}
	return headsign.Normalize(h)
}

func (e *Engine) shortNameFor(row store.ScheduledDepartureRow, headsignText string) string {
	if short, err := e.norm.RouteShortName(row.RouteID, headsignText); err == nil && short != "" {
		return short
	}
	return row.RouteShortName
}

// missingFrequencyRoutes finds frequency-network routes serving the
// stop that the scheduled rows did not cover.
func (e *Engine) missingFrequencyRoutes(ctx context.Context, resolved []string, rows []store.ScheduledDepartureRow) map[string]bool {
	covered := make(map[string]bool, len(rows))
	for _, r := range rows {
		covered[r.RouteID] = true
	}
	routeIDs, err := e.db.RoutesServingStops(ctx, resolved)
	if err != nil {
		return nil
	}
	missing := make(map[string]bool)
	for _, id := range routeIDs {
		if hasFrequencyPrefix(id) && !covered[id] {
			missing[id] = true
		}
	}
	return missing
}

// gateOperatingHours drops departures of routes without live feeds that
// fall outside the route's frequency-derived window for the day type.
func (e *Engine) gateOperatingHours(ctx context.Context, deps []models.Departure, dayType string) ([]models.Departure, error) {
	var gated []string
	seen := make(map[string]bool)
	for _, d := range deps {
		if !hasLivePrefix(d.RouteID) && !d.FrequencyBased && !seen[d.RouteID] {
			seen[d.RouteID] = true
			gated = append(gated, d.RouteID)
		}
	}
	if len(gated) == 0 {
		return deps, nil
	}
	freqs, err := e.db.FrequenciesFor(ctx, gated, dayType)
	if err != nil {
		return nil, fmt.Errorf("%w: operating hours: %v", ErrUnavailable, err)
	}
	byRoute := make(map[string][]store.FrequencyRow)
	for _, f := range freqs {
		byRoute[f.RouteID] = append(byRoute[f.RouteID], f)
	}
	windows := make(map[string]operatingWindow, len(gated))
	for _, id := range gated {
		windows[id] = windowFor(byRoute[id])
	}

	out := deps[:0]
	for _, d := range deps {
		if w, ok := windows[d.RouteID]; ok && !w.contains(d.DepartureSeconds) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// attachVerbose adds alerts and typical-delay hints; both are
// best-effort.
func (e *Engine) attachVerbose(ctx context.Context, resp *models.DeparturesResponse, now time.Time) {
	var routeIDs []string
	seen := make(map[string]bool)
	for i := range resp.Departures {
		d := &resp.Departures[i]
		if !seen[d.RouteID] {
			seen[d.RouteID] = true
			routeIDs = append(routeIDs, d.RouteID)
		}
		if stat, err := e.db.RouteDelayStat(ctx, d.RouteID, now.Hour()); err == nil && stat.Count >= 10 {
			typical := int(stat.MeanDelay)
			d.TypicalDelaySeconds = &typical
		}
	}
	if len(routeIDs) == 0 {
		return
	}
	if alerts, err := e.db.ActiveAlertsForRoutes(ctx, routeIDs, now); err == nil {
		resp.Alerts = alerts
	}
}

func freqEligible(resolved []string) bool {
	for _, id := range resolved {
		if hasFrequencyPrefix(id) {
			return true
		}
	}
	return false
}

func stopName(snap *schedule.Snapshot, stopID string, resolved []string) string {
	if info, ok := snap.Stop(stopID); ok {
		return info.Name
	}
	for _, id := range resolved {
		if info, ok := snap.Stop(id); ok {
			return info.Name
		}
	}
	return stopID
}

func sortMinutes(d models.Departure) int {
	if d.RealtimeMinutesUntil != nil {
		return *d.RealtimeMinutesUntil
	}
	return d.MinutesUntil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	}
	return limit
}

func secondsSinceMidnight(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func firstNonNil(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}
