package realtime

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/andenapp/anden/internal/config"
	"github.com/andenapp/anden/internal/decode"
	"github.com/andenapp/anden/internal/ids"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/platform"
	"github.com/andenapp/anden/internal/store"
)

const maxFeedBytes = 32 << 20

type workerResult struct {
	operator  string
	positions int
	updates   int
	alerts    int
	delays    []delayObservation
	err       error
}

// pollOperator is one worker: its own timeout, its own database
// session, no shared mutable state with its siblings.
func (e *Engine) pollOperator(ctx context.Context, op config.Operator, now time.Time) workerResult {
	res := workerResult{operator: op.Code}

	wctx, cancel := context.WithTimeout(ctx, e.cfg.WorkerTimeout)
	defer cancel()

	session, err := e.db.Session(wctx)
	if err != nil {
		res.err = fmt.Errorf("session: %w", err)
		return res
	}
	defer session.Release()

	dec := e.decoderFor(op)
	for kind, url := range feedURLs(op) {
		if url == "" {
			continue
		}
		body, err := e.fetch(wctx, op, url)
		if err != nil {
			res.err = fmt.Errorf("%s: %w", kind, err)
			continue
		}
		entities, err := dec.Decode(kind, body, now)
		if err != nil {
			res.err = fmt.Errorf("%s: %w", kind, err)
			continue
		}
		if entities.Skipped > 0 {
			log.Printf("%s: skipped %d malformed %s entities", op.Code, entities.Skipped, kind)
		}
		if err := e.persist(wctx, session, op, entities, now, &res); err != nil {
			res.err = fmt.Errorf("%s: %w", kind, err)
		}
	}
	return res
}

func feedURLs(op config.Operator) map[decode.FeedKind]string {
	return map[decode.FeedKind]string{
		decode.KindVehiclePositions: op.URLs.VehiclePositions,
		decode.KindTripUpdates:      op.URLs.TripUpdates,
		decode.KindAlerts:           op.URLs.Alerts,
		decode.KindPredictions:      op.URLs.Predictions,
	}
}

func (e *Engine) decoderFor(op config.Operator) decode.Decoder {
	switch op.Feed {
	case config.FeedRenfeJSON:
		return &decode.RenfeJSON{PlatformRule: op.Platform}
	case config.FeedPredictions:
		return &decode.Predictions{Prefix: op.Prefix, PlatformRule: op.Platform}
	default:
		return &decode.GTFSRT{PlatformRule: op.Platform}
	}
}

// fetch GETs one feed URL, attaching credentials for operators that
// require them.
func (e *Engine) fetch(ctx context.Context, op config.Operator, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if op.RequiresCredentials {
		q := req.URL.Query()
		q.Set("app_id", e.cfg.TMBAppID)
		q.Set("app_key", e.cfg.TMBAppKey)
		req.URL.RawQuery = q.Encode()
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// persist canonicalizes the decoded entities and writes them through
// the worker's session.
func (e *Engine) persist(ctx context.Context, session store.Session, op config.Operator, entities *decode.Entities, now time.Time, res *workerResult) error {
	rules := op.IDRules()

	if len(entities.Positions) > 0 {
		rows := make([]store.VehiclePositionRow, 0, len(entities.Positions))
		for _, vp := range entities.Positions {
			row, ok := e.positionRow(rules, vp, now)
			if !ok {
				continue
			}
			rows = append(rows, row)
			if platform.Usable(vp) && row.StopID != nil && row.TripID != nil {
				routeID := ""
				if vp.RouteID != "" {
					if id, err := e.norm.Route(rules, vp.RouteID); err == nil {
						routeID = id
					}
				}
				if sighting, ok := e.recorder.Sighting(*row.StopID, *row.TripID, routeID, vp.Platform, now); ok {
					if err := session.RecordPlatformSighting(ctx, sighting); err != nil {
						log.Printf("%s: record sighting: %v", op.Code, err)
					}
				}
			}
		}
		if err := session.UpsertVehiclePositions(ctx, now, rows); err != nil {
			return fmt.Errorf("persist positions: %w", err)
		}
		res.positions += len(rows)
	}

	if len(entities.Updates) > 0 {
		rows := make([]store.TripUpdateRow, 0, len(entities.Updates))
		for _, tu := range entities.Updates {
			row, ok := e.updateRow(rules, tu, now)
			if !ok {
				continue
			}
			rows = append(rows, row)
			if tu.DelaySecs != nil {
				res.delays = append(res.delays, delayObservation{
					routeID: e.routeForUpdate(rules, tu, row.TripID),
					seconds: *tu.DelaySecs,
				})
			}
		}
		if err := session.UpsertTripUpdates(ctx, now, rows); err != nil {
			return fmt.Errorf("persist trip updates: %w", err)
		}
		res.updates += len(rows)
	}

	if len(entities.Alerts) > 0 {
		rows := e.alertRows(ctx, session, rules, op, entities.Alerts, now)
		if err := session.UpsertAlerts(ctx, now, rows); err != nil {
			return fmt.Errorf("persist alerts: %w", err)
		}
		res.alerts += len(rows)
	}
	return nil
}

func (e *Engine) positionRow(rules ids.Operator, vp decode.VehiclePosition, now time.Time) (store.VehiclePositionRow, bool) {
	vehicleID, err := e.norm.Stop(rules, vp.VehicleID)
	if err != nil {
		return store.VehiclePositionRow{}, false
	}
	row := store.VehiclePositionRow{
		VehicleID: vehicleID,
		Lat:       vp.Lat,
		Lon:       vp.Lon,
		Status:    vp.Status,
		UpdatedAt: now,
	}
	if vp.TripID != "" {
		if id, err := e.norm.Trip(rules, vp.TripID); err == nil {
			row.TripID = &id
		}
	}
	if vp.StopID != "" {
		if id, err := e.norm.Stop(rules, vp.StopID); err == nil {
			row.StopID = &id
		}
	}
	if vp.Label != "" {
		label := vp.Label
		row.Label = &label
	}
	if vp.Platform != "" {
		p := vp.Platform
		row.Platform = &p
	}
	if !vp.Timestamp.IsZero() {
		ts := vp.Timestamp
		row.Timestamp = &ts
	}
	return row, true
}

func (e *Engine) updateRow(rules ids.Operator, tu decode.TripUpdate, now time.Time) (store.TripUpdateRow, bool) {
	tripID, err := e.norm.Trip(rules, tu.TripID)
	if err != nil {
		return store.TripUpdateRow{}, false
	}
	row := store.TripUpdateRow{
		TripID:    tripID,
		DelaySecs: tu.DelaySecs,
		UpdatedAt: now,
	}
	if tu.VehicleID != "" {
		if id, err := e.norm.Stop(rules, tu.VehicleID); err == nil {
			row.VehicleID = &id
		}
	}
	if !tu.Timestamp.IsZero() {
		ts := tu.Timestamp
		row.Timestamp = &ts
	}
	for _, stu := range tu.StopTimes {
		stopID, err := e.norm.Stop(rules, stu.StopID)
		if err != nil {
			continue
		}
		child := store.StopTimeUpdateRow{
			TripID:           tripID,
			StopID:           stopID,
			StopSequence:     stu.StopSequence,
			ArrivalDelay:     stu.Arrival.Delay,
			ArrivalTime:      stu.Arrival.Time,
			DepartureDelay:   stu.Departure.Delay,
			DepartureTime:    stu.Departure.Time,
			OccupancyPercent: stu.OccupancyPercent,
			OccupancyPerCar:  stu.OccupancyPerCar,
		}
		if stu.Platform != "" {
			p := stu.Platform
			child.Platform = &p
		}
		if stu.Headsign != "" {
			h := stu.Headsign
			child.Headsign = &h
		}
		row.StopTimes = append(row.StopTimes, child)
	}
	return row, true
}

// routeForUpdate resolves the route of a trip update, preferring the
// feed's route and falling back to the schedule snapshot.
func (e *Engine) routeForUpdate(rules ids.Operator, tu decode.TripUpdate, tripID string) string {
	if tu.RouteID != "" {
		if id, err := e.norm.Route(rules, tu.RouteID); err == nil {
			return id
		}
	}
	if snap, err := e.sched.Snapshot(); err == nil {
		if info, ok := snap.Trip(tripID); ok {
			return info.RouteID
		}
	}
	return ""
}

// alertRows canonicalizes decoded alerts and, for Renfe, runs the
// best-effort enrichment: new or changed alerts are classified, the
// rest keep their stored fields.
func (e *Engine) alertRows(ctx context.Context, session store.Session, rules ids.Operator, op config.Operator, alerts []decode.Alert, now time.Time) []store.AlertRow {
	rows := make([]store.AlertRow, 0, len(alerts))
	var alertIDs []string
	for _, al := range alerts {
		id, err := e.norm.Stop(rules, al.ID)
		if err != nil {
			continue
		}
		alert := models.Alert{
			ID:                id,
			Cause:             al.Cause,
			Effect:            al.Effect,
			Header:            al.Header,
			Description:       al.Description,
			ActivePeriodStart: al.Start,
			ActivePeriodEnd:   al.End,
		}
		if al.URL != "" {
			u := al.URL
			alert.URL = &u
		}
		for _, ie := range al.Entities {
			entity := models.InformedEntity{AgencyID: ie.AgencyID}
			if ie.RouteID != "" {
				if rid, err := e.norm.Route(rules, ie.RouteID); err == nil {
					entity.RouteID = rid
				}
			}
			if ie.StopID != "" {
				if sid, err := e.norm.Stop(rules, ie.StopID); err == nil {
					entity.StopID = sid
				}
			}
			if ie.TripID != "" {
				if tid, err := e.norm.Trip(rules, ie.TripID); err == nil {
					entity.TripID = tid
				}
			}
			alert.InformedEntities = append(alert.InformedEntities, entity)
		}
		rows = append(rows, store.AlertRow{Alert: alert, Source: "feed", UpdatedAt: now})
		alertIDs = append(alertIDs, id)
	}

	if e.classifier == nil || op.Code != "renfe" || len(rows) == 0 {
		return rows
	}
	states, err := session.AlertStates(ctx, alertIDs)
	if err != nil {
		log.Printf("%s: alert states: %v", op.Code, err)
		states = nil
	}
	for i := range rows {
		prev, known := states[rows[i].ID]
		if known && prev.Description == rows[i].Description {
			rows[i].Severity = prev.Severity
			rows[i].Status = prev.Status
			rows[i].Summary = prev.Summary
			rows[i].AffectedSegments = prev.AffectedSegments
			continue
		}
		cls, err := e.classifier.Classify(ctx, rows[i].Alert)
		if err != nil {
			log.Printf("%s: classify alert %s: %v", op.Code, rows[i].ID, err)
			if known {
				rows[i].Severity = prev.Severity
				rows[i].Status = prev.Status
				rows[i].Summary = prev.Summary
				rows[i].AffectedSegments = prev.AffectedSegments
			}
			continue
		}
		rows[i].Severity = &cls.Severity
		rows[i].Status = &cls.Status
		rows[i].Summary = &cls.Summary
		rows[i].AffectedSegments = &cls.AffectedSegments
	}
	return rows
}
