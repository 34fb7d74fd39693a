package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

// ScheduledDepartures joins stop_times with trips and routes for the
// resolved platform set, excluding terminus arrivals.
func (d *DB) ScheduledDepartures(ctx context.Context, q store.ScheduledQuery) ([]store.ScheduledDepartureRow, error) {
	if len(q.StopIDs) == 0 || len(q.ServiceIDs) == 0 {
		return nil, nil
	}
	args := []any{q.StopIDs, q.MinDepartureSec, q.ServiceIDs}
	routeFilter := ""
	if q.RouteID != "" {
		routeFilter = "AND t.route_id = $4 "
		args = append(args, q.RouteID)
	}
	args = append(args, q.Limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT st.trip_id, st.stop_id, st.stop_sequence, st.arrival_seconds, st.departure_seconds,
		       t.route_id, r.short_name, r.color, t.headsign, t.direction_id, t.service_id, t.shape_id
		FROM stop_times st
		JOIN trips t ON t.id = st.trip_id
		JOIN routes r ON r.id = t.route_id
		WHERE st.stop_id = ANY($1)
		  AND st.departure_seconds >= $2
		  AND t.service_id = ANY($3)
		  %s
		  AND EXISTS (
			SELECT 1 FROM stop_times later
			WHERE later.trip_id = st.trip_id AND later.stop_sequence > st.stop_sequence
		  )
		ORDER BY st.departure_seconds
		LIMIT %s`, routeFilter, limitArg)

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduled departures: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduledDepartureRow
	for rows.Next() {
		var r store.ScheduledDepartureRow
		if err := rows.Scan(&r.TripID, &r.StopID, &r.StopSequence, &r.ArrivalSeconds, &r.DepartureSeconds,
			&r.RouteID, &r.RouteShortName, &r.RouteColor, &r.TripHeadsign, &r.DirectionID, &r.ServiceID, &r.ShapeID); err != nil {
			return nil, fmt.Errorf("scan scheduled departure: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) TripUpdatesFor(ctx context.Context, tripIDs []string) (map[string]store.TripUpdateRow, error) {
	if len(tripIDs) == 0 {
		return map[string]store.TripUpdateRow{}, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT trip_id, delay_seconds, vehicle_id, feed_timestamp, updated_at
		FROM trip_updates WHERE trip_id = ANY($1)`, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("trip updates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.TripUpdateRow)
	for rows.Next() {
		var r store.TripUpdateRow
		if err := rows.Scan(&r.TripID, &r.DelaySecs, &r.VehicleID, &r.Timestamp, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trip update: %w", err)
		}
		out[r.TripID] = r
	}
	return out, rows.Err()
}

func (d *DB) StopTimeUpdatesFor(ctx context.Context, tripIDs, stopIDs []string) ([]store.StopTimeUpdateRow, error) {
	if len(tripIDs) == 0 || len(stopIDs) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT trip_id, stop_id, stop_sequence, arrival_delay, arrival_time, departure_delay,
		       departure_time, platform, occupancy_percent, occupancy_per_car, headsign
		FROM stop_time_updates WHERE trip_id = ANY($1) AND stop_id = ANY($2)`, tripIDs, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("stop time updates: %w", err)
	}
	defer rows.Close()
	return scanStopTimeUpdates(rows)
}

func (d *DB) VehiclePositionsFor(ctx context.Context, tripIDs []string) (map[string]store.VehiclePositionRow, error) {
	if len(tripIDs) == 0 {
		return map[string]store.VehiclePositionRow{}, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT vehicle_id, trip_id, lat, lon, status, stop_id, label, platform, vehicle_timestamp, updated_at
		FROM vehicle_positions WHERE trip_id = ANY($1)`, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("vehicle positions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.VehiclePositionRow)
	for rows.Next() {
		var r store.VehiclePositionRow
		if err := rows.Scan(&r.VehicleID, &r.TripID, &r.Lat, &r.Lon, &r.Status, &r.StopID,
			&r.Label, &r.Platform, &r.Timestamp, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vehicle position: %w", err)
		}
		if r.TripID != nil {
			out[*r.TripID] = r
		}
	}
	return out, rows.Err()
}

func (d *DB) VehiclePositionsAtStops(ctx context.Context, stopIDs []string) ([]store.VehiclePositionRow, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT vehicle_id, trip_id, lat, lon, status, stop_id, label, platform, vehicle_timestamp, updated_at
		FROM vehicle_positions WHERE stop_id = ANY($1)`, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("vehicle positions at stops: %w", err)
	}
	defer rows.Close()

	var out []store.VehiclePositionRow
	for rows.Next() {
		var r store.VehiclePositionRow
		if err := rows.Scan(&r.VehicleID, &r.TripID, &r.Lat, &r.Lon, &r.Status, &r.StopID,
			&r.Label, &r.Platform, &r.Timestamp, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vehicle position: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) RoutesServingStops(ctx context.Context, stopIDs []string) ([]string, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx,
		`SELECT DISTINCT route_id FROM route_stops WHERE stop_id = ANY($1) ORDER BY route_id`, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("routes serving stops: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan route id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) FrequenciesFor(ctx context.Context, routeIDs []string, dayType string) ([]store.FrequencyRow, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT route_id, day_type, start_seconds, end_seconds, headway_seconds
		FROM route_frequencies WHERE route_id = ANY($1) AND day_type = $2
		ORDER BY route_id, start_seconds`, routeIDs, dayType)
	if err != nil {
		return nil, fmt.Errorf("frequencies: %w", err)
	}
	defer rows.Close()

	var out []store.FrequencyRow
	for rows.Next() {
		var f store.FrequencyRow
		if err := rows.Scan(&f.RouteID, &f.DayType, &f.StartSec, &f.EndSec, &f.HeadwaySecs); err != nil {
			return nil, fmt.Errorf("scan frequency: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (d *DB) RouteStopSequence(ctx context.Context, routeID string) ([]store.RouteStopRow, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT route_id, stop_id, seq FROM route_stops WHERE route_id = $1 ORDER BY seq`, routeID)
	if err != nil {
		return nil, fmt.Errorf("route stop sequence: %w", err)
	}
	defer rows.Close()

	var out []store.RouteStopRow
	for rows.Next() {
		var r store.RouteStopRow
		if err := rows.Scan(&r.RouteID, &r.StopID, &r.Sequence); err != nil {
			return nil, fmt.Errorf("scan route stop: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveAlertsForRoutes filters on the JSONB informed entities directly.
func (d *DB) ActiveAlertsForRoutes(ctx context.Context, routeIDs []string, now time.Time) ([]models.Alert, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, cause, effect, header, description, url, active_period_start, active_period_end,
		       informed_entities, ai_severity, ai_status, ai_summary, ai_affected_segments
		FROM alerts
		WHERE (active_period_start IS NULL OR active_period_start <= $1)
		  AND (active_period_end IS NULL OR active_period_end >= $1)
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(informed_entities) AS ie
			WHERE ie->>'routeId' = ANY($2)
		  )
		ORDER BY id`, now, routeIDs)
	if err != nil {
		return nil, fmt.Errorf("alerts for routes: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}
