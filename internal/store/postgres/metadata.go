package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

func (d *DB) Networks(ctx context.Context) ([]models.Network, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT code, name, region, transport_type, color, text_color FROM networks ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("networks: %w", err)
	}
	defer rows.Close()

	var out []models.Network
	for rows.Next() {
		var n models.Network
		if err := rows.Scan(&n.Code, &n.Name, &n.Region, &n.TransportType, &n.Color, &n.TextColor); err != nil {
			return nil, fmt.Errorf("scan network: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (d *DB) Network(ctx context.Context, code string) (models.Network, error) {
	var n models.Network
	err := d.pool.QueryRow(ctx,
		`SELECT code, name, region, transport_type, color, text_color FROM networks WHERE code = $1`, code).
		Scan(&n.Code, &n.Name, &n.Region, &n.TransportType, &n.Color, &n.TextColor)
	if errors.Is(err, pgx.ErrNoRows) {
		return n, store.ErrNotFound
	}
	if err != nil {
		return n, fmt.Errorf("network %s: %w", code, err)
	}
	return n, nil
}

const routeColumns = `id, short_name, long_name, type, color, text_color, network_id, is_circular`

func (d *DB) Routes(ctx context.Context) ([]models.Route, error) {
	return d.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY network_id, short_name`)
}

func (d *DB) RoutesForNetwork(ctx context.Context, code string) ([]models.Route, error) {
	return d.queryRoutes(ctx, `SELECT `+routeColumns+` FROM routes WHERE network_id = $1 ORDER BY short_name`, code)
}

func (d *DB) queryRoutes(ctx context.Context, query string, args ...any) ([]models.Route, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	defer rows.Close()

	var out []models.Route
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.ID, &r.ShortName, &r.LongName, &r.Type, &r.Color, &r.TextColor, &r.NetworkID, &r.IsCircular); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) Route(ctx context.Context, id string) (models.Route, error) {
	var r models.Route
	err := d.pool.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, id).
		Scan(&r.ID, &r.ShortName, &r.LongName, &r.Type, &r.Color, &r.TextColor, &r.NetworkID, &r.IsCircular)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, store.ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("route %s: %w", id, err)
	}
	return r, nil
}

func (d *DB) RouteStopsDetailed(ctx context.Context, routeID string) ([]models.Stop, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT s.id, s.name, s.lat, s.lon, s.location_type, s.parent_station
		FROM route_stops rs JOIN stops s ON s.id = rs.stop_id
		WHERE rs.route_id = $1 ORDER BY rs.seq`, routeID)
	if err != nil {
		return nil, fmt.Errorf("route stops %s: %w", routeID, err)
	}
	defer rows.Close()
	return scanStops(rows)
}

func (d *DB) RouteShape(ctx context.Context, routeID string) ([]models.ShapePoint, error) {
	var shapeID string
	err := d.pool.QueryRow(ctx, `
		SELECT shape_id FROM trips
		WHERE route_id = $1 AND shape_id IS NOT NULL
		GROUP BY shape_id ORDER BY COUNT(*) DESC, shape_id LIMIT 1`, routeID).Scan(&shapeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("route shape %s: %w", routeID, err)
	}
	return d.ShapePoints(ctx, shapeID)
}

func (d *DB) ShapePoints(ctx context.Context, shapeID string) ([]models.ShapePoint, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT seq, lat, lon, dist FROM shapes WHERE shape_id = $1 ORDER BY seq`, shapeID)
	if err != nil {
		return nil, fmt.Errorf("shape points %s: %w", shapeID, err)
	}
	defer rows.Close()

	var out []models.ShapePoint
	for rows.Next() {
		var p models.ShapePoint
		if err := rows.Scan(&p.Seq, &p.Lat, &p.Lon, &p.Dist); err != nil {
			return nil, fmt.Errorf("scan shape point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DB) RouteFrequencies(ctx context.Context, routeID string) ([]store.FrequencyRow, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT route_id, day_type, start_seconds, end_seconds, headway_seconds
		FROM route_frequencies WHERE route_id = $1 ORDER BY day_type, start_seconds`, routeID)
	if err != nil {
		return nil, fmt.Errorf("route frequencies %s: %w", routeID, err)
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

func (d *DB) Stop(ctx context.Context, id string) (models.Stop, error) {
	var s models.Stop
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, lat, lon, location_type, parent_station FROM stops WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.LocationType, &s.ParentStation)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, store.ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("stop %s: %w", id, err)
	}
	return s, nil
}

func (d *DB) StopChildren(ctx context.Context, parentID string) ([]models.Stop, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, lat, lon, location_type, parent_station
		FROM stops WHERE parent_station = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("stop children %s: %w", parentID, err)
	}
	defer rows.Close()
	return scanStops(rows)
}

func (d *DB) StopsByPrefix(ctx context.Context, prefix string) ([]models.Stop, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, lat, lon, location_type, parent_station
		FROM stops WHERE id LIKE $1 || '%' ORDER BY id`, prefix)
	if err != nil {
		return nil, fmt.Errorf("stops by prefix %s: %w", prefix, err)
	}
	defer rows.Close()
	return scanStops(rows)
}

func (d *DB) SearchStops(ctx context.Context, query string, limit int) ([]models.Stop, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, lat, lon, location_type, parent_station
		FROM stops WHERE name ILIKE '%' || $1 || '%'
		ORDER BY name LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search stops: %w", err)
	}
	defer rows.Close()
	return scanStops(rows)
}

func (d *DB) StopPlatforms(ctx context.Context, stopID string) ([]models.Platform, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT stop_id, code, name, lat, lon, lines, vestibule
		FROM platforms WHERE stop_id = $1 ORDER BY code`, stopID)
	if err != nil {
		return nil, fmt.Errorf("stop platforms %s: %w", stopID, err)
	}
	defer rows.Close()

	var out []models.Platform
	for rows.Next() {
		var p models.Platform
		if err := rows.Scan(&p.StopID, &p.Code, &p.Name, &p.Lat, &p.Lon, &p.Lines, &p.Vestible); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DB) StopCorrespondences(ctx context.Context, stopID string) ([]models.Correspondence, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT from_stop_id, to_stop_id, to_stop_name, distance_m, walk_time_seconds, source
		FROM correspondences WHERE from_stop_id = $1 ORDER BY to_stop_id`, stopID)
	if err != nil {
		return nil, fmt.Errorf("correspondences %s: %w", stopID, err)
	}
	defer rows.Close()

	var out []models.Correspondence
	for rows.Next() {
		var c models.Correspondence
		if err := rows.Scan(&c.FromStopID, &c.ToStopID, &c.ToStopName, &c.DistanceM, &c.WalkTimeSec, &c.Source); err != nil {
			return nil, fmt.Errorf("scan correspondence: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) Trip(ctx context.Context, id string) (models.Trip, error) {
	var t models.Trip
	err := d.pool.QueryRow(ctx,
		`SELECT id, route_id, service_id, headsign, direction_id, shape_id FROM trips WHERE id = $1`, id).
		Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.Headsign, &t.DirectionID, &t.ShapeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, store.ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("trip %s: %w", id, err)
	}

	rows, err := d.pool.Query(ctx, `
		SELECT st.stop_id, s.name, st.stop_sequence, st.arrival_seconds, st.departure_seconds
		FROM stop_times st JOIN stops s ON s.id = st.stop_id
		WHERE st.trip_id = $1 ORDER BY st.stop_sequence`, id)
	if err != nil {
		return t, fmt.Errorf("trip stop times %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var st models.TripStopTime
		if err := rows.Scan(&st.StopID, &st.StopName, &st.StopSequence, &st.ArrivalSeconds, &st.DepartureSeconds); err != nil {
			return t, fmt.Errorf("scan trip stop time: %w", err)
		}
		t.StopTimes = append(t.StopTimes, st)
	}
	return t, rows.Err()
}

func (d *DB) TripStopTimes(ctx context.Context, tripID string) ([]store.StopTimeRow, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT trip_id, stop_sequence, stop_id, arrival_seconds, departure_seconds
		FROM stop_times WHERE trip_id = $1 ORDER BY stop_sequence`, tripID)
	if err != nil {
		return nil, fmt.Errorf("trip stop times %s: %w", tripID, err)
	}
	defer rows.Close()

	var out []store.StopTimeRow
	for rows.Next() {
		var st store.StopTimeRow
		if err := rows.Scan(&st.TripID, &st.StopSequence, &st.StopID, &st.ArrivalSeconds, &st.DepartureSeconds); err != nil {
			return nil, fmt.Errorf("scan stop time: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (d *DB) Alerts(ctx context.Context, now time.Time) ([]models.Alert, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, cause, effect, header, description, url, active_period_start, active_period_end,
		       informed_entities, ai_severity, ai_status, ai_summary, ai_affected_segments
		FROM alerts
		WHERE (active_period_start IS NULL OR active_period_start <= $1)
		  AND (active_period_end IS NULL OR active_period_end >= $1)
		ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (d *DB) RouteDelayStats(ctx context.Context, routeID string) ([]models.RouteDelayStat, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT route_id, hour_bucket, sample_count, mean_delay, std_dev
		FROM route_delay_stats WHERE route_id = $1 ORDER BY hour_bucket`, routeID)
	if err != nil {
		return nil, fmt.Errorf("route delay stats %s: %w", routeID, err)
	}
	defer rows.Close()

	var out []models.RouteDelayStat
	for rows.Next() {
		var s models.RouteDelayStat
		if err := rows.Scan(&s.RouteID, &s.HourBucket, &s.Count, &s.MeanDelay, &s.StdDev); err != nil {
			return nil, fmt.Errorf("scan delay stat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStops(rows pgx.Rows) ([]models.Stop, error) {
	var out []models.Stop
	for rows.Next() {
		var s models.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.LocationType, &s.ParentStation); err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanAlerts(rows pgx.Rows) ([]models.Alert, error) {
	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.Cause, &a.Effect, &a.Header, &a.Description, &a.URL,
			&a.ActivePeriodStart, &a.ActivePeriodEnd, &a.InformedEntities,
			&a.Severity, &a.Status, &a.Summary, &a.AffectedSegments); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
