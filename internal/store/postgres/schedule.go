package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

func (d *DB) LoadStops(ctx context.Context) ([]models.Stop, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, name, lat, lon, location_type, parent_station FROM stops`)
	if err != nil {
		return nil, fmt.Errorf("load stops: %w", err)
	}
	defer rows.Close()

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

func (d *DB) LoadRoutes(ctx context.Context) ([]models.Route, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, short_name, long_name, type, color, text_color, network_id, is_circular FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
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

func (d *DB) LoadCalendars(ctx context.Context) ([]store.CalendarRow, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT service_id, sunday, monday, tuesday, wednesday, thursday, friday, saturday, start_date, end_date FROM calendars`)
	if err != nil {
		return nil, fmt.Errorf("load calendars: %w", err)
	}
	defer rows.Close()

	var out []store.CalendarRow
	for rows.Next() {
		var c store.CalendarRow
		var start, end time.Time
		if err := rows.Scan(&c.ServiceID,
			&c.Weekdays[0], &c.Weekdays[1], &c.Weekdays[2], &c.Weekdays[3],
			&c.Weekdays[4], &c.Weekdays[5], &c.Weekdays[6],
			&start, &end); err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		c.StartDate = start
		c.EndDate = end
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) LoadCalendarDates(ctx context.Context) ([]store.CalendarDateRow, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT service_id, date, exception_type FROM calendar_dates`)
	if err != nil {
		return nil, fmt.Errorf("load calendar dates: %w", err)
	}
	defer rows.Close()

	var out []store.CalendarDateRow
	for rows.Next() {
		var c store.CalendarDateRow
		if err := rows.Scan(&c.ServiceID, &c.Date, &c.ExceptionType); err != nil {
			return nil, fmt.Errorf("scan calendar date: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DB) LoadTrips(ctx context.Context) ([]models.Trip, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, route_id, service_id, headsign, direction_id, shape_id FROM trips`)
	if err != nil {
		return nil, fmt.Errorf("load trips: %w", err)
	}
	defer rows.Close()

	var out []models.Trip
	for rows.Next() {
		var t models.Trip
		if err := rows.Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.Headsign, &t.DirectionID, &t.ShapeID); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) ForEachStopTime(ctx context.Context, fn func(store.StopTimeRow) error) error {
	rows, err := d.pool.Query(ctx,
		`SELECT trip_id, stop_sequence, stop_id, arrival_seconds, departure_seconds
		 FROM stop_times ORDER BY trip_id, stop_sequence`)
	if err != nil {
		return fmt.Errorf("load stop_times: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st store.StopTimeRow
		if err := rows.Scan(&st.TripID, &st.StopSequence, &st.StopID, &st.ArrivalSeconds, &st.DepartureSeconds); err != nil {
			return fmt.Errorf("scan stop_time: %w", err)
		}
		if err := fn(st); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *DB) LoadTransfers(ctx context.Context) ([]models.Correspondence, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT from_stop_id, to_stop_id, to_stop_name, distance_m, walk_time_seconds, source FROM correspondences`)
	if err != nil {
		return nil, fmt.Errorf("load correspondences: %w", err)
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
