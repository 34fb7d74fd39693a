package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andenapp/anden/internal/store"
)

func (d *DB) BackfillPlatforms(ctx context.Context) (int64, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	res, err := d.conn.ExecContext(ctx, `
		UPDATE stop_time_updates
		SET platform = (
			SELECT vp.platform FROM vehicle_positions vp
			WHERE vp.trip_id = stop_time_updates.trip_id
			  AND vp.stop_id = stop_time_updates.stop_id
			  AND vp.platform IS NOT NULL AND vp.platform != ''
		)
		WHERE (platform IS NULL OR platform = '')
		  AND EXISTS (
			SELECT 1 FROM vehicle_positions vp
			WHERE vp.trip_id = stop_time_updates.trip_id
			  AND vp.stop_id = stop_time_updates.stop_id
			  AND vp.platform IS NOT NULL AND vp.platform != ''
		  )`)
	if err != nil {
		return 0, fmt.Errorf("backfill platforms: %w", err)
	}
	return res.RowsAffected()
}

func (d *DB) PlatformlessStops(ctx context.Context, idPrefix string) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT DISTINCT stop_id FROM stop_time_updates
		WHERE (platform IS NULL OR platform = '') AND stop_id LIKE ? || '%'
		ORDER BY stop_id`, idPrefix)
	if err != nil {
		return nil, fmt.Errorf("platformless stops: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan platformless stop: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) StopTimeUpdatesAtStop(ctx context.Context, stopID string) ([]store.StopTimeUpdateRow, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT trip_id, stop_id, stop_sequence, arrival_delay, arrival_time, departure_delay,
		       departure_time, platform, occupancy_percent, occupancy_per_car, headsign
		FROM stop_time_updates WHERE stop_id = ?`, stopID)
	if err != nil {
		return nil, fmt.Errorf("stop updates at %s: %w", stopID, err)
	}
	defer rows.Close()
	return scanStopTimeUpdates(rows)
}

func (d *DB) SetStopTimeUpdatePlatform(ctx context.Context, tripID, stopID, platform string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	_, err := d.conn.ExecContext(ctx,
		`UPDATE stop_time_updates SET platform = ? WHERE trip_id = ? AND stop_id = ?`,
		platform, tripID, stopID)
	if err != nil {
		return fmt.Errorf("set platform %s/%s: %w", tripID, stopID, err)
	}
	return nil
}

func (d *DB) TopPlatform(ctx context.Context, stopID, routeShortName string) (string, int, error) {
	var platform string
	var count int
	err := d.conn.QueryRowContext(ctx, `
		SELECT platform, SUM(count) AS total FROM platform_history
		WHERE stop_id = ? AND route_short_name = ?
		GROUP BY platform ORDER BY total DESC, platform LIMIT 1`,
		stopID, routeShortName).Scan(&platform, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, store.ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("top platform %s/%s: %w", stopID, routeShortName, err)
	}
	return platform, count, nil
}

func scanStopTimeUpdates(rows *sql.Rows) ([]store.StopTimeUpdateRow, error) {
	var out []store.StopTimeUpdateRow
	for rows.Next() {
		var r store.StopTimeUpdateRow
		var arrival, departure, perCar *string
		if err := rows.Scan(&r.TripID, &r.StopID, &r.StopSequence, &r.ArrivalDelay, &arrival,
			&r.DepartureDelay, &departure, &r.Platform, &r.OccupancyPercent, &perCar, &r.Headsign); err != nil {
			return nil, fmt.Errorf("scan stop update: %w", err)
		}
		r.ArrivalTime = parseTimePtr(arrival)
		r.DepartureTime = parseTimePtr(departure)
		r.OccupancyPerCar = decodePerCar(perCar)
		out = append(out, r)
	}
	return out, rows.Err()
}
