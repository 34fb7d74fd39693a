package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andenapp/anden/internal/store"
)

func (d *DB) BackfillPlatforms(ctx context.Context) (int64, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE stop_time_updates stu
		SET platform = vp.platform
		FROM vehicle_positions vp
		WHERE vp.trip_id = stu.trip_id
		  AND vp.stop_id = stu.stop_id
		  AND vp.platform IS NOT NULL AND vp.platform != ''
		  AND (stu.platform IS NULL OR stu.platform = '')`)
	if err != nil {
		return 0, fmt.Errorf("backfill platforms: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (d *DB) PlatformlessStops(ctx context.Context, idPrefix string) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT stop_id FROM stop_time_updates
		WHERE (platform IS NULL OR platform = '') AND stop_id LIKE $1 || '%'
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
	rows, err := d.pool.Query(ctx, `
		SELECT trip_id, stop_id, stop_sequence, arrival_delay, arrival_time, departure_delay,
		       departure_time, platform, occupancy_percent, occupancy_per_car, headsign
		FROM stop_time_updates WHERE stop_id = $1`, stopID)
	if err != nil {
		return nil, fmt.Errorf("stop updates at %s: %w", stopID, err)
	}
	defer rows.Close()
	return scanStopTimeUpdates(rows)
}

func (d *DB) SetStopTimeUpdatePlatform(ctx context.Context, tripID, stopID, platform string) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE stop_time_updates SET platform = $1 WHERE trip_id = $2 AND stop_id = $3`,
		platform, tripID, stopID)
	if err != nil {
		return fmt.Errorf("set platform %s/%s: %w", tripID, stopID, err)
	}
	return nil
}

func (d *DB) TopPlatform(ctx context.Context, stopID, routeShortName string) (string, int, error) {
	var platform string
	var count int
	err := d.pool.QueryRow(ctx, `
		SELECT platform, SUM(count)::int AS total FROM platform_history
		WHERE stop_id = $1 AND route_short_name = $2
		GROUP BY platform ORDER BY total DESC, platform LIMIT 1`,
		stopID, routeShortName).Scan(&platform, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, store.ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("top platform %s/%s: %w", stopID, routeShortName, err)
	}
	return platform, count, nil
}

func scanStopTimeUpdates(rows pgx.Rows) ([]store.StopTimeUpdateRow, error) {
	var out []store.StopTimeUpdateRow
	for rows.Next() {
		var r store.StopTimeUpdateRow
		if err := rows.Scan(&r.TripID, &r.StopID, &r.StopSequence, &r.ArrivalDelay, &r.ArrivalTime,
			&r.DepartureDelay, &r.DepartureTime, &r.Platform, &r.OccupancyPercent,
			&r.OccupancyPerCar, &r.Headsign); err != nil {
			return nil, fmt.Errorf("scan stop update: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
