package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

// session pins one pooled connection for the lifetime of a worker.
type session struct {
	conn *pgxpool.Conn
}

func (d *DB) Session(ctx context.Context) (store.Session, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	return &session{conn: conn}, nil
}

func (s *session) Release() {
	s.conn.Release()
}

func (s *session) UpsertVehiclePositions(ctx context.Context, now time.Time, rows []store.VehiclePositionRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO vehicle_positions (vehicle_id, trip_id, lat, lon, status, stop_id, label, platform, vehicle_timestamp, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (vehicle_id) DO UPDATE SET
				trip_id = EXCLUDED.trip_id, lat = EXCLUDED.lat, lon = EXCLUDED.lon,
				status = EXCLUDED.status, stop_id = EXCLUDED.stop_id, label = EXCLUDED.label,
				platform = EXCLUDED.platform, vehicle_timestamp = EXCLUDED.vehicle_timestamp,
				updated_at = EXCLUDED.updated_at`,
			r.VehicleID, r.TripID, r.Lat, r.Lon, r.Status, r.StopID, r.Label, r.Platform, r.Timestamp, now); err != nil {
			return fmt.Errorf("upsert position %s: %w", r.VehicleID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *session) UpsertTripUpdates(ctx context.Context, now time.Time, rows []store.TripUpdateRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin updates tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO trip_updates (trip_id, delay_seconds, vehicle_id, feed_timestamp, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (trip_id) DO UPDATE SET
				delay_seconds = EXCLUDED.delay_seconds, vehicle_id = EXCLUDED.vehicle_id,
				feed_timestamp = EXCLUDED.feed_timestamp, updated_at = EXCLUDED.updated_at`,
			r.TripID, r.DelaySecs, r.VehicleID, r.Timestamp, now); err != nil {
			return fmt.Errorf("upsert trip update %s: %w", r.TripID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM stop_time_updates WHERE trip_id = $1`, r.TripID); err != nil {
			return fmt.Errorf("clear stop updates %s: %w", r.TripID, err)
		}
		for _, stu := range r.StopTimes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO stop_time_updates (trip_id, stop_id, stop_sequence, arrival_delay, arrival_time,
					departure_delay, departure_time, platform, occupancy_percent, occupancy_per_car, headsign)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (trip_id, stop_id) DO UPDATE SET
					stop_sequence = EXCLUDED.stop_sequence, arrival_delay = EXCLUDED.arrival_delay,
					arrival_time = EXCLUDED.arrival_time, departure_delay = EXCLUDED.departure_delay,
					departure_time = EXCLUDED.departure_time, platform = EXCLUDED.platform,
					occupancy_percent = EXCLUDED.occupancy_percent, occupancy_per_car = EXCLUDED.occupancy_per_car,
					headsign = EXCLUDED.headsign`,
				stu.TripID, stu.StopID, stu.StopSequence, stu.ArrivalDelay, stu.ArrivalTime,
				stu.DepartureDelay, stu.DepartureTime, stu.Platform,
				stu.OccupancyPercent, stu.OccupancyPerCar, stu.Headsign); err != nil {
				return fmt.Errorf("upsert stop update %s/%s: %w", stu.TripID, stu.StopID, err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *session) AlertStates(ctx context.Context, ids []string) (map[string]store.AlertState, error) {
	if len(ids) == 0 {
		return map[string]store.AlertState{}, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, description, ai_severity, ai_status, ai_summary, ai_affected_segments
		FROM alerts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("alert states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.AlertState)
	for rows.Next() {
		var id string
		var st store.AlertState
		if err := rows.Scan(&id, &st.Description, &st.Severity, &st.Status, &st.Summary, &st.AffectedSegments); err != nil {
			return nil, fmt.Errorf("scan alert state: %w", err)
		}
		out[id] = st
	}
	return out, rows.Err()
}

func (s *session) UpsertAlerts(ctx context.Context, now time.Time, rows []store.AlertRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin alerts tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		entities := r.InformedEntities
		if entities == nil {
			entities = []models.InformedEntity{}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO alerts (id, cause, effect, header, description, url, active_period_start,
				active_period_end, informed_entities, source, ai_severity, ai_status, ai_summary,
				ai_affected_segments, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				cause = EXCLUDED.cause, effect = EXCLUDED.effect, header = EXCLUDED.header,
				description = EXCLUDED.description, url = EXCLUDED.url,
				active_period_start = EXCLUDED.active_period_start,
				active_period_end = EXCLUDED.active_period_end,
				informed_entities = EXCLUDED.informed_entities, source = EXCLUDED.source,
				ai_severity = EXCLUDED.ai_severity, ai_status = EXCLUDED.ai_status,
				ai_summary = EXCLUDED.ai_summary, ai_affected_segments = EXCLUDED.ai_affected_segments,
				updated_at = EXCLUDED.updated_at`,
			r.ID, r.Cause, r.Effect, r.Header, r.Description, r.URL,
			r.ActivePeriodStart, r.ActivePeriodEnd, entities, r.Source,
			r.Severity, r.Status, r.Summary, r.AffectedSegments, now); err != nil {
			return fmt.Errorf("upsert alert %s: %w", r.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *session) RecordPlatformSighting(ctx context.Context, row store.SightingRow) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO platform_history (stop_id, route_short_name, headsign, platform, observation_date, count, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (stop_id, route_short_name, headsign, platform, observation_date) DO UPDATE SET
			count = platform_history.count + 1, last_seen_at = EXCLUDED.last_seen_at`,
		row.StopID, row.RouteShortName, row.Headsign, row.Platform, row.Date, row.SeenAt)
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// ---- orchestrator side ----

func (d *DB) EvictStale(ctx context.Context, now time.Time) (store.EvictStats, error) {
	var stats store.EvictStats

	tag, err := d.pool.Exec(ctx, `DELETE FROM trip_updates WHERE updated_at < $1`, now.Add(-2*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("evict trip updates: %w", err)
	}
	stats.TripUpdates = tag.RowsAffected()

	tag, err = d.pool.Exec(ctx,
		`DELETE FROM stop_time_updates WHERE trip_id NOT IN (SELECT trip_id FROM trip_updates)`)
	if err != nil {
		return stats, fmt.Errorf("evict orphan stop updates: %w", err)
	}
	stats.OrphanStopTimes = tag.RowsAffected()

	tag, err = d.pool.Exec(ctx, `DELETE FROM alerts WHERE active_period_end < $1`, now)
	if err != nil {
		return stats, fmt.Errorf("evict expired alerts: %w", err)
	}
	stats.ExpiredAlerts = tag.RowsAffected()

	tag, err = d.pool.Exec(ctx,
		`DELETE FROM alerts WHERE active_period_end IS NULL AND updated_at < $1 AND source != 'manual'`,
		now.Add(-12*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("evict abandoned alerts: %w", err)
	}
	stats.AbandonedAlerts = tag.RowsAffected()

	return stats, nil
}

func (d *DB) CleanupPlatformHistory(ctx context.Context, before time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM platform_history WHERE observation_date < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup platform history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (d *DB) RecordIngestRun(ctx context.Context, run store.IngestRunRow) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO ingest_runs (id, started_at, duration_ms, operators_ok, operators_ko, positions, trip_updates, alerts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.StartedAt, run.DurationMS, run.OperatorsOK, run.OperatorsKO,
		run.Positions, run.TripUpdates, run.Alerts)
	if err != nil {
		return fmt.Errorf("record ingest run: %w", err)
	}
	return nil
}

func (d *DB) RouteDelayStat(ctx context.Context, routeID string, hour int) (models.RouteDelayStat, error) {
	var stat models.RouteDelayStat
	err := d.pool.QueryRow(ctx, `
		SELECT route_id, hour_bucket, sample_count, mean_delay, std_dev
		FROM route_delay_stats WHERE route_id = $1 AND hour_bucket = $2`, routeID, hour).
		Scan(&stat.RouteID, &stat.HourBucket, &stat.Count, &stat.MeanDelay, &stat.StdDev)
	if errors.Is(err, pgx.ErrNoRows) {
		return stat, store.ErrNotFound
	}
	if err != nil {
		return stat, fmt.Errorf("route delay stat: %w", err)
	}
	return stat, nil
}

func (d *DB) UpsertRouteDelayStat(ctx context.Context, stat models.RouteDelayStat) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO route_delay_stats (route_id, hour_bucket, sample_count, mean_delay, std_dev)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (route_id, hour_bucket) DO UPDATE SET
			sample_count = EXCLUDED.sample_count, mean_delay = EXCLUDED.mean_delay, std_dev = EXCLUDED.std_dev`,
		stat.RouteID, stat.HourBucket, stat.Count, stat.MeanDelay, stat.StdDev)
	if err != nil {
		return fmt.Errorf("upsert route delay stat: %w", err)
	}
	return nil
}
