package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

// session shares the single SQLite connection; Release is a no-op here
// because the write mutex already serializes workers.
type session struct {
	db *DB
}

func (d *DB) Session(context.Context) (store.Session, error) {
	return &session{db: d}, nil
}

func (s *session) Release() {}

func (s *session) UpsertVehiclePositions(ctx context.Context, now time.Time, rows []store.VehiclePositionRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_positions (vehicle_id, trip_id, lat, lon, status, stop_id, label, platform, vehicle_timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vehicle_id) DO UPDATE SET
			trip_id = excluded.trip_id, lat = excluded.lat, lon = excluded.lon,
			status = excluded.status, stop_id = excluded.stop_id, label = excluded.label,
			platform = excluded.platform, vehicle_timestamp = excluded.vehicle_timestamp,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare positions: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.VehicleID, r.TripID, r.Lat, r.Lon, r.Status,
			r.StopID, r.Label, r.Platform, fmtTimePtr(r.Timestamp), fmtTime(now)); err != nil {
			return fmt.Errorf("upsert position %s: %w", r.VehicleID, err)
		}
	}
	return tx.Commit()
}

func (s *session) UpsertTripUpdates(ctx context.Context, now time.Time, rows []store.TripUpdateRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin updates tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trip_updates (trip_id, delay_seconds, vehicle_id, feed_timestamp, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(trip_id) DO UPDATE SET
				delay_seconds = excluded.delay_seconds, vehicle_id = excluded.vehicle_id,
				feed_timestamp = excluded.feed_timestamp, updated_at = excluded.updated_at`,
			r.TripID, r.DelaySecs, r.VehicleID, fmtTimePtr(r.Timestamp), fmtTime(now)); err != nil {
			return fmt.Errorf("upsert trip update %s: %w", r.TripID, err)
		}
		// Replace the trip's stop_time_updates wholesale.
		if _, err := tx.ExecContext(ctx, `DELETE FROM stop_time_updates WHERE trip_id = ?`, r.TripID); err != nil {
			return fmt.Errorf("clear stop updates %s: %w", r.TripID, err)
		}
		for _, stu := range r.StopTimes {
			perCar, err := encodePerCar(stu.OccupancyPerCar)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stop_time_updates (trip_id, stop_id, stop_sequence, arrival_delay, arrival_time,
					departure_delay, departure_time, platform, occupancy_percent, occupancy_per_car, headsign)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(trip_id, stop_id) DO UPDATE SET
					stop_sequence = excluded.stop_sequence, arrival_delay = excluded.arrival_delay,
					arrival_time = excluded.arrival_time, departure_delay = excluded.departure_delay,
					departure_time = excluded.departure_time, platform = excluded.platform,
					occupancy_percent = excluded.occupancy_percent, occupancy_per_car = excluded.occupancy_per_car,
					headsign = excluded.headsign`,
				stu.TripID, stu.StopID, stu.StopSequence, stu.ArrivalDelay, fmtTimePtr(stu.ArrivalTime),
				stu.DepartureDelay, fmtTimePtr(stu.DepartureTime), stu.Platform,
				stu.OccupancyPercent, perCar, stu.Headsign); err != nil {
				return fmt.Errorf("upsert stop update %s/%s: %w", stu.TripID, stu.StopID, err)
			}
		}
	}
	return tx.Commit()
}

func (s *session) AlertStates(ctx context.Context, ids []string) (map[string]store.AlertState, error) {
	if len(ids) == 0 {
		return map[string]store.AlertState{}, nil
	}
	query := fmt.Sprintf(`
		SELECT id, description, ai_severity, ai_status, ai_summary, ai_affected_segments
		FROM alerts WHERE id IN (%s)`, placeholders(len(ids)))
	rows, err := s.db.conn.QueryContext(ctx, query, toAny(ids)...)
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
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alerts tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		entities, err := json.Marshal(r.InformedEntities)
		if err != nil {
			return fmt.Errorf("encode informed entities %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (id, cause, effect, header, description, url, active_period_start,
				active_period_end, informed_entities, source, ai_severity, ai_status, ai_summary,
				ai_affected_segments, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				cause = excluded.cause, effect = excluded.effect, header = excluded.header,
				description = excluded.description, url = excluded.url,
				active_period_start = excluded.active_period_start,
				active_period_end = excluded.active_period_end,
				informed_entities = excluded.informed_entities, source = excluded.source,
				ai_severity = excluded.ai_severity, ai_status = excluded.ai_status,
				ai_summary = excluded.ai_summary, ai_affected_segments = excluded.ai_affected_segments,
				updated_at = excluded.updated_at`,
			r.ID, r.Cause, r.Effect, r.Header, r.Description, r.URL,
			fmtTimePtr(r.ActivePeriodStart), fmtTimePtr(r.ActivePeriodEnd),
			string(entities), r.Source, r.Severity, r.Status, r.Summary, r.AffectedSegments,
			fmtTime(now)); err != nil {
			return fmt.Errorf("upsert alert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *session) RecordPlatformSighting(ctx context.Context, row store.SightingRow) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO platform_history (stop_id, route_short_name, headsign, platform, observation_date, count, last_seen_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(stop_id, route_short_name, headsign, platform, observation_date) DO UPDATE SET
			count = count + 1, last_seen_at = excluded.last_seen_at`,
		row.StopID, row.RouteShortName, row.Headsign, row.Platform, fmtDate(row.Date), fmtTime(row.SeenAt))
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// ---- orchestrator side ----

func (d *DB) EvictStale(ctx context.Context, now time.Time) (store.EvictStats, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	var stats store.EvictStats
	cutoff := fmtTime(now.Add(-2 * time.Hour))

	res, err := d.conn.ExecContext(ctx, `DELETE FROM trip_updates WHERE updated_at < ?`, cutoff)
	if err != nil {
		return stats, fmt.Errorf("evict trip updates: %w", err)
	}
	stats.TripUpdates, _ = res.RowsAffected()

	res, err = d.conn.ExecContext(ctx,
		`DELETE FROM stop_time_updates WHERE trip_id NOT IN (SELECT trip_id FROM trip_updates)`)
	if err != nil {
		return stats, fmt.Errorf("evict orphan stop updates: %w", err)
	}
	stats.OrphanStopTimes, _ = res.RowsAffected()

	res, err = d.conn.ExecContext(ctx, `DELETE FROM alerts WHERE active_period_end < ?`, fmtTime(now))
	if err != nil {
		return stats, fmt.Errorf("evict expired alerts: %w", err)
	}
	stats.ExpiredAlerts, _ = res.RowsAffected()

	res, err = d.conn.ExecContext(ctx,
		`DELETE FROM alerts WHERE active_period_end IS NULL AND updated_at < ? AND source != 'manual'`,
		fmtTime(now.Add(-12*time.Hour)))
	if err != nil {
		return stats, fmt.Errorf("evict abandoned alerts: %w", err)
	}
	stats.AbandonedAlerts, _ = res.RowsAffected()

	return stats, nil
}

func (d *DB) CleanupPlatformHistory(ctx context.Context, before time.Time) (int64, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	res, err := d.conn.ExecContext(ctx, `DELETE FROM platform_history WHERE observation_date < ?`, fmtDate(before))
	if err != nil {
		return 0, fmt.Errorf("cleanup platform history: %w", err)
	}
	return res.RowsAffected()
}

func (d *DB) RecordIngestRun(ctx context.Context, run store.IngestRunRow) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, started_at, duration_ms, operators_ok, operators_ko, positions, trip_updates, alerts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, fmtTime(run.StartedAt), run.DurationMS, run.OperatorsOK, run.OperatorsKO,
		run.Positions, run.TripUpdates, run.Alerts)
	if err != nil {
		return fmt.Errorf("record ingest run: %w", err)
	}
	return nil
}

func (d *DB) RouteDelayStat(ctx context.Context, routeID string, hour int) (models.RouteDelayStat, error) {
	var stat models.RouteDelayStat
	err := d.conn.QueryRowContext(ctx, `
		SELECT route_id, hour_bucket, sample_count, mean_delay, std_dev
		FROM route_delay_stats WHERE route_id = ? AND hour_bucket = ?`, routeID, hour).
		Scan(&stat.RouteID, &stat.HourBucket, &stat.Count, &stat.MeanDelay, &stat.StdDev)
	if errors.Is(err, sql.ErrNoRows) {
		return stat, store.ErrNotFound
	}
	if err != nil {
		return stat, fmt.Errorf("route delay stat: %w", err)
	}
	return stat, nil
}

func (d *DB) UpsertRouteDelayStat(ctx context.Context, stat models.RouteDelayStat) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO route_delay_stats (route_id, hour_bucket, sample_count, mean_delay, std_dev)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(route_id, hour_bucket) DO UPDATE SET
			sample_count = excluded.sample_count, mean_delay = excluded.mean_delay, std_dev = excluded.std_dev`,
		stat.RouteID, stat.HourBucket, stat.Count, stat.MeanDelay, stat.StdDev)
	if err != nil {
		return fmt.Errorf("upsert route delay stat: %w", err)
	}
	return nil
}

// ---- shared helpers ----

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func encodePerCar(perCar []int) (*string, error) {
	if len(perCar) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(perCar)
	if err != nil {
		return nil, fmt.Errorf("encode occupancy per car: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodePerCar(s *string) []int {
	if s == nil || *s == "" {
		return nil
	}
	var out []int
	if err := json.Unmarshal([]byte(*s), &out); err != nil {
		return nil
	}
	return out
}
