package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func exec(t *testing.T, db *DB, query string, args ...any) {
	t.Helper()
	_, err := db.conn.Exec(query, args...)
	require.NoError(t, err)
}

func seedSchedule(t *testing.T, db *DB) {
	t.Helper()
	exec(t, db, `INSERT INTO networks (code, name) VALUES ('RENFE', 'Renfe Cercanías'), ('METRO_BILBAO', 'Metro Bilbao')`)
	exec(t, db, `INSERT INTO stops (id, name, lat, lon, location_type, parent_station) VALUES
		('RENFE_17000', 'Atocha', 40.40, -3.69, 1, NULL),
		('RENFE_17000_P1', 'Atocha vía 1', 40.40, -3.69, 0, 'RENFE_17000'),
		('RENFE_18000', 'Chamartín', 40.47, -3.68, 0, NULL)`)
	exec(t, db, `INSERT INTO routes (id, short_name, color, network_id, type) VALUES
		('RENFE_C4_67', 'C4', '00B2A9', 'RENFE', 2)`)
	exec(t, db, `INSERT INTO trips (id, route_id, service_id, headsign, direction_id, shape_id) VALUES
		('T1', 'RENFE_C4_67', 'SVC_WEEK', 'Parla', 0, 'SH1'),
		('T2', 'RENFE_C4_67', 'SVC_WEEK', 'Colmenar Viejo', 1, NULL)`)
	exec(t, db, `INSERT INTO stop_times (trip_id, stop_sequence, stop_id, arrival_seconds, departure_seconds) VALUES
		('T1', 1, 'RENFE_17000_P1', 28800, 28800),
		('T1', 2, 'RENFE_18000', 29400, 29460),
		('T2', 1, 'RENFE_18000', 28900, 28900),
		('T2', 2, 'RENFE_17000_P1', 29500, 29500)`)
	exec(t, db, `INSERT INTO calendars (service_id, sunday, monday, tuesday, wednesday, thursday, friday, saturday, start_date, end_date)
		VALUES ('SVC_WEEK', 0, 1, 1, 1, 1, 1, 0, '2026-01-01', '2026-12-31')`)
	exec(t, db, `INSERT INTO shapes (shape_id, seq, lat, lon) VALUES ('SH1', 1, 40.40, -3.69), ('SH1', 2, 40.47, -3.68)`)
	exec(t, db, `INSERT INTO route_stops (route_id, seq, stop_id) VALUES
		('RENFE_C4_67', 1, 'RENFE_17000_P1'), ('RENFE_C4_67', 2, 'RENFE_18000')`)
}

func TestScheduledDeparturesExcludeTerminus(t *testing.T) {
	db := openTestDB(t)
	seedSchedule(t, db)
	ctx := context.Background()

	rows, err := db.ScheduledDepartures(ctx, store.ScheduledQuery{
		StopIDs:         []string{"RENFE_17000_P1"},
		MinDepartureSec: 28000,
		ServiceIDs:      []string{"SVC_WEEK"},
		Limit:           10,
	})
	require.NoError(t, err)

	// T2 ends at this platform: an arrival, not a departure.
	require.Len(t, rows, 1)
	assert.Equal(t, "T1", rows[0].TripID)
	assert.Equal(t, 28800, rows[0].DepartureSeconds)
	assert.Equal(t, "C4", rows[0].RouteShortName)
	require.NotNil(t, rows[0].TripHeadsign)
	assert.Equal(t, "Parla", *rows[0].TripHeadsign)
}

func TestScheduleSourceRoundTrip(t *testing.T) {
	db := openTestDB(t)
	seedSchedule(t, db)
	ctx := context.Background()

	stops, err := db.LoadStops(ctx)
	require.NoError(t, err)
	assert.Len(t, stops, 3)

	cals, err := db.LoadCalendars(ctx)
	require.NoError(t, err)
	require.Len(t, cals, 1)
	assert.False(t, cals[0].Weekdays[time.Sunday])
	assert.True(t, cals[0].Weekdays[time.Monday])
	assert.Equal(t, 2026, cals[0].StartDate.Year())

	var seen []string
	require.NoError(t, db.ForEachStopTime(ctx, func(st store.StopTimeRow) error {
		seen = append(seen, st.TripID)
		return nil
	}))
	// Streamed in (trip_id, stop_sequence) order.
	assert.Equal(t, []string{"T1", "T1", "T2", "T2"}, seen)
}

func TestTripUpdateEvictionCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Release()

	delay := 120
	old := now.Add(-3 * time.Hour)
	require.NoError(t, sess.UpsertTripUpdates(ctx, old, []store.TripUpdateRow{{
		TripID:    "T-OLD",
		DelaySecs: &delay,
		StopTimes: []store.StopTimeUpdateRow{{TripID: "T-OLD", StopID: "RENFE_17000_P1", ArrivalDelay: &delay}},
	}}))
	require.NoError(t, sess.UpsertTripUpdates(ctx, now, []store.TripUpdateRow{{
		TripID:    "T-FRESH",
		DelaySecs: &delay,
		StopTimes: []store.StopTimeUpdateRow{{TripID: "T-FRESH", StopID: "RENFE_17000_P1", ArrivalDelay: &delay}},
	}}))

	stats, err := db.EvictStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TripUpdates)

	updates, err := db.TripUpdatesFor(ctx, []string{"T-OLD", "T-FRESH"})
	require.NoError(t, err)
	assert.NotContains(t, updates, "T-OLD")
	assert.Contains(t, updates, "T-FRESH")

	// The cascade removed the old trip's stop updates too.
	stus, err := db.StopTimeUpdatesAtStop(ctx, "RENFE_17000_P1")
	require.NoError(t, err)
	require.Len(t, stus, 1)
	assert.Equal(t, "T-FRESH", stus[0].TripID)
}

func TestAlertEvictionRules(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Release()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	require.NoError(t, sess.UpsertAlerts(ctx, now.Add(-13*time.Hour), []store.AlertRow{
		{Alert: models.Alert{ID: "A-EXPIRED", ActivePeriodEnd: &past}, Source: "feed"},
		{Alert: models.Alert{ID: "A-ABANDONED"}, Source: "feed"},
		{Alert: models.Alert{ID: "A-MANUAL"}, Source: "manual"},
	}))
	require.NoError(t, sess.UpsertAlerts(ctx, now, []store.AlertRow{
		{Alert: models.Alert{ID: "A-LIVE", ActivePeriodEnd: &future}, Source: "feed"},
	}))

	stats, err := db.EvictStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ExpiredAlerts)
	assert.Equal(t, int64(1), stats.AbandonedAlerts)

	alerts, err := db.Alerts(ctx, now)
	require.NoError(t, err)
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	// Manual rows survive abandonment; the live alert stays.
	assert.ElementsMatch(t, []string{"A-LIVE", "A-MANUAL"}, ids)
}

func TestAlertStatePreservesEnrichment(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Release()

	sev, status := "high", "ongoing"
	require.NoError(t, sess.UpsertAlerts(ctx, now, []store.AlertRow{{
		Alert:  models.Alert{ID: "A1", Description: "vía cortada", Severity: &sev, Status: &status},
		Source: "feed",
	}}))

	states, err := sess.AlertStates(ctx, []string{"A1", "A2"})
	require.NoError(t, err)
	require.Contains(t, states, "A1")
	assert.NotContains(t, states, "A2")
	assert.Equal(t, "vía cortada", states["A1"].Description)
	require.NotNil(t, states["A1"].Severity)
	assert.Equal(t, "high", *states["A1"].Severity)
}

func TestPlatformHistoryAccumulates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 12, 8, 0, 0, 0, time.UTC)
	day := time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC)

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Release()

	row := store.SightingRow{StopID: "RENFE_17000", RouteShortName: "C4a", Headsign: "Parla", Platform: "8", Date: day, SeenAt: now}
	for i := 0; i < 3; i++ {
		require.NoError(t, sess.RecordPlatformSighting(ctx, row))
	}
	other := row
	other.Platform = "5"
	require.NoError(t, sess.RecordPlatformSighting(ctx, other))

	platform, count, err := db.TopPlatform(ctx, "RENFE_17000", "C4a")
	require.NoError(t, err)
	assert.Equal(t, "8", platform)
	assert.Equal(t, 3, count)

	_, _, err = db.TopPlatform(ctx, "RENFE_17000", "C3")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Everything is older than the cutoff: the cleanup empties the table.
	removed, err := db.CleanupPlatformHistory(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
}

func TestBackfillPlatformsFromPositions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := db.Session(ctx)
	require.NoError(t, err)
	defer sess.Release()

	tripID, stopID, platform := "T1", "RENFE_17000_P1", "3"
	require.NoError(t, sess.UpsertTripUpdates(ctx, now, []store.TripUpdateRow{{
		TripID:    tripID,
		StopTimes: []store.StopTimeUpdateRow{{TripID: tripID, StopID: stopID}},
	}}))
	require.NoError(t, sess.UpsertVehiclePositions(ctx, now, []store.VehiclePositionRow{{
		VehicleID: "V1", TripID: &tripID, StopID: &stopID, Platform: &platform, Status: "STOPPED_AT",
	}}))

	stops, err := db.PlatformlessStops(ctx, "RENFE_")
	require.NoError(t, err)
	assert.Equal(t, []string{stopID}, stops)

	filled, err := db.BackfillPlatforms(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), filled)

	stus, err := db.StopTimeUpdatesAtStop(ctx, stopID)
	require.NoError(t, err)
	require.Len(t, stus, 1)
	require.NotNil(t, stus[0].Platform)
	assert.Equal(t, "3", *stus[0].Platform)

	stops, err = db.PlatformlessStops(ctx, "RENFE_")
	require.NoError(t, err)
	assert.Empty(t, stops)
}

func TestRouteDelayStatUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.RouteDelayStat(ctx, "RENFE_C4_67", 8)
	assert.ErrorIs(t, err, store.ErrNotFound)

	stat := models.RouteDelayStat{RouteID: "RENFE_C4_67", HourBucket: 8, Count: 5, MeanDelay: 84.2, StdDev: 12.5}
	require.NoError(t, db.UpsertRouteDelayStat(ctx, stat))
	stat.Count = 6
	require.NoError(t, db.UpsertRouteDelayStat(ctx, stat))

	got, err := db.RouteDelayStat(ctx, "RENFE_C4_67", 8)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Count)

	all, err := db.RouteDelayStats(ctx, "RENFE_C4_67")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 8, all[0].HourBucket)
}

func TestMetadataReads(t *testing.T) {
	db := openTestDB(t)
	seedSchedule(t, db)
	ctx := context.Background()

	networks, err := db.Networks(ctx)
	require.NoError(t, err)
	assert.Len(t, networks, 2)

	_, err = db.Network(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)

	routes, err := db.RoutesForNetwork(ctx, "RENFE")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "C4", routes[0].ShortName)

	stops, err := db.RouteStopsDetailed(ctx, "RENFE_C4_67")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, "RENFE_17000_P1", stops[0].ID)

	shape, err := db.RouteShape(ctx, "RENFE_C4_67")
	require.NoError(t, err)
	assert.Len(t, shape, 2)

	trip, err := db.Trip(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Parla", trip.Headsign)
	require.Len(t, trip.StopTimes, 2)
	assert.Equal(t, "Atocha vía 1", trip.StopTimes[0].StopName)

	children, err := db.StopChildren(ctx, "RENFE_17000")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "RENFE_17000_P1", children[0].ID)

	found, err := db.SearchStops(ctx, "atocha", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestHeadwayCheckRejectsZero(t *testing.T) {
	db := openTestDB(t)
	_, err := db.conn.Exec(`INSERT INTO route_frequencies (route_id, day_type, start_seconds, end_seconds, headway_seconds)
		VALUES ('METRO_1__1', 'weekday', 0, 86400, 0)`)
	assert.Error(t, err)
}
