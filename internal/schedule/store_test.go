package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

// fakeSource feeds the loader from slices.
type fakeSource struct {
	stops     []models.Stop
	routes    []models.Route
	calendars []store.CalendarRow
	dates     []store.CalendarDateRow
	trips     []models.Trip
	stopTimes []store.StopTimeRow
	transfers []models.Correspondence
}

func (f *fakeSource) LoadStops(ctx context.Context) ([]models.Stop, error)   { return f.stops, nil }
func (f *fakeSource) LoadRoutes(ctx context.Context) ([]models.Route, error) { return f.routes, nil }
func (f *fakeSource) LoadCalendars(ctx context.Context) ([]store.CalendarRow, error) {
	return f.calendars, nil
}
func (f *fakeSource) LoadCalendarDates(ctx context.Context) ([]store.CalendarDateRow, error) {
	return f.dates, nil
}
func (f *fakeSource) LoadTrips(ctx context.Context) ([]models.Trip, error) { return f.trips, nil }
func (f *fakeSource) ForEachStopTime(ctx context.Context, fn func(store.StopTimeRow) error) error {
	for _, row := range f.stopTimes {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeSource) LoadTransfers(ctx context.Context) ([]models.Correspondence, error) {
	return f.transfers, nil
}

func ptr[T any](v T) *T { return &v }

func allWeek() [7]bool {
	return [7]bool{true, true, true, true, true, true, true}
}

func testSource() *fakeSource {
	return &fakeSource{
		stops: []models.Stop{
			{ID: "RENFE_17000", Name: "Atocha", Lat: 40.4, Lon: -3.69, LocationType: 1},
			{ID: "RENFE_17000_1", Name: "Atocha Vía 1", LocationType: 0, ParentStation: ptr("RENFE_17000")},
			{ID: "RENFE_17000_2", Name: "Atocha Vía 2", LocationType: 0, ParentStation: ptr("RENFE_17000")},
			{ID: "RENFE_18000", Name: "Chamartín", LocationType: 0},
			{ID: "RENFE_19000", Name: "Nuevos Ministerios", LocationType: 0},
		},
		routes: []models.Route{
			{ID: "RENFE_C4_67", ShortName: "C4", Color: "004E98"},
		},
		calendars: []store.CalendarRow{
			{
				ServiceID: "S1",
				Weekdays:  allWeek(),
				StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
			},
		},
		trips: []models.Trip{
			{ID: "R100", RouteID: "RENFE_C4_67", ServiceID: "S1", Headsign: "Chamartín"},
			{ID: "R200", RouteID: "RENFE_C4_67", ServiceID: "S1", Headsign: "Chamartín"},
			{ID: "R050", RouteID: "RENFE_C4_67", ServiceID: "S2", Headsign: "Chamartín"},
		},
		stopTimes: []store.StopTimeRow{
			{TripID: "R050", StopSequence: 1, StopID: "RENFE_17000_1", ArrivalSeconds: 28800, DepartureSeconds: 28800},
			{TripID: "R050", StopSequence: 2, StopID: "RENFE_18000", ArrivalSeconds: 29400, DepartureSeconds: 29460},
			{TripID: "R100", StopSequence: 1, StopID: "RENFE_17000_1", ArrivalSeconds: 28800, DepartureSeconds: 28800},
			{TripID: "R100", StopSequence: 2, StopID: "RENFE_19000", ArrivalSeconds: 29100, DepartureSeconds: 29160},
			{TripID: "R100", StopSequence: 3, StopID: "RENFE_18000", ArrivalSeconds: 29400, DepartureSeconds: 29460},
			{TripID: "R200", StopSequence: 1, StopID: "RENFE_17000_1", ArrivalSeconds: 30600, DepartureSeconds: 30600},
			{TripID: "R200", StopSequence: 2, StopID: "RENFE_18000", ArrivalSeconds: 31200, DepartureSeconds: 31260},
		},
		transfers: []models.Correspondence{
			{FromStopID: "RENFE_18000", ToStopID: "RENFE_19000", WalkTimeSec: ptr(300)},
			{FromStopID: "RENFE_18000", ToStopID: "RENFE_18000", WalkTimeSec: ptr(120)}, // self loop, dropped
			{FromStopID: "RENFE_19000", ToStopID: "RENFE_18000", DistanceM: ptr(360.0)}, // 300 s at 1.2 m/s
		},
	}
}

func loadStore(t *testing.T, src *fakeSource) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.Load(context.Background(), src))
	return s
}

func TestNotLoaded(t *testing.T) {
	s := NewStore()
	_, err := s.Snapshot()
	require.ErrorIs(t, err, ErrNotLoaded)
	require.False(t, s.Loaded())
}

func TestLoadBuildsIndices(t *testing.T) {
	s := loadStore(t, testSource())
	snap, err := s.Snapshot()
	require.NoError(t, err)

	info, ok := snap.Stop("RENFE_17000")
	require.True(t, ok)
	require.Equal(t, "Atocha", info.Name)
	require.Equal(t, 1, info.LocationType)

	require.ElementsMatch(t, []string{"RENFE_17000_1", "RENFE_17000_2"}, snap.Children("RENFE_17000"))
	require.Equal(t, []string{"RENFE_C4_67"}, snap.RoutesAtStop("RENFE_18000"))

	calls := snap.StopTimes("R100")
	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		require.Greater(t, calls[i].ArrivalSec, calls[i-1].ArrivalSec)
	}

	// Canonical route order comes from the longest trip.
	require.Equal(t, []string{"RENFE_17000_1", "RENFE_19000", "RENFE_18000"}, snap.RouteStops("RENFE_C4_67"))
	require.Equal(t, 1, snap.StopPositionOnRoute("RENFE_C4_67", "RENFE_19000"))
	require.Equal(t, -1, snap.StopPositionOnRoute("RENFE_C4_67", "RENFE_99999"))
}

func TestTransferInvariants(t *testing.T) {
	s := loadStore(t, testSource())
	snap, _ := s.Snapshot()

	out := snap.Transfers("RENFE_18000")
	require.Len(t, out, 1)
	require.Equal(t, "RENFE_19000", out[0].ToStopID)
	require.Equal(t, 300, out[0].WalkSeconds)

	back := snap.Transfers("RENFE_19000")
	require.Len(t, back, 1)
	require.Equal(t, 300, back[0].WalkSeconds)
}

func TestActiveServices(t *testing.T) {
	src := testSource()
	// S2 only runs via an added exception on one date; S1 is removed there.
	src.dates = []store.CalendarDateRow{
		{ServiceID: "S2", Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), ExceptionType: 1},
		{ServiceID: "S1", Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), ExceptionType: 2},
	}
	s := loadStore(t, src)
	snap, _ := s.Snapshot()

	normal := snap.ActiveServices(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.Contains(t, normal, "S1")
	require.NotContains(t, normal, "S2")

	exceptional := snap.ActiveServices(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	require.Contains(t, exceptional, "S2")
	require.NotContains(t, exceptional, "S1")

	// Outside the calendar validity window nothing runs.
	past := snap.ActiveServices(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	require.Empty(t, past)
}

func TestEarliestTrip(t *testing.T) {
	s := loadStore(t, testSource())
	snap, _ := s.Snapshot()

	active := map[string]struct{}{"S1": {}}

	// R050 and R100 tie at 28800; R050 sorts first lexicographically but
	// its service is inactive, so R100 wins.
	tripID, ok := snap.EarliestTrip("RENFE_C4_67", 28800, active)
	require.True(t, ok)
	require.Equal(t, "R100", tripID)

	tripID, ok = snap.EarliestTrip("RENFE_C4_67", 28801, active)
	require.True(t, ok)
	require.Equal(t, "R200", tripID)

	_, ok = snap.EarliestTrip("RENFE_C4_67", 40000, active)
	require.False(t, ok)

	both := map[string]struct{}{"S1": {}, "S2": {}}
	tripID, ok = snap.EarliestTrip("RENFE_C4_67", 0, both)
	require.True(t, ok)
	require.Equal(t, "R050", tripID, "equal departures resolve by trip ID")
}

func TestEarliestTripPastMidnight(t *testing.T) {
	src := testSource()
	src.trips = append(src.trips, models.Trip{ID: "R900", RouteID: "RENFE_C4_67", ServiceID: "S1"})
	// 86400 is a valid past-midnight departure and must sort after all
	// same-day trips.
	src.stopTimes = append(src.stopTimes,
		store.StopTimeRow{TripID: "R900", StopSequence: 1, StopID: "RENFE_17000_1", ArrivalSeconds: 86400, DepartureSeconds: 86400},
		store.StopTimeRow{TripID: "R900", StopSequence: 2, StopID: "RENFE_18000", ArrivalSeconds: 87000, DepartureSeconds: 87000},
	)
	s := loadStore(t, src)
	snap, _ := s.Snapshot()

	tripID, ok := snap.EarliestTrip("RENFE_C4_67", 31000, map[string]struct{}{"S1": {}})
	require.True(t, ok)
	require.Equal(t, "R900", tripID)
}

func TestResolvePlatforms(t *testing.T) {
	src := testSource()
	src.stops = append(src.stops,
		models.Stop{ID: "TMB_METRO_1.111", Name: "Espanya andana"},
		models.Stop{ID: "FGC_PC", Name: "Plaça Catalunya", LocationType: 1},
		models.Stop{ID: "FGC_PC1", Name: "Plaça Catalunya Vía 1"},
		models.Stop{ID: "FGC_PC2", Name: "Plaça Catalunya Vía 2"},
	)
	s := loadStore(t, src)
	snap, _ := s.Snapshot()

	require.ElementsMatch(t, []string{"RENFE_17000_1", "RENFE_17000_2"}, snap.ResolvePlatforms("RENFE_17000"))
	require.Equal(t, []string{"RENFE_18000"}, snap.ResolvePlatforms("RENFE_18000"))
	require.Equal(t, []string{"TMB_METRO_1.111"}, snap.ResolvePlatforms("TMB_METRO_P.6660111"))
	require.ElementsMatch(t, []string{"FGC_PC", "FGC_PC1", "FGC_PC2"}, snap.ResolvePlatforms("FGC_PC"))
	require.Nil(t, snap.ResolvePlatforms("NOPE_1"))
}

func TestReloadSwapsSnapshot(t *testing.T) {
	src := testSource()
	s := loadStore(t, src)
	old, _ := s.Snapshot()

	src.stops = append(src.stops, models.Stop{ID: "RENFE_20000", Name: "Sol"})
	require.NoError(t, s.Load(context.Background(), src))

	fresh, _ := s.Snapshot()
	require.NotSame(t, old, fresh)

	// The old snapshot still answers; the new one sees the new stop.
	_, ok := old.Stop("RENFE_20000")
	require.False(t, ok)
	_, ok = fresh.Stop("RENFE_20000")
	require.True(t, ok)
}
