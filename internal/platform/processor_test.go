package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andenapp/anden/internal/ids"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/realtime/visor"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

type fakePlatformStore struct {
	backfilled  int64
	platformless []string
	updates     map[string][]store.StopTimeUpdateRow

	setCalls  []string
	sightings []store.SightingRow
}

func (f *fakePlatformStore) BackfillPlatforms(context.Context) (int64, error) {
	return f.backfilled, nil
}

func (f *fakePlatformStore) PlatformlessStops(_ context.Context, prefix string) ([]string, error) {
	return f.platformless, nil
}

func (f *fakePlatformStore) StopTimeUpdatesAtStop(_ context.Context, stopID string) ([]store.StopTimeUpdateRow, error) {
	return f.updates[stopID], nil
}

func (f *fakePlatformStore) SetStopTimeUpdatePlatform(_ context.Context, tripID, stopID, platform string) error {
	f.setCalls = append(f.setCalls, fmt.Sprintf("%s/%s=%s", tripID, stopID, platform))
	return nil
}

func (f *fakePlatformStore) TopPlatform(context.Context, string, string) (string, int, error) {
	return "", 0, store.ErrNotFound
}

func (f *fakePlatformStore) Session(context.Context) (store.Session, error) {
	return &sightingSession{sink: f}, nil
}

type sightingSession struct {
	sink *fakePlatformStore
}

func (s *sightingSession) UpsertVehiclePositions(context.Context, time.Time, []store.VehiclePositionRow) error {
	return nil
}
func (s *sightingSession) UpsertTripUpdates(context.Context, time.Time, []store.TripUpdateRow) error {
	return nil
}
func (s *sightingSession) AlertStates(context.Context, []string) (map[string]store.AlertState, error) {
	return nil, nil
}
func (s *sightingSession) UpsertAlerts(context.Context, time.Time, []store.AlertRow) error {
	return nil
}
func (s *sightingSession) RecordPlatformSighting(_ context.Context, row store.SightingRow) error {
	s.sink.sightings = append(s.sink.sightings, row)
	return nil
}
func (s *sightingSession) Release() {}

func strPtr(s string) *string { return &s }

func TestVisorFallbackFillsPlatforms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/17000.json", r.URL.Path)
		fmt.Fprint(w, `{"salidas":[
			{"tripId":"2721C4C6","linea":"C4","destino":"Parla","via":"8","horaSalida":"17:42"},
			{"tripId":"2722C4C6","linea":"C4","destino":"Colmenar Viejo","via":"","horaSalida":"17:47"}
		]}`)
	}))
	defer srv.Close()

	db := &fakePlatformStore{
		platformless: []string{"RENFE_17000"},
		updates: map[string][]store.StopTimeUpdateRow{
			"RENFE_17000": {
				{TripID: "2721C4C6", StopID: "RENFE_17000"},
				{TripID: "2722C4C6", StopID: "RENFE_17000"}, // board row has no platform
				{TripID: "2723C4C6", StopID: "RENFE_17000", Platform: strPtr("5")},
			},
		},
	}
	norm := ids.NewNormalizer([]string{"RENFE"}, nil, nil)
	recorder := NewRecorder(schedule.NewStore(), norm)
	p := NewProcessor(db, visor.New(srv.URL, time.Second), recorder)

	p.Process(context.Background(), time.Date(2026, 5, 12, 17, 40, 0, 0, time.UTC))

	// Only the platformless update with a matching board row is touched.
	require.Len(t, db.setCalls, 1)
	assert.Equal(t, "2721C4C6/RENFE_17000=8", db.setCalls[0])

	// The visor observation lands in the history under the board's line,
	// but with no schedule loaded the trip resolves to no route: nothing
	// recorded.
	assert.Empty(t, db.sightings)
}

func TestVisorFallbackRecordsSightings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"salidas":[{"tripId":"T-100","linea":"C1","destino":"Irun","via":"3","horaSalida":"09:10"}]}`)
	}))
	defer srv.Close()

	db := &fakePlatformStore{
		platformless: []string{"RENFE_11511"},
		updates: map[string][]store.StopTimeUpdateRow{
			"RENFE_11511": {{TripID: "T-100", StopID: "RENFE_11511"}},
		},
	}

	src := &boardSource{}
	sched := schedule.NewStore()
	require.NoError(t, sched.Load(context.Background(), src))

	norm := ids.NewNormalizer([]string{"RENFE"}, nil, nil)
	recorder := NewRecorder(sched, norm)
	p := NewProcessor(db, visor.New(srv.URL, time.Second), recorder)

	p.Process(context.Background(), time.Date(2026, 5, 12, 9, 5, 0, 0, time.UTC))

	require.Len(t, db.setCalls, 1)
	require.Len(t, db.sightings, 1)
	s := db.sightings[0]
	assert.Equal(t, "RENFE_11511", s.StopID)
	assert.Equal(t, "C1", s.RouteShortName)
	assert.Equal(t, "Irun", s.Headsign)
	assert.Equal(t, "3", s.Platform)
}

// boardSource is a minimal static schedule: one Renfe trip so visor
// sightings can resolve a route and headsign.
type boardSource struct{}

func (boardSource) LoadStops(context.Context) ([]models.Stop, error) {
	return []models.Stop{{ID: "RENFE_11511", Name: "Pasaia"}}, nil
}

func (boardSource) LoadRoutes(context.Context) ([]models.Route, error) {
	return []models.Route{{ID: "RENFE_C1_5", ShortName: "C1", NetworkID: "RENFE"}}, nil
}

func (boardSource) LoadCalendars(context.Context) ([]store.CalendarRow, error) {
	return []store.CalendarRow{{
		ServiceID: "RENFE_WEEK",
		Weekdays:  [7]bool{true, true, true, true, true, true, true},
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}}, nil
}

func (boardSource) LoadCalendarDates(context.Context) ([]store.CalendarDateRow, error) {
	return nil, nil
}

func (boardSource) LoadTrips(context.Context) ([]models.Trip, error) {
	return []models.Trip{{ID: "T-100", RouteID: "RENFE_C1_5", ServiceID: "RENFE_WEEK", Headsign: "Irun"}}, nil
}

func (boardSource) ForEachStopTime(_ context.Context, fn func(store.StopTimeRow) error) error {
	return fn(store.StopTimeRow{TripID: "T-100", StopID: "RENFE_11511", StopSequence: 1, ArrivalSeconds: 33000, DepartureSeconds: 33000})
}

func (boardSource) LoadTransfers(context.Context) ([]models.Correspondence, error) {
	return nil, nil
}

func TestBackfillOnlyWhenNoVisor(t *testing.T) {
	db := &fakePlatformStore{backfilled: 4, platformless: []string{"RENFE_17000"}}
	p := NewProcessor(db, nil, nil)
	p.Process(context.Background(), time.Now())
	assert.Empty(t, db.setCalls)
}
