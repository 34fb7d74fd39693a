package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andenapp/anden/internal/config"
	"github.com/andenapp/anden/internal/departures"
	"github.com/andenapp/anden/internal/ids"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/planner"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

func strPtr(s string) *string { return &s }

// fixtureStore embeds the Store interface so only the slices the
// handlers under test touch need implementations.
type fixtureStore struct {
	store.Store

	scheduled []store.ScheduledDepartureRow
	alerts    []models.Alert
	pingErr   error
}

// ---- ScheduleSource ----

func (f *fixtureStore) LoadStops(context.Context) ([]models.Stop, error) {
	return []models.Stop{
		{ID: "RENFE_11511", Name: "Atocha Cercanías", Lat: 40.406, Lon: -3.690},
		{ID: "RENFE_17000", Name: "Chamartín", Lat: 40.472, Lon: -3.682},
	}, nil
}

func (f *fixtureStore) LoadRoutes(context.Context) ([]models.Route, error) {
	return []models.Route{
		{ID: "RENFE_C1_5", ShortName: "C1", Type: 2, NetworkID: "renfe", Color: "75B0DC"},
	}, nil
}

func (f *fixtureStore) LoadCalendars(context.Context) ([]store.CalendarRow, error) {
	return []store.CalendarRow{{
		ServiceID: "SVC",
		Weekdays:  [7]bool{true, true, true, true, true, true, true},
		StartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC),
	}}, nil
}

func (f *fixtureStore) LoadCalendarDates(context.Context) ([]store.CalendarDateRow, error) {
	return nil, nil
}

func (f *fixtureStore) LoadTrips(context.Context) ([]models.Trip, error) {
	return []models.Trip{
		{ID: "T-100", RouteID: "RENFE_C1_5", ServiceID: "SVC", Headsign: "Chamartín"},
	}, nil
}

func (f *fixtureStore) ForEachStopTime(_ context.Context, fn func(store.StopTimeRow) error) error {
	rows := []store.StopTimeRow{
		{TripID: "T-100", StopSequence: 1, StopID: "RENFE_11511", ArrivalSeconds: 36000, DepartureSeconds: 36000},
		{TripID: "T-100", StopSequence: 2, StopID: "RENFE_17000", ArrivalSeconds: 37200, DepartureSeconds: 37200},
	}
	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fixtureStore) LoadTransfers(context.Context) ([]models.Correspondence, error) {
	return nil, nil
}

// ---- MetadataReader slice ----

func (f *fixtureStore) Networks(context.Context) ([]models.Network, error) {
	return []models.Network{{Code: "renfe", Name: "Renfe Cercanías"}}, nil
}

func (f *fixtureStore) Route(_ context.Context, id string) (models.Route, error) {
	if id != "RENFE_C1_5" {
		return models.Route{}, store.ErrNotFound
	}
	return models.Route{ID: "RENFE_C1_5", ShortName: "C1", Type: 2, NetworkID: "renfe"}, nil
}

func (f *fixtureStore) RouteFrequencies(_ context.Context, routeID string) ([]store.FrequencyRow, error) {
	return []store.FrequencyRow{
		{RouteID: routeID, DayType: "weekday", StartSec: 21600, EndSec: 82800, HeadwaySecs: 600},
	}, nil
}

func (f *fixtureStore) SearchStops(_ context.Context, q string, limit int) ([]models.Stop, error) {
	return []models.Stop{{ID: "RENFE_11511", Name: "Atocha Cercanías"}}, nil
}

func (f *fixtureStore) Stop(_ context.Context, id string) (models.Stop, error) {
	if id != "RENFE_11511" {
		return models.Stop{}, store.ErrNotFound
	}
	return models.Stop{ID: "RENFE_11511", Name: "Atocha Cercanías"}, nil
}

// ---- DepartureReader slice ----

func (f *fixtureStore) ScheduledDepartures(context.Context, store.ScheduledQuery) ([]store.ScheduledDepartureRow, error) {
	return f.scheduled, nil
}

func (f *fixtureStore) TripUpdatesFor(context.Context, []string) (map[string]store.TripUpdateRow, error) {
	return map[string]store.TripUpdateRow{}, nil
}

func (f *fixtureStore) StopTimeUpdatesFor(context.Context, []string, []string) ([]store.StopTimeUpdateRow, error) {
	return nil, nil
}

func (f *fixtureStore) VehiclePositionsFor(context.Context, []string) (map[string]store.VehiclePositionRow, error) {
	return map[string]store.VehiclePositionRow{}, nil
}

func (f *fixtureStore) VehiclePositionsAtStops(context.Context, []string) ([]store.VehiclePositionRow, error) {
	return nil, nil
}

func (f *fixtureStore) RoutesServingStops(context.Context, []string) ([]string, error) {
	return []string{"RENFE_C1_5"}, nil
}

func (f *fixtureStore) FrequenciesFor(context.Context, []string, string) ([]store.FrequencyRow, error) {
	return nil, nil
}

func (f *fixtureStore) ActiveAlertsForRoutes(context.Context, []string, time.Time) ([]models.Alert, error) {
	return f.alerts, nil
}

func (f *fixtureStore) TopPlatform(context.Context, string, string) (string, int, error) {
	return "", 0, store.ErrNotFound
}

func (f *fixtureStore) RouteDelayStat(context.Context, string, int) (models.RouteDelayStat, error) {
	return models.RouteDelayStat{}, store.ErrNotFound
}

func (f *fixtureStore) Ping(context.Context) error { return f.pingErr }

// ---- harness ----

func newTestServer(t *testing.T, db *fixtureStore, load bool) (*Server, *schedule.Store) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.AdminToken = "test-token"

	sched := schedule.NewStore()
	if load {
		require.NoError(t, sched.Load(context.Background(), db))
	}
	norm := ids.NewNormalizer(cfg.KnownPrefixes(), ids.DefaultAliases(), ids.MadridVariants())
	deps := departures.NewEngine(sched, db, norm)
	pl := planner.New(sched, db)
	return New(cfg, db, sched, deps, pl, nil), sched
}

func doRequest(t *testing.T, s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestRouteLookup(t *testing.T) {
	srv, _ := newTestServer(t, &fixtureStore{}, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/routes/RENFE_C1_5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var route models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &route))
	assert.Equal(t, "C1", route.ShortName)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=")

	rec = doRequest(t, srv, http.MethodGet, "/api/routes/RENFE_C9_9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadinessFlipsAfterLoad(t *testing.T) {
	db := &fixtureStore{}
	srv, sched := newTestServer(t, db, false)

	rec := doRequest(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/stops/RENFE_11511/departures", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, sched.Load(context.Background(), db))

	rec = doRequest(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeparturesEndpoint(t *testing.T) {
	db := &fixtureStore{
		scheduled: []store.ScheduledDepartureRow{{
			TripID:           "T-100",
			StopID:           "RENFE_11511",
			StopSequence:     1,
			DepartureSeconds: 86000,
			RouteID:          "RENFE_C1_5",
			RouteShortName:   "C1",
			TripHeadsign:     strPtr("Chamartín"),
			ServiceID:        "SVC",
		}},
	}
	srv, _ := newTestServer(t, db, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/stops/RENFE_11511/departures", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.DeparturesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RENFE_11511", resp.StopID)
	assert.Equal(t, "Atocha Cercanías", resp.StopName)
	require.Len(t, resp.Departures, 1)
	assert.Equal(t, "C1", resp.Departures[0].RouteShortName)

	rec = doRequest(t, srv, http.MethodGet, "/api/stops/RENFE_99999/departures", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanValidation(t *testing.T) {
	srv, _ := newTestServer(t, &fixtureStore{}, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/plan?from=RENFE_11511", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/plan?from=RENFE_11511&to=RENFE_17000&time=banana", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/plan?from=RENFE_11511&to=RENFE_17000&time=09:30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.PlanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestStopSearchRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t, &fixtureStore{}, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/stops", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/stops?q=atocha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stops []models.Stop
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stops))
	assert.Len(t, stops, 1)
}

func TestRouteHours(t *testing.T) {
	srv, _ := newTestServer(t, &fixtureStore{}, true)

	rec := doRequest(t, srv, http.MethodGet, "/api/routes/RENFE_C1_5/hours", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var windows []models.OperatingWindow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &windows))
	require.Len(t, windows, 1)
	assert.Equal(t, "weekday", windows[0].DayType)
	assert.Equal(t, 21600, windows[0].FirstSeconds)
	assert.Equal(t, 82800, windows[0].LastSeconds)
}

func TestHealthReflectsPing(t *testing.T) {
	db := &fixtureStore{}
	srv, _ := newTestServer(t, db, true)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	db.pingErr = context.DeadlineExceeded
	rec = doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminReload(t *testing.T) {
	db := &fixtureStore{}
	srv, sched := newTestServer(t, db, false)

	rec := doRequest(t, srv, http.MethodPost, "/admin/reload", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/admin/reload", map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/admin/reload", map[string]string{"X-Admin-Token": "test-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sched.Loaded())

	srv.cfg.AdminToken = ""
	rec = doRequest(t, srv, http.MethodPost, "/admin/reload", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fixtureStore{}, true)
	srv.status = func() []models.OperatorStatus {
		return []models.OperatorStatus{{Operator: "renfe", Enabled: true}}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.ScheduleLoaded)
	require.Len(t, resp.Operators, 1)
	assert.Equal(t, "renfe", resp.Operators[0].Operator)
}
