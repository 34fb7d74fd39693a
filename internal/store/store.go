// Package store defines the persistence contract: the relational tables
// behind the schedule snapshot, the real-time state written by the
// ingestion engine, and the read queries behind departures and metadata.
// Two implementations exist: postgres (production) and sqlitedb
// (development and tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/andenapp/anden/internal/models"
)

var ErrNotFound = errors.New("not found")

// ---- row types ----

type CalendarRow struct {
	ServiceID string
	Weekdays  [7]bool // indexed by time.Weekday (Sunday = 0)
	StartDate time.Time
	EndDate   time.Time
}

type CalendarDateRow struct {
	ServiceID     string
	Date          time.Time
	ExceptionType int // 1 added, 2 removed
}

type StopTimeRow struct {
	TripID           string
	StopSequence     int
	StopID           string
	ArrivalSeconds   int
	DepartureSeconds int
}

// FrequencyRow keeps times as seconds since local midnight. EndSec of 0
// is the "until midnight" overload; values past 86400 run past midnight.
type FrequencyRow struct {
	RouteID     string
	DayType     string
	StartSec    int
	EndSec      int
	HeadwaySecs int
}

type RouteStopRow struct {
	RouteID  string
	StopID   string
	Sequence int
}

type VehiclePositionRow struct {
	VehicleID string
	TripID    *string
	Lat       *float64
	Lon       *float64
	Status    string
	StopID    *string
	Label     *string
	Platform  *string
	Timestamp *time.Time
	UpdatedAt time.Time
}

type StopTimeUpdateRow struct {
	TripID           string
	StopID           string
	StopSequence     *int
	ArrivalDelay     *int
	ArrivalTime      *time.Time
	DepartureDelay   *int
	DepartureTime    *time.Time
	Platform         *string
	OccupancyPercent *int
	OccupancyPerCar  []int
	Headsign         *string
}

type TripUpdateRow struct {
	TripID    string
	DelaySecs *int
	VehicleID *string
	Timestamp *time.Time
	UpdatedAt time.Time
	StopTimes []StopTimeUpdateRow
}

// AlertRow is the writer-side alert shape; Source marks feed vs manual
// rows for the abandoned-alert eviction.
type AlertRow struct {
	models.Alert
	Source    string
	UpdatedAt time.Time
}

// AlertState is what the enrichment step needs to decide whether an
// alert is new or its text changed.
type AlertState struct {
	Description      string
	Severity         *string
	Status           *string
	Summary          *string
	AffectedSegments *string
}

type SightingRow struct {
	StopID         string
	RouteShortName string
	Headsign       string
	Platform       string
	Date           time.Time
	SeenAt         time.Time
}

type ScheduledDepartureRow struct {
	TripID           string
	StopID           string
	StopSequence     int
	ArrivalSeconds   int
	DepartureSeconds int
	RouteID          string
	RouteShortName   string
	RouteColor       string
	TripHeadsign     *string
	DirectionID      int
	ServiceID        string
	ShapeID          *string
}

// ScheduledQuery drives the stop-departures join. Limit bounds the rows
// returned; callers oversample to allow for post-filter attrition.
type ScheduledQuery struct {
	StopIDs         []string
	MinDepartureSec int
	ServiceIDs      []string
	RouteID         string // optional filter
	Limit           int
}

type EvictStats struct {
	TripUpdates     int64
	OrphanStopTimes int64
	ExpiredAlerts   int64
	AbandonedAlerts int64
}

type IngestRunRow struct {
	ID          string
	StartedAt   time.Time
	DurationMS  int64
	OperatorsOK int
	OperatorsKO int
	Positions   int
	TripUpdates int
	Alerts      int
}

// ---- contracts ----

// ScheduleSource feeds the in-memory schedule store: seven streaming
// reads issued once per (re)load.
type ScheduleSource interface {
	LoadStops(ctx context.Context) ([]models.Stop, error)
	LoadRoutes(ctx context.Context) ([]models.Route, error)
	LoadCalendars(ctx context.Context) ([]CalendarRow, error)
	LoadCalendarDates(ctx context.Context) ([]CalendarDateRow, error)
	LoadTrips(ctx context.Context) ([]models.Trip, error)
	// ForEachStopTime streams stop_times ordered by (trip_id, stop_sequence).
	ForEachStopTime(ctx context.Context, fn func(StopTimeRow) error) error
	LoadTransfers(ctx context.Context) ([]models.Correspondence, error)
}

// Session is a dedicated database handle for one ingestion worker.
type Session interface {
	UpsertVehiclePositions(ctx context.Context, now time.Time, rows []VehiclePositionRow) error
	// UpsertTripUpdates replaces each trip's stop_time_updates atomically
	// (delete then insert, one transaction per batch).
	UpsertTripUpdates(ctx context.Context, now time.Time, rows []TripUpdateRow) error
	AlertStates(ctx context.Context, ids []string) (map[string]AlertState, error)
	UpsertAlerts(ctx context.Context, now time.Time, rows []AlertRow) error
	RecordPlatformSighting(ctx context.Context, s SightingRow) error
	Release()
}

// RealtimeStore is the orchestrator-facing side of ingestion.
type RealtimeStore interface {
	Session(ctx context.Context) (Session, error)
	EvictStale(ctx context.Context, now time.Time) (EvictStats, error)
	CleanupPlatformHistory(ctx context.Context, before time.Time) (int64, error)
	RecordIngestRun(ctx context.Context, run IngestRunRow) error
	RouteDelayStat(ctx context.Context, routeID string, hour int) (models.RouteDelayStat, error)
	UpsertRouteDelayStat(ctx context.Context, stat models.RouteDelayStat) error
}

// PlatformOps backs the platform post-processor.
type PlatformOps interface {
	// BackfillPlatforms copies platforms from vehicle positions into
	// matching platformless stop_time_updates in one statement.
	BackfillPlatforms(ctx context.Context) (int64, error)
	// PlatformlessStops lists distinct stops of platformless
	// stop_time_updates whose stop ID carries the given prefix.
	PlatformlessStops(ctx context.Context, idPrefix string) ([]string, error)
	StopTimeUpdatesAtStop(ctx context.Context, stopID string) ([]StopTimeUpdateRow, error)
	SetStopTimeUpdatePlatform(ctx context.Context, tripID, stopID, platform string) error
	// TopPlatform returns the historically dominant platform for a stop
	// and route short name, with its total sighting count.
	TopPlatform(ctx context.Context, stopID, routeShortName string) (string, int, error)
}

// DepartureReader serves the fusion engine.
type DepartureReader interface {
	ScheduledDepartures(ctx context.Context, q ScheduledQuery) ([]ScheduledDepartureRow, error)
	TripUpdatesFor(ctx context.Context, tripIDs []string) (map[string]TripUpdateRow, error)
	StopTimeUpdatesFor(ctx context.Context, tripIDs, stopIDs []string) ([]StopTimeUpdateRow, error)
	VehiclePositionsFor(ctx context.Context, tripIDs []string) (map[string]VehiclePositionRow, error)
	VehiclePositionsAtStops(ctx context.Context, stopIDs []string) ([]VehiclePositionRow, error)
	RoutesServingStops(ctx context.Context, stopIDs []string) ([]string, error)
	FrequenciesFor(ctx context.Context, routeIDs []string, dayType string) ([]FrequencyRow, error)
	RouteStopSequence(ctx context.Context, routeID string) ([]RouteStopRow, error)
	ActiveAlertsForRoutes(ctx context.Context, routeIDs []string, now time.Time) ([]models.Alert, error)
}

// MetadataReader serves the HTTP boundary's read endpoints.
type MetadataReader interface {
	Networks(ctx context.Context) ([]models.Network, error)
	Network(ctx context.Context, code string) (models.Network, error)
	Routes(ctx context.Context) ([]models.Route, error)
	RoutesForNetwork(ctx context.Context, code string) ([]models.Route, error)
	Route(ctx context.Context, id string) (models.Route, error)
	RouteStopsDetailed(ctx context.Context, routeID string) ([]models.Stop, error)
	RouteShape(ctx context.Context, routeID string) ([]models.ShapePoint, error)
	ShapePoints(ctx context.Context, shapeID string) ([]models.ShapePoint, error)
	RouteFrequencies(ctx context.Context, routeID string) ([]FrequencyRow, error)
	Stop(ctx context.Context, id string) (models.Stop, error)
	StopChildren(ctx context.Context, parentID string) ([]models.Stop, error)
	StopsByPrefix(ctx context.Context, prefix string) ([]models.Stop, error)
	SearchStops(ctx context.Context, query string, limit int) ([]models.Stop, error)
	StopPlatforms(ctx context.Context, stopID string) ([]models.Platform, error)
	StopCorrespondences(ctx context.Context, stopID string) ([]models.Correspondence, error)
	Trip(ctx context.Context, id string) (models.Trip, error)
	TripStopTimes(ctx context.Context, tripID string) ([]StopTimeRow, error)
	Alerts(ctx context.Context, now time.Time) ([]models.Alert, error)
	RouteDelayStats(ctx context.Context, routeID string) ([]models.RouteDelayStat, error)
}

// Store is the full persistence contract.
type Store interface {
	ScheduleSource
	RealtimeStore
	PlatformOps
	DepartureReader
	MetadataReader
	Ping(ctx context.Context) error
	Close()
}
