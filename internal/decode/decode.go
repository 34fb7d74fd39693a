// Package decode parses operator feeds into a common entity shape. Three
// wire families exist: GTFS-RT protobuf (Metro Bilbao, Euskotren, FGC),
// the Renfe JSON rendition of GTFS-RT, and prediction REST APIs (TMB
// iMetro, Metrovalencia). Identifiers come out operator-native; the
// ingestion worker canonicalizes them afterwards.
package decode

import (
	"errors"
	"time"
)

var ErrDecodeFailure = errors.New("decode failure")

// FeedKind tells a decoder which endpoint the body came from.
type FeedKind string

const (
	KindVehiclePositions FeedKind = "vehicle_positions"
	KindTripUpdates      FeedKind = "trip_updates"
	KindAlerts           FeedKind = "alerts"
	KindPredictions      FeedKind = "predictions"
)

type VehiclePosition struct {
	VehicleID    string
	Label        string
	TripID       string
	RouteID      string
	Lat          *float64
	Lon          *float64
	Status       string
	StopID       string
	StopSequence *int
	Platform     string
	Timestamp    time.Time
}

type StopTimeEvent struct {
	Delay *int
	Time  *time.Time
}

type StopTimeUpdate struct {
	StopID           string
	StopSequence     *int
	Arrival          StopTimeEvent
	Departure        StopTimeEvent
	Platform         string
	OccupancyPercent *int
	OccupancyPerCar  []int
	Headsign         string
}

type TripUpdate struct {
	TripID    string
	RouteID   string
	DelaySecs *int
	VehicleID string
	Timestamp time.Time
	StopTimes []StopTimeUpdate
}

type InformedEntity struct {
	AgencyID string
	RouteID  string
	StopID   string
	TripID   string
}

type Alert struct {
	ID          string
	Cause       string
	Effect      string
	Header      string
	Description string
	URL         string
	Start       *time.Time
	End         *time.Time
	Entities    []InformedEntity
}

// Entities is the decoded result of one feed body. Skipped counts
// entities dropped by per-entity failures; the worker logs the total.
type Entities struct {
	Positions []VehiclePosition
	Updates   []TripUpdate
	Alerts    []Alert
	Skipped   int
}

// Decoder turns one fetched feed body into typed entities. Feed-level
// failures return an error wrapping ErrDecodeFailure; per-entity
// failures only bump Skipped.
type Decoder interface {
	Decode(kind FeedKind, body []byte, now time.Time) (*Entities, error)
}

// statusNames maps the GTFS-RT VehicleStopStatus enum.
var statusNames = map[int32]string{
	0: "INCOMING_AT",
	1: "STOPPED_AT",
	2: "IN_TRANSIT_TO",
}

// causeNames maps the GTFS-RT alert Cause enum.
var causeNames = map[int32]string{
	1:  "UNKNOWN_CAUSE",
	2:  "OTHER_CAUSE",
	3:  "TECHNICAL_PROBLEM",
	4:  "STRIKE",
	5:  "DEMONSTRATION",
	6:  "ACCIDENT",
	7:  "HOLIDAY",
	8:  "WEATHER",
	9:  "MAINTENANCE",
	10: "CONSTRUCTION",
	11: "POLICE_ACTIVITY",
	12: "MEDICAL_EMERGENCY",
}

// effectNames maps the GTFS-RT alert Effect enum.
var effectNames = map[int32]string{
	1:  "NO_SERVICE",
	2:  "REDUCED_SERVICE",
	3:  "SIGNIFICANT_DELAYS",
	4:  "DETOUR",
	5:  "ADDITIONAL_SERVICE",
	6:  "MODIFIED_SERVICE",
	7:  "OTHER_EFFECT",
	8:  "UNKNOWN_EFFECT",
	9:  "STOP_MOVED",
	10: "NO_EFFECT",
	11: "ACCESSIBILITY_ISSUE",
}
