// Package models holds the shapes served by the HTTP boundary and shared
// between the fusion engine, the planner, and the handlers.
package models

import "time"

type Network struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Region        string `json:"region,omitempty"`
	TransportType string `json:"transportType,omitempty"`
	Color         string `json:"color,omitempty"`
	TextColor     string `json:"textColor,omitempty"`
}

type Stop struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	LocationType  int      `json:"locationType"`
	ParentStation *string  `json:"parentStation,omitempty"`
	Routes        []string `json:"routes,omitempty"`
}

type Route struct {
	ID         string `json:"id"`
	ShortName  string `json:"shortName"`
	LongName   string `json:"longName,omitempty"`
	Type       int    `json:"type"`
	Color      string `json:"color,omitempty"`
	TextColor  string `json:"textColor,omitempty"`
	NetworkID  string `json:"networkId,omitempty"`
	IsCircular bool   `json:"isCircular"`
}

type TripStopTime struct {
	StopID           string `json:"stopId"`
	StopName         string `json:"stopName,omitempty"`
	StopSequence     int    `json:"stopSequence"`
	ArrivalSeconds   int    `json:"arrivalSeconds"`
	DepartureSeconds int    `json:"departureSeconds"`
}

type Trip struct {
	ID          string         `json:"id"`
	RouteID     string         `json:"routeId"`
	ServiceID   string         `json:"serviceId"`
	Headsign    string         `json:"headsign,omitempty"`
	DirectionID int            `json:"directionId"`
	ShapeID     *string        `json:"shapeId,omitempty"`
	StopTimes   []TripStopTime `json:"stopTimes,omitempty"`
}

type Platform struct {
	StopID   string  `json:"stopId"`
	Code     string  `json:"code"`
	Name     string  `json:"name,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	Lines    string  `json:"lines,omitempty"`
	Vestible string  `json:"vestibule,omitempty"`
}

type Correspondence struct {
	FromStopID  string   `json:"fromStopId"`
	ToStopID    string   `json:"toStopId"`
	ToStopName  string   `json:"toStopName,omitempty"`
	DistanceM   *float64 `json:"distanceMeters,omitempty"`
	WalkTimeSec *int     `json:"walkTimeSeconds,omitempty"`
	Source      string   `json:"source,omitempty"`
}

type RouteFrequency struct {
	RouteID     string `json:"routeId"`
	DayType     string `json:"dayType"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	HeadwaySecs int    `json:"headwaySecs"`
}

// OperatingWindow is the first/last service window of a route for one day
// type, derived from its frequency periods.
type OperatingWindow struct {
	DayType      string `json:"dayType"`
	FirstSeconds int    `json:"firstSeconds"`
	LastSeconds  int    `json:"lastSeconds"`
	Overnight    bool   `json:"overnight"`
}

type ShapePoint struct {
	Seq  int      `json:"seq"`
	Lat  float64  `json:"lat"`
	Lon  float64  `json:"lon"`
	Dist *float64 `json:"dist,omitempty"`
}

type Departure struct {
	TripID           string `json:"tripId"`
	RouteID          string `json:"routeId"`
	RouteShortName   string `json:"routeShortName"`
	RouteColor       string `json:"routeColor,omitempty"`
	Headsign         string `json:"headsign"`
	StopID           string `json:"stopId"`
	DepartureSeconds int    `json:"departureSeconds"`
	MinutesUntil     int    `json:"minutesUntil"`

	RealtimeDepartureSeconds *int `json:"realtimeDepartureSeconds,omitempty"`
	RealtimeMinutesUntil     *int `json:"realtimeMinutesUntil,omitempty"`
	DelaySeconds             *int `json:"delaySeconds,omitempty"`
	IsDelayed                bool `json:"isDelayed"`

	Platform          *string `json:"platform,omitempty"`
	PlatformEstimated bool    `json:"platformEstimated"`

	OccupancyPercent *int   `json:"occupancyPercent,omitempty"`
	OccupancyStatus  string `json:"occupancyStatus,omitempty"`
	OccupancyPerCar  []int  `json:"occupancyPerCar,omitempty"`

	IsExpress    bool   `json:"isExpress"`
	ExpressName  string `json:"expressName,omitempty"`
	ExpressColor string `json:"expressColor,omitempty"`

	FrequencyBased bool `json:"frequencyBased"`

	// TypicalDelaySeconds is the historical mean delay of the route for
	// the current hour, when enough observations exist.
	TypicalDelaySeconds *int `json:"typicalDelaySeconds,omitempty"`
}

type DeparturesResponse struct {
	StopID      string      `json:"stopId"`
	StopName    string      `json:"stopName"`
	DayType     string      `json:"dayType"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Departures  []Departure `json:"departures"`
	Alerts      []Alert     `json:"alerts,omitempty"`
}

type InformedEntity struct {
	AgencyID string `json:"agencyId,omitempty"`
	RouteID  string `json:"routeId,omitempty"`
	StopID   string `json:"stopId,omitempty"`
	TripID   string `json:"tripId,omitempty"`
}

type Alert struct {
	ID                string           `json:"id"`
	Cause             string           `json:"cause"`
	Effect            string           `json:"effect"`
	Header            string           `json:"header"`
	Description       string           `json:"description,omitempty"`
	URL               *string          `json:"url,omitempty"`
	ActivePeriodStart *time.Time       `json:"activePeriodStart,omitempty"`
	ActivePeriodEnd   *time.Time       `json:"activePeriodEnd,omitempty"`
	InformedEntities  []InformedEntity `json:"informedEntities,omitempty"`
	Severity          *string          `json:"severity,omitempty"`
	Status            *string          `json:"status,omitempty"`
	Summary           *string          `json:"summary,omitempty"`
	AffectedSegments  *string          `json:"affectedSegments,omitempty"`
}

type JourneyStop struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ArrivalSeconds   int    `json:"arrivalSeconds,omitempty"`
	DepartureSeconds int    `json:"departureSeconds,omitempty"`
}

type JourneySegment struct {
	Type string `json:"type"` // transit | walk

	RouteID          string        `json:"routeId,omitempty"`
	RouteShortName   string        `json:"routeShortName,omitempty"`
	RouteColor       string        `json:"routeColor,omitempty"`
	Headsign         string        `json:"headsign,omitempty"`
	TripID           string        `json:"tripId,omitempty"`
	From             JourneyStop   `json:"from"`
	To               JourneyStop   `json:"to"`
	Intermediate     []JourneyStop `json:"intermediateStops,omitempty"`
	DepartureSeconds int           `json:"departureSeconds,omitempty"`
	ArrivalSeconds   int           `json:"arrivalSeconds,omitempty"`
	Shape            []ShapePoint  `json:"shape,omitempty"`

	WalkSeconds    int      `json:"walkSeconds,omitempty"`
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
}

type Journey struct {
	DepartureSeconds int              `json:"departureSeconds"`
	ArrivalSeconds   int              `json:"arrivalSeconds"`
	DurationSeconds  int              `json:"durationSeconds"`
	Transfers        int              `json:"transfers"`
	WalkSeconds      int              `json:"walkSeconds"`
	Segments         []JourneySegment `json:"segments"`
}

type PlanResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Journeys []Journey `json:"journeys"`
	Alerts   []Alert   `json:"alerts,omitempty"`
}

type RouteDelayStat struct {
	RouteID    string  `json:"routeId"`
	HourBucket int     `json:"hourBucket"`
	Count      int64   `json:"count"`
	MeanDelay  float64 `json:"meanDelaySeconds"`
	StdDev     float64 `json:"stdDevSeconds"`
}

type OperatorStatus struct {
	Operator   string     `json:"operator"`
	Enabled    bool       `json:"enabled"`
	FetchCount int64      `json:"fetchCount"`
	ErrorCount int64      `json:"errorCount"`
	LastFetch  *time.Time `json:"lastFetch,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

type StatusResponse struct {
	ScheduleLoaded   bool             `json:"scheduleLoaded"`
	ScheduleLoadedAt *time.Time       `json:"scheduleLoadedAt,omitempty"`
	Operators        []OperatorStatus `json:"operators"`
}
