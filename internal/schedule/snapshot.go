// Package schedule holds the in-memory schedule store: one immutable
// snapshot of the full static timetable, indexed for constant-time
// lookups, behind an atomic reference that reloads swap without
// disturbing readers.
package schedule

import (
	"sort"
	"strings"
	"time"
)

const dateKey = "2006-01-02"

// StopInfo is the static record of one stop or station.
type StopInfo struct {
	Name          string
	Lat, Lon      float64
	LocationType  int
	ParentStation string
}

// RouteInfo is the static record of one route.
type RouteInfo struct {
	ShortName string
	LongName  string
	Type      int
	Color     string
	TextColor string
	NetworkID string
}

// TripInfo is the static record of one trip.
type TripInfo struct {
	RouteID     string
	ServiceID   string
	Headsign    string
	DirectionID int
	ShapeID     string
}

// TripStop is one scheduled call of a trip. Seconds count from local
// midnight of the service day and may exceed 86400 past midnight.
type TripStop struct {
	StopID       string
	ArrivalSec   int
	DepartureSec int
}

// routeTrip pairs a trip with its first-stop departure for the sorted
// per-route index.
type routeTrip struct {
	firstDepartureSec int
	tripID            string
	serviceID         string
}

// Transfer is a directed footpath to another stop.
type Transfer struct {
	ToStopID    string
	WalkSeconds int
}

type serviceWindow struct {
	start, end time.Time
}

// Snapshot is one immutable build of the schedule. All maps are written
// during load and never mutated afterwards; concurrent readers share it
// freely.
type Snapshot struct {
	stops        map[string]StopInfo
	routes       map[string]RouteInfo
	trips        map[string]TripInfo
	stopTimes    map[string][]TripStop
	tripsByRoute map[string][]routeTrip
	routesByStop map[string][]string
	transfers    map[string][]Transfer
	children     map[string][]string

	// routeStops is the canonical stop order of each route, taken from
	// its longest trip; routeStopPos inverts it for O(1) position checks.
	routeStops   map[string][]string
	routeStopPos map[string]map[string]int

	servicesByWeekday [7]map[string]struct{}
	serviceWindows    map[string]serviceWindow
	exceptionsAdded   map[string]map[string]struct{}
	exceptionsRemoved map[string]map[string]struct{}

	sortedStopIDs []string

	loadedAt time.Time
	counts   LoadCounts
}

// LoadCounts reports what one load pulled in; logged after each (re)load.
type LoadCounts struct {
	Stops     int
	Routes    int
	Trips     int
	StopTimes int
	Transfers int
	Services  int
}

// LoadedAt is the wall-clock instant this snapshot finished building.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Counts returns the entity counts of this snapshot.
func (s *Snapshot) Counts() LoadCounts { return s.counts }

// Stop returns the static record of a stop.
func (s *Snapshot) Stop(id string) (StopInfo, bool) {
	info, ok := s.stops[id]
	return info, ok
}

// Route returns the static record of a route.
func (s *Snapshot) Route(id string) (RouteInfo, bool) {
	info, ok := s.routes[id]
	return info, ok
}

// Trip returns the static record of a trip.
func (s *Snapshot) Trip(id string) (TripInfo, bool) {
	info, ok := s.trips[id]
	return info, ok
}

// StopTimes returns a trip's calls ordered by stop sequence. The slice
// is shared; callers must not modify it.
func (s *Snapshot) StopTimes(tripID string) []TripStop {
	return s.stopTimes[tripID]
}

// RoutesAtStop lists the routes calling at a stop.
func (s *Snapshot) RoutesAtStop(stopID string) []string {
	return s.routesByStop[stopID]
}

// Transfers lists the outgoing footpaths of a stop.
func (s *Snapshot) Transfers(stopID string) []Transfer {
	return s.transfers[stopID]
}

// Children lists the platform stops of a station.
func (s *Snapshot) Children(stationID string) []string {
	return s.children[stationID]
}

// RouteStops returns the canonical stop order of a route.
func (s *Snapshot) RouteStops(routeID string) []string {
	return s.routeStops[routeID]
}

// StopPositionOnRoute returns the position of a stop along a route's
// canonical order, or -1 when the route does not call there.
func (s *Snapshot) StopPositionOnRoute(routeID, stopID string) int {
	if pos, ok := s.routeStopPos[routeID][stopID]; ok {
		return pos
	}
	return -1
}

// StopIDsWithPrefix returns every stop ID starting with prefix, in
// lexicographic order.
func (s *Snapshot) StopIDsWithPrefix(prefix string) []string {
	i := sort.SearchStrings(s.sortedStopIDs, prefix)
	var out []string
	for ; i < len(s.sortedStopIDs); i++ {
		if !strings.HasPrefix(s.sortedStopIDs[i], prefix) {
			break
		}
		out = append(out, s.sortedStopIDs[i])
	}
	return out
}

// ActiveServices resolves the service IDs running on a calendar date:
// the weekday set, plus added exceptions, minus removed ones.
func (s *Snapshot) ActiveServices(date time.Time) map[string]struct{} {
	key := date.Format(dateKey)
	day := truncateToDay(date)

	active := make(map[string]struct{})
	for id := range s.servicesByWeekday[date.Weekday()] {
		w := s.serviceWindows[id]
		if day.Before(w.start) || day.After(w.end) {
			continue
		}
		active[id] = struct{}{}
	}
	for id := range s.exceptionsAdded[key] {
		active[id] = struct{}{}
	}
	for id := range s.exceptionsRemoved[key] {
		delete(active, id)
	}
	return active
}

// EarliestTrip finds the first trip of a route departing its first stop
// at or after minDepartureSec whose service is active. The per-route
// index is sorted by (first departure, trip ID), so equal departures
// resolve lexicographically.
func (s *Snapshot) EarliestTrip(routeID string, minDepartureSec int, active map[string]struct{}) (string, bool) {
	trips := s.tripsByRoute[routeID]
	i := sort.Search(len(trips), func(i int) bool {
		return trips[i].firstDepartureSec >= minDepartureSec
	})
	for ; i < len(trips); i++ {
		if _, ok := active[trips[i].serviceID]; ok {
			return trips[i].tripID, true
		}
	}
	return "", false
}

// ResolvePlatforms maps a user-facing stop ID to the physical stops to
// query. Stations resolve to their children; two operators need suffix
// heuristics because their feeds use station codes that never appear as
// parents; plain stops resolve to themselves.
func (s *Snapshot) ResolvePlatforms(stopID string) []string {
	if info, ok := s.stops[stopID]; ok && info.LocationType == 1 {
		if kids := s.children[stopID]; len(kids) > 0 {
			return kids
		}
	}
	// TMB station codes arrive as TMB_METRO_P.xxxxxxx; the platform
	// stops are TMB_METRO_1.<last three digits>.
	if rest, ok := strings.CutPrefix(stopID, "TMB_METRO_P."); ok && len(rest) >= 3 {
		candidate := "TMB_METRO_1." + rest[len(rest)-3:]
		if _, ok := s.stops[candidate]; ok {
			return []string{candidate}
		}
	}
	// Bare FGC station codes (no trailing digit) fan out to every
	// platform child sharing the prefix.
	if strings.HasPrefix(stopID, "FGC_") && !endsWithDigit(stopID) {
		if kids := s.StopIDsWithPrefix(stopID); len(kids) > 0 {
			return kids
		}
	}
	if _, ok := s.stops[stopID]; ok {
		return []string{stopID}
	}
	return nil
}

func endsWithDigit(id string) bool {
	if id == "" {
		return false
	}
	c := id[len(id)-1]
	return c >= '0' && c <= '9'
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
