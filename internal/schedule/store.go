package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

// ErrNotLoaded is returned by every query until the first load finishes.
// Callers never see a partially built snapshot.
var ErrNotLoaded = errors.New("schedule store not loaded")

// Store is the process-wide schedule holder. Reads go through a single
// atomic pointer; Load builds a fresh snapshot in isolation and swaps it
// in, serialized by the reload mutex.
type Store struct {
	snap     atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
}

func NewStore() *Store {
	return &Store{}
}

// Loaded reports whether the first load has completed.
func (s *Store) Loaded() bool {
	return s.snap.Load() != nil
}

// Snapshot returns the current snapshot, or ErrNotLoaded before the
// first load. Callers keep the returned pointer for the whole request;
// a concurrent reload never changes what they see.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := s.snap.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Load builds a snapshot from the source and atomically publishes it.
// Concurrent reload requests queue on the mutex; readers are never
// blocked.
func (s *Store) Load(ctx context.Context, src store.ScheduleSource) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	start := time.Now()
	snap, err := build(ctx, src)
	if err != nil {
		return fmt.Errorf("schedule load: %w", err)
	}
	s.snap.Store(snap)

	c := snap.counts
	log.Printf("Schedule store: loaded %d stops, %d routes, %d trips, %d stop_times, %d transfers in %v",
		c.Stops, c.Routes, c.Trips, c.StopTimes, c.Transfers, time.Since(start).Round(time.Millisecond))
	return nil
}

// interner deduplicates ID strings so the indices share one copy of
// each identifier instead of millions.
type interner map[string]string

func (in interner) get(s string) string {
	if v, ok := in[s]; ok {
		return v
	}
	in[s] = s
	return s
}

func build(ctx context.Context, src store.ScheduleSource) (*Snapshot, error) {
	snap := &Snapshot{
		stops:             make(map[string]StopInfo),
		routes:            make(map[string]RouteInfo),
		trips:             make(map[string]TripInfo),
		stopTimes:         make(map[string][]TripStop),
		tripsByRoute:      make(map[string][]routeTrip),
		routesByStop:      make(map[string][]string),
		transfers:         make(map[string][]Transfer),
		children:          make(map[string][]string),
		routeStops:        make(map[string][]string),
		routeStopPos:      make(map[string]map[string]int),
		serviceWindows:    make(map[string]serviceWindow),
		exceptionsAdded:   make(map[string]map[string]struct{}),
		exceptionsRemoved: make(map[string]map[string]struct{}),
	}
	for i := range snap.servicesByWeekday {
		snap.servicesByWeekday[i] = make(map[string]struct{})
	}
	intern := make(interner)

	stops, err := src.LoadStops(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stops: %w", err)
	}
	for _, st := range stops {
		id := intern.get(st.ID)
		info := StopInfo{Name: st.Name, Lat: st.Lat, Lon: st.Lon, LocationType: st.LocationType}
		if st.ParentStation != nil {
			parent := intern.get(*st.ParentStation)
			info.ParentStation = parent
			snap.children[parent] = append(snap.children[parent], id)
		}
		snap.stops[id] = info
		snap.sortedStopIDs = append(snap.sortedStopIDs, id)
	}
	sort.Strings(snap.sortedStopIDs)

	routes, err := src.LoadRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	for _, r := range routes {
		snap.routes[intern.get(r.ID)] = RouteInfo{
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Type:      r.Type,
			Color:     r.Color,
			TextColor: r.TextColor,
			NetworkID: r.NetworkID,
		}
	}

	calendars, err := src.LoadCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("load calendars: %w", err)
	}
	for _, c := range calendars {
		id := intern.get(c.ServiceID)
		for wd, runs := range c.Weekdays {
			if runs {
				snap.servicesByWeekday[wd][id] = struct{}{}
			}
		}
		snap.serviceWindows[id] = serviceWindow{
			start: truncateToDay(c.StartDate),
			end:   truncateToDay(c.EndDate),
		}
	}

	dates, err := src.LoadCalendarDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load calendar dates: %w", err)
	}
	for _, d := range dates {
		key := d.Date.Format(dateKey)
		id := intern.get(d.ServiceID)
		switch d.ExceptionType {
		case 1:
			if snap.exceptionsAdded[key] == nil {
				snap.exceptionsAdded[key] = make(map[string]struct{})
			}
			snap.exceptionsAdded[key][id] = struct{}{}
			// Exception-only services have no calendar row; give them an
			// open window so the added date is honored.
			if _, ok := snap.serviceWindows[id]; !ok {
				snap.serviceWindows[id] = serviceWindow{start: d.Date, end: d.Date}
			}
		case 2:
			if snap.exceptionsRemoved[key] == nil {
				snap.exceptionsRemoved[key] = make(map[string]struct{})
			}
			snap.exceptionsRemoved[key][id] = struct{}{}
		}
	}

	trips, err := src.LoadTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trips: %w", err)
	}
	for _, t := range trips {
		info := TripInfo{
			RouteID:     intern.get(t.RouteID),
			ServiceID:   intern.get(t.ServiceID),
			Headsign:    t.Headsign,
			DirectionID: t.DirectionID,
		}
		if t.ShapeID != nil {
			info.ShapeID = intern.get(*t.ShapeID)
		}
		snap.trips[intern.get(t.ID)] = info
	}

	// One streaming pass over stop_times builds the per-trip sequences;
	// rows arrive ordered by (trip_id, stop_sequence).
	var stopTimeCount int
	err = src.ForEachStopTime(ctx, func(row store.StopTimeRow) error {
		tripID := intern.get(row.TripID)
		snap.stopTimes[tripID] = append(snap.stopTimes[tripID], TripStop{
			StopID:       intern.get(row.StopID),
			ArrivalSec:   row.ArrivalSeconds,
			DepartureSec: row.DepartureSeconds,
		})
		stopTimeCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load stop times: %w", err)
	}

	snap.buildInverseIndices()

	transfers, err := src.LoadTransfers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transfers: %w", err)
	}
	var kept int
	for _, tr := range transfers {
		walk := walkSeconds(tr)
		if tr.FromStopID == tr.ToStopID || walk <= 0 {
			continue
		}
		from := intern.get(tr.FromStopID)
		snap.transfers[from] = append(snap.transfers[from], Transfer{
			ToStopID:    intern.get(tr.ToStopID),
			WalkSeconds: walk,
		})
		kept++
	}

	snap.loadedAt = time.Now()
	snap.counts = LoadCounts{
		Stops:     len(snap.stops),
		Routes:    len(snap.routes),
		Trips:     len(snap.trips),
		StopTimes: stopTimeCount,
		Transfers: kept,
		Services:  len(snap.serviceWindows),
	}
	return snap, nil
}

// buildInverseIndices derives tripsByRoute, routesByStop, and the
// canonical per-route stop order from the loaded trips and stop times.
func (s *Snapshot) buildInverseIndices() {
	routeSeen := make(map[string]map[string]struct{})

	for tripID, calls := range s.stopTimes {
		info, ok := s.trips[tripID]
		if !ok || len(calls) == 0 {
			continue
		}
		s.tripsByRoute[info.RouteID] = append(s.tripsByRoute[info.RouteID], routeTrip{
			firstDepartureSec: calls[0].DepartureSec,
			tripID:            tripID,
			serviceID:         info.ServiceID,
		})
		if routeSeen[info.RouteID] == nil {
			routeSeen[info.RouteID] = make(map[string]struct{})
		}
		for _, call := range calls {
			if _, dup := routeSeen[info.RouteID][call.StopID]; !dup {
				routeSeen[info.RouteID][call.StopID] = struct{}{}
				s.routesByStop[call.StopID] = append(s.routesByStop[call.StopID], info.RouteID)
			}
		}
		// The route's canonical stop order is its longest trip.
		if len(calls) > len(s.routeStops[info.RouteID]) {
			stopsOnTrip := make([]string, len(calls))
			for i, call := range calls {
				stopsOnTrip[i] = call.StopID
			}
			s.routeStops[info.RouteID] = stopsOnTrip
		}
	}

	for routeID, trips := range s.tripsByRoute {
		sort.Slice(trips, func(i, j int) bool {
			if trips[i].firstDepartureSec != trips[j].firstDepartureSec {
				return trips[i].firstDepartureSec < trips[j].firstDepartureSec
			}
			return trips[i].tripID < trips[j].tripID
		})
		s.tripsByRoute[routeID] = trips
	}
	for routeID, stopsOnRoute := range s.routeStops {
		pos := make(map[string]int, len(stopsOnRoute))
		for i, stopID := range stopsOnRoute {
			if _, dup := pos[stopID]; !dup {
				pos[stopID] = i
			}
		}
		s.routeStopPos[routeID] = pos
	}
	for stopID := range s.routesByStop {
		sort.Strings(s.routesByStop[stopID])
	}
}

// walkSeconds resolves a correspondence's walk duration, estimating from
// distance at a 1.2 m/s pace when only the distance is known.
func walkSeconds(tr models.Correspondence) int {
	if tr.WalkTimeSec != nil {
		return *tr.WalkTimeSec
	}
	if tr.DistanceM != nil {
		return int(*tr.DistanceM / 1.2)
	}
	return 0
}
