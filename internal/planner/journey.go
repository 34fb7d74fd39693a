package planner

import (
	"context"
	"math"

	"github.com/andenapp/anden/internal/headsign"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/schedule"
)

// leg is one reconstructed movement, trip or walk, origin-first.
type leg struct {
	ref       backRef
	fromStop  string
	toStop    string
	arrival   int
	departure int
}

// candidate is one journey candidate before Pareto filtering.
type candidate struct {
	arrivalSec  int
	transfers   int
	walkSeconds int
	legs        []leg
}

// findBack locates the round at or below k where a stop's label was
// actually set; carried-forward labels have no back reference of their
// own.
func findBack(st *raptorState, k int, stop string) (backRef, int, bool) {
	for j := k; j >= 0; j-- {
		if ref, ok := st.back[j][stop]; ok {
			return ref, j, true
		}
	}
	return backRef{}, 0, false
}

// reconstruct walks the back pointers from a destination reached with k
// trips into an origin-first leg list.
func reconstruct(snap *schedule.Snapshot, st *raptorState, k int, dest string) (candidate, bool) {
	if _, ok := st.back[k][dest]; !ok {
		return candidate{}, false
	}

	var legs []leg
	stop := dest
	round := k
	for {
		ref, at, ok := findBack(st, round, stop)
		if !ok {
			return candidate{}, false
		}
		if ref.kind == backOrigin {
			break
		}
		switch ref.kind {
		case backWalk:
			arrival := st.at(at, stop)
			legs = append(legs, leg{
				ref:       ref,
				fromStop:  ref.fromStop,
				toStop:    stop,
				departure: arrival - ref.walkSec,
				arrival:   arrival,
			})
			stop = ref.fromStop
			round = at
		case backTrip:
			calls := snap.StopTimes(ref.tripID)
			from := findStop(calls, ref.boardStop)
			to := findStop(calls, stop)
			if from < 0 || to < 0 || to <= from {
				return candidate{}, false
			}
			legs = append(legs, leg{
				ref:       ref,
				fromStop:  ref.boardStop,
				toStop:    stop,
				departure: calls[from].DepartureSec,
				arrival:   calls[to].ArrivalSec,
			})
			stop = ref.boardStop
			round = at - 1
		}
	}

	// Reverse into origin-first order.
	for i, j := 0, len(legs)-1; i < j; i, j = i+1, j-1 {
		legs[i], legs[j] = legs[j], legs[i]
	}

	c := candidate{arrivalSec: st.at(k, dest), legs: legs}
	trips := 0
	for _, l := range legs {
		if l.ref.kind == backTrip {
			trips++
		} else {
			c.walkSeconds += l.ref.walkSec
		}
	}
	if trips == 0 {
		return candidate{}, false
	}
	c.transfers = trips - 1
	return c, true
}

// dominates reports Pareto dominance over (arrival, transfers, walk).
func dominates(a, b candidate) bool {
	if a.arrivalSec > b.arrivalSec || a.transfers > b.transfers || a.walkSeconds > b.walkSeconds {
		return false
	}
	return a.arrivalSec < b.arrivalSec || a.transfers < b.transfers || a.walkSeconds < b.walkSeconds
}

// paretoFilter keeps the non-dominated candidates, best arrival first.
func paretoFilter(cands []candidate) []candidate {
	var kept []candidate
	for _, c := range cands {
		dominated := false
		for _, other := range cands {
			if dominates(other, c) {
				dominated = true
				break
			}
		}
		if !dominated && !containsEquivalent(kept, c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func containsEquivalent(kept []candidate, c candidate) bool {
	for _, k := range kept {
		if k.arrivalSec == c.arrivalSec && k.transfers == c.transfers && k.walkSeconds == c.walkSeconds {
			return true
		}
	}
	return false
}

// toJourney renders a candidate into the response shape, merging each
// trip leg's intermediate calls and attaching walk geometry.
func (p *Planner) toJourney(ctx context.Context, snap *schedule.Snapshot, c candidate) models.Journey {
	j := models.Journey{
		ArrivalSeconds: c.arrivalSec,
		Transfers:      c.transfers,
		WalkSeconds:    c.walkSeconds,
	}
	if len(c.legs) > 0 {
		j.DepartureSeconds = c.legs[0].departure
	}
	j.DurationSeconds = j.ArrivalSeconds - j.DepartureSeconds

	for _, l := range c.legs {
		if l.ref.kind == backWalk {
			seg := models.JourneySegment{
				Type:             "walk",
				From:             p.journeyStop(snap, l.fromStop, 0, l.departure),
				To:               p.journeyStop(snap, l.toStop, l.arrival, 0),
				DepartureSeconds: l.departure,
				ArrivalSeconds:   l.arrival,
				WalkSeconds:      l.ref.walkSec,
			}
			if d, ok := straightLineMeters(snap, l.fromStop, l.toStop); ok {
				seg.DistanceMeters = &d
			}
			j.Segments = append(j.Segments, seg)
			continue
		}

		info, _ := snap.Trip(l.ref.tripID)
		route, _ := snap.Route(info.RouteID)
		seg := models.JourneySegment{
			Type:             "transit",
			TripID:           l.ref.tripID,
			RouteID:          info.RouteID,
			RouteShortName:   route.ShortName,
			RouteColor:       route.Color,
			Headsign:         p.segmentHeadsign(snap, l.ref.tripID, info),
			DepartureSeconds: l.departure,
			ArrivalSeconds:   l.arrival,
		}
		calls := snap.StopTimes(l.ref.tripID)
		from := findStop(calls, l.fromStop)
		to := findStop(calls, l.toStop)
		seg.From = p.journeyStop(snap, l.fromStop, calls[from].ArrivalSec, calls[from].DepartureSec)
		seg.To = p.journeyStop(snap, l.toStop, calls[to].ArrivalSec, calls[to].DepartureSec)
		for i := from + 1; i < to; i++ {
			seg.Intermediate = append(seg.Intermediate,
				p.journeyStop(snap, calls[i].StopID, calls[i].ArrivalSec, calls[i].DepartureSec))
		}
		if info.ShapeID != "" && p.db != nil {
			if points, err := p.db.ShapePoints(ctx, info.ShapeID); err == nil {
				seg.Shape = points
			}
		}
		j.Segments = append(j.Segments, seg)
	}
	return j
}

func (p *Planner) journeyStop(snap *schedule.Snapshot, stopID string, arrival, departure int) models.JourneyStop {
	js := models.JourneyStop{ID: stopID, Name: stopID, ArrivalSeconds: arrival, DepartureSeconds: departure}
	if info, ok := snap.Stop(stopID); ok && info.Name != "" {
		js.Name = info.Name
	}
	return js
}

func (p *Planner) segmentHeadsign(snap *schedule.Snapshot, tripID string, info schedule.TripInfo) string {
	h := info.Headsign
	if h == "" {
		if calls := snap.StopTimes(tripID); len(calls) > 0 {
			if si, ok := snap.Stop(calls[len(calls)-1].StopID); ok {
				h = si.Name
			}
		}
	}
	return headsign.Normalize(h)
}

// straightLineMeters approximates the walking distance between two
// stops with the haversine formula.
func straightLineMeters(snap *schedule.Snapshot, fromID, toID string) (float64, bool) {
	from, okF := snap.Stop(fromID)
	to, okT := snap.Stop(toID)
	if !okF || !okT || (from.Lat == 0 && from.Lon == 0) || (to.Lat == 0 && to.Lon == 0) {
		return 0, false
	}
	const earthRadiusM = 6371000.0
	lat1 := from.Lat * math.Pi / 180
	lat2 := to.Lat * math.Pi / 180
	dLat := (to.Lat - from.Lat) * math.Pi / 180
	dLon := (to.Lon - from.Lon) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a)), true
}
