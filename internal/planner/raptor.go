// Package planner implements round-based multi-criteria journey search
// (RAPTOR) over the in-memory schedule snapshot: each round adds one
// trip, footpaths relax between rounds, and the destination bound
// prunes hopeless labels.
package planner

import (
	"github.com/andenapp/anden/internal/schedule"
)

const infinity = int(^uint(0) >> 1)

// backKind tags how a stop was reached within a round.
type backKind byte

const (
	backOrigin backKind = iota
	backTrip
	backWalk
)

type backRef struct {
	kind      backKind
	tripID    string
	boardStop string
	fromStop  string
	walkSec   int
}

// raptorState carries the per-round labels of one search.
type raptorState struct {
	// tau[k][stop] is the earliest arrival using at most k trips.
	tau  []map[string]int
	best map[string]int
	back []map[string]backRef
}

func newState(rounds int) *raptorState {
	st := &raptorState{
		tau:  make([]map[string]int, rounds+1),
		best: make(map[string]int),
		back: make([]map[string]backRef, rounds+1),
	}
	for i := range st.tau {
		st.tau[i] = make(map[string]int)
		st.back[i] = make(map[string]backRef)
	}
	return st
}

func (st *raptorState) at(k int, stop string) int {
	if v, ok := st.tau[k][stop]; ok {
		return v
	}
	return infinity
}

func (st *raptorState) bestAt(stop string) int {
	if v, ok := st.best[stop]; ok {
		return v
	}
	return infinity
}

// run executes up to maxRounds RAPTOR rounds from the origin set. Labels
// improve only below both the stop's best-known arrival and the best
// arrival at any destination (target pruning).
func run(snap *schedule.Snapshot, origins map[string]int, dests map[string]bool, active map[string]struct{}, maxRounds int) *raptorState {
	st := newState(maxRounds)

	marked := make(map[string]bool, len(origins))
	for stop, dep := range origins {
		st.tau[0][stop] = dep
		st.best[stop] = dep
		st.back[0][stop] = backRef{kind: backOrigin}
		marked[stop] = true
	}

	bestDest := func() int {
		best := infinity
		for d := range dests {
			if v := st.bestAt(d); v < best {
				best = v
			}
		}
		return best
	}

	for k := 1; k <= maxRounds && len(marked) > 0; k++ {
		// Carry the previous round's labels forward: "at most k trips".
		for stop, v := range st.tau[k-1] {
			st.tau[k][stop] = v
		}

		// Collect the routes serving marked stops, each with its
		// earliest marked stop by position along the route.
		type boarding struct {
			stop string
			pos  int
		}
		routeBoardings := make(map[string]boarding)
		for stop := range marked {
			for _, routeID := range snap.RoutesAtStop(stop) {
				pos := snap.StopPositionOnRoute(routeID, stop)
				if pos < 0 {
					continue
				}
				if b, ok := routeBoardings[routeID]; !ok || pos < b.pos {
					routeBoardings[routeID] = boarding{stop: stop, pos: pos}
				}
			}
		}

		nextMarked := make(map[string]bool)
		for routeID, b := range routeBoardings {
			scanRoute(snap, st, k, routeID, b.stop, active, dests, bestDest, nextMarked, marked)
		}

		// Footpath relaxation from every stop improved this round; one
		// hop per round, so walks chain only across rounds.
		improved := make([]string, 0, len(nextMarked))
		for stop := range nextMarked {
			improved = append(improved, stop)
		}
		for _, stop := range improved {
			base := st.at(k, stop)
			if base == infinity {
				continue
			}
			for _, tr := range snap.Transfers(stop) {
				arrival := base + tr.WalkSeconds
				if arrival < st.bestAt(tr.ToStopID) && arrival < bestDest() {
					st.tau[k][tr.ToStopID] = arrival
					st.best[tr.ToStopID] = arrival
					st.back[k][tr.ToStopID] = backRef{kind: backWalk, fromStop: stop, walkSec: tr.WalkSeconds}
					nextMarked[tr.ToStopID] = true
				}
			}
		}

		marked = nextMarked
	}
	return st
}

// scanRoute boards the earliest feasible trip of a route at the given
// stop and relabels every downstream stop, hopping to an earlier trip
// whenever a previous-round label makes one catchable.
func scanRoute(snap *schedule.Snapshot, st *raptorState, k int, routeID, boardStop string, active map[string]struct{}, dests map[string]bool, bestDest func() int, nextMarked, prevMarked map[string]bool) {
	tripID, ok := snap.EarliestTrip(routeID, st.at(k-1, boardStop), active)
	if !ok {
		return
	}
	calls := snap.StopTimes(tripID)
	pos := findStop(calls, boardStop)
	if pos < 0 {
		return
	}

	curTrip := tripID
	curBoard := boardStop
	for i := pos + 1; i < len(calls); i++ {
		q := calls[i]

		if q.ArrivalSec < st.bestAt(q.StopID) && q.ArrivalSec < bestDest() {
			st.tau[k][q.StopID] = q.ArrivalSec
			st.best[q.StopID] = q.ArrivalSec
			st.back[k][q.StopID] = backRef{kind: backTrip, tripID: curTrip, boardStop: curBoard}
			nextMarked[q.StopID] = true
		}

		// Catch an earlier trip when the previous round reached this
		// stop before the current trip departs it.
		if prev := st.at(k-1, q.StopID); prev < q.DepartureSec {
			if cand, ok := snap.EarliestTrip(routeID, prev, active); ok && cand != curTrip {
				candCalls := snap.StopTimes(cand)
				j := findStop(candCalls, q.StopID)
				if j >= 0 && candCalls[j].DepartureSec >= prev && candCalls[j].DepartureSec < q.DepartureSec {
					curTrip = cand
					curBoard = q.StopID
					calls = candCalls
					i = j
				}
			}
		}
	}
}

func findStop(calls []schedule.TripStop, stopID string) int {
	for i, c := range calls {
		if c.StopID == stopID {
			return i
		}
	}
	return -1
}
