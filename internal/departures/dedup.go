package departures

import (
	"sort"

	"github.com/andenapp/anden/internal/models"
)

// minStaticGapSeconds is the closest two static departures of the same
// line and destination may run. Overlapping frequency windows in the
// source data produce near-duplicate rows; anything under the gap is
// the same physical train.
const minStaticGapSeconds = 90

// dedupe drops static departures that follow another departure of the
// same (route short name, headsign) by less than the minimum gap. The
// earlier departure survives. Real-time-backed departures are never
// dropped: a confirmed train is a real train.
func dedupe(deps []models.Departure) []models.Departure {
	type key struct {
		shortName string
		headsign  string
	}

	static := make([]int, 0, len(deps))
	for i, d := range deps {
		if d.DelaySeconds == nil {
			static = append(static, i)
		}
	}
	sort.SliceStable(static, func(a, b int) bool {
		return deps[static[a]].DepartureSeconds < deps[static[b]].DepartureSeconds
	})

	drop := make(map[int]bool)
	lastKept := make(map[key]int)
	for _, i := range static {
		d := deps[i]
		k := key{d.RouteShortName, d.Headsign}
		if prev, ok := lastKept[k]; ok && d.DepartureSeconds-deps[prev].DepartureSeconds < minStaticGapSeconds {
			drop[i] = true
			continue
		}
		lastKept[k] = i
	}

	if len(drop) == 0 {
		return deps
	}
	out := deps[:0]
	for i, d := range deps {
		if !drop[i] {
			out = append(out, d)
		}
	}
	return out
}
