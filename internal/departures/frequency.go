package departures

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/andenapp/anden/internal/headsign"
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

// frequencyFallbackPrefixes marks the networks whose GTFS carries
// headways instead of stop_times; their departures are synthesized.
var frequencyFallbackPrefixes = []string{
	"METRO_", "ML_", "TRAM_SEV_", "TMB_METRO_1.", "FGC_",
}

func hasFrequencyPrefix(stopID string) bool {
	for _, p := range frequencyFallbackPrefixes {
		if strings.HasPrefix(stopID, p) {
			return true
		}
	}
	return false
}

// frequencyPeriod is one headway window, end-exclusive.
type frequencyPeriod struct {
	startSec    int
	endSec      int
	headwaySecs int
}

// pickPeriod selects the period covering nowSec, or failing that the
// next upcoming one. The end boundary is exclusive: at exactly end_time
// the service has stopped.
func pickPeriod(rows []store.FrequencyRow, nowSec int) (frequencyPeriod, bool) {
	var next frequencyPeriod
	var haveNext bool
	for _, f := range rows {
		if isAggregateRow(f) || f.HeadwaySecs <= 0 {
			continue
		}
		p := frequencyPeriod{startSec: f.StartSec, endSec: normalizeEnd(f.EndSec), headwaySecs: f.HeadwaySecs}
		if p.startSec <= nowSec && nowSec < p.endSec {
			return p, true
		}
		if p.startSec > nowSec && (!haveNext || p.startSec < next.startSec) {
			next = p
			haveNext = true
		}
	}
	return next, haveNext
}

// roundUp60 aligns a second count to the next whole minute.
func roundUp60(sec int) int {
	return ((sec + 59) / 60) * 60
}

// frequencyDepartures synthesizes departures for frequency-run routes
// at the resolved stops. When onlyRoutes is non-nil, synthesis is
// restricted to those routes (the supplement path for metro lines
// missing from the scheduled rows).
func (e *Engine) frequencyDepartures(ctx context.Context, snap *schedule.Snapshot, resolved []string, dayType string, nowSec, perDirection int, onlyRoutes map[string]bool) ([]models.Departure, error) {
	routeIDs, err := e.db.RoutesServingStops(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("routes serving stops: %w", err)
	}
	var candidates []string
	for _, id := range routeIDs {
		if !hasFrequencyPrefix(id) {
			continue
		}
		if onlyRoutes != nil && !onlyRoutes[id] {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	freqs, err := e.db.FrequenciesFor(ctx, candidates, dayType)
	if err != nil {
		return nil, fmt.Errorf("frequencies: %w", err)
	}
	byRoute := make(map[string][]store.FrequencyRow)
	for _, f := range freqs {
		byRoute[f.RouteID] = append(byRoute[f.RouteID], f)
	}

	resolvedSet := make(map[string]bool, len(resolved))
	for _, id := range resolved {
		resolvedSet[id] = true
	}

	var out []models.Departure
	for _, routeID := range candidates {
		rows := byRoute[routeID]
		if len(rows) == 0 {
			continue
		}
		if !windowFor(rows).contains(nowSec) {
			continue
		}
		period, ok := pickPeriod(rows, nowSec)
		if !ok {
			continue
		}

		seq, err := e.db.RouteStopSequence(ctx, routeID)
		if err != nil {
			log.Printf("Departures: route %s stop sequence: %v", routeID, err)
			continue
		}
		if len(seq) < 2 {
			continue
		}

		// Locate the queried stop along the route; termini only report
		// the outbound direction.
		stopID := resolved[0]
		position := -1
		for _, rs := range seq {
			if resolvedSet[rs.StopID] {
				stopID = rs.StopID
				position = rs.Sequence
				break
			}
		}
		if position < 0 {
			continue
		}
		first, last := seq[0], seq[len(seq)-1]

		directions := []int{0, 1}
		switch stopID {
		case first.StopID:
			directions = []int{0}
		case last.StopID:
			directions = []int{1}
		}

		info, _ := snap.Route(routeID)
		shortName := info.ShortName
		if shortName == "" {
			shortName = e.norm.SplitVariant(stripRouteToken(routeID, e), "")
		}

		for _, dir := range directions {
			towards := last
			if dir == 1 {
				towards = first
			}
			dest := towards.StopID
			if stopInfo, ok := snap.Stop(dest); ok && stopInfo.Name != "" {
				dest = stopInfo.Name
			}
			dest = headsign.Normalize(dest)

			base := nowSec
			if period.startSec > base {
				base = period.startSec
			}
			dep := roundUp60(base)
			// Opposing directions are assumed half a headway out of
			// phase.
			if dir == 1 {
				dep += period.headwaySecs / 2
			}
			for n := 0; n < perDirection && dep < period.endSec; n++ {
				out = append(out, models.Departure{
					RouteID:          routeID,
					RouteShortName:   shortName,
					RouteColor:       info.Color,
					Headsign:         dest,
					StopID:           stopID,
					DepartureSeconds: dep,
					MinutesUntil:     (dep - nowSec) / 60,
					FrequencyBased:   true,
				})
				dep += period.headwaySecs
			}
		}
	}
	return out, nil
}

// stripRouteToken extracts the first native token of a route ID as a
// fallback short name.
func stripRouteToken(routeID string, e *Engine) string {
	short := e.norm.StripKnownPrefix(routeID)
	if i := strings.IndexByte(short, '_'); i > 0 {
		short = short[:i]
	}
	return short
}
