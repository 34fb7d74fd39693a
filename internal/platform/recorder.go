// Package platform learns and backfills boarding platforms. The
// recorder half turns observed vehicle positions into the platform
// history table; the processor half copies platforms onto
// stop_time_updates after each ingestion tick.
package platform

import (
	"time"

	"github.com/andenapp/anden/internal/decode"
	"github.com/andenapp/anden/internal/ids"
	"github.com/andenapp/anden/internal/schedule"
	"github.com/andenapp/anden/internal/store"
)

// Recorder derives platform sightings from canonical vehicle positions.
type Recorder struct {
	sched *schedule.Store
	norm  *ids.Normalizer
}

func NewRecorder(sched *schedule.Store, norm *ids.Normalizer) *Recorder {
	return &Recorder{sched: sched, norm: norm}
}

// Usable reports whether a decoded position is worth learning from: the
// vehicle is at or approaching a known stop and the platform could be
// extracted.
func Usable(vp decode.VehiclePosition) bool {
	if vp.Status != "STOPPED_AT" && vp.Status != "INCOMING_AT" {
		return false
	}
	return vp.StopID != "" && vp.Platform != ""
}

// Sighting builds the history row for a position whose stop and trip
// IDs are already canonical. The route short name and headsign come
// from the schedule snapshot; an unknown trip still records under the
// bare route ID token so learning starts before reloads catch up.
func (r *Recorder) Sighting(stopID, tripID, routeID, platform string, now time.Time) (store.SightingRow, bool) {
	headsign := ""
	if snap, err := r.sched.Snapshot(); err == nil && tripID != "" {
		if info, ok := snap.Trip(tripID); ok {
			headsign = info.Headsign
			if routeID == "" {
				routeID = info.RouteID
			}
		}
	}
	if routeID == "" {
		return store.SightingRow{}, false
	}
	shortName, err := r.norm.RouteShortName(routeID, headsign)
	if err != nil || shortName == "" {
		return store.SightingRow{}, false
	}
	return store.SightingRow{
		StopID:         stopID,
		RouteShortName: shortName,
		Headsign:       headsign,
		Platform:       platform,
		Date:           time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		SeenAt:         now,
	}, true
}
