package decode

import (
	"fmt"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Platform rule names, matching the operator registry values.
const (
	RuleNone      = "none"
	RuleLabel     = "label"
	RuleStopID    = "stop_id"
	RuleDirection = "direction"
	RuleField     = "field"
)

// GTFSRT decodes standard GTFS-RT protobuf feeds (Metro Bilbao,
// Euskotren, FGC).
type GTFSRT struct {
	PlatformRule string
}

func (d *GTFSRT) Decode(kind FeedKind, body []byte, now time.Time) (*Entities, error) {
	feed := &gtfs.FeedMessage{}
	// Operators routinely violate proto2 required fields; tolerate that
	// and let the per-entity checks sort it out.
	um := proto.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}
	if err := um.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("%w: parse protobuf: %v", ErrDecodeFailure, err)
	}
	return walkFeed(feed, d.PlatformRule), nil
}

// walkFeed converts a FeedMessage into entities. One message may mix
// entity kinds; all are taken.
func walkFeed(feed *gtfs.FeedMessage, rule string) *Entities {
	out := &Entities{}
	for _, entity := range feed.Entity {
		switch {
		case entity.Vehicle != nil:
			vp, ok := decodeVehicle(entity, rule)
			if !ok {
				out.Skipped++
				continue
			}
			out.Positions = append(out.Positions, vp)
		case entity.TripUpdate != nil:
			tu, ok := decodeTripUpdate(entity.TripUpdate, rule)
			if !ok {
				out.Skipped++
				continue
			}
			out.Updates = append(out.Updates, tu)
		case entity.Alert != nil:
			al, ok := decodeAlert(entity)
			if !ok {
				out.Skipped++
				continue
			}
			out.Alerts = append(out.Alerts, al)
		}
	}
	return out
}

func decodeVehicle(entity *gtfs.FeedEntity, rule string) (VehiclePosition, bool) {
	v := entity.Vehicle
	vp := VehiclePosition{}

	if v.Vehicle != nil {
		vp.VehicleID = v.Vehicle.GetId()
		vp.Label = v.Vehicle.GetLabel()
	}
	if vp.VehicleID == "" {
		if entity.GetId() == "" {
			return vp, false
		}
		vp.VehicleID = "entity:" + entity.GetId()
	}

	if v.Trip != nil {
		vp.TripID = v.Trip.GetTripId()
		vp.RouteID = v.Trip.GetRouteId()
	}
	if v.Position != nil {
		if v.Position.Latitude != nil {
			lat := float64(*v.Position.Latitude)
			vp.Lat = &lat
		}
		if v.Position.Longitude != nil {
			lon := float64(*v.Position.Longitude)
			vp.Lon = &lon
		}
	}
	vp.StopID = v.GetStopId()
	if v.CurrentStopSequence != nil {
		seq := int(*v.CurrentStopSequence)
		vp.StopSequence = &seq
	}
	// IN_TRANSIT_TO is the GTFS-RT default when current_status is absent.
	vp.Status = "IN_TRANSIT_TO"
	if v.CurrentStatus != nil {
		if s, ok := statusNames[int32(*v.CurrentStatus)]; ok {
			vp.Status = s
		}
	}
	if v.Timestamp != nil {
		vp.Timestamp = time.Unix(int64(*v.Timestamp), 0).UTC()
	}

	switch rule {
	case RuleLabel:
		vp.Platform = PlatformFromLabel(vp.Label)
	case RuleStopID:
		vp.Platform = PlatformFromStopID(vp.StopID)
	case RuleDirection:
		if v.Trip != nil {
			vp.Platform = PlatformFromDirection(v.Trip.DirectionId)
		}
	}
	return vp, true
}

func decodeTripUpdate(tu *gtfs.TripUpdate, rule string) (TripUpdate, bool) {
	if tu.Trip == nil || tu.Trip.GetTripId() == "" {
		return TripUpdate{}, false
	}
	out := TripUpdate{
		TripID:  tu.Trip.GetTripId(),
		RouteID: tu.Trip.GetRouteId(),
	}
	if tu.Vehicle != nil {
		out.VehicleID = tu.Vehicle.GetId()
	}
	if tu.Timestamp != nil {
		out.Timestamp = time.Unix(int64(*tu.Timestamp), 0).UTC()
	}

	for _, stu := range tu.StopTimeUpdate {
		if stu.GetStopId() == "" {
			continue
		}
		s := StopTimeUpdate{StopID: stu.GetStopId()}
		if stu.StopSequence != nil {
			seq := int(*stu.StopSequence)
			s.StopSequence = &seq
		}
		if stu.Arrival != nil {
			if stu.Arrival.Delay != nil {
				d := int(*stu.Arrival.Delay)
				s.Arrival.Delay = &d
			}
			if stu.Arrival.Time != nil {
				t := time.Unix(*stu.Arrival.Time, 0).UTC()
				s.Arrival.Time = &t
			}
		}
		if stu.Departure != nil {
			if stu.Departure.Delay != nil {
				d := int(*stu.Departure.Delay)
				s.Departure.Delay = &d
			}
			if stu.Departure.Time != nil {
				t := time.Unix(*stu.Departure.Time, 0).UTC()
				s.Departure.Time = &t
			}
		}
		if rule == RuleStopID {
			s.Platform = PlatformFromStopID(s.StopID)
		}
		out.StopTimes = append(out.StopTimes, s)
	}

	if tu.Delay != nil {
		d := int(*tu.Delay)
		out.DelaySecs = &d
	} else if len(out.StopTimes) > 0 {
		// Trip-level delay is often absent; fall back to the first
		// stop_time_update's arrival or departure delay.
		first := out.StopTimes[0]
		if first.Arrival.Delay != nil {
			out.DelaySecs = first.Arrival.Delay
		} else if first.Departure.Delay != nil {
			out.DelaySecs = first.Departure.Delay
		}
	}
	return out, true
}

func decodeAlert(entity *gtfs.FeedEntity) (Alert, bool) {
	if entity.GetId() == "" {
		return Alert{}, false
	}
	al := entity.Alert
	out := Alert{ID: entity.GetId()}

	if al.Cause != nil {
		out.Cause = causeNames[int32(*al.Cause)]
	}
	if al.Effect != nil {
		out.Effect = effectNames[int32(*al.Effect)]
	}
	if len(al.ActivePeriod) > 0 {
		period := al.ActivePeriod[0]
		if period.Start != nil {
			t := time.Unix(int64(*period.Start), 0).UTC()
			out.Start = &t
		}
		if period.End != nil {
			t := time.Unix(int64(*period.End), 0).UTC()
			out.End = &t
		}
	}
	out.Header = pickTranslation(al.HeaderText)
	out.Description = pickTranslation(al.DescriptionText)
	out.URL = pickTranslation(al.Url)

	for _, ie := range al.InformedEntity {
		e := InformedEntity{
			AgencyID: ie.GetAgencyId(),
			RouteID:  ie.GetRouteId(),
			StopID:   ie.GetStopId(),
		}
		if ie.Trip != nil {
			e.TripID = ie.Trip.GetTripId()
		}
		out.Entities = append(out.Entities, e)
	}
	return out, true
}

// pickTranslation prefers the Spanish entry, then an untagged one, then
// the first non-empty text.
func pickTranslation(ts *gtfs.TranslatedString) string {
	if ts == nil {
		return ""
	}
	var first, untagged string
	for _, tr := range ts.Translation {
		if tr.GetText() == "" {
			continue
		}
		if first == "" {
			first = tr.GetText()
		}
		switch tr.GetLanguage() {
		case "es":
			return tr.GetText()
		case "":
			if untagged == "" {
				untagged = tr.GetText()
			}
		}
	}
	if untagged != "" {
		return untagged
	}
	return first
}
