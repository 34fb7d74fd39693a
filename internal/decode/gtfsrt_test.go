package decode

import (
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func buildFeed(t *testing.T, entities []*gtfs.FeedEntity) []byte {
	t.Helper()
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1700000000),
		},
		Entity: entities,
	}
	body, err := proto.MarshalOptions{AllowPartial: true}.Marshal(feed)
	require.NoError(t, err)
	return body
}

func TestGTFSRTVehiclePositions(t *testing.T) {
	body := buildFeed(t, []*gtfs.FeedEntity{
		{
			Id: proto.String("1"),
			Vehicle: &gtfs.VehiclePosition{
				Trip:    &gtfs.TripDescriptor{TripId: proto.String("T77626")},
				Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("v1"), Label: proto.String("R4-77626-PLATF.(1)")},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(41.38),
					Longitude: proto.Float32(2.17),
				},
				CurrentStatus:       gtfs.VehiclePosition_STOPPED_AT.Enum(),
				CurrentStopSequence: proto.Uint32(4),
				StopId:              proto.String("79400"),
				Timestamp:           proto.Uint64(1700000100),
			},
		},
		{
			// No entity ID and no vehicle ID: skipped.
			Vehicle: &gtfs.VehiclePosition{
				Position: &gtfs.Position{Latitude: proto.Float32(1), Longitude: proto.Float32(1)},
			},
		},
	})

	dec := &GTFSRT{PlatformRule: RuleLabel}
	got, err := dec.Decode(KindVehiclePositions, body, time.Now())
	require.NoError(t, err)

	require.Len(t, got.Positions, 1)
	assert.Equal(t, 1, got.Skipped)

	vp := got.Positions[0]
	assert.Equal(t, "v1", vp.VehicleID)
	assert.Equal(t, "T77626", vp.TripID)
	assert.Equal(t, "STOPPED_AT", vp.Status)
	assert.Equal(t, "79400", vp.StopID)
	assert.Equal(t, "1", vp.Platform)
	require.NotNil(t, vp.Lat)
	assert.InDelta(t, 41.38, *vp.Lat, 0.0001)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), vp.Timestamp)
	require.NotNil(t, vp.StopSequence)
	assert.Equal(t, 4, *vp.StopSequence)
}

func TestGTFSRTPlatformRules(t *testing.T) {
	entity := func(stopID string, direction *uint32) *gtfs.FeedEntity {
		return &gtfs.FeedEntity{
			Id: proto.String("e"),
			Vehicle: &gtfs.VehiclePosition{
				Trip:    &gtfs.TripDescriptor{TripId: proto.String("T1"), DirectionId: direction},
				Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("v")},
				StopId:  proto.String(stopID),
			},
		}
	}

	// Euskotren: platform lives in the stop ID.
	body := buildFeed(t, []*gtfs.FeedEntity{entity("Amara_Plataforma_Q2", nil)})
	got, err := (&GTFSRT{PlatformRule: RuleStopID}).Decode(KindVehiclePositions, body, time.Now())
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, "2", got.Positions[0].Platform)

	// Metro Bilbao: direction_id 1/2 is the platform.
	dir := uint32(2)
	body = buildFeed(t, []*gtfs.FeedEntity{entity("7.0", &dir)})
	got, err = (&GTFSRT{PlatformRule: RuleDirection}).Decode(KindVehiclePositions, body, time.Now())
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, "2", got.Positions[0].Platform)

	// No rule: no platform.
	body = buildFeed(t, []*gtfs.FeedEntity{entity("7.0", &dir)})
	got, err = (&GTFSRT{PlatformRule: RuleNone}).Decode(KindVehiclePositions, body, time.Now())
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.Empty(t, got.Positions[0].Platform)
}

func TestGTFSRTTripUpdateDelays(t *testing.T) {
	body := buildFeed(t, []*gtfs.FeedEntity{
		{
			Id: proto.String("u1"),
			TripUpdate: &gtfs.TripUpdate{
				Trip:      &gtfs.TripDescriptor{TripId: proto.String("T1")},
				Timestamp: proto.Uint64(1700000000),
				StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{
					{
						StopId:  proto.String("S1"),
						Arrival: &gtfs.TripUpdate_StopTimeEvent{Delay: proto.Int32(240), Time: proto.Int64(1700000240)},
					},
					{
						StopId:    proto.String("S2"),
						Departure: &gtfs.TripUpdate_StopTimeEvent{Delay: proto.Int32(300)},
					},
				},
			},
		},
		{
			Id: proto.String("u2"),
			TripUpdate: &gtfs.TripUpdate{
				Trip:  &gtfs.TripDescriptor{TripId: proto.String("T2")},
				Delay: proto.Int32(60),
				StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{
					{
						StopId:  proto.String("S3"),
						Arrival: &gtfs.TripUpdate_StopTimeEvent{Delay: proto.Int32(999)},
					},
				},
			},
		},
		{
			// Missing trip descriptor: skipped.
			Id:         proto.String("u3"),
			TripUpdate: &gtfs.TripUpdate{},
		},
	})

	got, err := (&GTFSRT{}).Decode(KindTripUpdates, body, time.Now())
	require.NoError(t, err)
	require.Len(t, got.Updates, 2)
	assert.Equal(t, 1, got.Skipped)

	// Trip-level delay absent: first stop_time_update's arrival wins.
	u1 := got.Updates[0]
	assert.Equal(t, "T1", u1.TripID)
	require.NotNil(t, u1.DelaySecs)
	assert.Equal(t, 240, *u1.DelaySecs)
	require.Len(t, u1.StopTimes, 2)
	require.NotNil(t, u1.StopTimes[0].Arrival.Time)
	assert.Equal(t, time.Unix(1700000240, 0).UTC(), *u1.StopTimes[0].Arrival.Time)
	require.NotNil(t, u1.StopTimes[1].Departure.Delay)
	assert.Equal(t, 300, *u1.StopTimes[1].Departure.Delay)

	// Explicit trip-level delay wins over stop events.
	u2 := got.Updates[1]
	require.NotNil(t, u2.DelaySecs)
	assert.Equal(t, 60, *u2.DelaySecs)
}

func TestGTFSRTAlerts(t *testing.T) {
	body := buildFeed(t, []*gtfs.FeedEntity{
		{
			Id: proto.String("alert-1"),
			Alert: &gtfs.Alert{
				Cause:  gtfs.Alert_STRIKE.Enum(),
				Effect: gtfs.Alert_NO_SERVICE.Enum(),
				ActivePeriod: []*gtfs.TimeRange{
					{Start: proto.Uint64(1700000000), End: proto.Uint64(1700003600)},
				},
				HeaderText: &gtfs.TranslatedString{
					Translation: []*gtfs.TranslatedString_Translation{
						{Text: proto.String("Strike"), Language: proto.String("en")},
						{Text: proto.String("Huelga"), Language: proto.String("es")},
					},
				},
				DescriptionText: &gtfs.TranslatedString{
					Translation: []*gtfs.TranslatedString_Translation{
						{Text: proto.String("Servicio suspendido")},
					},
				},
				InformedEntity: []*gtfs.EntitySelector{
					{RouteId: proto.String("C4")},
					{StopId: proto.String("17000"), Trip: &gtfs.TripDescriptor{TripId: proto.String("R1")}},
				},
			},
		},
	})

	got, err := (&GTFSRT{}).Decode(KindAlerts, body, time.Now())
	require.NoError(t, err)
	require.Len(t, got.Alerts, 1)

	al := got.Alerts[0]
	assert.Equal(t, "alert-1", al.ID)
	assert.Equal(t, "STRIKE", al.Cause)
	assert.Equal(t, "NO_SERVICE", al.Effect)
	assert.Equal(t, "Huelga", al.Header)
	assert.Equal(t, "Servicio suspendido", al.Description)
	require.NotNil(t, al.Start)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *al.Start)
	require.NotNil(t, al.End)
	require.Len(t, al.Entities, 2)
	assert.Equal(t, "C4", al.Entities[0].RouteID)
	assert.Equal(t, "17000", al.Entities[1].StopID)
	assert.Equal(t, "R1", al.Entities[1].TripID)
}

func TestGTFSRTGarbage(t *testing.T) {
	_, err := (&GTFSRT{}).Decode(KindVehiclePositions, []byte("not a protobuf"), time.Now())
	assert.ErrorIs(t, err, ErrDecodeFailure)
}
