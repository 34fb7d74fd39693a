package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenfeJSONDecode(t *testing.T) {
	body := []byte(`{
		"header": {"gtfsRealtimeVersion": "2.0"},
		"entity": [
			{
				"id": "1",
				"vehicle": {
					"trip": {"tripId": "R12345"},
					"vehicle": {"id": "v9", "label": "C4-21043-PLATF.(3)"},
					"position": {"latitude": 40.406, "longitude": -3.689},
					"currentStatus": "STOPPED_AT",
					"stopId": "17000",
					"timestamp": "1700000400"
				}
			},
			{
				"id": "u1",
				"tripUpdate": {
					"trip": {"tripId": "R12345"},
					"stopTimeUpdate": [
						{
							"stopId": "17000",
							"departure": {"delay": 240, "time": "1700000640"}
						}
					]
				}
			},
			{
				"id": "a1",
				"alert": {
					"cause": "MAINTENANCE",
					"effect": "SIGNIFICANT_DELAYS",
					"activePeriod": [{"start": "1700000000"}],
					"headerText": {
						"translation": [
							{"text": "Obras en la vía", "language": "es"},
							{"text": "Track works", "language": "en"}
						]
					},
					"informedEntity": [{"routeId": "C4"}]
				}
			}
		]
	}`)

	got, err := (&RenfeJSON{PlatformRule: RuleLabel}).Decode(KindVehiclePositions, body, time.Now())
	require.NoError(t, err)

	require.Len(t, got.Positions, 1)
	vp := got.Positions[0]
	assert.Equal(t, "v9", vp.VehicleID)
	assert.Equal(t, "R12345", vp.TripID)
	assert.Equal(t, "3", vp.Platform)
	assert.Equal(t, "17000", vp.StopID)
	assert.Equal(t, time.Unix(1700000400, 0).UTC(), vp.Timestamp)

	require.Len(t, got.Updates, 1)
	tu := got.Updates[0]
	assert.Equal(t, "R12345", tu.TripID)
	require.NotNil(t, tu.DelaySecs)
	assert.Equal(t, 240, *tu.DelaySecs)

	require.Len(t, got.Alerts, 1)
	al := got.Alerts[0]
	assert.Equal(t, "MAINTENANCE", al.Cause)
	assert.Equal(t, "Obras en la vía", al.Header)
	assert.Nil(t, al.End)
}

func TestRenfeJSONGarbage(t *testing.T) {
	_, err := (&RenfeJSON{}).Decode(KindVehiclePositions, []byte("<html>503</html>"), time.Now())
	assert.ErrorIs(t, err, ErrDecodeFailure)
}
