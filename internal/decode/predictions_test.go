package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionsDecode(t *testing.T) {
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	body := []byte(`[
		{
			"codi_linia": 1, "codi_via": 2, "codi_estacio": 111,
			"propers_trens": [
				{
					"codi_servei": "123", "nom_linia": "L1", "temps_restant": 180,
					"desti_trajecte": "Hospital de Bellvitge", "codi_trajecte": "T1",
					"ocupacio": {"percentatge": 45, "vagons": [40, 55, 42, 44, 46]}
				},
				{"codi_servei": "", "temps_restant": 300}
			]
		},
		{
			"codi_linia": 1, "codi_via": 1, "codi_estacio": 112,
			"propers_trens": [
				{
					"codi_servei": "123", "nom_linia": "L1", "temps_restant": 420,
					"desti_trajecte": "Hospital de Bellvitge", "codi_trajecte": "T1"
				}
			]
		}
	]`)

	dec := &Predictions{Prefix: "TMB_METRO", PlatformRule: RuleField}
	got, err := dec.Decode(KindPredictions, body, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Skipped)

	// Both stations' predictions for service 123 collapse into one trip.
	require.Len(t, got.Updates, 1)
	tu := got.Updates[0]
	assert.Equal(t, "TMB_METRO_123_L1_T1", tu.TripID)
	require.Len(t, tu.StopTimes, 2)

	first := tu.StopTimes[0]
	assert.Equal(t, "1.111", first.StopID)
	assert.Equal(t, "2", first.Platform)
	assert.Equal(t, "Hospital de Bellvitge", first.Headsign)
	require.NotNil(t, first.Arrival.Time)
	assert.Equal(t, now.Add(180*time.Second), *first.Arrival.Time)
	require.NotNil(t, first.OccupancyPercent)
	assert.Equal(t, 45, *first.OccupancyPercent)
	assert.Equal(t, []int{40, 55, 42, 44, 46}, first.OccupancyPerCar)

	second := tu.StopTimes[1]
	assert.Equal(t, "1.112", second.StopID)
	assert.Equal(t, "1", second.Platform)
	require.NotNil(t, second.Arrival.Time)
	assert.Equal(t, now.Add(420*time.Second), *second.Arrival.Time)
	assert.Nil(t, second.OccupancyPercent)
}

func TestPredictionsLineFallback(t *testing.T) {
	body := []byte(`[
		{
			"codi_linia": 9, "codi_via": 1, "codi_estacio": 930,
			"propers_trens": [{"codi_servei": "7", "temps_restant": 60, "codi_trajecte": "T9"}]
		}
	]`)
	got, err := (&Predictions{Prefix: "TMB_METRO", PlatformRule: RuleField}).Decode(KindPredictions, body, time.Now())
	require.NoError(t, err)
	require.Len(t, got.Updates, 1)
	assert.Equal(t, "TMB_METRO_7_L9_T9", got.Updates[0].TripID)
}

func TestPredictionsGarbage(t *testing.T) {
	_, err := (&Predictions{Prefix: "TMB_METRO"}).Decode(KindPredictions, []byte(`{"error": "unauthorized"}`), time.Now())
	assert.ErrorIs(t, err, ErrDecodeFailure)
}
