package departures

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

// Scenario: overlapping frequency windows duplicate a departure 60 s
// apart; the earlier one survives.
func TestDedupeDropsNearDuplicates(t *testing.T) {
	deps := []models.Departure{
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28800},
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28860},
	}
	out := dedupe(deps)
	require.Len(t, out, 1)
	require.Equal(t, 28800, out[0].DepartureSeconds)
}

func TestDedupeKeepsDistinctHeadsigns(t *testing.T) {
	deps := []models.Departure{
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28800},
		{RouteShortName: "C1", Headsign: "Utrera", DepartureSeconds: 28860},
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28890},
	}
	out := dedupe(deps)
	require.Len(t, out, 2)
}

func TestDedupeExactGapSurvives(t *testing.T) {
	deps := []models.Departure{
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28800},
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28890}, // exactly 90 s
	}
	require.Len(t, dedupe(deps), 2)
}

// Real-time-backed departures are never deduplicated.
func TestDedupeSkipsRealtimeBacked(t *testing.T) {
	delay := 120
	deps := []models.Departure{
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28800},
		{RouteShortName: "C1", Headsign: "Lora", DepartureSeconds: 28860, DelaySeconds: &delay},
	}
	require.Len(t, dedupe(deps), 2)
}

func TestOperatingWindow(t *testing.T) {
	rows := []store.FrequencyRow{
		{StartSec: 21600, EndSec: 32400, HeadwaySecs: 300},
		{StartSec: 32400, EndSec: 0, HeadwaySecs: 600}, // end 0 = until midnight
		{StartSec: 0, EndSec: 93600, HeadwaySecs: 300}, // aggregate, ignored
	}
	w := windowFor(rows)
	require.True(t, w.ok)
	require.Equal(t, 21600, w.startSec)
	require.Equal(t, 86400, w.endSec)
	require.True(t, w.contains(21600))
	require.True(t, w.contains(80000))
	require.False(t, w.contains(3600))

	// No valid rows: assume running.
	open := windowFor(nil)
	require.True(t, open.contains(0))
}

func TestOvernightWindow(t *testing.T) {
	w := windowFor([]store.FrequencyRow{
		{StartSec: 21600, EndSec: 90000, HeadwaySecs: 300}, // runs until 01:00
	})
	require.True(t, w.overnight())
	require.True(t, w.contains(88000))
	require.True(t, w.contains(1800)) // 00:30, previous service day
	require.False(t, w.contains(10800))
}

func TestPickPeriod(t *testing.T) {
	rows := []store.FrequencyRow{
		{StartSec: 21600, EndSec: 32400, HeadwaySecs: 300},
		{StartSec: 32400, EndSec: 79200, HeadwaySecs: 600},
		{StartSec: 0, EndSec: 93600, HeadwaySecs: 120}, // aggregate
	}

	p, ok := pickPeriod(rows, 25000)
	require.True(t, ok)
	require.Equal(t, 300, p.headwaySecs)

	// Exactly at a boundary the next period takes over.
	p, ok = pickPeriod(rows, 32400)
	require.True(t, ok)
	require.Equal(t, 600, p.headwaySecs)

	// Before service starts, the upcoming period is returned.
	p, ok = pickPeriod(rows, 18000)
	require.True(t, ok)
	require.Equal(t, 21600, p.startSec)

	_, ok = pickPeriod(rows, 80000)
	require.False(t, ok)
}

func TestCivisTable(t *testing.T) {
	table := DefaultCivisTable()
	require.True(t, table.IsExpress("C2", 9))
	require.False(t, table.IsExpress("C2", 10))
	require.True(t, table.IsExpress("C8a", 8))
	require.False(t, table.IsExpress("C8b", 8))
	require.False(t, table.IsExpress("C2", 0))
}
