package departures

import (
	"github.com/andenapp/anden/internal/models"
	"github.com/andenapp/anden/internal/store"
)

const (
	secondsPerDay = 86400
	// aggregateEnd marks frequency rows spanning a whole service day
	// (start 0, end past 25 h); they summarize and never define the
	// operating window.
	aggregateEnd = 25 * 3600
)

// operatingWindow is a route's first/last service seconds for one day
// type. A window with ok=false means no valid frequency rows exist and
// the route is assumed running.
type operatingWindow struct {
	startSec int
	endSec   int
	ok       bool
}

func (w operatingWindow) overnight() bool { return w.endSec > secondsPerDay }

// contains reports whether a scheduled departure falls inside the
// window. Overnight windows also admit early-morning seconds that
// belong to the previous service day.
func (w operatingWindow) contains(sec int) bool {
	if !w.ok {
		return true
	}
	if sec >= w.startSec && sec <= w.endSec {
		return true
	}
	if w.overnight() && sec+secondsPerDay <= w.endSec {
		return true
	}
	return false
}

// isAggregateRow identifies the whole-day summary rows excluded from
// window computation.
func isAggregateRow(f store.FrequencyRow) bool {
	return f.StartSec == 0 && f.EndSec >= aggregateEnd
}

// normalizeEnd resolves the end_time=00:00:00 overload: zero means
// "until midnight".
func normalizeEnd(endSec int) int {
	if endSec == 0 {
		return secondsPerDay
	}
	return endSec
}

// OperatingHours summarizes a route's frequency rows into per-day-type
// first/last service windows. Day types without valid rows are omitted.
func OperatingHours(rows []store.FrequencyRow) []models.OperatingWindow {
	byDay := make(map[string][]store.FrequencyRow)
	var order []string
	for _, f := range rows {
		if byDay[f.DayType] == nil {
			order = append(order, f.DayType)
		}
		byDay[f.DayType] = append(byDay[f.DayType], f)
	}
	var out []models.OperatingWindow
	for _, day := range order {
		w := windowFor(byDay[day])
		if !w.ok {
			continue
		}
		out = append(out, models.OperatingWindow{
			DayType:      day,
			FirstSeconds: w.startSec,
			LastSeconds:  w.endSec,
			Overnight:    w.overnight(),
		})
	}
	return out
}

// windowFor derives the operating window of one route from its
// frequency rows for the effective day type.
func windowFor(rows []store.FrequencyRow) operatingWindow {
	w := operatingWindow{}
	for _, f := range rows {
		if isAggregateRow(f) || f.HeadwaySecs <= 0 {
			continue
		}
		end := normalizeEnd(f.EndSec)
		if !w.ok {
			w = operatingWindow{startSec: f.StartSec, endSec: end, ok: true}
			continue
		}
		if f.StartSec < w.startSec {
			w.startSec = f.StartSec
		}
		if end > w.endSec {
			w.endSec = end
		}
	}
	return w
}
