package departures

// CIVIS trains are Madrid Cercanías semi-direct services. The GTFS does
// not flag them; a trip qualifies when its route appears in the table
// and it makes at most the listed number of stops.
const (
	civisName  = "CIVIS"
	civisColor = "#2596be"
)

// CivisTable maps a route short name to the maximum stop count of its
// express trips.
type CivisTable map[string]int

// DefaultCivisTable returns the known Madrid Cercanías express services.
func DefaultCivisTable() CivisTable {
	return CivisTable{
		"C2":  9,
		"C3":  9,
		"C10": 8,
		"C8a": 8,
	}
}

// IsExpress reports whether a trip with the given stop count is a CIVIS
// run of the route. Unknown stop counts (0) never qualify.
func (t CivisTable) IsExpress(routeShortName string, stopCount int) bool {
	maxStops, ok := t[routeShortName]
	return ok && stopCount > 0 && stopCount <= maxStops
}
