package models

// GTFS OccupancyStatus names used on the wire and in responses.
const (
	OccupancyEmpty        = "EMPTY"
	OccupancyManySeats    = "MANY_SEATS_AVAILABLE"
	OccupancyFewSeats     = "FEW_SEATS_AVAILABLE"
	OccupancyStandingOnly = "STANDING_ROOM_ONLY"
	OccupancyCrushed      = "CRUSHED_STANDING_ROOM_ONLY"
	OccupancyFull         = "FULL"
)

// OccupancyStatusFromPercent buckets a load percentage into the GTFS
// OccupancyStatus scale.
func OccupancyStatusFromPercent(pct int) string {
	switch {
	case pct <= 10:
		return OccupancyEmpty
	case pct <= 30:
		return OccupancyManySeats
	case pct <= 50:
		return OccupancyFewSeats
	case pct <= 70:
		return OccupancyStandingOnly
	case pct <= 85:
		return OccupancyCrushed
	default:
		return OccupancyFull
	}
}

// PercentFromOccupancyStatus maps a status back to a representative
// percentage (bucket midpoint). Unknown statuses map to -1.
func PercentFromOccupancyStatus(status string) int {
	switch status {
	case OccupancyEmpty:
		return 5
	case OccupancyManySeats:
		return 20
	case OccupancyFewSeats:
		return 40
	case OccupancyStandingOnly:
		return 60
	case OccupancyCrushed:
		return 78
	case OccupancyFull:
		return 93
	default:
		return -1
	}
}
