package decode

import "regexp"

// Platform extraction is operator-specific. FGC and Renfe embed it in the
// vehicle label ("R4-77626-PLATF.(1)"), Euskotren in the platform stop ID
// ("..._Plataforma_Q2"), Metro Bilbao abuses direction_id as the platform
// number, and TMB sends it as a field.

var (
	platformLabelRe  = regexp.MustCompile(`PLATF\.\((\d+)\)`)
	platformStopIDRe = regexp.MustCompile(`_Plataforma_Q(\d+)`)
)

// PlatformFromLabel pulls the platform number out of a vehicle label.
func PlatformFromLabel(label string) string {
	if m := platformLabelRe.FindStringSubmatch(label); m != nil {
		return m[1]
	}
	return ""
}

// PlatformFromStopID pulls the platform number out of a platform stop ID.
func PlatformFromStopID(stopID string) string {
	if m := platformStopIDRe.FindStringSubmatch(stopID); m != nil {
		return m[1]
	}
	return ""
}

// PlatformFromDirection maps direction_id 1/2 to a platform number.
func PlatformFromDirection(direction *uint32) string {
	if direction == nil {
		return ""
	}
	switch *direction {
	case 1:
		return "1"
	case 2:
		return "2"
	}
	return ""
}
