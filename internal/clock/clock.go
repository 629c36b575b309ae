// Package clock provides the single wall-clock source the rest of the
// Cloud uses, fixed to Asia/Ho_Chi_Minh as spec'd for all gate-visible
// timestamps.
package clock

import "time"

var location = mustLoadLocation("Asia/Ho_Chi_Minh")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// fixed offset fallback, no DST in this zone so this is exact
		return time.FixedZone(name, 7*60*60)
	}
	return loc
}

// Now returns the current time in the Cloud's fixed zone.
func Now() time.Time {
	return time.Now().In(location)
}

// Location returns the Cloud's fixed timezone.
func Location() *time.Location {
	return location
}
