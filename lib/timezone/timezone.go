package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
}

// force timezone to be where the school district is because the
// host box may be set to UTC which will cause disturbances when
// manipulating dates based on <time.Time>.Year()/Month()/Day()/Hour()/...
func Now() time.Time {
	return time.Now().In(Location)
}

// whole days elapsed since t, floored at zero
func DaysSince(now, t time.Time) int {
	days := int(now.In(Location).Sub(t.In(Location)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
