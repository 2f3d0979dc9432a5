package booking

import "time"

const dateLayout = "2006-01-02"

// DateOptions returns the next days dates in loc, today first, as YYYY-MM-DD.
func DateOptions(now time.Time, days int, loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}
	today := now.In(loc)
	out := make([]string, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, today.AddDate(0, 0, i).Format(dateLayout))
	}
	return out
}
