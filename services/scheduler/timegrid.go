// Package scheduler fires the daily capture and processing triggers. The
// broadcast grid is configured as local wall-clock times; triggers are
// derived into UTC cron expressions for the current date and re-derived at
// local midnight, so a DST shift moves the UTC firing times with the wall
// clock instead of drifting an hour.
package scheduler

import (
	"fmt"
	"time"
)

// timeOfDayLayout is the grid's wall-clock format, e.g. "17:05".
const timeOfDayLayout = "15:04"

// ParseTimeOfDay validates a grid time like "17:05".
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse(timeOfDayLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("bad time of day %q, want HH:MM: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// LocalToUTC resolves a wall-clock time of day in loc on the given date to
// the concrete UTC instant. The date's own UTC offset is used, which is
// what makes the derivation DST-correct for that date.
func LocalToUTC(date time.Time, timeOfDay string, loc *time.Location) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	local := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
	return local.UTC(), nil
}

// UTCCronSpec renders the UTC instant as a standard five-field daily cron
// expression ("M H * * *"). The spec is only valid for dates sharing the
// source date's UTC offset; the day-rollover re-derivation keeps it fresh.
func UTCCronSpec(date time.Time, timeOfDay string, loc *time.Location) (string, error) {
	utc, err := LocalToUTC(date, timeOfDay, loc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", utc.Minute(), utc.Hour()), nil
}

// OffsetCronSpec is UTCCronSpec shifted by d, for triggers anchored
// relative to a grid time (e.g. processing catch-up two minutes after a
// block ends).
func OffsetCronSpec(date time.Time, timeOfDay string, loc *time.Location, d time.Duration) (string, error) {
	utc, err := LocalToUTC(date, timeOfDay, loc)
	if err != nil {
		return "", err
	}
	utc = utc.Add(d)
	return fmt.Sprintf("%d %d * * *", utc.Minute(), utc.Hour()), nil
}
