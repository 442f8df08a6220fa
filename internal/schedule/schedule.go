package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is an open interval within a single day, e.g. 08:00-17:30.
// End is exclusive: a business open 09:00-17:00 is closed at exactly 17:00.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Weekly describes an organization's business hours, evaluated in the
// organization's IANA timezone so DST transitions shift wall-clock windows
// the way the business expects.
type Weekly struct {
	Timezone string                   `json:"timezone"`
	Days     map[time.Weekday][]Window `json:"days"`
}

// Location resolves the schedule's timezone, defaulting to UTC.
func (w *Weekly) Location() (*time.Location, error) {
	tz := strings.TrimSpace(w.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// IsOpen reports whether now falls inside any window for its weekday.
func (w *Weekly) IsOpen(now time.Time) (bool, error) {
	loc, err := w.Location()
	if err != nil {
		return false, err
	}
	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	for _, win := range w.Days[local.Weekday()] {
		start, err := parseClock(win.Start)
		if err != nil {
			return false, err
		}
		end, err := parseClock(win.End)
		if err != nil {
			return false, err
		}
		if minutes >= start && minutes < end {
			return true, nil
		}
	}
	return false, nil
}

// WindowsOn returns the concrete open intervals for the given calendar day.
func (w *Weekly) WindowsOn(day time.Time) ([]Interval, error) {
	loc, err := w.Location()
	if err != nil {
		return nil, err
	}
	local := day.In(loc)
	var out []Interval
	for _, win := range w.Days[local.Weekday()] {
		start, err := parseClock(win.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(win.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			continue
		}
		out = append(out, Interval{
			Start: time.Date(local.Year(), local.Month(), local.Day(), start/60, start%60, 0, 0, loc),
			End:   time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc),
		})
	}
	return out, nil
}

// Interval is a concrete half-open [Start, End) span.
type Interval struct {
	Start time.Time
	End   time.Time
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(v string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("schedule: invalid clock value %q", v)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("schedule: invalid hour in %q", v)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("schedule: invalid minute in %q", v)
	}
	return hh*60 + mm, nil
}

// ParseClock is the exported form used by reminder time-of-day settings.
func ParseClock(v string) (hour, minute int, err error) {
	total, err := parseClock(v)
	if err != nil {
		return 0, 0, err
	}
	return total / 60, total % 60, nil
}
