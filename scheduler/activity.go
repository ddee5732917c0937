package scheduler

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ActivityWindow is one allowed local-time interval. A window with
// End < Start wraps past midnight.
type ActivityWindow struct {
	Start int // minutes since local midnight
	End   int
}

// ParseActivityWindows reads the `[["HH:MM","HH:MM"], ...]` format. An
// empty string means no restriction.
func ParseActivityWindows(raw string) ([]ActivityWindow, error) {
	if raw == "" {
		return nil, nil
	}
	var pairs [][]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, errors.Wrap(err, "invalid activity windows JSON")
	}
	windows := make([]ActivityWindow, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, errors.Errorf("activity window needs two times, got %d", len(p))
		}
		start, err := parseClock(p[0])
		if err != nil {
			return nil, err
		}
		end, err := parseClock(p[1])
		if err != nil {
			return nil, err
		}
		windows = append(windows, ActivityWindow{Start: start, End: end})
	}
	return windows, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// WithinWindows reports whether the local time falls inside any window.
// No windows means always active.
func WithinWindows(local time.Time, windows []ActivityWindow) bool {
	if len(windows) == 0 {
		return true
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range windows {
		if w.Start <= w.End {
			if minute >= w.Start && minute < w.End {
				return true
			}
			continue
		}
		// Wraps midnight: 22:00-02:00 covers [22:00,24:00) and [00:00,02:00).
		if minute >= w.Start || minute < w.End {
			return true
		}
	}
	return false
}

// windowsFor picks the weekend or weekday window JSON for a local day.
func windowsFor(local time.Time, weekdaysJSON, weekendsJSON string) (string, bool) {
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return weekendsJSON, true
	}
	return weekdaysJSON, false
}

// scaleMinutes stretches or shrinks an interval by the account activity
// percent: 0% -> x1.5, 50% -> x1.0, 100% -> x0.5. Never below minValue.
func scaleMinutes(baseMinutes, percent, minValue int) int {
	factor := 1.5 - float64(percent)/100
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 1.5 {
		factor = 1.5
	}
	scaled := int(float64(baseMinutes)*factor + 0.5)
	if scaled < minValue {
		return minValue
	}
	return scaled
}

// activityFactor scales reply probabilities and caps by the account
// activity percent: 0% -> 0.5, 50% -> 1.0, 100% -> 1.5.
func activityFactor(percent int) float64 {
	return 0.5 + float64(percent)/100
}
