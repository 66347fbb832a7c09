package search

import (
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/appointment-orchestrator/internal/inventory"
)

// ErrInvalidPreference rejects time preferences outside the known set.
var ErrInvalidPreference = errors.New("search: invalid time preference")

// TimePreference narrows a day to part of it.
type TimePreference string

const (
	Morning   TimePreference = "morning"
	Afternoon TimePreference = "afternoon"
	Evening   TimePreference = "evening"
	Any       TimePreference = "any"
)

// ParsePreference accepts the four preferences case-insensitively; empty means any.
func ParsePreference(value string) (TimePreference, error) {
	switch p := TimePreference(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return Any, nil
	case Morning, Afternoon, Evening, Any:
		return p, nil
	default:
		return "", ErrInvalidPreference
	}
}

// hours returns the [from, to) local clock hours of the preference.
func (p TimePreference) hours() (from, to int) {
	switch p {
	case Morning:
		return 0, 12
	case Afternoon:
		return 12, 17
	case Evening:
		return 17, 24
	default:
		return 0, 24
	}
}

// DayWindow maps a local calendar day and preference to an absolute window.
// Boundaries are built with time.Date in the day's zone so each one uses the
// UTC offset in effect at that instant; on DST change days the window is 23
// or 25 hours long rather than shifted.
func DayWindow(day time.Time, pref TimePreference) inventory.Window {
	from, to := pref.hours()
	loc := day.Location()
	start := time.Date(day.Year(), day.Month(), day.Day(), from, 0, 0, 0, loc)
	var end time.Time
	if to == 24 {
		end = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	} else {
		end = time.Date(day.Year(), day.Month(), day.Day(), to, 0, 0, 0, loc)
	}
	return inventory.Window{Start: start, End: end}
}
