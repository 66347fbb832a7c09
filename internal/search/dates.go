package search

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrAmbiguousDate is returned when a date expression cannot be pinned to a
// single calendar day.
var ErrAmbiguousDate = errors.New("search: ambiguous date")

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	ordinalSuffix = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)
	inDaysPattern = regexp.MustCompile(`^in (\d{1,3}|a|one) days?$`)
	isoPattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	slashPattern  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// normalize lowercases, drops filler words and punctuation, and strips
// ordinal suffixes so "On Dec. 25th," reads as "dec 25".
func normalize(expr string) string {
	s := strings.ToLower(strings.TrimSpace(expr))
	s = strings.NewReplacer(",", " ", ".", " ").Replace(s)
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	fields := strings.Fields(s)
	for len(fields) > 0 && (fields[0] == "on" || fields[0] == "the") {
		fields = fields[1:]
	}
	out := fields[:0]
	for _, f := range fields {
		if f == "of" {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// ResolveDate turns a natural-language date into local midnight of that day
// in loc, relative to now. Expressions that name no single day return
// ErrAmbiguousDate.
func ResolveDate(expr string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	s := normalize(expr)

	switch s {
	case "":
		return time.Time{}, ErrAmbiguousDate
	case "today", "now", "this afternoon", "this morning", "tonight", "this evening":
		return today, nil
	case "tomorrow", "tmrw", "tomorrow morning", "tomorrow afternoon", "tomorrow evening":
		return today.AddDate(0, 0, 1), nil
	case "day after tomorrow":
		return today.AddDate(0, 0, 2), nil
	}

	if m := inDaysPattern.FindStringSubmatch(s); m != nil {
		n := 1
		if m[1] != "a" && m[1] != "one" {
			n, _ = strconv.Atoi(m[1])
		}
		return today.AddDate(0, 0, n), nil
	}

	if d, ok := resolveWeekday(s, today); ok {
		return d, nil
	}

	if isoPattern.MatchString(s) {
		d, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return time.Time{}, ErrAmbiguousDate
		}
		return d, nil
	}

	if m := slashPattern.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		dayNum, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return calendarDate(year, time.Month(month), dayNum, loc)
	}

	return resolveMonthDay(s, today)
}

// resolveWeekday handles "friday", "this friday" (today counts) and
// "next friday" (strictly after today).
func resolveWeekday(s string, today time.Time) (time.Time, bool) {
	fields := strings.Fields(s)
	var (
		name   string
		strict bool
	)
	switch len(fields) {
	case 1:
		name = fields[0]
	case 2:
		switch fields[0] {
		case "this", "coming", "upcoming":
		case "next":
			strict = true
		default:
			return time.Time{}, false
		}
		name = fields[1]
	default:
		return time.Time{}, false
	}
	wd, ok := weekdays[name]
	if !ok {
		return time.Time{}, false
	}
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7
	if strict && ahead == 0 {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead), true
}

// resolveMonthDay handles "december 25", "dec 25 2024" and "25 december".
// Without a year the next occurrence on or after today is used.
func resolveMonthDay(s string, today time.Time) (time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 || len(fields) > 3 {
		return time.Time{}, ErrAmbiguousDate
	}

	var (
		month   time.Month
		dayNum  int
		year    int
		monthOK bool
		err     error
	)
	if month, monthOK = months[fields[0]]; monthOK {
		dayNum, err = strconv.Atoi(fields[1])
	} else if month, monthOK = months[fields[1]]; monthOK {
		dayNum, err = strconv.Atoi(fields[0])
	}
	if !monthOK || err != nil {
		return time.Time{}, ErrAmbiguousDate
	}
	if len(fields) == 3 {
		if year, err = strconv.Atoi(fields[2]); err != nil || year < 1000 {
			return time.Time{}, ErrAmbiguousDate
		}
		return calendarDate(year, month, dayNum, today.Location())
	}

	d, err := calendarDate(today.Year(), month, dayNum, today.Location())
	if err != nil {
		return time.Time{}, err
	}
	if d.Before(today) {
		return calendarDate(today.Year()+1, month, dayNum, today.Location())
	}
	return d, nil
}

// calendarDate rejects impossible dates such as February 30 instead of
// letting time.Date roll them over.
func calendarDate(year int, month time.Month, dayNum int, loc *time.Location) (time.Time, error) {
	if month < time.January || month > time.December || dayNum < 1 || dayNum > 31 {
		return time.Time{}, ErrAmbiguousDate
	}
	d := time.Date(year, month, dayNum, 0, 0, 0, 0, loc)
	if d.Month() != month || d.Day() != dayNum {
		return time.Time{}, ErrAmbiguousDate
	}
	return d, nil
}
