// Package dateparse turns the date shorthands people type at the CLI into
// the YYYY-MM-DD form stored on records. Inspection dates look backwards,
// so relative forms count into the past.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layout is the stored date form.
const Layout = "2006-01-02"

var layouts = []string{Layout, "2006/01/02", "2006.01.02", "20060102"}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// Parse is ParseFrom against the local clock.
func Parse(input string) (string, error) {
	return ParseFrom(input, time.Now())
}

// ParseFrom resolves input relative to now. Accepted forms:
//
//	2026-03-01, 2026/03/01, 2026.03.01, 20260301
//	today, yesterday
//	-3d, -2w, -1m    (days, weeks, months ago; "3d" means the same)
//	monday, mon, ... (most recent such day, today included)
func ParseFrom(input string, now time.Time) (string, error) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return "", fmt.Errorf("empty date")
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, in); err == nil {
			return t.Format(Layout), nil
		}
	}

	switch in {
	case "today":
		return now.Format(Layout), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format(Layout), nil
	}

	if wd, ok := weekdays[in]; ok {
		back := (int(now.Weekday()) - int(wd) + 7) % 7
		return now.AddDate(0, 0, -back).Format(Layout), nil
	}

	if t, ok := offset(in, now); ok {
		return t.Format(Layout), nil
	}
	return "", fmt.Errorf("unrecognized date %q", input)
}

func offset(in string, now time.Time) (time.Time, bool) {
	in = strings.TrimPrefix(in, "-")
	if len(in) < 2 || in[0] < '0' || in[0] > '9' {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(in[:len(in)-1])
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	switch in[len(in)-1] {
	case 'd':
		return now.AddDate(0, 0, -n), true
	case 'w':
		return now.AddDate(0, 0, -7*n), true
	case 'm':
		return now.AddDate(0, -n, 0), true
	}
	return time.Time{}, false
}

// IsDateField reports whether a record field holds a calendar date and
// should go through Parse. Field names follow the camelCase convention of
// the table definitions, e.g. testDate or sampleDate.
func IsDateField(name string) bool {
	return name == "date" || strings.HasSuffix(name, "Date")
}
