// Package dateparse turns the short due-date phrases the CLI accepts into
// concrete dates for reminders.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDue resolves a due-date phrase against the current time. The result
// is local midnight of the resolved day.
//
// Accepted forms:
//   - Exact dates: "2026-03-01"
//   - Relative offsets: "+7d", "+2w", "+1m"
//   - Day names: "monday" .. "sunday" (next occurrence)
//   - Keywords: "today", "tomorrow", "next-week", "next-month"
func ParseDue(input string) (time.Time, error) {
	return ParseDueFrom(input, time.Now())
}

// ParseDueFrom resolves a due-date phrase against a fixed reference time,
// for deterministic tests.
func ParseDueFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty due date")
	}

	if t, err := time.ParseInLocation("2006-01-02", input, now.Location()); err == nil {
		return t, nil
	}

	switch input {
	case "today":
		return midnight(now), nil
	case "tomorrow":
		return midnight(now.AddDate(0, 0, 1)), nil
	case "next-week":
		return midnight(now.AddDate(0, 0, daysToWeekday(now, time.Monday))), nil
	case "next-month":
		year, month, _ := now.Date()
		return time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location()), nil
	}

	if strings.HasPrefix(input, "+") && len(input) >= 3 {
		unit := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			switch unit {
			case 'd':
				return midnight(now.AddDate(0, 0, n)), nil
			case 'w':
				return midnight(now.AddDate(0, 0, n*7)), nil
			case 'm':
				return midnight(now.AddDate(0, n, 0)), nil
			default:
				return time.Time{}, fmt.Errorf("unknown offset unit %q in %q (use d, w, or m)", string(unit), input)
			}
		}
	}

	if target, ok := weekdays[input]; ok {
		return midnight(now.AddDate(0, 0, daysToWeekday(now, target))), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized due date %q", input)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// daysToWeekday returns the days until the next occurrence of target,
// always at least one.
func daysToWeekday(now time.Time, target time.Weekday) int {
	d := (int(target) - int(now.Weekday()) + 7) % 7
	if d == 0 {
		d = 7
	}
	return d
}

func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
