package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time component or location.
// The zero value is not a valid date.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return DateOf(t, time.UTC), nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n calendar days after d. Negative n moves backwards.
func (d Date) AddDays(n int) Date {
	return DateOf(d.midnightUTC().AddDate(0, 0, n), time.UTC)
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.midnightUTC().Weekday()
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.midnightUTC().Before(other.midnightUTC())
}

// DaysSince returns the number of calendar days from other to d.
func (d Date) DaysSince(other Date) int {
	return int(d.midnightUTC().Sub(other.midnightUTC()).Hours() / 24)
}

// TimeOfDay is a wall clock time in hours and minutes.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses an HH:MM string in 24-hour notation.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String renders the time as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Rule describes when a daily session occurs.
type Rule struct {
	Location  *time.Location
	TimeOfDay TimeOfDay
	Weekdays  []time.Weekday
}

// Occurrence represents a single expanded occurrence of a rule.
type Occurrence struct {
	Date  Date
	Start time.Time
}

// Engine evaluates rules against calendar dates.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine. loc is used for rules that carry no location.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

var (
	// ErrInvalidDate indicates a date string could not be parsed.
	ErrInvalidDate = errors.New("recurrence: invalid date")
	// ErrInvalidTimeOfDay indicates a time of day string could not be parsed.
	ErrInvalidTimeOfDay = errors.New("recurrence: invalid time of day")
	// ErrInvalidWeekday indicates a weekday outside 0 (Sunday) to 6 (Saturday).
	ErrInvalidWeekday = errors.New("recurrence: invalid weekday")
	// ErrInvalidTimezone indicates the IANA zone name could not be loaded.
	ErrInvalidTimezone = errors.New("recurrence: invalid timezone")
	// ErrInvalidWindow indicates an empty or negative expansion window.
	ErrInvalidWindow = errors.New("recurrence: window must cover at least one day")
)

// LoadLocation resolves an IANA timezone name.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// ParseWeekdays converts numeric weekdays (Sunday = 0) into a sorted, de-duplicated set.
func ParseWeekdays(values []int) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]struct{}, len(values))
	days := make([]time.Weekday, 0, len(values))
	for _, v := range values {
		if v < 0 || v > 6 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidWeekday, v)
		}
		day := time.Weekday(v)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

func (e *Engine) locationFor(rule Rule) *time.Location {
	if rule.Location != nil {
		return rule.Location
	}
	if e != nil && e.location != nil {
		return e.location
	}
	return time.UTC
}

// Today returns the calendar date of now in the rule's timezone.
func (e *Engine) Today(rule Rule, now time.Time) Date {
	return DateOf(now, e.locationFor(rule))
}

// Occurs reports whether the rule schedules an occurrence on day.
func (e *Engine) Occurs(rule Rule, day Date) bool {
	weekday := day.Weekday()
	for _, d := range rule.Weekdays {
		if d == weekday {
			return true
		}
	}
	return false
}

// StartInstant returns the absolute instant at which the occurrence on day begins.
//
// Wall clock times that do not exist because of a daylight saving gap are
// normalized forward by time.Date.
func (e *Engine) StartInstant(rule Rule, day Date) time.Time {
	loc := e.locationFor(rule)
	return time.Date(day.Year, day.Month, day.Day, rule.TimeOfDay.Hour, rule.TimeOfDay.Minute, 0, 0, loc)
}

// Upcoming expands the rule over days consecutive calendar dates starting at from.
func (e *Engine) Upcoming(rule Rule, from Date, days int) ([]Occurrence, error) {
	if days <= 0 {
		return nil, ErrInvalidWindow
	}
	occurrences := make([]Occurrence, 0, days)
	for i := 0; i < days; i++ {
		day := from.AddDays(i)
		if !e.Occurs(rule, day) {
			continue
		}
		occurrences = append(occurrences, Occurrence{
			Date:  day,
			Start: e.StartInstant(rule, day),
		})
	}
	return occurrences, nil
}
