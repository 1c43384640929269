package domain

import (
	"fmt"
	"sort"
	"time"
)

// DayFormat is the ISO calendar-day layout used in checkpoints and logs.
const DayFormat = "2006-01-02"

// Day constructs a UTC calendar day.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Midnight truncates t to its UTC calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey renders a day as its ISO form, the canonical set/map key.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// ParseDay parses an ISO calendar day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return t, nil
}

// DateRange is a closed range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates and normalizes a closed day range.
func NewDateRange(start, end time.Time) (DateRange, error) {
	start, end = Midnight(start), Midnight(end)
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("invalid date range: start %s is after end %s",
			DayKey(start), DayKey(end))
	}
	return DateRange{Start: start, End: end}, nil
}

// Days returns every day in the range in ascending order.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether day falls within the range.
func (r DateRange) Contains(day time.Time) bool {
	day = Midnight(day)
	return !day.Before(r.Start) && !day.After(r.End)
}

func (r DateRange) String() string {
	return DayKey(r.Start) + ".." + DayKey(r.End)
}

// DateSet is a set of calendar days keyed by their ISO form.
type DateSet map[string]time.Time

// NewDateSet builds a set from the given days.
func NewDateSet(days ...time.Time) DateSet {
	s := make(DateSet, len(days))
	for _, d := range days {
		s.Add(d)
	}
	return s
}

// Add inserts a day into the set.
func (s DateSet) Add(day time.Time) {
	day = Midnight(day)
	s[DayKey(day)] = day
}

// Has reports membership.
func (s DateSet) Has(day time.Time) bool {
	_, ok := s[DayKey(day)]
	return ok
}

// Union returns a new set holding every day present in either set.
func (s DateSet) Union(other DateSet) DateSet {
	out := make(DateSet, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Days returns the set's members in ascending order.
func (s DateSet) Days() []time.Time {
	days := make([]time.Time, 0, len(s))
	for _, d := range s {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
