package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DAY - Calendar day (leave dates, delegation windows)
// =============================================================================

// Day is a calendar day in UTC. The zero value is "no date".
type Day struct {
	Time time.Time
}

const dayLayout = "2006-01-02"

// NewDay builds a day at midnight UTC.
func NewDay(year int, month time.Month, day int) Day {
	return Day{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its calendar day (in UTC).
func DayOf(t time.Time) Day {
	t = t.UTC()
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses "YYYY-MM-DD".
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("%w: invalid date %q", ErrInvalidInput, s)
	}
	return DayOf(t), nil
}

// Comparison
func (d Day) Before(other Day) bool        { return d.Time.Before(other.Time) }
func (d Day) After(other Day) bool         { return d.Time.After(other.Time) }
func (d Day) Equal(other Day) bool         { return d.Time.Equal(other.Time) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.Before(other) }
func (d Day) IsZero() bool                 { return d.Time.IsZero() }

// AddDays returns d shifted by n days.
func (d Day) AddDays(n int) Day { return Day{Time: d.Time.AddDate(0, 0, n)} }

// Month returns the payroll month containing d.
func (d Day) Month() MonthKey { return MonthOf(d.Time) }

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(dayLayout)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween counts whole days from a to b (negative when b is before a).
func DaysBetween(a, b Day) int {
	return int(b.Time.Sub(a.Time).Hours() / 24)
}

// InclusiveDays counts the days in [from, to].
func InclusiveDays(from, to Day) int {
	return DaysBetween(from, to) + 1
}

// =============================================================================
// MONTH KEY - Payroll month ("2025-01")
// =============================================================================

// MonthKey identifies a payroll month as "YYYY-MM". Keys sort
// lexicographically in calendar order.
type MonthKey string

const monthLayout = "2006-01"

// NewMonthKey builds a key from year and month.
func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKey(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) MonthKey {
	t = t.UTC()
	return NewMonthKey(t.Year(), t.Month())
}

// ParseMonthKey validates s as "YYYY-MM".
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: invalid month %q", ErrInvalidInput, s)
	}
	return MonthOf(t), nil
}

// Start returns the first day of the month.
func (m MonthKey) Start() Day {
	t, err := time.Parse(monthLayout, string(m))
	if err != nil {
		return Day{}
	}
	return DayOf(t)
}

// End returns the last day of the month.
func (m MonthKey) End() Day {
	start := m.Start()
	if start.IsZero() {
		return Day{}
	}
	return Day{Time: start.Time.AddDate(0, 1, -1)}
}

// Next returns the following month.
func (m MonthKey) Next() MonthKey {
	return MonthOf(m.Start().Time.AddDate(0, 1, 0))
}

func (m MonthKey) Before(other MonthKey) bool { return m < other }
func (m MonthKey) After(other MonthKey) bool  { return m > other }
func (m MonthKey) IsZero() bool               { return m == "" }
func (m MonthKey) String() string             { return string(m) }

// InRange reports whether m lies in [from, to]; a nil upper bound is open.
func (m MonthKey) InRange(from MonthKey, to *MonthKey) bool {
	if m.Before(from) {
		return false
	}
	if to != nil && m.After(*to) {
		return false
	}
	return true
}
