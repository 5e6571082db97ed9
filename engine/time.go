package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY KEY - Calendar day used as the aggregate partition key
// =============================================================================

const dayLayout = "2006-01-02"

// DayKey is a calendar day in YYYY-MM-DD form. It doubles as the storage
// key for the daily aggregate families, so point lookups never need a
// secondary index.
type DayKey string

func ParseDay(s string) (DayKey, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	return DayKey(s), nil
}

// DayOf derives the calendar day of an instant. This is done exactly once,
// at transaction creation, and never recomputed.
func DayOf(t time.Time) DayKey {
	return DayKey(t.Format(dayLayout))
}

func (d DayKey) Time() time.Time {
	t, _ := time.Parse(dayLayout, string(d))
	return t
}

func (d DayKey) Month() MonthKey  { return MonthKey(string(d)[:7]) }
func (d DayKey) AddDays(n int) DayKey {
	return DayOf(d.Time().AddDate(0, 0, n))
}
func (d DayKey) Before(other DayKey) bool { return string(d) < string(other) }
func (d DayKey) After(other DayKey) bool  { return string(d) > string(other) }
func (d DayKey) String() string           { return string(d) }

// =============================================================================
// MONTH KEY - Ledger partition key
// =============================================================================

const monthLayout = "2006-01"

// MonthKey is a calendar month in YYYY-MM form.
type MonthKey string

func ParseMonth(s string) (MonthKey, error) {
	if _, err := time.Parse(monthLayout, s); err != nil {
		return "", &ValidationError{Field: "month", Message: "must be YYYY-MM"}
	}
	return MonthKey(s), nil
}

func MonthOf(t time.Time) MonthKey {
	return MonthKey(t.Format(monthLayout))
}

func (m MonthKey) Time() time.Time {
	t, _ := time.Parse(monthLayout, string(m))
	return t
}

// Prev returns the immediately preceding calendar month. Ledger
// carry-forward only ever walks this one step backward.
func (m MonthKey) Prev() MonthKey {
	return MonthOf(m.Time().AddDate(0, -1, 0))
}

// Days returns the first and last calendar day of the month.
func (m MonthKey) Days() (DayKey, DayKey) {
	first := m.Time()
	last := first.AddDate(0, 1, -1)
	return DayOf(first), DayOf(last)
}

// ContainsDay reports whether the day falls inside this month.
func (m MonthKey) ContainsDay(d DayKey) bool {
	return d.Month() == m
}

func (m MonthKey) String() string { return string(m) }

// =============================================================================
// WEEK WINDOWS - 7-day target buckets within a month
// =============================================================================

// WeekWindow is one incentive bucket: windows start on day 1, 8, 15, 22
// and 29 of the month, with the last window truncated to the month end.
type WeekWindow struct {
	Index int    `json:"week"`
	Start DayKey `json:"start"`
	End   DayKey `json:"end"`
}

// WeekWindows returns the month's target windows in order.
func (m MonthKey) WeekWindows() []WeekWindow {
	first := m.Time()
	lastDay := first.AddDate(0, 1, -1).Day()

	var windows []WeekWindow
	for i, startDay := 0, 1; startDay <= lastDay; i, startDay = i+1, startDay+7 {
		endDay := startDay + 6
		if endDay > lastDay {
			endDay = lastDay
		}
		windows = append(windows, WeekWindow{
			Index: i + 1,
			Start: DayOf(time.Date(first.Year(), first.Month(), startDay, 0, 0, 0, 0, time.UTC)),
			End:   DayOf(time.Date(first.Year(), first.Month(), endDay, 0, 0, 0, 0, time.UTC)),
		})
	}
	return windows
}

// DaysBetween returns every day in [from, to] in ascending order.
func DaysBetween(from, to DayKey) []DayKey {
	var days []DayKey
	for d := from; !d.After(to); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// =============================================================================
// COMPOSITE KEYS
// =============================================================================

// LedgerKey builds the productCode_YYYY-MM composite key.
func LedgerKey(code ProductCode, month MonthKey) string {
	return fmt.Sprintf("%s_%s", code, month)
}

// ProductDayKey builds the date_productCode composite key.
func ProductDayKey(date DayKey, code ProductCode) string {
	return fmt.Sprintf("%s_%s", date, code)
}
