package warehouse

import (
	"time"
)

// =============================================================================
// TIME POINT - Day-grained time abstraction
// =============================================================================

// TimePoint is a calendar date in UTC. All effective/end dates and period
// start dates in the warehouse are day-grained; nothing in the engine cares
// about hours or time zones.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func TimePointFrom(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseTimePoint parses a YYYY-MM-DD date string.
func ParseTimePoint(s string) (TimePoint, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TimePoint{}, err
	}
	return TimePointFrom(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePointFrom(tp.Time.AddDate(0, 0, n)) }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePointFrom(tp.Time.AddDate(0, n, 0)) }
func (tp TimePoint) AddYears(n int) TimePoint  { return TimePointFrom(tp.Time.AddDate(n, 0, 0)) }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format("2006-01-02")
}

// =============================================================================
// MONTH HELPERS - The fact grain is monthly
// =============================================================================

// StartOfMonth truncates the date to the first day of its month.
func (tp TimePoint) StartOfMonth() TimePoint {
	return NewTimePoint(tp.Year(), tp.Month(), 1)
}

// EndOfMonth returns the last day of the date's month.
func (tp TimePoint) EndOfMonth() TimePoint {
	return tp.StartOfMonth().AddMonths(1).AddDays(-1)
}

// PeriodKey derives the monthly period key (YYYYMM) for the date.
// The key is a pure function of the date: the same date always maps to the
// same period regardless of what dim_time currently contains.
func (tp TimePoint) PeriodKey() PeriodKey {
	return PeriodKey(tp.Year()*100 + int(tp.Month()))
}

// MonthsBetween returns the number of whole months from a to b
// (negative when b is before a). Day-of-month is ignored.
func MonthsBetween(a, b TimePoint) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
