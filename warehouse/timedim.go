/*
timedim.go - Time dimension generator

PURPOSE:
  Materializes the monthly calendar dimension over a configured horizon.
  Generation is a pure function of (start period, end period, reference
  date): given the same inputs it always produces the same rows, which is
  what makes the destructive wholesale rebuild safe.

DERIVATION RULES (fixed, documented):
  Quarter:      calendar quarter, (month-1)/3 + 1
  Fiscal year:  starts in October; Oct 2024 - Sep 2025 is FY2025
  Season:       Dec-Feb Winter, Mar-May Spring, Jun-Aug Summer, Sep-Nov Fall
  IsCurrent:    true for the period containing the reference date
  PeriodsAgo:   whole months between the period and the reference period,
                0 for the current period, negative for future periods

The reference date is an explicit parameter, never wall-clock time read
inside the generator.
*/
package warehouse

import "time"

// FiscalYearStartMonth is the first month of the fiscal year. A period in
// or after this month belongs to the next calendar year's fiscal year.
const FiscalYearStartMonth = time.October

// GenerateTimePeriods produces one TimePeriod per calendar month in
// [start, end] inclusive. Returns ErrInvalidPeriodRange (no rows) when end
// precedes start.
func GenerateTimePeriods(start, end PeriodKey, reference TimePoint) ([]TimePeriod, error) {
	if end.StartDate().Before(start.StartDate()) {
		return nil, &RangeError{From: start.String(), To: end.String()}
	}

	refPeriod := reference.PeriodKey()
	months := MonthsBetween(start.StartDate(), end.StartDate()) + 1

	periods := make([]TimePeriod, 0, months)
	for cur := start.StartDate(); cur.BeforeOrEqual(end.StartDate()); cur = cur.AddMonths(1) {
		key := cur.PeriodKey()
		periods = append(periods, TimePeriod{
			PeriodKey:       key,
			StartDate:       cur,
			EndDate:         cur.EndOfMonth(),
			Year:            cur.Year(),
			Quarter:         (int(cur.Month())-1)/3 + 1,
			FiscalYear:      fiscalYear(cur),
			Season:          season(cur.Month()),
			IsCurrentPeriod: key == refPeriod,
			PeriodsAgo:      MonthsBetween(cur, refPeriod.StartDate()),
		})
	}
	return periods, nil
}

func fiscalYear(tp TimePoint) int {
	if tp.Month() >= FiscalYearStartMonth {
		return tp.Year() + 1
	}
	return tp.Year()
}

func season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Fall"
	}
}
