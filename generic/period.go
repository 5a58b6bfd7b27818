package generic

import (
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range (leave absences)
// =============================================================================

// Period is an inclusive [Start, End] range of calendar days.
type Period struct {
	Start Date
	End   Date
}

// NewPeriod validates that end is not before start.
func NewPeriod(start, end Date) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, &ValidationError{Field: "period", Message: "start and end dates are required"}
	}
	if end.Before(start) {
		return Period{}, &ValidationError{
			Field:   "end_date",
			Message: fmt.Sprintf("end %s is before start %s", end, start),
			Err:     ErrInvalidPeriod,
		}
	}
	return Period{Start: start, End: end}, nil
}

// Days is the inclusive day count. A period with Start == End is one day;
// a malformed period yields a value <= 0.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Month is the payroll month the period is booked into: the month of Start.
func (p Period) Month() MonthKey { return MonthOf(p.Start) }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// MONTH KEY - YYYY-MM scope of a payroll run
// =============================================================================

// MonthKey is a "YYYY-MM" string scoping leave and payment records to one
// payroll cycle.
type MonthKey string

func MonthOf(d Date) MonthKey {
	return MonthKey(d.Time.Format("2006-01"))
}

func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthOf(StartOfMonth(year, month))
}

// ParseMonth validates a YYYY-MM string.
func ParseMonth(s string) (MonthKey, error) {
	if len(s) != 7 || s[4] != '-' {
		return "", &ValidationError{Field: "month", Message: fmt.Sprintf("invalid month %q, expected YYYY-MM", s)}
	}
	year, errY := strconv.Atoi(s[:4])
	month, errM := strconv.Atoi(s[5:])
	if errY != nil || errM != nil || month < 1 || month > 12 {
		return "", &ValidationError{Field: "month", Message: fmt.Sprintf("invalid month %q, expected YYYY-MM", s)}
	}
	return NewMonthKey(year, time.Month(month)), nil
}

func (m MonthKey) String() string { return string(m) }

// Period returns the first through last day of the month.
func (m MonthKey) Period() Period {
	start, err := time.Parse("2006-01", string(m))
	if err != nil {
		return Period{}
	}
	return Period{
		Start: StartOfMonth(start.Year(), start.Month()),
		End:   EndOfMonth(start.Year(), start.Month()),
	}
}

func (m MonthKey) Contains(d Date) bool { return MonthOf(d) == m }
