/*
period.go - Date ranges, fiscal year windows and month overlap

PURPOSE:
  Every amount in a budget is scoped to a fiscal year. Sources (contract terms,
  planned items, explicit line periods) carry their own date ranges, and the
  engine only ever needs one question answered about them: how many calendar
  months of the fiscal year do they touch?

OVERLAP MONTHS:
  Count the distinct (year, month) pairs that contain at least one day of the
  intersection of two ranges. A partial month counts as one.

    [2025-01-15, 2025-03-02] vs calendar 2025  ->  3 (Jan, Feb, Mar)
    [2024-11-01, 2025-02-28] vs calendar 2025  ->  2 (Jan, Feb)
    [2026-01-01, 2026-06-30] vs calendar 2025  ->  0

  The function is symmetric and returns 0 exactly when the intersection is empty.

SEE ALSO:
  - annualize.go: turns overlap months into annualized amounts
  - contract.go: clips terms to contract lifetime and fiscal year
*/
package budget

import (
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive [Start, End] day range.
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

func NewPeriod(start, end Date) Period { return Period{Start: start, End: end} }

func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// IsEmpty reports whether the period contains no days.
func (p Period) IsEmpty() bool { return p.End.Before(p.Start) }

// Intersect returns the common days of p and o. ok is false when there are none.
func (p Period) Intersect(o Period) (Period, bool) {
	r := Period{Start: MaxDate(p.Start, o.Start), End: MinDate(p.End, o.End)}
	if r.IsEmpty() {
		return Period{}, false
	}
	return r, true
}

func (p Period) String() string {
	return fmt.Sprintf("%s to %s", p.Start, p.End)
}

// Months counts the calendar months the period touches.
func (p Period) Months() int {
	if p.IsEmpty() {
		return 0
	}
	return p.End.MonthIndex() - p.Start.MonthIndex() + 1
}

// OverlapMonths counts the distinct calendar months touched by the
// intersection of a and b.
func OverlapMonths(a, b Period) int {
	r, ok := a.Intersect(b)
	if !ok {
		return 0
	}
	return r.Months()
}

// MonthOf returns the calendar month containing d.
func MonthOf(d Date) Period {
	return Period{Start: d.StartOfMonth(), End: d.EndOfMonth()}
}

// =============================================================================
// FISCAL YEAR
// =============================================================================

// FiscalYear is a named budgeting window, usually "2025".
type FiscalYear struct {
	Name  string `json:"name"`
	Start Date   `json:"start_date"`
	End   Date   `json:"end_date"`
}

// Window returns the year's inclusive range. Unset bounds default to the
// calendar year named by the fiscal year.
func (fy FiscalYear) Window() (Period, error) {
	cal, err := CalendarYear(fy.Name)
	if err != nil && (fy.Start.IsZero() || fy.End.IsZero()) {
		return Period{}, err
	}
	w := cal
	if !fy.Start.IsZero() {
		w.Start = fy.Start
	}
	if !fy.End.IsZero() {
		w.End = fy.End
	}
	if w.IsEmpty() {
		return Period{}, &ValidationError{Entity: "FiscalYear", Name: fy.Name, Field: "end_date", Message: "end date is before start date"}
	}
	return w, nil
}

// CalendarYear returns Jan 1 to Dec 31 of the numeric year name.
func CalendarYear(year string) (Period, error) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1900 || y > 2099 {
		return Period{}, &ValidationError{Entity: "FiscalYear", Name: year, Field: "name", Message: "year must be a four-digit number"}
	}
	return Period{Start: NewDate(y, time.January, 1), End: NewDate(y, time.December, 31)}, nil
}

// YearsIn lists calendar year names touched by p, in order.
func YearsIn(p Period) []string {
	if p.IsEmpty() {
		return nil
	}
	var years []string
	for y := p.Start.Year(); y <= p.End.Year(); y++ {
		years = append(years, strconv.Itoa(y))
	}
	return years
}

// Horizon is the set of years auto refresh targets: the current year and the next one.
func Horizon(today Date) []string {
	return []string{strconv.Itoa(today.Year()), strconv.Itoa(today.Year() + 1)}
}

// HorizonWindow spans Jan 1 of the current year to Dec 31 of the next.
func HorizonWindow(today Date) Period {
	return Period{
		Start: NewDate(today.Year(), time.January, 1),
		End:   NewDate(today.Year()+1, time.December, 31),
	}
}

func InHorizon(year string, today Date) bool {
	for _, y := range Horizon(today) {
		if y == year {
			return true
		}
	}
	return false
}
