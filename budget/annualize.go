package budget

import (
	"github.com/shopspring/decimal"
)

// Annualize prorates a per-period amount over the months a source overlaps
// a fiscal year. None is already an annual figure and is returned unchanged.
func Annualize(amountPerPeriod decimal.Decimal, rule Recurrence, customMonths, overlapMonths int) (decimal.Decimal, error) {
	overlap := decimal.NewFromInt(int64(overlapMonths))
	switch rule {
	case RecurrenceMonthly, "":
		return amountPerPeriod.Mul(overlap), nil
	case RecurrenceQuarterly:
		return amountPerPeriod.Mul(overlap).Div(decimal.NewFromInt(3)), nil
	case RecurrenceAnnual:
		return amountPerPeriod.Mul(overlap).Div(twelve), nil
	case RecurrenceNone:
		return amountPerPeriod, nil
	}
	ppy, err := PeriodsPerYear(rule, customMonths)
	if err != nil {
		return decimal.Zero, err
	}
	// per-period * periods_per_year / 12 * overlap
	return amountPerPeriod.Mul(ppy).Mul(overlap).Div(twelve), nil
}

// prorateAnnual scales a full-year figure to the months actually covered.
func prorateAnnual(annual decimal.Decimal, rule Recurrence, overlapMonths int) decimal.Decimal {
	if rule == RecurrenceNone {
		return Round(annual)
	}
	v, _ := Annualize(annual, RecurrenceAnnual, 0, overlapMonths)
	return Round(v)
}
