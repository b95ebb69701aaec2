package budget

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNTS RESOLVER - {qty, unit_price, monthly, annual} -> (monthly, annual)
// =============================================================================

// AmountInput is what a user (or generator) may supply for a line.
type AmountInput struct {
	Qty                decimal.Decimal
	UnitPrice          decimal.Decimal
	Monthly            decimal.Decimal
	Annual             decimal.Decimal
	Recurrence         Recurrence
	CustomPeriodMonths int
}

// InputKind tags which of the inputs drives resolution.
type InputKind int

const (
	InputEmpty InputKind = iota
	InputByUnitPrice
	InputByMonthly
	InputByAnnual
	InputByBoth
)

func (k InputKind) String() string {
	switch k {
	case InputByUnitPrice:
		return "by_unit_price"
	case InputByMonthly:
		return "by_monthly"
	case InputByAnnual:
		return "by_annual"
	case InputByBoth:
		return "by_both"
	}
	return "empty"
}

// Kind classifies the input. The first matching case wins.
func (in AmountInput) Kind() InputKind {
	switch {
	case in.UnitPrice.IsPositive():
		return InputByUnitPrice
	case in.Monthly.IsPositive() && in.Annual.IsZero():
		return InputByMonthly
	case in.Annual.IsPositive() && in.Monthly.IsZero():
		return InputByAnnual
	case in.Annual.IsPositive() && in.Monthly.IsPositive():
		return InputByBoth
	}
	return InputEmpty
}

// ResolvedAmounts is the canonical monthly/annual pair at money precision.
type ResolvedAmounts struct {
	Monthly decimal.Decimal
	Annual  decimal.Decimal
}

// PeriodsPerYear returns how many billing periods of rule fit in a year.
func PeriodsPerYear(rule Recurrence, customMonths int) (decimal.Decimal, error) {
	switch rule {
	case RecurrenceMonthly, "":
		return twelve, nil
	case RecurrenceQuarterly:
		return decimal.NewFromInt(4), nil
	case RecurrenceAnnual, RecurrenceNone:
		return decimal.NewFromInt(1), nil
	case RecurrenceCustom:
		if customMonths <= 0 || customMonths > 12 {
			return decimal.Zero, fmt.Errorf("%w: custom recurrence needs 1-12 months, got %d", ErrInvalidInput, customMonths)
		}
		return twelve.Div(decimal.NewFromInt(int64(customMonths))), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown recurrence rule %q", ErrInvalidInput, rule)
}

// ResolveAmounts derives the canonical pair. The supplied value is kept
// exact and the derived one is rounded.
func ResolveAmounts(in AmountInput) (ResolvedAmounts, error) {
	switch in.Kind() {
	case InputByUnitPrice:
		qty := in.Qty
		if !qty.IsPositive() {
			qty = decimal.NewFromInt(1)
		}
		perPeriod := qty.Mul(in.UnitPrice)
		if in.Recurrence == RecurrenceMonthly || in.Recurrence == "" {
			return ResolvedAmounts{Monthly: Round(perPeriod), Annual: Round(perPeriod.Mul(twelve))}, nil
		}
		ppy, err := PeriodsPerYear(in.Recurrence, in.CustomPeriodMonths)
		if err != nil {
			return ResolvedAmounts{}, err
		}
		annual := perPeriod.Mul(ppy)
		return ResolvedAmounts{Monthly: Round(annual.Div(twelve)), Annual: Round(annual)}, nil

	case InputByMonthly:
		return ResolvedAmounts{Monthly: Round(in.Monthly), Annual: Round(in.Monthly.Mul(twelve))}, nil

	case InputByAnnual, InputByBoth:
		return ResolvedAmounts{Monthly: Round(in.Annual.Div(twelve)), Annual: Round(in.Annual)}, nil
	}
	return ResolvedAmounts{Monthly: decimal.Zero, Annual: decimal.Zero}, nil
}
