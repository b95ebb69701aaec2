package budget

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLANNED ITEM DISTRIBUTOR
// =============================================================================

// Allocation is a planned item's share of one fiscal year.
type Allocation struct {
	Period        Period
	Monthly       decimal.Decimal
	Annual        decimal.Decimal // full-year run rate of Monthly
	OverlapMonths int
}

// Bucket returns the single month an item's whole amount lands in, if any.
// spend_date wins over the start/end distribution modes.
func (it *PlannedItem) Bucket() (Date, bool) {
	switch {
	case !it.SpendDate.IsZero():
		return it.SpendDate, true
	case it.Distribution == DistributeStart:
		return it.StartDate, true
	case it.Distribution == DistributeEnd:
		return it.EndDate, true
	}
	return Date{}, false
}

// Span is the item's full life, never clipped to a year.
func (it *PlannedItem) Span() Period { return Period{Start: it.StartDate, End: it.EndDate} }

// Distribute maps the item's net amount onto year. ok is false when the item
// contributes nothing to that year; that is not an error.
func (it *PlannedItem) Distribute(year Period) (Allocation, bool) {
	amount := it.AmountNet
	if amount.IsZero() {
		return Allocation{}, false
	}

	if day, single := it.Bucket(); single {
		if !year.Contains(day) {
			return Allocation{}, false
		}
		month := MonthOf(day)
		return Allocation{
			Period:        month,
			Monthly:       Round(amount),
			Annual:        Round(amount.Mul(twelve)),
			OverlapMonths: 1,
		}, true
	}

	if it.StartDate.IsZero() || it.EndDate.IsZero() {
		return Allocation{}, false
	}
	total := it.Span().Months()
	if total <= 0 {
		return Allocation{}, false
	}
	clipped, ok := it.Span().Intersect(year)
	if !ok {
		return Allocation{}, false
	}
	overlap := OverlapMonths(clipped, year)
	if overlap == 0 {
		return Allocation{}, false
	}
	months := decimal.NewFromInt(int64(total))
	return Allocation{
		Period:        clipped,
		Monthly:       Round(amount.Div(months)),
		Annual:        Round(amount.Mul(twelve).Div(months)),
		OverlapMonths: overlap,
	}, true
}

// =============================================================================
// SAVE-TIME DERIVATIONS
// =============================================================================

// CoversHorizon reports whether the item touches the current or next year.
func (it *PlannedItem) CoversHorizon(today Date) bool {
	h := HorizonWindow(today)
	if !it.SpendDate.IsZero() {
		return h.Contains(it.SpendDate)
	}
	if it.StartDate.IsZero() || it.EndDate.IsZero() {
		return false
	}
	_, ok := it.Span().Intersect(h)
	return ok
}

// PreparePlannedItem validates the item and derives VAT split, coverage and
// horizon flags. prev is the persisted version, nil on create.
func PreparePlannedItem(it *PlannedItem, prev *PlannedItem, today Date, settings Settings) error {
	invalid := func(field, msg string) error {
		return &ValidationError{Entity: "PlannedItem", Name: it.Name, Field: field, Message: msg}
	}
	if it.Name == "" {
		return invalid("name", "name is required")
	}
	if it.Project == "" {
		return invalid("project", "project is required")
	}
	if it.StartDate.IsZero() || it.EndDate.IsZero() {
		return invalid("start_date", "start and end dates are required")
	}
	if it.EndDate.Before(it.StartDate) {
		return invalid("end_date", "end date cannot be before start date")
	}
	if it.Amount.IsNegative() {
		return invalid("amount", "amount cannot be negative")
	}
	if !it.SpendDate.IsZero() {
		if !it.Span().Contains(it.SpendDate) {
			return invalid("spend_date", fmt.Sprintf("spend date %s must fall within %s", it.SpendDate, it.Span()))
		}
		changed := prev == nil || !prev.SpendDate.Equal(it.SpendDate)
		if changed && it.SpendDate.Before(today) {
			return invalid("spend_date", fmt.Sprintf("spend date %s is in the past", it.SpendDate))
		}
	}
	switch it.Distribution {
	case "":
		it.Distribution = DistributeAll
	case DistributeAll, DistributeStart, DistributeEnd:
	default:
		return invalid("distribution", fmt.Sprintf("unknown distribution %q", it.Distribution))
	}
	if it.ItemType == "" {
		it.ItemType = ItemEstimate
	}
	if it.WorkflowState == "" {
		it.WorkflowState = StateDraft
	}

	rate, err := ResolveVATRate(it.Amount, it.VATRate, settings.DefaultVATRate, "vat_rate")
	if err != nil {
		return fmt.Errorf("planned item %s: %w", it.Name, err)
	}
	it.VATRate = rate
	split, err := SplitVAT(it.Amount, it.VATRate, nil, it.AmountIncludesVAT)
	if err != nil {
		return fmt.Errorf("planned item %s: %w", it.Name, err)
	}
	it.AmountNet, it.AmountVAT, it.AmountGross = split.Net, split.VAT, split.Gross

	it.IsCovered = it.CoveredByName != ""
	if !it.IsCovered {
		it.CoveredByType = ""
	}
	it.OutOfHorizon = !it.CoversHorizon(today)
	return nil
}

// PrepareProject validates the project's dates and derives its totals from
// its planned items and Verified delta actuals.
func PrepareProject(p *Project, items []PlannedItem, actuals []ActualEntry) ([]string, error) {
	invalid := func(field, msg string) error {
		return &ValidationError{Entity: "Project", Name: p.Name, Field: field, Message: msg}
	}
	if p.Name == "" {
		return nil, invalid("name", "name is required")
	}
	if p.CostCenter == "" {
		return nil, invalid("cost_center", "cost center is required")
	}
	if p.StartDate.IsZero() != p.EndDate.IsZero() {
		return nil, invalid("start_date", "set both planned start and end date, or clear both")
	}
	if !p.StartDate.IsZero() && p.EndDate.Before(p.StartDate) {
		return nil, invalid("end_date", "planned end date cannot be before planned start date")
	}
	if p.WorkflowState == "" {
		p.WorkflowState = StateDraft
	}

	planned, quoted := decimal.Zero, decimal.Zero
	for _, it := range items {
		if it.ItemType == ItemQuote {
			quoted = quoted.Add(it.AmountNet)
		} else {
			planned = planned.Add(it.AmountNet)
		}
	}
	deltas := decimal.Zero
	for _, a := range actuals {
		if a.Project == p.Name && a.Status == ActualVerified && a.Kind == EntryDelta {
			deltas = deltas.Add(a.AmountNet)
		}
	}
	expected := planned
	if quoted.IsPositive() {
		expected = quoted
	}
	p.PlannedTotalNet = Round(planned)
	p.QuotedTotalNet = Round(quoted)
	p.ExpectedTotalNet = Round(expected.Add(deltas))

	var warnings []string
	if p.WorkflowState == StateApproved && len(items) == 0 {
		warnings = append(warnings, fmt.Sprintf("project %s is approved but has no planned items; it will not generate budget lines", p.Name))
	}
	return warnings, nil
}
