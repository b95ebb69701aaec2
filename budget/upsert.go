/*
upsert.go - Merging generated lines into a budget by source key

PURPOSE:
  A refresh never rebuilds a budget from scratch. Fresh payloads from the
  generator are merged into the existing lines by their stable source_key:

    key seen before   -> update the existing line in place, reactivate it
    key is new        -> append a line
    key not produced  -> keep the line, set is_active = false

  Manual lines (and legacy generated lines without a key) are untouched.
  Inactive generated lines stay in the budget but drop out of totals.

DUPLICATES:
  If a budget already holds several generated lines with one key (legacy
  data), the oldest by position is kept and the later ones are removed.

READ-ONLY GUARD:
  Outside a refresh, generated lines may only change is_active.
  CheckGeneratedReadOnly compares persisted and incoming lines field by field.
*/
package budget

import (
	"github.com/shopspring/decimal"
)

// UpsertResult summarizes what a merge did.
type UpsertResult struct {
	Inserted    int
	Updated     int
	Deactivated int
	Collapsed   int
}

// UpsertGeneratedLines merges fresh payloads into b.Lines.
func UpsertGeneratedLines(b *Budget, fresh []Line) UpsertResult {
	var res UpsertResult

	existing := map[string]int{}
	kept := make([]Line, 0, len(b.Lines)+len(fresh))
	for _, l := range b.Lines {
		if l.IsGenerated && l.SourceKey != "" {
			if _, dup := existing[l.SourceKey]; dup {
				res.Collapsed++
				continue
			}
			existing[l.SourceKey] = len(kept)
		}
		kept = append(kept, l)
	}

	seen := map[string]bool{}
	for _, p := range fresh {
		if p.SourceKey == "" || seen[p.SourceKey] {
			continue
		}
		seen[p.SourceKey] = true
		p.IsGenerated = true
		p.IsActive = true
		if i, ok := existing[p.SourceKey]; ok {
			p.Idx = kept[i].Idx
			kept[i] = p
			res.Updated++
			continue
		}
		kept = append(kept, p)
		res.Inserted++
	}

	for key, i := range existing {
		if !seen[key] && kept[i].IsActive {
			kept[i].IsActive = false
			res.Deactivated++
		}
	}

	for i := range kept {
		kept[i].Idx = i + 1
	}
	b.Lines = kept
	return res
}

// ComputeLine resolves amounts, VAT split and year proration for one line.
// A line with an explicit period outside year fails with ZeroOverlapError.
func ComputeLine(l *Line, yearName string, year Period, defaultRate *decimal.Decimal) error {
	if l.CostCenter == "" {
		return &ValidationError{Entity: "BudgetLine", Name: l.SourceKey, Field: "cost_center", Message: "cost center is required"}
	}
	if l.Recurrence == "" {
		l.Recurrence = RecurrenceMonthly
	}
	if !l.Recurrence.Valid() {
		return &ValidationError{Entity: "BudgetLine", Name: l.SourceKey, Field: "recurrence_rule", Message: "unknown recurrence rule " + string(l.Recurrence)}
	}
	if l.UnitPrice.IsNegative() || l.MonthlyAmount.IsNegative() || l.AnnualAmount.IsNegative() {
		return &ValidationError{Entity: "BudgetLine", Name: l.SourceKey, Field: "amount", Message: "amounts cannot be negative"}
	}

	overlap := 12
	if l.HasPeriod() {
		if l.PeriodEnd.Before(l.PeriodStart) {
			return &ValidationError{Entity: "BudgetLine", Name: l.SourceKey, Field: "period_end_date", Message: "period end is before period start"}
		}
		overlap = OverlapMonths(l.Period(), year)
		if overlap == 0 {
			return &ZeroOverlapError{Line: l.Idx, Period: l.Period(), Year: yearName}
		}
	}

	resolved, err := ResolveAmounts(AmountInput{
		Qty:                l.Qty,
		UnitPrice:          l.UnitPrice,
		Monthly:            l.MonthlyAmount,
		Annual:             l.AnnualAmount,
		Recurrence:         l.Recurrence,
		CustomPeriodMonths: l.CustomPeriodMonths,
	})
	if err != nil {
		return err
	}
	l.MonthlyAmount, l.AnnualAmount = resolved.Monthly, resolved.Annual

	rate, err := ResolveVATRate(l.AnnualAmount, l.VATRate, defaultRate, "vat_rate")
	if err != nil {
		return err
	}
	l.VATRate = rate
	split, err := SplitVAT(l.AnnualAmount, l.VATRate, nil, l.AmountIncludesVAT)
	if err != nil {
		return err
	}
	l.AmountNet, l.AmountVAT, l.AmountGross = split.Net, split.VAT, split.Gross

	l.AnnualNet = prorateAnnual(split.Net, l.Recurrence, overlap)
	l.AnnualGross = prorateAnnual(split.Gross, l.Recurrence, overlap)
	l.AnnualVAT = l.AnnualGross.Sub(l.AnnualNet)
	return nil
}

// ComputeLines runs ComputeLine over every line of b.
func ComputeLines(b *Budget, year Period, defaultRate *decimal.Decimal) error {
	for i := range b.Lines {
		if b.Lines[i].Idx == 0 {
			b.Lines[i].Idx = i + 1
		}
		if err := ComputeLine(&b.Lines[i], b.Year, year, defaultRate); err != nil {
			return err
		}
	}
	return nil
}

// ComputeTotals recomputes b.Totals from lines that count. Monthly is the
// annual net spread evenly over twelve months.
func ComputeTotals(b *Budget) {
	var t Totals
	t.Annual, t.Net, t.VAT, t.Gross = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range b.Lines {
		if !l.Counts() {
			continue
		}
		t.Annual = t.Annual.Add(l.AnnualAmount)
		t.Net = t.Net.Add(l.AnnualNet)
		t.VAT = t.VAT.Add(l.AnnualVAT)
		t.Gross = t.Gross.Add(l.AnnualGross)
	}
	t.Annual, t.Net, t.VAT, t.Gross = Round(t.Annual), Round(t.Net), Round(t.VAT), Round(t.Gross)
	t.Monthly = Round(t.Net.Div(twelve))
	b.Totals = t
}

// CheckGeneratedReadOnly fails when a generated line of persisted changed in
// incoming in any field but is_active, or disappeared.
func CheckGeneratedReadOnly(persisted, incoming *Budget) error {
	in := map[string]Line{}
	for _, l := range incoming.Lines {
		if l.IsGenerated && l.SourceKey != "" {
			in[l.SourceKey] = l
		}
	}
	for _, old := range persisted.Lines {
		if !old.IsGenerated || old.SourceKey == "" {
			continue
		}
		cur, ok := in[old.SourceKey]
		if !ok {
			return &GeneratedLineReadOnlyError{Budget: persisted.Name, SourceKey: old.SourceKey, Field: "removed"}
		}
		if field := driftedField(old, cur); field != "" {
			return &GeneratedLineReadOnlyError{Budget: persisted.Name, SourceKey: old.SourceKey, Field: field}
		}
		delete(in, old.SourceKey)
	}
	for key := range in {
		return &GeneratedLineReadOnlyError{Budget: persisted.Name, SourceKey: key, Field: "is_generated"}
	}
	return nil
}

// driftedField names the first user-editable field that differs, ignoring is_active.
func driftedField(a, b Line) string {
	type check struct {
		name  string
		equal bool
	}
	checks := []check{
		{"line_kind", a.Kind == b.Kind},
		{"cost_center", a.CostCenter == b.CostCenter},
		{"vendor", a.Vendor == b.Vendor},
		{"description", a.Description == b.Description},
		{"contract", a.Contract == b.Contract},
		{"project", a.Project == b.Project},
		{"planned_item", a.PlannedItem == b.PlannedItem},
		{"cost_type", a.CostType == b.CostType},
		{"qty", a.Qty.Equal(b.Qty)},
		{"unit_price", a.UnitPrice.Equal(b.UnitPrice)},
		{"monthly_amount", a.MonthlyAmount.Equal(b.MonthlyAmount)},
		{"annual_amount", a.AnnualAmount.Equal(b.AnnualAmount)},
		{"amount_includes_vat", a.AmountIncludesVAT == b.AmountIncludesVAT},
		{"vat_rate", sameRate(a.VATRate, b.VATRate)},
		{"recurrence_rule", a.Recurrence == b.Recurrence},
		{"custom_period_months", a.CustomPeriodMonths == b.CustomPeriodMonths},
		{"period_start_date", a.PeriodStart.Equal(b.PeriodStart)},
		{"period_end_date", a.PeriodEnd.Equal(b.PeriodEnd)},
	}
	for _, c := range checks {
		if !c.equal {
			return c.name
		}
	}
	return ""
}

// linesEqual reports whether two line sets are identical, is_active included.
func linesEqual(a, b []Line) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].SourceKey != b[i].SourceKey || a[i].IsGenerated != b[i].IsGenerated ||
			a[i].IsActive != b[i].IsActive || driftedField(a[i], b[i]) != "" {
			return false
		}
	}
	return true
}
