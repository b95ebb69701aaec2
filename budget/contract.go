/*
contract.go - Contract term evaluation

PURPOSE:
  A contract's price changes over time through an ordered list of terms.
  This file answers three questions about such a contract:

    1. Where does each term end?      (EffectiveEnd)
    2. Which term applies today?      (CurrentTerm)
    3. What does it cost in year Y?   (AnnualAmount)

EFFECTIVE END:
  T[i].to_date if set, else the day before T[i+1].from_date, else the
  contract end date, else FarFuture.

    T1 from 2024-01-01 (no to_date)          -> ends 2025-03-31
    T2 from 2025-04-01 (no to_date)          -> ends contract.end_date / 2099-12-31

ANNUAL AMOUNT:
  Sum over terms of monthly_amount_net * overlap_months(term ∩ contract ∩ year).

SEE ALSO:
  - generator.go: emits one line per contributing term
  - period.go: OverlapMonths
*/
package budget

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// SortTerms orders terms by from_date.
func (c *Contract) SortTerms() {
	sort.SliceStable(c.Terms, func(i, j int) bool {
		return c.Terms[i].FromDate.Before(c.Terms[j].FromDate)
	})
}

// Lifetime is the contract's own validity range, open ends widened to sentinels.
func (c *Contract) Lifetime() Period {
	p := Period{Start: FarPast, End: FarFuture}
	if !c.StartDate.IsZero() {
		p.Start = c.StartDate
	}
	if !c.EndDate.IsZero() {
		p.End = c.EndDate
	}
	return p
}

// EffectiveEnd returns the last day term i applies. Terms must be sorted.
func (c *Contract) EffectiveEnd(i int) Date {
	t := c.Terms[i]
	switch {
	case !t.ToDate.IsZero():
		return t.ToDate
	case i+1 < len(c.Terms):
		return c.Terms[i+1].FromDate.AddDays(-1)
	case !c.EndDate.IsZero():
		return c.EndDate
	}
	return FarFuture
}

// TermWindow is term i clipped to the contract lifetime.
func (c *Contract) TermWindow(i int) (Period, bool) {
	return Period{Start: c.Terms[i].FromDate, End: c.EffectiveEnd(i)}.Intersect(c.Lifetime())
}

// CurrentTerm returns the index of the term in force on day, or -1.
func (c *Contract) CurrentTerm(day Date) int {
	for i := range c.Terms {
		if (Period{Start: c.Terms[i].FromDate, End: c.EffectiveEnd(i)}).Contains(day) {
			return i
		}
	}
	return -1
}

// ValidateTerms checks presence, ordering and non-overlap. Terms must be sorted.
func (c *Contract) ValidateTerms() error {
	if len(c.Terms) == 0 {
		return &ValidationError{Entity: "Contract", Name: c.Name, Field: "terms", Message: "at least one pricing term is required"}
	}
	for i, t := range c.Terms {
		if t.FromDate.IsZero() {
			return &ValidationError{Entity: "Contract", Name: c.Name, Field: "terms", Message: fmt.Sprintf("term %d: from_date is required", i+1)}
		}
		if !t.ToDate.IsZero() && t.ToDate.Before(t.FromDate) {
			return &ValidationError{Entity: "Contract", Name: c.Name, Field: "terms", Message: fmt.Sprintf("term %d: to_date %s is before from_date %s", i+1, t.ToDate, t.FromDate)}
		}
		if i == 0 {
			continue
		}
		prev := c.Terms[i-1]
		if !t.FromDate.After(prev.FromDate) {
			return &ValidationError{Entity: "Contract", Name: c.Name, Field: "terms", Message: fmt.Sprintf("term %d: from_date %s must be after %s", i+1, t.FromDate, prev.FromDate)}
		}
		if !c.EffectiveEnd(i - 1).Before(t.FromDate) {
			return &ValidationError{Entity: "Contract", Name: c.Name, Field: "terms", Message: fmt.Sprintf("term %d overlaps term %d", i, i+1)}
		}
	}
	return nil
}

// MonthlyNet converts a term's net amount into a monthly figure.
func MonthlyNet(net decimal.Decimal, cycle BillingCycle) decimal.Decimal {
	switch cycle {
	case BillingQuarterly:
		return Round(net.Mul(decimal.NewFromInt(4)).Div(twelve))
	case BillingAnnual:
		return Round(net.Div(twelve))
	}
	return Round(net)
}

// ComputeTermAmounts fills a term's VAT split and monthly net.
func ComputeTermAmounts(t *ContractTerm, defaultRate *decimal.Decimal) error {
	if t.BillingCycle == "" {
		t.BillingCycle = BillingMonthly
	}
	rate, err := ResolveVATRate(t.Amount, t.VATRate, defaultRate, "vat_rate")
	if err != nil {
		return err
	}
	t.VATRate = rate
	split, err := SplitVAT(t.Amount, t.VATRate, nil, t.AmountIncludesVAT)
	if err != nil {
		return err
	}
	t.AmountNet, t.AmountVAT, t.AmountGross = split.Net, split.VAT, split.Gross
	t.MonthlyAmountNet = MonthlyNet(split.Net, t.BillingCycle)
	return nil
}

// AnnualAmount is the contract's net cost within year, summed across terms.
func (c *Contract) AnnualAmount(year Period) decimal.Decimal {
	total := decimal.Zero
	for i := range c.Terms {
		w, ok := c.TermWindow(i)
		if !ok {
			continue
		}
		months := OverlapMonths(w, year)
		if months == 0 {
			continue
		}
		total = total.Add(c.Terms[i].MonthlyAmountNet.Mul(decimal.NewFromInt(int64(months))))
	}
	return Round(total)
}

// PrepareContract validates a contract and derives every cached field.
// current and next are the fiscal windows of today's year and the one after.
// It returns soft warnings that do not block the save.
func PrepareContract(c *Contract, today Date, current, next Period, settings Settings) ([]string, error) {
	var warnings []string
	if c.Name == "" {
		return nil, &ValidationError{Entity: "Contract", Field: "name", Message: "name is required"}
	}
	if c.Status == "" {
		c.Status = ContractDraft
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return nil, &ValidationError{Entity: "Contract", Name: c.Name, Field: "end_date", Message: "end date is before start date"}
	}
	c.SortTerms()
	if err := c.ValidateTerms(); err != nil {
		return nil, err
	}
	for i := range c.Terms {
		if err := ComputeTermAmounts(&c.Terms[i], settings.DefaultVATRate); err != nil {
			return nil, fmt.Errorf("contract %s term %d: %w", c.Name, i+1, err)
		}
	}
	if !c.StartDate.IsZero() && !c.Terms[0].FromDate.Equal(c.StartDate) {
		warnings = append(warnings, fmt.Sprintf("contract %s: first term starts %s but contract starts %s", c.Name, c.Terms[0].FromDate, c.StartDate))
	}

	if i := c.CurrentTerm(today); i >= 0 {
		t := c.Terms[i]
		c.CurrentTermAmount = t.Amount
		c.CurrentTermBillingCycle = t.BillingCycle
		c.CurrentTermMonthlyNet = t.MonthlyAmountNet
		c.CurrentTermFromDate = t.FromDate
	} else {
		c.CurrentTermAmount = decimal.Zero
		c.CurrentTermBillingCycle = ""
		c.CurrentTermMonthlyNet = decimal.Zero
		c.CurrentTermFromDate = Date{}
	}

	c.AnnualAmountCurrentYear = c.AnnualAmount(current)
	c.AnnualAmountNextYear = c.AnnualAmount(next)

	if c.AutoRenew && c.NextRenewalDate.IsZero() && !c.EndDate.IsZero() {
		c.NextRenewalDate = c.EndDate
	}
	return warnings, nil
}
