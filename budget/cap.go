package budget

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CAP CALCULATOR
// =============================================================================

// CapResult is the spending ceiling of a cost center in a year and how much
// of it verified actuals have used.
type CapResult struct {
	Year              string          `json:"year"`
	CostCenter        string          `json:"cost_center"`
	IncludeChildren   bool            `json:"include_children"`
	SnapshotBudget    string          `json:"snapshot_budget,omitempty"`
	SnapshotAllowance decimal.Decimal `json:"snapshot_allowance"`
	AddendumTotal     decimal.Decimal `json:"addendum_total"`
	CapTotal          decimal.Decimal `json:"cap_total"`
	ActualYTD         decimal.Decimal `json:"actual_ytd"`
	Remaining         decimal.Decimal `json:"remaining"`
	OverCap           decimal.Decimal `json:"over_cap"`
}

// Summary adds the Live plan to a cap result.
type Summary struct {
	CapResult
	LiveBudget string          `json:"live_budget,omitempty"`
	Plan       decimal.Decimal `json:"plan"`
}

// BaselineSnapshot picks the snapshot caps are measured against: the
// submitted snapshot flagged active, else the most recently submitted one.
func BaselineSnapshot(budgets []Budget) *Budget {
	var submitted []Budget
	for _, b := range budgets {
		if b.Type == BudgetSnapshot && b.DocStatus == DocSubmitted {
			submitted = append(submitted, b)
		}
	}
	if len(submitted) == 0 {
		return nil
	}
	sort.SliceStable(submitted, func(i, j int) bool {
		a, b := submitted[i], submitted[j]
		if a.IsActive != b.IsActive {
			return a.IsActive
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.After(b.SubmittedAt)
		}
		return a.Name > b.Name
	})
	return &submitted[0]
}

// SumLines adds annual_net of counted lines matching kind (any kind when
// empty) whose cost center is in ccs.
func SumLines(b *Budget, kind LineKind, ccs map[string]bool) decimal.Decimal {
	total := decimal.Zero
	if b == nil {
		return total
	}
	for _, l := range b.Lines {
		if !l.Counts() || !ccs[l.CostCenter] {
			continue
		}
		if kind != "" && l.Kind != kind {
			continue
		}
		total = total.Add(l.AnnualNet)
	}
	return Round(total)
}

// ComputeCap assembles a cap result from already-loaded documents.
func ComputeCap(year, costCenter string, snapshot *Budget, ccs map[string]bool, addenda []Addendum, actuals []ActualEntry, today Date) CapResult {
	res := CapResult{Year: year, CostCenter: costCenter}
	if snapshot != nil {
		res.SnapshotBudget = snapshot.Name
	}
	res.SnapshotAllowance = SumLines(snapshot, LineAllowance, ccs)

	res.AddendumTotal = decimal.Zero
	for _, a := range addenda {
		if a.Year == year && a.DocStatus == DocSubmitted && ccs[a.CostCenter] {
			res.AddendumTotal = res.AddendumTotal.Add(a.DeltaAmount)
		}
	}
	res.AddendumTotal = Round(res.AddendumTotal)
	res.CapTotal = res.SnapshotAllowance.Add(res.AddendumTotal)

	res.ActualYTD = decimal.Zero
	for _, a := range actuals {
		if a.Year != year || a.Status != ActualVerified || !ccs[a.CostCenter] || a.PostingDate.After(today) {
			continue
		}
		res.ActualYTD = res.ActualYTD.Add(a.AmountNet)
	}
	res.ActualYTD = Round(res.ActualYTD)
	res.Remaining = res.CapTotal.Sub(res.ActualYTD)
	res.OverCap = decimal.Max(res.ActualYTD.Sub(res.CapTotal), decimal.Zero)
	return res
}

// GetCap computes the cap of (year, costCenter), optionally including the
// cost center's subtree. All reads happen in one transaction.
func (e *Engine) GetCap(ctx context.Context, year, costCenter string, includeChildren bool) (*CapResult, error) {
	var res CapResult
	err := e.store.WithTx(ctx, func(s Store) error {
		r, _, err := e.capIn(ctx, s, year, costCenter, includeChildren)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetSummary returns the cap plus the Live draft's planned net for the cost center.
func (e *Engine) GetSummary(ctx context.Context, year, costCenter string, includeChildren bool) (*Summary, error) {
	var sum Summary
	err := e.store.WithTx(ctx, func(s Store) error {
		r, ccs, err := e.capIn(ctx, s, year, costCenter, includeChildren)
		if err != nil {
			return err
		}
		sum.CapResult = r
		sum.Plan = decimal.Zero
		live, err := s.ListBudgets(ctx, BudgetFilter{Year: year, Type: BudgetLive, DocStatus: DocStatusPtr(DocDraft)})
		if err != nil {
			return err
		}
		if len(live) > 0 {
			sum.LiveBudget = live[0].Name
			sum.Plan = SumLines(&live[0], "", ccs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (e *Engine) capIn(ctx context.Context, s Store, year, costCenter string, includeChildren bool) (CapResult, map[string]bool, error) {
	if year == "" || costCenter == "" {
		return CapResult{}, nil, &ValidationError{Entity: "Cap", Message: "year and cost center are required"}
	}
	ccs := map[string]bool{costCenter: true}
	if includeChildren {
		names, err := s.CostCenterSubtree(ctx, costCenter)
		if err != nil {
			return CapResult{}, nil, fmt.Errorf("cost center subtree: %w", err)
		}
		for _, n := range names {
			ccs[n] = true
		}
	}
	snapshots, err := s.ListBudgets(ctx, BudgetFilter{Year: year, Type: BudgetSnapshot, DocStatus: DocStatusPtr(DocSubmitted)})
	if err != nil {
		return CapResult{}, nil, err
	}
	addenda, err := s.ListAddenda(ctx, AddendumFilter{Year: year, DocStatus: DocStatusPtr(DocSubmitted)})
	if err != nil {
		return CapResult{}, nil, err
	}
	actuals, err := s.ListActuals(ctx, ActualFilter{Year: year, Status: ActualVerified})
	if err != nil {
		return CapResult{}, nil, err
	}
	res := ComputeCap(year, costCenter, BaselineSnapshot(snapshots), ccs, addenda, actuals, e.today())
	res.IncludeChildren = includeChildren
	return res, ccs, nil
}
