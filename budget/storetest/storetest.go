// Package storetest is a conformance suite for budget.TxStore
// implementations. Each store package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
)

// Factory returns an empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) budget.TxStore

// Run executes every conformance test against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, budget.TxStore)
	}{
		{"FiscalYears", testFiscalYears},
		{"CostCenterTree", testCostCenterTree},
		{"Sources", testSources},
		{"BudgetRoundTrip", testBudgetRoundTrip},
		{"BudgetVersioning", testBudgetVersioning},
		{"BudgetSourceKeysUnique", testBudgetSourceKeysUnique},
		{"BudgetFilters", testBudgetFilters},
		{"AddendaAndActuals", testAddendaAndActuals},
		{"Series", testSeries},
		{"Comments", testComments},
		{"TxRollback", testTxRollback},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func date(s string) budget.Date { return budget.MustParseDate(s) }

func dec(s string) decimal.Decimal { return budget.MustParseDecimal(s) }

func testFiscalYears(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	for _, name := range []string{"2026", "2025"} {
		w, err := budget.CalendarYear(name)
		require.NoError(t, err)
		require.NoError(t, s.SaveFiscalYear(ctx, budget.FiscalYear{Name: name, Start: w.Start, End: w.End}))
	}

	fy, err := s.GetFiscalYear(ctx, "2025")
	require.NoError(t, err)
	assert.True(t, fy.Start.Equal(date("2025-01-01")))
	assert.True(t, fy.End.Equal(date("2025-12-31")))

	all, err := s.ListFiscalYears(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2025", all[0].Name)
}

func testCostCenterTree(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	nodes := []budget.CostCenter{
		{Name: budget.RootCostCenter, IsGroup: true, Abbr: "ALL"},
		{Name: "IT", Parent: budget.RootCostCenter, IsGroup: true, Abbr: "IT"},
		{Name: "Platform", Parent: "IT", Abbr: "PLATFORM"},
		{Name: "Workplace", Parent: "IT", Abbr: "WORKPLACE"},
		{Name: "Finance", Parent: budget.RootCostCenter, Abbr: "FINANCE"},
	}
	for _, n := range nodes {
		require.NoError(t, s.SaveCostCenter(ctx, n))
	}

	sub, err := s.CostCenterSubtree(ctx, "IT")
	require.NoError(t, err)
	assert.Equal(t, []string{"IT", "Platform", "Workplace"}, sub)

	root, err := s.GetCostCenter(ctx, budget.RootCostCenter)
	require.NoError(t, err)
	assert.Equal(t, 1, root.Lft)
	assert.Equal(t, 10, root.Rgt)

	leaf, err := s.CostCenterSubtree(ctx, "Finance")
	require.NoError(t, err)
	assert.Equal(t, []string{"Finance"}, leaf)

	// moving a node renumbers the tree
	require.NoError(t, s.SaveCostCenter(ctx, budget.CostCenter{Name: "Finance", Parent: "IT", Abbr: "FINANCE"}))
	sub, err = s.CostCenterSubtree(ctx, "IT")
	require.NoError(t, err)
	assert.Equal(t, []string{"Finance", "IT", "Platform", "Workplace"}, sub)
}

func testSources(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveVendor(ctx, budget.Vendor{Name: "Acme"}))
	_, err := s.GetVendor(ctx, "Acme")
	require.NoError(t, err)

	for _, c := range []budget.Contract{
		{Name: "B", Status: budget.ContractActive, CostCenter: "Platform", Terms: []budget.ContractTerm{{FromDate: date("2025-01-01"), Amount: dec("100"), VATRate: budget.Rate(22), BillingCycle: budget.BillingMonthly}}},
		{Name: "A", Status: budget.ContractDraft},
		{Name: "C", Status: budget.ContractRenewed},
	} {
		require.NoError(t, s.SaveContract(ctx, c))
	}
	feeding, err := s.ListContracts(ctx, budget.ContractFilter{Statuses: []budget.ContractStatus{budget.ContractActive, budget.ContractRenewed}})
	require.NoError(t, err)
	require.Len(t, feeding, 2)
	assert.Equal(t, "B", feeding[0].Name)
	require.Len(t, feeding[0].Terms, 1)
	assert.True(t, feeding[0].Terms[0].Amount.Equal(dec("100")))
	require.NotNil(t, feeding[0].Terms[0].VATRate)
	assert.True(t, feeding[0].Terms[0].VATRate.Equal(dec("22")))

	all, err := s.ListContracts(ctx, budget.ContractFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteContract(ctx, "A"))
	_, err = s.GetContract(ctx, "A")
	assert.True(t, budget.IsNotFound(err))

	require.NoError(t, s.SaveProject(ctx, budget.Project{Name: "PRJ", CostCenter: "Platform", WorkflowState: budget.StateApproved}))
	for _, it := range []budget.PlannedItem{
		{Name: "PI-1", Project: "PRJ", WorkflowState: budget.StateSubmitted, Amount: dec("10"), StartDate: date("2025-01-01"), EndDate: date("2025-12-31")},
		{Name: "PI-2", Project: "PRJ", WorkflowState: budget.StateDraft},
		{Name: "PI-3", Project: "OTHER", WorkflowState: budget.StateSubmitted},
	} {
		require.NoError(t, s.SavePlannedItem(ctx, it))
	}
	items, err := s.ListPlannedItems(ctx, budget.PlannedItemFilter{Project: "PRJ", WorkflowState: budget.StateSubmitted})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "PI-1", items[0].Name)
	assert.True(t, items[0].EndDate.Equal(date("2025-12-31")))

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	require.NoError(t, s.DeletePlannedItem(ctx, "PI-2"))
	_, err = s.GetPlannedItem(ctx, "PI-2")
	assert.True(t, budget.IsNotFound(err))
}

func sampleBudget(name, year string) *budget.Budget {
	return &budget.Budget{
		Name:          name,
		Year:          year,
		Title:         "Live " + year,
		Type:          budget.BudgetLive,
		WorkflowState: budget.StateDraft,
		IsActive:      true,
		Totals:        budget.Totals{Net: dec("1200"), Annual: dec("1200"), Gross: dec("1464"), VAT: dec("264"), Monthly: dec("100")},
		Lines: []budget.Line{
			{
				Idx: 1, Kind: budget.LineContract, CostCenter: "Platform", Contract: "K",
				MonthlyAmount: dec("100"), AnnualAmount: dec("1200"), VATRate: budget.Rate(22),
				Recurrence: budget.RecurrenceMonthly, PeriodStart: date(year + "-01-01"), PeriodEnd: date(year + "-12-31"),
				IsGenerated: true, IsActive: true, SourceKey: budget.ContractKey("K"),
				AnnualNet: dec("1200"), AnnualVAT: dec("264"), AnnualGross: dec("1464"),
			},
			{Idx: 2, Kind: budget.LineManual, CostCenter: "Platform", MonthlyAmount: dec("0"), IsActive: true},
		},
	}
}

func testBudgetRoundTrip(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	b := sampleBudget("BUD-2025-LIVE-0001", "2025")
	require.NoError(t, s.CreateBudget(ctx, b))
	assert.Equal(t, int64(1), b.Version)

	got, err := s.GetBudget(ctx, b.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.Totals.Gross.Equal(dec("1464")))
	require.Len(t, got.Lines, 2)
	l := got.Lines[0]
	assert.Equal(t, budget.ContractKey("K"), l.SourceKey)
	assert.True(t, l.AnnualNet.Equal(dec("1200")))
	require.NotNil(t, l.VATRate)
	assert.True(t, l.VATRate.Equal(dec("22")))
	assert.True(t, l.PeriodEnd.Equal(date("2025-12-31")))
	assert.Nil(t, got.Lines[1].VATRate)

	_, err = s.GetBudget(ctx, "BUD-2025-LIVE-0002")
	assert.True(t, budget.IsNotFound(err))

	err = s.CreateBudget(ctx, sampleBudget(b.Name, "2025"))
	assert.True(t, errors.Is(err, budget.ErrUniquenessViolation))

	require.NoError(t, s.DeleteBudget(ctx, b.Name))
	_, err = s.GetBudget(ctx, b.Name)
	assert.True(t, budget.IsNotFound(err))
}

func testBudgetVersioning(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	b := sampleBudget("BUD-2025-LIVE-0001", "2025")
	require.NoError(t, s.CreateBudget(ctx, b))

	first, err := s.GetBudget(ctx, b.Name)
	require.NoError(t, err)
	second, err := s.GetBudget(ctx, b.Name)
	require.NoError(t, err)

	first.Lines = first.Lines[:1]
	require.NoError(t, s.UpdateBudget(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	err = s.UpdateBudget(ctx, second)
	assert.True(t, errors.Is(err, budget.ErrConcurrentModification))

	got, err := s.GetBudget(ctx, b.Name)
	require.NoError(t, err)
	assert.Len(t, got.Lines, 1, "stale write was rejected")
	assert.Equal(t, int64(2), got.Version)
}

func testBudgetSourceKeysUnique(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	b := sampleBudget("BUD-2025-LIVE-0001", "2025")
	require.NoError(t, s.CreateBudget(ctx, b))

	dup := b.Lines[0]
	dup.Idx = 3
	b.Lines = append(b.Lines, dup)
	err := s.WithTx(ctx, func(tx budget.Store) error { return tx.UpdateBudget(ctx, b) })
	assert.True(t, errors.Is(err, budget.ErrUniquenessViolation))
}

func testBudgetFilters(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	live := sampleBudget("BUD-2025-LIVE-0001", "2025")
	submitted := sampleBudget("BUD-2025-LIVE-0002", "2025")
	submitted.DocStatus = budget.DocSubmitted
	snap := sampleBudget("BUD-2025-APP-0001", "2025")
	snap.Type = budget.BudgetSnapshot
	next := sampleBudget("BUD-2026-LIVE-0001", "2026")
	for _, b := range []*budget.Budget{live, submitted, snap, next} {
		require.NoError(t, s.CreateBudget(ctx, b))
	}

	drafts, err := s.ListBudgets(ctx, budget.BudgetFilter{Year: "2025", Type: budget.BudgetLive, DocStatus: budget.DocStatusPtr(budget.DocDraft)})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, live.Name, drafts[0].Name)
	assert.Len(t, drafts[0].Lines, 2, "listed budgets carry their lines")

	all, err := s.ListBudgets(ctx, budget.BudgetFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "BUD-2025-APP-0001", all[0].Name)
}

func testAddendaAndActuals(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	for _, a := range []budget.Addendum{
		{Name: "ADD-2025-PLATFORM-0001", Year: "2025", CostCenter: "Platform", DeltaAmount: dec("50"), DocStatus: budget.DocSubmitted},
		{Name: "ADD-2025-PLATFORM-0002", Year: "2025", CostCenter: "Platform", DeltaAmount: dec("70"), DocStatus: budget.DocDraft},
		{Name: "ADD-2025-WORKPLACE-0001", Year: "2025", CostCenter: "Workplace", DeltaAmount: dec("10"), DocStatus: budget.DocSubmitted},
	} {
		require.NoError(t, s.SaveAddendum(ctx, a))
	}
	submitted, err := s.ListAddenda(ctx, budget.AddendumFilter{Year: "2025", CostCenters: []string{"Platform"}, DocStatus: budget.DocStatusPtr(budget.DocSubmitted)})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.True(t, submitted[0].DeltaAmount.Equal(dec("50")))

	require.NoError(t, s.DeleteAddendum(ctx, "ADD-2025-PLATFORM-0002"))
	all, err := s.ListAddenda(ctx, budget.AddendumFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	for _, a := range []budget.ActualEntry{
		{Name: "act-2", Year: "2025", Status: budget.ActualVerified, CostCenter: "Platform", PostingDate: date("2025-05-01"), AmountNet: dec("20")},
		{Name: "act-1", Year: "2025", Status: budget.ActualVerified, CostCenter: "Platform", PostingDate: date("2025-02-01"), AmountNet: dec("10"), Project: "PRJ"},
		{Name: "act-3", Year: "2025", Status: budget.ActualRecorded, CostCenter: "Platform", PostingDate: date("2025-03-01")},
	} {
		require.NoError(t, s.SaveActual(ctx, a))
	}
	verified, err := s.ListActuals(ctx, budget.ActualFilter{Year: "2025", Status: budget.ActualVerified, CostCenters: []string{"Platform"}})
	require.NoError(t, err)
	require.Len(t, verified, 2)
	assert.Equal(t, "act-1", verified[0].Name, "ordered by posting date")

	byProject, err := s.ListActuals(ctx, budget.ActualFilter{Project: "PRJ"})
	require.NoError(t, err)
	assert.Len(t, byProject, 1)

	require.NoError(t, s.DeleteActual(ctx, "act-3"))
	_, err = s.GetActual(ctx, "act-3")
	assert.True(t, budget.IsNotFound(err))
}

func testSeries(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	key := "BUD-2025-LIVE-.####"
	for want := 1; want <= 3; want++ {
		got, err := s.NextSeries(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, s.ReleaseSeries(ctx, key, 2), "not the last issued, ignored")
	require.NoError(t, s.ReleaseSeries(ctx, key, 3))
	got, err := s.NextSeries(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	other, err := s.NextSeries(ctx, "BUD-2025-APP-.####")
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func testComments(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second"} {
		require.NoError(t, s.AddComment(ctx, budget.Comment{
			ID: content, DocType: "Budget", DocName: "B", Content: content, Author: "alice", CreatedAt: at.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AddComment(ctx, budget.Comment{ID: "x", DocType: "Addendum", DocName: "B", Content: "other", Author: "bob", CreatedAt: at}))

	got, err := s.ListComments(ctx, "Budget", "B")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "alice", got[1].Author)
	assert.True(t, got[1].CreatedAt.Equal(at.Add(time.Second)))
}

func testTxRollback(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx budget.Store) error {
		if err := tx.SaveVendor(ctx, budget.Vendor{Name: "Ghost"}); err != nil {
			return err
		}
		if _, err := tx.NextSeries(ctx, "K"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetVendor(ctx, "Ghost")
	assert.True(t, budget.IsNotFound(err), "vendor rolled back")
	seq, err := s.NextSeries(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, 1, seq, "series rolled back")

	require.NoError(t, s.WithTx(ctx, func(tx budget.Store) error {
		return tx.SaveVendor(ctx, budget.Vendor{Name: "Kept"})
	}))
	_, err = s.GetVendor(ctx, "Kept")
	assert.NoError(t, err)
}

func testNotFound(t *testing.T, s budget.TxStore) {
	ctx := context.Background()
	checks := map[string]error{}
	_, checks["fiscal year"] = s.GetFiscalYear(ctx, "1999")
	_, checks["cost center"] = s.GetCostCenter(ctx, "nope")
	_, checks["subtree"] = s.CostCenterSubtree(ctx, "nope")
	_, checks["contract"] = s.GetContract(ctx, "nope")
	_, checks["project"] = s.GetProject(ctx, "nope")
	_, checks["addendum"] = s.GetAddendum(ctx, "nope")
	checks["delete budget"] = s.DeleteBudget(ctx, "nope")
	checks["delete actual"] = s.DeleteActual(ctx, "nope")
	for what, err := range checks {
		assert.True(t, budget.IsNotFound(err), "%s: got %v", what, err)
	}
}
