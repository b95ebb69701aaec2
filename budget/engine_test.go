package budget_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []budget.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, value.(budget.Event))
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// newTestEngine returns an engine on an in-memory store with fiscal years
// 2025 and 2026, cost centers Platform and Workplace, and one vendor.
func newTestEngine(t *testing.T, opts ...budget.Option) (*budget.Engine, context.Context) {
	t.Helper()
	opts = append([]budget.Option{budget.WithClock(func() time.Time { return now })}, opts...)
	e := budget.NewEngine(store.NewMemory(), opts...)
	ctx := budget.WithActor(context.Background(), budget.Actor{User: "alice"})

	for _, y := range []string{"2025", "2026"} {
		_, err := e.SaveFiscalYear(ctx, budget.FiscalYear{Name: y})
		require.NoError(t, err)
	}
	for _, cc := range []string{"Platform", "Workplace"} {
		_, err := e.SaveCostCenter(ctx, budget.CostCenter{Name: cc})
		require.NoError(t, err)
	}
	require.NoError(t, e.SaveVendor(ctx, budget.Vendor{Name: "Acme Cloud"}))
	return e, ctx
}

func date(s string) budget.Date { return budget.MustParseDate(s) }

func money(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, budget.MustParseDecimal(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func contract(name, cc string, amount int64, cycle budget.BillingCycle) budget.Contract {
	return budget.Contract{
		Name:       name,
		Vendor:     "Acme Cloud",
		CostCenter: cc,
		Status:     budget.ContractActive,
		StartDate:  date("2025-01-01"),
		EndDate:    date("2025-12-31"),
		Terms: []budget.ContractTerm{{
			FromDate:     date("2025-01-01"),
			Amount:       decimal.NewFromInt(amount),
			VATRate:      budget.Rate(0),
			BillingCycle: cycle,
		}},
	}
}

func liveBudget(t *testing.T, e *budget.Engine, ctx context.Context, year string) *budget.Budget {
	t.Helper()
	b, err := e.CreateLiveBudget(ctx, year, "")
	require.NoError(t, err)
	return b
}

func reload(t *testing.T, e *budget.Engine, ctx context.Context, name string) *budget.Budget {
	t.Helper()
	b, err := e.GetBudget(ctx, name)
	require.NoError(t, err)
	return b
}

func lineByKey(t *testing.T, b *budget.Budget, key string) budget.Line {
	t.Helper()
	for _, l := range b.Lines {
		if l.SourceKey == key {
			return l
		}
	}
	require.Failf(t, "line not found", "budget %s has no line %s", b.Name, key)
	return budget.Line{}
}

func approvedProject(t *testing.T, e *budget.Engine, ctx context.Context, name, cc string) {
	t.Helper()
	_, _, err := e.SaveProject(ctx, budget.Project{Name: name, CostCenter: cc, WorkflowState: budget.StateApproved})
	require.NoError(t, err)
}

func submittedItem(name, project string, amount int64, start, end string) budget.PlannedItem {
	return budget.PlannedItem{
		Name:          name,
		Project:       project,
		Amount:        decimal.NewFromInt(amount),
		VATRate:       budget.Rate(0),
		StartDate:     date(start),
		EndDate:       date(end),
		WorkflowState: budget.StateSubmitted,
	}
}

// =============================================================================
// CONTRACT LINES
// =============================================================================

func TestRefresh_AnnualContractKeepsInputExact(t *testing.T) {
	// GIVEN: a Live 2025 budget and an annual contract of 1000 without VAT
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	_, _, err := e.SaveContract(ctx, contract("K-ANNUAL", "Platform", 1000, budget.BillingAnnual))
	require.NoError(t, err)

	// WHEN
	report, err := e.RefreshBudget(ctx, live.Name, budget.RefreshOptions{Manual: true})
	require.NoError(t, err)

	// THEN
	b := reload(t, e, ctx, live.Name)
	require.Len(t, b.Lines, 1)
	l := lineByKey(t, b, budget.ContractKey("K-ANNUAL"))
	money(t, "1000", l.AnnualNet)
	money(t, "83.33", l.MonthlyAmount)
	assert.True(t, l.IsGenerated)
	assert.Equal(t, budget.LineContract, l.Kind)
	money(t, "1000", report.Totals.Net)
	assert.False(t, report.Changed, "save already refreshed the budget inline")
}

func TestRefresh_GrossInclusiveContract(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	c := contract("K-GROSS", "Platform", 1220, budget.BillingAnnual)
	c.Terms[0].AmountIncludesVAT = true
	c.Terms[0].VATRate = budget.Rate(22)
	_, _, err := e.SaveContract(ctx, c)
	require.NoError(t, err)

	l := lineByKey(t, reload(t, e, ctx, live.Name), budget.ContractKey("K-GROSS"))
	money(t, "1000", l.AnnualNet)
	money(t, "220", l.AnnualVAT)
	money(t, "1220", l.AnnualGross)
}

func TestRefresh_QuarterlyContract(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	_, _, err := e.SaveContract(ctx, contract("K-QUARTER", "Platform", 300, budget.BillingQuarterly))
	require.NoError(t, err)

	l := lineByKey(t, reload(t, e, ctx, live.Name), budget.ContractKey("K-QUARTER"))
	money(t, "100", l.MonthlyAmount)
	money(t, "1200", l.AnnualNet)
}

func TestRefresh_DraftContractDoesNotFeed(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	c := contract("K-DRAFT", "Platform", 1000, budget.BillingAnnual)
	c.Status = budget.ContractDraft
	_, _, err := e.SaveContract(ctx, c)
	require.NoError(t, err)

	_, err = e.RefreshBudget(ctx, live.Name, budget.RefreshOptions{Manual: true})
	require.NoError(t, err)
	assert.Empty(t, reload(t, e, ctx, live.Name).Lines)
}

// =============================================================================
// PLANNED ITEM LINES
// =============================================================================

func TestRefresh_PlannedItemFullYear(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	approvedProject(t, e, ctx, "PRJ", "Workplace")

	_, err := e.SavePlannedItem(ctx, submittedItem("PI-1", "PRJ", 1200, "2025-01-01", "2025-12-31"))
	require.NoError(t, err)

	l := lineByKey(t, reload(t, e, ctx, live.Name), budget.PlannedItemKey("PI-1"))
	money(t, "100", l.MonthlyAmount)
	money(t, "1200", l.AnnualNet)
	assert.Equal(t, "Workplace", l.CostCenter, "cost center comes from the project")
}

func TestRefresh_PlannedItemSpendDate(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	approvedProject(t, e, ctx, "PRJ", "Workplace")
	it := submittedItem("PI-SPEND", "PRJ", 500, "2025-10-01", "2025-10-31")
	it.SpendDate = date("2025-10-15")

	_, err := e.SavePlannedItem(ctx, it)
	require.NoError(t, err)

	l := lineByKey(t, reload(t, e, ctx, live.Name), budget.PlannedItemKey("PI-SPEND"))
	money(t, "500", l.MonthlyAmount)
	money(t, "500", l.AnnualNet)
}

func TestRefresh_MultiYearPlannedItem(t *testing.T) {
	e, ctx := newTestEngine(t)
	live25 := liveBudget(t, e, ctx, "2025")
	live26 := liveBudget(t, e, ctx, "2026")
	approvedProject(t, e, ctx, "PRJ", "Workplace")

	_, err := e.SavePlannedItem(ctx, submittedItem("PI-LEASE", "PRJ", 1200, "2025-01-01", "2026-12-31"))
	require.NoError(t, err)

	for _, name := range []string{live25.Name, live26.Name} {
		l := lineByKey(t, reload(t, e, ctx, name), budget.PlannedItemKey("PI-LEASE"))
		money(t, "600", l.AnnualNet, name)
	}
}

func TestRefresh_UnapprovedProjectDoesNotFeed(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	_, _, err := e.SaveProject(ctx, budget.Project{Name: "PRJ", CostCenter: "Workplace", WorkflowState: budget.StateDraft})
	require.NoError(t, err)
	_, err = e.SavePlannedItem(ctx, submittedItem("PI-1", "PRJ", 1200, "2025-01-01", "2025-12-31"))
	require.NoError(t, err)
	assert.Empty(t, reload(t, e, ctx, live.Name).Lines)

	// WHEN: the project is approved
	approvedProject(t, e, ctx, "PRJ", "Workplace")

	// THEN: approval propagates to the year of its submitted items
	lineByKey(t, reload(t, e, ctx, live.Name), budget.PlannedItemKey("PI-1"))
}

// =============================================================================
// IDEMPOTENCE & DEACTIVATION
// =============================================================================

func TestRefresh_IdempotentAndDeactivatesCancelledSource(t *testing.T) {
	// GIVEN: two contracts feeding a Live budget
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	k := contract("K", "Platform", 1000, budget.BillingAnnual)
	_, _, err := e.SaveContract(ctx, k)
	require.NoError(t, err)
	_, _, err = e.SaveContract(ctx, contract("OTHER", "Platform", 200, budget.BillingAnnual))
	require.NoError(t, err)

	before := reload(t, e, ctx, live.Name)
	money(t, "1200", before.Totals.Net)

	// WHEN: refreshing again without changes
	report, err := e.RefreshBudget(ctx, live.Name, budget.RefreshOptions{Manual: true})
	require.NoError(t, err)

	// THEN: nothing moves
	assert.False(t, report.Changed)
	assert.Equal(t, before.Version, reload(t, e, ctx, live.Name).Version)

	// WHEN: K is cancelled
	k.Status = budget.ContractCancelled
	_, _, err = e.SaveContract(ctx, k)
	require.NoError(t, err)

	// THEN: K's line stays but no longer counts
	after := reload(t, e, ctx, live.Name)
	require.Len(t, after.Lines, 2)
	l := lineByKey(t, after, budget.ContractKey("K"))
	assert.False(t, l.IsActive)
	money(t, "200", after.Totals.Net)

	// AND: reactivating the contract brings the same line back
	k.Status = budget.ContractActive
	_, _, err = e.SaveContract(ctx, k)
	require.NoError(t, err)
	again := reload(t, e, ctx, live.Name)
	require.Len(t, again.Lines, 2)
	assert.True(t, lineByKey(t, again, budget.ContractKey("K")).IsActive)
	money(t, "1200", again.Totals.Net)
}

func TestDeleteContract_RemovesGeneratedLines(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	_, _, err := e.SaveContract(ctx, contract("K", "Platform", 1000, budget.BillingAnnual))
	require.NoError(t, err)

	require.NoError(t, e.DeleteContract(ctx, "K"))

	b := reload(t, e, ctx, live.Name)
	assert.Empty(t, b.Lines)
	money(t, "0", b.Totals.Net)
}

func TestDeleteContract_BlockedByActuals(t *testing.T) {
	e, ctx := newTestEngine(t)
	_, _, err := e.SaveContract(ctx, contract("K", "Platform", 1000, budget.BillingAnnual))
	require.NoError(t, err)
	_, err = e.RecordActual(ctx, budget.ActualEntry{PostingDate: date("2025-03-01"), Contract: "K", Amount: decimal.NewFromInt(10), VATRate: budget.Rate(0)})
	require.NoError(t, err)

	err = e.DeleteContract(ctx, "K")
	assert.True(t, budget.IsClientError(err), "got %v", err)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestLiveBudget_OnePerYear(t *testing.T) {
	e, ctx := newTestEngine(t)
	first := liveBudget(t, e, ctx, "2025")
	assert.Equal(t, "BUD-2025-LIVE-0001", first.Name)
	assert.True(t, first.IsActive)

	_, err := e.CreateLiveBudget(ctx, "2025", "")
	assert.True(t, errors.Is(err, budget.ErrUniquenessViolation))

	b, created, err := e.EnsureLiveBudget(ctx, "2025")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Name, b.Name)
}

func TestLiveBudget_ManualLinesNeedRequestFlag(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	manual := budget.Line{Kind: budget.LineManual, CostCenter: "Platform", MonthlyAmount: decimal.NewFromInt(10), VATRate: budget.Rate(0)}

	_, err := e.SaveBudgetLines(ctx, live.Name, live.Version, []budget.Line{manual})
	assert.True(t, errors.Is(err, budget.ErrOperationNotAllowed))

	flagged := budget.WithActor(ctx, budget.Actor{User: "alice", AllowLiveManualLines: true})
	saved, err := e.SaveBudgetLines(flagged, live.Name, live.Version, []budget.Line{manual})
	require.NoError(t, err)
	money(t, "120", saved.Totals.Net)
}

func TestLiveBudget_GeneratedLinesAreReadOnly(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	_, _, err := e.SaveContract(ctx, contract("K", "Platform", 1000, budget.BillingAnnual))
	require.NoError(t, err)
	b := reload(t, e, ctx, live.Name)
	flagged := budget.WithActor(ctx, budget.Actor{User: "alice", AllowLiveManualLines: true})

	edited := b.Clone()
	edited.Lines[0].UnitPrice = decimal.NewFromInt(1)
	_, err = e.SaveBudgetLines(flagged, b.Name, b.Version, edited.Lines)
	assert.True(t, errors.Is(err, budget.ErrGeneratedLineReadOnly))

	toggled := b.Clone()
	toggled.Lines[0].IsActive = false
	saved, err := e.SaveBudgetLines(flagged, b.Name, b.Version, toggled.Lines)
	require.NoError(t, err)
	money(t, "0", saved.Totals.Net, "inactive generated lines drop out of totals")
}

func TestSaveBudgetLines_StaleVersion(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	_, _, err := e.SaveContract(ctx, contract("K", "Platform", 1000, budget.BillingAnnual))
	require.NoError(t, err)

	_, err = e.SaveBudgetLines(ctx, live.Name, live.Version, nil)

	assert.True(t, errors.Is(err, budget.ErrConcurrentModification))
	assert.True(t, budget.IsRetryable(err))
}

func TestSnapshot_LifecycleAndImmutability(t *testing.T) {
	// GIVEN: a refreshed Live budget
	pub := &recordingPublisher{}
	e, ctx := newTestEngine(t, budget.WithPublisher(pub))
	live := liveBudget(t, e, ctx, "2025")
	_, _, err := e.SaveContract(ctx, contract("K", "Platform", 1000, budget.BillingAnnual))
	require.NoError(t, err)

	// WHEN: a snapshot is taken
	snap, err := e.CreateSnapshot(ctx, live.Name)
	require.NoError(t, err)

	// THEN: it copies lines with their keys, all read-only
	assert.Equal(t, "BUD-2025-APP-0001", snap.Name)
	assert.Equal(t, live.Name, snap.Source)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, budget.ContractKey("K"), snap.Lines[0].SourceKey)
	assert.True(t, snap.Lines[0].IsGenerated)

	// AND: only Allowance lines can be added to it
	manual := budget.Line{Kind: budget.LineManual, CostCenter: "Platform", MonthlyAmount: decimal.NewFromInt(5), VATRate: budget.Rate(0)}
	_, err = e.SaveBudgetLines(ctx, snap.Name, snap.Version, append(snap.Clone().Lines, manual))
	assert.True(t, budget.IsClientError(err))

	allowance := budget.Line{Kind: budget.LineAllowance, CostCenter: "Platform", MonthlyAmount: decimal.NewFromInt(100), VATRate: budget.Rate(0)}
	snap, err = e.SaveBudgetLines(ctx, snap.Name, snap.Version, append(snap.Clone().Lines, allowance))
	require.NoError(t, err)
	money(t, "2200", snap.Totals.Net)

	// WHEN: submitted
	snap, err = e.SubmitBudget(ctx, snap.Name)
	require.NoError(t, err)
	assert.True(t, snap.IsActive)
	assert.Equal(t, budget.StateApproved, snap.WorkflowState)

	// THEN: it can no longer change or be deleted
	_, err = e.SaveBudgetLines(ctx, snap.Name, snap.Version, snap.Lines)
	assert.True(t, errors.Is(err, budget.ErrSnapshotImmutable))
	assert.True(t, errors.Is(e.DeleteBudget(ctx, snap.Name), budget.ErrSnapshotImmutable))
	_, err = e.RefreshBudget(ctx, snap.Name, budget.RefreshOptions{Manual: true})
	assert.True(t, errors.Is(err, budget.ErrOperationNotAllowed))

	assert.Contains(t, pub.types(), budget.EventSnapshotCreated)
	assert.Contains(t, pub.types(), budget.EventBudgetSubmitted)
}

func TestSnapshot_SecondSubmitTakesOverActiveFlag(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")

	first, err := e.CreateSnapshot(ctx, live.Name)
	require.NoError(t, err)
	_, err = e.SubmitBudget(ctx, first.Name)
	require.NoError(t, err)
	second, err := e.CreateSnapshot(ctx, live.Name)
	require.NoError(t, err)
	_, err = e.SubmitBudget(ctx, second.Name)
	require.NoError(t, err)

	assert.False(t, reload(t, e, ctx, first.Name).IsActive)
	assert.True(t, reload(t, e, ctx, second.Name).IsActive)

	_, err = e.SetActive(ctx, first.Name)
	require.NoError(t, err)
	assert.True(t, reload(t, e, ctx, first.Name).IsActive)
	assert.False(t, reload(t, e, ctx, second.Name).IsActive)
}

func TestDeleteBudget_ReleasesSeries(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	snap, err := e.CreateSnapshot(ctx, live.Name)
	require.NoError(t, err)

	require.NoError(t, e.DeleteBudget(ctx, snap.Name))

	again, err := e.CreateSnapshot(ctx, live.Name)
	require.NoError(t, err)
	assert.Equal(t, snap.Name, again.Name, "last issued name is reused")
}

// =============================================================================
// CLOSED YEARS & HORIZON
// =============================================================================

func TestRefresh_ClosedYear(t *testing.T) {
	e, ctx := newTestEngine(t)
	old := liveBudget(t, e, ctx, "2024")

	// WHEN: an automatic refresh targets a closed year
	report, err := e.RefreshBudget(ctx, old.Name, budget.RefreshOptions{})
	require.NoError(t, err)

	// THEN: it is skipped with an audit comment
	assert.True(t, report.Skipped)
	comments, err := e.ListComments(ctx, "Budget", old.Name)
	require.NoError(t, err)
	require.NotEmpty(t, comments)
	assert.Contains(t, comments[len(comments)-1].Content, "Auto-refresh skipped")

	// WHEN: a user forces it
	report, err = e.RefreshBudget(ctx, old.Name, budget.RefreshOptions{Manual: true, Reason: "late invoice"})
	require.NoError(t, err)

	// THEN: it runs and records who and why
	assert.False(t, report.Skipped)
	comments, err = e.ListComments(ctx, "Budget", old.Name)
	require.NoError(t, err)
	var joined []string
	for _, c := range comments {
		joined = append(joined, c.Content)
	}
	all := strings.Join(joined, "\n")
	assert.Contains(t, all, "Manual refresh on closed year by alice. Reason: late invoice")
	assert.Contains(t, all, "out-of-horizon")
}

func TestEnqueueRefresh_OnlyHorizonYears(t *testing.T) {
	e, ctx := newTestEngine(t)
	old := liveBudget(t, e, ctx, "2024")
	cur := liveBudget(t, e, ctx, "2025")
	liveBudget(t, e, ctx, "2027")

	dispatched, err := e.EnqueueRefresh(ctx, []string{"2024", "2025", "2026", "2027"})
	require.NoError(t, err)

	assert.Equal(t, []string{cur.Name}, dispatched, "2026 has no Live budget and is not created")
	assert.NotContains(t, dispatched, old.Name)
}

type fakeDispatcher struct{ names []string }

func (d *fakeDispatcher) Dispatch(name string) { d.names = append(d.names, name) }

func TestEnqueueRefresh_UsesDispatcher(t *testing.T) {
	q := &fakeDispatcher{}
	e, ctx := newTestEngine(t, budget.WithDispatcher(q))
	live := liveBudget(t, e, ctx, "2025")

	_, _, err := e.SaveContract(ctx, contract("K", "Platform", 1000, budget.BillingAnnual))
	require.NoError(t, err)

	assert.Equal(t, []string{live.Name}, q.names)
	assert.Empty(t, reload(t, e, ctx, live.Name).Lines, "refresh waits for the worker")

	require.NoError(t, e.RunQueuedRefresh(ctx, live.Name))
	assert.Len(t, reload(t, e, ctx, live.Name).Lines, 1)
}

func TestRealignHorizon_FlagsItems(t *testing.T) {
	// GIVEN: an item planned for 2027, beyond the 2025-2026 horizon
	clock := now
	e, ctx := newTestEngine(t, budget.WithClock(func() time.Time { return clock }))
	approvedProject(t, e, ctx, "PRJ", "Workplace")
	it, err := e.SavePlannedItem(ctx, submittedItem("PI-FAR", "PRJ", 100, "2027-01-01", "2027-12-31"))
	require.NoError(t, err)
	assert.True(t, it.OutOfHorizon)

	// WHEN: a year passes and the horizon is realigned
	clock = now.AddDate(1, 0, 0)
	_, err = e.RealignHorizon(ctx)
	require.NoError(t, err)

	// THEN
	got, err := e.GetPlannedItem(ctx, "PI-FAR")
	require.NoError(t, err)
	assert.False(t, got.OutOfHorizon)
}

// =============================================================================
// ADDENDA, ACTUALS & CAP
// =============================================================================

// approvedSnapshot returns a submitted 2025 snapshot with a Platform
// allowance of 100 a month.
func approvedSnapshot(t *testing.T, e *budget.Engine, ctx context.Context) *budget.Budget {
	t.Helper()
	live := liveBudget(t, e, ctx, "2025")
	snap, err := e.CreateSnapshot(ctx, live.Name)
	require.NoError(t, err)
	allowance := budget.Line{Kind: budget.LineAllowance, CostCenter: "Platform", MonthlyAmount: decimal.NewFromInt(100), VATRate: budget.Rate(0)}
	snap, err = e.SaveBudgetLines(ctx, snap.Name, snap.Version, append(snap.Lines, allowance))
	require.NoError(t, err)
	snap, err = e.SubmitBudget(ctx, snap.Name)
	require.NoError(t, err)
	return snap
}

func TestCap_AfterAddendum(t *testing.T) {
	// GIVEN: an approved snapshot with a 1200 allowance for Platform
	e, ctx := newTestEngine(t)
	snap := approvedSnapshot(t, e, ctx)

	// WHEN: an addendum of 50 is submitted
	a, err := e.CreateAddendum(ctx, budget.Addendum{Year: "2025", CostCenter: "Platform", ReferenceSnapshot: snap.Name, DeltaAmount: decimal.NewFromInt(50), Reason: "extra seats"})
	require.NoError(t, err)
	assert.Equal(t, "ADD-2025-PLATFORM-0001", a.Name)

	res, err := e.GetCap(ctx, "2025", "Platform", false)
	require.NoError(t, err)
	money(t, "1200", res.CapTotal, "drafts do not count")

	_, err = e.SubmitAddendum(ctx, a.Name)
	require.NoError(t, err)

	// THEN
	res, err = e.GetCap(ctx, "2025", "Platform", false)
	require.NoError(t, err)
	money(t, "1250", res.CapTotal)
	assert.Equal(t, snap.Name, res.SnapshotBudget)

	// AND: cancelling takes it back out
	_, err = e.CancelAddendum(ctx, a.Name)
	require.NoError(t, err)
	res, err = e.GetCap(ctx, "2025", "Platform", false)
	require.NoError(t, err)
	money(t, "1200", res.CapTotal)
}

func TestAddendum_ReferenceValidation(t *testing.T) {
	e, ctx := newTestEngine(t)
	snap := approvedSnapshot(t, e, ctx)
	live, _, err := e.EnsureLiveBudget(ctx, "2025")
	require.NoError(t, err)

	tests := []struct {
		name string
		a    budget.Addendum
	}{
		{"live budget", budget.Addendum{Year: "2025", CostCenter: "Platform", ReferenceSnapshot: live.Name}},
		{"missing budget", budget.Addendum{Year: "2025", CostCenter: "Platform", ReferenceSnapshot: "BUD-2025-APP-9999"}},
		{"no allowance for cost center", budget.Addendum{Year: "2025", CostCenter: "Workplace", ReferenceSnapshot: snap.Name}},
		{"no reference", budget.Addendum{Year: "2025", CostCenter: "Platform"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Reason = "test"
			tt.a.DeltaAmount = decimal.NewFromInt(10)
			a, err := e.CreateAddendum(ctx, tt.a)
			require.NoError(t, err)

			_, err = e.SubmitAddendum(ctx, a.Name)
			assert.True(t, errors.Is(err, budget.ErrAddendumReferenceInvalid), "got %v", err)
		})
	}
}

func TestAddendum_BlocksSnapshotDeletionAndRequiresReason(t *testing.T) {
	e, ctx := newTestEngine(t)
	live := liveBudget(t, e, ctx, "2025")
	snap, err := e.CreateSnapshot(ctx, live.Name)
	require.NoError(t, err)

	_, err = e.CreateAddendum(ctx, budget.Addendum{Year: "2025", CostCenter: "Platform", ReferenceSnapshot: snap.Name})
	assert.True(t, budget.IsClientError(err), "reason is required")

	a, err := e.CreateAddendum(ctx, budget.Addendum{Year: "2025", CostCenter: "Platform", ReferenceSnapshot: snap.Name, Reason: "pending"})
	require.NoError(t, err)
	assert.Error(t, e.DeleteBudget(ctx, snap.Name), "a draft addendum still references it")

	require.NoError(t, e.DeleteAddendum(ctx, a.Name))
	assert.NoError(t, e.DeleteBudget(ctx, snap.Name))
}

func TestCap_VerifiedActualsOnly(t *testing.T) {
	e, ctx := newTestEngine(t)
	approvedSnapshot(t, e, ctx)

	spend := func(status budget.ActualStatus, amount int64, posted string) {
		_, err := e.RecordActual(ctx, budget.ActualEntry{
			PostingDate: date(posted),
			Status:      status,
			Kind:        budget.EntryAllowanceSpend,
			CostCenter:  "Platform",
			Amount:      decimal.NewFromInt(amount),
			VATRate:     budget.Rate(0),
		})
		require.NoError(t, err)
	}
	spend(budget.ActualVerified, 300, "2025-03-01")
	spend(budget.ActualRecorded, 100, "2025-04-01")
	spend(budget.ActualVerified, 1000, "2025-11-01")

	res, err := e.GetCap(ctx, "2025", "Platform", false)
	require.NoError(t, err)
	money(t, "300", res.ActualYTD, "recorded and future entries are excluded")
	money(t, "900", res.Remaining)
	money(t, "0", res.OverCap)
}

func TestRecordActual_Rules(t *testing.T) {
	e, ctx := newTestEngine(t)

	_, err := e.RecordActual(ctx, budget.ActualEntry{PostingDate: date("2025-03-01"), Kind: budget.EntryAllowanceSpend, Amount: decimal.NewFromInt(1), VATRate: budget.Rate(0)})
	assert.True(t, budget.IsClientError(err), "allowance spend needs a cost center")

	_, err = e.RecordActual(ctx, budget.ActualEntry{PostingDate: date("2025-03-01"), Kind: budget.EntryDelta, CostCenter: "Platform", Amount: decimal.NewFromInt(1), VATRate: budget.Rate(0)})
	assert.True(t, budget.IsClientError(err), "delta needs exactly one link")

	a, err := e.RecordActual(ctx, budget.ActualEntry{PostingDate: date("2025-03-01"), Status: budget.ActualVerified, Kind: budget.EntryAllowanceSpend, CostCenter: "Platform", Amount: decimal.NewFromInt(122), AmountIncludesVAT: true, VATRate: budget.Rate(22)})
	require.NoError(t, err)
	assert.Equal(t, "2025", a.Year)
	money(t, "100", a.AmountNet)

	a.Amount = decimal.NewFromInt(1)
	_, err = e.RecordActual(ctx, *a)
	assert.True(t, errors.Is(err, budget.ErrOperationNotAllowed), "verified entries are frozen")
	assert.True(t, errors.Is(e.DeleteActual(ctx, a.Name), budget.ErrOperationNotAllowed))
}

// =============================================================================
// VERIFY
// =============================================================================

func TestVerify_CleanAfterNormalUse(t *testing.T) {
	e, ctx := newTestEngine(t)
	approvedSnapshot(t, e, ctx)
	_, _, err := e.SaveContract(ctx, contract("K", "Platform", 1000, budget.BillingQuarterly))
	require.NoError(t, err)
	approvedProject(t, e, ctx, "PRJ", "Workplace")
	_, err = e.SavePlannedItem(ctx, submittedItem("PI", "PRJ", 999, "2025-03-01", "2026-02-28"))
	require.NoError(t, err)

	violations, err := e.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}
