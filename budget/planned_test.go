package budget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preparedItem(t *testing.T, it PlannedItem) *PlannedItem {
	t.Helper()
	if it.Name == "" {
		it.Name = "PI-1"
	}
	if it.Project == "" {
		it.Project = "PRJ-1"
	}
	if it.VATRate == nil {
		it.VATRate = Rate(0)
	}
	require.NoError(t, PreparePlannedItem(&it, nil, MustParseDate("2025-01-01"), DefaultSettings()))
	return &it
}

func TestDistribute_EvenOverTwelveMonths(t *testing.T) {
	it := preparedItem(t, PlannedItem{Amount: d("1200"), StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2025-12-31")})

	alloc, ok := it.Distribute(y2025)

	require.True(t, ok)
	assertMoney(t, "100", alloc.Monthly)
	assertMoney(t, "1200", alloc.Annual)
	assert.Equal(t, 12, alloc.OverlapMonths)
}

func TestDistribute_SpendDateIsSingleBucket(t *testing.T) {
	it := preparedItem(t, PlannedItem{
		Amount:    d("500"),
		StartDate: MustParseDate("2025-10-01"),
		EndDate:   MustParseDate("2025-10-31"),
		SpendDate: MustParseDate("2025-10-15"),
	})

	alloc, ok := it.Distribute(y2025)

	require.True(t, ok)
	assertMoney(t, "500", alloc.Monthly)
	assert.Equal(t, 1, alloc.OverlapMonths)
	assert.Equal(t, "2025-10-01", alloc.Period.Start.String())
	assert.Equal(t, "2025-10-31", alloc.Period.End.String())
}

func TestDistribute_MultiYearSplitsByOverlap(t *testing.T) {
	it := preparedItem(t, PlannedItem{Amount: d("1200"), StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2026-12-31")})

	for _, year := range []Period{y2025, y2026} {
		alloc, ok := it.Distribute(year)
		require.True(t, ok)
		assertMoney(t, "50", alloc.Monthly)
		assertMoney(t, "600", alloc.Annual)
		assert.Equal(t, 12, alloc.OverlapMonths)
	}
}

func TestDistribute_StartAndEndModes(t *testing.T) {
	base := PlannedItem{Amount: d("900"), StartDate: MustParseDate("2025-11-01"), EndDate: MustParseDate("2026-02-28")}

	start := base
	start.Distribution = DistributeStart
	s := preparedItem(t, start)
	_, ok := s.Distribute(y2026)
	assert.False(t, ok, "start bucket lands in 2025")
	alloc, ok := s.Distribute(y2025)
	require.True(t, ok)
	assert.Equal(t, "2025-11-01", alloc.Period.Start.String())

	end := base
	end.Distribution = DistributeEnd
	e := preparedItem(t, end)
	_, ok = e.Distribute(y2025)
	assert.False(t, ok, "end bucket lands in 2026")
	alloc, ok = e.Distribute(y2026)
	require.True(t, ok)
	assertMoney(t, "900", alloc.Monthly)
}

func TestDistribute_ZeroContributionIsNotAnError(t *testing.T) {
	it := preparedItem(t, PlannedItem{Amount: d("1200"), StartDate: MustParseDate("2027-01-01"), EndDate: MustParseDate("2027-12-31")})
	_, ok := it.Distribute(y2025)
	assert.False(t, ok)

	zero := preparedItem(t, PlannedItem{Amount: d("0"), StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2025-12-31")})
	_, ok = zero.Distribute(y2025)
	assert.False(t, ok)
}

func TestPreparePlannedItem_SpendDateRules(t *testing.T) {
	today := MustParseDate("2025-06-01")
	it := PlannedItem{
		Name: "PI-1", Project: "PRJ-1", Amount: d("100"), VATRate: Rate(0),
		StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2025-12-31"),
		SpendDate: MustParseDate("2025-03-01"),
	}

	// a new past spend date is rejected
	err := PreparePlannedItem(&it, nil, today, DefaultSettings())
	assert.True(t, errors.Is(err, ErrInvalidInput))

	// an unchanged past spend date is accepted
	prev := it
	require.NoError(t, PreparePlannedItem(&it, &prev, today, DefaultSettings()))

	// outside the item's span is rejected
	it.SpendDate = MustParseDate("2026-01-15")
	err = PreparePlannedItem(&it, &prev, today, DefaultSettings())
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPreparePlannedItem_DerivedFlags(t *testing.T) {
	it := PlannedItem{
		Name: "PI-1", Project: "PRJ-1", Amount: d("122"), AmountIncludesVAT: true, VATRate: Rate(22),
		StartDate: MustParseDate("2030-01-01"), EndDate: MustParseDate("2030-12-31"),
		CoveredByType: "Contract",
	}
	require.NoError(t, PreparePlannedItem(&it, nil, MustParseDate("2025-06-01"), DefaultSettings()))

	assertMoney(t, "100", it.AmountNet)
	assert.False(t, it.IsCovered)
	assert.Empty(t, it.CoveredByType, "cleared when not covered")
	assert.True(t, it.OutOfHorizon)
	assert.Equal(t, DistributeAll, it.Distribution)
	assert.Equal(t, ItemEstimate, it.ItemType)
}

func TestPrepareProject_Totals(t *testing.T) {
	p := &Project{Name: "PRJ-1", CostCenter: "Platform", WorkflowState: StateApproved}
	items := []PlannedItem{
		{Name: "a", ItemType: ItemEstimate, AmountNet: d("100")},
		{Name: "b", ItemType: ItemEstimate, AmountNet: d("50")},
		{Name: "c", ItemType: ItemQuote, AmountNet: d("120")},
	}
	actuals := []ActualEntry{
		{Name: "x", Status: ActualVerified, Kind: EntryDelta, Project: "PRJ-1", AmountNet: d("10")},
		{Name: "y", Status: ActualRecorded, Kind: EntryDelta, Project: "PRJ-1", AmountNet: d("999")},
	}

	warnings, err := PrepareProject(p, items, actuals)

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assertMoney(t, "150", p.PlannedTotalNet)
	assertMoney(t, "120", p.QuotedTotalNet)
	assertMoney(t, "130", p.ExpectedTotalNet, "quoted wins, plus verified deltas")
}

func TestPrepareProject_ApprovedWithoutItemsWarns(t *testing.T) {
	p := &Project{Name: "PRJ-1", CostCenter: "Platform", WorkflowState: StateApproved}
	warnings, err := PrepareProject(p, nil, nil)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}
