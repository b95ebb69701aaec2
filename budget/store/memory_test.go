package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/budget/store"
	"github.com/warp/budget-engine/budget/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) budget.TxStore { return store.NewMemory() })
}

func TestMemory_ReadsAreCopies(t *testing.T) {
	// GIVEN a stored budget
	ctx := context.Background()
	m := store.NewMemory()
	b := &budget.Budget{Name: "B", Year: "2025", Type: budget.BudgetLive, Lines: []budget.Line{{Idx: 1, Kind: budget.LineManual, VATRate: budget.Rate(22)}}}
	require.NoError(t, m.CreateBudget(ctx, b))

	// WHEN the caller mutates what it read
	got, err := m.GetBudget(ctx, "B")
	require.NoError(t, err)
	got.Lines[0].CostCenter = "changed"
	*got.Lines[0].VATRate = budget.MustParseDecimal("5")

	// THEN the stored document is untouched
	again, err := m.GetBudget(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, again.Lines[0].CostCenter)
	assert.True(t, again.Lines[0].VATRate.Equal(budget.MustParseDecimal("22")))
}
