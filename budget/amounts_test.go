package budget

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return MustParseDecimal(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// AMOUNTS RESOLVER
// =============================================================================

func TestResolveAmounts_InputKinds(t *testing.T) {
	tests := []struct {
		name        string
		in          AmountInput
		kind        InputKind
		wantMonthly string
		wantAnnual  string
	}{
		{"monthly only", AmountInput{Monthly: d("100"), Recurrence: RecurrenceMonthly}, InputByMonthly, "100", "1200"},
		{"annual only keeps annual exact", AmountInput{Annual: d("1000"), Recurrence: RecurrenceAnnual}, InputByAnnual, "83.33", "1000"},
		{"both provided favours annual", AmountInput{Monthly: d("90"), Annual: d("1200")}, InputByBoth, "100", "1200"},
		{"unit price monthly", AmountInput{Qty: d("3"), UnitPrice: d("10"), Recurrence: RecurrenceMonthly}, InputByUnitPrice, "30", "360"},
		{"unit price quarterly", AmountInput{Qty: d("1"), UnitPrice: d("300"), Recurrence: RecurrenceQuarterly}, InputByUnitPrice, "100", "1200"},
		{"unit price without qty counts one", AmountInput{UnitPrice: d("1000"), Recurrence: RecurrenceAnnual}, InputByUnitPrice, "83.33", "1000"},
		{"unit price custom 6 months", AmountInput{Qty: d("1"), UnitPrice: d("600"), Recurrence: RecurrenceCustom, CustomPeriodMonths: 6}, InputByUnitPrice, "100", "1200"},
		{"nothing", AmountInput{}, InputEmpty, "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.in.Kind())
			got, err := ResolveAmounts(tt.in)
			require.NoError(t, err)
			assertMoney(t, tt.wantMonthly, got.Monthly, "monthly")
			assertMoney(t, tt.wantAnnual, got.Annual, "annual")
		})
	}
}

func TestResolveAmounts_CustomRecurrenceNeedsMonths(t *testing.T) {
	_, err := ResolveAmounts(AmountInput{UnitPrice: d("10"), Recurrence: RecurrenceCustom})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = PeriodsPerYear(RecurrenceCustom, 13)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

// =============================================================================
// VAT SPLITTER
// =============================================================================

func TestSplitVAT_NetInput(t *testing.T) {
	split, err := SplitVAT(d("1000"), Rate(22), nil, false)
	require.NoError(t, err)
	assertMoney(t, "1000", split.Net)
	assertMoney(t, "220", split.VAT)
	assertMoney(t, "1220", split.Gross)
}

func TestSplitVAT_GrossInput(t *testing.T) {
	split, err := SplitVAT(d("1220"), Rate(22), nil, true)
	require.NoError(t, err)
	assertMoney(t, "1000", split.Net)
	assertMoney(t, "220", split.VAT)
	assertMoney(t, "1220", split.Gross)
}

func TestSplitVAT_RoundingKeepsNetPlusVATEqualGross(t *testing.T) {
	for _, amount := range []string{"0.01", "10.10", "99.99", "333.33", "1234.56"} {
		for _, inc := range []bool{true, false} {
			split, err := SplitVAT(d(amount), Rate(22), nil, inc)
			require.NoError(t, err)
			assert.True(t, split.Net.Add(split.VAT).Equal(split.Gross), "%s inc=%v", amount, inc)
			assert.True(t, split.Net.Equal(Round(split.Net)), "net rounded")
			assert.True(t, split.Gross.Equal(Round(split.Gross)), "gross rounded")
		}
	}
}

func TestSplitVAT_DefaultRateAndMissingRate(t *testing.T) {
	// GIVEN: no rate on the document but a tenant default
	split, err := SplitVAT(d("100"), nil, Rate(10), false)
	require.NoError(t, err)
	assertMoney(t, "110", split.Gross)

	// WHEN: neither is set
	_, err = SplitVAT(d("100"), nil, nil, false)

	// THEN: the strict mode error
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingVATRate))
	assert.True(t, IsClientError(err))
}

func TestSplitVAT_ZeroAmountNeedsNoRate(t *testing.T) {
	split, err := SplitVAT(decimal.Zero, nil, nil, false)
	require.NoError(t, err)
	assert.True(t, split.Gross.IsZero())
}

func TestSplitVAT_NegativeRateRejected(t *testing.T) {
	neg := d("-5")
	_, err := SplitVAT(d("100"), &neg, nil, false)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

// =============================================================================
// ANNUALIZATION & OVERLAP
// =============================================================================

func TestOverlapMonths(t *testing.T) {
	y2025 := Period{Start: MustParseDate("2025-01-01"), End: MustParseDate("2025-12-31")}
	tests := []struct {
		name string
		p    Period
		want int
	}{
		{"partial months count", Period{MustParseDate("2025-01-15"), MustParseDate("2025-03-02")}, 3},
		{"starts previous year", Period{MustParseDate("2024-11-01"), MustParseDate("2025-02-28")}, 2},
		{"next year", Period{MustParseDate("2026-01-01"), MustParseDate("2026-06-30")}, 0},
		{"single day", Period{MustParseDate("2025-07-04"), MustParseDate("2025-07-04")}, 1},
		{"covers year", Period{MustParseDate("2020-01-01"), MustParseDate("2030-01-01")}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverlapMonths(tt.p, y2025))
			assert.Equal(t, tt.want, OverlapMonths(y2025, tt.p), "symmetric")
		})
	}
}

func TestAnnualize(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		rule    Recurrence
		custom  int
		overlap int
		want    string
	}{
		{"monthly full year", "100", RecurrenceMonthly, 0, 12, "1200"},
		{"monthly six months", "100", RecurrenceMonthly, 0, 6, "600"},
		{"quarterly full year", "300", RecurrenceQuarterly, 0, 12, "1200"},
		{"annual half year", "1200", RecurrenceAnnual, 0, 6, "600"},
		{"none unchanged", "500", RecurrenceNone, 0, 3, "500"},
		{"custom 2 months", "200", RecurrenceCustom, 2, 12, "1200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Annualize(d(tt.amount), tt.rule, tt.custom, tt.overlap)
			require.NoError(t, err)
			assertMoney(t, tt.want, Round(got))
		})
	}
}

func TestFiscalYearWindow(t *testing.T) {
	w, err := FiscalYear{Name: "2025"}.Window()
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", w.Start.String())
	assert.Equal(t, "2025-12-31", w.End.String())

	w, err = FiscalYear{Name: "FY25", Start: MustParseDate("2024-07-01"), End: MustParseDate("2025-06-30")}.Window()
	require.NoError(t, err)
	assert.Equal(t, 12, w.Months())

	_, err = FiscalYear{Name: "FY25"}.Window()
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestHorizon(t *testing.T) {
	today := MustParseDate("2025-10-16")
	assert.Equal(t, []string{"2025", "2026"}, Horizon(today))
	assert.True(t, InHorizon("2026", today))
	assert.False(t, InHorizon("2024", today))
	assert.False(t, InHorizon("2027", today))
}
