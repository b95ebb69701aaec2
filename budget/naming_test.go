package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeries(t *testing.T) {
	s := DefaultSettings().BudgetSeries("2025", BudgetLive)
	assert.Equal(t, "BUD-2025-LIVE-.####", s.Key())
	assert.Equal(t, "BUD-2025-LIVE-0007", s.Format(7))

	n, ok := s.Parse("BUD-2025-LIVE-0042")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	_, ok = s.Parse("BUD-2025-APP-0042")
	assert.False(t, ok)

	assert.Equal(t, "BUD-2025-APP-0001", DefaultSettings().BudgetSeries("2025", BudgetSnapshot).Format(1))
	assert.Equal(t, "ADD-2025-PLAT-0003", DefaultSettings().AddendumSeries("2025", "PLAT").Format(3))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "PLATFORM", Slugify("Platform"))
	assert.Equal(t, "IT-OPS", Slugify("  it / ops "))
	assert.Equal(t, "ENGINEERING", Slugify("Engineering & Data Platform"), "cut at 12 without a trailing dash")
	assert.Equal(t, "CC", Slugify("***"))
}

func TestUniqueAbbr(t *testing.T) {
	taken := map[string]bool{"OPS": true, "OPS-2": true}
	assert.Equal(t, "OPS-3", UniqueAbbr("OPS", func(s string) bool { return taken[s] }))
	assert.Equal(t, "DEV", UniqueAbbr("DEV", func(s string) bool { return taken[s] }))
}
