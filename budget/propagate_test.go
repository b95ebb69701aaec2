package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var propagationToday = MustParseDate("2025-10-16")

func TestAffectedYearsForContract(t *testing.T) {
	active := &Contract{Name: "K", Status: ContractActive, StartDate: MustParseDate("2024-06-01"), EndDate: MustParseDate("2027-05-31")}
	draft := &Contract{Name: "K", Status: ContractDraft, StartDate: MustParseDate("2025-01-01")}
	cancelled := &Contract{Name: "K", Status: ContractCancelled, StartDate: MustParseDate("2024-06-01"), EndDate: MustParseDate("2027-05-31")}
	past := &Contract{Name: "K", Status: ContractActive, StartDate: MustParseDate("2020-01-01"), EndDate: MustParseDate("2021-12-31")}

	assert.Equal(t, []string{"2025", "2026"}, AffectedYearsForContract(nil, active, propagationToday), "clipped to horizon")
	assert.Nil(t, AffectedYearsForContract(nil, draft, propagationToday), "drafts never feed")
	assert.Equal(t, []string{"2025", "2026"}, AffectedYearsForContract(active, cancelled, propagationToday), "cancelling still refreshes")
	assert.Nil(t, AffectedYearsForContract(nil, past, propagationToday), "outside horizon")

	moved := &Contract{Name: "K", Status: ContractActive, StartDate: MustParseDate("2026-01-01")}
	was := &Contract{Name: "K", Status: ContractActive, StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2025-12-31")}
	assert.Equal(t, []string{"2025", "2026"}, AffectedYearsForContract(was, moved, propagationToday), "old range included")
}

func TestAffectedYearsForPlannedItem(t *testing.T) {
	submitted := &PlannedItem{Name: "P", WorkflowState: StateSubmitted, StartDate: MustParseDate("2025-11-01"), EndDate: MustParseDate("2026-02-28")}
	draft := &PlannedItem{Name: "P", WorkflowState: StateDraft, StartDate: MustParseDate("2025-11-01"), EndDate: MustParseDate("2026-02-28")}
	spend := &PlannedItem{Name: "P", WorkflowState: StateSubmitted, StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2026-12-31"), SpendDate: MustParseDate("2026-03-01")}
	covered := &PlannedItem{Name: "P", WorkflowState: StateSubmitted, IsCovered: true, StartDate: MustParseDate("2025-01-01"), EndDate: MustParseDate("2025-12-31")}

	assert.Equal(t, []string{"2025", "2026"}, AffectedYearsForPlannedItem(nil, submitted, EventSubmit, propagationToday))
	assert.Nil(t, AffectedYearsForPlannedItem(nil, draft, EventUpdate, propagationToday))
	assert.Equal(t, []string{"2026"}, AffectedYearsForPlannedItem(nil, spend, EventUpdate, propagationToday), "spend date wins")
	assert.Nil(t, AffectedYearsForPlannedItem(nil, covered, EventUpdate, propagationToday))
	assert.Equal(t, []string{"2025", "2026"}, AffectedYearsForPlannedItem(submitted, draft, EventUpdate, propagationToday), "withdrawn item refreshes")
	assert.Equal(t, []string{"2025", "2026"}, AffectedYearsForPlannedItem(nil, submitted, EventDelete, propagationToday))
}

func TestAffectedYearsForAddendumAndFilter(t *testing.T) {
	assert.Equal(t, []string{"2026"}, AffectedYearsForAddendum(&Addendum{Year: "2026"}, propagationToday))
	assert.Nil(t, AffectedYearsForAddendum(&Addendum{Year: "2024"}, propagationToday))
	assert.Equal(t, []string{"2025", "2026"}, FilterHorizon([]string{"2026", "2024", "2025", "2026", "2027"}, propagationToday))
}
