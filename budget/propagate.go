package budget

import (
	"sort"
)

// =============================================================================
// SOURCE CHANGE PROPAGATION - which years does a change touch?
// =============================================================================
//
// These functions are pure: given the previous and current version of a
// document they return the in-horizon years whose Live budget must be
// refreshed. The previous version matters because a change can also move a
// source out of a year, and that year's line must then be deactivated.

// ChangeEvent is the document lifecycle event that triggered propagation.
type ChangeEvent string

const (
	EventUpdate ChangeEvent = "update"
	EventSubmit ChangeEvent = "submit"
	EventCancel ChangeEvent = "cancel"
	EventDelete ChangeEvent = "delete"
)

// ContractRange is the span of days a contract may contribute to.
func ContractRange(c *Contract) (Period, bool) {
	p := c.Lifetime()
	if c.StartDate.IsZero() && len(c.Terms) > 0 {
		first := c.Terms[0].FromDate
		for _, t := range c.Terms[1:] {
			if t.FromDate.Before(first) {
				first = t.FromDate
			}
		}
		p.Start = first
	}
	if p.IsEmpty() {
		return Period{}, false
	}
	return p, true
}

// AffectedYearsForContract returns horizon years to refresh after a contract
// changed. prev is nil on create.
func AffectedYearsForContract(prev *Contract, cur *Contract, today Date) []string {
	wasFeeding := prev != nil && prev.Status.Generates()
	if cur.Status == ContractDraft && !wasFeeding {
		return nil
	}
	years := yearSet{}
	if r, ok := ContractRange(cur); ok {
		years.addRange(r, today)
	}
	if wasFeeding {
		if r, ok := ContractRange(prev); ok {
			years.addRange(r, today)
		}
	}
	return years.sorted()
}

// plannedItemFeeds reports whether an item can produce budget lines.
func plannedItemFeeds(it *PlannedItem) bool {
	return it != nil && it.WorkflowState == StateSubmitted && !it.IsCovered && !it.OutOfHorizon
}

func plannedItemRange(it *PlannedItem) (Period, bool) {
	if !it.SpendDate.IsZero() {
		return Period{Start: it.SpendDate, End: it.SpendDate}, true
	}
	if it.StartDate.IsZero() || it.EndDate.IsZero() || it.EndDate.Before(it.StartDate) {
		return Period{}, false
	}
	return it.Span(), true
}

// AffectedYearsForPlannedItem returns horizon years to refresh after a
// planned item event. Drafts, covered and out-of-horizon items are skipped
// unless the previous version was feeding a budget.
func AffectedYearsForPlannedItem(prev, cur *PlannedItem, event ChangeEvent, today Date) []string {
	wasFeeding := plannedItemFeeds(prev)
	if event == EventUpdate && cur.WorkflowState == StateDraft && !wasFeeding {
		return nil
	}
	if !plannedItemFeeds(cur) && !wasFeeding && event != EventDelete {
		return nil
	}
	years := yearSet{}
	if r, ok := plannedItemRange(cur); ok {
		years.addRange(r, today)
	}
	if wasFeeding {
		if r, ok := plannedItemRange(prev); ok {
			years.addRange(r, today)
		}
	}
	return years.sorted()
}

// AffectedYearsForAddendum returns the addendum's year when it is in horizon.
func AffectedYearsForAddendum(a *Addendum, today Date) []string {
	if !InHorizon(a.Year, today) {
		return nil
	}
	return []string{a.Year}
}

// FilterHorizon keeps the years inside the horizon, deduplicated and sorted.
func FilterHorizon(years []string, today Date) []string {
	set := yearSet{}
	for _, y := range years {
		if InHorizon(y, today) {
			set[y] = true
		}
	}
	return set.sorted()
}

type yearSet map[string]bool

func (s yearSet) addRange(p Period, today Date) {
	clipped, ok := p.Intersect(HorizonWindow(today))
	if !ok {
		return
	}
	for _, y := range YearsIn(clipped) {
		s[y] = true
	}
}

func (s yearSet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for y := range s {
		out = append(out, y)
	}
	sort.Strings(out)
	return out
}
