package budget

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SOURCE KEYS
// =============================================================================

func ContractKey(contract string) string { return "CONTRACT::" + contract }

// ContractTermKey identifies one term's line when several terms of the same
// contract fall inside a year.
func ContractTermKey(contract string, from Date) string {
	return fmt.Sprintf("CONTRACT::%s::%s", contract, from)
}

func PlannedItemKey(item string) string { return "PLANNED_ITEM::" + item }

func AllowanceKey(costCenter, year string) string {
	return fmt.Sprintf("ALLOWANCE::%s::%s", costCenter, year)
}

// =============================================================================
// LINE GENERATOR
// =============================================================================

// Generator produces the generated-line payloads for one fiscal year from
// every eligible contract and planned item.
type Generator struct {
	sources SourceReader
	log     *zap.SugaredLogger
}

func NewGenerator(sources SourceReader, log *zap.SugaredLogger) *Generator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Generator{sources: sources, log: log}
}

// Generate returns fresh payloads for year. Payload order is contracts then
// planned items, each in store order.
func (g *Generator) Generate(ctx context.Context, year string, window Period) ([]Line, error) {
	contracts, err := g.sources.ListContracts(ctx, ContractFilter{
		Statuses: []ContractStatus{ContractActive, ContractPendingRenewal, ContractRenewed},
	})
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	var lines []Line
	for i := range contracts {
		cl, err := g.contractLines(&contracts[i], window)
		if err != nil {
			return nil, err
		}
		lines = append(lines, cl...)
	}

	items, err := g.sources.ListPlannedItems(ctx, PlannedItemFilter{WorkflowState: StateSubmitted})
	if err != nil {
		return nil, fmt.Errorf("list planned items: %w", err)
	}
	projects := map[string]*Project{}
	for i := range items {
		l, ok, err := g.plannedItemLine(ctx, &items[i], window, projects)
		if err != nil {
			return nil, err
		}
		if ok {
			lines = append(lines, l)
		}
	}
	g.log.Debugw("generated lines", "year", year, "contracts", len(contracts), "planned_items", len(items), "lines", len(lines))
	return lines, nil
}

func (g *Generator) contractLines(c *Contract, window Period) ([]Line, error) {
	if !c.Status.Generates() {
		return nil, nil
	}
	if c.CostCenter == "" {
		return nil, &MissingClassificationError{Contract: c.Name, Field: "cost_center"}
	}
	if len(c.Terms) == 0 {
		g.log.Warnw("contract has no pricing terms, skipped", "contract", c.Name)
		return nil, nil
	}
	c.SortTerms()

	type slice struct {
		term   ContractTerm
		period Period
	}
	var slices []slice
	for i := range c.Terms {
		w, ok := c.TermWindow(i)
		if !ok {
			continue
		}
		p, ok := w.Intersect(window)
		if !ok {
			continue
		}
		slices = append(slices, slice{term: c.Terms[i], period: p})
	}

	lines := make([]Line, 0, len(slices))
	for _, s := range slices {
		key := ContractKey(c.Name)
		if len(slices) > 1 {
			key = ContractTermKey(c.Name, s.term.FromDate)
		}
		desc := c.Description
		if desc == "" {
			desc = c.Name
		}
		lines = append(lines, Line{
			Kind:        LineContract,
			CostCenter:  c.CostCenter,
			Vendor:      c.Vendor,
			Description: desc,
			Contract:    c.Name,
			Qty:         decimal.NewFromInt(1),
			// term amounts are already net
			UnitPrice:         s.term.AmountNet,
			MonthlyAmount:     s.term.MonthlyAmountNet,
			AnnualAmount:      decimal.Zero,
			AmountIncludesVAT: false,
			VATRate:           s.term.VATRate,
			Recurrence:        s.term.BillingCycle.Recurrence(),
			PeriodStart:       s.period.Start,
			PeriodEnd:         s.period.End,
			IsGenerated:       true,
			IsActive:          true,
			SourceKey:         key,
		})
	}
	return lines, nil
}

func (g *Generator) plannedItemLine(ctx context.Context, it *PlannedItem, window Period, projects map[string]*Project) (Line, bool, error) {
	if it.WorkflowState != StateSubmitted || it.IsCovered || it.OutOfHorizon {
		return Line{}, false, nil
	}
	p, ok := projects[it.Project]
	if !ok {
		var err error
		p, err = g.sources.GetProject(ctx, it.Project)
		if err != nil {
			return Line{}, false, fmt.Errorf("planned item %s: project %s: %w", it.Name, it.Project, err)
		}
		projects[it.Project] = p
	}
	if p.WorkflowState != StateApproved {
		return Line{}, false, nil
	}
	if p.CostCenter == "" {
		return Line{}, false, &ValidationError{Entity: "Project", Name: p.Name, Field: "cost_center", Message: "cost center is required to generate planned item lines", Err: ErrMissingClassification}
	}

	alloc, ok := it.Distribute(window)
	if !ok {
		return Line{}, false, nil
	}
	desc := it.Description
	if desc == "" {
		desc = it.Name
	}
	return Line{
		Kind:              LinePlannedItem,
		CostCenter:        p.CostCenter,
		Description:       desc,
		Project:           p.Name,
		PlannedItem:       it.Name,
		Qty:               decimal.Zero,
		UnitPrice:         decimal.Zero,
		MonthlyAmount:     alloc.Monthly,
		AnnualAmount:      alloc.Annual,
		AmountIncludesVAT: false,
		VATRate:           it.VATRate,
		Recurrence:        RecurrenceMonthly,
		PeriodStart:       alloc.Period.Start,
		PeriodEnd:         alloc.Period.End,
		IsGenerated:       true,
		IsActive:          true,
		SourceKey:         PlannedItemKey(it.Name),
	}, true, nil
}
