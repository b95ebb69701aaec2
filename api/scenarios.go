/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Pre-built scenarios that populate the engine with realistic data for
  demos and smoke tests. Each scenario seeds master data and sources
  through factory.Loader, then drives the engine the way a user would.
  Dates are relative to the engine clock's current year (Y).

AVAILABLE SCENARIOS:
  contract-portfolio: annual, gross-inclusive and quarterly contracts in Y
  project-plan:       approved project with a one-year and a two-year item
  cap-addendum:       contract-portfolio, then snapshot with an allowance,
                      an approved addendum and a verified actual

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "cap-addendum"}

NOTE:
  Scenarios upsert their documents, so loading one twice is safe. The
  cap-addendum scenario creates a new snapshot and addendum each time.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "contract-portfolio",
		Name:        "Contract Portfolio",
		Description: "Annual, gross-inclusive and quarterly contracts feeding the Live budget",
	},
	{
		ID:          "project-plan",
		Name:        "Project Plan",
		Description: "Approved project whose planned items spread across one and two years",
	},
	{
		ID:          "cap-addendum",
		Name:        "Cap With Addendum",
		Description: "Approved snapshot with an allowance, an addendum and a verified actual",
	},
}

// ScenarioResult reports what a scenario produced.
type ScenarioResult struct {
	Scenario string            `json:"scenario"`
	Seed     *factory.Report   `json:"seed"`
	Budgets  []*budget.Budget  `json:"budgets"`
	Cap      *budget.CapResult `json:"cap,omitempty"`
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.RunScenario(r.Context(), req.ScenarioID)
	if err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunScenario loads the scenario with the given id.
func (h *Handler) RunScenario(ctx context.Context, id string) (*ScenarioResult, error) {
	y := h.Engine.Today().Year()
	switch id {
	case "contract-portfolio":
		return h.seedAndRefresh(ctx, id, contractPortfolioSeed(y))
	case "project-plan":
		return h.seedAndRefresh(ctx, id, projectPlanSeed(y))
	case "cap-addendum":
		return h.loadCapAddendum(ctx, y)
	}
	return nil, &budget.ValidationError{Entity: "Scenario", Name: id, Message: "unknown scenario", Err: budget.ErrNotFound}
}

// seedAndRefresh applies seed and refreshes its Live budgets synchronously,
// so the result shows generated lines even when the queue is asynchronous.
func (h *Handler) seedAndRefresh(ctx context.Context, id string, seed *factory.Seed) (*ScenarioResult, error) {
	report, err := h.Seeds.Apply(ctx, h.Engine, seed)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	res := &ScenarioResult{Scenario: id, Seed: report}
	for _, name := range report.LiveBudgets {
		if _, err := h.Engine.RefreshBudget(ctx, name, budget.RefreshOptions{Manual: true, Reason: "scenario " + id}); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", id, err)
		}
		b, err := h.Engine.GetBudget(ctx, name)
		if err != nil {
			return nil, err
		}
		res.Budgets = append(res.Budgets, b)
	}
	return res, nil
}

func (h *Handler) loadCapAddendum(ctx context.Context, y int) (*ScenarioResult, error) {
	const id = "cap-addendum"
	res, err := h.seedAndRefresh(ctx, id, contractPortfolioSeed(y))
	if err != nil {
		return nil, err
	}
	live := res.Budgets[0]

	snap, err := h.Engine.CreateSnapshot(ctx, live.Name)
	if err != nil {
		return nil, err
	}
	lines := append(snap.Lines, budget.Line{
		Kind:          budget.LineAllowance,
		CostCenter:    "Platform",
		Description:   "Platform discretionary allowance",
		MonthlyAmount: decimal.NewFromInt(100),
		VATRate:       budget.Rate(0),
		Recurrence:    budget.RecurrenceMonthly,
	})
	if snap, err = h.Engine.SaveBudgetLines(ctx, snap.Name, snap.Version, lines); err != nil {
		return nil, err
	}
	if snap, err = h.Engine.SubmitBudget(ctx, snap.Name); err != nil {
		return nil, err
	}

	year := strconv.Itoa(y)
	add, err := h.Engine.CreateAddendum(ctx, budget.Addendum{
		Year:              year,
		CostCenter:        "Platform",
		ReferenceSnapshot: snap.Name,
		DeltaAmount:       decimal.NewFromInt(50),
		Reason:            "Extra monitoring seats",
	})
	if err != nil {
		return nil, err
	}
	if _, err := h.Engine.SubmitAddendum(ctx, add.Name); err != nil {
		return nil, err
	}

	if _, err := h.Engine.RecordActual(ctx, budget.ActualEntry{
		PostingDate: h.Engine.Today(),
		Status:      budget.ActualVerified,
		Kind:        budget.EntryAllowanceSpend,
		CostCenter:  "Platform",
		Amount:      decimal.NewFromInt(300),
		VATRate:     budget.Rate(0),
		Description: "Monitoring seats",
	}); err != nil {
		return nil, err
	}

	capRes, err := h.Engine.GetCap(ctx, year, "Platform", false)
	if err != nil {
		return nil, err
	}
	res.Budgets = append(res.Budgets, snap)
	res.Cap = capRes
	return res, nil
}

// =============================================================================
// SEEDS
// =============================================================================

func masterData(y int) *factory.Seed {
	return &factory.Seed{
		FiscalYears: []factory.FiscalYearJSON{
			{Name: strconv.Itoa(y)},
			{Name: strconv.Itoa(y + 1)},
		},
		CostCenters: []factory.CostCenterJSON{
			{Name: "Platform"},
			{Name: "Workplace"},
		},
		Vendors: []factory.VendorJSON{
			{Name: "Acme Cloud"},
			{Name: "Northwind Office"},
		},
	}
}

func contractPortfolioSeed(y int) *factory.Seed {
	s := masterData(y)
	jan1 := fmt.Sprintf("%d-01-01", y)
	dec31 := fmt.Sprintf("%d-12-31", y)
	s.Contracts = []factory.ContractJSON{
		{
			Name: "CT-CLOUD-ANNUAL", Description: "Cloud platform licence", Vendor: "Acme Cloud",
			CostCenter: "Platform", Status: string(budget.ContractActive), StartDate: jan1, EndDate: dec31,
			Terms: []factory.TermJSON{{FromDate: jan1, Amount: decimal.NewFromInt(1000), VATRate: budget.Rate(0), BillingCycle: string(budget.BillingAnnual)}},
		},
		{
			Name: "CT-MONITORING", Description: "Monitoring suite, VAT included", Vendor: "Acme Cloud",
			CostCenter: "Platform", Status: string(budget.ContractActive), StartDate: jan1, EndDate: dec31,
			Terms: []factory.TermJSON{{FromDate: jan1, Amount: decimal.NewFromInt(1220), AmountIncludesVAT: true, VATRate: budget.Rate(22), BillingCycle: string(budget.BillingAnnual)}},
		},
		{
			Name: "CT-OFFICE-SUPPLIES", Description: "Office supplies", Vendor: "Northwind Office",
			CostCenter: "Workplace", Status: string(budget.ContractActive), StartDate: jan1, EndDate: dec31,
			Terms: []factory.TermJSON{{FromDate: jan1, Amount: decimal.NewFromInt(300), VATRate: budget.Rate(0), BillingCycle: string(budget.BillingQuarterly)}},
		},
	}
	s.LiveBudgets = []string{strconv.Itoa(y)}
	return s
}

func projectPlanSeed(y int) *factory.Seed {
	s := masterData(y)
	s.Projects = []factory.ProjectJSON{{
		Name: "PRJ-LAPTOPS", Title: "Laptop refresh", CostCenter: "Workplace",
		WorkflowState: string(budget.StateApproved),
	}}
	s.PlannedItems = []factory.PlannedItemJSON{
		{
			Name: "PI-LAPTOPS-Y1", Project: "PRJ-LAPTOPS", Description: "Laptops, first wave",
			Amount: decimal.NewFromInt(1200), VATRate: budget.Rate(0),
			StartDate: fmt.Sprintf("%d-01-01", y), EndDate: fmt.Sprintf("%d-12-31", y),
			WorkflowState: string(budget.StateSubmitted),
		},
		{
			Name: "PI-LAPTOP-LEASE", Project: "PRJ-LAPTOPS", Description: "Laptop lease, two years",
			Amount: decimal.NewFromInt(1200), VATRate: budget.Rate(0),
			StartDate: fmt.Sprintf("%d-01-01", y), EndDate: fmt.Sprintf("%d-12-31", y+1),
			WorkflowState: string(budget.StateSubmitted),
		},
	}
	s.LiveBudgets = []string{strconv.Itoa(y), strconv.Itoa(y + 1)}
	return s
}
