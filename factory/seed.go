/*
Package factory converts JSON seed documents into budget entities.

PURPOSE:
  Bootstraps a tenant (CLI bootstrap, demo scenarios) from one JSON file
  without going through the HTTP API. Every document is validated, then
  saved through the engine so save-time derivations and refresh
  propagation run exactly as they do for live edits.

JSON SCHEMA:
  {
    "fiscal_years": [{"name": "2025"}],
    "cost_centers": [{"name": "Platform", "parent": "All Cost Centers"}],
    "vendors":      [{"name": "Acme"}],
    "contracts": [{
      "name": "CT-1", "vendor": "Acme", "cost_center": "Platform",
      "status": "Active", "start_date": "2025-01-01",
      "terms": [{"from_date": "2025-01-01", "amount": "100",
                 "vat_rate": "22", "billing_cycle": "Monthly"}]
    }],
    "projects":      [{"name": "PRJ-1", "cost_center": "Platform", "workflow_state": "Approved"}],
    "planned_items": [{"name": "PI-1", "project": "PRJ-1", "amount": "1200",
                       "start_date": "2025-01-01", "end_date": "2025-12-31"}],
    "live_budgets":  ["2025"]
  }

APPLY ORDER:
  fiscal years -> cost centers -> vendors -> live budgets -> contracts
  -> projects -> planned items. Live budgets exist before sources so the
  save hooks have something to refresh.
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type Seed struct {
	FiscalYears  []FiscalYearJSON  `json:"fiscal_years" validate:"dive"`
	CostCenters  []CostCenterJSON  `json:"cost_centers" validate:"dive"`
	Vendors      []VendorJSON      `json:"vendors" validate:"dive"`
	Contracts    []ContractJSON    `json:"contracts" validate:"dive"`
	Projects     []ProjectJSON     `json:"projects" validate:"dive"`
	PlannedItems []PlannedItemJSON `json:"planned_items" validate:"dive"`
	LiveBudgets  []string          `json:"live_budgets" validate:"dive,numeric,len=4"`
}

type FiscalYearJSON struct {
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

type CostCenterJSON struct {
	Name    string `json:"name" validate:"required"`
	Parent  string `json:"parent"`
	IsGroup bool   `json:"is_group"`
	Abbr    string `json:"abbr" validate:"omitempty,max=12"`
}

type VendorJSON struct {
	Name string `json:"name" validate:"required"`
}

type TermJSON struct {
	FromDate          string           `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate            string           `json:"to_date" validate:"omitempty,datetime=2006-01-02"`
	Amount            decimal.Decimal  `json:"amount"`
	AmountIncludesVAT bool             `json:"amount_includes_vat"`
	VATRate           *decimal.Decimal `json:"vat_rate"`
	BillingCycle      string           `json:"billing_cycle" validate:"omitempty,oneof=Monthly Quarterly Annual Other"`
	Notes             string           `json:"notes"`
}

type ContractJSON struct {
	Name            string     `json:"name" validate:"required"`
	Description     string     `json:"description"`
	Vendor          string     `json:"vendor"`
	CostCenter      string     `json:"cost_center" validate:"required"`
	Status          string     `json:"status" validate:"required,oneof=Draft Active 'Pending Renewal' Renewed Cancelled Expired"`
	StartDate       string     `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate         string     `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	NextRenewalDate string     `json:"next_renewal_date" validate:"omitempty,datetime=2006-01-02"`
	AutoRenew       bool       `json:"auto_renew"`
	NoticeDays      int        `json:"notice_days" validate:"gte=0"`
	Terms           []TermJSON `json:"terms" validate:"dive"`
}

type ProjectJSON struct {
	Name          string `json:"name" validate:"required"`
	Title         string `json:"title"`
	CostCenter    string `json:"cost_center" validate:"required"`
	WorkflowState string `json:"workflow_state" validate:"omitempty,oneof=Draft Proposed Submitted Approved Rejected"`
	StartDate     string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

type PlannedItemJSON struct {
	Name              string           `json:"name" validate:"required"`
	Project           string           `json:"project" validate:"required"`
	Description       string           `json:"description"`
	Amount            decimal.Decimal  `json:"amount"`
	AmountIncludesVAT bool             `json:"amount_includes_vat"`
	VATRate           *decimal.Decimal `json:"vat_rate"`
	StartDate         string           `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate           string           `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	SpendDate         string           `json:"spend_date" validate:"omitempty,datetime=2006-01-02"`
	Distribution      string           `json:"distribution" validate:"omitempty,oneof=all start end"`
	ItemType          string           `json:"item_type" validate:"omitempty,oneof=Estimate Quote"`
	CoveredByType     string           `json:"covered_by_type"`
	CoveredByName     string           `json:"covered_by_name"`
	WorkflowState     string           `json:"workflow_state" validate:"omitempty,oneof=Draft Proposed Submitted Approved Rejected"`
}

// =============================================================================
// LOADER
// =============================================================================

// Loader parses and applies seed documents.
type Loader struct {
	validate *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{validate: validator.New()}
}

// Parse decodes and validates a seed document.
func (l *Loader) Parse(data []byte) (*Seed, error) {
	var s Seed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed JSON: %w", err)
	}
	if err := l.validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &s, nil
}

func (l *Loader) ParseFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return l.Parse(data)
}

// Report counts what Apply saved.
type Report struct {
	FiscalYears  int      `json:"fiscal_years"`
	CostCenters  int      `json:"cost_centers"`
	Vendors      int      `json:"vendors"`
	Contracts    int      `json:"contracts"`
	Projects     int      `json:"projects"`
	PlannedItems int      `json:"planned_items"`
	LiveBudgets  []string `json:"live_budgets"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Apply saves every document of s through the engine, stopping at the
// first error.
func (l *Loader) Apply(ctx context.Context, e *budget.Engine, s *Seed) (*Report, error) {
	r := &Report{}

	for _, j := range s.FiscalYears {
		fy := budget.FiscalYear{Name: j.Name}
		var err error
		if fy.Start, err = parseDate(j.StartDate); err != nil {
			return r, err
		}
		if fy.End, err = parseDate(j.EndDate); err != nil {
			return r, err
		}
		if _, err := e.SaveFiscalYear(ctx, fy); err != nil {
			return r, fmt.Errorf("fiscal year %s: %w", j.Name, err)
		}
		r.FiscalYears++
	}

	for _, j := range s.CostCenters {
		cc := budget.CostCenter{Name: j.Name, Parent: j.Parent, IsGroup: j.IsGroup, Abbr: j.Abbr}
		if _, err := e.SaveCostCenter(ctx, cc); err != nil {
			return r, fmt.Errorf("cost center %s: %w", j.Name, err)
		}
		r.CostCenters++
	}

	for _, j := range s.Vendors {
		if err := e.SaveVendor(ctx, budget.Vendor{Name: j.Name}); err != nil {
			return r, fmt.Errorf("vendor %s: %w", j.Name, err)
		}
		r.Vendors++
	}

	for _, year := range s.LiveBudgets {
		b, _, err := e.EnsureLiveBudget(ctx, year)
		if err != nil {
			return r, fmt.Errorf("live budget %s: %w", year, err)
		}
		r.LiveBudgets = append(r.LiveBudgets, b.Name)
	}

	for _, j := range s.Contracts {
		c, err := j.Contract()
		if err != nil {
			return r, err
		}
		_, warnings, err := e.SaveContract(ctx, c)
		if err != nil {
			return r, fmt.Errorf("contract %s: %w", j.Name, err)
		}
		r.Warnings = append(r.Warnings, warnings...)
		r.Contracts++
	}

	for _, j := range s.Projects {
		p, err := j.Project()
		if err != nil {
			return r, err
		}
		_, warnings, err := e.SaveProject(ctx, p)
		if err != nil {
			return r, fmt.Errorf("project %s: %w", j.Name, err)
		}
		r.Warnings = append(r.Warnings, warnings...)
		r.Projects++
	}

	for _, j := range s.PlannedItems {
		it, err := j.PlannedItem()
		if err != nil {
			return r, err
		}
		if _, err := e.SavePlannedItem(ctx, it); err != nil {
			return r, fmt.Errorf("planned item %s: %w", j.Name, err)
		}
		r.PlannedItems++
	}

	return r, nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (j ContractJSON) Contract() (budget.Contract, error) {
	c := budget.Contract{
		Name:        j.Name,
		Description: j.Description,
		Vendor:      j.Vendor,
		CostCenter:  j.CostCenter,
		Status:      budget.ContractStatus(j.Status),
		AutoRenew:   j.AutoRenew,
		NoticeDays:  j.NoticeDays,
	}
	var err error
	if c.StartDate, err = parseDate(j.StartDate); err != nil {
		return c, err
	}
	if c.EndDate, err = parseDate(j.EndDate); err != nil {
		return c, err
	}
	if c.NextRenewalDate, err = parseDate(j.NextRenewalDate); err != nil {
		return c, err
	}
	for _, tj := range j.Terms {
		t := budget.ContractTerm{
			Amount:            tj.Amount,
			AmountIncludesVAT: tj.AmountIncludesVAT,
			VATRate:           tj.VATRate,
			BillingCycle:      budget.BillingCycle(tj.BillingCycle),
			Notes:             tj.Notes,
		}
		if t.BillingCycle == "" {
			t.BillingCycle = budget.BillingMonthly
		}
		if t.FromDate, err = parseDate(tj.FromDate); err != nil {
			return c, err
		}
		if t.ToDate, err = parseDate(tj.ToDate); err != nil {
			return c, err
		}
		c.Terms = append(c.Terms, t)
	}
	return c, nil
}

func (j ProjectJSON) Project() (budget.Project, error) {
	p := budget.Project{
		Name:          j.Name,
		Title:         j.Title,
		CostCenter:    j.CostCenter,
		WorkflowState: budget.WorkflowState(j.WorkflowState),
	}
	if p.WorkflowState == "" {
		p.WorkflowState = budget.StateDraft
	}
	var err error
	if p.StartDate, err = parseDate(j.StartDate); err != nil {
		return p, err
	}
	p.EndDate, err = parseDate(j.EndDate)
	return p, err
}

func (j PlannedItemJSON) PlannedItem() (budget.PlannedItem, error) {
	it := budget.PlannedItem{
		Name:              j.Name,
		Project:           j.Project,
		Description:       j.Description,
		Amount:            j.Amount,
		AmountIncludesVAT: j.AmountIncludesVAT,
		VATRate:           j.VATRate,
		Distribution:      budget.Distribution(j.Distribution),
		ItemType:          budget.ItemType(j.ItemType),
		CoveredByType:     j.CoveredByType,
		CoveredByName:     j.CoveredByName,
		WorkflowState:     budget.WorkflowState(j.WorkflowState),
	}
	if it.Distribution == "" {
		it.Distribution = budget.DistributeAll
	}
	if it.ItemType == "" {
		it.ItemType = budget.ItemEstimate
	}
	if it.WorkflowState == "" {
		it.WorkflowState = budget.StateDraft
	}
	var err error
	if it.StartDate, err = parseDate(j.StartDate); err != nil {
		return it, err
	}
	if it.EndDate, err = parseDate(j.EndDate); err != nil {
		return it, err
	}
	it.SpendDate, err = parseDate(j.SpendDate)
	return it, err
}

func parseDate(s string) (budget.Date, error) {
	if s == "" {
		return budget.Date{}, nil
	}
	return budget.ParseDate(s)
}
