/*
dto.go - Request and response bodies for the budget API

NAMING CONVENTION:
  - *Request: request bodies, validated with go-playground/validator tags
  - *Response: wrappers that add warnings or counts to a domain document

  Source documents (fiscal years, cost centers, contracts, projects, planned
  items) reuse the factory seed types, so a seed file and an API call accept
  the same JSON. Budgets, caps and comments are returned as the domain types.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/seed.go: Source document JSON types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// BUDGETS
// =============================================================================

type CreateLiveBudgetRequest struct {
	Year  string `json:"year" validate:"required,numeric,len=4"`
	Title string `json:"title"`
}

type RefreshRequest struct {
	Manual bool   `json:"manual"`
	Reason string `json:"reason" validate:"max=500"`
}

// SaveLinesRequest replaces a budget's lines. Version must be the version
// the client loaded.
type SaveLinesRequest struct {
	Version int64         `json:"version" validate:"gte=1"`
	Lines   []budget.Line `json:"lines"`
}

type EnqueueRequest struct {
	Years []string `json:"years" validate:"required,min=1,dive,numeric,len=4"`
}

type EnqueueResponse struct {
	Years    []string `json:"years"`
	Budgets  []string `json:"budgets"`
	Horizon  []string `json:"horizon"`
	Deferred bool     `json:"deferred"`
}

type VerifyResponse struct {
	OK         bool               `json:"ok"`
	Violations []budget.Violation `json:"violations"`
}

// =============================================================================
// SOURCES
// =============================================================================

type ContractResponse struct {
	Contract *budget.Contract `json:"contract"`
	Warnings []string         `json:"warnings"`
}

type ProjectResponse struct {
	Project  *budget.Project `json:"project"`
	Warnings []string        `json:"warnings"`
}

// =============================================================================
// ADDENDA & ACTUALS
// =============================================================================

type CreateAddendumRequest struct {
	Year              string          `json:"year" validate:"required,numeric,len=4"`
	CostCenter        string          `json:"cost_center" validate:"required"`
	ReferenceSnapshot string          `json:"reference_snapshot"`
	DeltaAmount       decimal.Decimal `json:"delta_amount"`
	Reason            string          `json:"reason" validate:"required"`
}

func (r CreateAddendumRequest) Addendum() budget.Addendum {
	return budget.Addendum{
		Year:              r.Year,
		CostCenter:        r.CostCenter,
		ReferenceSnapshot: r.ReferenceSnapshot,
		DeltaAmount:       r.DeltaAmount,
		Reason:            r.Reason,
	}
}

type RecordActualRequest struct {
	Name              string           `json:"name"`
	PostingDate       string           `json:"posting_date" validate:"required,datetime=2006-01-02"`
	Status            string           `json:"status" validate:"omitempty,oneof=Recorded Verified"`
	EntryKind         string           `json:"entry_kind" validate:"omitempty,oneof=Delta 'Allowance Spend'"`
	CostCenter        string           `json:"cost_center"`
	Contract          string           `json:"contract"`
	Project           string           `json:"project"`
	PlannedItem       string           `json:"planned_item"`
	Amount            decimal.Decimal  `json:"amount"`
	AmountIncludesVAT bool             `json:"amount_includes_vat"`
	VATRate           *decimal.Decimal `json:"vat_rate"`
	Description       string           `json:"description" validate:"max=500"`
}

func (r RecordActualRequest) Actual() (budget.ActualEntry, error) {
	posting, err := budget.ParseDate(r.PostingDate)
	if err != nil {
		return budget.ActualEntry{}, err
	}
	return budget.ActualEntry{
		Name:              r.Name,
		PostingDate:       posting,
		Status:            budget.ActualStatus(r.Status),
		Kind:              budget.EntryKind(r.EntryKind),
		CostCenter:        r.CostCenter,
		Contract:          r.Contract,
		Project:           r.Project,
		PlannedItem:       r.PlannedItem,
		Amount:            r.Amount,
		AmountIncludesVAT: r.AmountIncludesVAT,
		VATRate:           r.VATRate,
		Description:       r.Description,
	}, nil
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
