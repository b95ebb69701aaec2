package budget

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the precision every persisted amount is rounded to.
const MoneyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// Round rounds an amount to money precision.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Rate returns a pointer to a VAT percentage, for literals and defaults.
func Rate(percent int64) *decimal.Decimal {
	d := decimal.NewFromInt(percent)
	return &d
}

func sameRate(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// =============================================================================
// ENUMS
// =============================================================================

type Recurrence string

const (
	RecurrenceMonthly   Recurrence = "Monthly"
	RecurrenceQuarterly Recurrence = "Quarterly"
	RecurrenceAnnual    Recurrence = "Annual"
	RecurrenceCustom    Recurrence = "Custom"
	RecurrenceNone      Recurrence = "None"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceMonthly, RecurrenceQuarterly, RecurrenceAnnual, RecurrenceCustom, RecurrenceNone:
		return true
	}
	return false
}

type BillingCycle string

const (
	BillingMonthly   BillingCycle = "Monthly"
	BillingQuarterly BillingCycle = "Quarterly"
	BillingAnnual    BillingCycle = "Annual"
	BillingOther     BillingCycle = "Other"
)

// Recurrence maps a billing cycle onto a line recurrence. Other bills monthly.
func (b BillingCycle) Recurrence() Recurrence {
	switch b {
	case BillingQuarterly:
		return RecurrenceQuarterly
	case BillingAnnual:
		return RecurrenceAnnual
	default:
		return RecurrenceMonthly
	}
}

type ContractStatus string

const (
	ContractDraft          ContractStatus = "Draft"
	ContractActive         ContractStatus = "Active"
	ContractPendingRenewal ContractStatus = "Pending Renewal"
	ContractRenewed        ContractStatus = "Renewed"
	ContractCancelled      ContractStatus = "Cancelled"
	ContractExpired        ContractStatus = "Expired"
)

// Generates reports whether contracts in this status feed budget lines.
func (s ContractStatus) Generates() bool {
	switch s {
	case ContractActive, ContractPendingRenewal, ContractRenewed:
		return true
	}
	return false
}

type WorkflowState string

const (
	StateDraft     WorkflowState = "Draft"
	StateProposed  WorkflowState = "Proposed"
	StateSubmitted WorkflowState = "Submitted"
	StateApproved  WorkflowState = "Approved"
	StateRejected  WorkflowState = "Rejected"
)

type DocStatus int

const (
	DocDraft     DocStatus = 0
	DocSubmitted DocStatus = 1
	DocCancelled DocStatus = 2
)

type BudgetType string

const (
	BudgetLive     BudgetType = "Live"
	BudgetSnapshot BudgetType = "Snapshot"
)

type LineKind string

const (
	LineContract    LineKind = "Contract"
	LinePlannedItem LineKind = "Planned Item"
	LineAllowance   LineKind = "Allowance"
	LineManual      LineKind = "Manual"
)

type Distribution string

const (
	DistributeAll   Distribution = "all"
	DistributeStart Distribution = "start"
	DistributeEnd   Distribution = "end"
)

type ItemType string

const (
	ItemEstimate ItemType = "Estimate"
	ItemQuote    ItemType = "Quote"
)

type ActualStatus string

const (
	ActualRecorded ActualStatus = "Recorded"
	ActualVerified ActualStatus = "Verified"
)

type EntryKind string

const (
	EntryDelta          EntryKind = "Delta"
	EntryAllowanceSpend EntryKind = "Allowance Spend"
)

// =============================================================================
// MASTER DATA
// =============================================================================

// RootCostCenter is the tree root every tenant has.
const RootCostCenter = "All Cost Centers"

// CostCenter is a nested-set tree node. Lft/Rgt are maintained by the store.
type CostCenter struct {
	Name    string `json:"name"`
	Parent  string `json:"parent,omitempty"`
	IsGroup bool   `json:"is_group"`
	Abbr    string `json:"abbr"`
	Lft     int    `json:"lft"`
	Rgt     int    `json:"rgt"`
}

type Vendor struct {
	Name string `json:"name"`
}

// =============================================================================
// CONTRACTS
// =============================================================================

type ContractTerm struct {
	FromDate          Date             `json:"from_date"`
	ToDate            Date             `json:"to_date"`
	Amount            decimal.Decimal  `json:"amount"`
	AmountIncludesVAT bool             `json:"amount_includes_vat"`
	VATRate           *decimal.Decimal `json:"vat_rate"`
	BillingCycle      BillingCycle     `json:"billing_cycle"`
	Notes             string           `json:"notes,omitempty"`

	// Derived
	AmountNet        decimal.Decimal `json:"amount_net"`
	AmountVAT        decimal.Decimal `json:"amount_vat"`
	AmountGross      decimal.Decimal `json:"amount_gross"`
	MonthlyAmountNet decimal.Decimal `json:"monthly_amount_net"`
}

type Contract struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Vendor          string         `json:"vendor"`
	CostCenter      string         `json:"cost_center"`
	Status          ContractStatus `json:"status"`
	StartDate       Date           `json:"start_date"`
	EndDate         Date           `json:"end_date"`
	NextRenewalDate Date           `json:"next_renewal_date"`
	AutoRenew       bool           `json:"auto_renew"`
	NoticeDays      int            `json:"notice_days"`
	Terms           []ContractTerm `json:"terms"`

	// Derived cache, written only by the engine
	CurrentTermAmount       decimal.Decimal `json:"current_term_amount"`
	CurrentTermBillingCycle BillingCycle    `json:"current_term_billing_cycle"`
	CurrentTermMonthlyNet   decimal.Decimal `json:"current_term_monthly_net"`
	CurrentTermFromDate     Date            `json:"current_term_from_date"`
	AnnualAmountCurrentYear decimal.Decimal `json:"annual_amount_current_year"`
	AnnualAmountNextYear    decimal.Decimal `json:"annual_amount_next_year"`
}

// =============================================================================
// PROJECTS & PLANNED ITEMS
// =============================================================================

type Project struct {
	Name          string        `json:"name"`
	Title         string        `json:"title"`
	WorkflowState WorkflowState `json:"workflow_state"`
	CostCenter    string        `json:"cost_center"`
	StartDate     Date          `json:"start_date"`
	EndDate       Date          `json:"end_date"`

	// Derived
	PlannedTotalNet  decimal.Decimal `json:"planned_total_net"`
	QuotedTotalNet   decimal.Decimal `json:"quoted_total_net"`
	ExpectedTotalNet decimal.Decimal `json:"expected_total_net"`
}

type PlannedItem struct {
	Name              string           `json:"name"`
	Project           string           `json:"project"`
	Description       string           `json:"description"`
	Amount            decimal.Decimal  `json:"amount"`
	AmountIncludesVAT bool             `json:"amount_includes_vat"`
	VATRate           *decimal.Decimal `json:"vat_rate"`
	StartDate         Date             `json:"start_date"`
	EndDate           Date             `json:"end_date"`
	SpendDate         Date             `json:"spend_date"`
	Distribution      Distribution     `json:"distribution"`
	ItemType          ItemType         `json:"item_type"`
	IsCovered         bool             `json:"is_covered"`
	CoveredByType     string           `json:"covered_by_type,omitempty"`
	CoveredByName     string           `json:"covered_by_name,omitempty"`
	OutOfHorizon      bool             `json:"out_of_horizon"`
	WorkflowState     WorkflowState    `json:"workflow_state"`

	// Derived
	AmountNet   decimal.Decimal `json:"amount_net"`
	AmountVAT   decimal.Decimal `json:"amount_vat"`
	AmountGross decimal.Decimal `json:"amount_gross"`
}

// =============================================================================
// BUDGETS
// =============================================================================

// Line is a budget line. Generated lines are owned by the upsert engine and
// identified by SourceKey.
type Line struct {
	Idx                int              `json:"idx"`
	Kind               LineKind         `json:"line_kind"`
	CostCenter         string           `json:"cost_center"`
	Vendor             string           `json:"vendor,omitempty"`
	Description        string           `json:"description"`
	Contract           string           `json:"contract,omitempty"`
	Project            string           `json:"project,omitempty"`
	PlannedItem        string           `json:"planned_item,omitempty"`
	CostType           string           `json:"cost_type,omitempty"`
	Qty                decimal.Decimal  `json:"qty"`
	UnitPrice          decimal.Decimal  `json:"unit_price"`
	MonthlyAmount      decimal.Decimal  `json:"monthly_amount"`
	AnnualAmount       decimal.Decimal  `json:"annual_amount"`
	AmountIncludesVAT  bool             `json:"amount_includes_vat"`
	VATRate            *decimal.Decimal `json:"vat_rate"`
	Recurrence         Recurrence       `json:"recurrence_rule"`
	CustomPeriodMonths int              `json:"custom_period_months,omitempty"`
	PeriodStart        Date             `json:"period_start_date"`
	PeriodEnd          Date             `json:"period_end_date"`
	IsGenerated        bool             `json:"is_generated"`
	IsActive           bool             `json:"is_active"`
	SourceKey          string           `json:"source_key,omitempty"`

	// Derived
	AmountNet   decimal.Decimal `json:"amount_net"`
	AmountVAT   decimal.Decimal `json:"amount_vat"`
	AmountGross decimal.Decimal `json:"amount_gross"`
	AnnualNet   decimal.Decimal `json:"annual_net"`
	AnnualVAT   decimal.Decimal `json:"annual_vat"`
	AnnualGross decimal.Decimal `json:"annual_gross"`
}

// Counts reports whether the line contributes to totals.
func (l Line) Counts() bool { return l.IsActive || !l.IsGenerated }

// HasPeriod reports whether the line carries an explicit period.
func (l Line) HasPeriod() bool { return !l.PeriodStart.IsZero() && !l.PeriodEnd.IsZero() }

func (l Line) Period() Period { return Period{Start: l.PeriodStart, End: l.PeriodEnd} }

type Totals struct {
	Monthly decimal.Decimal `json:"total_amount_monthly"`
	Annual  decimal.Decimal `json:"total_amount_annual"`
	Net     decimal.Decimal `json:"total_amount_net"`
	VAT     decimal.Decimal `json:"total_amount_vat"`
	Gross   decimal.Decimal `json:"total_amount_gross"`
}

type Budget struct {
	Name          string        `json:"name"`
	Year          string        `json:"year"`
	Title         string        `json:"title"`
	Type          BudgetType    `json:"budget_type"`
	WorkflowState WorkflowState `json:"workflow_state"`
	DocStatus     DocStatus     `json:"docstatus"`
	IsActive      bool          `json:"is_active"`
	Source        string        `json:"source_budget,omitempty"`
	Version       int64         `json:"version"`
	SubmittedAt   time.Time     `json:"submitted_at,omitempty"`
	Totals        Totals        `json:"totals"`
	Lines         []Line        `json:"lines"`
}

func (b *Budget) IsLiveDraft() bool { return b.Type == BudgetLive && b.DocStatus == DocDraft }

// Clone deep-copies the budget including lines.
func (b *Budget) Clone() *Budget {
	c := *b
	c.Lines = make([]Line, len(b.Lines))
	for i, l := range b.Lines {
		c.Lines[i] = l.clone()
	}
	return &c
}

func (l Line) clone() Line {
	if l.VATRate != nil {
		r := *l.VATRate
		l.VATRate = &r
	}
	return l
}

// =============================================================================
// ADDENDA & ACTUALS
// =============================================================================

type Addendum struct {
	Name              string          `json:"name"`
	Year              string          `json:"year"`
	CostCenter        string          `json:"cost_center"`
	ReferenceSnapshot string          `json:"reference_snapshot"`
	DeltaAmount       decimal.Decimal `json:"delta_amount"`
	Reason            string          `json:"reason"`
	DocStatus         DocStatus       `json:"docstatus"`
}

type ActualEntry struct {
	Name              string           `json:"name"`
	PostingDate       Date             `json:"posting_date"`
	Year              string           `json:"year"`
	Status            ActualStatus     `json:"status"`
	Kind              EntryKind        `json:"entry_kind"`
	CostCenter        string           `json:"cost_center"`
	Contract          string           `json:"contract,omitempty"`
	Project           string           `json:"project,omitempty"`
	PlannedItem       string           `json:"planned_item,omitempty"`
	Amount            decimal.Decimal  `json:"amount"`
	AmountIncludesVAT bool             `json:"amount_includes_vat"`
	VATRate           *decimal.Decimal `json:"vat_rate"`
	Description       string           `json:"description"`

	// Derived
	AmountNet   decimal.Decimal `json:"amount_net"`
	AmountVAT   decimal.Decimal `json:"amount_vat"`
	AmountGross decimal.Decimal `json:"amount_gross"`
}

// Comment is a timeline entry attached to a document.
type Comment struct {
	ID        string    `json:"id"`
	DocType   string    `json:"doctype"`
	DocName   string    `json:"docname"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// SETTINGS & REQUEST CONTEXT
// =============================================================================

// Settings are tenant-wide defaults, read-only during operations.
type Settings struct {
	DefaultVATRate *decimal.Decimal
	BudgetPrefix   string
	AddendumPrefix string
	LiveToken      string
	SnapshotToken  string
	SeriesDigits   int
}

func DefaultSettings() Settings {
	return Settings{
		BudgetPrefix:   "BUD",
		AddendumPrefix: "ADD",
		LiveToken:      "LIVE",
		SnapshotToken:  "APP",
		SeriesDigits:   4,
	}
}

// Actor identifies who is acting and with which request flags.
type Actor struct {
	User                 string
	AllowLiveManualLines bool
}

// SystemUser authors background and hook-driven changes.
const SystemUser = "system"

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the request actor, or the system actor when none is set.
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{User: SystemUser}
}
