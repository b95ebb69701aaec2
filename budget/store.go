/*
store.go - Persistence interfaces for the budget engine

PURPOSE:
  The engine treats persistence as a document store keyed by string names.
  Every entity is loaded and saved whole; budgets carry their lines as an
  owned child collection.

KEY INTERFACES:
  Store:        CRUD for every entity, filtered lists, nested-set subtree
                queries, series counters and the comment timeline
  TxStore:      Store plus WithTx for atomic multi-document writes
  SourceReader: the read-only slice of Store the line generator needs

OPTIMISTIC CONCURRENCY:
  Budgets carry a Version stamp. UpdateBudget succeeds only when the stored
  version equals the one the caller loaded, and bumps it. A mismatch is
  ErrConcurrentModification, which callers may retry.

SERIES COUNTERS:
  NextSeries atomically increments and returns the counter for a key such as
  "BUD-2025-LIVE-.####". ReleaseSeries decrements it only when seq is the
  last issued number, so releasing twice is harmless.

IMPLEMENTATIONS:
  - budget/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: persistent SQLite
*/
package budget

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// Empty filter fields match everything.

type ContractFilter struct {
	Statuses []ContractStatus
}

type PlannedItemFilter struct {
	Project       string
	WorkflowState WorkflowState
}

type BudgetFilter struct {
	Year      string
	Type      BudgetType
	DocStatus *DocStatus
}

type AddendumFilter struct {
	Year        string
	CostCenters []string
	DocStatus   *DocStatus
}

type ActualFilter struct {
	Year        string
	Status      ActualStatus
	CostCenters []string
	Project     string
}

// DocStatusPtr is a helper for filters.
func DocStatusPtr(s DocStatus) *DocStatus { return &s }

// =============================================================================
// STORE
// =============================================================================

type SourceReader interface {
	ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error)
	ListPlannedItems(ctx context.Context, filter PlannedItemFilter) ([]PlannedItem, error)
	GetProject(ctx context.Context, name string) (*Project, error)
}

type Store interface {
	SourceReader

	GetFiscalYear(ctx context.Context, name string) (*FiscalYear, error)
	ListFiscalYears(ctx context.Context) ([]FiscalYear, error)
	SaveFiscalYear(ctx context.Context, fy FiscalYear) error

	GetCostCenter(ctx context.Context, name string) (*CostCenter, error)
	ListCostCenters(ctx context.Context) ([]CostCenter, error)
	// SaveCostCenter upserts the node and rebuilds nested-set bounds.
	SaveCostCenter(ctx context.Context, cc CostCenter) error
	// CostCenterSubtree returns name and all its descendants.
	CostCenterSubtree(ctx context.Context, name string) ([]string, error)

	GetVendor(ctx context.Context, name string) (*Vendor, error)
	SaveVendor(ctx context.Context, v Vendor) error

	GetContract(ctx context.Context, name string) (*Contract, error)
	SaveContract(ctx context.Context, c Contract) error
	DeleteContract(ctx context.Context, name string) error

	ListProjects(ctx context.Context) ([]Project, error)
	SaveProject(ctx context.Context, p Project) error

	GetPlannedItem(ctx context.Context, name string) (*PlannedItem, error)
	SavePlannedItem(ctx context.Context, it PlannedItem) error
	DeletePlannedItem(ctx context.Context, name string) error

	GetBudget(ctx context.Context, name string) (*Budget, error)
	ListBudgets(ctx context.Context, filter BudgetFilter) ([]Budget, error)
	// CreateBudget inserts a new budget at version 1.
	CreateBudget(ctx context.Context, b *Budget) error
	// UpdateBudget replaces the budget and its lines if b.Version matches,
	// then increments b.Version.
	UpdateBudget(ctx context.Context, b *Budget) error
	DeleteBudget(ctx context.Context, name string) error

	GetAddendum(ctx context.Context, name string) (*Addendum, error)
	ListAddenda(ctx context.Context, filter AddendumFilter) ([]Addendum, error)
	SaveAddendum(ctx context.Context, a Addendum) error
	DeleteAddendum(ctx context.Context, name string) error

	GetActual(ctx context.Context, name string) (*ActualEntry, error)
	ListActuals(ctx context.Context, filter ActualFilter) ([]ActualEntry, error)
	SaveActual(ctx context.Context, a ActualEntry) error
	DeleteActual(ctx context.Context, name string) error

	NextSeries(ctx context.Context, key string) (int, error)
	ReleaseSeries(ctx context.Context, key string, seq int) error

	AddComment(ctx context.Context, c Comment) error
	ListComments(ctx context.Context, doctype, docname string) ([]Comment, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
