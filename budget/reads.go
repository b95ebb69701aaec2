package budget

import "context"

// Read-through accessors for hosts. Writes go through the Save* operations.

func (e *Engine) ListFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	return e.store.ListFiscalYears(ctx)
}

func (e *Engine) ListCostCenters(ctx context.Context) ([]CostCenter, error) {
	return e.store.ListCostCenters(ctx)
}

func (e *Engine) GetContract(ctx context.Context, name string) (*Contract, error) {
	return e.store.GetContract(ctx, name)
}

func (e *Engine) ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error) {
	return e.store.ListContracts(ctx, filter)
}

func (e *Engine) GetProject(ctx context.Context, name string) (*Project, error) {
	return e.store.GetProject(ctx, name)
}

func (e *Engine) ListProjects(ctx context.Context) ([]Project, error) {
	return e.store.ListProjects(ctx)
}

func (e *Engine) GetPlannedItem(ctx context.Context, name string) (*PlannedItem, error) {
	return e.store.GetPlannedItem(ctx, name)
}

func (e *Engine) ListPlannedItems(ctx context.Context, filter PlannedItemFilter) ([]PlannedItem, error) {
	return e.store.ListPlannedItems(ctx, filter)
}

func (e *Engine) ListAddenda(ctx context.Context, filter AddendumFilter) ([]Addendum, error) {
	return e.store.ListAddenda(ctx, filter)
}

func (e *Engine) GetActual(ctx context.Context, name string) (*ActualEntry, error) {
	return e.store.GetActual(ctx, name)
}

func (e *Engine) ListActuals(ctx context.Context, filter ActualFilter) ([]ActualEntry, error) {
	return e.store.ListActuals(ctx, filter)
}
