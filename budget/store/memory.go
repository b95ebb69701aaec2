// Package store provides an in-memory budget.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type data struct {
	fiscalYears map[string]budget.FiscalYear
	costCenters map[string]budget.CostCenter
	vendors     map[string]budget.Vendor
	contracts   map[string]budget.Contract
	projects    map[string]budget.Project
	items       map[string]budget.PlannedItem
	budgets     map[string]budget.Budget
	addenda     map[string]budget.Addendum
	actuals     map[string]budget.ActualEntry
	series      map[string]int
	comments    []budget.Comment
}

func newData() *data {
	return &data{
		fiscalYears: map[string]budget.FiscalYear{},
		costCenters: map[string]budget.CostCenter{},
		vendors:     map[string]budget.Vendor{},
		contracts:   map[string]budget.Contract{},
		projects:    map[string]budget.Project{},
		items:       map[string]budget.PlannedItem{},
		budgets:     map[string]budget.Budget{},
		addenda:     map[string]budget.Addendum{},
		actuals:     map[string]budget.ActualEntry{},
		series:      map[string]int{},
	}
}

// clone deep-copies everything, used as the rollback point of a transaction.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.fiscalYears {
		c.fiscalYears[k] = v
	}
	for k, v := range d.costCenters {
		c.costCenters[k] = v
	}
	for k, v := range d.vendors {
		c.vendors[k] = v
	}
	for k, v := range d.contracts {
		c.contracts[k] = cloneContract(v)
	}
	for k, v := range d.projects {
		c.projects[k] = v
	}
	for k, v := range d.items {
		c.items[k] = cloneItem(v)
	}
	for k, v := range d.budgets {
		c.budgets[k] = *v.Clone()
	}
	for k, v := range d.addenda {
		c.addenda[k] = v
	}
	for k, v := range d.actuals {
		c.actuals[k] = cloneActual(v)
	}
	for k, v := range d.series {
		c.series[k] = v
	}
	c.comments = append([]budget.Comment(nil), d.comments...)
	return c
}

func cloneRate(r *decimal.Decimal) *decimal.Decimal {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

func cloneContract(c budget.Contract) budget.Contract {
	terms := make([]budget.ContractTerm, len(c.Terms))
	for i, t := range c.Terms {
		t.VATRate = cloneRate(t.VATRate)
		terms[i] = t
	}
	c.Terms = terms
	return c
}

func cloneItem(it budget.PlannedItem) budget.PlannedItem {
	it.VATRate = cloneRate(it.VATRate)
	return it
}

func cloneActual(a budget.ActualEntry) budget.ActualEntry {
	a.VATRate = cloneRate(a.VATRate)
	return a
}

func matches(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func notFound(entity, name string) error {
	return fmt.Errorf("%s %s: %w", entity, name, budget.ErrNotFound)
}

// =============================================================================
// VIEW - unlocked operations on data, shared by Memory and transactions
// =============================================================================

type view struct {
	d *data
}

var _ budget.Store = view{}

func (v view) GetFiscalYear(_ context.Context, name string) (*budget.FiscalYear, error) {
	fy, ok := v.d.fiscalYears[name]
	if !ok {
		return nil, notFound("fiscal year", name)
	}
	return &fy, nil
}

func (v view) ListFiscalYears(_ context.Context) ([]budget.FiscalYear, error) {
	out := make([]budget.FiscalYear, 0, len(v.d.fiscalYears))
	for _, fy := range v.d.fiscalYears {
		out = append(out, fy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v view) SaveFiscalYear(_ context.Context, fy budget.FiscalYear) error {
	v.d.fiscalYears[fy.Name] = fy
	return nil
}

func (v view) GetCostCenter(_ context.Context, name string) (*budget.CostCenter, error) {
	cc, ok := v.d.costCenters[name]
	if !ok {
		return nil, notFound("cost center", name)
	}
	return &cc, nil
}

func (v view) ListCostCenters(_ context.Context) ([]budget.CostCenter, error) {
	out := make([]budget.CostCenter, 0, len(v.d.costCenters))
	for _, cc := range v.d.costCenters {
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lft < out[j].Lft })
	return out, nil
}

func (v view) SaveCostCenter(_ context.Context, cc budget.CostCenter) error {
	v.d.costCenters[cc.Name] = cc
	budget.RebuildNestedSet(v.d.costCenters)
	return nil
}

func (v view) CostCenterSubtree(_ context.Context, name string) ([]string, error) {
	root, ok := v.d.costCenters[name]
	if !ok {
		return nil, notFound("cost center", name)
	}
	var out []string
	for n, cc := range v.d.costCenters {
		if budget.InSubtree(root, cc) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (v view) GetVendor(_ context.Context, name string) (*budget.Vendor, error) {
	vd, ok := v.d.vendors[name]
	if !ok {
		return nil, notFound("vendor", name)
	}
	return &vd, nil
}

func (v view) SaveVendor(_ context.Context, vd budget.Vendor) error {
	v.d.vendors[vd.Name] = vd
	return nil
}

func (v view) GetContract(_ context.Context, name string) (*budget.Contract, error) {
	c, ok := v.d.contracts[name]
	if !ok {
		return nil, notFound("contract", name)
	}
	c = cloneContract(c)
	return &c, nil
}

func (v view) ListContracts(_ context.Context, filter budget.ContractFilter) ([]budget.Contract, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}
	var out []budget.Contract
	for _, c := range v.d.contracts {
		if matches(statuses, string(c.Status)) {
			out = append(out, cloneContract(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v view) SaveContract(_ context.Context, c budget.Contract) error {
	v.d.contracts[c.Name] = cloneContract(c)
	return nil
}

func (v view) DeleteContract(_ context.Context, name string) error {
	if _, ok := v.d.contracts[name]; !ok {
		return notFound("contract", name)
	}
	delete(v.d.contracts, name)
	return nil
}

func (v view) GetProject(_ context.Context, name string) (*budget.Project, error) {
	p, ok := v.d.projects[name]
	if !ok {
		return nil, notFound("project", name)
	}
	return &p, nil
}

func (v view) ListProjects(_ context.Context) ([]budget.Project, error) {
	out := make([]budget.Project, 0, len(v.d.projects))
	for _, p := range v.d.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v view) SaveProject(_ context.Context, p budget.Project) error {
	v.d.projects[p.Name] = p
	return nil
}

func (v view) GetPlannedItem(_ context.Context, name string) (*budget.PlannedItem, error) {
	it, ok := v.d.items[name]
	if !ok {
		return nil, notFound("planned item", name)
	}
	it = cloneItem(it)
	return &it, nil
}

func (v view) ListPlannedItems(_ context.Context, filter budget.PlannedItemFilter) ([]budget.PlannedItem, error) {
	var out []budget.PlannedItem
	for _, it := range v.d.items {
		if filter.Project != "" && it.Project != filter.Project {
			continue
		}
		if filter.WorkflowState != "" && it.WorkflowState != filter.WorkflowState {
			continue
		}
		out = append(out, cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v view) SavePlannedItem(_ context.Context, it budget.PlannedItem) error {
	v.d.items[it.Name] = cloneItem(it)
	return nil
}

func (v view) DeletePlannedItem(_ context.Context, name string) error {
	if _, ok := v.d.items[name]; !ok {
		return notFound("planned item", name)
	}
	delete(v.d.items, name)
	return nil
}

func (v view) GetBudget(_ context.Context, name string) (*budget.Budget, error) {
	b, ok := v.d.budgets[name]
	if !ok {
		return nil, notFound("budget", name)
	}
	return b.Clone(), nil
}

func (v view) ListBudgets(_ context.Context, filter budget.BudgetFilter) ([]budget.Budget, error) {
	var out []budget.Budget
	for _, b := range v.d.budgets {
		if filter.Year != "" && b.Year != filter.Year {
			continue
		}
		if filter.Type != "" && b.Type != filter.Type {
			continue
		}
		if filter.DocStatus != nil && b.DocStatus != *filter.DocStatus {
			continue
		}
		out = append(out, *b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func checkLineKeys(b *budget.Budget) error {
	seen := map[string]bool{}
	for _, l := range b.Lines {
		if l.SourceKey == "" {
			continue
		}
		if seen[l.SourceKey] {
			return fmt.Errorf("budget %s: source key %s: %w", b.Name, l.SourceKey, budget.ErrUniquenessViolation)
		}
		seen[l.SourceKey] = true
	}
	return nil
}

func (v view) CreateBudget(_ context.Context, b *budget.Budget) error {
	if _, exists := v.d.budgets[b.Name]; exists {
		return fmt.Errorf("budget %s: %w", b.Name, budget.ErrUniquenessViolation)
	}
	if err := checkLineKeys(b); err != nil {
		return err
	}
	b.Version = 1
	v.d.budgets[b.Name] = *b.Clone()
	return nil
}

func (v view) UpdateBudget(_ context.Context, b *budget.Budget) error {
	stored, ok := v.d.budgets[b.Name]
	if !ok {
		return notFound("budget", b.Name)
	}
	if stored.Version != b.Version {
		return fmt.Errorf("budget %s: version %d, stored %d: %w", b.Name, b.Version, stored.Version, budget.ErrConcurrentModification)
	}
	if err := checkLineKeys(b); err != nil {
		return err
	}
	b.Version++
	v.d.budgets[b.Name] = *b.Clone()
	return nil
}

func (v view) DeleteBudget(_ context.Context, name string) error {
	if _, ok := v.d.budgets[name]; !ok {
		return notFound("budget", name)
	}
	delete(v.d.budgets, name)
	return nil
}

func (v view) GetAddendum(_ context.Context, name string) (*budget.Addendum, error) {
	a, ok := v.d.addenda[name]
	if !ok {
		return nil, notFound("addendum", name)
	}
	return &a, nil
}

func (v view) ListAddenda(_ context.Context, filter budget.AddendumFilter) ([]budget.Addendum, error) {
	var out []budget.Addendum
	for _, a := range v.d.addenda {
		if filter.Year != "" && a.Year != filter.Year {
			continue
		}
		if filter.DocStatus != nil && a.DocStatus != *filter.DocStatus {
			continue
		}
		if !matches(filter.CostCenters, a.CostCenter) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v view) SaveAddendum(_ context.Context, a budget.Addendum) error {
	v.d.addenda[a.Name] = a
	return nil
}

func (v view) DeleteAddendum(_ context.Context, name string) error {
	if _, ok := v.d.addenda[name]; !ok {
		return notFound("addendum", name)
	}
	delete(v.d.addenda, name)
	return nil
}

func (v view) GetActual(_ context.Context, name string) (*budget.ActualEntry, error) {
	a, ok := v.d.actuals[name]
	if !ok {
		return nil, notFound("actual entry", name)
	}
	a = cloneActual(a)
	return &a, nil
}

func (v view) ListActuals(_ context.Context, filter budget.ActualFilter) ([]budget.ActualEntry, error) {
	var out []budget.ActualEntry
	for _, a := range v.d.actuals {
		if filter.Year != "" && a.Year != filter.Year {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Project != "" && a.Project != filter.Project {
			continue
		}
		if !matches(filter.CostCenters, a.CostCenter) {
			continue
		}
		out = append(out, cloneActual(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostingDate.Equal(out[j].PostingDate) {
			return out[i].PostingDate.Before(out[j].PostingDate)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (v view) SaveActual(_ context.Context, a budget.ActualEntry) error {
	v.d.actuals[a.Name] = cloneActual(a)
	return nil
}

func (v view) DeleteActual(_ context.Context, name string) error {
	if _, ok := v.d.actuals[name]; !ok {
		return notFound("actual entry", name)
	}
	delete(v.d.actuals, name)
	return nil
}

func (v view) NextSeries(_ context.Context, key string) (int, error) {
	v.d.series[key]++
	return v.d.series[key], nil
}

func (v view) ReleaseSeries(_ context.Context, key string, seq int) error {
	if cur := v.d.series[key]; cur == seq && cur > 0 {
		v.d.series[key] = cur - 1
	}
	return nil
}

func (v view) AddComment(_ context.Context, c budget.Comment) error {
	v.d.comments = append(v.d.comments, c)
	return nil
}

func (v view) ListComments(_ context.Context, doctype, docname string) ([]budget.Comment, error) {
	var out []budget.Comment
	for _, c := range v.d.comments {
		if c.DocType == doctype && c.DocName == docname {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// Memory is a budget.TxStore backed by maps. Every call takes the store
// mutex; WithTx holds it for the whole function, so fn must only use the
// Store it is given.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

var _ budget.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(view{d: m.d}); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// unlocked is a view on the current data; callers hold mu.
func (m *Memory) unlocked() view { return view{d: m.d} }

func (m *Memory) GetFiscalYear(ctx context.Context, name string) (*budget.FiscalYear, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetFiscalYear(ctx, name)
}

func (m *Memory) ListFiscalYears(ctx context.Context) ([]budget.FiscalYear, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListFiscalYears(ctx)
}

func (m *Memory) SaveFiscalYear(ctx context.Context, fy budget.FiscalYear) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveFiscalYear(ctx, fy)
}

func (m *Memory) GetCostCenter(ctx context.Context, name string) (*budget.CostCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetCostCenter(ctx, name)
}

func (m *Memory) ListCostCenters(ctx context.Context) ([]budget.CostCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListCostCenters(ctx)
}

func (m *Memory) SaveCostCenter(ctx context.Context, cc budget.CostCenter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveCostCenter(ctx, cc)
}

func (m *Memory) CostCenterSubtree(ctx context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().CostCenterSubtree(ctx, name)
}

func (m *Memory) GetVendor(ctx context.Context, name string) (*budget.Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetVendor(ctx, name)
}

func (m *Memory) SaveVendor(ctx context.Context, vd budget.Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveVendor(ctx, vd)
}

func (m *Memory) GetContract(ctx context.Context, name string) (*budget.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetContract(ctx, name)
}

func (m *Memory) ListContracts(ctx context.Context, filter budget.ContractFilter) ([]budget.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListContracts(ctx, filter)
}

func (m *Memory) SaveContract(ctx context.Context, c budget.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveContract(ctx, c)
}

func (m *Memory) DeleteContract(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteContract(ctx, name)
}

func (m *Memory) GetProject(ctx context.Context, name string) (*budget.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetProject(ctx, name)
}

func (m *Memory) ListProjects(ctx context.Context) ([]budget.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListProjects(ctx)
}

func (m *Memory) SaveProject(ctx context.Context, p budget.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveProject(ctx, p)
}

func (m *Memory) GetPlannedItem(ctx context.Context, name string) (*budget.PlannedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetPlannedItem(ctx, name)
}

func (m *Memory) ListPlannedItems(ctx context.Context, filter budget.PlannedItemFilter) ([]budget.PlannedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListPlannedItems(ctx, filter)
}

func (m *Memory) SavePlannedItem(ctx context.Context, it budget.PlannedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SavePlannedItem(ctx, it)
}

func (m *Memory) DeletePlannedItem(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeletePlannedItem(ctx, name)
}

func (m *Memory) GetBudget(ctx context.Context, name string) (*budget.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetBudget(ctx, name)
}

func (m *Memory) ListBudgets(ctx context.Context, filter budget.BudgetFilter) ([]budget.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListBudgets(ctx, filter)
}

func (m *Memory) CreateBudget(ctx context.Context, b *budget.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().CreateBudget(ctx, b)
}

func (m *Memory) UpdateBudget(ctx context.Context, b *budget.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().UpdateBudget(ctx, b)
}

func (m *Memory) DeleteBudget(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteBudget(ctx, name)
}

func (m *Memory) GetAddendum(ctx context.Context, name string) (*budget.Addendum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetAddendum(ctx, name)
}

func (m *Memory) ListAddenda(ctx context.Context, filter budget.AddendumFilter) ([]budget.Addendum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListAddenda(ctx, filter)
}

func (m *Memory) SaveAddendum(ctx context.Context, a budget.Addendum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveAddendum(ctx, a)
}

func (m *Memory) DeleteAddendum(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteAddendum(ctx, name)
}

func (m *Memory) GetActual(ctx context.Context, name string) (*budget.ActualEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetActual(ctx, name)
}

func (m *Memory) ListActuals(ctx context.Context, filter budget.ActualFilter) ([]budget.ActualEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListActuals(ctx, filter)
}

func (m *Memory) SaveActual(ctx context.Context, a budget.ActualEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveActual(ctx, a)
}

func (m *Memory) DeleteActual(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteActual(ctx, name)
}

func (m *Memory) NextSeries(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().NextSeries(ctx, key)
}

func (m *Memory) ReleaseSeries(ctx context.Context, key string, seq int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().ReleaseSeries(ctx, key, seq)
}

func (m *Memory) AddComment(ctx context.Context, c budget.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().AddComment(ctx, c)
}

func (m *Memory) ListComments(ctx context.Context, doctype, docname string) ([]budget.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListComments(ctx, doctype, docname)
}
