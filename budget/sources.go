package budget

import (
	"context"
	"fmt"
	"strconv"
)

// =============================================================================
// MASTER DATA
// =============================================================================

// SaveFiscalYear stores a fiscal year. Windows of different years may not overlap.
func (e *Engine) SaveFiscalYear(ctx context.Context, fy FiscalYear) (*FiscalYear, error) {
	window, err := fy.Window()
	if err != nil {
		return nil, err
	}
	fy.Start, fy.End = window.Start, window.End
	err = e.store.WithTx(ctx, func(s Store) error {
		years, err := s.ListFiscalYears(ctx)
		if err != nil {
			return err
		}
		for _, other := range years {
			if other.Name == fy.Name {
				continue
			}
			ow, err := other.Window()
			if err != nil {
				return err
			}
			if _, overlap := window.Intersect(ow); overlap {
				return &ValidationError{Entity: "FiscalYear", Name: fy.Name, Field: "start_date",
					Message: fmt.Sprintf("window %s overlaps fiscal year %s (%s)", window, other.Name, ow)}
			}
		}
		return s.SaveFiscalYear(ctx, fy)
	})
	if err != nil {
		return nil, err
	}
	return &fy, nil
}

// fiscalYearOf finds the fiscal year whose window contains d.
func fiscalYearOf(ctx context.Context, s Store, d Date) (string, error) {
	years, err := s.ListFiscalYears(ctx)
	if err != nil {
		return "", err
	}
	for _, fy := range years {
		w, err := fy.Window()
		if err != nil {
			return "", err
		}
		if w.Contains(d) {
			return fy.Name, nil
		}
	}
	return "", &ValidationError{Entity: "FiscalYear", Field: "posting_date", Message: fmt.Sprintf("no fiscal year contains %s", d)}
}

// SaveCostCenter places a node in the tree and assigns a unique abbreviation.
// The root is created on first use.
func (e *Engine) SaveCostCenter(ctx context.Context, cc CostCenter) (*CostCenter, error) {
	if cc.Name == "" {
		return nil, &ValidationError{Entity: "CostCenter", Field: "name", Message: "name is required"}
	}
	var saved *CostCenter
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := ensureRootCostCenter(ctx, s); err != nil {
			return err
		}
		if cc.Name == RootCostCenter {
			cc.Parent = ""
			cc.IsGroup = true
		} else {
			if cc.Parent == "" {
				cc.Parent = RootCostCenter
			}
			if err := checkCostCenterParent(ctx, s, cc); err != nil {
				return err
			}
		}

		all, err := s.ListCostCenters(ctx)
		if err != nil {
			return err
		}
		taken := map[string]bool{}
		for _, other := range all {
			if other.Name != cc.Name {
				taken[other.Abbr] = true
			}
		}
		base := cc.Abbr
		if base == "" {
			base = cc.Name
		}
		cc.Abbr = UniqueAbbr(Slugify(base), func(a string) bool { return taken[a] })

		if err := s.SaveCostCenter(ctx, cc); err != nil {
			return err
		}
		saved, err = s.GetCostCenter(ctx, cc.Name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func ensureRootCostCenter(ctx context.Context, s Store) error {
	_, err := s.GetCostCenter(ctx, RootCostCenter)
	if err == nil || !IsNotFound(err) {
		return err
	}
	return s.SaveCostCenter(ctx, CostCenter{Name: RootCostCenter, IsGroup: true, Abbr: "ALL"})
}

func checkCostCenterParent(ctx context.Context, s Store, cc CostCenter) error {
	invalid := func(msg string) error {
		return &ValidationError{Entity: "CostCenter", Name: cc.Name, Field: "parent", Message: msg}
	}
	parent, err := s.GetCostCenter(ctx, cc.Parent)
	if err != nil {
		if IsNotFound(err) {
			return invalid(fmt.Sprintf("parent %s does not exist", cc.Parent))
		}
		return err
	}
	if !parent.IsGroup {
		return invalid(fmt.Sprintf("parent %s is not a group", cc.Parent))
	}
	for p := parent; p.Parent != ""; {
		if p.Name == cc.Name || p.Parent == cc.Name {
			return invalid("cost center cannot be its own ancestor")
		}
		if p, err = s.GetCostCenter(ctx, p.Parent); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) SaveVendor(ctx context.Context, v Vendor) error {
	if v.Name == "" {
		return &ValidationError{Entity: "Vendor", Field: "name", Message: "name is required"}
	}
	return e.store.SaveVendor(ctx, v)
}

// requireCostCenter checks that a referenced cost center exists.
func requireCostCenter(ctx context.Context, s Store, entity, name, cc string) error {
	if cc == "" {
		return nil
	}
	if _, err := s.GetCostCenter(ctx, cc); err != nil {
		if IsNotFound(err) {
			return &ValidationError{Entity: entity, Name: name, Field: "cost_center", Message: fmt.Sprintf("cost center %s does not exist", cc)}
		}
		return err
	}
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

// SaveContract derives the contract's cached fields, stores it and
// propagates the change to the affected Live budgets. It returns soft warnings.
func (e *Engine) SaveContract(ctx context.Context, c Contract) (*Contract, []string, error) {
	today := e.today()
	var (
		prev     *Contract
		warnings []string
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		old, err := s.GetContract(ctx, c.Name)
		switch {
		case err == nil:
			prev = old
		case !IsNotFound(err):
			return err
		}
		if err := requireCostCenter(ctx, s, "Contract", c.Name, c.CostCenter); err != nil {
			return err
		}
		if c.Vendor != "" {
			if _, err := s.GetVendor(ctx, c.Vendor); err != nil {
				if IsNotFound(err) {
					return &ValidationError{Entity: "Contract", Name: c.Name, Field: "vendor", Message: fmt.Sprintf("vendor %s does not exist", c.Vendor)}
				}
				return err
			}
		}
		current, err := yearWindow(ctx, s, strconv.Itoa(today.Year()))
		if err != nil {
			return err
		}
		next, err := yearWindow(ctx, s, strconv.Itoa(today.Year()+1))
		if err != nil {
			return err
		}
		if warnings, err = PrepareContract(&c, today, current, next, e.settings); err != nil {
			return err
		}
		return s.SaveContract(ctx, c)
	})
	if err != nil {
		return nil, nil, err
	}
	for _, w := range warnings {
		e.log.Warnw(w, "contract", c.Name)
	}
	if _, err := e.ContractChanged(ctx, prev, &c); err != nil {
		return &c, warnings, err
	}
	return &c, warnings, nil
}

// ContractChanged enqueues refreshes for the years a contract change touches.
func (e *Engine) ContractChanged(ctx context.Context, prev, cur *Contract) ([]string, error) {
	years := AffectedYearsForContract(prev, cur, e.today())
	if len(years) == 0 {
		e.log.Debugw("contract change does not affect any budget", "contract", cur.Name, "status", cur.Status)
		return nil, nil
	}
	return e.EnqueueRefresh(ctx, years)
}

// DeleteContract removes the contract and its generated lines from every
// Live draft. Snapshots keep their copies.
func (e *Engine) DeleteContract(ctx context.Context, name string) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetContract(ctx, name); err != nil {
			return err
		}
		if err := e.blockIfActualsReference(ctx, s, "Contract", name, func(a ActualEntry) bool { return a.Contract == name }); err != nil {
			return err
		}
		if err := s.DeleteContract(ctx, name); err != nil {
			return err
		}
		return e.cascadeGeneratedLines(ctx, s, func(l Line) bool {
			return l.Kind == LineContract && l.Contract == name
		})
	})
	if err != nil {
		return err
	}
	e.log.Infow("contract deleted", "contract", name)
	return nil
}

// cascadeGeneratedLines drops matching generated lines from Live drafts and
// recomputes their totals.
func (e *Engine) cascadeGeneratedLines(ctx context.Context, s Store, match func(Line) bool) error {
	drafts, err := s.ListBudgets(ctx, BudgetFilter{Type: BudgetLive, DocStatus: DocStatusPtr(DocDraft)})
	if err != nil {
		return err
	}
	for i := range drafts {
		b := &drafts[i]
		kept := b.Lines[:0:0]
		for _, l := range b.Lines {
			if l.IsGenerated && match(l) {
				continue
			}
			l.Idx = len(kept) + 1
			kept = append(kept, l)
		}
		if len(kept) == len(b.Lines) {
			continue
		}
		removed := len(b.Lines) - len(kept)
		b.Lines = kept
		ComputeTotals(b)
		if err := s.UpdateBudget(ctx, b); err != nil {
			return err
		}
		e.log.Infow("generated lines removed", "budget", b.Name, "removed", removed)
	}
	return nil
}

func (e *Engine) blockIfActualsReference(ctx context.Context, s Store, entity, name string, match func(ActualEntry) bool) error {
	actuals, err := s.ListActuals(ctx, ActualFilter{})
	if err != nil {
		return err
	}
	for _, a := range actuals {
		if match(a) {
			return &ValidationError{Entity: entity, Name: name, Message: fmt.Sprintf("referenced by actual entry %s", a.Name)}
		}
	}
	return nil
}

// =============================================================================
// PROJECTS & PLANNED ITEMS
// =============================================================================

// SaveProject derives project totals. Approval or a cost center change
// refreshes the years its submitted items fall in.
func (e *Engine) SaveProject(ctx context.Context, p Project) (*Project, []string, error) {
	var (
		prev     *Project
		items    []PlannedItem
		warnings []string
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		old, err := s.GetProject(ctx, p.Name)
		switch {
		case err == nil:
			prev = old
		case !IsNotFound(err):
			return err
		}
		if err := requireCostCenter(ctx, s, "Project", p.Name, p.CostCenter); err != nil {
			return err
		}
		if items, err = s.ListPlannedItems(ctx, PlannedItemFilter{Project: p.Name}); err != nil {
			return err
		}
		actuals, err := s.ListActuals(ctx, ActualFilter{Project: p.Name})
		if err != nil {
			return err
		}
		if warnings, err = PrepareProject(&p, items, actuals); err != nil {
			return err
		}
		return s.SaveProject(ctx, p)
	})
	if err != nil {
		return nil, nil, err
	}
	for _, w := range warnings {
		e.log.Warnw(w, "project", p.Name)
	}

	if prev != nil && prev.WorkflowState == p.WorkflowState && prev.CostCenter == p.CostCenter {
		return &p, warnings, nil
	}
	today := e.today()
	years := yearSet{}
	for i := range items {
		it := &items[i]
		if !plannedItemFeeds(it) {
			continue
		}
		if r, ok := plannedItemRange(it); ok {
			years.addRange(r, today)
		}
	}
	if _, err := e.EnqueueRefresh(ctx, years.sorted()); err != nil {
		return &p, warnings, err
	}
	return &p, warnings, nil
}

// refreshProjectTotals re-derives a project's totals after its items changed.
func refreshProjectTotals(ctx context.Context, s Store, project string) error {
	p, err := s.GetProject(ctx, project)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	items, err := s.ListPlannedItems(ctx, PlannedItemFilter{Project: project})
	if err != nil {
		return err
	}
	actuals, err := s.ListActuals(ctx, ActualFilter{Project: project})
	if err != nil {
		return err
	}
	if _, err := PrepareProject(p, items, actuals); err != nil {
		return err
	}
	return s.SaveProject(ctx, *p)
}

// SavePlannedItem validates and stores a planned item, updates its project's
// totals and propagates the change.
func (e *Engine) SavePlannedItem(ctx context.Context, it PlannedItem) (*PlannedItem, error) {
	today := e.today()
	var prev *PlannedItem
	err := e.store.WithTx(ctx, func(s Store) error {
		old, err := s.GetPlannedItem(ctx, it.Name)
		switch {
		case err == nil:
			prev = old
		case !IsNotFound(err):
			return err
		}
		if it.Project != "" {
			if _, err := s.GetProject(ctx, it.Project); err != nil {
				if IsNotFound(err) {
					return &ValidationError{Entity: "PlannedItem", Name: it.Name, Field: "project", Message: fmt.Sprintf("project %s does not exist", it.Project)}
				}
				return err
			}
		}
		if err := PreparePlannedItem(&it, prev, today, e.settings); err != nil {
			return err
		}
		if err := s.SavePlannedItem(ctx, it); err != nil {
			return err
		}
		if prev != nil && prev.Project != it.Project {
			if err := refreshProjectTotals(ctx, s, prev.Project); err != nil {
				return err
			}
		}
		return refreshProjectTotals(ctx, s, it.Project)
	})
	if err != nil {
		return nil, err
	}
	event := EventUpdate
	if it.WorkflowState == StateSubmitted && (prev == nil || prev.WorkflowState != StateSubmitted) {
		event = EventSubmit
	}
	if _, err := e.PlannedItemChanged(ctx, prev, &it, event); err != nil {
		return &it, err
	}
	return &it, nil
}

// PlannedItemChanged enqueues refreshes for the years a planned item event touches.
func (e *Engine) PlannedItemChanged(ctx context.Context, prev, cur *PlannedItem, event ChangeEvent) ([]string, error) {
	years := AffectedYearsForPlannedItem(prev, cur, event, e.today())
	if len(years) == 0 {
		e.log.Debugw("planned item change does not affect any budget", "planned_item", cur.Name, "event", event)
		return nil, nil
	}
	return e.EnqueueRefresh(ctx, years)
}

// DeletePlannedItem removes the item and its generated lines from every Live draft.
func (e *Engine) DeletePlannedItem(ctx context.Context, name string) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		it, err := s.GetPlannedItem(ctx, name)
		if err != nil {
			return err
		}
		if err := e.blockIfActualsReference(ctx, s, "PlannedItem", name, func(a ActualEntry) bool { return a.PlannedItem == name }); err != nil {
			return err
		}
		if err := s.DeletePlannedItem(ctx, name); err != nil {
			return err
		}
		if err := e.cascadeGeneratedLines(ctx, s, func(l Line) bool {
			return l.Kind == LinePlannedItem && l.PlannedItem == name
		}); err != nil {
			return err
		}
		return refreshProjectTotals(ctx, s, it.Project)
	})
	if err != nil {
		return err
	}
	e.log.Infow("planned item deleted", "planned_item", name)
	return nil
}
