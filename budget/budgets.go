package budget

import (
	"context"
	"fmt"
)

// =============================================================================
// BUDGET OPERATIONS
// =============================================================================

func (e *Engine) GetBudget(ctx context.Context, name string) (*Budget, error) {
	return e.store.GetBudget(ctx, name)
}

func (e *Engine) ListBudgets(ctx context.Context, filter BudgetFilter) ([]Budget, error) {
	return e.store.ListBudgets(ctx, filter)
}

func (e *Engine) ListComments(ctx context.Context, doctype, docname string) ([]Comment, error) {
	return e.store.ListComments(ctx, doctype, docname)
}

// CreateLiveBudget creates the Live draft of year. A year has at most one.
func (e *Engine) CreateLiveBudget(ctx context.Context, year, title string) (*Budget, error) {
	var created *Budget
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := e.createLive(ctx, s, year, title)
		created = b
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("live budget created", "budget", created.Name, "year", year)
	return created, nil
}

// EnsureLiveBudget returns the year's Live draft, creating it when missing.
func (e *Engine) EnsureLiveBudget(ctx context.Context, year string) (*Budget, bool, error) {
	var (
		b       *Budget
		created bool
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		live, err := s.ListBudgets(ctx, BudgetFilter{Year: year, Type: BudgetLive, DocStatus: DocStatusPtr(DocDraft)})
		if err != nil {
			return err
		}
		if len(live) > 0 {
			b = &live[0]
			return nil
		}
		b, err = e.createLive(ctx, s, year, "")
		if err != nil {
			return err
		}
		created = true
		return e.comment(ctx, s, "Budget", b.Name, fmt.Sprintf("Auto-created Live budget for year %s.", year))
	})
	return b, created, err
}

func (e *Engine) createLive(ctx context.Context, s Store, year, title string) (*Budget, error) {
	if _, err := yearWindow(ctx, s, year); err != nil {
		return nil, err
	}
	existing, err := s.ListBudgets(ctx, BudgetFilter{Year: year, Type: BudgetLive})
	if err != nil {
		return nil, err
	}
	active := false
	for _, b := range existing {
		if b.DocStatus == DocDraft {
			return nil, &ValidationError{Entity: "Budget", Name: b.Name, Field: "year", Message: fmt.Sprintf("a Live draft already exists for year %s", year), Err: ErrUniquenessViolation}
		}
		active = active || b.IsActive
	}
	name, err := e.settings.BudgetSeries(year, BudgetLive).Reserve(ctx, s)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = fmt.Sprintf("Live budget %s", year)
	}
	b := &Budget{
		Name:          name,
		Year:          year,
		Title:         title,
		Type:          BudgetLive,
		WorkflowState: StateDraft,
		DocStatus:     DocDraft,
		IsActive:      !active,
	}
	ComputeTotals(b)
	if err := s.CreateBudget(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateSnapshot deep-copies a Live draft into a new Snapshot draft.
// Source keys are preserved; every copied line becomes read-only.
func (e *Engine) CreateSnapshot(ctx context.Context, liveName string) (*Budget, error) {
	actor := ActorFrom(ctx)
	var snap *Budget
	err := e.store.WithTx(ctx, func(s Store) error {
		live, err := s.GetBudget(ctx, liveName)
		if err != nil {
			return err
		}
		if err := CheckOperation(live, OpCreateSnapshot, actor); err != nil {
			return err
		}
		window, err := yearWindow(ctx, s, live.Year)
		if err != nil {
			return err
		}
		name, err := e.settings.BudgetSeries(live.Year, BudgetSnapshot).Reserve(ctx, s)
		if err != nil {
			return err
		}
		copied := live.Clone()
		snap = &Budget{
			Name:          name,
			Year:          live.Year,
			Title:         fmt.Sprintf("Snapshot of %s", live.Name),
			Type:          BudgetSnapshot,
			WorkflowState: StateDraft,
			DocStatus:     DocDraft,
			Source:        live.Name,
			Lines:         copied.Lines,
		}
		for i := range snap.Lines {
			l := &snap.Lines[i]
			if l.SourceKey == "" {
				l.SourceKey = fmt.Sprintf("COPY::%s::%d", live.Name, l.Idx)
			}
			l.IsGenerated = true
		}
		if err := ComputeLines(snap, window, e.settings.DefaultVATRate); err != nil {
			return err
		}
		ComputeTotals(snap)
		if err := s.CreateBudget(ctx, snap); err != nil {
			return err
		}
		if err := e.comment(ctx, s, "Budget", live.Name, fmt.Sprintf("Snapshot %s created from this Live budget.", snap.Name)); err != nil {
			return err
		}
		return e.comment(ctx, s, "Budget", snap.Name, fmt.Sprintf("Created from Live budget %s.", live.Name))
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("snapshot created", "snapshot", snap.Name, "live", liveName, "lines", len(snap.Lines))
	e.publish(ctx, Event{Type: EventSnapshotCreated, Budget: snap.Name, Year: snap.Year, TotalNet: snap.Totals.Net})
	return snap, nil
}

// SaveBudgetLines is the manual edit path. Generated lines may only toggle
// is_active; submitted snapshots reject any change.
func (e *Engine) SaveBudgetLines(ctx context.Context, name string, version int64, lines []Line) (*Budget, error) {
	actor := ActorFrom(ctx)
	var saved *Budget
	err := e.store.WithTx(ctx, func(s Store) error {
		persisted, err := s.GetBudget(ctx, name)
		if err != nil {
			return err
		}
		if version != 0 && version != persisted.Version {
			return fmt.Errorf("budget %s: loaded version %d, stored %d: %w", name, version, persisted.Version, ErrConcurrentModification)
		}
		if err := CheckOperation(persisted, OpManualEdit, actor); err != nil {
			return err
		}
		window, err := yearWindow(ctx, s, persisted.Year)
		if err != nil {
			return err
		}
		next := persisted.Clone()
		next.Lines = make([]Line, len(lines))
		for i, l := range lines {
			next.Lines[i] = l.clone()
			next.Lines[i].Idx = i + 1
			if !l.IsGenerated {
				next.Lines[i].IsActive = true
			}
		}
		if err := CheckGeneratedReadOnly(persisted, next); err != nil {
			return err
		}
		if err := checkManualLines(next); err != nil {
			return err
		}
		if err := checkSourceKeysUnique(next); err != nil {
			return err
		}
		if err := ComputeLines(next, window, e.settings.DefaultVATRate); err != nil {
			return err
		}
		ComputeTotals(next)
		if err := s.UpdateBudget(ctx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// SubmitBudget moves a draft to submitted/Approved. A submitted snapshot
// becomes the year's active baseline.
func (e *Engine) SubmitBudget(ctx context.Context, name string) (*Budget, error) {
	actor := ActorFrom(ctx)
	var submitted *Budget
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBudget(ctx, name)
		if err != nil {
			return err
		}
		if err := CheckOperation(b, OpSubmit, actor); err != nil {
			return err
		}
		b.DocStatus = DocSubmitted
		b.WorkflowState = StateApproved
		b.SubmittedAt = e.clock().UTC()
		if b.Type == BudgetSnapshot {
			if err := e.deactivateOthers(ctx, s, b); err != nil {
				return err
			}
			b.IsActive = true
		}
		if err := s.UpdateBudget(ctx, b); err != nil {
			return err
		}
		submitted = b
		return e.comment(ctx, s, "Budget", b.Name, fmt.Sprintf("Submitted by %s.", actor.User))
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("budget submitted", "budget", name, "type", submitted.Type)
	e.publish(ctx, Event{Type: EventBudgetSubmitted, Budget: name, Year: submitted.Year, TotalNet: submitted.Totals.Net})
	return submitted, nil
}

// DeleteBudget removes a draft budget and gives its name back to the series
// if it was the last one issued.
func (e *Engine) DeleteBudget(ctx context.Context, name string) error {
	actor := ActorFrom(ctx)
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBudget(ctx, name)
		if err != nil {
			return err
		}
		if err := CheckOperation(b, OpDelete, actor); err != nil {
			return err
		}
		refs, err := s.ListAddenda(ctx, AddendumFilter{Year: b.Year})
		if err != nil {
			return err
		}
		for _, a := range refs {
			if a.ReferenceSnapshot == b.Name && a.DocStatus != DocCancelled {
				return &ValidationError{Entity: "Budget", Name: b.Name, Message: fmt.Sprintf("referenced by addendum %s", a.Name)}
			}
		}
		if err := s.DeleteBudget(ctx, name); err != nil {
			return err
		}
		return e.settings.BudgetSeries(b.Year, b.Type).Release(ctx, s, b.Name)
	})
	if err != nil {
		return err
	}
	e.log.Infow("budget deleted", "budget", name)
	return nil
}

// SetActive marks b as the active budget of its year and type.
func (e *Engine) SetActive(ctx context.Context, name string) (*Budget, error) {
	actor := ActorFrom(ctx)
	var active *Budget
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBudget(ctx, name)
		if err != nil {
			return err
		}
		if err := CheckOperation(b, OpSetActive, actor); err != nil {
			return err
		}
		if err := e.deactivateOthers(ctx, s, b); err != nil {
			return err
		}
		if !b.IsActive {
			b.IsActive = true
			if err := s.UpdateBudget(ctx, b); err != nil {
				return err
			}
		}
		active = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("budget set active", "budget", name, "year", active.Year)
	return active, nil
}

func (e *Engine) deactivateOthers(ctx context.Context, s Store, b *Budget) error {
	peers, err := s.ListBudgets(ctx, BudgetFilter{Year: b.Year, Type: b.Type})
	if err != nil {
		return err
	}
	for i := range peers {
		p := &peers[i]
		if p.Name == b.Name || !p.IsActive {
			continue
		}
		p.IsActive = false
		if err := s.UpdateBudget(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
