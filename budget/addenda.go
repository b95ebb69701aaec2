package budget

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// ADDENDA
// =============================================================================

func (e *Engine) GetAddendum(ctx context.Context, name string) (*Addendum, error) {
	return e.store.GetAddendum(ctx, name)
}

// CreateAddendum stores a draft addendum named ADD-{year}-{abbr}-NNNN.
func (e *Engine) CreateAddendum(ctx context.Context, a Addendum) (*Addendum, error) {
	invalid := func(field, msg string) error {
		return &ValidationError{Entity: "Addendum", Field: field, Message: msg}
	}
	a.Reason = strings.TrimSpace(a.Reason)
	switch {
	case a.Year == "":
		return nil, invalid("year", "year is required")
	case a.CostCenter == "":
		return nil, invalid("cost_center", "cost center is required")
	case a.Reason == "":
		return nil, invalid("reason", "reason is required")
	}
	a.DeltaAmount = Round(a.DeltaAmount)
	a.DocStatus = DocDraft

	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := yearWindow(ctx, s, a.Year); err != nil {
			return err
		}
		cc, err := s.GetCostCenter(ctx, a.CostCenter)
		if err != nil {
			if IsNotFound(err) {
				return invalid("cost_center", fmt.Sprintf("cost center %s does not exist", a.CostCenter))
			}
			return err
		}
		abbr := cc.Abbr
		if abbr == "" {
			abbr = Slugify(cc.Name)
		}
		if a.Name, err = e.settings.AddendumSeries(a.Year, abbr).Reserve(ctx, s); err != nil {
			return err
		}
		if err := s.SaveAddendum(ctx, a); err != nil {
			return err
		}
		return e.comment(ctx, s, "Addendum", a.Name, fmt.Sprintf("Created for %s in %s: %s", a.CostCenter, a.Year, a.Reason))
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("addendum created", "addendum", a.Name, "year", a.Year, "cost_center", a.CostCenter)
	return &a, nil
}

// checkAddendumReference requires the reference to be a submitted snapshot
// of the addendum's year with an Allowance line for its cost center.
func checkAddendumReference(ctx context.Context, s Store, a *Addendum) error {
	invalid := func(msg string) error {
		return &ValidationError{Entity: "Addendum", Name: a.Name, Field: "reference_snapshot", Message: msg, Err: ErrAddendumReferenceInvalid}
	}
	if a.ReferenceSnapshot == "" {
		return invalid("reference snapshot is required")
	}
	snap, err := s.GetBudget(ctx, a.ReferenceSnapshot)
	if err != nil {
		if IsNotFound(err) {
			return invalid(fmt.Sprintf("budget %s does not exist", a.ReferenceSnapshot))
		}
		return err
	}
	if snap.Type != BudgetSnapshot || snap.DocStatus != DocSubmitted {
		return invalid(fmt.Sprintf("%s is not a submitted snapshot", snap.Name))
	}
	if snap.Year != a.Year {
		return invalid(fmt.Sprintf("snapshot %s belongs to year %s, not %s", snap.Name, snap.Year, a.Year))
	}
	for _, l := range snap.Lines {
		if l.Kind == LineAllowance && l.CostCenter == a.CostCenter {
			return nil
		}
	}
	return invalid(fmt.Sprintf("snapshot %s has no Allowance line for %s", snap.Name, a.CostCenter))
}

// SubmitAddendum validates the reference and makes the delta count toward the cap.
func (e *Engine) SubmitAddendum(ctx context.Context, name string) (*Addendum, error) {
	return e.transitionAddendum(ctx, name, DocSubmitted, EventAddendumSubmitted, func(s Store, a *Addendum) error {
		if a.DocStatus != DocDraft {
			return &ValidationError{Entity: "Addendum", Name: a.Name, Message: "only draft addenda can be submitted", Err: ErrOperationNotAllowed}
		}
		return checkAddendumReference(ctx, s, a)
	})
}

// CancelAddendum withdraws a submitted addendum from the cap.
func (e *Engine) CancelAddendum(ctx context.Context, name string) (*Addendum, error) {
	return e.transitionAddendum(ctx, name, DocCancelled, EventAddendumCancelled, func(_ Store, a *Addendum) error {
		if a.DocStatus != DocSubmitted {
			return &ValidationError{Entity: "Addendum", Name: a.Name, Message: "only submitted addenda can be cancelled", Err: ErrOperationNotAllowed}
		}
		return nil
	})
}

func (e *Engine) transitionAddendum(ctx context.Context, name string, to DocStatus, event string, check func(Store, *Addendum) error) (*Addendum, error) {
	var a *Addendum
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		if a, err = s.GetAddendum(ctx, name); err != nil {
			return err
		}
		if err := check(s, a); err != nil {
			return err
		}
		a.DocStatus = to
		if err := s.SaveAddendum(ctx, *a); err != nil {
			return err
		}
		verb := "Submitted"
		if to == DocCancelled {
			verb = "Cancelled"
		}
		return e.comment(ctx, s, "Addendum", a.Name, fmt.Sprintf("%s by %s.", verb, ActorFrom(ctx).User))
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("addendum "+event, "addendum", name, "year", a.Year, "delta", a.DeltaAmount.String())
	e.publish(ctx, Event{Type: event, Addendum: a.Name, Year: a.Year, TotalNet: a.DeltaAmount})
	if _, err := e.AddendumChanged(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// AddendumChanged enqueues a refresh for the addendum's year.
func (e *Engine) AddendumChanged(ctx context.Context, a *Addendum) ([]string, error) {
	years := AffectedYearsForAddendum(a, e.today())
	if len(years) == 0 {
		return nil, nil
	}
	return e.EnqueueRefresh(ctx, years)
}

// DeleteAddendum removes a draft or cancelled addendum and resets its series
// when it was the last issued.
func (e *Engine) DeleteAddendum(ctx context.Context, name string) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAddendum(ctx, name)
		if err != nil {
			return err
		}
		if a.DocStatus == DocSubmitted {
			return &ValidationError{Entity: "Addendum", Name: a.Name, Message: "submitted addenda must be cancelled before deletion", Err: ErrOperationNotAllowed}
		}
		if err := s.DeleteAddendum(ctx, name); err != nil {
			return err
		}
		cc, err := s.GetCostCenter(ctx, a.CostCenter)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		abbr := cc.Abbr
		if abbr == "" {
			abbr = Slugify(cc.Name)
		}
		return e.settings.AddendumSeries(a.Year, abbr).Release(ctx, s, a.Name)
	})
	if err != nil {
		return err
	}
	e.log.Infow("addendum deleted", "addendum", name)
	return nil
}
