package budget

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// ACTUAL ENTRIES
// =============================================================================

// RecordActual validates and stores an actual entry. New entries get a
// generated name. Verified entries can no longer change.
func (e *Engine) RecordActual(ctx context.Context, a ActualEntry) (*ActualEntry, error) {
	invalid := func(field, msg string) error {
		return &ValidationError{Entity: "ActualEntry", Name: a.Name, Field: field, Message: msg}
	}
	if a.PostingDate.IsZero() {
		return nil, invalid("posting_date", "posting date is required")
	}
	if a.Status == "" {
		a.Status = ActualRecorded
	}
	if a.Status != ActualRecorded && a.Status != ActualVerified {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", a.Status))
	}
	if a.Kind == "" {
		a.Kind = EntryDelta
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		if a.Name == "" {
			a.Name = uuid.NewString()
		} else {
			prev, err := s.GetActual(ctx, a.Name)
			switch {
			case err == nil && prev.Status == ActualVerified:
				return &ValidationError{Entity: "ActualEntry", Name: a.Name, Message: "verified entries cannot be modified", Err: ErrOperationNotAllowed}
			case err != nil && !IsNotFound(err):
				return err
			}
		}
		year, err := fiscalYearOf(ctx, s, a.PostingDate)
		if err != nil {
			return err
		}
		a.Year = year
		if err := e.classifyActual(ctx, s, &a); err != nil {
			return err
		}
		if err := requireCostCenter(ctx, s, "ActualEntry", a.Name, a.CostCenter); err != nil {
			return err
		}

		rate, err := ResolveVATRate(a.Amount, a.VATRate, e.settings.DefaultVATRate, "vat_rate")
		if err != nil {
			return fmt.Errorf("actual entry %s: %w", a.Name, err)
		}
		a.VATRate = rate
		split, err := SplitVAT(a.Amount, a.VATRate, nil, a.AmountIncludesVAT)
		if err != nil {
			return fmt.Errorf("actual entry %s: %w", a.Name, err)
		}
		a.AmountNet, a.AmountVAT, a.AmountGross = split.Net, split.VAT, split.Gross

		if err := s.SaveActual(ctx, a); err != nil {
			return err
		}
		if a.Project != "" && a.Kind == EntryDelta {
			return refreshProjectTotals(ctx, s, a.Project)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("actual recorded", "actual", a.Name, "year", a.Year, "cost_center", a.CostCenter, "status", a.Status)
	return &a, nil
}

// classifyActual enforces the entry kind rules and fills the cost center of
// Delta entries from the linked document.
func (e *Engine) classifyActual(ctx context.Context, s Store, a *ActualEntry) error {
	invalid := func(field, msg string) error {
		return &ValidationError{Entity: "ActualEntry", Name: a.Name, Field: field, Message: msg}
	}
	links := 0
	for _, v := range []string{a.Contract, a.Project, a.PlannedItem} {
		if v != "" {
			links++
		}
	}
	switch a.Kind {
	case EntryAllowanceSpend:
		if links > 0 {
			return invalid("entry_kind", "Allowance Spend entries cannot reference a contract, project or planned item")
		}
		if a.CostCenter == "" {
			return invalid("cost_center", "Allowance Spend entries require a cost center")
		}
		return nil
	case EntryDelta:
		if links != 1 {
			return invalid("entry_kind", "Delta entries require exactly one of contract, project or planned item")
		}
	default:
		return invalid("entry_kind", fmt.Sprintf("unknown entry kind %q", a.Kind))
	}

	switch {
	case a.Contract != "":
		c, err := s.GetContract(ctx, a.Contract)
		if err != nil {
			return fmt.Errorf("actual entry %s: %w", a.Name, err)
		}
		if a.CostCenter == "" {
			a.CostCenter = c.CostCenter
		}
	case a.PlannedItem != "":
		it, err := s.GetPlannedItem(ctx, a.PlannedItem)
		if err != nil {
			return fmt.Errorf("actual entry %s: %w", a.Name, err)
		}
		if p, err := s.GetProject(ctx, it.Project); err == nil && a.CostCenter == "" {
			a.CostCenter = p.CostCenter
		}
	case a.Project != "":
		p, err := s.GetProject(ctx, a.Project)
		if err != nil {
			return fmt.Errorf("actual entry %s: %w", a.Name, err)
		}
		if a.CostCenter == "" {
			a.CostCenter = p.CostCenter
		}
	}
	if a.CostCenter == "" {
		return invalid("cost_center", "cost center could not be derived from the linked document")
	}
	return nil
}

// DeleteActual removes a Recorded entry.
func (e *Engine) DeleteActual(ctx context.Context, name string) error {
	return e.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetActual(ctx, name)
		if err != nil {
			return err
		}
		if a.Status == ActualVerified {
			return &ValidationError{Entity: "ActualEntry", Name: name, Message: "verified entries cannot be deleted", Err: ErrOperationNotAllowed}
		}
		if err := s.DeleteActual(ctx, name); err != nil {
			return err
		}
		if a.Project != "" {
			return refreshProjectTotals(ctx, s, a.Project)
		}
		return nil
	})
}
