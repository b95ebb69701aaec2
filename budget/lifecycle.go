package budget

import (
	"fmt"
)

// =============================================================================
// BUDGET STATE MACHINE
// =============================================================================
//
//   Operation         Live draft    Live submitted  Snapshot draft  Snapshot submitted
//   manual line edit  allow-flag    no              yes             no (immutable)
//   refresh           yes           no              no              no
//   create snapshot   yes           no              no              no
//   submit            yes           no              yes             no
//   delete            yes           no              yes             no (immutable)
//   set active        yes           yes             no              yes
//
// Cancelled budgets accept nothing.

type Operation string

const (
	OpManualEdit     Operation = "manual line edit"
	OpRefresh        Operation = "refresh"
	OpCreateSnapshot Operation = "create snapshot"
	OpSubmit         Operation = "submit"
	OpDelete         Operation = "delete"
	OpSetActive      Operation = "set active"
)

// StateLabel describes the budget's type and status, e.g. "Live draft".
func (b *Budget) StateLabel() string {
	status := "draft"
	switch b.DocStatus {
	case DocSubmitted:
		status = "submitted"
	case DocCancelled:
		status = "cancelled"
	}
	return fmt.Sprintf("%s %s", b.Type, status)
}

// CheckOperation enforces the state machine for op on b.
func CheckOperation(b *Budget, op Operation, actor Actor) error {
	deny := func() error {
		return &StateError{Budget: b.Name, Operation: op, State: b.StateLabel()}
	}
	immutable := func() error {
		return &StateError{Budget: b.Name, Operation: op, State: b.StateLabel(), Err: ErrSnapshotImmutable}
	}
	if b.DocStatus == DocCancelled {
		return deny()
	}
	live := b.Type == BudgetLive
	draft := b.DocStatus == DocDraft

	switch op {
	case OpManualEdit:
		switch {
		case live && draft && actor.AllowLiveManualLines:
			return nil
		case live:
			return deny()
		case draft:
			return nil
		}
		return immutable()
	case OpRefresh, OpCreateSnapshot:
		if live && draft {
			return nil
		}
		return deny()
	case OpSubmit:
		if draft {
			return nil
		}
		return deny()
	case OpDelete:
		if draft {
			return nil
		}
		if !live {
			return immutable()
		}
		return deny()
	case OpSetActive:
		if live || !draft {
			return nil
		}
		return deny()
	}
	return deny()
}

// checkManualLines validates the non-generated lines of a manual save.
// Snapshots accept only Allowance lines; Live budgets only Manual or Allowance.
func checkManualLines(b *Budget) error {
	for _, l := range b.Lines {
		if l.IsGenerated {
			continue
		}
		switch {
		case b.Type == BudgetSnapshot && l.Kind != LineAllowance:
			return &ValidationError{Entity: "Budget", Name: b.Name, Field: "lines", Message: fmt.Sprintf("line %d: only Allowance lines can be added to a snapshot", l.Idx)}
		case b.Type == BudgetLive && l.Kind != LineManual && l.Kind != LineAllowance:
			return &ValidationError{Entity: "Budget", Name: b.Name, Field: "lines", Message: fmt.Sprintf("line %d: %s lines are generated from sources", l.Idx, l.Kind)}
		}
		if l.SourceKey != "" && l.Kind != LineAllowance {
			return &ValidationError{Entity: "Budget", Name: b.Name, Field: "lines", Message: fmt.Sprintf("line %d: source_key is reserved for generated lines", l.Idx)}
		}
	}
	return nil
}

// checkSourceKeysUnique enforces at most one line per non-empty source key.
func checkSourceKeysUnique(b *Budget) error {
	seen := map[string]int{}
	for _, l := range b.Lines {
		if l.SourceKey == "" {
			continue
		}
		if prev, dup := seen[l.SourceKey]; dup {
			return &ValidationError{Entity: "Budget", Name: b.Name, Field: "lines", Message: fmt.Sprintf("lines %d and %d share source key %s", prev, l.Idx, l.SourceKey), Err: ErrUniquenessViolation}
		}
		seen[l.SourceKey] = l.Idx
	}
	return nil
}
