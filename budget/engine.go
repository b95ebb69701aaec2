/*
engine.go - Budget engine: refresh, enqueue and the shared plumbing

PURPOSE:
  Engine is the single entry point the host (HTTP API, CLI, scheduler) uses.
  It owns every derived value: generated lines, line amounts, budget totals
  and the cached fields on contracts, planned items and projects.

REFRESH FLOW:
  RefreshBudget(name)
    1. state machine: only a Live draft may refresh
    2. closed year + automatic -> audit comment, skip
    3. take the per-year refresh lock
    4. in one transaction: generate -> upsert -> compute lines -> totals
       -> UpdateBudget (version-checked)
    5. retry on ErrConcurrentModification, publish budget.refreshed

ENQUEUE FLOW:
  EnqueueRefresh(years) filters to the horizon, finds each year's Live draft
  and hands its name to the Dispatcher (which coalesces per budget). Without
  a dispatcher the refresh runs inline.

COLLABORATORS (all optional except the store):
  Locker      serializes refreshes of one year across workers/processes
  Dispatcher  background queue for refreshes
  Publisher   domain events (budget.refreshed, budget.snapshot_created, ...)
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Unlock releases a lock obtained from a Locker.
type Unlock func(ctx context.Context) error

// Locker serializes refreshes that target the same key.
type Locker interface {
	Obtain(ctx context.Context, key string) (Unlock, error)
}

// Dispatcher queues a background refresh of a budget.
type Dispatcher interface {
	Dispatch(budgetName string)
}

// Publisher delivers domain events.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// Event is published after engine operations that change budgets.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Budget    string          `json:"budget,omitempty"`
	Addendum  string          `json:"addendum,omitempty"`
	Year      string          `json:"year"`
	TotalNet  decimal.Decimal `json:"total_net"`
	Actor     string          `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventBudgetRefreshed   = "budget.refreshed"
	EventSnapshotCreated   = "budget.snapshot_created"
	EventBudgetSubmitted   = "budget.submitted"
	EventAddendumSubmitted = "addendum.submitted"
	EventAddendumCancelled = "addendum.cancelled"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store      TxStore
	settings   Settings
	log        *zap.SugaredLogger
	clock      func() time.Time
	locker     Locker
	dispatcher Dispatcher
	publisher  Publisher
	retries    int
}

type Option func(*Engine)

func WithSettings(s Settings) Option         { return func(e *Engine) { e.settings = s } }
func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.log = l } }
func WithClock(c func() time.Time) Option    { return func(e *Engine) { e.clock = c } }
func WithLocker(l Locker) Option             { return func(e *Engine) { e.locker = l } }
func WithPublisher(p Publisher) Option       { return func(e *Engine) { e.publisher = p } }

// WithDispatcher routes EnqueueRefresh through a background queue.
func WithDispatcher(d Dispatcher) Option { return func(e *Engine) { e.dispatcher = d } }

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		settings: DefaultSettings(),
		log:      zap.NewNop().Sugar(),
		clock:    time.Now,
		retries:  3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetDispatcher wires the queue after construction; the queue itself needs
// the engine to run refreshes.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }

func (e *Engine) Settings() Settings { return e.settings }

// Today is the engine clock's current date.
func (e *Engine) Today() Date { return e.today() }

func (e *Engine) today() Date { return DateOf(e.clock()) }

// yearWindow resolves a year name to its fiscal window, falling back to the
// calendar year when no fiscal year document exists.
func yearWindow(ctx context.Context, s Store, year string) (Period, error) {
	fy, err := s.GetFiscalYear(ctx, year)
	if err != nil {
		if IsNotFound(err) {
			return CalendarYear(year)
		}
		return Period{}, err
	}
	return fy.Window()
}

func (e *Engine) comment(ctx context.Context, s Store, doctype, docname, content string) error {
	return s.AddComment(ctx, Comment{
		ID:        uuid.NewString(),
		DocType:   doctype,
		DocName:   docname,
		Content:   content,
		Author:    ActorFrom(ctx).User,
		CreatedAt: e.clock().UTC(),
	})
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.publisher == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Actor = ActorFrom(ctx).User
	ev.CreatedAt = e.clock().UTC()
	key := ev.Budget
	if key == "" {
		key = ev.Addendum
	}
	if err := e.publisher.Publish(ctx, key, ev); err != nil {
		e.log.Warnw("publish event failed", "type", ev.Type, "key", key, "error", err)
	}
}

// retry runs fn until it succeeds, fails permanently, or runs out of attempts.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		e.log.Infow("retrying after concurrent modification", "op", op, "attempt", attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// =============================================================================
// REFRESH
// =============================================================================

type RefreshOptions struct {
	Manual bool
	Reason string
}

// RefreshReport describes the outcome of a refresh.
type RefreshReport struct {
	Budget  string       `json:"budget"`
	Year    string       `json:"year"`
	Skipped bool         `json:"skipped"`
	Changed bool         `json:"changed"`
	Result  UpsertResult `json:"result"`
	Totals  Totals       `json:"totals"`
}

func refreshLockKey(year string) string { return fmt.Sprintf("budget-refresh:%s:%s", year, BudgetLive) }

// RefreshBudget regenerates a Live draft's lines from sources. Running it
// twice without source changes leaves lines and totals unchanged.
func (e *Engine) RefreshBudget(ctx context.Context, name string, opts RefreshOptions) (*RefreshReport, error) {
	b, err := e.store.GetBudget(ctx, name)
	if err != nil {
		return nil, err
	}
	actor := ActorFrom(ctx)
	if err := CheckOperation(b, OpRefresh, actor); err != nil {
		return nil, err
	}
	window, err := yearWindow(ctx, e.store, b.Year)
	if err != nil {
		return nil, err
	}
	today := e.today()
	closed := today.After(window.End)
	report := &RefreshReport{Budget: b.Name, Year: b.Year}

	if closed && !opts.Manual {
		e.log.Infow("auto refresh skipped, year closed", "budget", b.Name, "year", b.Year)
		err := e.store.WithTx(ctx, func(s Store) error {
			return e.comment(ctx, s, "Budget", b.Name, fmt.Sprintf("Auto-refresh skipped: year %s is closed.", b.Year))
		})
		report.Skipped = true
		return report, err
	}

	if e.locker != nil {
		unlock, err := e.locker.Obtain(ctx, refreshLockKey(b.Year))
		if err != nil {
			return nil, fmt.Errorf("refresh %s: %w", b.Name, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.log.Warnw("release refresh lock failed", "budget", b.Name, "error", err)
			}
		}()
	}

	err = e.retry(ctx, "refresh", func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			cur, err := s.GetBudget(ctx, name)
			if err != nil {
				return err
			}
			if err := CheckOperation(cur, OpRefresh, actor); err != nil {
				return err
			}
			fresh, err := NewGenerator(s, e.log).Generate(ctx, cur.Year, window)
			if err != nil {
				return fmt.Errorf("refresh %s: %w", cur.Name, err)
			}
			next := cur.Clone()
			report.Result = UpsertGeneratedLines(next, fresh)
			if err := ComputeLines(next, window, e.settings.DefaultVATRate); err != nil {
				return fmt.Errorf("refresh %s: %w", cur.Name, err)
			}
			if err := checkSourceKeysUnique(next); err != nil {
				return err
			}
			ComputeTotals(next)
			report.Totals = next.Totals
			report.Changed = !linesEqual(cur.Lines, next.Lines) || !totalsEqual(cur.Totals, next.Totals)

			if !InHorizon(cur.Year, today) {
				if err := e.comment(ctx, s, "Budget", cur.Name, "Refresh on out-of-horizon year (manual only): proceed with caution."); err != nil {
					return err
				}
			}
			if closed {
				reason := opts.Reason
				if reason == "" {
					reason = "No reason provided."
				}
				if err := e.comment(ctx, s, "Budget", cur.Name, fmt.Sprintf("Manual refresh on closed year by %s. Reason: %s", actor.User, reason)); err != nil {
					return err
				}
			}
			if report.Changed {
				if err := s.UpdateBudget(ctx, next); err != nil {
					return err
				}
			}
			return e.comment(ctx, s, "Budget", cur.Name, "Budget refreshed from sources.")
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Infow("budget refreshed",
		"budget", name, "year", b.Year,
		"inserted", report.Result.Inserted, "updated", report.Result.Updated,
		"deactivated", report.Result.Deactivated, "changed", report.Changed)
	e.publish(ctx, Event{Type: EventBudgetRefreshed, Budget: name, Year: b.Year, TotalNet: report.Totals.Net})
	return report, nil
}

func totalsEqual(a, b Totals) bool {
	return a.Monthly.Equal(b.Monthly) && a.Annual.Equal(b.Annual) &&
		a.Net.Equal(b.Net) && a.VAT.Equal(b.VAT) && a.Gross.Equal(b.Gross)
}

// =============================================================================
// ENQUEUE
// =============================================================================

// EnqueueRefresh refreshes the Live draft of every in-horizon year in years.
// Years outside the horizon and years without a Live draft are skipped
// silently. It returns the budgets dispatched.
func (e *Engine) EnqueueRefresh(ctx context.Context, years []string) ([]string, error) {
	today := e.today()
	inHorizon := FilterHorizon(years, today)
	if len(inHorizon) < len(years) {
		e.log.Debugw("years outside horizon skipped", "requested", years, "horizon", Horizon(today))
	}
	var dispatched []string
	for _, y := range inHorizon {
		live, err := e.store.ListBudgets(ctx, BudgetFilter{Year: y, Type: BudgetLive, DocStatus: DocStatusPtr(DocDraft)})
		if err != nil {
			return dispatched, err
		}
		if len(live) == 0 {
			e.log.Debugw("no live budget to refresh", "year", y)
			continue
		}
		for _, b := range live {
			dispatched = append(dispatched, b.Name)
			if e.dispatcher != nil {
				e.dispatcher.Dispatch(b.Name)
				continue
			}
			if err := e.RunQueuedRefresh(ctx, b.Name); err != nil {
				e.log.Warnw("inline refresh failed", "budget", b.Name, "error", err)
			}
		}
	}
	return dispatched, nil
}

// RunQueuedRefresh is the background job body. Failures are recorded on the
// budget's timeline and leave the budget untouched.
func (e *Engine) RunQueuedRefresh(ctx context.Context, name string) error {
	_, err := e.RefreshBudget(ctx, name, RefreshOptions{})
	if err == nil {
		return nil
	}
	e.log.Errorw("background refresh failed", "budget", name, "error", err)
	if IsNotFound(err) {
		return err
	}
	if cerr := e.store.WithTx(ctx, func(s Store) error {
		return e.comment(ctx, s, "Budget", name, fmt.Sprintf("Background refresh failed: %v", err))
	}); cerr != nil {
		e.log.Warnw("record refresh failure failed", "budget", name, "error", cerr)
	}
	return err
}

// RealignHorizon re-derives out_of_horizon on planned items for today and
// enqueues refreshes for the horizon years.
func (e *Engine) RealignHorizon(ctx context.Context) ([]string, error) {
	today := e.today()
	changed := 0
	err := e.store.WithTx(ctx, func(s Store) error {
		items, err := s.ListPlannedItems(ctx, PlannedItemFilter{})
		if err != nil {
			return err
		}
		for _, it := range items {
			out := !it.CoversHorizon(today)
			if out == it.OutOfHorizon {
				continue
			}
			it.OutOfHorizon = out
			if err := s.SavePlannedItem(ctx, it); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Infow("horizon realigned", "planned_items_changed", changed, "horizon", Horizon(today))
	return e.EnqueueRefresh(ctx, Horizon(today))
}
