/*
Package sqlite provides a SQLite-backed implementation of budget.TxStore.

PURPOSE:
  Persists every budget engine document. Sources, budgets, addenda and
  actual entries are stored whole as JSON, with the columns the engine
  filters on copied out next to the document.

KEY TABLES:
  budgets:        budget header (doc_json without lines) and version stamp
  budget_lines:   one row per line, UNIQUE(budget, source_key) when keyed
  contracts, projects, planned_items, addenda, actual_entries: documents
  cost_centers:   nested-set tree (lft/rgt rebuilt on every save)
  series:         name series counters
  comments:       document timelines

OPTIMISTIC CONCURRENCY:
  UpdateBudget runs UPDATE ... WHERE name = ? AND version = ?. Zero affected
  rows on an existing budget is budget.ErrConcurrentModification.

CONNECTIONS:
  The pool is limited to one connection, so a transaction serializes every
  other caller and ":memory:" databases are shared by all of them.

MIGRATION:
  Schema is migrated on New() by golang-migrate from the embedded
  migrations/ directory.

USAGE:
  store, err := sqlite.New("./data/budget.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := budget.NewEngine(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/budget-engine/budget"
)

// Store implements budget.TxStore using SQLite.
type Store struct {
	queries
	db            *sql.DB
	schemaVersion uint
}

var _ budget.TxStore = (*Store)(nil)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{queries: queries{db: db}, db: db, schemaVersion: version}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion is the migration version the database is at.
func (s *Store) SchemaVersion() uint { return s.schemaVersion }

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - shared by Store and transactions
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func notFound(entity, name string) error {
	return fmt.Errorf("%s %s: %w", entity, name, budget.ErrNotFound)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// getDoc loads the doc_json column of one row into out.
func (q queries) getDoc(ctx context.Context, entity, table, name string, out any) error {
	var raw string
	err := q.db.QueryRowContext(ctx, "SELECT doc_json FROM "+table+" WHERE name = ?", name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(entity, name)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", entity, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", entity, name, err)
	}
	return nil
}

// listDocs decodes every doc_json returned by query, in order.
func listDocs[T any](ctx context.Context, q queries, entity, query string, args ...any) ([]T, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entity, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", entity, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (q queries) deleteByName(ctx context.Context, entity, table, name string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", entity, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(entity, name)
	}
	return nil
}

// inClause renders "col IN (?, ?)" for a non-empty list.
func inClause(col string, values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")), args
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) eq(col string, v any) {
	w.clauses = append(w.clauses, col+" = ?")
	w.args = append(w.args, v)
}

func (w *where) in(col string, values []string) {
	if len(values) == 0 {
		return
	}
	c, a := inClause(col, values)
	w.clauses = append(w.clauses, c)
	w.args = append(w.args, a...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// =============================================================================
// FISCAL YEARS, COST CENTERS, VENDORS
// =============================================================================

func (q queries) GetFiscalYear(ctx context.Context, name string) (*budget.FiscalYear, error) {
	var start, end string
	err := q.db.QueryRowContext(ctx, "SELECT start_date, end_date FROM fiscal_years WHERE name = ?", name).Scan(&start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("fiscal year", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fiscal year: %w", err)
	}
	return scanFiscalYear(name, start, end)
}

func scanFiscalYear(name, start, end string) (*budget.FiscalYear, error) {
	fy := &budget.FiscalYear{Name: name}
	var err error
	if fy.Start, err = budget.ParseDate(start); err != nil {
		return nil, err
	}
	if fy.End, err = budget.ParseDate(end); err != nil {
		return nil, err
	}
	return fy, nil
}

func (q queries) ListFiscalYears(ctx context.Context) ([]budget.FiscalYear, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT name, start_date, end_date FROM fiscal_years ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list fiscal years: %w", err)
	}
	defer rows.Close()

	var out []budget.FiscalYear
	for rows.Next() {
		var name, start, end string
		if err := rows.Scan(&name, &start, &end); err != nil {
			return nil, err
		}
		fy, err := scanFiscalYear(name, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, *fy)
	}
	return out, rows.Err()
}

func (q queries) SaveFiscalYear(ctx context.Context, fy budget.FiscalYear) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO fiscal_years (name, start_date, end_date) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET start_date = excluded.start_date, end_date = excluded.end_date
	`, fy.Name, fy.Start.String(), fy.End.String())
	if err != nil {
		return fmt.Errorf("failed to save fiscal year: %w", err)
	}
	return nil
}

const costCenterColumns = "name, parent, is_group, abbr, lft, rgt"

func scanCostCenter(row interface{ Scan(...any) error }) (budget.CostCenter, error) {
	var cc budget.CostCenter
	err := row.Scan(&cc.Name, &cc.Parent, &cc.IsGroup, &cc.Abbr, &cc.Lft, &cc.Rgt)
	return cc, err
}

func (q queries) GetCostCenter(ctx context.Context, name string) (*budget.CostCenter, error) {
	cc, err := scanCostCenter(q.db.QueryRowContext(ctx, "SELECT "+costCenterColumns+" FROM cost_centers WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("cost center", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cost center: %w", err)
	}
	return &cc, nil
}

func (q queries) ListCostCenters(ctx context.Context) ([]budget.CostCenter, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+costCenterColumns+" FROM cost_centers ORDER BY lft")
	if err != nil {
		return nil, fmt.Errorf("failed to list cost centers: %w", err)
	}
	defer rows.Close()

	var out []budget.CostCenter
	for rows.Next() {
		cc, err := scanCostCenter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// SaveCostCenter upserts the node, then renumbers the whole tree.
func (q queries) SaveCostCenter(ctx context.Context, cc budget.CostCenter) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cost_centers (name, parent, is_group, abbr) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET parent = excluded.parent, is_group = excluded.is_group, abbr = excluded.abbr
	`, cc.Name, cc.Parent, cc.IsGroup, cc.Abbr)
	if err != nil {
		return fmt.Errorf("failed to save cost center: %w", err)
	}

	all, err := q.ListCostCenters(ctx)
	if err != nil {
		return err
	}
	nodes := make(map[string]budget.CostCenter, len(all))
	for _, n := range all {
		nodes[n.Name] = n
	}
	budget.RebuildNestedSet(nodes)
	for _, n := range nodes {
		if _, err := q.db.ExecContext(ctx, "UPDATE cost_centers SET lft = ?, rgt = ? WHERE name = ?", n.Lft, n.Rgt, n.Name); err != nil {
			return fmt.Errorf("failed to renumber cost centers: %w", err)
		}
	}
	return nil
}

func (q queries) CostCenterSubtree(ctx context.Context, name string) ([]string, error) {
	root, err := q.GetCostCenter(ctx, name)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.QueryContext(ctx,
		"SELECT name FROM cost_centers WHERE lft >= ? AND rgt <= ? ORDER BY name", root.Lft, root.Rgt)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtree: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (q queries) GetVendor(ctx context.Context, name string) (*budget.Vendor, error) {
	var v budget.Vendor
	err := q.db.QueryRowContext(ctx, "SELECT name FROM vendors WHERE name = ?", name).Scan(&v.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("vendor", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return &v, nil
}

func (q queries) SaveVendor(ctx context.Context, v budget.Vendor) error {
	if _, err := q.db.ExecContext(ctx, "INSERT OR IGNORE INTO vendors (name) VALUES (?)", v.Name); err != nil {
		return fmt.Errorf("failed to save vendor: %w", err)
	}
	return nil
}

// =============================================================================
// CONTRACTS, PROJECTS, PLANNED ITEMS
// =============================================================================

func (q queries) GetContract(ctx context.Context, name string) (*budget.Contract, error) {
	var c budget.Contract
	if err := q.getDoc(ctx, "contract", "contracts", name, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (q queries) ListContracts(ctx context.Context, filter budget.ContractFilter) ([]budget.Contract, error) {
	var w where
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}
	w.in("status", statuses)
	return listDocs[budget.Contract](ctx, q, "contracts", "SELECT doc_json FROM contracts"+w.String()+" ORDER BY name", w.args...)
}

func (q queries) SaveContract(ctx context.Context, c budget.Contract) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO contracts (name, status, doc_json, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET status = excluded.status, doc_json = excluded.doc_json, updated_at = excluded.updated_at
	`, c.Name, string(c.Status), string(doc), now())
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

func (q queries) DeleteContract(ctx context.Context, name string) error {
	return q.deleteByName(ctx, "contract", "contracts", name)
}

func (q queries) GetProject(ctx context.Context, name string) (*budget.Project, error) {
	var p budget.Project
	if err := q.getDoc(ctx, "project", "projects", name, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) ListProjects(ctx context.Context) ([]budget.Project, error) {
	return listDocs[budget.Project](ctx, q, "projects", "SELECT doc_json FROM projects ORDER BY name")
}

func (q queries) SaveProject(ctx context.Context, p budget.Project) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO projects (name, doc_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET doc_json = excluded.doc_json, updated_at = excluded.updated_at
	`, p.Name, string(doc), now())
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

func (q queries) GetPlannedItem(ctx context.Context, name string) (*budget.PlannedItem, error) {
	var it budget.PlannedItem
	if err := q.getDoc(ctx, "planned item", "planned_items", name, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (q queries) ListPlannedItems(ctx context.Context, filter budget.PlannedItemFilter) ([]budget.PlannedItem, error) {
	var w where
	if filter.Project != "" {
		w.eq("project", filter.Project)
	}
	if filter.WorkflowState != "" {
		w.eq("workflow_state", string(filter.WorkflowState))
	}
	return listDocs[budget.PlannedItem](ctx, q, "planned items", "SELECT doc_json FROM planned_items"+w.String()+" ORDER BY name", w.args...)
}

func (q queries) SavePlannedItem(ctx context.Context, it budget.PlannedItem) error {
	doc, err := json.Marshal(it)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO planned_items (name, project, workflow_state, doc_json, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET project = excluded.project, workflow_state = excluded.workflow_state,
			doc_json = excluded.doc_json, updated_at = excluded.updated_at
	`, it.Name, it.Project, string(it.WorkflowState), string(doc), now())
	if err != nil {
		return fmt.Errorf("failed to save planned item: %w", err)
	}
	return nil
}

func (q queries) DeletePlannedItem(ctx context.Context, name string) error {
	return q.deleteByName(ctx, "planned item", "planned_items", name)
}

// =============================================================================
// BUDGETS
// =============================================================================

// budgetHeader is the budget document without its lines.
func budgetHeader(b *budget.Budget) (string, error) {
	h := *b
	h.Lines = nil
	doc, err := json.Marshal(h)
	return string(doc), err
}

func (q queries) GetBudget(ctx context.Context, name string) (*budget.Budget, error) {
	var b budget.Budget
	if err := q.getDoc(ctx, "budget", "budgets", name, &b); err != nil {
		return nil, err
	}
	if err := q.db.QueryRowContext(ctx, "SELECT version FROM budgets WHERE name = ?", name).Scan(&b.Version); err != nil {
		return nil, fmt.Errorf("failed to get budget version: %w", err)
	}
	lines, err := q.loadLines(ctx, name)
	if err != nil {
		return nil, err
	}
	b.Lines = lines
	return &b, nil
}

func (q queries) loadLines(ctx context.Context, name string) ([]budget.Line, error) {
	lines, err := listDocs[budget.Line](ctx, q, "budget lines", "SELECT line_json FROM budget_lines WHERE budget = ? ORDER BY idx", name)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []budget.Line{}
	}
	return lines, nil
}

func (q queries) ListBudgets(ctx context.Context, filter budget.BudgetFilter) ([]budget.Budget, error) {
	var w where
	if filter.Year != "" {
		w.eq("year", filter.Year)
	}
	if filter.Type != "" {
		w.eq("budget_type", string(filter.Type))
	}
	if filter.DocStatus != nil {
		w.eq("docstatus", int(*filter.DocStatus))
	}
	rows, err := q.db.QueryContext(ctx, "SELECT name FROM budgets"+w.String()+" ORDER BY name", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]budget.Budget, 0, len(names))
	for _, n := range names {
		b, err := q.GetBudget(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func (q queries) replaceLines(ctx context.Context, b *budget.Budget) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM budget_lines WHERE budget = ?", b.Name); err != nil {
		return fmt.Errorf("failed to clear budget lines: %w", err)
	}
	for _, l := range b.Lines {
		doc, err := json.Marshal(l)
		if err != nil {
			return err
		}
		_, err = q.db.ExecContext(ctx,
			"INSERT INTO budget_lines (budget, idx, source_key, line_json) VALUES (?, ?, ?, ?)",
			b.Name, l.Idx, l.SourceKey, string(doc))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("budget %s line %d (%s): %w", b.Name, l.Idx, l.SourceKey, budget.ErrUniquenessViolation)
			}
			return fmt.Errorf("failed to insert budget line: %w", err)
		}
	}
	return nil
}

func (q queries) CreateBudget(ctx context.Context, b *budget.Budget) error {
	b.Version = 1
	doc, err := budgetHeader(b)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO budgets (name, year, budget_type, docstatus, version, doc_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.Name, b.Year, string(b.Type), int(b.DocStatus), b.Version, doc, now())
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("budget %s: %w", b.Name, budget.ErrUniquenessViolation)
		}
		return fmt.Errorf("failed to create budget: %w", err)
	}
	return q.replaceLines(ctx, b)
}

func (q queries) UpdateBudget(ctx context.Context, b *budget.Budget) error {
	next := b.Version + 1
	h := *b
	h.Version = next
	doc, err := budgetHeader(&h)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE budgets SET year = ?, budget_type = ?, docstatus = ?, version = ?, doc_json = ?, updated_at = ?
		WHERE name = ? AND version = ?
	`, b.Year, string(b.Type), int(b.DocStatus), next, doc, now(), b.Name, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var stored int64
		err := q.db.QueryRowContext(ctx, "SELECT version FROM budgets WHERE name = ?", b.Name).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("budget", b.Name)
		}
		return fmt.Errorf("budget %s: version %d, stored %d: %w", b.Name, b.Version, stored, budget.ErrConcurrentModification)
	}
	if err := q.replaceLines(ctx, b); err != nil {
		return err
	}
	b.Version = next
	return nil
}

func (q queries) DeleteBudget(ctx context.Context, name string) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM budget_lines WHERE budget = ?", name); err != nil {
		return fmt.Errorf("failed to delete budget lines: %w", err)
	}
	return q.deleteByName(ctx, "budget", "budgets", name)
}

// =============================================================================
// ADDENDA & ACTUALS
// =============================================================================

func (q queries) GetAddendum(ctx context.Context, name string) (*budget.Addendum, error) {
	var a budget.Addendum
	if err := q.getDoc(ctx, "addendum", "addenda", name, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q queries) ListAddenda(ctx context.Context, filter budget.AddendumFilter) ([]budget.Addendum, error) {
	var w where
	if filter.Year != "" {
		w.eq("year", filter.Year)
	}
	if filter.DocStatus != nil {
		w.eq("docstatus", int(*filter.DocStatus))
	}
	w.in("cost_center", filter.CostCenters)
	return listDocs[budget.Addendum](ctx, q, "addenda", "SELECT doc_json FROM addenda"+w.String()+" ORDER BY name", w.args...)
}

func (q queries) SaveAddendum(ctx context.Context, a budget.Addendum) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO addenda (name, year, cost_center, docstatus, doc_json) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET year = excluded.year, cost_center = excluded.cost_center,
			docstatus = excluded.docstatus, doc_json = excluded.doc_json
	`, a.Name, a.Year, a.CostCenter, int(a.DocStatus), string(doc))
	if err != nil {
		return fmt.Errorf("failed to save addendum: %w", err)
	}
	return nil
}

func (q queries) DeleteAddendum(ctx context.Context, name string) error {
	return q.deleteByName(ctx, "addendum", "addenda", name)
}

func (q queries) GetActual(ctx context.Context, name string) (*budget.ActualEntry, error) {
	var a budget.ActualEntry
	if err := q.getDoc(ctx, "actual entry", "actual_entries", name, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q queries) ListActuals(ctx context.Context, filter budget.ActualFilter) ([]budget.ActualEntry, error) {
	var w where
	if filter.Year != "" {
		w.eq("year", filter.Year)
	}
	if filter.Status != "" {
		w.eq("status", string(filter.Status))
	}
	if filter.Project != "" {
		w.eq("project", filter.Project)
	}
	w.in("cost_center", filter.CostCenters)
	return listDocs[budget.ActualEntry](ctx, q, "actual entries",
		"SELECT doc_json FROM actual_entries"+w.String()+" ORDER BY posting_date, name", w.args...)
}

func (q queries) SaveActual(ctx context.Context, a budget.ActualEntry) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO actual_entries (name, year, status, cost_center, project, posting_date, doc_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET year = excluded.year, status = excluded.status,
			cost_center = excluded.cost_center, project = excluded.project,
			posting_date = excluded.posting_date, doc_json = excluded.doc_json
	`, a.Name, a.Year, string(a.Status), a.CostCenter, a.Project, a.PostingDate.String(), string(doc))
	if err != nil {
		return fmt.Errorf("failed to save actual entry: %w", err)
	}
	return nil
}

func (q queries) DeleteActual(ctx context.Context, name string) error {
	return q.deleteByName(ctx, "actual entry", "actual_entries", name)
}

// =============================================================================
// SERIES & COMMENTS
// =============================================================================

func (q queries) NextSeries(ctx context.Context, key string) (int, error) {
	var seq int
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO series (name, current) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET current = current + 1
		RETURNING current
	`, key).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance series %s: %w", key, err)
	}
	return seq, nil
}

func (q queries) ReleaseSeries(ctx context.Context, key string, seq int) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE series SET current = current - 1 WHERE name = ? AND current = ? AND current > 0", key, seq)
	if err != nil {
		return fmt.Errorf("failed to release series %s: %w", key, err)
	}
	return nil
}

func (q queries) AddComment(ctx context.Context, c budget.Comment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO comments (id, doctype, docname, content, author, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.DocType, c.DocName, c.Content, c.Author, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

func (q queries) ListComments(ctx context.Context, doctype, docname string) ([]budget.Comment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, content, author, created_at FROM comments
		WHERE doctype = ? AND docname = ? ORDER BY rowid
	`, doctype, docname)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var out []budget.Comment
	for rows.Next() {
		c := budget.Comment{DocType: doctype, DocName: docname}
		var created string
		if err := rows.Scan(&c.ID, &c.Content, &c.Author, &created); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
