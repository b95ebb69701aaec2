/*
handlers.go - HTTP API handlers for the budget engine

PURPOSE:
  Exposes budget.Engine over REST. Handlers decode and validate the request,
  call one engine operation, and serialize the result. No budget logic lives
  here.

ENDPOINTS:
  Sources:
    GET    /api/fiscal-years                 List fiscal years
    PUT    /api/fiscal-years/{name}          Save fiscal year
    GET    /api/cost-centers                 List cost centers (tree order)
    PUT    /api/cost-centers/{name}          Save cost center
    PUT    /api/vendors/{name}               Save vendor
    GET    /api/contracts                    List contracts
    GET    /api/contracts/{name}             Get contract
    PUT    /api/contracts/{name}             Save contract (enqueues refresh)
    DELETE /api/contracts/{name}             Delete contract
    GET    /api/projects[/{name}]            List / get projects
    PUT    /api/projects/{name}              Save project
    GET    /api/planned-items[/{name}]       List / get planned items
    PUT    /api/planned-items/{name}         Save planned item (enqueues refresh)
    DELETE /api/planned-items/{name}         Delete planned item

  Budgets:
    GET    /api/budgets?year=&type=          List budgets
    POST   /api/budgets/live                 Create the year's Live draft
    GET    /api/budgets/{name}               Get budget with lines
    GET    /api/budgets/{name}/comments      Timeline
    POST   /api/budgets/{name}/refresh       Refresh from sources
    POST   /api/budgets/{name}/snapshot      Create snapshot of a Live budget
    POST   /api/budgets/{name}/submit        Submit
    POST   /api/budgets/{name}/activate      Mark active for its year and type
    PUT    /api/budgets/{name}/lines         Save manual lines
    DELETE /api/budgets/{name}               Delete draft

  Addenda & actuals:
    GET    /api/addenda?year=                POST /api/addenda
    POST   /api/addenda/{name}/submit        POST /api/addenda/{name}/cancel
    DELETE /api/addenda/{name}
    GET    /api/actuals?year=&cost_center=   POST /api/actuals
    DELETE /api/actuals/{name}

  Reads & admin:
    GET    /api/caps/{year}/{costCenter}?include_children=true
    GET    /api/summary/{year}/{costCenter}?include_children=true
    GET    /api/refresh-queue                Queue stats
    POST   /api/refresh-queue                Enqueue refresh for years
    GET    /api/verify                       Invariant check

REQUEST CONTEXT:
  X-User names the acting user; X-Allow-Live-Manual-Lines: true permits
  manual lines on Live budgets for this request (see server.go).

ERROR HANDLING:
  Engine errors map to HTTP status by kind:
  - 400: malformed JSON, failed validation tags
  - 404: ErrNotFound
  - 409: state machine, uniqueness, concurrent modification
  - 422: invalid documents (missing VAT rate, zero overlap, read-only lines ...)
  - 503: refresh lock held elsewhere
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/factory"
	"github.com/warp/budget-engine/queue"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *budget.Engine
	Seeds  *factory.Loader
	// Queue is nil when refreshes run inline.
	Queue *queue.Dispatcher

	validate *validator.Validate
	log      *zap.SugaredLogger
}

func NewHandler(engine *budget.Engine, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		Engine:   engine,
		Seeds:    factory.NewLoader(),
		validate: validator.New(),
		log:      log,
	}
}

// decode reads a JSON body into v and runs its validation tags. It writes
// the 400 response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// SOURCE HANDLERS
// =============================================================================

func (h *Handler) ListFiscalYears(w http.ResponseWriter, r *http.Request) {
	fys, err := h.Engine.ListFiscalYears(r.Context())
	if err != nil {
		h.fail(w, "Failed to list fiscal years", err)
		return
	}
	writeJSON(w, http.StatusOK, fys)
}

func (h *Handler) SaveFiscalYear(w http.ResponseWriter, r *http.Request) {
	var req factory.FiscalYearJSON
	req.Name = chi.URLParam(r, "name")
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = chi.URLParam(r, "name")
	fy := budget.FiscalYear{Name: req.Name}
	var err error
	if fy.Start, err = parseOptionalDate(req.StartDate); err == nil {
		fy.End, err = parseOptionalDate(req.EndDate)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	saved, err := h.Engine.SaveFiscalYear(r.Context(), fy)
	if err != nil {
		h.fail(w, "Failed to save fiscal year", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) ListCostCenters(w http.ResponseWriter, r *http.Request) {
	ccs, err := h.Engine.ListCostCenters(r.Context())
	if err != nil {
		h.fail(w, "Failed to list cost centers", err)
		return
	}
	writeJSON(w, http.StatusOK, ccs)
}

func (h *Handler) SaveCostCenter(w http.ResponseWriter, r *http.Request) {
	var req factory.CostCenterJSON
	req.Name = chi.URLParam(r, "name")
	if !h.decode(w, r, &req) {
		return
	}
	saved, err := h.Engine.SaveCostCenter(r.Context(), budget.CostCenter{
		Name:    chi.URLParam(r, "name"),
		Parent:  req.Parent,
		IsGroup: req.IsGroup,
		Abbr:    req.Abbr,
	})
	if err != nil {
		h.fail(w, "Failed to save cost center", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) SaveVendor(w http.ResponseWriter, r *http.Request) {
	v := budget.Vendor{Name: chi.URLParam(r, "name")}
	if err := h.Engine.SaveVendor(r.Context(), v); err != nil {
		h.fail(w, "Failed to save vendor", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	var filter budget.ContractFilter
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Statuses = []budget.ContractStatus{budget.ContractStatus(s)}
	}
	cs, err := h.Engine.ListContracts(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list contracts", err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.GetContract(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) SaveContract(w http.ResponseWriter, r *http.Request) {
	var req factory.ContractJSON
	req.Name = chi.URLParam(r, "name")
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = chi.URLParam(r, "name")
	c, err := req.Contract()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	saved, warnings, err := h.Engine.SaveContract(r.Context(), c)
	if err != nil {
		h.fail(w, "Failed to save contract", err)
		return
	}
	writeJSON(w, http.StatusOK, ContractResponse{Contract: saved, Warnings: nonNil(warnings)})
}

func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteContract(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, "Failed to delete contract", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Engine.ListProjects(r.Context())
	if err != nil {
		h.fail(w, "Failed to list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.GetProject(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to get project", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) SaveProject(w http.ResponseWriter, r *http.Request) {
	var req factory.ProjectJSON
	req.Name = chi.URLParam(r, "name")
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = chi.URLParam(r, "name")
	p, err := req.Project()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	saved, warnings, err := h.Engine.SaveProject(r.Context(), p)
	if err != nil {
		h.fail(w, "Failed to save project", err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectResponse{Project: saved, Warnings: nonNil(warnings)})
}

func (h *Handler) ListPlannedItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.Engine.ListPlannedItems(r.Context(), budget.PlannedItemFilter{
		Project:       q.Get("project"),
		WorkflowState: budget.WorkflowState(q.Get("workflow_state")),
	})
	if err != nil {
		h.fail(w, "Failed to list planned items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetPlannedItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Engine.GetPlannedItem(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to get planned item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) SavePlannedItem(w http.ResponseWriter, r *http.Request) {
	var req factory.PlannedItemJSON
	req.Name = chi.URLParam(r, "name")
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = chi.URLParam(r, "name")
	it, err := req.PlannedItem()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	saved, err := h.Engine.SavePlannedItem(r.Context(), it)
	if err != nil {
		h.fail(w, "Failed to save planned item", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) DeletePlannedItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeletePlannedItem(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, "Failed to delete planned item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BUDGET HANDLERS
// =============================================================================

func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bs, err := h.Engine.ListBudgets(r.Context(), budget.BudgetFilter{
		Year: q.Get("year"),
		Type: budget.BudgetType(q.Get("type")),
	})
	if err != nil {
		h.fail(w, "Failed to list budgets", err)
		return
	}
	writeJSON(w, http.StatusOK, bs)
}

func (h *Handler) CreateLiveBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateLiveBudgetRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Engine.CreateLiveBudget(r.Context(), req.Year, req.Title)
	if err != nil {
		h.fail(w, "Failed to create live budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.GetBudget(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to get budget", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ListBudgetComments(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Engine.ListComments(r.Context(), "Budget", chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to list comments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cs))
}

func (h *Handler) RefreshBudget(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	report, err := h.Engine.RefreshBudget(r.Context(), chi.URLParam(r, "name"), budget.RefreshOptions{
		Manual: true,
		Reason: req.Reason,
	})
	if err != nil {
		h.fail(w, "Failed to refresh budget", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.CreateSnapshot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to create snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) SubmitBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.SubmitBudget(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to submit budget", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ActivateBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.SetActive(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to activate budget", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) SaveBudgetLines(w http.ResponseWriter, r *http.Request) {
	var req SaveLinesRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Engine.SaveBudgetLines(r.Context(), chi.URLParam(r, "name"), req.Version, req.Lines)
	if err != nil {
		h.fail(w, "Failed to save budget lines", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteBudget(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, "Failed to delete budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADDENDUM & ACTUAL HANDLERS
// =============================================================================

func (h *Handler) ListAddenda(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := budget.AddendumFilter{Year: q.Get("year")}
	if cc := q.Get("cost_center"); cc != "" {
		filter.CostCenters = []string{cc}
	}
	as, err := h.Engine.ListAddenda(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list addenda", err)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

func (h *Handler) CreateAddendum(w http.ResponseWriter, r *http.Request) {
	var req CreateAddendumRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Engine.CreateAddendum(r.Context(), req.Addendum())
	if err != nil {
		h.fail(w, "Failed to create addendum", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) GetAddendum(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.GetAddendum(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to get addendum", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) SubmitAddendum(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.SubmitAddendum(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to submit addendum", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) CancelAddendum(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.CancelAddendum(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, "Failed to cancel addendum", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) DeleteAddendum(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteAddendum(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, "Failed to delete addendum", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListActuals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := budget.ActualFilter{
		Year:    q.Get("year"),
		Status:  budget.ActualStatus(q.Get("status")),
		Project: q.Get("project"),
	}
	if cc := q.Get("cost_center"); cc != "" {
		filter.CostCenters = []string{cc}
	}
	as, err := h.Engine.ListActuals(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list actuals", err)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

func (h *Handler) RecordActual(w http.ResponseWriter, r *http.Request) {
	var req RecordActualRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := req.Actual()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid posting_date (use YYYY-MM-DD)", err)
		return
	}
	saved, err := h.Engine.RecordActual(r.Context(), entry)
	if err != nil {
		h.fail(w, "Failed to record actual", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) DeleteActual(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteActual(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, "Failed to delete actual", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// READS & ADMIN
// =============================================================================

func (h *Handler) GetCap(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.GetCap(r.Context(), chi.URLParam(r, "year"), chi.URLParam(r, "costCenter"), includeChildren(r))
	if err != nil {
		h.fail(w, "Failed to compute cap", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.GetSummary(r.Context(), chi.URLParam(r, "year"), chi.URLParam(r, "costCenter"), includeChildren(r))
	if err != nil {
		h.fail(w, "Failed to compute summary", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) EnqueueRefresh(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}
	names, err := h.Engine.EnqueueRefresh(r.Context(), req.Years)
	if err != nil {
		h.fail(w, "Failed to enqueue refresh", err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		Years:    req.Years,
		Budgets:  nonNil(names),
		Horizon:  budget.Horizon(h.Engine.Today()),
		Deferred: h.Queue != nil,
	})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		writeJSON(w, http.StatusOK, queue.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.Stats())
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	vs, err := h.Engine.Verify(r.Context())
	if err != nil {
		h.fail(w, "Failed to verify", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{OK: len(vs) == 0, Violations: nonNil(vs)})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail writes an engine error with the status its kind maps to.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Errorw(message, "error", err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case budget.IsNotFound(err):
		return http.StatusNotFound
	case budget.IsConflict(err):
		return http.StatusConflict
	case budget.IsRetryable(err):
		return http.StatusServiceUnavailable
	case budget.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func includeChildren(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("include_children"))
	return v
}

func parseOptionalDate(s string) (budget.Date, error) {
	if s == "" {
		return budget.Date{}, nil
	}
	return budget.ParseDate(s)
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
