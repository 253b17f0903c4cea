package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
	"github.com/expenza/be-expenses/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	expenses *service.ExpenseService
	workflow *service.WorkflowService
	rules    *service.ApprovalRuleService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	expenses *service.ExpenseService,
	workflow *service.WorkflowService,
	rules *service.ApprovalRuleService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		expenses: expenses,
		workflow: workflow,
		rules:    rules,
		log:      log,
	}
}

// Router builds the service's HTTP routing tree.
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthContext)

		r.Route("/expenses", func(r chi.Router) {
			r.Post("/", h.CreateExpense)
			r.Get("/", h.ListExpenses)
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}", h.UpdateExpense)
			r.Delete("/{id}", h.DeleteExpense)
			r.Post("/{id}/decision", h.ProcessDecision)
		})

		r.Get("/approvals/pending", h.ListPendingApprovals)

		r.Route("/approval-rules", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/", h.CreateRule)
			r.Get("/", h.ListRules)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeleteRule)
		})
	})

	return r
}

// ── Expenses ─────────────────────────────────────────────────────────────────

type expensePayload struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ExpenseDate string          `json:"expense_date"`
	CategoryID  *string         `json:"category_id,omitempty"`
	PaidBy      *string         `json:"paid_by,omitempty"`
	Remarks     *string         `json:"remarks,omitempty"`
	ReceiptURL  *string         `json:"receipt_url,omitempty"`
}

// CreateExpense handles expense submission.
func (h *HTTPHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var payload expensePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	expense, err := h.expenses.Create(r.Context(), actorFrom(r), &service.CreateExpenseRequest{
		Description: payload.Description,
		Amount:      payload.Amount,
		Currency:    payload.Currency,
		ExpenseDate: payload.ExpenseDate,
		CategoryID:  payload.CategoryID,
		PaidBy:      payload.PaidBy,
		Remarks:     payload.Remarks,
		ReceiptURL:  payload.ReceiptURL,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
}

// ListExpenses handles expense listing with optional filters.
func (h *HTTPHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	var f repository.ExpenseFilter

	if v := r.URL.Query().Get("status"); v != "" {
		status := repository.ExpenseStatus(v)
		f.Status = &status
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		f.UserID = &v
	}
	if v := r.URL.Query().Get("from_date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "from_date: invalid date format, expected YYYY-MM-DD")
			return
		}
		f.FromDate = &d
	}
	if v := r.URL.Query().Get("to_date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "to_date: invalid date format, expected YYYY-MM-DD")
			return
		}
		f.ToDate = &d
	}

	expenses, err := h.expenses.List(r.Context(), actorFrom(r), f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

// GetExpense handles expense detail reads.
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := h.expenses.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expense": expense})
}

// UpdateExpense handles edits to unprocessed expenses.
func (h *HTTPHandler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description *string          `json:"description,omitempty"`
		Amount      *decimal.Decimal `json:"amount,omitempty"`
		Currency    *string          `json:"currency,omitempty"`
		ExpenseDate *string          `json:"expense_date,omitempty"`
		CategoryID  *string          `json:"category_id,omitempty"`
		PaidBy      *string          `json:"paid_by,omitempty"`
		Remarks     *string          `json:"remarks,omitempty"`
		ReceiptURL  *string          `json:"receipt_url,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	expense, err := h.expenses.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), &service.UpdateExpenseRequest{
		Description: payload.Description,
		Amount:      payload.Amount,
		Currency:    payload.Currency,
		ExpenseDate: payload.ExpenseDate,
		CategoryID:  payload.CategoryID,
		PaidBy:      payload.PaidBy,
		Remarks:     payload.Remarks,
		ReceiptURL:  payload.ReceiptURL,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expense": expense})
}

// DeleteExpense handles deletion of unprocessed expenses.
func (h *HTTPHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.expenses.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Approval decisions ───────────────────────────────────────────────────────

// ProcessDecision handles the public approval decision endpoint.
func (h *HTTPHandler) ProcessDecision(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status   string  `json:"status"`
		Comments *string `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	result, err := h.workflow.ProcessDecision(r.Context(), actorFrom(r), chi.URLParam(r, "id"),
		repository.ActionStatus(payload.Status), payload.Comments)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resolution": result.Resolution,
		"reason":     result.Reason,
		"expense":    result.Expense,
	})
}

// ListPendingApprovals handles the approver work-queue listing.
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.workflow.ListPendingApprovals(r.Context(), actorFrom(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

// ── Approval rules ───────────────────────────────────────────────────────────

type rulePayload struct {
	Name               string   `json:"name"`
	RuleType           string   `json:"rule_type"`
	PercentageRequired *int     `json:"percentage_required,omitempty"`
	SpecificApproverID *string  `json:"specific_approver_id,omitempty"`
	Priority           int      `json:"priority"`
	IsActive           bool     `json:"is_active"`
	StepApproverIDs    []string `json:"step_approver_ids"`
}

func (p *rulePayload) toRequest() *service.RuleRequest {
	return &service.RuleRequest{
		Name:               p.Name,
		RuleType:           repository.RuleType(p.RuleType),
		PercentageRequired: p.PercentageRequired,
		SpecificApproverID: p.SpecificApproverID,
		Priority:           p.Priority,
		IsActive:           p.IsActive,
		StepApproverIDs:    p.StepApproverIDs,
	}
}

// CreateRule handles approval rule creation.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	rule, err := h.rules.Create(r.Context(), actorFrom(r), payload.toRequest())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

// ListRules handles approval rule listing.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context(), actorFrom(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetRule handles single rule reads.
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

// UpdateRule handles approval rule updates.
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	rule, err := h.rules.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), payload.toRequest())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

// DeleteRule handles approval rule deletion.
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, apperrors.HTTPStatus(err), string(apperrors.CodeOf(err)), apperrors.MessageOf(err))
}
