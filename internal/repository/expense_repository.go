package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/database"
)

// ExpenseFilter narrows expense listings.
type ExpenseFilter struct {
	Status   *ExpenseStatus
	UserID   *string
	FromDate *time.Time
	ToDate   *time.Time
}

// ExpenseRepository handles expense data operations.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `
	id, company_id, user_id, category_id, description,
	amount, currency, amount_company_currency, expense_date,
	paid_by, remarks, receipt_url,
	status, manager_approval_complete, current_step_index,
	created_at, updated_at
`

// Create inserts a new expense inside the given transaction.
func (r *ExpenseRepository) Create(ctx context.Context, tx pgx.Tx, e *Expense) error {
	e.ID = uuid.NewString()

	query := `
		INSERT INTO expenses
		    (id, company_id, user_id, category_id, description,
		     amount, currency, amount_company_currency, expense_date,
		     paid_by, remarks, receipt_url,
		     status, manager_approval_complete, current_step_index)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9,
		        $10, $11, $12,
		        $13::expense_status, $14, $15)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		e.ID,
		e.CompanyID,
		e.UserID,
		e.CategoryID,
		e.Description,
		e.Amount,
		e.Currency,
		e.AmountInCompanyCurrency,
		e.ExpenseDate,
		e.PaidBy,
		e.Remarks,
		e.ReceiptURL,
		e.Status,
		e.ManagerApprovalComplete,
		e.CurrentStepIndex,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create expense")
	}
	return nil
}

// GetByID retrieves an expense with its approval actions.
func (r *ExpenseRepository) GetByID(ctx context.Context, id, companyID string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1 AND company_id = $2`

	e, err := scanExpense(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("expense", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get expense")
	}

	actionsQuery := `
		SELECT id, expense_id, approver_id, status, step_index, comments, created_at, updated_at
		FROM approval_actions
		WHERE expense_id = $1
		ORDER BY step_index ASC, created_at ASC
	`
	rows, err := r.db.Query(ctx, actionsQuery, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get approval actions")
	}
	defer rows.Close()

	for rows.Next() {
		a := &ApprovalAction{}
		if err := rows.Scan(&a.ID, &a.ExpenseID, &a.ApproverID, &a.Status, &a.StepIndex,
			&a.Comments, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval action")
		}
		e.Actions = append(e.Actions, a)
	}
	return e, nil
}

// GetForUpdate loads an expense row with a row lock held for the duration of
// the transaction. Concurrent decision requests against the same expense
// serialize on this lock.
func (r *ExpenseRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id, companyID string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1 AND company_id = $2 FOR UPDATE`

	e, err := scanExpense(tx.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("expense", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to lock expense")
	}
	return e, nil
}

// List returns expenses for a company matching the filter, newest first.
func (r *ExpenseRepository) List(ctx context.Context, companyID string, f ExpenseFilter) ([]*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE company_id = $1`
	args := []any{companyID}

	if f.Status != nil {
		args = append(args, *f.Status)
		query += ` AND status = $` + strconv.Itoa(len(args)) + `::expense_status`
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += ` AND user_id = $` + strconv.Itoa(len(args))
	}
	if f.FromDate != nil {
		args = append(args, *f.FromDate)
		query += ` AND expense_date >= $` + strconv.Itoa(len(args))
	}
	if f.ToDate != nil {
		args = append(args, *f.ToDate)
		query += ` AND expense_date <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	return r.queryExpenses(ctx, query, args...)
}

// ListAwaitingManager returns PENDING expenses whose owner reports to the
// given manager and whose manager gate has not yet cleared.
func (r *ExpenseRepository) ListAwaitingManager(ctx context.Context, companyID, managerID string) ([]*Expense, error) {
	query := `
		SELECT ` + prefixColumns("e") + `
		FROM expenses e
		JOIN users u ON u.id = e.user_id
		WHERE e.company_id = $1
		  AND e.status = 'PENDING'::expense_status
		  AND e.manager_approval_complete = FALSE
		  AND u.manager_id = $2
		ORDER BY e.created_at DESC
	`
	return r.queryExpenses(ctx, query, companyID, managerID)
}

// ListWithPendingAction returns IN_PROGRESS expenses holding a PENDING
// approval action for the given approver.
func (r *ExpenseRepository) ListWithPendingAction(ctx context.Context, companyID, approverID string) ([]*Expense, error) {
	query := `
		SELECT ` + prefixColumns("e") + `
		FROM expenses e
		WHERE e.company_id = $1
		  AND e.status = 'IN_PROGRESS'::expense_status
		  AND EXISTS (
		      SELECT 1 FROM approval_actions a
		      WHERE a.expense_id = e.id
		        AND a.approver_id = $2
		        AND a.status = 'PENDING'::action_status
		  )
		ORDER BY e.created_at DESC
	`
	return r.queryExpenses(ctx, query, companyID, approverID)
}

// ListUnresolved returns all PENDING and IN_PROGRESS expenses for a company.
// Admin-only view.
func (r *ExpenseRepository) ListUnresolved(ctx context.Context, companyID string) ([]*Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE company_id = $1
		  AND status IN ('PENDING'::expense_status, 'IN_PROGRESS'::expense_status)
		ORDER BY created_at DESC
	`
	return r.queryExpenses(ctx, query, companyID)
}

// Update persists edits to a still-PENDING expense.
func (r *ExpenseRepository) Update(ctx context.Context, e *Expense) error {
	query := `
		UPDATE expenses
		SET category_id             = $3,
		    description             = $4,
		    amount                  = $5,
		    currency                = $6,
		    amount_company_currency = $7,
		    expense_date            = $8,
		    paid_by                 = $9,
		    remarks                 = $10,
		    receipt_url             = $11,
		    updated_at              = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.CompanyID, e.CategoryID, e.Description,
		e.Amount, e.Currency, e.AmountInCompanyCurrency, e.ExpenseDate,
		e.PaidBy, e.Remarks, e.ReceiptURL,
	).Scan(&e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("expense", e.ID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update expense")
	}
	return nil
}

// Delete removes an expense.
func (r *ExpenseRepository) Delete(ctx context.Context, id, companyID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to delete expense")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("expense", id)
	}
	return nil
}

// UpdateWorkflowState persists the orchestrator's state mutation for an
// expense inside the decision transaction.
func (r *ExpenseRepository) UpdateWorkflowState(
	ctx context.Context,
	tx pgx.Tx,
	id string,
	status ExpenseStatus,
	managerApprovalComplete bool,
	currentStepIndex int,
) error {
	query := `
		UPDATE expenses
		SET status                    = $2::expense_status,
		    manager_approval_complete = $3,
		    current_step_index        = $4,
		    updated_at                = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, status, managerApprovalComplete, currentStepIndex).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("expense", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update expense workflow state")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type expenseScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row expenseScanner) (*Expense, error) {
	e := &Expense{}
	err := row.Scan(
		&e.ID,
		&e.CompanyID,
		&e.UserID,
		&e.CategoryID,
		&e.Description,
		&e.Amount,
		&e.Currency,
		&e.AmountInCompanyCurrency,
		&e.ExpenseDate,
		&e.PaidBy,
		&e.Remarks,
		&e.ReceiptURL,
		&e.Status,
		&e.ManagerApprovalComplete,
		&e.CurrentStepIndex,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ExpenseRepository) queryExpenses(ctx context.Context, query string, args ...any) ([]*Expense, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list expenses")
	}
	defer rows.Close()

	var expenses []*Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan expense")
		}
		expenses = append(expenses, e)
	}
	return expenses, nil
}

func prefixColumns(alias string) string {
	return alias + `.id, ` + alias + `.company_id, ` + alias + `.user_id, ` + alias + `.category_id, ` + alias + `.description,
		` + alias + `.amount, ` + alias + `.currency, ` + alias + `.amount_company_currency, ` + alias + `.expense_date,
		` + alias + `.paid_by, ` + alias + `.remarks, ` + alias + `.receipt_url,
		` + alias + `.status, ` + alias + `.manager_approval_complete, ` + alias + `.current_step_index,
		` + alias + `.created_at, ` + alias + `.updated_at`
}

