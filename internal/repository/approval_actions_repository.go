package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/database"
)

// ApprovalActionsRepository manages approval action rows. All mutations run
// inside the orchestrator's decision transaction, so every method takes the
// transaction explicitly.
type ApprovalActionsRepository struct {
	db *database.DB
}

// NewApprovalActionsRepository creates a new ApprovalActionsRepository.
func NewApprovalActionsRepository(db *database.DB) *ApprovalActionsRepository {
	return &ApprovalActionsRepository{db: db}
}

const actionColumns = `id, expense_id, approver_id, status, step_index, comments, created_at, updated_at`

// Create inserts one approval action. The unique index on
// (expense_id, approver_id, step_index) enforces at most one row per slot.
func (r *ApprovalActionsRepository) Create(ctx context.Context, tx pgx.Tx, a *ApprovalAction) error {
	a.ID = uuid.NewString()

	query := `
		INSERT INTO approval_actions (id, expense_id, approver_id, status, step_index, comments)
		VALUES ($1, $2, $3, $4::action_status, $5, $6)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		a.ID, a.ExpenseID, a.ApproverID, a.Status, a.StepIndex, a.Comments,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval action")
	}
	return nil
}

// GetPendingForApprover returns the approver's PENDING action on an expense,
// or nil when none exists.
func (r *ApprovalActionsRepository) GetPendingForApprover(ctx context.Context, tx pgx.Tx, expenseID, approverID string) (*ApprovalAction, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM approval_actions
		WHERE expense_id = $1
		  AND approver_id = $2
		  AND status = 'PENDING'::action_status
		ORDER BY step_index ASC
		LIMIT 1
		FOR UPDATE
	`

	a, err := scanAction(tx.QueryRow(ctx, query, expenseID, approverID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get pending action")
	}
	return a, nil
}

// Decide updates a PENDING action in place with the approver's decision.
// Exactly one row represents the decision afterwards.
func (r *ApprovalActionsRepository) Decide(ctx context.Context, tx pgx.Tx, id string, status ActionStatus, comments *string) error {
	query := `
		UPDATE approval_actions
		SET status     = $2::action_status,
		    comments   = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'PENDING'::action_status
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, status, comments).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.Conflict("approval action is no longer pending")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to record decision")
	}
	return nil
}

// ListApprovedForRules returns all APPROVED actions at workflow step indexes
// (manager-gate decisions at the sentinel index are excluded from rule math).
func (r *ApprovalActionsRepository) ListApprovedForRules(ctx context.Context, tx pgx.Tx, expenseID string) ([]*ApprovalAction, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM approval_actions
		WHERE expense_id = $1
		  AND status = 'APPROVED'::action_status
		  AND step_index >= 0
		ORDER BY step_index ASC, created_at ASC
	`

	rows, err := tx.Query(ctx, query, expenseID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list approved actions")
	}
	defer rows.Close()

	return scanActions(rows)
}

// ListAtStep returns all actions on an expense at one step index, regardless
// of status. Used for idempotent pending-slot seeding.
func (r *ApprovalActionsRepository) ListAtStep(ctx context.Context, tx pgx.Tx, expenseID string, stepIndex int) ([]*ApprovalAction, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM approval_actions
		WHERE expense_id = $1 AND step_index = $2
		ORDER BY created_at ASC
	`

	rows, err := tx.Query(ctx, query, expenseID, stepIndex)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list actions at step")
	}
	defer rows.Close()

	return scanActions(rows)
}

// ExistsForSlot reports whether any action already targets the
// (expense, approver, step index) slot.
func (r *ApprovalActionsRepository) ExistsForSlot(ctx context.Context, tx pgx.Tx, expenseID, approverID string, stepIndex int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM approval_actions
			WHERE expense_id = $1 AND approver_id = $2 AND step_index = $3
		)
	`

	var exists bool
	if err := tx.QueryRow(ctx, query, expenseID, approverID, stepIndex).Scan(&exists); err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeInternal, "failed to check action slot")
	}
	return exists, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type actionScanner interface {
	Scan(dest ...any) error
}

func scanAction(row actionScanner) (*ApprovalAction, error) {
	a := &ApprovalAction{}
	err := row.Scan(
		&a.ID,
		&a.ExpenseID,
		&a.ApproverID,
		&a.Status,
		&a.StepIndex,
		&a.Comments,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanActions(rows pgx.Rows) ([]*ApprovalAction, error) {
	var actions []*ApprovalAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval action")
		}
		actions = append(actions, a)
	}
	return actions, nil
}
