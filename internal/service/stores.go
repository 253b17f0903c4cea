package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/expenza/be-expenses/internal/repository"
)

// The workflow services depend on narrow store interfaces rather than the
// concrete repositories so the engine can be exercised against in-memory
// implementations. The repository types satisfy these directly.

// TxRunner runs a function inside a single database transaction. Every state
// mutation of one decision request happens inside one such scope.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ExpenseStore is the persistence surface for expenses.
type ExpenseStore interface {
	Create(ctx context.Context, tx pgx.Tx, e *repository.Expense) error
	GetByID(ctx context.Context, id, companyID string) (*repository.Expense, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id, companyID string) (*repository.Expense, error)
	List(ctx context.Context, companyID string, f repository.ExpenseFilter) ([]*repository.Expense, error)
	ListAwaitingManager(ctx context.Context, companyID, managerID string) ([]*repository.Expense, error)
	ListWithPendingAction(ctx context.Context, companyID, approverID string) ([]*repository.Expense, error)
	ListUnresolved(ctx context.Context, companyID string) ([]*repository.Expense, error)
	Update(ctx context.Context, e *repository.Expense) error
	Delete(ctx context.Context, id, companyID string) error
	UpdateWorkflowState(ctx context.Context, tx pgx.Tx, id string, status repository.ExpenseStatus, managerApprovalComplete bool, currentStepIndex int) error
}

// RuleStore is the persistence surface for approval rules. The workflow core
// treats rules as read-only configuration; CRUD is for the admin surface.
type RuleStore interface {
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	GetByID(ctx context.Context, id, companyID string) (*repository.ApprovalRule, error)
	List(ctx context.Context, companyID string) ([]*repository.ApprovalRule, error)
	ListActive(ctx context.Context, companyID string) ([]*repository.ApprovalRule, error)
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Delete(ctx context.Context, id, companyID string) error
}

// ActionStore is the persistence surface for approval actions.
type ActionStore interface {
	Create(ctx context.Context, tx pgx.Tx, a *repository.ApprovalAction) error
	GetPendingForApprover(ctx context.Context, tx pgx.Tx, expenseID, approverID string) (*repository.ApprovalAction, error)
	Decide(ctx context.Context, tx pgx.Tx, id string, status repository.ActionStatus, comments *string) error
	ListApprovedForRules(ctx context.Context, tx pgx.Tx, expenseID string) ([]*repository.ApprovalAction, error)
	ListAtStep(ctx context.Context, tx pgx.Tx, expenseID string, stepIndex int) ([]*repository.ApprovalAction, error)
	ExistsForSlot(ctx context.Context, tx pgx.Tx, expenseID, approverID string, stepIndex int) (bool, error)
}

// UserStore resolves identity records for authorization and display.
type UserStore interface {
	GetByID(ctx context.Context, id, companyID string) (*repository.User, error)
	GetNames(ctx context.Context, ids []string) (map[string]string, error)
}

// CompanyStore resolves the tenant record, in particular its base currency.
type CompanyStore interface {
	GetByID(ctx context.Context, id string) (*repository.Company, error)
}

// Notifier publishes workflow events to the external notification service.
// Implementations must be fire-and-forget: failures are logged, never
// returned, so they cannot fail a workflow transaction.
type Notifier interface {
	PublishExpenseEvent(ctx context.Context, eventType, expenseID, companyID, actorID string, recipients []string, payload map[string]any)
}

// CurrencyConverter converts an amount between currencies.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// Actor is the authenticated caller, supplied by the external auth layer.
type Actor struct {
	ID        string
	CompanyID string
	Role      repository.Role
}
