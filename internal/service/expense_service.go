package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
)

// ExpenseService handles expense submission and lifecycle outside the
// approval decision path.
type ExpenseService struct {
	txRunner  TxRunner
	expenses  ExpenseStore
	rules     RuleStore
	users     UserStore
	companies CompanyStore
	workflow  *WorkflowService
	currency  CurrencyConverter
	notifier  Notifier
	log       *logger.Logger
}

// NewExpenseService creates a new ExpenseService.
func NewExpenseService(
	txRunner TxRunner,
	expenses ExpenseStore,
	rules RuleStore,
	users UserStore,
	companies CompanyStore,
	workflow *WorkflowService,
	currency CurrencyConverter,
	notifier Notifier,
	log *logger.Logger,
) *ExpenseService {
	return &ExpenseService{
		txRunner:  txRunner,
		expenses:  expenses,
		rules:     rules,
		users:     users,
		companies: companies,
		workflow:  workflow,
		currency:  currency,
		notifier:  notifier,
		log:       log,
	}
}

// CreateExpenseRequest is a submitted expense claim.
type CreateExpenseRequest struct {
	Description string
	Amount      decimal.Decimal
	Currency    string
	ExpenseDate string
	CategoryID  *string
	PaidBy      *string
	Remarks     *string
	ReceiptURL  *string
}

// UpdateExpenseRequest edits a still-unprocessed expense. Nil fields keep
// their current values.
type UpdateExpenseRequest struct {
	Description *string
	Amount      *decimal.Decimal
	Currency    *string
	ExpenseDate *string
	CategoryID  *string
	PaidBy      *string
	Remarks     *string
	ReceiptURL  *string
}

// Create validates and persists a new expense. Expenses from owners with a
// manager-approver flag start at the manager gate; everyone else's enter the
// approval workflow immediately, with pending slots seeded from the active
// rule set.
func (s *ExpenseService) Create(ctx context.Context, actor Actor, req *CreateExpenseRequest) (*repository.Expense, error) {
	if req.Description == "" {
		return nil, apperrors.InvalidInput("description", "description is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.InvalidInput("amount", "amount must be positive")
	}
	if len(req.Currency) != 3 {
		return nil, apperrors.InvalidInput("currency", "currency must be a 3-letter ISO code")
	}
	expenseDate, err := time.Parse("2006-01-02", req.ExpenseDate)
	if err != nil {
		return nil, apperrors.InvalidInput("expense_date", "invalid date format, expected YYYY-MM-DD")
	}

	owner, err := s.users.GetByID(ctx, actor.ID, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	company, err := s.companies.GetByID(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	converted := s.convertToCompanyCurrency(ctx, req.Amount, req.Currency, company.Currency)

	expense := &repository.Expense{
		CompanyID:               actor.CompanyID,
		UserID:                  actor.ID,
		CategoryID:              req.CategoryID,
		Description:             req.Description,
		Amount:                  req.Amount,
		Currency:                req.Currency,
		AmountInCompanyCurrency: converted,
		ExpenseDate:             expenseDate,
		PaidBy:                  req.PaidBy,
		Remarks:                 req.Remarks,
		ReceiptURL:              req.ReceiptURL,
	}

	gate := owner.RequiresManagerGate()
	if gate {
		expense.Status = repository.ExpensePending
		expense.ManagerApprovalComplete = false
		expense.CurrentStepIndex = repository.ManagerGateStepIndex
	} else {
		expense.Status = repository.ExpenseInProgress
		expense.ManagerApprovalComplete = true
		expense.CurrentStepIndex = 0
	}

	var seeded []string
	err = s.txRunner.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.expenses.Create(ctx, tx, expense); err != nil {
			return err
		}
		if gate {
			return nil
		}
		rules, err := s.rules.ListActive(ctx, actor.CompanyID)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			return nil
		}
		seeded, err = s.workflow.InitializeWorkflow(ctx, tx, expense.ID, rules)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		recipients := seeded
		if gate {
			recipients = []string{*owner.ManagerID}
		}
		if len(recipients) > 0 {
			s.notifier.PublishExpenseEvent(ctx, eventApprovalRequired,
				expense.ID, expense.CompanyID, actor.ID, recipients,
				map[string]any{"description": expense.Description})
		}
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Str("user_id", actor.ID).
		Str("currency", expense.Currency).
		Bool("manager_gate", gate).
		Msg("Expense created")

	return expense, nil
}

// Get retrieves an expense with its approval actions. Employees may only
// read their own.
func (s *ExpenseService) Get(ctx context.Context, actor Actor, id string) (*repository.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, id, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	if actor.Role == repository.RoleEmployee && expense.UserID != actor.ID {
		return nil, apperrors.Forbidden("employees can only view their own expenses")
	}
	return expense, nil
}

// List returns expenses for the company. Employees are scoped to their own
// regardless of the filter.
func (s *ExpenseService) List(ctx context.Context, actor Actor, f repository.ExpenseFilter) ([]*repository.Expense, error) {
	if actor.Role == repository.RoleEmployee {
		f.UserID = &actor.ID
	}
	return s.expenses.List(ctx, actor.CompanyID, f)
}

// Update edits an expense that has not yet entered processing. Only the
// owner may edit, and only while the status is still PENDING.
func (s *ExpenseService) Update(ctx context.Context, actor Actor, id string, req *UpdateExpenseRequest) (*repository.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, id, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	if expense.UserID != actor.ID {
		return nil, apperrors.Forbidden("only the expense owner can edit it")
	}
	if expense.Status != repository.ExpensePending {
		return nil, apperrors.Conflict("cannot update an expense that is being processed or completed")
	}

	if req.Description != nil {
		if *req.Description == "" {
			return nil, apperrors.InvalidInput("description", "description is required")
		}
		expense.Description = *req.Description
	}
	if req.ExpenseDate != nil {
		d, err := time.Parse("2006-01-02", *req.ExpenseDate)
		if err != nil {
			return nil, apperrors.InvalidInput("expense_date", "invalid date format, expected YYYY-MM-DD")
		}
		expense.ExpenseDate = d
	}
	if req.CategoryID != nil {
		expense.CategoryID = req.CategoryID
	}
	if req.PaidBy != nil {
		expense.PaidBy = req.PaidBy
	}
	if req.Remarks != nil {
		expense.Remarks = req.Remarks
	}
	if req.ReceiptURL != nil {
		expense.ReceiptURL = req.ReceiptURL
	}

	if req.Amount != nil || req.Currency != nil {
		if req.Amount != nil {
			if !req.Amount.IsPositive() {
				return nil, apperrors.InvalidInput("amount", "amount must be positive")
			}
			expense.Amount = *req.Amount
		}
		if req.Currency != nil {
			if len(*req.Currency) != 3 {
				return nil, apperrors.InvalidInput("currency", "currency must be a 3-letter ISO code")
			}
			expense.Currency = *req.Currency
		}
		company, err := s.companies.GetByID(ctx, actor.CompanyID)
		if err != nil {
			return nil, err
		}
		expense.AmountInCompanyCurrency = s.convertToCompanyCurrency(ctx, expense.Amount, expense.Currency, company.Currency)
	}

	if err := s.expenses.Update(ctx, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

// Delete removes an expense that has not yet entered processing.
func (s *ExpenseService) Delete(ctx context.Context, actor Actor, id string) error {
	expense, err := s.expenses.GetByID(ctx, id, actor.CompanyID)
	if err != nil {
		return err
	}
	if expense.UserID != actor.ID {
		return apperrors.Forbidden("only the expense owner can delete it")
	}
	if expense.Status != repository.ExpensePending {
		return apperrors.Conflict("cannot delete an expense that is being processed or completed")
	}
	return s.expenses.Delete(ctx, id, actor.CompanyID)
}

// convertToCompanyCurrency converts the claim amount into the company's base
// currency. Conversion failures fall back to the raw amount so a rate-API
// outage never blocks submission.
func (s *ExpenseService) convertToCompanyCurrency(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	if from == to || s.currency == nil {
		return amount
	}
	converted, err := s.currency.Convert(ctx, amount, from, to)
	if err != nil {
		s.log.Warn().Err(err).
			Str("from", from).
			Str("to", to).
			Msg("Currency conversion failed, storing unconverted amount")
		return amount
	}
	return converted
}
