package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
)

// In-memory store implementations used to exercise the workflow engine
// without a database. Transaction-scoped methods accept a nil tx.

type fakeTxRunner struct{}

func (f *fakeTxRunner) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeExpenseStore struct {
	expenses map[string]*repository.Expense
	nextID   int
}

func newFakeExpenseStore() *fakeExpenseStore {
	return &fakeExpenseStore{expenses: make(map[string]*repository.Expense)}
}

func (f *fakeExpenseStore) put(e *repository.Expense) *repository.Expense {
	if e.ID == "" {
		f.nextID++
		e.ID = fmt.Sprintf("exp-%d", f.nextID)
	}
	f.expenses[e.ID] = e
	return e
}

func (f *fakeExpenseStore) Create(ctx context.Context, tx pgx.Tx, e *repository.Expense) error {
	f.put(e)
	return nil
}

func (f *fakeExpenseStore) GetByID(ctx context.Context, id, companyID string) (*repository.Expense, error) {
	e, ok := f.expenses[id]
	if !ok || e.CompanyID != companyID {
		return nil, apperrors.NotFound("expense", id)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExpenseStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id, companyID string) (*repository.Expense, error) {
	return f.GetByID(ctx, id, companyID)
}

func (f *fakeExpenseStore) List(ctx context.Context, companyID string, filter repository.ExpenseFilter) ([]*repository.Expense, error) {
	var out []*repository.Expense
	for _, e := range f.expenses {
		if e.CompanyID != companyID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.UserID != nil && e.UserID != *filter.UserID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeExpenseStore) ListAwaitingManager(ctx context.Context, companyID, managerID string) ([]*repository.Expense, error) {
	var out []*repository.Expense
	for _, e := range f.expenses {
		if e.CompanyID == companyID && e.Status == repository.ExpensePending && !e.ManagerApprovalComplete {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExpenseStore) ListWithPendingAction(ctx context.Context, companyID, approverID string) ([]*repository.Expense, error) {
	return nil, nil
}

func (f *fakeExpenseStore) ListUnresolved(ctx context.Context, companyID string) ([]*repository.Expense, error) {
	var out []*repository.Expense
	for _, e := range f.expenses {
		if e.CompanyID == companyID && !e.Status.Terminal() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExpenseStore) Update(ctx context.Context, e *repository.Expense) error {
	if _, ok := f.expenses[e.ID]; !ok {
		return apperrors.NotFound("expense", e.ID)
	}
	f.expenses[e.ID] = e
	return nil
}

func (f *fakeExpenseStore) Delete(ctx context.Context, id, companyID string) error {
	delete(f.expenses, id)
	return nil
}

func (f *fakeExpenseStore) UpdateWorkflowState(ctx context.Context, tx pgx.Tx, id string, status repository.ExpenseStatus, managerApprovalComplete bool, currentStepIndex int) error {
	e, ok := f.expenses[id]
	if !ok {
		return apperrors.NotFound("expense", id)
	}
	e.Status = status
	e.ManagerApprovalComplete = managerApprovalComplete
	e.CurrentStepIndex = currentStepIndex
	return nil
}

type fakeRuleStore struct {
	rules []*repository.ApprovalRule
}

func (f *fakeRuleStore) Create(ctx context.Context, rule *repository.ApprovalRule) error {
	rule.ID = fmt.Sprintf("rule-%d", len(f.rules)+1)
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeRuleStore) GetByID(ctx context.Context, id, companyID string) (*repository.ApprovalRule, error) {
	for _, r := range f.rules {
		if r.ID == id && r.CompanyID == companyID {
			return r, nil
		}
	}
	return nil, apperrors.NotFound("approval rule", id)
}

func (f *fakeRuleStore) List(ctx context.Context, companyID string) ([]*repository.ApprovalRule, error) {
	return f.listBy(companyID, false), nil
}

func (f *fakeRuleStore) ListActive(ctx context.Context, companyID string) ([]*repository.ApprovalRule, error) {
	return f.listBy(companyID, true), nil
}

func (f *fakeRuleStore) listBy(companyID string, activeOnly bool) []*repository.ApprovalRule {
	var out []*repository.ApprovalRule
	for _, r := range f.rules {
		if r.CompanyID != companyID {
			continue
		}
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (f *fakeRuleStore) Update(ctx context.Context, rule *repository.ApprovalRule) error {
	for i, r := range f.rules {
		if r.ID == rule.ID {
			f.rules[i] = rule
			return nil
		}
	}
	return apperrors.NotFound("approval rule", rule.ID)
}

func (f *fakeRuleStore) Delete(ctx context.Context, id, companyID string) error {
	for i, r := range f.rules {
		if r.ID == id && r.CompanyID == companyID {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("approval rule", id)
}

type fakeActionStore struct {
	actions []*repository.ApprovalAction
	nextID  int
}

func (f *fakeActionStore) Create(ctx context.Context, tx pgx.Tx, a *repository.ApprovalAction) error {
	f.nextID++
	a.ID = fmt.Sprintf("act-%d", f.nextID)
	cp := *a
	f.actions = append(f.actions, &cp)
	return nil
}

func (f *fakeActionStore) GetPendingForApprover(ctx context.Context, tx pgx.Tx, expenseID, approverID string) (*repository.ApprovalAction, error) {
	for _, a := range f.actions {
		if a.ExpenseID == expenseID && a.ApproverID == approverID && a.Status == repository.ActionPending {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeActionStore) Decide(ctx context.Context, tx pgx.Tx, id string, status repository.ActionStatus, comments *string) error {
	for _, a := range f.actions {
		if a.ID == id && a.Status == repository.ActionPending {
			a.Status = status
			a.Comments = comments
			return nil
		}
	}
	return apperrors.Conflict("approval action is no longer pending")
}

func (f *fakeActionStore) ListApprovedForRules(ctx context.Context, tx pgx.Tx, expenseID string) ([]*repository.ApprovalAction, error) {
	var out []*repository.ApprovalAction
	for _, a := range f.actions {
		if a.ExpenseID == expenseID && a.Status == repository.ActionApproved && a.StepIndex >= 0 {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeActionStore) ListAtStep(ctx context.Context, tx pgx.Tx, expenseID string, stepIndex int) ([]*repository.ApprovalAction, error) {
	var out []*repository.ApprovalAction
	for _, a := range f.actions {
		if a.ExpenseID == expenseID && a.StepIndex == stepIndex {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeActionStore) ExistsForSlot(ctx context.Context, tx pgx.Tx, expenseID, approverID string, stepIndex int) (bool, error) {
	for _, a := range f.actions {
		if a.ExpenseID == expenseID && a.ApproverID == approverID && a.StepIndex == stepIndex {
			return true, nil
		}
	}
	return false, nil
}

// pendingFor returns the approver ids holding a PENDING action on the expense.
func (f *fakeActionStore) pendingFor(expenseID string) []string {
	var out []string
	for _, a := range f.actions {
		if a.ExpenseID == expenseID && a.Status == repository.ActionPending {
			out = append(out, a.ApproverID)
		}
	}
	return out
}

type fakeUserStore struct {
	users map[string]*repository.User
}

func (f *fakeUserStore) GetByID(ctx context.Context, id, companyID string) (*repository.User, error) {
	u, ok := f.users[id]
	if !ok || u.CompanyID != companyID {
		return nil, apperrors.NotFound("user", id)
	}
	return u, nil
}

func (f *fakeUserStore) GetNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			names[id] = u.Name
		}
	}
	return names, nil
}

type fakeCompanyStore struct {
	companies map[string]*repository.Company
}

func (f *fakeCompanyStore) GetByID(ctx context.Context, id string) (*repository.Company, error) {
	c, ok := f.companies[id]
	if !ok {
		return nil, apperrors.NotFound("company", id)
	}
	return c, nil
}

type publishedEvent struct {
	eventType  string
	expenseID  string
	recipients []string
}

type fakeNotifier struct {
	events []publishedEvent
}

func (f *fakeNotifier) PublishExpenseEvent(ctx context.Context, eventType, expenseID, companyID, actorID string, recipients []string, payload map[string]any) {
	f.events = append(f.events, publishedEvent{eventType: eventType, expenseID: expenseID, recipients: recipients})
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Environment: "test"})
}

func strptr(s string) *string { return &s }

func intptr(i int) *int { return &i }
