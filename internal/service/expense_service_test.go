package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/repository"
)

type fakeConverter struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return amount.Mul(f.rate), nil
}

type expenseFixture struct {
	*workflowFixture
	svc       *ExpenseService
	converter *fakeConverter
}

func newExpenseFixture() *expenseFixture {
	wf := newWorkflowFixture()
	conv := &fakeConverter{rate: decimal.NewFromInt(2)}
	companies := &fakeCompanyStore{companies: map[string]*repository.Company{
		testCompany: {ID: testCompany, Name: "Acme", Country: "US", Currency: "USD"},
	}}
	svc := NewExpenseService(&fakeTxRunner{}, wf.expenses, wf.rules, wf.users, companies,
		wf.svc, conv, wf.notifier, testLogger())
	return &expenseFixture{workflowFixture: wf, svc: svc, converter: conv}
}

func validRequest() *CreateExpenseRequest {
	return &CreateExpenseRequest{
		Description: "client dinner",
		Amount:      decimal.NewFromInt(120),
		Currency:    "USD",
		ExpenseDate: "2026-08-12",
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	f := newExpenseFixture()
	emp := actor("plain", repository.RoleEmployee)

	cases := []struct {
		name   string
		mutate func(*CreateExpenseRequest)
	}{
		{"empty description", func(r *CreateExpenseRequest) { r.Description = "" }},
		{"zero amount", func(r *CreateExpenseRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *CreateExpenseRequest) { r.Amount = decimal.NewFromInt(-5) }},
		{"bad currency", func(r *CreateExpenseRequest) { r.Currency = "DOLLARS" }},
		{"bad date", func(r *CreateExpenseRequest) { r.ExpenseDate = "12/08/2026" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			_, err := f.svc.Create(context.Background(), emp, req)
			if apperrors.CodeOf(err) != apperrors.CodeInvalidInput {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestCreateExpenseWithManagerGate(t *testing.T) {
	f := newExpenseFixture()

	expense, err := f.svc.Create(context.Background(), actor("emp", repository.RoleEmployee), validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if expense.Status != repository.ExpensePending {
		t.Fatalf("gated expense must start PENDING, got %s", expense.Status)
	}
	if expense.ManagerApprovalComplete {
		t.Fatal("gated expense must not have the gate cleared")
	}
	if expense.CurrentStepIndex != repository.ManagerGateStepIndex {
		t.Fatalf("gated expense must sit at the sentinel step, got %d", expense.CurrentStepIndex)
	}
	if len(f.actions.actions) != 0 {
		t.Fatalf("no workflow slots before the gate clears, got %d", len(f.actions.actions))
	}

	// The owner's manager is notified.
	last := f.notifier.events[len(f.notifier.events)-1]
	if last.eventType != eventApprovalRequired || len(last.recipients) != 1 || last.recipients[0] != "mgr" {
		t.Fatalf("expected approval_required to the manager, got %+v", last)
	}
}

func TestCreateExpenseWithoutGateSeedsWorkflow(t *testing.T) {
	f := newExpenseFixture()
	f.addRule(&repository.ApprovalRule{
		Name:               "half",
		RuleType:           repository.RulePercentage,
		PercentageRequired: intptr(50),
		Steps:              steps("alice", "bob"),
	})

	expense, err := f.svc.Create(context.Background(), actor("plain", repository.RoleEmployee), validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if expense.Status != repository.ExpenseInProgress || !expense.ManagerApprovalComplete {
		t.Fatalf("ungated expense must enter the workflow directly, got %+v", expense)
	}
	if pending := f.actions.pendingFor(expense.ID); len(pending) != 2 {
		t.Fatalf("expected both step approvers seeded, got %v", pending)
	}
}

func TestCreateExpenseConvertsCurrency(t *testing.T) {
	f := newExpenseFixture()

	req := validRequest()
	req.Currency = "EUR"
	expense, err := f.svc.Create(context.Background(), actor("plain", repository.RoleEmployee), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := req.Amount.Mul(decimal.NewFromInt(2))
	if !expense.AmountInCompanyCurrency.Equal(want) {
		t.Fatalf("converted amount = %s, want %s", expense.AmountInCompanyCurrency, want)
	}
}

func TestCreateExpenseConversionFailureFallsBack(t *testing.T) {
	f := newExpenseFixture()
	f.converter.err = apperrors.New(apperrors.CodeInternal, "rate api down")

	req := validRequest()
	req.Currency = "EUR"
	expense, err := f.svc.Create(context.Background(), actor("plain", repository.RoleEmployee), req)
	if err != nil {
		t.Fatalf("a rate outage must not block submission: %v", err)
	}
	if !expense.AmountInCompanyCurrency.Equal(req.Amount) {
		t.Fatalf("expected the raw amount stored, got %s", expense.AmountInCompanyCurrency)
	}
}

func TestGetExpenseScopesEmployees(t *testing.T) {
	f := newExpenseFixture()
	e := f.expenses.put(&repository.Expense{
		CompanyID: testCompany, UserID: "emp", Status: repository.ExpensePending,
	})

	if _, err := f.svc.Get(context.Background(), actor("emp", repository.RoleEmployee), e.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), actor("plain", repository.RoleEmployee), e.ID); apperrors.CodeOf(err) != apperrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for another employee, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), actor("mgr", repository.RoleManager), e.ID); err != nil {
		t.Fatalf("manager read: %v", err)
	}
}

func TestUpdateExpenseOnlyWhilePending(t *testing.T) {
	f := newExpenseFixture()
	e := f.expenses.put(&repository.Expense{
		CompanyID: testCompany, UserID: "emp", Status: repository.ExpenseInProgress,
	})

	_, err := f.svc.Update(context.Background(), actor("emp", repository.RoleEmployee), e.ID,
		&UpdateExpenseRequest{Description: strptr("edited")})
	if apperrors.CodeOf(err) != apperrors.CodeConflict {
		t.Fatalf("expected CONFLICT for a processed expense, got %v", err)
	}
}

func TestDeleteExpenseOwnerOnly(t *testing.T) {
	f := newExpenseFixture()
	e := f.expenses.put(&repository.Expense{
		CompanyID: testCompany, UserID: "emp", Status: repository.ExpensePending,
	})

	if err := f.svc.Delete(context.Background(), actor("plain", repository.RoleEmployee), e.ID); apperrors.CodeOf(err) != apperrors.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for a non-owner, got %v", err)
	}
	if err := f.svc.Delete(context.Background(), actor("emp", repository.RoleEmployee), e.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := f.expenses.GetByID(context.Background(), e.ID, testCompany); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatal("expected the expense removed")
	}
}

func TestListScopesEmployeesToOwnExpenses(t *testing.T) {
	f := newExpenseFixture()
	f.expenses.put(&repository.Expense{CompanyID: testCompany, UserID: "emp", Status: repository.ExpensePending})
	f.expenses.put(&repository.Expense{CompanyID: testCompany, UserID: "plain", Status: repository.ExpensePending})

	mine, err := f.svc.List(context.Background(), actor("emp", repository.RoleEmployee), repository.ExpenseFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 1 || mine[0].UserID != "emp" {
		t.Fatalf("employee must only see their own expenses, got %d", len(mine))
	}

	all, err := f.svc.List(context.Background(), actor("mgr", repository.RoleManager), repository.ExpenseFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("manager must see the company's expenses, got %d", len(all))
	}
}
