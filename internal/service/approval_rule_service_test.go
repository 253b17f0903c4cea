package service

import (
	"context"
	"testing"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/repository"
)

func newRuleServiceFixture() (*ApprovalRuleService, *fakeRuleStore) {
	users := &fakeUserStore{users: map[string]*repository.User{
		"alice": {ID: "alice", CompanyID: testCompany, Name: "Alice"},
		"bob":   {ID: "bob", CompanyID: testCompany, Name: "Bob"},
	}}
	rules := &fakeRuleStore{}
	return NewApprovalRuleService(rules, users, testLogger()), rules
}

func TestCreateRuleValidation(t *testing.T) {
	svc, _ := newRuleServiceFixture()
	admin := actor("admin", repository.RoleAdmin)

	cases := []struct {
		name string
		req  *RuleRequest
	}{
		{"missing name", &RuleRequest{
			RuleType: repository.RuleSequential, StepApproverIDs: []string{"alice"},
		}},
		{"unknown type", &RuleRequest{
			Name: "r", RuleType: repository.RuleType("RANDOM"),
		}},
		{"percentage without threshold", &RuleRequest{
			Name: "r", RuleType: repository.RulePercentage, StepApproverIDs: []string{"alice"},
		}},
		{"percentage above 100", &RuleRequest{
			Name: "r", RuleType: repository.RulePercentage,
			PercentageRequired: intptr(150), StepApproverIDs: []string{"alice"},
		}},
		{"specific without approver", &RuleRequest{
			Name: "r", RuleType: repository.RuleSpecificApprover,
		}},
		{"specific approver unknown", &RuleRequest{
			Name: "r", RuleType: repository.RuleSpecificApprover, SpecificApproverID: strptr("ghost"),
		}},
		{"sequential without steps", &RuleRequest{
			Name: "r", RuleType: repository.RuleSequential,
		}},
		{"unknown step approver", &RuleRequest{
			Name: "r", RuleType: repository.RuleSequential, StepApproverIDs: []string{"alice", "ghost"},
		}},
		{"duplicate step approver", &RuleRequest{
			Name: "r", RuleType: repository.RuleSequential, StepApproverIDs: []string{"alice", "alice"},
		}},
		{"hybrid missing designee", &RuleRequest{
			Name: "r", RuleType: repository.RuleHybrid,
			PercentageRequired: intptr(50), StepApproverIDs: []string{"alice"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), admin, tc.req)
			if apperrors.CodeOf(err) != apperrors.CodeInvalidInput {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestCreateRuleAssignsSequences(t *testing.T) {
	svc, store := newRuleServiceFixture()

	rule, err := svc.Create(context.Background(), actor("admin", repository.RoleAdmin), &RuleRequest{
		Name:            "chain",
		RuleType:        repository.RuleSequential,
		Priority:        5,
		IsActive:        true,
		StepApproverIDs: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(rule.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(rule.Steps))
	}
	for i, step := range rule.Steps {
		if step.Sequence != i+1 {
			t.Fatalf("step %d has sequence %d", i, step.Sequence)
		}
	}
	if rule.CompanyID != testCompany {
		t.Fatalf("rule must carry the actor's company, got %s", rule.CompanyID)
	}
	if len(store.rules) != 1 {
		t.Fatalf("expected the rule persisted, got %d", len(store.rules))
	}
}

func TestUpdateRuleReplacesSteps(t *testing.T) {
	svc, _ := newRuleServiceFixture()
	admin := actor("admin", repository.RoleAdmin)

	created, err := svc.Create(context.Background(), admin, &RuleRequest{
		Name:            "chain",
		RuleType:        repository.RuleSequential,
		IsActive:        true,
		StepApproverIDs: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := svc.Update(context.Background(), admin, created.ID, &RuleRequest{
		Name:            "chain",
		RuleType:        repository.RuleSequential,
		IsActive:        true,
		StepApproverIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(updated.Steps) != 1 || updated.Steps[0].ApproverID != "bob" {
		t.Fatalf("expected steps replaced wholesale, got %+v", updated.Steps)
	}
}
