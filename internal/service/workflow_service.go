package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
)

// workflowState is the explicit state of an expense within the approval
// state machine, derived from the persisted row. The status field alone is
// not enough: AWAITING_MANAGER and IN_WORKFLOW both appear as non-terminal
// statuses and differ only in whether the manager gate has cleared.
type workflowState int

const (
	stateAwaitingManager workflowState = iota
	stateInWorkflow
	stateTerminal
)

func deriveState(e *repository.Expense, owner *repository.User) workflowState {
	if e.Status.Terminal() {
		return stateTerminal
	}
	if !e.ManagerApprovalComplete && owner.RequiresManagerGate() {
		return stateAwaitingManager
	}
	return stateInWorkflow
}

// Resolution describes how a decision request left the expense.
type Resolution string

const (
	ResolutionApproved  Resolution = "approved"
	ResolutionRejected  Resolution = "rejected"
	ResolutionForwarded Resolution = "forwarded"
	ResolutionWaiting   Resolution = "waiting"
)

// DecisionResult is the outcome of processing one approval decision.
type DecisionResult struct {
	Resolution Resolution
	Reason     string
	Expense    *repository.Expense

	// notifyApprovers carries the approver ids that gained a pending slot,
	// for the post-commit notification.
	notifyApprovers []string
}

// Notification event types published on workflow transitions.
const (
	eventExpenseApproved  = "expense_approved"
	eventExpenseRejected  = "expense_rejected"
	eventApprovalRequired = "approval_required"
)

// WorkflowService is the approval workflow orchestrator: it sequences the
// manager gate, rule evaluation, step advancement, and terminal transitions.
// All state mutations for one decision request execute inside a single
// transaction with a row lock on the expense, so concurrent decisions against
// the same expense serialize.
type WorkflowService struct {
	txRunner  TxRunner
	expenses  ExpenseStore
	rules     RuleStore
	actions   ActionStore
	users     UserStore
	evaluator *RuleEvaluator
	notifier  Notifier
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	txRunner TxRunner,
	expenses ExpenseStore,
	rules RuleStore,
	actions ActionStore,
	users UserStore,
	evaluator *RuleEvaluator,
	notifier Notifier,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		txRunner:  txRunner,
		expenses:  expenses,
		rules:     rules,
		actions:   actions,
		users:     users,
		evaluator: evaluator,
		notifier:  notifier,
		log:       log,
	}
}

// ProcessDecision handles one incoming approval decision. It authorizes the
// actor, records the decision, and resolves or advances the workflow.
func (s *WorkflowService) ProcessDecision(
	ctx context.Context,
	actor Actor,
	expenseID string,
	status repository.ActionStatus,
	comments *string,
) (*DecisionResult, error) {
	if status != repository.ActionApproved && status != repository.ActionRejected {
		return nil, apperrors.InvalidInput("status", "must be APPROVED or REJECTED")
	}

	var result *DecisionResult
	err := s.txRunner.InTransaction(ctx, func(tx pgx.Tx) error {
		expense, err := s.expenses.GetForUpdate(ctx, tx, expenseID, actor.CompanyID)
		if err != nil {
			return err
		}

		owner, err := s.users.GetByID(ctx, expense.UserID, actor.CompanyID)
		if err != nil {
			return err
		}

		switch deriveState(expense, owner) {
		case stateTerminal:
			return apperrors.Conflict(
				fmt.Sprintf("expense is already %s and accepts no further decisions", expense.Status))
		case stateAwaitingManager:
			result, err = s.processManagerGate(ctx, tx, expense, owner, actor, status, comments)
			return err
		default:
			result, err = s.processWorkflowDecision(ctx, tx, expense, owner, actor, status, comments)
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	s.publishResult(ctx, actor, result)

	// Return the committed snapshot.
	updated, err := s.expenses.GetByID(ctx, expenseID, actor.CompanyID)
	if err == nil {
		result.Expense = updated
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Str("actor_id", actor.ID).
		Str("decision", string(status)).
		Str("resolution", string(result.Resolution)).
		Msg("Approval decision processed")

	return result, nil
}

// processManagerGate handles a decision while the manager gate is open.
// Only the owner's manager or an admin may act; the manager's decision is
// always recorded as a fresh action at the sentinel step index.
func (s *WorkflowService) processManagerGate(
	ctx context.Context,
	tx pgx.Tx,
	expense *repository.Expense,
	owner *repository.User,
	actor Actor,
	status repository.ActionStatus,
	comments *string,
) (*DecisionResult, error) {
	isOwnerManager := owner.ManagerID != nil && *owner.ManagerID == actor.ID
	isAdmin := actor.Role == repository.RoleAdmin
	if !isOwnerManager && !isAdmin {
		return nil, apperrors.Forbidden("the expense owner's manager must approve first")
	}

	action := &repository.ApprovalAction{
		ExpenseID:  expense.ID,
		ApproverID: actor.ID,
		Status:     status,
		StepIndex:  repository.ManagerGateStepIndex,
		Comments:   comments,
	}
	if err := s.actions.Create(ctx, tx, action); err != nil {
		return nil, err
	}

	if status == repository.ActionRejected {
		if err := s.expenses.UpdateWorkflowState(ctx, tx, expense.ID,
			repository.ExpenseRejected, expense.ManagerApprovalComplete, expense.CurrentStepIndex); err != nil {
			return nil, err
		}
		return &DecisionResult{
			Resolution: ResolutionRejected,
			Reason:     "rejected at the manager gate",
			Expense:    expense,
		}, nil
	}

	// Gate cleared. Either auto-approve (no rules) or enter the workflow.
	rules, err := s.rules.ListActive(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		if err := s.expenses.UpdateWorkflowState(ctx, tx, expense.ID,
			repository.ExpenseApproved, true, 0); err != nil {
			return nil, err
		}
		return &DecisionResult{
			Resolution: ResolutionApproved,
			Reason:     "manager approved; no approval rules configured",
			Expense:    expense,
		}, nil
	}

	if err := s.expenses.UpdateWorkflowState(ctx, tx, expense.ID,
		repository.ExpenseInProgress, true, 0); err != nil {
		return nil, err
	}

	seeded, err := s.InitializeWorkflow(ctx, tx, expense.ID, rules)
	if err != nil {
		return nil, err
	}

	return &DecisionResult{
		Resolution:      ResolutionForwarded,
		Reason:          "manager approved; forwarded to the approval workflow",
		Expense:         expense,
		notifyApprovers: seeded,
	}, nil
}

// processWorkflowDecision handles a decision after the manager gate has
// cleared (or was never required).
func (s *WorkflowService) processWorkflowDecision(
	ctx context.Context,
	tx pgx.Tx,
	expense *repository.Expense,
	owner *repository.User,
	actor Actor,
	status repository.ActionStatus,
	comments *string,
) (*DecisionResult, error) {
	pending, err := s.actions.GetPendingForApprover(ctx, tx, expense.ID, actor.ID)
	if err != nil {
		return nil, err
	}

	isOwnerManager := owner.ManagerID != nil && *owner.ManagerID == actor.ID
	isAdmin := actor.Role == repository.RoleAdmin
	if pending == nil && !isOwnerManager && !isAdmin {
		return nil, apperrors.Forbidden("you have no pending approval for this expense")
	}

	if err := s.recordDecision(ctx, tx, expense, actor.ID, pending, status, comments); err != nil {
		return nil, err
	}

	if status == repository.ActionRejected {
		if err := s.expenses.UpdateWorkflowState(ctx, tx, expense.ID,
			repository.ExpenseRejected, expense.ManagerApprovalComplete, expense.CurrentStepIndex); err != nil {
			return nil, err
		}
		return &DecisionResult{
			Resolution: ResolutionRejected,
			Reason:     "rejected by an approver",
			Expense:    expense,
		}, nil
	}

	rules, err := s.rules.ListActive(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		if err := s.expenses.UpdateWorkflowState(ctx, tx, expense.ID,
			repository.ExpenseApproved, expense.ManagerApprovalComplete, expense.CurrentStepIndex); err != nil {
			return nil, err
		}
		return &DecisionResult{
			Resolution: ResolutionApproved,
			Reason:     "no approval rules configured",
			Expense:    expense,
		}, nil
	}

	approvedActions, err := s.actions.ListApprovedForRules(ctx, tx, expense.ID)
	if err != nil {
		return nil, err
	}
	approvedSet := make(map[string]struct{}, len(approvedActions))
	for _, a := range approvedActions {
		approvedSet[a.ApproverID] = struct{}{}
	}

	outcome := s.evaluator.Evaluate(approvedSet, rules)
	if outcome.Approved {
		if err := s.expenses.UpdateWorkflowState(ctx, tx, expense.ID,
			repository.ExpenseApproved, expense.ManagerApprovalComplete, expense.CurrentStepIndex); err != nil {
			return nil, err
		}
		return &DecisionResult{
			Resolution: ResolutionApproved,
			Reason:     outcome.Reason,
			Expense:    expense,
		}, nil
	}

	// Not satisfied yet. A sequential rule may hand the expense to its next
	// approver in chain order; otherwise we wait for more approvals.
	if result, ok, err := s.advanceSequential(ctx, tx, expense, rules); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	return &DecisionResult{
		Resolution: ResolutionWaiting,
		Reason:     "approval recorded, waiting for more approvals",
		Expense:    expense,
	}, nil
}

// recordDecision persists one approver's decision. A held PENDING action is
// updated in place; otherwise (admin override) a fresh decided action is
// created at the expense's current step index.
func (s *WorkflowService) recordDecision(
	ctx context.Context,
	tx pgx.Tx,
	expense *repository.Expense,
	approverID string,
	pending *repository.ApprovalAction,
	status repository.ActionStatus,
	comments *string,
) error {
	if pending != nil {
		return s.actions.Decide(ctx, tx, pending.ID, status, comments)
	}

	stepIndex := expense.CurrentStepIndex
	if stepIndex < 0 {
		stepIndex = 0
	}
	return s.actions.Create(ctx, tx, &repository.ApprovalAction{
		ExpenseID:  expense.ID,
		ApproverID: approverID,
		Status:     status,
		StepIndex:  stepIndex,
		Comments:   comments,
	})
}

// advanceSequential moves the expense to the next step of the
// highest-priority active sequential rule, seeding a PENDING action for the
// next approver in the chain. Returns ok=false when there is no sequential
// rule, no next step, or the next slot already exists.
func (s *WorkflowService) advanceSequential(
	ctx context.Context,
	tx pgx.Tx,
	expense *repository.Expense,
	rules []*repository.ApprovalRule,
) (*DecisionResult, bool, error) {
	for _, rule := range rules {
		if rule.RuleType != repository.RuleSequential || len(rule.Steps) == 0 {
			continue
		}

		nextIndex := expense.CurrentStepIndex + 1
		if nextIndex >= len(rule.Steps) {
			return nil, false, nil
		}
		next := rule.Steps[nextIndex]

		exists, err := s.actions.ExistsForSlot(ctx, tx, expense.ID, next.ApproverID, nextIndex)
		if err != nil {
			return nil, false, err
		}
		if exists {
			return nil, false, nil
		}

		if err := s.actions.Create(ctx, tx, &repository.ApprovalAction{
			ExpenseID:  expense.ID,
			ApproverID: next.ApproverID,
			Status:     repository.ActionPending,
			StepIndex:  nextIndex,
		}); err != nil {
			return nil, false, err
		}
		if err := s.expenses.UpdateWorkflowState(ctx, tx, expense.ID,
			repository.ExpenseInProgress, expense.ManagerApprovalComplete, nextIndex); err != nil {
			return nil, false, err
		}
		expense.CurrentStepIndex = nextIndex

		approverName := next.ApproverID
		if names, err := s.users.GetNames(ctx, []string{next.ApproverID}); err == nil {
			if n, ok := names[next.ApproverID]; ok {
				approverName = n
			}
		}

		return &DecisionResult{
			Resolution:      ResolutionForwarded,
			Reason:          fmt.Sprintf("approval recorded, forwarded to %s", approverName),
			Expense:         expense,
			notifyApprovers: []string{next.ApproverID},
		}, true, nil
	}
	return nil, false, nil
}

// InitializeWorkflow seeds the pending decision slots for the active rule
// set: the first approver of each sequential chain, every step approver of
// percentage and hybrid rules, and the designated approver of
// specific-approver rules. The union is de-duplicated across rules and
// seeding is idempotent against existing actions at step zero.
func (s *WorkflowService) InitializeWorkflow(
	ctx context.Context,
	tx pgx.Tx,
	expenseID string,
	rules []*repository.ApprovalRule,
) ([]string, error) {
	seen := make(map[string]struct{})
	var ordered []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ordered = append(ordered, id)
		}
	}

	for _, rule := range rules {
		switch rule.RuleType {
		case repository.RuleSequential:
			if len(rule.Steps) > 0 {
				add(rule.Steps[0].ApproverID)
			}
		case repository.RulePercentage, repository.RuleHybrid:
			for _, step := range rule.Steps {
				add(step.ApproverID)
			}
		case repository.RuleSpecificApprover:
			if rule.SpecificApproverID != nil {
				add(*rule.SpecificApproverID)
			}
		}
	}

	existing, err := s.actions.ListAtStep(ctx, tx, expenseID, 0)
	if err != nil {
		return nil, err
	}
	already := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		already[a.ApproverID] = struct{}{}
	}

	var seeded []string
	for _, approverID := range ordered {
		if _, ok := already[approverID]; ok {
			continue
		}
		if err := s.actions.Create(ctx, tx, &repository.ApprovalAction{
			ExpenseID:  expenseID,
			ApproverID: approverID,
			Status:     repository.ActionPending,
			StepIndex:  0,
		}); err != nil {
			return nil, err
		}
		seeded = append(seeded, approverID)
	}

	s.log.Info().
		Str("expense_id", expenseID).
		Int("approvers", len(ordered)).
		Int("seeded", len(seeded)).
		Msg("Approval workflow initialized")

	return seeded, nil
}

// ListPendingApprovals returns the expenses awaiting action from the actor:
// admins see everything unresolved, manager-equivalent roles additionally see
// expenses held at their manager gate, and every approver sees expenses
// holding a pending action for them.
func (s *WorkflowService) ListPendingApprovals(ctx context.Context, actor Actor) ([]*repository.Expense, error) {
	if actor.Role == repository.RoleAdmin {
		return s.expenses.ListUnresolved(ctx, actor.CompanyID)
	}

	withAction, err := s.expenses.ListWithPendingAction(ctx, actor.CompanyID, actor.ID)
	if err != nil {
		return nil, err
	}

	if !actor.Role.ManagerEquivalent() {
		return withAction, nil
	}

	atGate, err := s.expenses.ListAwaitingManager(ctx, actor.CompanyID, actor.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(atGate))
	merged := make([]*repository.Expense, 0, len(atGate)+len(withAction))
	for _, e := range atGate {
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}
	for _, e := range withAction {
		if _, ok := seen[e.ID]; !ok {
			merged = append(merged, e)
		}
	}
	return merged, nil
}

// publishResult emits the post-commit notification for a decision outcome.
// Publishing is best-effort and never affects the caller.
func (s *WorkflowService) publishResult(ctx context.Context, actor Actor, result *DecisionResult) {
	if s.notifier == nil || result == nil {
		return
	}

	expense := result.Expense
	payload := map[string]any{"reason": result.Reason}

	switch result.Resolution {
	case ResolutionApproved:
		s.notifier.PublishExpenseEvent(ctx, eventExpenseApproved,
			expense.ID, expense.CompanyID, actor.ID, []string{expense.UserID}, payload)
	case ResolutionRejected:
		s.notifier.PublishExpenseEvent(ctx, eventExpenseRejected,
			expense.ID, expense.CompanyID, actor.ID, []string{expense.UserID}, payload)
	case ResolutionForwarded:
		if len(result.notifyApprovers) > 0 {
			s.notifier.PublishExpenseEvent(ctx, eventApprovalRequired,
				expense.ID, expense.CompanyID, actor.ID, result.notifyApprovers, payload)
		}
	}
}
