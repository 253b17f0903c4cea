package service

import (
	"context"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
)

// ApprovalRuleService manages company approval policies. Invariants the
// evaluator depends on (percentage bounds, type-required fields, step lists)
// are enforced here at write time.
type ApprovalRuleService struct {
	rules RuleStore
	users UserStore
	log   *logger.Logger
}

// NewApprovalRuleService creates a new ApprovalRuleService.
func NewApprovalRuleService(rules RuleStore, users UserStore, log *logger.Logger) *ApprovalRuleService {
	return &ApprovalRuleService{rules: rules, users: users, log: log}
}

// RuleRequest is the write payload for creating or updating a rule. Steps
// replace the existing list wholesale; sequences are assigned from position.
type RuleRequest struct {
	Name               string
	RuleType           repository.RuleType
	PercentageRequired *int
	SpecificApproverID *string
	Priority           int
	IsActive           bool
	StepApproverIDs    []string
}

// Create validates and persists a new rule.
func (s *ApprovalRuleService) Create(ctx context.Context, actor Actor, req *RuleRequest) (*repository.ApprovalRule, error) {
	rule, err := s.buildRule(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("rule_type", string(rule.RuleType)).
		Int("steps", len(rule.Steps)).
		Msg("Approval rule created")

	return rule, nil
}

// Get retrieves one rule.
func (s *ApprovalRuleService) Get(ctx context.Context, actor Actor, id string) (*repository.ApprovalRule, error) {
	return s.rules.GetByID(ctx, id, actor.CompanyID)
}

// List returns all rules for the company.
func (s *ApprovalRuleService) List(ctx context.Context, actor Actor) ([]*repository.ApprovalRule, error) {
	return s.rules.List(ctx, actor.CompanyID)
}

// Update validates and rewrites an existing rule, replacing its steps.
func (s *ApprovalRuleService) Update(ctx context.Context, actor Actor, id string, req *RuleRequest) (*repository.ApprovalRule, error) {
	if _, err := s.rules.GetByID(ctx, id, actor.CompanyID); err != nil {
		return nil, err
	}

	rule, err := s.buildRule(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	rule.ID = id

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().Str("rule_id", id).Msg("Approval rule updated")
	return rule, nil
}

// Delete removes a rule.
func (s *ApprovalRuleService) Delete(ctx context.Context, actor Actor, id string) error {
	if err := s.rules.Delete(ctx, id, actor.CompanyID); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", id).Msg("Approval rule deleted")
	return nil
}

// buildRule validates the request against per-type requirements and resolves
// it into a persistable rule.
func (s *ApprovalRuleService) buildRule(ctx context.Context, actor Actor, req *RuleRequest) (*repository.ApprovalRule, error) {
	if req.Name == "" {
		return nil, apperrors.InvalidInput("name", "rule name is required")
	}

	needsPercentage := false
	needsSpecific := false
	needsSteps := false

	switch req.RuleType {
	case repository.RuleSequential:
		needsSteps = true
	case repository.RulePercentage:
		needsPercentage = true
		needsSteps = true
	case repository.RuleSpecificApprover:
		needsSpecific = true
	case repository.RuleHybrid:
		needsPercentage = true
		needsSpecific = true
		needsSteps = true
	default:
		return nil, apperrors.InvalidInput("rule_type", "must be SEQUENTIAL, PERCENTAGE, SPECIFIC_APPROVER or HYBRID")
	}

	if needsPercentage {
		if req.PercentageRequired == nil {
			return nil, apperrors.InvalidInput("percentage_required", "required for this rule type")
		}
		if *req.PercentageRequired < 0 || *req.PercentageRequired > 100 {
			return nil, apperrors.InvalidInput("percentage_required", "must be between 0 and 100")
		}
	}
	if needsSpecific {
		if req.SpecificApproverID == nil {
			return nil, apperrors.InvalidInput("specific_approver_id", "required for this rule type")
		}
		if _, err := s.users.GetByID(ctx, *req.SpecificApproverID, actor.CompanyID); err != nil {
			return nil, apperrors.InvalidInput("specific_approver_id", "approver does not exist in this company")
		}
	}
	if needsSteps && len(req.StepApproverIDs) == 0 {
		return nil, apperrors.InvalidInput("steps", "at least one approver step is required for this rule type")
	}

	if len(req.StepApproverIDs) > 0 {
		names, err := s.users.GetNames(ctx, req.StepApproverIDs)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(req.StepApproverIDs))
		for _, approverID := range req.StepApproverIDs {
			if _, ok := names[approverID]; !ok {
				return nil, apperrors.InvalidInput("steps", "step approver does not exist: "+approverID)
			}
			if _, dup := seen[approverID]; dup {
				return nil, apperrors.InvalidInput("steps", "duplicate step approver: "+approverID)
			}
			seen[approverID] = struct{}{}
		}
	}

	rule := &repository.ApprovalRule{
		CompanyID:          actor.CompanyID,
		Name:               req.Name,
		RuleType:           req.RuleType,
		PercentageRequired: req.PercentageRequired,
		SpecificApproverID: req.SpecificApproverID,
		Priority:           req.Priority,
		IsActive:           req.IsActive,
	}
	for i, approverID := range req.StepApproverIDs {
		rule.Steps = append(rule.Steps, repository.ApprovalRuleStep{
			ApproverID: approverID,
			Sequence:   i + 1,
		})
	}
	return rule, nil
}
