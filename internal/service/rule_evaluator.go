package service

import (
	"fmt"

	"github.com/expenza/be-expenses/internal/logger"
	"github.com/expenza/be-expenses/internal/repository"
)

// RuleOutcome is the result of evaluating the active rule set against the
// approved-approver set.
type RuleOutcome struct {
	Approved bool
	// Reason names the rule and condition that fired, for the audit trail
	// and UI. Empty when no rule is satisfied.
	Reason string
}

// RuleEvaluator decides whether any configured approval rule is satisfied.
// Evaluation is a pure function of the approved-approver set and the rule
// list: rules are checked in the order given (priority descending) and the
// first satisfied rule wins. Rule order is a precedence mechanism, not a
// conjunction.
type RuleEvaluator struct {
	log *logger.Logger
}

// NewRuleEvaluator creates a new RuleEvaluator.
func NewRuleEvaluator(log *logger.Logger) *RuleEvaluator {
	return &RuleEvaluator{log: log}
}

// Evaluate checks rules against the set of approver ids that have recorded
// an APPROVED action at a workflow step. Manager-gate approvals are excluded
// by the caller. Misconfigured rules are never satisfiable and are logged.
func (ev *RuleEvaluator) Evaluate(approved map[string]struct{}, rules []*repository.ApprovalRule) RuleOutcome {
	for _, rule := range rules {
		switch rule.RuleType {
		case repository.RuleSpecificApprover:
			if ok := ev.specificSatisfied(rule, approved); ok {
				return RuleOutcome{
					Approved: true,
					Reason: fmt.Sprintf("rule %q satisfied: designated approver %s has approved",
						rule.Name, *rule.SpecificApproverID),
				}
			}

		case repository.RulePercentage:
			if ok, count := ev.percentageSatisfied(rule, approved); ok {
				return RuleOutcome{
					Approved: true,
					Reason: fmt.Sprintf("rule %q satisfied: %d of %d approvers approved (%d%% required)",
						rule.Name, count, len(rule.Steps), *rule.PercentageRequired),
				}
			}

		case repository.RuleSequential:
			if ev.sequentialSatisfied(rule, approved) {
				return RuleOutcome{
					Approved: true,
					Reason: fmt.Sprintf("rule %q satisfied: all %d approvers in the chain have approved",
						rule.Name, len(rule.Steps)),
				}
			}

		case repository.RuleHybrid:
			if ev.specificSatisfied(rule, approved) {
				return RuleOutcome{
					Approved: true,
					Reason: fmt.Sprintf("rule %q satisfied: designated approver %s has approved",
						rule.Name, *rule.SpecificApproverID),
				}
			}
			if ok, count := ev.percentageSatisfied(rule, approved); ok {
				return RuleOutcome{
					Approved: true,
					Reason: fmt.Sprintf("rule %q satisfied: %d of %d approvers approved (%d%% required)",
						rule.Name, count, len(rule.Steps), *rule.PercentageRequired),
				}
			}

		default:
			ev.log.Warn().
				Str("rule_id", rule.ID).
				Str("rule_type", string(rule.RuleType)).
				Msg("Unknown approval rule type, skipping")
		}
	}

	return RuleOutcome{Approved: false}
}

// specificSatisfied reports whether the rule's designated approver is in the
// approved set. A missing approver reference makes the rule unsatisfiable.
func (ev *RuleEvaluator) specificSatisfied(rule *repository.ApprovalRule, approved map[string]struct{}) bool {
	if rule.SpecificApproverID == nil {
		ev.log.Warn().
			Str("rule_id", rule.ID).
			Str("rule_name", rule.Name).
			Msg("Rule requires a specific approver but has none configured")
		return false
	}
	_, ok := approved[*rule.SpecificApproverID]
	return ok
}

// percentageSatisfied counts how many of the rule's own step approvers are in
// the approved set. Approvals from users outside the rule's steps do not
// count toward the percentage.
func (ev *RuleEvaluator) percentageSatisfied(rule *repository.ApprovalRule, approved map[string]struct{}) (bool, int) {
	if rule.PercentageRequired == nil || len(rule.Steps) == 0 {
		ev.log.Warn().
			Str("rule_id", rule.ID).
			Str("rule_name", rule.Name).
			Msg("Percentage rule is missing its threshold or steps")
		return false, 0
	}

	count := 0
	for _, step := range rule.Steps {
		if _, ok := approved[step.ApproverID]; ok {
			count++
		}
	}

	// count/total*100 >= required, in integer math
	return count*100 >= *rule.PercentageRequired*len(rule.Steps), count
}

// sequentialSatisfied reports whether every step approver in the chain has
// approved. Step advancement enforces ordering separately; evaluation only
// checks completeness.
func (ev *RuleEvaluator) sequentialSatisfied(rule *repository.ApprovalRule, approved map[string]struct{}) bool {
	if len(rule.Steps) == 0 {
		ev.log.Warn().
			Str("rule_id", rule.ID).
			Str("rule_name", rule.Name).
			Msg("Sequential rule has no steps")
		return false
	}
	for _, step := range rule.Steps {
		if _, ok := approved[step.ApproverID]; !ok {
			return false
		}
	}
	return true
}
