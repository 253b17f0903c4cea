package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/database"
)

// ApprovalRulesRepository handles CRUD for approval_rules and their steps.
// Steps are always rewritten wholesale with the rule, never edited piecemeal,
// which keeps sequences contiguous from 1.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// Create inserts a rule and its steps in one transaction.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		rule.ID = uuid.NewString()

		query := `
			INSERT INTO approval_rules
			    (id, company_id, name, rule_type, percentage_required,
			     specific_approver_id, priority, is_active)
			VALUES ($1, $2, $3, $4::approval_rule_type, $5, $6, $7, $8)
			RETURNING created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			rule.ID,
			rule.CompanyID,
			rule.Name,
			rule.RuleType,
			rule.PercentageRequired,
			rule.SpecificApproverID,
			rule.Priority,
			rule.IsActive,
		).Scan(&rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval rule")
		}

		return r.insertSteps(ctx, tx, rule)
	})
}

// GetByID retrieves a rule with its ordered steps.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id, companyID string) (*ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, percentage_required,
		       specific_approver_id, priority, is_active, created_at, updated_at
		FROM approval_rules
		WHERE id = $1 AND company_id = $2
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get approval rule")
	}

	if err := r.loadSteps(ctx, []*ApprovalRule{rule}); err != nil {
		return nil, err
	}
	return rule, nil
}

// List returns all rules for a company with their steps, priority DESC.
func (r *ApprovalRulesRepository) List(ctx context.Context, companyID string) ([]*ApprovalRule, error) {
	return r.list(ctx, companyID, false)
}

// ListActive returns active rules only, ordered by priority DESC then
// creation time. This is the evaluation order: the first satisfied rule wins.
func (r *ApprovalRulesRepository) ListActive(ctx context.Context, companyID string) ([]*ApprovalRule, error) {
	return r.list(ctx, companyID, true)
}

func (r *ApprovalRulesRepository) list(ctx context.Context, companyID string, activeOnly bool) ([]*ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, percentage_required,
		       specific_approver_id, priority, is_active, created_at, updated_at
		FROM approval_rules
		WHERE company_id = $1
	`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}

	if err := r.loadSteps(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Update rewrites the rule and replaces its step list in one transaction.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approval_rules
			SET name                 = $3,
			    rule_type            = $4::approval_rule_type,
			    percentage_required  = $5,
			    specific_approver_id = $6,
			    priority             = $7,
			    is_active            = $8,
			    updated_at           = NOW()
			WHERE id = $1 AND company_id = $2
			RETURNING updated_at
		`

		err := tx.QueryRow(ctx, query,
			rule.ID,
			rule.CompanyID,
			rule.Name,
			rule.RuleType,
			rule.PercentageRequired,
			rule.SpecificApproverID,
			rule.Priority,
			rule.IsActive,
		).Scan(&rule.UpdatedAt)
		if err == pgx.ErrNoRows {
			return apperrors.NotFound("approval_rule", rule.ID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to update approval rule")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM approval_rule_steps WHERE rule_id = $1`, rule.ID); err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to clear approval rule steps")
		}
		return r.insertSteps(ctx, tx, rule)
	})
}

// Delete removes a rule and its steps (cascade).
func (r *ApprovalRulesRepository) Delete(ctx context.Context, id, companyID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM approval_rules WHERE id = $1 AND company_id = $2`, id, companyID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("approval_rule", id)
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (r *ApprovalRulesRepository) insertSteps(ctx context.Context, tx pgx.Tx, rule *ApprovalRule) error {
	query := `
		INSERT INTO approval_rule_steps (id, rule_id, approver_id, sequence)
		VALUES ($1, $2, $3, $4)
	`
	for i := range rule.Steps {
		step := &rule.Steps[i]
		step.ID = uuid.NewString()
		step.RuleID = rule.ID
		step.Sequence = i + 1

		if _, err := tx.Exec(ctx, query, step.ID, step.RuleID, step.ApproverID, step.Sequence); err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval rule step")
		}
	}
	return nil
}

func (r *ApprovalRulesRepository) loadSteps(ctx context.Context, rules []*ApprovalRule) error {
	if len(rules) == 0 {
		return nil
	}

	byID := make(map[string]*ApprovalRule, len(rules))
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		byID[rule.ID] = rule
		ids = append(ids, rule.ID)
	}

	query := `
		SELECT id, rule_id, approver_id, sequence
		FROM approval_rule_steps
		WHERE rule_id = ANY($1)
		ORDER BY rule_id, sequence ASC
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to load approval rule steps")
	}
	defer rows.Close()

	for rows.Next() {
		var step ApprovalRuleStep
		if err := rows.Scan(&step.ID, &step.RuleID, &step.ApproverID, &step.Sequence); err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval rule step")
		}
		if rule, ok := byID[step.RuleID]; ok {
			rule.Steps = append(rule.Steps, step)
		}
	}
	return nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.Name,
		&rule.RuleType,
		&rule.PercentageRequired,
		&rule.SpecificApproverID,
		&rule.Priority,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}
