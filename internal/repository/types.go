package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for the expense approval workflow ───────────────────────────

// ExpenseStatus is the lifecycle state of an expense claim.
type ExpenseStatus string

const (
	ExpensePending    ExpenseStatus = "PENDING"
	ExpenseInProgress ExpenseStatus = "IN_PROGRESS"
	ExpenseApproved   ExpenseStatus = "APPROVED"
	ExpenseRejected   ExpenseStatus = "REJECTED"
)

// Terminal reports whether the status admits no further decisions.
func (s ExpenseStatus) Terminal() bool {
	return s == ExpenseApproved || s == ExpenseRejected
}

// ManagerGateStepIndex is the sentinel step index for the manager-gate
// decision, excluded from rule-level math.
const ManagerGateStepIndex = -1

// Expense is one financial claim submitted by a user.
type Expense struct {
	ID                      string
	CompanyID               string
	UserID                  string
	CategoryID              *string
	Description             string
	Amount                  decimal.Decimal
	Currency                string
	AmountInCompanyCurrency decimal.Decimal
	ExpenseDate             time.Time
	PaidBy                  *string
	Remarks                 *string
	ReceiptURL              *string
	Status                  ExpenseStatus
	ManagerApprovalComplete bool
	CurrentStepIndex        int
	CreatedAt               time.Time
	UpdatedAt               time.Time

	// Actions is populated on detail reads only.
	Actions []*ApprovalAction
}

// RuleType tags an ApprovalRule variant. Each variant reads only its own
// fields during evaluation.
type RuleType string

const (
	RuleSequential       RuleType = "SEQUENTIAL"
	RulePercentage       RuleType = "PERCENTAGE"
	RuleSpecificApprover RuleType = "SPECIFIC_APPROVER"
	RuleHybrid           RuleType = "HYBRID"
)

// ApprovalRule is a company-scoped policy that can independently cause
// approval. Rules are evaluated in priority order, highest first.
type ApprovalRule struct {
	ID                 string
	CompanyID          string
	Name               string
	RuleType           RuleType
	PercentageRequired *int
	SpecificApproverID *string
	Priority           int
	IsActive           bool
	Steps              []ApprovalRuleStep
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ApprovalRuleStep is one ordered approver slot within a rule. Sequences are
// contiguous starting at 1 and are rewritten wholesale on rule updates.
type ApprovalRuleStep struct {
	ID         string
	RuleID     string
	ApproverID string
	Sequence   int
}

// ActionStatus is the state of one approver's decision slot.
type ActionStatus string

const (
	ActionPending  ActionStatus = "PENDING"
	ActionApproved ActionStatus = "APPROVED"
	ActionRejected ActionStatus = "REJECTED"
)

// ApprovalAction is one approver's recorded decision (or pending slot)
// against one expense. At most one row exists per
// (expense, approver, step index); pending rows are updated in place.
type ApprovalAction struct {
	ID         string
	ExpenseID  string
	ApproverID string
	Status     ActionStatus
	StepIndex  int
	Comments   *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Role is an authorization role supplied by the external auth layer.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleAdmin    Role = "ADMIN"
	RoleCEO      Role = "CEO"
	RoleCFO      Role = "CFO"
	RoleCTO      Role = "CTO"
	RoleDirector Role = "DIRECTOR"
)

// ManagerEquivalent reports whether the role carries manager standing for
// approval purposes. Executive roles count as managers.
func (r Role) ManagerEquivalent() bool {
	switch r {
	case RoleManager, RoleCEO, RoleCFO, RoleCTO, RoleDirector:
		return true
	}
	return false
}

// User is the slice of the identity record the workflow core needs: the
// manager relation and the manager-approver flag.
type User struct {
	ID                string
	CompanyID         string
	Name              string
	Email             string
	Role              Role
	ManagerID         *string
	IsManagerApprover bool
}

// RequiresManagerGate reports whether expenses from this user must clear the
// manager gate before rule evaluation.
func (u *User) RequiresManagerGate() bool {
	return u.IsManagerApprover && u.ManagerID != nil
}
