package domain

import "time"

// AmountEpsilon is the tolerance used when comparing currency amounts.
// Amounts are float64 currency units, so two values within a cent are
// treated as equal.
const AmountEpsilon = 0.01

// FundType identifies a capital pool
type FundType string

const (
	FundBalance    FundType = "BALANCE"
	FundCore       FundType = "CORE"
	FundDynamic    FundType = "DYNAMIC"
	FundSeparation FundType = "SEPARATION"
	FundRebates    FundType = "REBATES"
)

// ValidFundType reports whether t is a known fund type
func ValidFundType(t FundType) bool {
	switch t {
	case FundBalance, FundCore, FundDynamic, FundSeparation, FundRebates:
		return true
	}
	return false
}

// Fund represents a capital pool whose money is distributed to managers.
// Invariant: TotalCapital == AllocatedCapital + UnallocatedCapital
type Fund struct {
	FundType           FundType  `json:"fund_type"`
	TotalCapital       float64   `json:"total_capital"`
	AllocatedCapital   float64   `json:"allocated_capital"`
	UnallocatedCapital float64   `json:"unallocated_capital"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ExecutionType describes how a trading account realizes an allocation
type ExecutionType string

const (
	ExecutionMaster ExecutionType = "master"
	ExecutionCopy   ExecutionType = "copy"
	ExecutionMAM    ExecutionType = "MAM"
)

// ValidExecutionType reports whether t is a known execution type
func ValidExecutionType(t ExecutionType) bool {
	switch t {
	case ExecutionMaster, ExecutionCopy, ExecutionMAM:
		return true
	}
	return false
}

// AccountAllocation is one account's share of a manager allocation
type AccountAllocation struct {
	AccountNumber string        `json:"account_number"`
	Amount        float64       `json:"amount"`
	ExecutionType ExecutionType `json:"execution_type"`
}

// ManagerAllocation represents capital assigned to a money manager
// within a single fund. The sum of Accounts[].Amount equals
// AllocatedAmount within AmountEpsilon.
type ManagerAllocation struct {
	ID                   int64               `json:"id"`
	FundType             FundType            `json:"fund_type"`
	ManagerName          string              `json:"manager_name"`
	AllocatedAmount      float64             `json:"allocated_amount"`
	AllocationPercentage float64             `json:"allocation_percentage"`
	Accounts             []AccountAllocation `json:"accounts"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// AssignmentAxis is one of the four independent categorization
// dimensions a trading account can be assigned on
type AssignmentAxis string

const (
	AxisManager  AssignmentAxis = "manager"
	AxisFund     AssignmentAxis = "fund"
	AxisBroker   AssignmentAxis = "broker"
	AxisPlatform AssignmentAxis = "platform"
)

// RequiredAxes is the set an account must have before allocations can
// be applied
var RequiredAxes = []AssignmentAxis{AxisManager, AxisFund, AxisBroker, AxisPlatform}

// ValidAxis reports whether a is a known assignment axis
func ValidAxis(a AssignmentAxis) bool {
	switch a {
	case AxisManager, AxisFund, AxisBroker, AxisPlatform:
		return true
	}
	return false
}

// TradingAccount represents an MT5 trading account. Balance is supplied
// by the bridge and treated as read-only truth. Each axis holds at most
// one value; the Applied* fields mirror the axis values as of the last
// successful apply.
type TradingAccount struct {
	AccountNumber string  `json:"account_number"`
	Balance       float64 `json:"balance"`

	Manager  *string `json:"manager,omitempty"`
	FundType *string `json:"fund_type,omitempty"`
	Broker   *string `json:"broker,omitempty"`
	Platform *string `json:"platform,omitempty"`

	AppliedManager  *string `json:"applied_manager,omitempty"`
	AppliedFundType *string `json:"applied_fund_type,omitempty"`
	AppliedBroker   *string `json:"applied_broker,omitempty"`
	AppliedPlatform *string `json:"applied_platform,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// AxisValue returns the current value on the given axis, or nil
func (a *TradingAccount) AxisValue(axis AssignmentAxis) *string {
	switch axis {
	case AxisManager:
		return a.Manager
	case AxisFund:
		return a.FundType
	case AxisBroker:
		return a.Broker
	case AxisPlatform:
		return a.Platform
	}
	return nil
}

// AppliedAxisValue returns the last-applied value on the given axis, or nil
func (a *TradingAccount) AppliedAxisValue(axis AssignmentAxis) *string {
	switch axis {
	case AxisManager:
		return a.AppliedManager
	case AxisFund:
		return a.AppliedFundType
	case AxisBroker:
		return a.AppliedBroker
	case AxisPlatform:
		return a.AppliedPlatform
	}
	return nil
}

// MissingAxes returns the required axes that have no value set
func (a *TradingAccount) MissingAxes() []AssignmentAxis {
	var missing []AssignmentAxis
	for _, axis := range RequiredAxes {
		if v := a.AxisValue(axis); v == nil || *v == "" {
			missing = append(missing, axis)
		}
	}
	return missing
}

// Unassigned reports whether the account has no axis values at all
func (a *TradingAccount) Unassigned() bool {
	return len(a.MissingAxes()) == len(RequiredAxes)
}

// LossHandling selects how a shortfall is treated when a manager is
// removed with an actual balance below the expected allocation
type LossHandling string

const (
	// AbsorbLoss reduces the fund's total capital by the shortfall
	AbsorbLoss LossHandling = "absorb_loss"
	// CoverFromReserves returns the full expected allocation to the
	// unallocated pool; the shortfall is carried by existing reserves
	CoverFromReserves LossHandling = "cover_from_reserves"
	// MarkReceivable returns only the actual balance and records the
	// shortfall as a receivable in the history note
	MarkReceivable LossHandling = "mark_receivable"
)

// ValidLossHandling reports whether p is a known loss policy
func ValidLossHandling(p LossHandling) bool {
	switch p {
	case AbsorbLoss, CoverFromReserves, MarkReceivable:
		return true
	}
	return false
}

// ActionType categorizes a history record
type ActionType string

const (
	ActionManagerAdded        ActionType = "manager_added"
	ActionManagerRemoved      ActionType = "manager_removed"
	ActionAllocationIncreased ActionType = "allocation_increased"
	ActionAllocationDecreased ActionType = "allocation_decreased"
	ActionAddCapital          ActionType = "add_capital"
	ActionWithdrawCapital     ActionType = "withdraw_capital"
	ActionAbsorbLoss          ActionType = "absorb_loss"
	ActionRecognizeGain       ActionType = "recognize_gain"

	// Registry audit entries for manager/fund axis changes. These carry
	// no financial impact; broker/platform changes are not audited.
	ActionAccountAssigned   ActionType = "account_assigned"
	ActionAccountUnassigned ActionType = "account_unassigned"
)

// FinancialImpact captures the computed money effect of an action
type FinancialImpact struct {
	LossAmount       float64 `json:"loss_amount"`
	GainAmount       float64 `json:"gain_amount"`
	AllocationChange float64 `json:"allocation_change"`
}

// AllocationHistoryRecord is an immutable audit entry. Records are
// appended once per orchestrator operation and never mutated.
type AllocationHistoryRecord struct {
	ID              int64           `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	FundType        FundType        `json:"fund_type"`
	ActionType      ActionType      `json:"action_type"`
	AffectedManager string          `json:"affected_manager"`
	Impact          FinancialImpact `json:"financial_impact"`
	Notes           string          `json:"notes"`
	PerformedBy     string          `json:"performed_by"`
}

// IncompleteAccount describes an account missing required axes
type IncompleteAccount struct {
	AccountNumber string           `json:"account_number"`
	MissingAxes   []AssignmentAxis `json:"missing_axes"`
}

// PendingChange describes an axis value that differs from the last
// applied state
type PendingChange struct {
	AccountNumber string         `json:"account_number"`
	Axis          AssignmentAxis `json:"axis"`
	From          string         `json:"from"`
	To            string         `json:"to"`
}

// ValidationResult is the ephemeral outcome of the apply gate check.
// It is recomputed on demand and never persisted.
type ValidationResult struct {
	CanApply           bool                `json:"can_apply"`
	Reason             string              `json:"reason"`
	UnassignedAccounts []string            `json:"unassigned_accounts"`
	IncompleteAccounts []IncompleteAccount `json:"incomplete_accounts"`
	PendingChanges     []PendingChange     `json:"pending_changes"`
}

// FundState is the full view of a fund returned to callers
type FundState struct {
	Fund               Fund                `json:"fund"`
	ManagerAllocations []ManagerAllocation `json:"manager_allocations"`
}

// ApplyReport summarizes an apply operation. The assignment commit is
// durable once the report exists; RecalcErrors lists downstream engines
// that failed afterwards and can be re-run independently.
type ApplyReport struct {
	RunID           string   `json:"run_id"`
	AccountsUpdated int      `json:"accounts_updated"`
	CalculationsRun int      `json:"calculations_run"`
	RecalcErrors    []string `json:"recalc_errors,omitempty"`
}
