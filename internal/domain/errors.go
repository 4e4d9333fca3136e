package domain

import "fmt"

// Domain validation errors. All are recoverable at the caller level and
// leave ledger state unchanged: the orchestrator validates every
// precondition before mutating any entity.

// InvalidAmountError rejects a non-positive or malformed amount
type InvalidAmountError struct {
	Amount float64
	Detail string
}

func (e *InvalidAmountError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid amount %.2f: %s", e.Amount, e.Detail)
	}
	return fmt.Sprintf("invalid amount %.2f: must be greater than zero", e.Amount)
}

// InsufficientCapitalError rejects an allocation exceeding the fund's
// available unallocated capital
type InsufficientCapitalError struct {
	Requested float64
	Available float64
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital: requested $%.2f, available $%.2f", e.Requested, e.Available)
}

// DistributionMismatchError rejects an account distribution whose
// amounts do not sum to the allocation
type DistributionMismatchError struct {
	Allocation        float64
	DistributionTotal float64
}

func (e *DistributionMismatchError) Error() string {
	return fmt.Sprintf("account distribution totals $%.2f but allocation is $%.2f", e.DistributionTotal, e.Allocation)
}

// InvalidDistributionError rejects a structurally malformed account
// distribution (empty account number, non-positive row amount, unknown
// execution type, duplicate account)
type InvalidDistributionError struct {
	Detail string
}

func (e *InvalidDistributionError) Error() string {
	return fmt.Sprintf("invalid account distribution: %s", e.Detail)
}

// InvalidAssignmentError rejects a malformed account assignment
// request (missing value)
type InvalidAssignmentError struct {
	Detail string
}

func (e *InvalidAssignmentError) Error() string {
	return fmt.Sprintf("invalid assignment: %s", e.Detail)
}

// InvalidCapitalError rejects a total-capital adjustment that would
// shrink the fund below its committed allocations, or a no-op change
type InvalidCapitalError struct {
	Requested float64
	Allocated float64
	Detail    string
}

func (e *InvalidCapitalError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid capital adjustment: %s", e.Detail)
	}
	return fmt.Sprintf("invalid capital adjustment: new total $%.2f is below allocated capital $%.2f", e.Requested, e.Allocated)
}

// InvalidLossHandlingError rejects an unknown loss policy when a
// removal results in a shortfall
type InvalidLossHandlingError struct {
	Policy string
}

func (e *InvalidLossHandlingError) Error() string {
	return fmt.Sprintf("loss detected: loss_handling must be one of absorb_loss, cover_from_reserves, mark_receivable (got %q)", e.Policy)
}

// ValidationFailedError blocks apply while accounts are unassigned or
// incomplete
type ValidationFailedError struct {
	Reason          string
	UnassignedCount int
	IncompleteCount int
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("cannot apply allocations: %s", e.Reason)
}

// ReassignmentNotConfirmedError is returned when an axis already holds
// a value and the caller did not confirm the overwrite. It carries both
// values so the caller can surface current vs. proposed.
type ReassignmentNotConfirmedError struct {
	AccountNumber string
	Axis          AssignmentAxis
	CurrentValue  string
	ProposedValue string
}

func (e *ReassignmentNotConfirmedError) Error() string {
	return fmt.Sprintf("account %s already has %s %q; confirm reassignment to %q",
		e.AccountNumber, e.Axis, e.CurrentValue, e.ProposedValue)
}

// NotFoundError reports an unknown fund, manager, account or axis
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}
