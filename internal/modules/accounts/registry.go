package accounts

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
	"github.com/fondora/fundledger/internal/events"
	"github.com/fondora/fundledger/internal/locking"
	"github.com/fondora/fundledger/internal/modules/history"
)

// Registry enforces the assignment rules for trading accounts: each
// axis holds at most one value, and overwriting an occupied axis
// requires explicit confirmation from the caller. The confirmation
// requirement lives here so non-UI callers cannot bypass it.
type Registry struct {
	db      *sql.DB
	repo    *Repository
	history *history.Repository
	events  *events.Manager
	locks   *locking.Manager
	log     zerolog.Logger
}

// NewRegistry creates a new assignment registry
func NewRegistry(
	db *sql.DB,
	repo *Repository,
	historyRepo *history.Repository,
	eventManager *events.Manager,
	lockManager *locking.Manager,
	log zerolog.Logger,
) *Registry {
	return &Registry{
		db:      db,
		repo:    repo,
		history: historyRepo,
		events:  eventManager,
		locks:   lockManager,
		log:     log.With().Str("service", "registry").Logger(),
	}
}

// Assign sets an axis value on an account. When the axis already holds
// a different value, confirmed must be true or the call fails with
// ReassignmentNotConfirmedError carrying both values.
func (g *Registry) Assign(accountNumber string, axis domain.AssignmentAxis, value string, confirmed bool, performedBy string) (*domain.TradingAccount, error) {
	if !domain.ValidAxis(axis) {
		return nil, &domain.NotFoundError{Kind: "axis", Key: string(axis)}
	}
	if value == "" {
		return nil, &domain.InvalidAssignmentError{Detail: "assignment value is required"}
	}

	unlock := g.locks.Lock("accounts")
	defer unlock()

	account, err := g.repo.Get(accountNumber)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &domain.NotFoundError{Kind: "account", Key: accountNumber}
	}

	current := account.AxisValue(axis)
	if current != nil && *current != "" {
		if *current == value {
			// Same value - nothing to do
			return account, nil
		}
		if !confirmed {
			return nil, &domain.ReassignmentNotConfirmedError{
				AccountNumber: accountNumber,
				Axis:          axis,
				CurrentValue:  *current,
				ProposedValue: value,
			}
		}
	}

	tx, err := g.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := g.repo.SetAxisTx(tx, accountNumber, axis, &value); err != nil {
		return nil, err
	}

	if err := g.auditAxisChangeTx(tx, account, axis, current, value, performedBy); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	g.events.Emit(events.AccountAssigned, "accounts", map[string]interface{}{
		"account_number": accountNumber,
		"axis":           string(axis),
		"value":          value,
	})

	return g.repo.Get(accountNumber)
}

// Unassign clears one axis; the other axes are untouched
func (g *Registry) Unassign(accountNumber string, axis domain.AssignmentAxis, performedBy string) (*domain.TradingAccount, error) {
	if !domain.ValidAxis(axis) {
		return nil, &domain.NotFoundError{Kind: "axis", Key: string(axis)}
	}

	unlock := g.locks.Lock("accounts")
	defer unlock()

	account, err := g.repo.Get(accountNumber)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &domain.NotFoundError{Kind: "account", Key: accountNumber}
	}

	current := account.AxisValue(axis)
	if current == nil || *current == "" {
		// Already clear
		return account, nil
	}

	tx, err := g.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := g.repo.SetAxisTx(tx, accountNumber, axis, nil); err != nil {
		return nil, err
	}

	// Manager and fund axis changes are audited; broker/platform are not
	if axis == domain.AxisManager || axis == domain.AxisFund {
		rec := &domain.AllocationHistoryRecord{
			FundType:        axisFundType(account, axis, ""),
			ActionType:      domain.ActionAccountUnassigned,
			AffectedManager: axisManager(account, axis, ""),
			Notes:           fmt.Sprintf("account %s: %s %q cleared", accountNumber, axis, *current),
			PerformedBy:     performedBy,
		}
		if _, err := g.history.AppendTx(tx, rec); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unassignment: %w", err)
	}

	g.events.Emit(events.AccountUnassigned, "accounts", map[string]interface{}{
		"account_number": accountNumber,
		"axis":           string(axis),
	})

	return g.repo.Get(accountNumber)
}

// auditAxisChangeTx appends a history record for manager/fund axis
// changes. Broker and platform reassignments are not separately
// audited.
func (g *Registry) auditAxisChangeTx(tx *sql.Tx, account *domain.TradingAccount, axis domain.AssignmentAxis, previous *string, value, performedBy string) error {
	if axis != domain.AxisManager && axis != domain.AxisFund {
		return nil
	}

	note := fmt.Sprintf("account %s: %s set to %q", account.AccountNumber, axis, value)
	if previous != nil && *previous != "" {
		note = fmt.Sprintf("account %s: %s reassigned %q -> %q", account.AccountNumber, axis, *previous, value)
	}

	rec := &domain.AllocationHistoryRecord{
		FundType:        axisFundType(account, axis, value),
		ActionType:      domain.ActionAccountAssigned,
		AffectedManager: axisManager(account, axis, value),
		Notes:           note,
		PerformedBy:     performedBy,
	}
	_, err := g.history.AppendTx(tx, rec)
	return err
}

// axisFundType resolves the fund a registry audit record belongs to
func axisFundType(account *domain.TradingAccount, axis domain.AssignmentAxis, newValue string) domain.FundType {
	if axis == domain.AxisFund && newValue != "" {
		return domain.FundType(newValue)
	}
	if account.FundType != nil && *account.FundType != "" {
		return domain.FundType(*account.FundType)
	}
	return "N/A"
}

// axisManager resolves the manager a registry audit record names
func axisManager(account *domain.TradingAccount, axis domain.AssignmentAxis, newValue string) string {
	if axis == domain.AxisManager && newValue != "" {
		return newValue
	}
	if account.Manager != nil && *account.Manager != "" {
		return *account.Manager
	}
	return "N/A"
}
