package accounts

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
)

const timeFormat = "2006-01-02 15:04:05"

var axisColumns = map[domain.AssignmentAxis]string{
	domain.AxisManager:  "manager",
	domain.AxisFund:     "fund_type",
	domain.AxisBroker:   "broker",
	domain.AxisPlatform: "platform",
}

// Repository handles trading account persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new trading account repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

const selectColumns = `
	account_number, balance, manager, fund_type, broker, platform,
	applied_manager, applied_fund_type, applied_broker, applied_platform,
	updated_at
`

// Get retrieves an account, or nil if it does not exist
func (r *Repository) Get(accountNumber string) (*domain.TradingAccount, error) {
	query := "SELECT " + selectColumns + " FROM trading_accounts WHERE account_number = ?"

	var a domain.TradingAccount
	var updatedAt string

	err := r.db.QueryRow(query, accountNumber).Scan(
		&a.AccountNumber, &a.Balance,
		&a.Manager, &a.FundType, &a.Broker, &a.Platform,
		&a.AppliedManager, &a.AppliedFundType, &a.AppliedBroker, &a.AppliedPlatform,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	a.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &a, nil
}

// List retrieves all accounts ordered by account number. Deterministic
// ordering keeps repeated validation results identical.
func (r *Repository) List() ([]domain.TradingAccount, error) {
	query := "SELECT " + selectColumns + " FROM trading_accounts ORDER BY account_number ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.TradingAccount
	for rows.Next() {
		var a domain.TradingAccount
		var updatedAt string
		err := rows.Scan(
			&a.AccountNumber, &a.Balance,
			&a.Manager, &a.FundType, &a.Broker, &a.Platform,
			&a.AppliedManager, &a.AppliedFundType, &a.AppliedBroker, &a.AppliedPlatform,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpsertBalance inserts an account or refreshes its bridge-supplied
// balance. Assignment axes are never touched here.
func (r *Repository) UpsertBalance(accountNumber string, balance float64) (bool, error) {
	now := time.Now().Format(timeFormat)

	result, err := r.db.Exec(
		`UPDATE trading_accounts SET balance = ?, updated_at = ? WHERE account_number = ?`,
		balance, now, accountNumber,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update account balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	if rows > 0 {
		return false, nil
	}

	_, err = r.db.Exec(
		`INSERT INTO trading_accounts (account_number, balance, updated_at) VALUES (?, ?, ?)`,
		accountNumber, balance, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert account: %w", err)
	}

	return true, nil
}

// SetAxisTx sets or clears one assignment axis inside a transaction
func (r *Repository) SetAxisTx(tx *sql.Tx, accountNumber string, axis domain.AssignmentAxis, value *string) error {
	column, ok := axisColumns[axis]
	if !ok {
		return &domain.NotFoundError{Kind: "axis", Key: string(axis)}
	}

	query := fmt.Sprintf(
		"UPDATE trading_accounts SET %s = ?, updated_at = ? WHERE account_number = ?", column,
	)

	result, err := tx.Exec(query, value, time.Now().Format(timeFormat), accountNumber)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return &domain.NotFoundError{Kind: "account", Key: accountNumber}
	}

	return nil
}

// MarkAppliedTx copies every account's live axis values into the
// applied_* columns and returns how many accounts changed
func (r *Repository) MarkAppliedTx(tx *sql.Tx) (int, error) {
	result, err := tx.Exec(`
		UPDATE trading_accounts
		SET applied_manager = manager,
		    applied_fund_type = fund_type,
		    applied_broker = broker,
		    applied_platform = platform,
		    updated_at = ?
		WHERE COALESCE(manager, '') != COALESCE(applied_manager, '')
		   OR COALESCE(fund_type, '') != COALESCE(applied_fund_type, '')
		   OR COALESCE(broker, '') != COALESCE(applied_broker, '')
		   OR COALESCE(platform, '') != COALESCE(applied_platform, '')
	`, time.Now().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to mark accounts applied: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count applied accounts: %w", err)
	}

	return int(rows), nil
}
