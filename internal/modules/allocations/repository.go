package allocations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
)

const timeFormat = "2006-01-02 15:04:05"

// executor is the subset of *sql.DB and *sql.Tx the repository needs
type executor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Repository handles manager allocation persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new manager allocation repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "allocations").Logger(),
	}
}

// Get retrieves a manager's allocation within a fund, or nil if absent
func (r *Repository) Get(fundType domain.FundType, managerName string) (*domain.ManagerAllocation, error) {
	return r.get(r.db, fundType, managerName)
}

// GetTx is Get inside a transaction
func (r *Repository) GetTx(tx *sql.Tx, fundType domain.FundType, managerName string) (*domain.ManagerAllocation, error) {
	return r.get(tx, fundType, managerName)
}

func (r *Repository) get(e executor, fundType domain.FundType, managerName string) (*domain.ManagerAllocation, error) {
	query := `
		SELECT id, fund_type, manager_name, allocated_amount, created_at, updated_at
		FROM manager_allocations
		WHERE fund_type = ? AND manager_name = ?
	`

	var a domain.ManagerAllocation
	var createdAt, updatedAt string

	err := e.QueryRow(query, string(fundType), managerName).Scan(
		&a.ID, &a.FundType, &a.ManagerName, &a.AllocatedAmount, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation: %w", err)
	}

	a.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	a.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	accounts, err := r.loadAccounts(e, a.ID)
	if err != nil {
		return nil, err
	}
	a.Accounts = accounts

	return &a, nil
}

// ListByFund retrieves all allocations for a fund ordered by manager
// name, with their account distributions
func (r *Repository) ListByFund(fundType domain.FundType) ([]domain.ManagerAllocation, error) {
	return r.listByFund(r.db, fundType)
}

// ListByFundTx is ListByFund inside a transaction
func (r *Repository) ListByFundTx(tx *sql.Tx, fundType domain.FundType) ([]domain.ManagerAllocation, error) {
	return r.listByFund(tx, fundType)
}

func (r *Repository) listByFund(e executor, fundType domain.FundType) ([]domain.ManagerAllocation, error) {
	query := `
		SELECT id, fund_type, manager_name, allocated_amount, created_at, updated_at
		FROM manager_allocations
		WHERE fund_type = ?
		ORDER BY manager_name ASC
	`

	rows, err := e.Query(query, string(fundType))
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []domain.ManagerAllocation
	for rows.Next() {
		var a domain.ManagerAllocation
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.FundType, &a.ManagerName, &a.AllocatedAmount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		a.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}

	for i := range allocations {
		accounts, err := r.loadAccounts(e, allocations[i].ID)
		if err != nil {
			return nil, err
		}
		allocations[i].Accounts = accounts
	}

	return allocations, nil
}

// UpsertTx creates or replaces a manager's allocation and its account
// distribution
func (r *Repository) UpsertTx(tx *sql.Tx, alloc *domain.ManagerAllocation) error {
	now := time.Now().Format(timeFormat)

	existing, err := r.get(tx, alloc.FundType, alloc.ManagerName)
	if err != nil {
		return err
	}

	if existing == nil {
		result, err := tx.Exec(
			`INSERT INTO manager_allocations (fund_type, manager_name, allocated_amount, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			string(alloc.FundType), alloc.ManagerName, alloc.AllocatedAmount, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
		alloc.ID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get allocation ID: %w", err)
		}
	} else {
		alloc.ID = existing.ID
		_, err := tx.Exec(
			`UPDATE manager_allocations SET allocated_amount = ?, updated_at = ? WHERE id = ?`,
			alloc.AllocatedAmount, now, alloc.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update allocation: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM allocation_accounts WHERE allocation_id = ?`, alloc.ID); err != nil {
			return fmt.Errorf("failed to clear distribution: %w", err)
		}
	}

	for i, acct := range alloc.Accounts {
		_, err := tx.Exec(
			`INSERT INTO allocation_accounts (allocation_id, position, account_number, amount, execution_type)
			 VALUES (?, ?, ?, ?, ?)`,
			alloc.ID, i, acct.AccountNumber, acct.Amount, string(acct.ExecutionType),
		)
		if err != nil {
			return fmt.Errorf("failed to insert distribution row: %w", err)
		}
	}

	return nil
}

// DeleteTx removes a manager's allocation and its distribution
func (r *Repository) DeleteTx(tx *sql.Tx, fundType domain.FundType, managerName string) error {
	result, err := tx.Exec(
		`DELETE FROM manager_allocations WHERE fund_type = ? AND manager_name = ?`,
		string(fundType), managerName,
	)
	if err != nil {
		return fmt.Errorf("failed to delete allocation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return &domain.NotFoundError{Kind: "manager", Key: managerName}
	}

	return nil
}

// loadAccounts retrieves an allocation's distribution in stored order
func (r *Repository) loadAccounts(e executor, allocationID int64) ([]domain.AccountAllocation, error) {
	rows, err := e.Query(
		`SELECT account_number, amount, execution_type
		 FROM allocation_accounts
		 WHERE allocation_id = ?
		 ORDER BY position ASC`,
		allocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	defer rows.Close()

	var accounts []domain.AccountAllocation
	for rows.Next() {
		var a domain.AccountAllocation
		if err := rows.Scan(&a.AccountNumber, &a.Amount, &a.ExecutionType); err != nil {
			return nil, fmt.Errorf("failed to scan distribution row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distribution: %w", err)
	}

	return accounts, nil
}
