package funds

import (
	"database/sql"
	"fmt"
	"math"
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

// Repository handles fund persistence. Funds are created through the
// explicit get-or-create factory, mutated only by the orchestrator and
// never deleted.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new fund repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "funds").Logger(),
	}
}

// Get retrieves a fund, or nil if it does not exist
func (r *Repository) Get(fundType domain.FundType) (*domain.Fund, error) {
	return r.get(r.db, fundType)
}

// GetTx retrieves a fund inside a transaction, or nil if absent
func (r *Repository) GetTx(tx *sql.Tx, fundType domain.FundType) (*domain.Fund, error) {
	return r.get(tx, fundType)
}

func (r *Repository) get(e executor, fundType domain.FundType) (*domain.Fund, error) {
	query := `
		SELECT fund_type, total_capital, allocated_capital, unallocated_capital, updated_at
		FROM funds
		WHERE fund_type = ?
	`

	var f domain.Fund
	var updatedAt string

	err := e.QueryRow(query, string(fundType)).Scan(
		&f.FundType,
		&f.TotalCapital,
		&f.AllocatedCapital,
		&f.UnallocatedCapital,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}

	f.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &f, nil
}

// GetOrCreate retrieves a fund, creating it with zero capital when it
// is referenced for the first time
func (r *Repository) GetOrCreate(fundType domain.FundType) (*domain.Fund, error) {
	return r.getOrCreate(r.db, fundType)
}

// GetOrCreateTx is GetOrCreate inside a transaction
func (r *Repository) GetOrCreateTx(tx *sql.Tx, fundType domain.FundType) (*domain.Fund, error) {
	return r.getOrCreate(tx, fundType)
}

func (r *Repository) getOrCreate(e executor, fundType domain.FundType) (*domain.Fund, error) {
	fund, err := r.get(e, fundType)
	if err != nil {
		return nil, err
	}
	if fund != nil {
		return fund, nil
	}

	now := time.Now()
	_, err = e.Exec(
		`INSERT INTO funds (fund_type, total_capital, allocated_capital, unallocated_capital, updated_at)
		 VALUES (?, 0, 0, 0, ?)`,
		string(fundType), now.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fund: %w", err)
	}

	r.log.Info().Str("fund_type", string(fundType)).Msg("Fund created")

	return &domain.Fund{
		FundType:  fundType,
		UpdatedAt: now,
	}, nil
}

// UpdateCapitalTx persists a fund's capital split. The conservation
// invariant is verified before writing; a violation aborts the
// transaction.
func (r *Repository) UpdateCapitalTx(tx *sql.Tx, fund *domain.Fund) error {
	if err := CheckConservation(fund); err != nil {
		return err
	}

	now := time.Now()
	result, err := tx.Exec(
		`UPDATE funds
		 SET total_capital = ?, allocated_capital = ?, unallocated_capital = ?, updated_at = ?
		 WHERE fund_type = ?`,
		fund.TotalCapital, fund.AllocatedCapital, fund.UnallocatedCapital,
		now.Format(timeFormat), string(fund.FundType),
	)
	if err != nil {
		return fmt.Errorf("failed to update fund capital: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return &domain.NotFoundError{Kind: "fund", Key: string(fund.FundType)}
	}

	fund.UpdatedAt = now
	return nil
}

// List retrieves all funds ordered by fund type
func (r *Repository) List() ([]domain.Fund, error) {
	query := `
		SELECT fund_type, total_capital, allocated_capital, unallocated_capital, updated_at
		FROM funds
		ORDER BY fund_type ASC
	`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query funds: %w", err)
	}
	defer rows.Close()

	var funds []domain.Fund
	for rows.Next() {
		var f domain.Fund
		var updatedAt string
		if err := rows.Scan(&f.FundType, &f.TotalCapital, &f.AllocatedCapital, &f.UnallocatedCapital, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		f.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		funds = append(funds, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funds: %w", err)
	}

	return funds, nil
}

// CheckConservation verifies total == allocated + unallocated within
// epsilon and that no component is negative
func CheckConservation(f *domain.Fund) error {
	if f.TotalCapital < -domain.AmountEpsilon ||
		f.AllocatedCapital < -domain.AmountEpsilon ||
		f.UnallocatedCapital < -domain.AmountEpsilon {
		return fmt.Errorf("fund %s capital invariant violated: negative component (total=%.2f allocated=%.2f unallocated=%.2f)",
			f.FundType, f.TotalCapital, f.AllocatedCapital, f.UnallocatedCapital)
	}
	if math.Abs(f.TotalCapital-(f.AllocatedCapital+f.UnallocatedCapital)) > domain.AmountEpsilon {
		return fmt.Errorf("fund %s capital invariant violated: total %.2f != allocated %.2f + unallocated %.2f",
			f.FundType, f.TotalCapital, f.AllocatedCapital, f.UnallocatedCapital)
	}
	return nil
}
