package recalc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CommissionEngine recomputes each manager's commission basis from the
// current allocations. The basis is the allocated amount; the payable
// commission is basis times the configured rate.
type CommissionEngine struct {
	db   *sql.DB
	rate float64
	log  zerolog.Logger
}

// NewCommissionEngine creates the commission engine
func NewCommissionEngine(db *sql.DB, rate float64, log zerolog.Logger) *CommissionEngine {
	return &CommissionEngine{
		db:   db,
		rate: rate,
		log:  log.With().Str("engine", "commission").Logger(),
	}
}

// Name returns the engine name
func (e *CommissionEngine) Name() string {
	return "commission"
}

// Recalculate rebuilds manager_commission_basis from manager_allocations
func (e *CommissionEngine) Recalculate(ctx context.Context) error {
	// Clear first: managers removed since the last run must not keep a
	// stale basis row.
	if _, err := e.db.ExecContext(ctx, `DELETE FROM manager_commission_basis`); err != nil {
		return fmt.Errorf("failed to clear commission basis: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT fund_type, manager_name, allocated_amount
		FROM manager_allocations
		ORDER BY fund_type, manager_name
	`)
	if err != nil {
		return fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	type basis struct {
		fundType string
		manager  string
		amount   float64
	}

	var all []basis
	for rows.Next() {
		var b basis
		if err := rows.Scan(&b.fundType, &b.manager, &b.amount); err != nil {
			return fmt.Errorf("failed to scan allocation: %w", err)
		}
		all = append(all, b)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating allocations: %w", err)
	}

	now := time.Now().Format(timeFormat)
	for _, b := range all {
		_, err := e.db.ExecContext(ctx, `
			INSERT INTO manager_commission_basis
				(fund_type, manager_name, basis_amount, commission_rate, commission_amount, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, b.fundType, b.manager, b.amount, e.rate, b.amount*e.rate, now)
		if err != nil {
			return fmt.Errorf("failed to insert commission basis for %s/%s: %w", b.fundType, b.manager, err)
		}
	}

	e.log.Info().Int("managers", len(all)).Float64("rate", e.rate).Msg("Commission basis rebuilt")
	return nil
}
