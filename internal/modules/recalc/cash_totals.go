package recalc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05"

// CashTotalsEngine aggregates the audit trail into running cash-flow
// totals per fund: deposits, withdrawals, losses, gains and net flow.
type CashTotalsEngine struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCashTotalsEngine creates the cash totals engine
func NewCashTotalsEngine(db *sql.DB, log zerolog.Logger) *CashTotalsEngine {
	return &CashTotalsEngine{
		db:  db,
		log: log.With().Str("engine", "cash_totals").Logger(),
	}
}

// Name returns the engine name
func (e *CashTotalsEngine) Name() string {
	return "cash_totals"
}

// Recalculate rebuilds fund_cash_totals from the full history
func (e *CashTotalsEngine) Recalculate(ctx context.Context) error {
	query := `
		SELECT fund_type,
		       COALESCE(SUM(CASE WHEN action_type = 'add_capital' THEN allocation_change ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN action_type = 'withdraw_capital' THEN -allocation_change ELSE 0 END), 0),
		       COALESCE(SUM(loss_amount), 0),
		       COALESCE(SUM(gain_amount), 0)
		FROM allocation_history
		GROUP BY fund_type
	`

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to aggregate history: %w", err)
	}
	defer rows.Close()

	type totals struct {
		fundType    string
		deposits    float64
		withdrawals float64
		losses      float64
		gains       float64
	}

	var all []totals
	for rows.Next() {
		var t totals
		if err := rows.Scan(&t.fundType, &t.deposits, &t.withdrawals, &t.losses, &t.gains); err != nil {
			return fmt.Errorf("failed to scan totals: %w", err)
		}
		all = append(all, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating totals: %w", err)
	}

	now := time.Now().Format(timeFormat)
	for _, t := range all {
		net := t.deposits - t.withdrawals + t.gains - t.losses
		_, err := e.db.ExecContext(ctx, `
			INSERT INTO fund_cash_totals (fund_type, deposits, withdrawals, losses, gains, net_flow, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(fund_type) DO UPDATE SET
				deposits = excluded.deposits,
				withdrawals = excluded.withdrawals,
				losses = excluded.losses,
				gains = excluded.gains,
				net_flow = excluded.net_flow,
				updated_at = excluded.updated_at
		`, t.fundType, t.deposits, t.withdrawals, t.losses, t.gains, net, now)
		if err != nil {
			return fmt.Errorf("failed to upsert cash totals for %s: %w", t.fundType, err)
		}
	}

	e.log.Info().Int("funds", len(all)).Msg("Cash totals rebuilt")
	return nil
}
