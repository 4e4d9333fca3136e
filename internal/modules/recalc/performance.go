package recalc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
	"github.com/fondora/fundledger/internal/modules/history"
	"github.com/fondora/fundledger/pkg/formulas"
)

// PerformanceEngine derives return statistics per fund from the audit
// trail. The total-capital series is replayed record by record; mean
// return, volatility and max drawdown are computed over it.
type PerformanceEngine struct {
	db      *sql.DB
	history *history.Repository
	log     zerolog.Logger
}

// NewPerformanceEngine creates the performance engine
func NewPerformanceEngine(db *sql.DB, historyRepo *history.Repository, log zerolog.Logger) *PerformanceEngine {
	return &PerformanceEngine{
		db:      db,
		history: historyRepo,
		log:     log.With().Str("engine", "performance").Logger(),
	}
}

// Name returns the engine name
func (e *PerformanceEngine) Name() string {
	return "performance"
}

var allFundTypes = []domain.FundType{
	domain.FundBalance,
	domain.FundCore,
	domain.FundDynamic,
	domain.FundSeparation,
	domain.FundRebates,
}

// Recalculate rebuilds fund_metrics for every fund with enough history
func (e *PerformanceEngine) Recalculate(ctx context.Context) error {
	now := time.Now().Format(timeFormat)
	computed := 0

	for _, fundType := range allFundTypes {
		records, err := e.history.ListByFundAsc(fundType)
		if err != nil {
			return fmt.Errorf("failed to load history for %s: %w", fundType, err)
		}

		series := capitalSeries(records)
		// Two returns need three capital points; below that the
		// statistics are meaningless.
		if len(series) < 3 {
			continue
		}

		returns := formulas.CalculateReturns(series)
		meanReturn := formulas.Mean(returns)
		volatility := formulas.StdDev(returns)
		maxDD := formulas.MaxDrawdown(series)

		_, err = e.db.ExecContext(ctx, `
			INSERT INTO fund_metrics (fund_type, observations, mean_return, volatility, max_drawdown, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(fund_type) DO UPDATE SET
				observations = excluded.observations,
				mean_return = excluded.mean_return,
				volatility = excluded.volatility,
				max_drawdown = excluded.max_drawdown,
				updated_at = excluded.updated_at
		`, string(fundType), len(series), meanReturn, volatility, maxDD, now)
		if err != nil {
			return fmt.Errorf("failed to upsert metrics for %s: %w", fundType, err)
		}
		computed++
	}

	e.log.Info().Int("funds", computed).Msg("Fund metrics rebuilt")
	return nil
}

// capitalSeries replays the audit trail into the fund's total-capital
// trajectory, keeping only the records that move total capital
func capitalSeries(records []domain.AllocationHistoryRecord) []float64 {
	var series []float64
	total := 0.0

	for _, rec := range records {
		delta := totalCapitalDelta(&rec)
		if delta == 0 {
			continue
		}
		total += delta
		series = append(series, total)
	}

	return series
}

// totalCapitalDelta returns how a record moved the fund's total capital
func totalCapitalDelta(rec *domain.AllocationHistoryRecord) float64 {
	switch rec.ActionType {
	case domain.ActionAddCapital, domain.ActionWithdrawCapital,
		domain.ActionAbsorbLoss, domain.ActionRecognizeGain:
		return rec.Impact.AllocationChange
	case domain.ActionManagerRemoved:
		return rec.Impact.GainAmount - rec.Impact.LossAmount
	}
	return 0
}
