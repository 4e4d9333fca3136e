package allocations

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/database"
	"github.com/fondora/fundledger/internal/domain"
	"github.com/fondora/fundledger/internal/events"
	"github.com/fondora/fundledger/internal/locking"
	"github.com/fondora/fundledger/internal/modules/accounts"
	"github.com/fondora/fundledger/internal/modules/funds"
	"github.com/fondora/fundledger/internal/modules/history"
	"github.com/fondora/fundledger/internal/modules/validation"
)

// Recalculator is a downstream calculation engine re-run after a
// successful apply. Engines are independent of each other; a failure
// in one does not stop the rest.
type Recalculator interface {
	Name() string
	Recalculate(ctx context.Context) error
}

// Service orchestrates every capital-affecting operation. Each
// operation takes the owning fund's lock, then performs its reads,
// validation and writes inside one transaction, so the capital it
// checked is the capital it mutates.
type Service struct {
	db        *database.DB
	funds     *funds.Repository
	allocs    *Repository
	history   *history.Repository
	accounts  *accounts.Repository
	validator *validation.Service
	recalcs   []Recalculator
	events    *events.Manager
	locks     *locking.Manager
	log       zerolog.Logger
}

// NewService creates the allocation orchestrator
func NewService(
	db *database.DB,
	fundsRepo *funds.Repository,
	allocsRepo *Repository,
	historyRepo *history.Repository,
	accountsRepo *accounts.Repository,
	validator *validation.Service,
	recalcs []Recalculator,
	eventManager *events.Manager,
	locks *locking.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:        db,
		funds:     fundsRepo,
		allocs:    allocsRepo,
		history:   historyRepo,
		accounts:  accountsRepo,
		validator: validator,
		recalcs:   recalcs,
		events:    eventManager,
		locks:     locks,
		log:       log.With().Str("service", "allocations").Logger(),
	}
}

func fundLockKey(fundType domain.FundType) string {
	return "fund:" + string(fundType)
}

// round2 normalizes a currency amount to cents. Capital components are
// rounded after every mutation so epsilon comparisons stay stable over
// long chains of operations.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Funds returns all funds
func (s *Service) Funds() ([]domain.Fund, error) {
	return s.funds.List()
}

// FundState returns a fund's capital split together with its manager
// allocations. The fund is created with zero capital on first access.
func (s *Service) FundState(fundType domain.FundType) (*domain.FundState, error) {
	if !domain.ValidFundType(fundType) {
		return nil, &domain.NotFoundError{Kind: "fund", Key: string(fundType)}
	}

	fund, err := s.funds.GetOrCreate(fundType)
	if err != nil {
		return nil, err
	}

	allocations, err := s.allocs.ListByFund(fundType)
	if err != nil {
		return nil, err
	}

	for i := range allocations {
		if fund.TotalCapital > domain.AmountEpsilon {
			allocations[i].AllocationPercentage = round2(allocations[i].AllocatedAmount / fund.TotalCapital * 100)
		}
	}

	return &domain.FundState{
		Fund:               *fund,
		ManagerAllocations: allocations,
	}, nil
}

// Allocate assigns capital to a manager within a fund, or changes an
// existing allocation to a new amount and distribution. Only the delta
// against the current allocation is drawn from (or returned to) the
// unallocated pool.
func (s *Service) Allocate(fundType domain.FundType, managerName string, amount float64, distribution []domain.AccountAllocation, notes, performedBy string) (*domain.ManagerAllocation, error) {
	if !domain.ValidFundType(fundType) {
		return nil, &domain.NotFoundError{Kind: "fund", Key: string(fundType)}
	}
	if managerName == "" {
		return nil, &domain.NotFoundError{Kind: "manager", Key: managerName}
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, &domain.InvalidAmountError{Amount: amount, Detail: "amount is not a finite number"}
	}
	if amount <= 0 {
		return nil, &domain.InvalidAmountError{Amount: amount}
	}
	if err := checkDistribution(amount, distribution); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(fundLockKey(fundType))
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fund, err := s.funds.GetOrCreateTx(tx, fundType)
	if err != nil {
		return nil, err
	}

	existing, err := s.allocs.GetTx(tx, fundType, managerName)
	if err != nil {
		return nil, err
	}

	var previousAmount float64
	if existing != nil {
		previousAmount = existing.AllocatedAmount
	}

	// Amounts are rounded to cents, so anything past float noise over
	// the pool is a real overdraw; a single cent over must fail.
	delta := round2(amount - previousAmount)
	if delta > fund.UnallocatedCapital+1e-9 {
		return nil, &domain.InsufficientCapitalError{
			Requested: delta,
			Available: fund.UnallocatedCapital,
		}
	}

	fund.AllocatedCapital = round2(fund.AllocatedCapital + delta)
	fund.UnallocatedCapital = round2(fund.UnallocatedCapital - delta)
	if err := s.funds.UpdateCapitalTx(tx, fund); err != nil {
		return nil, err
	}

	alloc := &domain.ManagerAllocation{
		FundType:        fundType,
		ManagerName:     managerName,
		AllocatedAmount: round2(amount),
		Accounts:        distribution,
	}
	if err := s.allocs.UpsertTx(tx, alloc); err != nil {
		return nil, err
	}

	// Zero-delta edits change only the distribution; they are not
	// capital-affecting and leave no audit record.
	if existing == nil || math.Abs(delta) > domain.AmountEpsilon {
		rec := &domain.AllocationHistoryRecord{
			FundType:        fundType,
			ActionType:      allocateAction(existing != nil, delta),
			AffectedManager: managerName,
			Impact:          domain.FinancialImpact{AllocationChange: delta},
			Notes:           allocateNotes(existing != nil, previousAmount, amount),
			PerformedBy:     performedBy,
		}
		if notes != "" {
			rec.Notes += "; " + notes
		}
		if _, err := s.history.AppendTx(tx, rec); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit allocation: %w", err)
	}

	if fund.TotalCapital > domain.AmountEpsilon {
		alloc.AllocationPercentage = round2(alloc.AllocatedAmount / fund.TotalCapital * 100)
	}

	s.log.Info().
		Str("fund_type", string(fundType)).
		Str("manager", managerName).
		Float64("amount", alloc.AllocatedAmount).
		Float64("delta", delta).
		Msg("Manager allocation saved")

	s.events.Emit(events.ManagerAllocated, "allocations", map[string]interface{}{
		"fund_type": string(fundType),
		"manager":   managerName,
		"amount":    alloc.AllocatedAmount,
		"delta":     delta,
	})

	return alloc, nil
}

func allocateAction(existed bool, delta float64) domain.ActionType {
	switch {
	case !existed:
		return domain.ActionManagerAdded
	case delta > 0:
		return domain.ActionAllocationIncreased
	default:
		return domain.ActionAllocationDecreased
	}
}

func allocateNotes(existed bool, previous, amount float64) string {
	if !existed {
		return fmt.Sprintf("allocated $%.2f", amount)
	}
	return fmt.Sprintf("allocation changed from $%.2f to $%.2f", previous, amount)
}

// checkDistribution validates the per-account split against the
// allocation amount. Every allocation must name the accounts realizing
// it; an empty distribution sums to zero and fails the sum check.
func checkDistribution(amount float64, distribution []domain.AccountAllocation) error {
	seen := make(map[string]bool, len(distribution))
	var total float64
	for _, row := range distribution {
		if row.AccountNumber == "" {
			return &domain.InvalidDistributionError{Detail: "account number is required"}
		}
		if seen[row.AccountNumber] {
			return &domain.InvalidDistributionError{Detail: fmt.Sprintf("duplicate account %s", row.AccountNumber)}
		}
		seen[row.AccountNumber] = true

		if math.IsNaN(row.Amount) || math.IsInf(row.Amount, 0) || row.Amount <= 0 {
			return &domain.InvalidDistributionError{Detail: fmt.Sprintf("account %s amount must be greater than zero", row.AccountNumber)}
		}
		if !domain.ValidExecutionType(row.ExecutionType) {
			return &domain.InvalidDistributionError{Detail: fmt.Sprintf("unknown execution type %q for account %s", row.ExecutionType, row.AccountNumber)}
		}
		total += row.Amount
	}

	if math.Abs(total-amount) > domain.AmountEpsilon {
		return &domain.DistributionMismatchError{Allocation: amount, DistributionTotal: round2(total)}
	}
	return nil
}

// Remove settles a manager out of a fund. The manager's actual closing
// balance is compared against the expected allocation; a shortfall is
// handled per the loss policy, a surplus is recognized as a gain.
func (s *Service) Remove(fundType domain.FundType, managerName string, actualBalance float64, policy domain.LossHandling, notes, performedBy string) (*domain.Fund, error) {
	if !domain.ValidFundType(fundType) {
		return nil, &domain.NotFoundError{Kind: "fund", Key: string(fundType)}
	}
	if math.IsNaN(actualBalance) || math.IsInf(actualBalance, 0) || actualBalance < 0 {
		return nil, &domain.InvalidAmountError{Amount: actualBalance, Detail: "actual balance must be zero or positive"}
	}

	unlock := s.locks.Lock(fundLockKey(fundType))
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fund, err := s.funds.GetTx(tx, fundType)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, &domain.NotFoundError{Kind: "fund", Key: string(fundType)}
	}

	alloc, err := s.allocs.GetTx(tx, fundType, managerName)
	if err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, &domain.NotFoundError{Kind: "manager", Key: managerName}
	}

	expected := alloc.AllocatedAmount
	diff := round2(actualBalance - expected)

	rec := &domain.AllocationHistoryRecord{
		FundType:        fundType,
		ActionType:      domain.ActionManagerRemoved,
		AffectedManager: managerName,
		Impact:          domain.FinancialImpact{AllocationChange: -expected},
		PerformedBy:     performedBy,
	}

	fund.AllocatedCapital = round2(fund.AllocatedCapital - expected)

	switch {
	case diff < -domain.AmountEpsilon:
		loss := -diff
		if !domain.ValidLossHandling(policy) {
			return nil, &domain.InvalidLossHandlingError{Policy: string(policy)}
		}
		rec.Impact.LossAmount = loss

		switch policy {
		case domain.AbsorbLoss:
			fund.TotalCapital = round2(fund.TotalCapital - loss)
			fund.UnallocatedCapital = round2(fund.UnallocatedCapital + actualBalance)
			rec.Notes = fmt.Sprintf("removed with $%.2f returned of $%.2f expected; loss $%.2f absorbed", actualBalance, expected, loss)
		case domain.CoverFromReserves:
			fund.UnallocatedCapital = round2(fund.UnallocatedCapital + expected)
			rec.Notes = fmt.Sprintf("removed with $%.2f returned of $%.2f expected; loss $%.2f covered from reserves", actualBalance, expected, loss)
			if loss > fund.UnallocatedCapital {
				s.log.Warn().
					Str("fund_type", string(fundType)).
					Str("manager", managerName).
					Float64("loss", loss).
					Float64("unallocated", fund.UnallocatedCapital).
					Msg("Loss covered from reserves exceeds unallocated capital")
			}
		case domain.MarkReceivable:
			fund.TotalCapital = round2(fund.TotalCapital - loss)
			fund.UnallocatedCapital = round2(fund.UnallocatedCapital + actualBalance)
			rec.Notes = fmt.Sprintf("removed with $%.2f returned of $%.2f expected; $%.2f marked receivable from %s", actualBalance, expected, loss, managerName)
		}

	case diff > domain.AmountEpsilon:
		fund.TotalCapital = round2(fund.TotalCapital + diff)
		fund.UnallocatedCapital = round2(fund.UnallocatedCapital + actualBalance)
		rec.Impact.GainAmount = diff
		rec.Notes = fmt.Sprintf("removed with $%.2f returned of $%.2f expected; gain $%.2f recognized", actualBalance, expected, diff)

	default:
		fund.UnallocatedCapital = round2(fund.UnallocatedCapital + expected)
		rec.Notes = fmt.Sprintf("removed with full $%.2f returned", expected)
	}
	if notes != "" {
		rec.Notes += "; " + notes
	}

	if err := s.funds.UpdateCapitalTx(tx, fund); err != nil {
		return nil, err
	}
	if err := s.allocs.DeleteTx(tx, fundType, managerName); err != nil {
		return nil, err
	}
	if _, err := s.history.AppendTx(tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit removal: %w", err)
	}

	s.log.Info().
		Str("fund_type", string(fundType)).
		Str("manager", managerName).
		Float64("expected", expected).
		Float64("actual", actualBalance).
		Msg("Manager removed")

	s.events.Emit(events.ManagerRemoved, "allocations", map[string]interface{}{
		"fund_type":      string(fundType),
		"manager":        managerName,
		"expected":       expected,
		"actual_balance": actualBalance,
		"loss":           rec.Impact.LossAmount,
		"gain":           rec.Impact.GainAmount,
	})

	return fund, nil
}

// SetTotalCapital moves a fund's total capital to newTotal. The
// unallocated pool is recomputed as newTotal minus committed
// allocations, so the total can never shrink below what managers
// already hold. A no-op change is rejected.
func (s *Service) SetTotalCapital(fundType domain.FundType, newTotal float64, reason domain.ActionType, notes, performedBy string) (*domain.Fund, error) {
	if !domain.ValidFundType(fundType) {
		return nil, &domain.NotFoundError{Kind: "fund", Key: string(fundType)}
	}
	if math.IsNaN(newTotal) || math.IsInf(newTotal, 0) || newTotal < 0 {
		return nil, &domain.InvalidAmountError{Amount: newTotal, Detail: "total capital must be a finite, non-negative amount"}
	}
	newTotal = round2(newTotal)

	unlock := s.locks.Lock(fundLockKey(fundType))
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fund, err := s.funds.GetOrCreateTx(tx, fundType)
	if err != nil {
		return nil, err
	}

	delta := round2(newTotal - fund.TotalCapital)
	if math.Abs(delta) <= domain.AmountEpsilon {
		return nil, &domain.InvalidCapitalError{Detail: "new total equals the current total"}
	}
	if newTotal < fund.AllocatedCapital-1e-9 {
		return nil, &domain.InvalidCapitalError{
			Requested: newTotal,
			Allocated: fund.AllocatedCapital,
		}
	}

	action, err := capitalAction(delta, reason)
	if err != nil {
		return nil, err
	}

	fund.TotalCapital = newTotal
	fund.UnallocatedCapital = round2(newTotal - fund.AllocatedCapital)
	if err := s.funds.UpdateCapitalTx(tx, fund); err != nil {
		return nil, err
	}

	rec := &domain.AllocationHistoryRecord{
		FundType:    fundType,
		ActionType:  action,
		Impact:      domain.FinancialImpact{AllocationChange: delta},
		Notes:       notes,
		PerformedBy: performedBy,
	}
	switch action {
	case domain.ActionAbsorbLoss:
		rec.Impact.LossAmount = -delta
	case domain.ActionRecognizeGain:
		rec.Impact.GainAmount = delta
	}
	if rec.Notes == "" {
		rec.Notes = fmt.Sprintf("total capital changed by $%.2f to $%.2f", delta, fund.TotalCapital)
	}
	if _, err := s.history.AppendTx(tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit capital adjustment: %w", err)
	}

	s.log.Info().
		Str("fund_type", string(fundType)).
		Str("action", string(action)).
		Float64("delta", delta).
		Float64("total", fund.TotalCapital).
		Msg("Fund capital adjusted")

	s.events.Emit(events.CapitalAdjusted, "allocations", map[string]interface{}{
		"fund_type": string(fundType),
		"action":    string(action),
		"delta":     delta,
		"total":     fund.TotalCapital,
	})

	return fund, nil
}

// capitalAction resolves the history action for a capital adjustment.
// An empty reason derives deposit/withdrawal from the delta sign; an
// explicit reason must be sign-consistent.
func capitalAction(delta float64, reason domain.ActionType) (domain.ActionType, error) {
	if reason == "" {
		if delta > 0 {
			return domain.ActionAddCapital, nil
		}
		return domain.ActionWithdrawCapital, nil
	}

	switch reason {
	case domain.ActionAddCapital, domain.ActionRecognizeGain:
		if delta < 0 {
			return "", &domain.InvalidCapitalError{Detail: fmt.Sprintf("reason %s requires a positive delta", reason)}
		}
	case domain.ActionWithdrawCapital, domain.ActionAbsorbLoss:
		if delta > 0 {
			return "", &domain.InvalidCapitalError{Detail: fmt.Sprintf("reason %s requires a negative delta", reason)}
		}
	default:
		return "", &domain.InvalidCapitalError{Detail: fmt.Sprintf("unknown reason %q", reason)}
	}
	return reason, nil
}

// Validate runs the apply gate check without committing anything
func (s *Service) Validate() (*domain.ValidationResult, error) {
	return s.validator.Validate()
}

// Apply commits the current assignment state. The gate check is re-run
// under the same locks the commit holds, so the state validated is the
// state committed. Once the applied_* columns are durable, downstream
// recalculation engines run; their failures are reported but never roll
// back the commit.
func (s *Service) Apply(ctx context.Context, performedBy string) (*domain.ApplyReport, error) {
	unlockGlobal := s.locks.LockGlobal()
	defer unlockGlobal()
	unlockAccounts := s.locks.Lock("accounts")
	defer unlockAccounts()

	result, err := s.validator.Validate()
	if err != nil {
		return nil, err
	}
	if !result.CanApply {
		return nil, &domain.ValidationFailedError{
			Reason:          result.Reason,
			UnassignedCount: len(result.UnassignedAccounts),
			IncompleteCount: len(result.IncompleteAccounts),
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated, err := s.accounts.MarkAppliedTx(tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit apply: %w", err)
	}

	report := &domain.ApplyReport{
		RunID:           uuid.New().String(),
		AccountsUpdated: updated,
	}

	for _, engine := range s.recalcs {
		start := time.Now()
		if err := engine.Recalculate(ctx); err != nil {
			s.log.Error().Err(err).Str("engine", engine.Name()).Msg("Recalculation failed")
			report.RecalcErrors = append(report.RecalcErrors, fmt.Sprintf("%s: %v", engine.Name(), err))
			continue
		}
		report.CalculationsRun++
		s.log.Info().
			Str("engine", engine.Name()).
			Dur("duration", time.Since(start)).
			Msg("Recalculation completed")
	}

	s.log.Info().
		Str("run_id", report.RunID).
		Int("accounts_updated", report.AccountsUpdated).
		Int("calculations_run", report.CalculationsRun).
		Int("recalc_errors", len(report.RecalcErrors)).
		Str("performed_by", performedBy).
		Msg("Allocations applied")

	s.events.Emit(events.AllocationsApplied, "allocations", map[string]interface{}{
		"run_id":           report.RunID,
		"accounts_updated": report.AccountsUpdated,
		"calculations_run": report.CalculationsRun,
		"recalc_errors":    len(report.RecalcErrors),
		"performed_by":     performedBy,
	})

	return report, nil
}

// History returns a fund's audit trail, newest first
func (s *Service) History(fundType domain.FundType, limit int) ([]domain.AllocationHistoryRecord, error) {
	if !domain.ValidFundType(fundType) {
		return nil, &domain.NotFoundError{Kind: "fund", Key: string(fundType)}
	}
	return s.history.ListByFund(fundType, limit)
}
