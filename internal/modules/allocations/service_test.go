package allocations

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fondora/fundledger/internal/database"
	"github.com/fondora/fundledger/internal/domain"
	"github.com/fondora/fundledger/internal/events"
	"github.com/fondora/fundledger/internal/locking"
	"github.com/fondora/fundledger/internal/modules/accounts"
	"github.com/fondora/fundledger/internal/modules/funds"
	"github.com/fondora/fundledger/internal/modules/history"
	"github.com/fondora/fundledger/internal/modules/validation"
)

type stubRecalc struct {
	name  string
	calls int
	fail  bool
}

func (s *stubRecalc) Name() string { return s.name }

func (s *stubRecalc) Recalculate(ctx context.Context) error {
	s.calls++
	if s.fail {
		return fmt.Errorf("engine failure")
	}
	return nil
}

type testEnv struct {
	svc          *Service
	funds        *funds.Repository
	history      *history.Repository
	accountsRepo *accounts.Repository
	db           *database.DB
	recalcs      []*stubRecalc
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := db.Conn()
	for _, init := range []func(*sql.DB) error{
		funds.InitSchema,
		history.InitSchema,
		accounts.InitSchema,
		InitSchema,
	} {
		require.NoError(t, init(conn))
	}

	fundsRepo := funds.NewRepository(conn, zerolog.Nop())
	allocsRepo := NewRepository(conn, zerolog.Nop())
	historyRepo := history.NewRepository(conn, zerolog.Nop())
	accountsRepo := accounts.NewRepository(conn, zerolog.Nop())
	validator := validation.NewService(accountsRepo, zerolog.Nop())

	stubs := []*stubRecalc{{name: "first"}, {name: "second"}}
	recalcs := make([]Recalculator, len(stubs))
	for i, s := range stubs {
		recalcs[i] = s
	}

	svc := NewService(
		db, fundsRepo, allocsRepo, historyRepo, accountsRepo,
		validator, recalcs,
		events.NewManager(zerolog.Nop()),
		locking.NewManager(zerolog.Nop()),
		zerolog.Nop(),
	)

	return &testEnv{
		svc:          svc,
		funds:        fundsRepo,
		history:      historyRepo,
		accountsRepo: accountsRepo,
		db:           db,
		recalcs:      stubs,
	}
}

func (e *testEnv) fundWithCapital(t *testing.T, fundType domain.FundType, total float64) {
	t.Helper()
	_, err := e.svc.SetTotalCapital(fundType, total, "", "", "tester")
	require.NoError(t, err)
}

// dist builds a single-account master distribution covering the full
// allocation amount.
func dist(account string, amount float64) []domain.AccountAllocation {
	return []domain.AccountAllocation{
		{AccountNumber: account, Amount: amount, ExecutionType: domain.ExecutionMaster},
	}
}

func (e *testEnv) assertConservation(t *testing.T, fundType domain.FundType) *domain.Fund {
	t.Helper()
	fund, err := e.funds.Get(fundType)
	require.NoError(t, err)
	require.NotNil(t, fund)
	require.NoError(t, funds.CheckConservation(fund))
	return fund
}

func TestAllocate_NewManager(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 100000)

	alloc, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 30000, dist("100234", 30000), "", "tester")
	require.NoError(t, err)
	assert.Equal(t, 30000.0, alloc.AllocatedAmount)
	assert.Equal(t, 30.0, alloc.AllocationPercentage)

	fund := env.assertConservation(t, domain.FundBalance)
	assert.Equal(t, 100000.0, fund.TotalCapital)
	assert.Equal(t, 30000.0, fund.AllocatedCapital)
	assert.Equal(t, 70000.0, fund.UnallocatedCapital)

	records, err := env.history.ListByFund(domain.FundBalance, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActionManagerAdded, records[0].ActionType)
	assert.Equal(t, "alpha-capital", records[0].AffectedManager)
	assert.Equal(t, 30000.0, records[0].Impact.AllocationChange)
}

func TestAllocate_InsufficientCapital(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 1000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 1010, dist("100234", 1010), "", "tester")
	var insufficient *domain.InsufficientCapitalError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1000.0, insufficient.Available)

	// Nothing was written
	fund := env.assertConservation(t, domain.FundBalance)
	assert.Equal(t, 0.0, fund.AllocatedCapital)
}

func TestAllocate_ExactlyUnallocated(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 1000)

	// Allocating the entire pool is allowed
	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 1000, dist("100234", 1000), "", "tester")
	require.NoError(t, err)

	fund := env.assertConservation(t, domain.FundBalance)
	assert.Equal(t, 0.0, fund.UnallocatedCapital)
}

func TestAllocate_OneCentOverFails(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 1000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 1000.01, dist("100234", 1000.01), "", "tester")
	var insufficient *domain.InsufficientCapitalError
	require.ErrorAs(t, err, &insufficient)
}

func TestAllocate_InvalidAmount(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 1000)

	for _, amount := range []float64{0, -50} {
		_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", amount, nil, "", "tester")
		var invalid *domain.InvalidAmountError
		require.ErrorAs(t, err, &invalid, "amount %v", amount)
	}
}

func TestAllocate_UnknownFundType(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.Allocate("HEDGE", "alpha-capital", 100, nil, "", "tester")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "fund", notFound.Kind)
}

func TestAllocate_DistributionMustSumToAllocation(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 5000, []domain.AccountAllocation{
		{AccountNumber: "100234", Amount: 3000, ExecutionType: domain.ExecutionMaster},
		{AccountNumber: "100235", Amount: 1000, ExecutionType: domain.ExecutionCopy},
	}, "", "tester")

	var mismatch *domain.DistributionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 5000.0, mismatch.Allocation)
	assert.Equal(t, 4000.0, mismatch.DistributionTotal)
}

func TestAllocate_EmptyDistributionRejected(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	// An allocation without accounts sums to zero and breaks the
	// sum(accounts) == allocatedAmount invariant
	for _, distribution := range [][]domain.AccountAllocation{nil, {}} {
		_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, distribution, "", "tester")
		var mismatch *domain.DistributionMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 4000.0, mismatch.Allocation)
		assert.Equal(t, 0.0, mismatch.DistributionTotal)
	}

	fund := env.assertConservation(t, domain.FundBalance)
	assert.Equal(t, 0.0, fund.AllocatedCapital)
}

func TestAllocate_DistributionValidation(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	tests := []struct {
		name         string
		distribution []domain.AccountAllocation
	}{
		{"empty account number", []domain.AccountAllocation{
			{AccountNumber: "", Amount: 5000, ExecutionType: domain.ExecutionMaster},
		}},
		{"duplicate account", []domain.AccountAllocation{
			{AccountNumber: "100234", Amount: 2500, ExecutionType: domain.ExecutionMaster},
			{AccountNumber: "100234", Amount: 2500, ExecutionType: domain.ExecutionCopy},
		}},
		{"non-positive row", []domain.AccountAllocation{
			{AccountNumber: "100234", Amount: 0, ExecutionType: domain.ExecutionMaster},
		}},
		{"unknown execution type", []domain.AccountAllocation{
			{AccountNumber: "100234", Amount: 5000, ExecutionType: "mirror"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 5000, tt.distribution, "", "tester")
			var invalid *domain.InvalidDistributionError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestAllocate_WithValidDistribution(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundCore, 10000)

	alloc, err := env.svc.Allocate(domain.FundCore, "alpha-capital", 5000, []domain.AccountAllocation{
		{AccountNumber: "100234", Amount: 3000, ExecutionType: domain.ExecutionMaster},
		{AccountNumber: "100235", Amount: 2000, ExecutionType: domain.ExecutionCopy},
	}, "", "tester")
	require.NoError(t, err)
	require.Len(t, alloc.Accounts, 2)
	assert.Equal(t, "100234", alloc.Accounts[0].AccountNumber)

	state, err := env.svc.FundState(domain.FundCore)
	require.NoError(t, err)
	require.Len(t, state.ManagerAllocations, 1)
	assert.Len(t, state.ManagerAllocations[0].Accounts, 2)
}

func TestAllocate_EditOnlyMovesDelta(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	// Increase to 6000: only 2000 more drawn
	_, err = env.svc.Allocate(domain.FundBalance, "alpha-capital", 6000, dist("100234", 6000), "", "tester")
	require.NoError(t, err)

	fund := env.assertConservation(t, domain.FundBalance)
	assert.Equal(t, 6000.0, fund.AllocatedCapital)
	assert.Equal(t, 4000.0, fund.UnallocatedCapital)

	// Decrease to 1000: 5000 returned
	_, err = env.svc.Allocate(domain.FundBalance, "alpha-capital", 1000, dist("100234", 1000), "", "tester")
	require.NoError(t, err)

	fund = env.assertConservation(t, domain.FundBalance)
	assert.Equal(t, 1000.0, fund.AllocatedCapital)
	assert.Equal(t, 9000.0, fund.UnallocatedCapital)

	records, err := env.history.ListByFund(domain.FundBalance, 0)
	require.NoError(t, err)
	// add_capital + manager_added + increase + decrease
	require.Len(t, records, 4)
	assert.Equal(t, domain.ActionAllocationDecreased, records[0].ActionType)
	assert.Equal(t, -5000.0, records[0].Impact.AllocationChange)
	assert.Equal(t, domain.ActionAllocationIncreased, records[1].ActionType)
}

func TestAllocate_EditIncreaseBoundedByUnallocated(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	// 6000 unallocated remain; asking for +7000 more must fail
	_, err = env.svc.Allocate(domain.FundBalance, "alpha-capital", 11000, dist("100234", 11000), "", "tester")
	var insufficient *domain.InsufficientCapitalError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 7000.0, insufficient.Requested)
	assert.Equal(t, 6000.0, insufficient.Available)
}

func TestAllocate_ZeroDeltaEditLeavesNoAuditRecord(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 5000, []domain.AccountAllocation{
		{AccountNumber: "100234", Amount: 5000, ExecutionType: domain.ExecutionMaster},
	}, "", "tester")
	require.NoError(t, err)

	before, err := env.history.ListByFund(domain.FundBalance, 0)
	require.NoError(t, err)

	// Same amount, different split
	alloc, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 5000, []domain.AccountAllocation{
		{AccountNumber: "100234", Amount: 2500, ExecutionType: domain.ExecutionMaster},
		{AccountNumber: "100235", Amount: 2500, ExecutionType: domain.ExecutionCopy},
	}, "", "tester")
	require.NoError(t, err)
	assert.Len(t, alloc.Accounts, 2)

	after, err := env.history.ListByFund(domain.FundBalance, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestRemove_CleanReturn(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	fund, err := env.svc.Remove(domain.FundBalance, "alpha-capital", 4000, "", "", "tester")
	require.NoError(t, err)
	require.NoError(t, funds.CheckConservation(fund))
	assert.Equal(t, 10000.0, fund.TotalCapital)
	assert.Equal(t, 0.0, fund.AllocatedCapital)
	assert.Equal(t, 10000.0, fund.UnallocatedCapital)

	// Manager is gone
	state, err := env.svc.FundState(domain.FundBalance)
	require.NoError(t, err)
	assert.Empty(t, state.ManagerAllocations)
}

func TestRemove_LossAbsorbed(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	fund, err := env.svc.Remove(domain.FundBalance, "alpha-capital", 3000, domain.AbsorbLoss, "", "tester")
	require.NoError(t, err)
	require.NoError(t, funds.CheckConservation(fund))
	assert.Equal(t, 9000.0, fund.TotalCapital)
	assert.Equal(t, 0.0, fund.AllocatedCapital)
	assert.Equal(t, 9000.0, fund.UnallocatedCapital)

	records, err := env.history.ListByFund(domain.FundBalance, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActionManagerRemoved, records[0].ActionType)
	assert.Equal(t, 1000.0, records[0].Impact.LossAmount)
	assert.Equal(t, -4000.0, records[0].Impact.AllocationChange)
}

func TestRemove_LossCoveredFromReserves(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	fund, err := env.svc.Remove(domain.FundBalance, "alpha-capital", 3000, domain.CoverFromReserves, "", "tester")
	require.NoError(t, err)
	require.NoError(t, funds.CheckConservation(fund))
	// Total preserved: the shortfall is carried by reserves
	assert.Equal(t, 10000.0, fund.TotalCapital)
	assert.Equal(t, 10000.0, fund.UnallocatedCapital)
}

func TestRemove_LossMarkedReceivable(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	fund, err := env.svc.Remove(domain.FundBalance, "alpha-capital", 2500, domain.MarkReceivable, "", "tester")
	require.NoError(t, err)
	require.NoError(t, funds.CheckConservation(fund))
	assert.Equal(t, 8500.0, fund.TotalCapital)

	records, err := env.history.ListByFund(domain.FundBalance, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Notes, "receivable")
	assert.Equal(t, 1500.0, records[0].Impact.LossAmount)
}

func TestRemove_LossRequiresValidPolicy(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	_, err = env.svc.Remove(domain.FundBalance, "alpha-capital", 3000, "", "", "tester")
	var invalidPolicy *domain.InvalidLossHandlingError
	require.ErrorAs(t, err, &invalidPolicy)

	// Allocation untouched
	state, err := env.svc.FundState(domain.FundBalance)
	require.NoError(t, err)
	require.Len(t, state.ManagerAllocations, 1)
}

func TestRemove_GainRecognized(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 4000, dist("100234", 4000), "", "tester")
	require.NoError(t, err)

	fund, err := env.svc.Remove(domain.FundBalance, "alpha-capital", 4600, "", "", "tester")
	require.NoError(t, err)
	require.NoError(t, funds.CheckConservation(fund))
	assert.Equal(t, 10600.0, fund.TotalCapital)
	assert.Equal(t, 10600.0, fund.UnallocatedCapital)

	records, err := env.history.ListByFund(domain.FundBalance, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 600.0, records[0].Impact.GainAmount)
	assert.Zero(t, records[0].Impact.LossAmount)
}

func TestRemove_UnknownManager(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Remove(domain.FundBalance, "nobody", 0, "", "", "tester")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "manager", notFound.Kind)
}

func TestSetTotalCapital_RaiseAndLower(t *testing.T) {
	env := setupService(t)

	fund, err := env.svc.SetTotalCapital(domain.FundCore, 50000, "", "", "tester")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, fund.TotalCapital)
	assert.Equal(t, 50000.0, fund.UnallocatedCapital)

	fund, err = env.svc.SetTotalCapital(domain.FundCore, 30000, "", "", "tester")
	require.NoError(t, err)
	assert.Equal(t, 30000.0, fund.TotalCapital)

	records, err := env.history.ListByFund(domain.FundCore, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.ActionWithdrawCapital, records[0].ActionType)
	assert.Equal(t, -20000.0, records[0].Impact.AllocationChange)
	assert.Equal(t, domain.ActionAddCapital, records[1].ActionType)
	assert.Equal(t, 50000.0, records[1].Impact.AllocationChange)
}

func TestSetTotalCapital_CannotCutIntoAllocations(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.Allocate(domain.FundBalance, "alpha-capital", 8000, dist("100234", 8000), "", "tester")
	require.NoError(t, err)

	// 8000 is committed to managers; the total cannot drop below it
	_, err = env.svc.SetTotalCapital(domain.FundBalance, 7000, "", "", "tester")
	var invalid *domain.InvalidCapitalError
	require.ErrorAs(t, err, &invalid)

	fund := env.assertConservation(t, domain.FundBalance)
	assert.Equal(t, 10000.0, fund.TotalCapital)
}

func TestSetTotalCapital_NoOpRejected(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.SetTotalCapital(domain.FundBalance, 0, "", "", "tester")
	var invalid *domain.InvalidCapitalError
	require.ErrorAs(t, err, &invalid)

	env.fundWithCapital(t, domain.FundBalance, 10000)
	_, err = env.svc.SetTotalCapital(domain.FundBalance, 10000, "", "", "tester")
	require.ErrorAs(t, err, &invalid)
}

func TestSetTotalCapital_ReasonSignConsistency(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundBalance, 10000)

	_, err := env.svc.SetTotalCapital(domain.FundBalance, 9500, domain.ActionAddCapital, "", "tester")
	var invalid *domain.InvalidCapitalError
	require.ErrorAs(t, err, &invalid)

	_, err = env.svc.SetTotalCapital(domain.FundBalance, 10500, domain.ActionAbsorbLoss, "", "tester")
	require.ErrorAs(t, err, &invalid)

	_, err = env.svc.SetTotalCapital(domain.FundBalance, 10500, domain.ActionManagerAdded, "", "tester")
	require.ErrorAs(t, err, &invalid)

	// Explicit, sign-consistent reasons pass and set the impact fields
	_, err = env.svc.SetTotalCapital(domain.FundBalance, 9500, domain.ActionAbsorbLoss, "flood damage", "tester")
	require.NoError(t, err)

	records, err := env.history.ListByFund(domain.FundBalance, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActionAbsorbLoss, records[0].ActionType)
	assert.Equal(t, 500.0, records[0].Impact.LossAmount)
	assert.Equal(t, "flood damage", records[0].Notes)
}

func TestFundState_Percentages(t *testing.T) {
	env := setupService(t)
	env.fundWithCapital(t, domain.FundDynamic, 20000)

	_, err := env.svc.Allocate(domain.FundDynamic, "alpha-capital", 5000, dist("100234", 5000), "", "tester")
	require.NoError(t, err)
	_, err = env.svc.Allocate(domain.FundDynamic, "beta-fm", 10000, dist("100235", 10000), "", "tester")
	require.NoError(t, err)

	state, err := env.svc.FundState(domain.FundDynamic)
	require.NoError(t, err)
	require.Len(t, state.ManagerAllocations, 2)
	// Ordered by manager name
	assert.Equal(t, "alpha-capital", state.ManagerAllocations[0].ManagerName)
	assert.Equal(t, 25.0, state.ManagerAllocations[0].AllocationPercentage)
	assert.Equal(t, 50.0, state.ManagerAllocations[1].AllocationPercentage)
}

func assignAllAxes(t *testing.T, env *testEnv, accountNumber string) {
	t.Helper()

	_, err := env.accountsRepo.UpsertBalance(accountNumber, 1000)
	require.NoError(t, err)

	tx, err := env.db.Begin()
	require.NoError(t, err)
	for axis, value := range map[domain.AssignmentAxis]string{
		domain.AxisManager:  "alpha-capital",
		domain.AxisFund:     "CORE",
		domain.AxisBroker:   "ic-markets",
		domain.AxisPlatform: "mt5",
	} {
		v := value
		require.NoError(t, env.accountsRepo.SetAxisTx(tx, accountNumber, axis, &v))
	}
	require.NoError(t, tx.Commit())
}

func TestApply_BlockedByUnassignedAccount(t *testing.T) {
	env := setupService(t)

	_, err := env.accountsRepo.UpsertBalance("100234", 1000)
	require.NoError(t, err)

	_, err = env.svc.Apply(context.Background(), "tester")
	var failed *domain.ValidationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.UnassignedCount)

	// No engine ran
	for _, stub := range env.recalcs {
		assert.Zero(t, stub.calls)
	}
}

func TestApply_CommitsAndRunsRecalcs(t *testing.T) {
	env := setupService(t)
	assignAllAxes(t, env, "100234")

	report, err := env.svc.Apply(context.Background(), "tester")
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.AccountsUpdated)
	assert.Equal(t, 2, report.CalculationsRun)
	assert.Empty(t, report.RecalcErrors)

	for _, stub := range env.recalcs {
		assert.Equal(t, 1, stub.calls)
	}

	account, err := env.accountsRepo.Get("100234")
	require.NoError(t, err)
	require.NotNil(t, account.AppliedManager)
	assert.Equal(t, "alpha-capital", *account.AppliedManager)
}

func TestApply_RecalcFailureDoesNotRollBack(t *testing.T) {
	env := setupService(t)
	assignAllAxes(t, env, "100234")
	env.recalcs[0].fail = true

	report, err := env.svc.Apply(context.Background(), "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, report.AccountsUpdated)
	assert.Equal(t, 1, report.CalculationsRun)
	require.Len(t, report.RecalcErrors, 1)
	assert.Contains(t, report.RecalcErrors[0], "first")

	// The commit stands despite the failed engine
	account, err := env.accountsRepo.Get("100234")
	require.NoError(t, err)
	assert.NotNil(t, account.AppliedManager)
}

func TestApply_Idempotent(t *testing.T) {
	env := setupService(t)
	assignAllAxes(t, env, "100234")

	first, err := env.svc.Apply(context.Background(), "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, first.AccountsUpdated)

	second, err := env.svc.Apply(context.Background(), "tester")
	require.NoError(t, err)
	assert.Equal(t, 0, second.AccountsUpdated)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestHistory_UnknownFund(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.History("HEDGE", 0)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
