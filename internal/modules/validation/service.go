package validation

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
	"github.com/fondora/fundledger/internal/modules/accounts"
)

// Service computes whether the current assignment state is complete
// enough to apply. The result is advisory: the orchestrator re-runs
// this check immediately before commit rather than trusting a result
// the UI may have displayed for a while.
type Service struct {
	accountsRepo *accounts.Repository
	log          zerolog.Logger
}

// NewService creates a new validation service
func NewService(accountsRepo *accounts.Repository, log zerolog.Logger) *Service {
	return &Service{
		accountsRepo: accountsRepo,
		log:          log.With().Str("service", "validation").Logger(),
	}
}

// Validate classifies every trading account and reports whether apply
// is allowed. Accounts are processed in account-number order, so two
// calls with no intervening mutation return identical results.
func (s *Service) Validate() (*domain.ValidationResult, error) {
	accts, err := s.accountsRepo.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	result := &domain.ValidationResult{
		UnassignedAccounts: []string{},
		IncompleteAccounts: []domain.IncompleteAccount{},
		PendingChanges:     []domain.PendingChange{},
	}

	for i := range accts {
		a := &accts[i]

		missing := a.MissingAxes()
		switch {
		case len(missing) == len(domain.RequiredAxes):
			result.UnassignedAccounts = append(result.UnassignedAccounts, a.AccountNumber)
		case len(missing) > 0:
			result.IncompleteAccounts = append(result.IncompleteAccounts, domain.IncompleteAccount{
				AccountNumber: a.AccountNumber,
				MissingAxes:   missing,
			})
		}

		result.PendingChanges = append(result.PendingChanges, pendingChanges(a)...)
	}

	result.CanApply = len(result.UnassignedAccounts) == 0 && len(result.IncompleteAccounts) == 0
	result.Reason = buildReason(result)

	return result, nil
}

// pendingChanges diffs an account's live axes against the last-applied
// state
func pendingChanges(a *domain.TradingAccount) []domain.PendingChange {
	var changes []domain.PendingChange
	for _, axis := range domain.RequiredAxes {
		current := deref(a.AxisValue(axis))
		applied := deref(a.AppliedAxisValue(axis))
		if current != applied {
			changes = append(changes, domain.PendingChange{
				AccountNumber: a.AccountNumber,
				Axis:          axis,
				From:          applied,
				To:            current,
			})
		}
	}
	return changes
}

// buildReason produces the human-readable gate summary
func buildReason(r *domain.ValidationResult) string {
	if r.CanApply {
		if len(r.PendingChanges) == 0 {
			return "all accounts fully assigned; no pending changes"
		}
		return fmt.Sprintf("all accounts fully assigned; %d pending change(s) ready to apply", len(r.PendingChanges))
	}

	var parts []string
	if n := len(r.UnassignedAccounts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d account(s) unassigned", n))
	}
	if n := len(r.IncompleteAccounts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d account(s) missing required assignments", n))
	}
	return strings.Join(parts, "; ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
