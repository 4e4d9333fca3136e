package accounts

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
	"github.com/fondora/fundledger/internal/events"
)

// SyncJob refreshes trading account balances from the MT5 bridge.
// Balances are read-only truth for the ledger. On first discovery the
// job seeds the broker/platform axes from bridge metadata; it never
// changes an existing assignment.
type SyncJob struct {
	repo   *Repository
	bridge BridgeClient
	events *events.Manager
	log    zerolog.Logger
}

// SyncResult summarizes one sync run
type SyncResult struct {
	Discovered int `json:"discovered"`
	Updated    int `json:"updated"`
	Total      int `json:"total_from_bridge"`
}

// NewSyncJob creates a new snapshot sync job
func NewSyncJob(repo *Repository, bridge BridgeClient, eventManager *events.Manager, log zerolog.Logger) *SyncJob {
	return &SyncJob{
		repo:   repo,
		bridge: bridge,
		events: eventManager,
		log:    log.With().Str("job", "mt5_snapshot_sync").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *SyncJob) Name() string {
	return "mt5_snapshot_sync"
}

// Run performs one snapshot sync
func (j *SyncJob) Run() error {
	_, err := j.Sync()
	return err
}

// Sync fetches snapshots and upserts balances, returning run counters
func (j *SyncJob) Sync() (*SyncResult, error) {
	j.events.Emit(events.SnapshotSyncStart, "accounts", map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	})

	if !j.bridge.IsConnected() {
		err := fmt.Errorf("MT5 bridge not connected")
		j.events.EmitError("accounts", err, map[string]interface{}{"step": "check_connection"})
		return nil, err
	}

	snapshots, err := j.bridge.GetAccountSnapshots()
	if err != nil {
		j.events.EmitError("accounts", err, map[string]interface{}{"step": "fetch_snapshots"})
		return nil, fmt.Errorf("failed to fetch snapshots: %w", err)
	}

	result := &SyncResult{Total: len(snapshots)}
	for _, s := range snapshots {
		if s.AccountNumber == "" {
			continue
		}

		created, err := j.repo.UpsertBalance(s.AccountNumber, s.Balance)
		if err != nil {
			j.log.Error().Err(err).Str("account", s.AccountNumber).Msg("Failed to upsert balance")
			j.events.EmitError("accounts", err, map[string]interface{}{
				"step":           "upsert_balance",
				"account_number": s.AccountNumber,
			})
			continue
		}
		if created {
			result.Discovered++
			if err := j.seedAxes(s); err != nil {
				j.log.Error().Err(err).Str("account", s.AccountNumber).Msg("Failed to seed broker/platform axes")
			}
		} else {
			result.Updated++
		}
	}

	j.log.Info().
		Int("total", result.Total).
		Int("discovered", result.Discovered).
		Int("updated", result.Updated).
		Msg("Snapshot sync completed")

	j.events.Emit(events.SnapshotSyncComplete, "accounts", map[string]interface{}{
		"total_from_bridge": result.Total,
		"discovered":        result.Discovered,
		"updated":           result.Updated,
	})

	return result, nil
}

// seedAxes fills the broker/platform axes from bridge metadata on a
// newly discovered account. Existing assignments are operator-owned
// and never overwritten by the sync.
func (j *SyncJob) seedAxes(s BalanceSnapshot) error {
	if s.Broker == "" && s.Platform == "" {
		return nil
	}

	tx, err := j.repo.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.Broker != "" {
		if err := j.repo.SetAxisTx(tx, s.AccountNumber, domain.AxisBroker, &s.Broker); err != nil {
			return err
		}
	}
	if s.Platform != "" {
		if err := j.repo.SetAxisTx(tx, s.AccountNumber, domain.AxisPlatform, &s.Platform); err != nil {
			return err
		}
	}
	return tx.Commit()
}
