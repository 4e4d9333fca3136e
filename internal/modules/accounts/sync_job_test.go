package accounts

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fondora/fundledger/internal/domain"
	"github.com/fondora/fundledger/internal/events"
)

// MockBridgeClient for testing
type MockBridgeClient struct {
	connected       bool
	snapshots       []BalanceSnapshot
	shouldFailFetch bool
}

func (m *MockBridgeClient) GetAccountSnapshots() ([]BalanceSnapshot, error) {
	if m.shouldFailFetch {
		return nil, fmt.Errorf("mock fetch error")
	}
	return m.snapshots, nil
}

func (m *MockBridgeClient) IsConnected() bool {
	return m.connected
}

func TestSync_DiscoversAndUpdates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db, zerolog.Nop())
	seedAccount(t, repo, "100234", 1000)

	bridge := &MockBridgeClient{
		connected: true,
		snapshots: []BalanceSnapshot{
			{AccountNumber: "100234", Balance: 1250.50},
			{AccountNumber: "100235", Balance: 9000},
		},
	}
	job := NewSyncJob(repo, bridge, events.NewManager(zerolog.Nop()), zerolog.Nop())

	result, err := job.Sync()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Discovered)
	assert.Equal(t, 1, result.Updated)

	account, err := repo.Get("100234")
	require.NoError(t, err)
	assert.Equal(t, 1250.50, account.Balance)

	discovered, err := repo.Get("100235")
	require.NoError(t, err)
	require.NotNil(t, discovered)
	assert.True(t, discovered.Unassigned())
}

func TestSync_PreservesAssignments(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	registry, repo, _ := setupRegistry(t, db)
	seedAccount(t, repo, "100234", 1000)
	_, err := registry.Assign("100234", domain.AxisManager, "alpha-capital", false, "ops")
	require.NoError(t, err)

	bridge := &MockBridgeClient{
		connected: true,
		snapshots: []BalanceSnapshot{{AccountNumber: "100234", Balance: 777}},
	}
	job := NewSyncJob(repo, bridge, events.NewManager(zerolog.Nop()), zerolog.Nop())

	_, err = job.Sync()
	require.NoError(t, err)

	account, err := repo.Get("100234")
	require.NoError(t, err)
	assert.Equal(t, 777.0, account.Balance)
	require.NotNil(t, account.Manager)
	assert.Equal(t, "alpha-capital", *account.Manager)
}

func TestSync_SeedsBrokerAndPlatformOnDiscovery(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db, zerolog.Nop())
	bridge := &MockBridgeClient{
		connected: true,
		snapshots: []BalanceSnapshot{
			{AccountNumber: "100240", Balance: 5000, Broker: "ic-markets", Platform: "mt5"},
		},
	}
	job := NewSyncJob(repo, bridge, events.NewManager(zerolog.Nop()), zerolog.Nop())

	_, err := job.Sync()
	require.NoError(t, err)

	account, err := repo.Get("100240")
	require.NoError(t, err)
	require.NotNil(t, account.Broker)
	assert.Equal(t, "ic-markets", *account.Broker)
	require.NotNil(t, account.Platform)
	assert.Equal(t, "mt5", *account.Platform)
	assert.Nil(t, account.Manager)

	// A later sync reporting different metadata leaves the seeded
	// assignments alone
	bridge.snapshots[0].Broker = "other-broker"
	_, err = job.Sync()
	require.NoError(t, err)

	account, err = repo.Get("100240")
	require.NoError(t, err)
	assert.Equal(t, "ic-markets", *account.Broker)
}

func TestSync_BridgeDisconnected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db, zerolog.Nop())
	bridge := &MockBridgeClient{connected: false}
	job := NewSyncJob(repo, bridge, events.NewManager(zerolog.Nop()), zerolog.Nop())

	_, err := job.Sync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestSync_FetchError(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db, zerolog.Nop())
	bridge := &MockBridgeClient{connected: true, shouldFailFetch: true}
	job := NewSyncJob(repo, bridge, events.NewManager(zerolog.Nop()), zerolog.Nop())

	_, err := job.Sync()
	require.Error(t, err)
}

func TestSync_SkipsEmptyAccountNumbers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db, zerolog.Nop())
	bridge := &MockBridgeClient{
		connected: true,
		snapshots: []BalanceSnapshot{
			{AccountNumber: "", Balance: 100},
			{AccountNumber: "100236", Balance: 200},
		},
	}
	job := NewSyncJob(repo, bridge, events.NewManager(zerolog.Nop()), zerolog.Nop())

	result, err := job.Sync()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Discovered)

	accounts, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}
