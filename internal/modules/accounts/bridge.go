package accounts

import "github.com/fondora/fundledger/internal/clients/mt5"

// BalanceSnapshot is one account's bridge-supplied balance. Broker and
// platform are best-effort metadata the bridge reports about where the
// account lives; they seed those axes on first discovery.
type BalanceSnapshot struct {
	AccountNumber string
	Balance       float64
	Broker        string
	Platform      string
}

// BridgeClient is the narrow contract this module needs from the MT5
// bridge. Satisfied by the adapter below; mocked in tests.
type BridgeClient interface {
	GetAccountSnapshots() ([]BalanceSnapshot, error)
	IsConnected() bool
}

// MT5Adapter adapts the mt5.Client to the BridgeClient interface
type MT5Adapter struct {
	client *mt5.Client
}

// NewMT5Adapter creates a new bridge adapter
func NewMT5Adapter(client *mt5.Client) *MT5Adapter {
	return &MT5Adapter{client: client}
}

// GetAccountSnapshots fetches balance snapshots from the bridge
func (a *MT5Adapter) GetAccountSnapshots() ([]BalanceSnapshot, error) {
	raw, err := a.client.GetAccountSnapshots()
	if err != nil {
		return nil, err
	}

	snapshots := make([]BalanceSnapshot, 0, len(raw))
	for _, s := range raw {
		snapshots = append(snapshots, BalanceSnapshot{
			AccountNumber: s.AccountNumber,
			Balance:       s.Balance,
			Broker:        s.Broker,
			Platform:      s.Platform,
		})
	}
	return snapshots, nil
}

// IsConnected reports whether the bridge is reachable
func (a *MT5Adapter) IsConnected() bool {
	return a.client.IsConnected()
}
