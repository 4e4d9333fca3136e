package recalc

import "database/sql"

// RecalcSchema holds the derived tables rebuilt after every apply.
// Rows here are disposable: each engine fully recomputes its table
// from the ledger, so a failed run is repaired by the next one.
const RecalcSchema = `
CREATE TABLE IF NOT EXISTS fund_cash_totals (
    fund_type TEXT PRIMARY KEY,
    deposits REAL NOT NULL DEFAULT 0,
    withdrawals REAL NOT NULL DEFAULT 0,
    losses REAL NOT NULL DEFAULT 0,
    gains REAL NOT NULL DEFAULT 0,
    net_flow REAL NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS manager_commission_basis (
    fund_type TEXT NOT NULL,
    manager_name TEXT NOT NULL,
    basis_amount REAL NOT NULL,
    commission_rate REAL NOT NULL,
    commission_amount REAL NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (fund_type, manager_name)
);

CREATE TABLE IF NOT EXISTS fund_metrics (
    fund_type TEXT PRIMARY KEY,
    observations INTEGER NOT NULL,
    mean_return REAL NOT NULL,
    volatility REAL NOT NULL,
    max_drawdown REAL NOT NULL,
    updated_at TEXT NOT NULL
);
`

// InitSchema creates the derived recalculation tables
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(RecalcSchema)
	return err
}
