package accounts

import "database/sql"

// AccountsSchema stores trading accounts with their four assignment
// axes. The applied_* columns hold the axis values as of the last
// successful apply; the diff against the live columns drives the
// pending-changes report.
const AccountsSchema = `
CREATE TABLE IF NOT EXISTS trading_accounts (
    account_number TEXT PRIMARY KEY,
    balance REAL NOT NULL DEFAULT 0,
    manager TEXT,
    fund_type TEXT,
    broker TEXT,
    platform TEXT,
    applied_manager TEXT,
    applied_fund_type TEXT,
    applied_broker TEXT,
    applied_platform TEXT,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trading_accounts_manager ON trading_accounts(manager);
CREATE INDEX IF NOT EXISTS idx_trading_accounts_fund ON trading_accounts(fund_type);
`

// InitSchema creates the trading accounts table
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(AccountsSchema)
	return err
}
