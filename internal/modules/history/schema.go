package history

import "database/sql"

// HistorySchema is the append-only audit trail. No UPDATE or DELETE is
// ever issued against this table.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS allocation_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    fund_type TEXT NOT NULL,
    action_type TEXT NOT NULL,
    affected_manager TEXT NOT NULL DEFAULT 'N/A',
    loss_amount REAL NOT NULL DEFAULT 0,
    gain_amount REAL NOT NULL DEFAULT 0,
    allocation_change REAL NOT NULL DEFAULT 0,
    notes TEXT NOT NULL DEFAULT '',
    performed_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_allocation_history_fund ON allocation_history(fund_type);
CREATE INDEX IF NOT EXISTS idx_allocation_history_timestamp ON allocation_history(timestamp);
`

// InitSchema creates the allocation history table and its indexes
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(HistorySchema)
	return err
}
