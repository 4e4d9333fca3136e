package allocations

import "database/sql"

// AllocationsSchema holds manager allocations and the per-account
// distribution that realizes them. Distribution rows are replaced
// wholesale on edit; their order is preserved through position.
const AllocationsSchema = `
CREATE TABLE IF NOT EXISTS manager_allocations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fund_type TEXT NOT NULL,
    manager_name TEXT NOT NULL,
    allocated_amount REAL NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE(fund_type, manager_name)
);

CREATE TABLE IF NOT EXISTS allocation_accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    allocation_id INTEGER NOT NULL REFERENCES manager_allocations(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    account_number TEXT NOT NULL,
    amount REAL NOT NULL,
    execution_type TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_allocation_accounts_allocation ON allocation_accounts(allocation_id);
CREATE INDEX IF NOT EXISTS idx_manager_allocations_fund ON manager_allocations(fund_type);
`

// InitSchema creates the allocation tables and their indexes
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(AllocationsSchema)
	return err
}
