package funds

import "database/sql"

// FundsSchema holds each fund's capital split. unallocated is stored
// rather than derived so the conservation invariant can be checked
// against what was actually persisted.
const FundsSchema = `
CREATE TABLE IF NOT EXISTS funds (
    fund_type TEXT PRIMARY KEY,
    total_capital REAL NOT NULL DEFAULT 0,
    allocated_capital REAL NOT NULL DEFAULT 0,
    unallocated_capital REAL NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
`

// InitSchema creates the funds table
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(FundsSchema)
	return err
}
