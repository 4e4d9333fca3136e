package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
)

const timeFormat = "2006-01-02 15:04:05"

// Repository handles the allocation audit trail. Records are appended
// inside the same transaction as the capital mutation they describe.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// AppendTx inserts a history record as part of a transaction
func (r *Repository) AppendTx(tx *sql.Tx, rec *domain.AllocationHistoryRecord) (*domain.AllocationHistoryRecord, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.AffectedManager == "" {
		rec.AffectedManager = "N/A"
	}

	result, err := tx.Exec(
		`INSERT INTO allocation_history (
			timestamp, fund_type, action_type, affected_manager,
			loss_amount, gain_amount, allocation_change, notes, performed_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.Format(timeFormat),
		string(rec.FundType),
		string(rec.ActionType),
		rec.AffectedManager,
		rec.Impact.LossAmount,
		rec.Impact.GainAmount,
		rec.Impact.AllocationChange,
		rec.Notes,
		rec.PerformedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append history record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get history record ID: %w", err)
	}

	rec.ID = id
	return rec, nil
}

// ListByFund retrieves a fund's history, newest first
func (r *Repository) ListByFund(fundType domain.FundType, limit int) ([]domain.AllocationHistoryRecord, error) {
	query := `
		SELECT id, timestamp, fund_type, action_type, affected_manager,
		       loss_amount, gain_amount, allocation_change, notes, performed_by
		FROM allocation_history
		WHERE fund_type = ?
		ORDER BY timestamp DESC, id DESC
	`

	args := []interface{}{string(fundType)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// ListByFundAsc retrieves a fund's full history in chronological order
func (r *Repository) ListByFundAsc(fundType domain.FundType) ([]domain.AllocationHistoryRecord, error) {
	query := `
		SELECT id, timestamp, fund_type, action_type, affected_manager,
		       loss_amount, gain_amount, allocation_change, notes, performed_by
		FROM allocation_history
		WHERE fund_type = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.Query(query, string(fundType))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return r.scanRecords(rows)
}

// scanRecords is a helper to scan multiple history records
func (r *Repository) scanRecords(rows *sql.Rows) ([]domain.AllocationHistoryRecord, error) {
	var records []domain.AllocationHistoryRecord

	for rows.Next() {
		var rec domain.AllocationHistoryRecord
		var timestamp string

		err := rows.Scan(
			&rec.ID,
			&timestamp,
			&rec.FundType,
			&rec.ActionType,
			&rec.AffectedManager,
			&rec.Impact.LossAmount,
			&rec.Impact.GainAmount,
			&rec.Impact.AllocationChange,
			&rec.Notes,
			&rec.PerformedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}

		rec.Timestamp, _ = time.Parse(timeFormat, timestamp)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history records: %w", err)
	}

	return records, nil
}
