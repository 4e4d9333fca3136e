package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/database"
	"github.com/fondora/fundledger/internal/modules/accounts"
)

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log     zerolog.Logger
	db      *database.DB
	bridge  accounts.BridgeClient
	started time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, db *database.DB, bridge accounts.BridgeClient) *SystemHandlers {
	return &SystemHandlers{
		log:     log.With().Str("component", "system_handlers").Logger(),
		db:      db,
		bridge:  bridge,
		started: time.Now(),
	}
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	FundCount       int     `json:"fund_count"`
	ManagerCount    int     `json:"manager_count"`
	AccountCount    int     `json:"account_count"`
	HistoryCount    int     `json:"history_count"`
	BridgeConnected bool    `json:"bridge_connected"`
	LastActivity    string  `json:"last_activity,omitempty"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// HandleHealth is the liveness check
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// HandleSystemStatus returns ledger-wide counters and bridge status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	conn := h.db.Conn()
	response := SystemStatusResponse{
		BridgeConnected: h.bridge.IsConnected(),
		UptimeSeconds:   time.Since(h.started).Seconds(),
	}

	if err := conn.QueryRow(`SELECT COUNT(*) FROM funds`).Scan(&response.FundCount); err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Msg("Failed to count funds")
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM manager_allocations`).Scan(&response.ManagerCount); err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Msg("Failed to count allocations")
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM trading_accounts`).Scan(&response.AccountCount); err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Msg("Failed to count accounts")
	}

	var lastActivity sql.NullString
	err := conn.QueryRow(`SELECT COUNT(*), MAX(timestamp) FROM allocation_history`).
		Scan(&response.HistoryCount, &lastActivity)
	if err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Msg("Failed to query history")
	}
	if lastActivity.Valid {
		response.LastActivity = lastActivity.String
	}

	h.writeJSON(w, response)
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
