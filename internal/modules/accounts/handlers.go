package accounts

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
)

// Handler handles trading account HTTP requests
type Handler struct {
	repo     *Repository
	registry *Registry
	syncJob  *SyncJob
	log      zerolog.Logger
}

// NewHandler creates a new accounts handler
func NewHandler(repo *Repository, registry *Registry, syncJob *SyncJob, log zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		registry: registry,
		syncJob:  syncJob,
		log:      log.With().Str("handler", "accounts").Logger(),
	}
}

// Routes mounts the account routes
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleListAccounts)
	r.Post("/sync", h.HandleSync)
	r.Post("/{accountNumber}/assignments", h.HandleAssign)
	r.Delete("/{accountNumber}/assignments/{axis}", h.HandleUnassign)
}

// HandleListAccounts returns all trading accounts with their
// assignment state
func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.List()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// AssignRequest is the body for POST assignments
type AssignRequest struct {
	Axis      string `json:"axis"`
	Value     string `json:"value"`
	Confirmed bool   `json:"confirmed"`
}

// HandleAssign sets an axis value on an account
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")
	if accountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "Account number is required")
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.registry.Assign(accountNumber, domain.AssignmentAxis(req.Axis), req.Value, req.Confirmed, performedBy(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// HandleUnassign clears one axis on an account
func (h *Handler) HandleUnassign(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")
	axis := chi.URLParam(r, "axis")

	account, err := h.registry.Unassign(accountNumber, domain.AssignmentAxis(axis), performedBy(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// HandleSync triggers a manual snapshot sync
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncJob.Sync()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "MT5 bridge unavailable: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// performedBy extracts the authenticated caller identity supplied by
// the auth layer
func performedBy(r *http.Request) string {
	if v := r.Header.Get("X-Performed-By"); v != "" {
		return v
	}
	return "unknown"
}

// Helper methods

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain validation errors to HTTP responses
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var reassign *domain.ReassignmentNotConfirmedError
	if errors.As(err, &reassign) {
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":          reassign.Error(),
			"account_number": reassign.AccountNumber,
			"axis":           string(reassign.Axis),
			"current_value":  reassign.CurrentValue,
			"proposed_value": reassign.ProposedValue,
		})
		return
	}

	var invalidAssignment *domain.InvalidAssignmentError
	if errors.As(err, &invalidAssignment) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeError(w, http.StatusInternalServerError, err.Error())
}
