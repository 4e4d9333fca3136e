package allocations

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fondora/fundledger/internal/domain"
)

// Handler handles fund and allocation HTTP requests
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new allocations handler
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "allocations").Logger(),
	}
}

// FundRoutes mounts the fund-scoped routes
func (h *Handler) FundRoutes(r chi.Router) {
	r.Get("/", h.HandleListFunds)
	r.Get("/{fundType}", h.HandleFundState)
	r.Put("/{fundType}/capital", h.HandleSetCapital)
	r.Post("/{fundType}/managers", h.HandleAllocate)
	r.Delete("/{fundType}/managers/{manager}", h.HandleRemove)
	r.Get("/{fundType}/history", h.HandleHistory)
}

// Routes mounts the cross-fund allocation routes
func (h *Handler) Routes(r chi.Router) {
	r.Get("/validate", h.HandleValidate)
	r.Post("/apply", h.HandleApply)
}

// HandleListFunds returns every fund's capital split
func (h *Handler) HandleListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.service.Funds()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"funds": funds,
		"count": len(funds),
	})
}

// HandleFundState returns one fund with its manager allocations
func (h *Handler) HandleFundState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.FundState(domain.FundType(chi.URLParam(r, "fundType")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

// AllocateRequest is the body for allocating capital to a manager
type AllocateRequest struct {
	ManagerName string                     `json:"manager_name"`
	Amount      float64                    `json:"amount"`
	Accounts    []domain.AccountAllocation `json:"accounts"`
	Notes       string                     `json:"notes"`
}

// HandleAllocate creates or edits a manager allocation and returns the
// fund's updated capital split
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fundType := domain.FundType(chi.URLParam(r, "fundType"))
	_, err := h.service.Allocate(
		fundType, req.ManagerName, req.Amount, req.Accounts, req.Notes, performedBy(r),
	)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeFundState(w, fundType)
}

// RemoveRequest is the body for removing a manager
type RemoveRequest struct {
	ActualBalance float64 `json:"actual_balance"`
	LossHandling  string  `json:"loss_handling"`
	Notes         string  `json:"notes"`
}

// HandleRemove settles a manager out of a fund and returns the fund's
// updated capital split
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	var req RemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fundType := domain.FundType(chi.URLParam(r, "fundType"))
	_, err := h.service.Remove(
		fundType,
		chi.URLParam(r, "manager"),
		req.ActualBalance,
		domain.LossHandling(req.LossHandling),
		req.Notes,
		performedBy(r),
	)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeFundState(w, fundType)
}

// CapitalRequest is the body for setting a fund's total capital
type CapitalRequest struct {
	TotalCapital float64 `json:"total_capital"`
	Reason       string  `json:"reason"`
	Notes        string  `json:"notes"`
}

// HandleSetCapital moves a fund's total capital to a new value
func (h *Handler) HandleSetCapital(w http.ResponseWriter, r *http.Request) {
	var req CapitalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fundType := domain.FundType(chi.URLParam(r, "fundType"))
	_, err := h.service.SetTotalCapital(
		fundType,
		req.TotalCapital,
		domain.ActionType(req.Reason),
		req.Notes,
		performedBy(r),
	)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeFundState(w, fundType)
}

// writeFundState responds with the fund's current capital split, the
// shape every mutating fund endpoint returns.
func (h *Handler) writeFundState(w http.ResponseWriter, fundType domain.FundType) {
	state, err := h.service.FundState(fundType)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// HandleHistory returns a fund's audit trail, newest first
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	records, err := h.service.History(domain.FundType(chi.URLParam(r, "fundType")), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": records,
		"count":   len(records),
	})
}

// HandleValidate runs the apply gate check
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Validate()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleApply commits the current assignment state
func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Apply(r.Context(), performedBy(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
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

	var validationFailed *domain.ValidationFailedError
	if errors.As(err, &validationFailed) {
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":            validationFailed.Error(),
			"unassigned_count": validationFailed.UnassignedCount,
			"incomplete_count": validationFailed.IncompleteCount,
		})
		return
	}

	var invalidAmount *domain.InvalidAmountError
	var insufficient *domain.InsufficientCapitalError
	var mismatch *domain.DistributionMismatchError
	var invalidDist *domain.InvalidDistributionError
	var invalidCapital *domain.InvalidCapitalError
	var invalidLoss *domain.InvalidLossHandlingError
	if errors.As(err, &invalidAmount) ||
		errors.As(err, &insufficient) ||
		errors.As(err, &mismatch) ||
		errors.As(err, &invalidDist) ||
		errors.As(err, &invalidCapital) ||
		errors.As(err, &invalidLoss) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeError(w, http.StatusInternalServerError, err.Error())
}
