package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apitypes "github.com/openalpha/spot-dex/api/types"
	"github.com/openalpha/spot-dex/types"
)

// AccountHandler handles user and balance HTTP requests
type AccountHandler struct {
	service apitypes.Exchange
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(service apitypes.Exchange) *AccountHandler {
	return &AccountHandler{service: service}
}

// HandleRegister handles POST /v1/public/register
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	var req apitypes.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	user, apiKey, err := h.service.RegisterUser(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apitypes.RegisterResponse{User: user, APIKey: apiKey})
}

// HandleBalance handles GET /v1/balance
func (h *AccountHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}
	balances, err := h.service.GetBalances(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := apitypes.BalanceResponse{}
	for _, b := range balances {
		resp[b.Ticker] = apitypes.BalanceEntry{
			Total:     b.Total,
			Reserved:  b.Reserved,
			Available: b.Available(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAdminDeposit handles POST /v1/admin/balance/deposit
func (h *AccountHandler) HandleAdminDeposit(w http.ResponseWriter, r *http.Request) {
	h.adminBalanceOp(w, r, h.service.Deposit)
}

// HandleAdminWithdraw handles POST /v1/admin/balance/withdraw
func (h *AccountHandler) HandleAdminWithdraw(w http.ResponseWriter, r *http.Request) {
	h.adminBalanceOp(w, r, h.service.Withdraw)
}

func (h *AccountHandler) adminBalanceOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller types.Caller, userID uuid.UUID, ticker string, amount int64) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}
	var req apitypes.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	if err := op(r.Context(), caller, req.UserID, req.Ticker, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apitypes.OKResponse{Success: true})
}

// HandleAdminInstruments handles POST /v1/admin/instruments
func (h *AccountHandler) HandleAdminInstruments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}
	var req apitypes.InstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	ins, err := h.service.CreateInstrument(r.Context(), caller, req.Ticker, req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ins)
}

// HandleAdminUser handles /v1/admin/users/{id} (GET, DELETE)
func (h *AccountHandler) HandleAdminUser(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/admin/users/")
	userID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", "User ID must be a UUID")
		return
	}
	caller, ok := resolveCaller(w, r, h.service)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := h.service.GetUser(r.Context(), caller, userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		user, err := h.service.DeleteUser(r.Context(), caller, userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}
