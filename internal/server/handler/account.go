package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lazymarket/internal/service"
)

// AccountHandler serves balance and approval endpoints.
type AccountHandler struct {
	accounts *service.AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logHandler(logger, "account")}
}

// Get returns balances, approvals and strike state for an address.
// GET /api/accounts/{address}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", r.PathValue("address"))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	view, err := h.accounts.Account(r.Context(), addr)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Approve sets the marketplace allowance and operator approvals of the
// signing wallet.
// POST /api/accounts/approve
func (h *AccountHandler) Approve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Allowance string `json:"allowance"`
		Assets    *bool  `json:"assets"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	allowance, err := parseAmount("allowance", body.Allowance)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if err := h.accounts.Approve(r.Context(), who, service.ApproveRequest{Allowance: allowance, Assets: body.Assets}); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	view, err := h.accounts.Account(r.Context(), who)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
