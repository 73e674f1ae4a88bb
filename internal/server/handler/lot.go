package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/market"
	"github.com/alanyoungcy/lazymarket/internal/service"
)

// LotHandler serves English auction endpoints.
type LotHandler struct {
	svc    *service.MarketService
	logger *slog.Logger
}

// NewLotHandler creates a LotHandler.
func NewLotHandler(svc *service.MarketService, logger *slog.Logger) *LotHandler {
	return &LotHandler{svc: svc, logger: logHandler(logger, "lot")}
}

// Create opens a lot for the signing wallet.
// POST /api/lots
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		AssetKind  int    `json:"asset_kind"`
		AssetID    uint64 `json:"asset_id"`
		AssetRef   string `json:"asset_ref"`
		Quantity   uint64 `json:"quantity"`
		StartPrice string `json:"start_price"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	req := market.AuctionRequest{
		AssetKind: domain.AssetKind(body.AssetKind),
		AssetID:   body.AssetID,
		Quantity:  body.Quantity,
	}
	var err error
	if req.StartPrice, err = parseAmount("start_price", body.StartPrice); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if body.AssetRef != "" {
		if req.AssetRef, err = parseAddress("asset_ref", body.AssetRef); err != nil {
			writeFailure(w, r, h.logger, err)
			return
		}
	}
	id, err := h.svc.ListItemOnAuction(r.Context(), who, req)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusCreated, id)
}

// Get returns the public view of a lot.
// GET /api/lots/{id}
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusOK, id)
}

// List returns lots filtered by seller, status and time window.
// GET /api/lots
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	seller, err := parseSeller(r)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	status := domain.LotStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.LotActive, domain.LotFinished, domain.LotCancelled:
	default:
		writeFailure(w, r, h.logger, fmt.Errorf("%w: status %q", errBadRequest, status))
		return
	}
	lots, err := h.svc.Lots(r.Context(), domain.LotFilter{Seller: seller, Status: status, ListOpts: opts})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

// Bid places a bid from the signing wallet.
// POST /api/lots/{id}/bids
func (h *LotHandler) Bid(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	var body struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if amount == nil {
		writeFailure(w, r, h.logger, fmt.Errorf("amount: %w", domain.ErrZeroAmount))
		return
	}
	if err := h.svc.MakeBid(r.Context(), who, id, amount); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusOK, id)
}

// Finish settles a lot once its duration has passed. Anyone may call it.
// POST /api/lots/{id}/finish
func (h *LotHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.FinishAuction)
}

// Cancel withdraws a bidless lot owned by the signing wallet.
// POST /api/lots/{id}/cancel
func (h *LotHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.CancelAuction)
}

func (h *LotHandler) act(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, who common.Address, id uint64) error) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if err := op(r.Context(), who, id); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.respond(w, r, http.StatusOK, id)
}

func (h *LotHandler) respond(w http.ResponseWriter, r *http.Request, status int, id uint64) {
	v, err := h.svc.Lot(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, v)
}
