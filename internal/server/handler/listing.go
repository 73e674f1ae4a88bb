package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/market"
	"github.com/alanyoungcy/lazymarket/internal/service"
)

// ListingHandler serves fixed-price listing endpoints.
type ListingHandler struct {
	svc    *service.MarketService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(svc *service.MarketService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{svc: svc, logger: logHandler(logger, "listing")}
}

type listItemBody struct {
	AssetKind    int          `json:"asset_kind"`
	AssetID      uint64       `json:"asset_id"`
	AssetRef     string       `json:"asset_ref"`
	Quantity     uint64       `json:"quantity"`
	UnitPrice    string       `json:"unit_price"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      time.Time    `json:"end_time"`
	ReservePrice string       `json:"reserve_price"`
	Lazy         bool         `json:"lazy"`
	SaleKind     int          `json:"sale_kind"`
	Voucher      *voucherBody `json:"voucher"`
	Signature    string       `json:"signature"`
}

func (b listItemBody) request() (market.ListItemRequest, error) {
	req := market.ListItemRequest{
		AssetKind: domain.AssetKind(b.AssetKind),
		AssetID:   b.AssetID,
		Quantity:  b.Quantity,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		Lazy:      b.Lazy,
		SaleKind:  domain.SaleKind(b.SaleKind),
	}
	var err error
	if req.UnitPrice, err = parseAmount("unit_price", b.UnitPrice); err != nil {
		return req, err
	}
	if req.ReservePrice, err = parseAmount("reserve_price", b.ReservePrice); err != nil {
		return req, err
	}
	if b.AssetRef != "" {
		if req.AssetRef, err = parseAddress("asset_ref", b.AssetRef); err != nil {
			return req, err
		}
	}
	if b.Voucher != nil {
		v, err := b.Voucher.voucher()
		if err != nil {
			return req, err
		}
		req.Voucher = &v
	}
	if b.Signature != "" {
		if req.Signature, err = crypto.DecodeSignature(b.Signature); err != nil {
			return req, err
		}
	}
	return req, nil
}

// Create lists an item for sale by the signing wallet.
// POST /api/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var body listItemBody
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	id, err := h.svc.ListItem(r.Context(), who, req)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	l, err := h.svc.Listing(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// Get returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	l, err := h.svc.Listing(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// List returns listings filtered by seller, status and time window.
// GET /api/listings
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
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
	status := domain.ListingStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.ListingOpen, domain.ListingSold, domain.ListingCancelled:
	default:
		writeFailure(w, r, h.logger, fmt.Errorf("%w: status %q", errBadRequest, status))
		return
	}
	ls, err := h.svc.Listings(r.Context(), domain.ListingFilter{Seller: seller, Status: status, ListOpts: opts})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

// Buy purchases a listing for the signing wallet.
// POST /api/listings/{id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.BuyItem)
}

// Cancel withdraws a listing owned by the signing wallet.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Cancel)
}

func (h *ListingHandler) act(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, who common.Address, id uint64) error) {
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
	l, err := h.svc.Listing(r.Context(), id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
