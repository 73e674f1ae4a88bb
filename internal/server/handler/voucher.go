package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/service"
)

// voucherBody is the wire form of a voucher; price travels as a decimal
// string.
type voucherBody struct {
	TokenID   uint64 `json:"tokenId"`
	Amount    uint64 `json:"nftAmount"`
	Price     string `json:"price"`
	StartDate int64  `json:"startDate"`
	EndDate   int64  `json:"endDate"`
	Maker     string `json:"maker"`
	AssetRef  string `json:"nftAddress"`
	TokenURI  string `json:"tokenURI"`
}

func (b voucherBody) voucher() (domain.Voucher, error) {
	price, err := parseAmount("voucher.price", b.Price)
	if err != nil {
		return domain.Voucher{}, err
	}
	maker, err := parseAddress("voucher.maker", b.Maker)
	if err != nil {
		return domain.Voucher{}, err
	}
	ref, err := parseAddress("voucher.nftAddress", b.AssetRef)
	if err != nil {
		return domain.Voucher{}, err
	}
	return domain.Voucher{
		TokenID:   b.TokenID,
		Amount:    b.Amount,
		Price:     price,
		StartDate: b.StartDate,
		EndDate:   b.EndDate,
		Maker:     maker,
		AssetRef:  ref,
		TokenURI:  b.TokenURI,
	}, nil
}

// VoucherHandler checks lazy-mint vouchers before they are listed.
type VoucherHandler struct {
	svc    *service.MarketService
	logger *slog.Logger
}

// NewVoucherHandler creates a VoucherHandler.
func NewVoucherHandler(svc *service.MarketService, logger *slog.Logger) *VoucherHandler {
	return &VoucherHandler{svc: svc, logger: logHandler(logger, "voucher")}
}

// Verify recovers the signer of a voucher under the marketplace domain.
// POST /api/vouchers/verify
func (h *VoucherHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Voucher   voucherBody `json:"voucher"`
		Signature string      `json:"signature"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	v, err := body.Voucher.voucher()
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	sig, err := crypto.DecodeSignature(body.Signature)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	check, err := h.svc.VerifyVoucher(v, sig)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}
