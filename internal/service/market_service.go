package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/market"
)

// RateLimit caps mutating calls per caller address.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// MarketService fronts the engine for the API: it rate limits callers,
// logs committed operations and answers reads from the live registries or,
// when configured, the Postgres projections.
type MarketService struct {
	engine   *market.Engine
	listings domain.ListingStore
	lots     domain.LotStore
	audit    domain.AuditStore
	limiter  domain.RateLimiter
	limit    RateLimit
	logger   *slog.Logger
}

// MarketStores are the optional read projections.
type MarketStores struct {
	Listings domain.ListingStore
	Lots     domain.LotStore
	Audit    domain.AuditStore
}

// NewMarketService creates a MarketService. limiter may be nil.
func NewMarketService(
	engine *market.Engine,
	stores MarketStores,
	limiter domain.RateLimiter,
	limit RateLimit,
	logger *slog.Logger,
) *MarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketService{
		engine:   engine,
		listings: stores.Listings,
		lots:     stores.Lots,
		audit:    stores.Audit,
		limiter:  limiter,
		limit:    limit,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// Engine exposes the underlying engine.
func (s *MarketService) Engine() *market.Engine { return s.engine }

func (s *MarketService) allow(ctx context.Context, caller common.Address) error {
	if s.limiter == nil || s.limit.Requests <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "caller:"+caller.Hex(), s.limit.Requests, s.limit.Window)
	if err != nil {
		// Fail open: the limiter protects the API, not settlement.
		s.logger.WarnContext(ctx, "rate limiter unavailable",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return fmt.Errorf("market_service: %s: %w", caller.Hex(), domain.ErrRateLimited)
	}
	return nil
}

// ListItem creates a fixed-price listing.
func (s *MarketService) ListItem(ctx context.Context, caller common.Address, req market.ListItemRequest) (uint64, error) {
	if err := s.allow(ctx, caller); err != nil {
		return 0, err
	}
	id, err := s.engine.ListItem(ctx, caller, req)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "listing created",
		slog.Uint64("listing_id", id),
		slog.String("seller", caller.Hex()),
		slog.Bool("lazy", req.Lazy),
	)
	return id, nil
}

// BuyItem settles a listing.
func (s *MarketService) BuyItem(ctx context.Context, buyer common.Address, id uint64) error {
	if err := s.allow(ctx, buyer); err != nil {
		return err
	}
	if err := s.engine.BuyItem(ctx, buyer, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "listing sold",
		slog.Uint64("listing_id", id),
		slog.String("buyer", buyer.Hex()),
	)
	return nil
}

// Cancel withdraws a listing.
func (s *MarketService) Cancel(ctx context.Context, caller common.Address, id uint64) error {
	if err := s.allow(ctx, caller); err != nil {
		return err
	}
	if err := s.engine.Cancel(ctx, caller, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "listing cancelled", slog.Uint64("listing_id", id))
	return nil
}

// ListItemOnAuction opens a lot.
func (s *MarketService) ListItemOnAuction(ctx context.Context, caller common.Address, req market.AuctionRequest) (uint64, error) {
	if err := s.allow(ctx, caller); err != nil {
		return 0, err
	}
	id, err := s.engine.ListItemOnAuction(ctx, caller, req)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "lot opened",
		slog.Uint64("lot_id", id),
		slog.String("seller", caller.Hex()),
	)
	return id, nil
}

// MakeBid places a bid on a lot.
func (s *MarketService) MakeBid(ctx context.Context, bidder common.Address, lotID uint64, amount *big.Int) error {
	if err := s.allow(ctx, bidder); err != nil {
		return err
	}
	if err := s.engine.MakeBid(ctx, bidder, lotID, amount); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "bid placed",
		slog.Uint64("lot_id", lotID),
		slog.String("bidder", bidder.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// FinishAuction settles a lot.
func (s *MarketService) FinishAuction(ctx context.Context, caller common.Address, lotID uint64) error {
	if err := s.allow(ctx, caller); err != nil {
		return err
	}
	if err := s.engine.FinishAuction(ctx, caller, lotID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lot finished", slog.Uint64("lot_id", lotID))
	return nil
}

// CancelAuction withdraws a lot.
func (s *MarketService) CancelAuction(ctx context.Context, caller common.Address, lotID uint64) error {
	if err := s.allow(ctx, caller); err != nil {
		return err
	}
	if err := s.engine.CancelAuction(ctx, caller, lotID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lot cancelled", slog.Uint64("lot_id", lotID))
	return nil
}

// VoucherCheck is the result of verifying a voucher signature.
type VoucherCheck struct {
	Signer  common.Address `json:"signer"`
	Digest  common.Hash    `json:"digest"`
	MakerOK bool           `json:"maker_ok"`
}

// VerifyVoucher recovers the voucher signer under the engine's domain.
func (s *MarketService) VerifyVoucher(v domain.Voucher, sig []byte) (VoucherCheck, error) {
	vv := s.engine.Verifier()
	signer, err := vv.Verify(v, sig)
	if err != nil {
		return VoucherCheck{}, err
	}
	digest, err := vv.Digest(v)
	if err != nil {
		return VoucherCheck{}, err
	}
	return VoucherCheck{Signer: signer, Digest: digest, MakerOK: signer == v.Maker}, nil
}

// Listing returns a listing from the live registry, falling back to the
// projection for listings the engine no longer holds.
func (s *MarketService) Listing(ctx context.Context, id uint64) (domain.Listing, error) {
	l, err := s.engine.GetListing(id)
	if err == nil || s.listings == nil || !errors.Is(err, domain.ErrNotFound) {
		return l, err
	}
	l, err = s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market_service: listing %d: %w", id, err)
	}
	return l, nil
}

// Listings lists from the projection when configured, else the registry.
func (s *MarketService) Listings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	if s.listings == nil {
		return s.engine.Listings(f), nil
	}
	ls, err := s.listings.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market_service: list listings: %w", err)
	}
	return ls, nil
}

// Lot returns a lot view, with the same fallback as Listing.
func (s *MarketService) Lot(ctx context.Context, id uint64) (domain.LotView, error) {
	v, err := s.engine.GetLotInfo(id)
	if err == nil || s.lots == nil || !errors.Is(err, domain.ErrNoSuchLot) {
		return v, err
	}
	lot, err := s.lots.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.LotView{}, fmt.Errorf("market_service: lot %d: %w", id, domain.ErrNoSuchLot)
		}
		return domain.LotView{}, fmt.Errorf("market_service: lot %d: %w", id, err)
	}
	return lot.View(), nil
}

// Lots lists lot views from the projection when configured, else the
// registry.
func (s *MarketService) Lots(ctx context.Context, f domain.LotFilter) ([]domain.LotView, error) {
	if s.lots == nil {
		return s.engine.Lots(f), nil
	}
	lots, err := s.lots.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market_service: list lots: %w", err)
	}
	views := make([]domain.LotView, len(lots))
	for i, l := range lots {
		views[i] = l.View()
	}
	return views, nil
}

// Blacklist returns strike state from the guard, most strikes first.
func (s *MarketService) Blacklist(bannedOnly bool) []domain.BlacklistEntry {
	entries := s.engine.Guard().Entries()
	if !bannedOnly {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Banned {
			out = append(out, e)
		}
	}
	return out
}

// Audit returns audit rows, newest first.
func (s *MarketService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list audit: %w", err)
	}
	return entries, nil
}
