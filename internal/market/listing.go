package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// ListItemRequest carries listItem's arguments in wire order. Voucher and
// Signature are required when Lazy is set.
type ListItemRequest struct {
	AssetKind    domain.AssetKind
	AssetID      uint64
	Quantity     uint64
	UnitPrice    *big.Int
	StartTime    time.Time
	EndTime      time.Time
	ReservePrice *big.Int
	AssetRef     common.Address
	Lazy         bool
	SaleKind     domain.SaleKind
	Voucher      *domain.Voucher
	Signature    []byte
}

// ListItem creates a fixed-price listing and returns its id. Existing
// assets move into custody now; lazy listings mint at purchase.
func (e *Engine) ListItem(ctx context.Context, caller common.Address, req ListItemRequest) (uint64, error) {
	var id uint64
	err := e.atomically(ctx, "list item", func(tx *txn) error {
		if err := domain.CheckQuantity(req.AssetKind, req.Quantity); err != nil {
			return err
		}
		if req.UnitPrice == nil || req.UnitPrice.Sign() <= 0 {
			return fmt.Errorf("unit price: %w", domain.ErrZeroAmount)
		}
		reserve := new(big.Int)
		if req.ReservePrice != nil {
			if req.ReservePrice.Sign() < 0 {
				return fmt.Errorf("reserve price: %w", domain.ErrWrongAmount)
			}
			reserve.Set(req.ReservePrice)
		}
		start := req.StartTime
		if start.IsZero() {
			start = tx.now
		}
		if req.EndTime.Before(start) {
			return fmt.Errorf("listing window %s..%s: %w", start, req.EndTime, domain.ErrInvalidWindow)
		}
		if err := e.guard.AssertNotBlacklisted(caller); err != nil {
			return err
		}
		ledger, err := e.AssetLedger(req.AssetKind, req.AssetRef)
		if err != nil {
			return err
		}

		if req.Lazy {
			if err := e.authorizeLazy(ctx, tx, caller, ledger, req, start); err != nil {
				return err
			}
		} else if err := e.escrowAsset(ctx, ledger, caller, req.AssetID, req.Quantity); err != nil {
			return err
		}

		l := &domain.Listing{
			ID:              e.nextListing,
			AssetKind:       req.AssetKind,
			AssetID:         req.AssetID,
			AssetRef:        ledger.Address(),
			Seller:          caller,
			QuantityOffered: req.Quantity,
			UnitPrice:       new(big.Int).Set(req.UnitPrice),
			ListingTime:     start,
			ExpirationTime:  req.EndTime,
			ReservePrice:    reserve,
			Lazy:            req.Lazy,
			SaleKind:        req.SaleKind,
			Status:          domain.ListingOpen,
			UpdatedAt:       tx.now,
		}
		e.listings[l.ID] = l
		if req.Lazy {
			l.TokenURI = req.Voucher.TokenURI
			e.reserveMint(tx, l)
		}
		e.nextListing++
		tx.onUndo(func() {
			delete(e.listings, l.ID)
			e.nextListing--
		})

		id = l.ID
		snap := l.Clone()
		tx.emit(domain.MarketEvent{Type: domain.EventListingCreated, Actor: caller, Amount: snap.Total(), Listing: &snap})
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.InfoContext(ctx, "listing created",
		slog.Uint64("listing_id", id),
		slog.String("seller", caller.Hex()),
		slog.Bool("lazy", req.Lazy),
	)
	return id, nil
}

// authorizeLazy checks a voucher-backed listing: the voucher must match the
// listing, be signed by its maker, name the caller as maker and not have
// been used before. The engine must be able to mint on the ledger.
func (e *Engine) authorizeLazy(ctx context.Context, tx *txn, caller common.Address, ledger domain.AssetLedger, req ListItemRequest, start time.Time) error {
	v := req.Voucher
	if v == nil || len(req.Signature) == 0 {
		return fmt.Errorf("lazy listing without voucher: %w", domain.ErrUnauthorized)
	}
	signer, err := e.verifier.Verify(*v, req.Signature)
	if err != nil {
		return fmt.Errorf("voucher: %w: %w", domain.ErrUnauthorized, err)
	}
	if signer != v.Maker || v.Maker != caller {
		return fmt.Errorf("voucher signed by %s for maker %s, listed by %s: %w",
			signer.Hex(), v.Maker.Hex(), caller.Hex(), domain.ErrUnauthorized)
	}
	if err := voucherMatches(*v, req, ledger.Address(), start); err != nil {
		return err
	}

	digest, err := e.verifier.Digest(*v)
	if err != nil {
		return fmt.Errorf("voucher: %w: %w", domain.ErrUnauthorized, err)
	}
	if prev, used := e.usedVouchers[digest]; used {
		return fmt.Errorf("voucher already used by listing %d: %w", prev, domain.ErrUnauthorized)
	}

	if err := e.guard.AssertHasRole(ctx, ledger, e.address, domain.RoleMinter); err != nil {
		return err
	}
	if err := e.checkMintable(ctx, ledger, req.AssetID, caller); err != nil {
		return err
	}
	if err := e.checkPendingMints(tx, ledger, req.AssetID, caller); err != nil {
		return err
	}
	if err := e.requireOperator(ctx, ledger, caller); err != nil {
		return err
	}

	e.usedVouchers[digest] = e.nextListing
	tx.onUndo(func() { delete(e.usedVouchers, digest) })
	return nil
}

// checkMintable reports whether maker may mint id on ledger. A single-unit
// id can be minted once. A fungible id that already exists can only gain
// supply from its creator.
func (e *Engine) checkMintable(ctx context.Context, ledger domain.AssetLedger, id uint64, maker common.Address) error {
	exists, err := ledger.Exists(ctx, id)
	if err != nil || !exists {
		return err
	}
	if ledger.Kind() == domain.AssetSingle {
		return fmt.Errorf("token %d: %w", id, domain.ErrTokenExists)
	}
	creator, err := ledger.CreatorOf(ctx, id)
	if err != nil {
		return err
	}
	if creator != maker {
		return fmt.Errorf("token %d created by %s, voucher maker %s: %w",
			id, creator.Hex(), maker.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// mintKey names one asset id on one ledger.
type mintKey struct {
	ref common.Address
	id  uint64
}

// checkPendingMints rejects a lazy listing that could never settle next to
// an open, unexpired lazy listing of the same id: any second listing of a
// single-unit id, or a fungible id listed by another maker.
func (e *Engine) checkPendingMints(tx *txn, ledger domain.AssetLedger, id uint64, maker common.Address) error {
	for lid := range e.pendingMints[mintKey{ledger.Address(), id}] {
		l := e.listings[lid]
		if l == nil || l.Status != domain.ListingOpen || tx.now.After(l.ExpirationTime) {
			continue
		}
		if ledger.Kind() == domain.AssetSingle || l.Seller != maker {
			return fmt.Errorf("token %d pending in lazy listing %d: %w", id, lid, domain.ErrTokenExists)
		}
	}
	return nil
}

func (e *Engine) reserveMint(tx *txn, l *domain.Listing) {
	key := mintKey{l.AssetRef, l.AssetID}
	set, ok := e.pendingMints[key]
	if !ok {
		set = make(map[uint64]struct{})
		e.pendingMints[key] = set
	}
	set[l.ID] = struct{}{}
	tx.onUndo(func() { e.dropMint(key, l.ID) })
}

func (e *Engine) releaseMint(tx *txn, l *domain.Listing) {
	key := mintKey{l.AssetRef, l.AssetID}
	if _, ok := e.pendingMints[key][l.ID]; !ok {
		return
	}
	e.dropMint(key, l.ID)
	tx.onUndo(func() {
		if e.pendingMints[key] == nil {
			e.pendingMints[key] = make(map[uint64]struct{})
		}
		e.pendingMints[key][l.ID] = struct{}{}
	})
}

func (e *Engine) dropMint(key mintKey, id uint64) {
	delete(e.pendingMints[key], id)
	if len(e.pendingMints[key]) == 0 {
		delete(e.pendingMints, key)
	}
}

func voucherMatches(v domain.Voucher, req ListItemRequest, ref common.Address, start time.Time) error {
	switch {
	case v.TokenID != req.AssetID:
		return fmt.Errorf("voucher token %d, listing %d: %w", v.TokenID, req.AssetID, domain.ErrUnauthorized)
	case v.Amount != req.Quantity:
		return fmt.Errorf("voucher amount %d, listing %d: %w", v.Amount, req.Quantity, domain.ErrUnauthorized)
	case v.Price == nil || v.Price.Cmp(req.UnitPrice) != 0:
		return fmt.Errorf("voucher price %v, listing %s: %w", v.Price, req.UnitPrice, domain.ErrUnauthorized)
	case v.StartDate != start.Unix() || v.EndDate != req.EndTime.Unix():
		return fmt.Errorf("voucher window %d..%d, listing %d..%d: %w",
			v.StartDate, v.EndDate, start.Unix(), req.EndTime.Unix(), domain.ErrUnauthorized)
	case v.AssetRef != ref:
		return fmt.Errorf("voucher asset %s, listing %s: %w", v.AssetRef.Hex(), ref.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// BuyItem settles an open listing: the buyer pays the total, the fee and
// any royalty are split off, and the asset moves to the buyer. Lazy
// listings mint to the seller first so the maker is recorded as creator.
func (e *Engine) BuyItem(ctx context.Context, buyer common.Address, id uint64) error {
	var payout Payout
	err := e.atomically(ctx, "buy item", func(tx *txn) error {
		l, ok := e.listings[id]
		if !ok || l.Status != domain.ListingOpen {
			return fmt.Errorf("listing %d: %w", id, domain.ErrNothingToBuy)
		}
		if tx.now.Before(l.ListingTime) {
			return fmt.Errorf("listing %d opens at %s: %w", id, l.ListingTime, domain.ErrSaleNotStarted)
		}
		if tx.now.After(l.ExpirationTime) {
			return fmt.Errorf("listing %d closed at %s: %w", id, l.ExpirationTime, domain.ErrExpired)
		}
		if buyer == l.Seller {
			return fmt.Errorf("listing %d: %w", id, domain.ErrSelfDealing)
		}
		ledger, err := e.AssetLedger(l.AssetKind, l.AssetRef)
		if err != nil {
			return err
		}

		total := l.Total()
		if err := e.collect(ctx, buyer, total); err != nil {
			return err
		}
		if l.Lazy {
			if err := e.guard.AssertHasRole(ctx, ledger, e.address, domain.RoleMinter); err != nil {
				return err
			}
			if err := e.checkMintable(ctx, ledger, l.AssetID, l.Seller); err != nil {
				return err
			}
			if err := ledger.Mint(ctx, e.address, l.Seller, l.AssetID, l.QuantityOffered, l.TokenURI); err != nil {
				return err
			}
			if err := ledger.SafeTransferFrom(ctx, e.address, l.Seller, buyer, l.AssetID, l.QuantityOffered); err != nil {
				return err
			}
		} else if err := e.releaseAsset(ctx, ledger, buyer, l.AssetID, l.QuantityOffered); err != nil {
			return err
		}
		payout, err = e.payout(ctx, ledger, l.AssetID, l.Seller, total)
		if err != nil {
			return err
		}

		if l.Lazy {
			e.releaseMint(tx, l)
		}
		prev := *l
		l.Status = domain.ListingSold
		l.Buyer = buyer
		l.UpdatedAt = tx.now
		tx.onUndo(func() { *l = prev })

		snap := l.Clone()
		tx.emit(domain.MarketEvent{Type: domain.EventListingSold, Actor: buyer, Counterparty: l.Seller, Amount: total, Listing: &snap})
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "listing sold",
		slog.Uint64("listing_id", id),
		slog.String("buyer", buyer.Hex()),
		slog.String("gross", payout.Gross.String()),
		slog.String("fee", payout.Fee.String()),
		slog.String("royalty", payout.Royalty.String()),
	)
	return nil
}

// Cancel withdraws an open listing, returns any escrowed asset to the seller
// and charges the seller a strike.
func (e *Engine) Cancel(ctx context.Context, caller common.Address, id uint64) error {
	return e.atomically(ctx, "cancel", func(tx *txn) error {
		l, ok := e.listings[id]
		if !ok {
			return fmt.Errorf("listing %d: %w", id, domain.ErrNothingToCancel)
		}
		if caller != l.Seller {
			return fmt.Errorf("listing %d belongs to %s: %w", id, l.Seller.Hex(), domain.ErrNotOwner)
		}
		if l.Status != domain.ListingOpen {
			return fmt.Errorf("listing %d is %s: %w", id, l.Status, domain.ErrNothingToCancel)
		}
		if l.Lazy {
			e.releaseMint(tx, l)
		} else {
			ledger, err := e.AssetLedger(l.AssetKind, l.AssetRef)
			if err != nil {
				return err
			}
			if err := e.releaseAsset(ctx, ledger, l.Seller, l.AssetID, l.QuantityOffered); err != nil {
				return err
			}
		}

		prev := *l
		l.Status = domain.ListingCancelled
		l.UpdatedAt = tx.now
		tx.onUndo(func() { *l = prev })

		snap := l.Clone()
		tx.emit(domain.MarketEvent{Type: domain.EventListingCancelled, Actor: caller, Listing: &snap})
		e.recordStrike(tx, l.Seller)
		return nil
	})
}
