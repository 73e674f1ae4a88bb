package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// AuctionRequest carries listItemOnAuction's arguments. AssetRef selects a
// ledger other than the default for the kind.
type AuctionRequest struct {
	AssetKind  domain.AssetKind
	AssetID    uint64
	Quantity   uint64
	StartPrice *big.Int
	AssetRef   common.Address
}

// ListItemOnAuction escrows the asset and opens a lot that starts now.
func (e *Engine) ListItemOnAuction(ctx context.Context, caller common.Address, req AuctionRequest) (uint64, error) {
	var id uint64
	err := e.atomically(ctx, "list on auction", func(tx *txn) error {
		if err := domain.CheckQuantity(req.AssetKind, req.Quantity); err != nil {
			return err
		}
		if req.StartPrice == nil || req.StartPrice.Sign() <= 0 {
			return fmt.Errorf("start price: %w", domain.ErrZeroAmount)
		}
		if err := e.guard.AssertNotBlacklisted(caller); err != nil {
			return err
		}
		if err := e.checkOnceADay(tx, caller); err != nil {
			return err
		}
		ledger, err := e.AssetLedger(req.AssetKind, req.AssetRef)
		if err != nil {
			return err
		}
		if err := e.escrowAsset(ctx, ledger, caller, req.AssetID, req.Quantity); err != nil {
			return err
		}

		lot := &domain.AuctionLot{
			ID:         e.nextLot,
			AssetKind:  req.AssetKind,
			AssetID:    req.AssetID,
			AssetRef:   ledger.Address(),
			Seller:     caller,
			Quantity:   req.Quantity,
			StartPrice: new(big.Int).Set(req.StartPrice),
			CurrentBid: new(big.Int),
			StartTime:  tx.now,
			Duration:   e.policy.AuctionDuration,
			Status:     domain.LotActive,
			UpdatedAt:  tx.now,
		}
		e.lots[lot.ID] = lot
		e.nextLot++

		prevSeller, hadSeller := e.lastAuction[caller]
		prevAny := e.lastAnyAuction
		e.lastAuction[caller] = tx.now
		e.lastAnyAuction = tx.now
		tx.onUndo(func() {
			delete(e.lots, lot.ID)
			e.nextLot--
			if hadSeller {
				e.lastAuction[caller] = prevSeller
			} else {
				delete(e.lastAuction, caller)
			}
			e.lastAnyAuction = prevAny
		})

		id = lot.ID
		snap := lot.Clone()
		tx.emit(domain.MarketEvent{Type: domain.EventLotCreated, Actor: caller, Amount: snap.StartPrice, Lot: &snap})
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.InfoContext(ctx, "lot created",
		slog.Uint64("lot_id", id),
		slog.String("seller", caller.Hex()),
	)
	return id, nil
}

// checkOnceADay enforces a rolling window of OnceADayWindow since the last
// auction, not a calendar-day boundary.
func (e *Engine) checkOnceADay(tx *txn, seller common.Address) error {
	if e.policy.OnceADayWindow == 0 {
		return nil
	}
	last, ok := e.lastAuction[seller]
	if e.policy.OnceADayScope == ScopeGlobal {
		last, ok = e.lastAnyAuction, !e.lastAnyAuction.IsZero()
	}
	if ok && tx.now.Sub(last) < e.policy.OnceADayWindow {
		return fmt.Errorf("previous auction at %s: %w", last, domain.ErrOnceADay)
	}
	return nil
}

// activeLot resolves id to a lot that can still change state.
func (e *Engine) activeLot(id uint64) (*domain.AuctionLot, error) {
	lot, ok := e.lots[id]
	if !ok {
		return nil, fmt.Errorf("lot %d: %w", id, domain.ErrNoSuchLot)
	}
	if lot.Status != domain.LotActive {
		return nil, fmt.Errorf("lot %d is %s: %w", id, lot.Status, domain.ErrLotExpired)
	}
	return lot, nil
}

// MakeBid escrows amount from bidder and refunds the displaced bidder in
// full. A refund failure aborts the bid.
func (e *Engine) MakeBid(ctx context.Context, bidder common.Address, lotID uint64, amount *big.Int) error {
	return e.atomically(ctx, "make bid", func(tx *txn) error {
		lot, err := e.activeLot(lotID)
		if err != nil {
			return err
		}
		if !tx.now.Before(lot.EndTime()) {
			return fmt.Errorf("lot %d ended at %s: %w", lotID, lot.EndTime(), domain.ErrLotExpired)
		}
		if bidder == lot.Seller {
			return fmt.Errorf("lot %d: %w", lotID, domain.ErrSelfDealing)
		}
		floor := lot.StartPrice
		if lot.HasBid() {
			floor = lot.CurrentBid
		}
		if amount == nil || amount.Cmp(floor) <= 0 {
			return fmt.Errorf("bid %v must exceed %s: %w", amount, floor, domain.ErrWrongAmount)
		}

		if err := e.collect(ctx, bidder, amount); err != nil {
			return err
		}
		prev := *lot
		if prev.HasBid() {
			if err := e.refund(ctx, prev.CurrentBidder, prev.CurrentBid); err != nil {
				return fmt.Errorf("refund %s: %w", prev.CurrentBidder.Hex(), err)
			}
			tx.emit(domain.MarketEvent{
				Type:         domain.EventBidRefunded,
				Actor:        prev.CurrentBidder,
				Counterparty: bidder,
				Amount:       new(big.Int).Set(prev.CurrentBid),
				Lot:          ptr(prev.Clone()),
			})
		}

		lot.CurrentBid = new(big.Int).Set(amount)
		lot.CurrentBidder = bidder
		lot.BidCount++
		lot.UpdatedAt = tx.now
		tx.onUndo(func() { *lot = prev })

		tx.emit(domain.MarketEvent{
			Type:   domain.EventBidPlaced,
			Actor:  bidder,
			Amount: new(big.Int).Set(amount),
			Lot:    ptr(lot.Clone()),
		})
		return nil
	})
}

// FinishAuction settles a lot once the settle delay has passed. Anyone may
// call it. Without a bid the asset goes back to the seller.
func (e *Engine) FinishAuction(ctx context.Context, caller common.Address, lotID uint64) error {
	return e.atomically(ctx, "finish auction", func(tx *txn) error {
		lot, err := e.activeLot(lotID)
		if err != nil {
			return err
		}
		if earliest := lot.StartTime.Add(e.policy.SettleDelay); tx.now.Before(earliest) {
			return fmt.Errorf("lot %d settles from %s: %w", lotID, earliest, domain.ErrWrongTimestamp)
		}
		ledger, err := e.AssetLedger(lot.AssetKind, lot.AssetRef)
		if err != nil {
			return err
		}

		recipient := lot.Seller
		var amount *big.Int
		if lot.HasBid() {
			recipient = lot.CurrentBidder
			amount = new(big.Int).Set(lot.CurrentBid)
			if _, err := e.payout(ctx, ledger, lot.AssetID, lot.Seller, lot.CurrentBid); err != nil {
				return err
			}
		}
		if err := e.releaseAsset(ctx, ledger, recipient, lot.AssetID, lot.Quantity); err != nil {
			return err
		}

		prev := *lot
		lot.Status = domain.LotFinished
		lot.UpdatedAt = tx.now
		tx.onUndo(func() { *lot = prev })

		tx.emit(domain.MarketEvent{
			Type:         domain.EventLotFinished,
			Actor:        caller,
			Counterparty: recipient,
			Amount:       amount,
			Lot:          ptr(lot.Clone()),
		})
		e.logger.InfoContext(ctx, "lot finished",
			slog.Uint64("lot_id", lotID),
			slog.String("winner", recipient.Hex()),
			slog.Bool("sold", amount != nil),
		)
		return nil
	})
}

// CancelAuction lets the seller withdraw an active lot. Any escrowed bid is
// refunded, the asset returns to the seller and the seller takes a strike.
func (e *Engine) CancelAuction(ctx context.Context, caller common.Address, lotID uint64) error {
	return e.atomically(ctx, "cancel auction", func(tx *txn) error {
		lot, ok := e.lots[lotID]
		if !ok {
			return fmt.Errorf("lot %d: %w", lotID, domain.ErrNoSuchLot)
		}
		if caller != lot.Seller {
			return fmt.Errorf("lot %d belongs to %s: %w", lotID, lot.Seller.Hex(), domain.ErrNotOwner)
		}
		if lot.Status != domain.LotActive {
			return fmt.Errorf("lot %d is %s: %w", lotID, lot.Status, domain.ErrLotExpired)
		}
		ledger, err := e.AssetLedger(lot.AssetKind, lot.AssetRef)
		if err != nil {
			return err
		}

		prev := *lot
		if prev.HasBid() {
			if err := e.refund(ctx, prev.CurrentBidder, prev.CurrentBid); err != nil {
				return fmt.Errorf("refund %s: %w", prev.CurrentBidder.Hex(), err)
			}
			tx.emit(domain.MarketEvent{
				Type:   domain.EventBidRefunded,
				Actor:  prev.CurrentBidder,
				Amount: new(big.Int).Set(prev.CurrentBid),
				Lot:    ptr(prev.Clone()),
			})
		}
		if err := e.releaseAsset(ctx, ledger, lot.Seller, lot.AssetID, lot.Quantity); err != nil {
			return err
		}

		lot.Status = domain.LotCancelled
		lot.UpdatedAt = tx.now
		tx.onUndo(func() { *lot = prev })

		tx.emit(domain.MarketEvent{Type: domain.EventLotCancelled, Actor: caller, Lot: ptr(lot.Clone())})
		e.recordStrike(tx, lot.Seller)
		return nil
	})
}

func ptr[T any](v T) *T { return &v }
