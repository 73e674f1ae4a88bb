package market

import (
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

func (f *fixture) auction(assetID uint64, startPrice int64) uint64 {
	f.t.Helper()
	id, err := f.engine.ListItemOnAuction(f.ctx, f.seller, AuctionRequest{
		AssetKind:  domain.AssetSingle,
		AssetID:    assetID,
		Quantity:   1,
		StartPrice: big.NewInt(startPrice),
	})
	if err != nil {
		f.t.Fatalf("list on auction: %v", err)
	}
	return id
}

func TestAuctionScenario(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)
	f.fund(bidderAddr, 500)
	f.fund(bidder2Addr, 500)

	lotID := f.auction(1, 100)
	if lotID != 0 {
		t.Fatalf("first lot id = %d, want 0", lotID)
	}

	if err := f.engine.MakeBid(f.ctx, bidderAddr, lotID, big.NewInt(200)); err != nil {
		t.Fatalf("bid 200: %v", err)
	}
	if got := f.balance(bidderAddr); got != 300 {
		t.Fatalf("first bidder should have 200 escrowed, balance %d", got)
	}
	if err := f.engine.MakeBid(f.ctx, bidder2Addr, lotID, big.NewInt(300)); err != nil {
		t.Fatalf("bid 300: %v", err)
	}
	if got := f.balance(bidderAddr); got != 500 {
		t.Fatalf("displaced bidder should be refunded in full, balance %d", got)
	}

	mustErr(t, f.engine.FinishAuction(f.ctx, buyerAddr, lotID), domain.ErrWrongTimestamp)
	f.clock.Advance(25 * time.Hour)
	if err := f.engine.FinishAuction(f.ctx, buyerAddr, lotID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	info, err := f.engine.GetLotInfo(lotID)
	if err != nil {
		t.Fatalf("lot info: %v", err)
	}
	if info.Status != domain.LotFinished || info.CurrentBidder != bidder2Addr || info.BidCount != 2 {
		t.Fatalf("unexpected lot state: %+v", info)
	}
	if f.owner(1) != bidder2Addr {
		t.Fatal("winner should own the asset")
	}
	if got := f.balance(f.seller); got != 285 {
		t.Fatalf("seller proceeds = %d, want 285", got)
	}
	if got := f.balance(feeAddr); got != 15 {
		t.Fatalf("fee = %d, want 15", got)
	}
	if got := f.balance(marketAddr); got != 0 {
		t.Fatalf("custody should be empty, holds %d", got)
	}

	mustErr(t, f.engine.FinishAuction(f.ctx, buyerAddr, lotID), domain.ErrLotExpired)
	mustErr(t, f.engine.MakeBid(f.ctx, bidderAddr, lotID, big.NewInt(400)), domain.ErrLotExpired)

	want := []domain.EventType{
		domain.EventLotCreated,
		domain.EventBidPlaced,
		domain.EventBidRefunded,
		domain.EventBidPlaced,
		domain.EventLotFinished,
	}
	got := f.sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestMakeBidAmounts(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)
	f.fund(bidderAddr, 1000)
	f.fund(bidder2Addr, 1000)
	lotID := f.auction(1, 100)

	tests := []struct {
		name   string
		amount int64
		want   error
	}{
		{"zero", 0, domain.ErrWrongAmount},
		{"below start", 99, domain.ErrWrongAmount},
		{"equal to start", 100, domain.ErrWrongAmount},
		{"above start", 101, nil},
		{"equal to current", 101, domain.ErrWrongAmount},
		{"below current", 50, domain.ErrWrongAmount},
		{"above current", 150, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.engine.MakeBid(f.ctx, bidder2Addr, lotID, big.NewInt(tc.amount))
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			mustErr(t, err, tc.want)
		})
	}

	info, _ := f.engine.GetLotInfo(lotID)
	if info.CurrentBid.Int64() != 150 || info.BidCount != 2 {
		t.Fatalf("current bid = %s after %d bids", info.CurrentBid, info.BidCount)
	}
	if got := f.balance(bidder2Addr); got != 850 {
		t.Fatalf("a bidder raising their own bid should have only the latest escrowed, balance %d", got)
	}
}

func TestMakeBidRejections(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)
	f.fund(f.seller, 1000)
	f.fund(bidderAddr, 50)
	lotID := f.auction(1, 100)

	mustErr(t, f.engine.MakeBid(f.ctx, bidderAddr, 9, big.NewInt(200)), domain.ErrNoSuchLot)
	mustErr(t, f.engine.MakeBid(f.ctx, f.seller, lotID, big.NewInt(200)), domain.ErrSelfDealing)
	mustErr(t, f.engine.MakeBid(f.ctx, bidderAddr, lotID, big.NewInt(200)), domain.ErrInsufficientAllow)

	f.clock.Advance(72 * time.Hour)
	f.fund(bidder2Addr, 1000)
	mustErr(t, f.engine.MakeBid(f.ctx, bidder2Addr, lotID, big.NewInt(200)), domain.ErrLotExpired)
}

func TestFinishWithoutBidsReturnsAsset(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)
	lotID := f.auction(1, 100)
	if f.owner(1) != marketAddr {
		t.Fatal("auctioned asset should be in custody")
	}

	f.clock.Advance(24 * time.Hour)
	if err := f.engine.FinishAuction(f.ctx, f.seller, lotID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if f.owner(1) != f.seller {
		t.Fatal("asset should return to the seller")
	}
	if f.balance(f.seller) != 0 || f.balance(feeAddr) != 0 {
		t.Fatal("no payment should move without a bid")
	}
	mustErr(t, f.engine.FinishAuction(f.ctx, f.seller, lotID), domain.ErrLotExpired)
	mustErr(t, f.engine.FinishAuction(f.ctx, f.seller, 5), domain.ErrNoSuchLot)
}

func TestCancelAuctionRefundsBidder(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)
	f.fund(bidderAddr, 500)
	lotID := f.auction(1, 100)
	if err := f.engine.MakeBid(f.ctx, bidderAddr, lotID, big.NewInt(250)); err != nil {
		t.Fatalf("bid: %v", err)
	}

	mustErr(t, f.engine.CancelAuction(f.ctx, bidderAddr, lotID), domain.ErrNotOwner)
	mustErr(t, f.engine.CancelAuction(f.ctx, f.seller, 3), domain.ErrNoSuchLot)
	if err := f.engine.CancelAuction(f.ctx, f.seller, lotID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if got := f.balance(bidderAddr); got != 500 {
		t.Fatalf("bidder should be refunded, balance %d", got)
	}
	if f.owner(1) != f.seller {
		t.Fatal("asset should return to the seller")
	}
	info, _ := f.engine.GetLotInfo(lotID)
	if info.Status != domain.LotCancelled {
		t.Fatalf("status = %s, want cancelled", info.Status)
	}
	mustErr(t, f.engine.CancelAuction(f.ctx, f.seller, lotID), domain.ErrLotExpired)
	mustErr(t, f.engine.FinishAuction(f.ctx, f.seller, lotID), domain.ErrLotExpired)

	entry, _ := f.engine.Guard().Entry(f.seller)
	if entry.Strikes != 1 {
		t.Fatalf("strikes = %d, want 1", entry.Strikes)
	}
}

func TestOnceADay(t *testing.T) {
	tests := []struct {
		name      string
		scope     Scope
		otherHits bool
	}{
		{"per seller", ScopeSeller, false},
		{"global", ScopeGlobal, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := testPolicy()
			p.OnceADayScope = tc.scope
			f := newFixtureWithPolicy(t, p)
			for id := uint64(1); id <= 3; id++ {
				f.mintSingle(f.seller, id)
			}
			f.mintSingle(buyerAddr, 10)

			f.auction(1, 10)
			f.clock.Advance(23 * time.Hour)
			_, err := f.engine.ListItemOnAuction(f.ctx, f.seller, AuctionRequest{
				AssetKind: domain.AssetSingle, AssetID: 2, Quantity: 1, StartPrice: big.NewInt(10),
			})
			mustErr(t, err, domain.ErrOnceADay)

			_, err = f.engine.ListItemOnAuction(f.ctx, buyerAddr, AuctionRequest{
				AssetKind: domain.AssetSingle, AssetID: 10, Quantity: 1, StartPrice: big.NewInt(10),
			})
			if tc.otherHits {
				mustErr(t, err, domain.ErrOnceADay)
			} else if err != nil {
				t.Fatalf("another seller should not be limited: %v", err)
			}

			f.clock.Advance(25 * time.Hour)
			if id := f.auction(3, 10); id == 0 {
				t.Fatal("expected a fresh lot id")
			}
		})
	}
}

func TestFailedAuctionListingDoesNotCountTowardsDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 2)

	_, err := f.engine.ListItemOnAuction(f.ctx, f.seller, AuctionRequest{
		AssetKind: domain.AssetSingle, AssetID: 1, Quantity: 1, StartPrice: big.NewInt(10),
	})
	mustErr(t, err, domain.ErrNotOwner)

	if id := f.auction(2, 10); id != 0 {
		t.Fatalf("lot id = %d, want 0 after a rolled-back attempt", id)
	}
}

func TestAuctionListingValidation(t *testing.T) {
	f := newFixture(t)
	f.mintSingle(f.seller, 1)

	tests := []struct {
		name string
		req  AuctionRequest
		want error
	}{
		{"unknown standard", AuctionRequest{AssetKind: 1, AssetID: 1, Quantity: 1, StartPrice: big.NewInt(1)}, domain.ErrInvalidStandard},
		{"single quantity", AuctionRequest{AssetKind: domain.AssetSingle, AssetID: 1, Quantity: 3, StartPrice: big.NewInt(1)}, domain.ErrQuantityMustBeOne},
		{"zero start price", AuctionRequest{AssetKind: domain.AssetSingle, AssetID: 1, Quantity: 1, StartPrice: big.NewInt(0)}, domain.ErrZeroAmount},
		{"missing start price", AuctionRequest{AssetKind: domain.AssetSingle, AssetID: 1, Quantity: 1}, domain.ErrZeroAmount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.ListItemOnAuction(f.ctx, f.seller, tc.req)
			mustErr(t, err, tc.want)
		})
	}
	_, err := f.engine.GetLotInfo(0)
	mustErr(t, err, domain.ErrNoSuchLot)
}

func TestFungibleAuction(t *testing.T) {
	f := newFixture(t)
	f.mintMulti(f.seller, 8, 20)
	f.fund(bidderAddr, 1000)

	lotID, err := f.engine.ListItemOnAuction(f.ctx, f.seller, AuctionRequest{
		AssetKind: domain.AssetFungible, AssetID: 8, Quantity: 5, StartPrice: big.NewInt(100),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := f.engine.MakeBid(f.ctx, bidderAddr, lotID, big.NewInt(400)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	f.clock.Advance(30 * time.Hour)
	if err := f.engine.FinishAuction(f.ctx, bidderAddr, lotID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	won, _ := f.multi.BalanceOf(f.ctx, bidderAddr, 8)
	kept, _ := f.multi.BalanceOf(f.ctx, f.seller, 8)
	if won != 5 || kept != 15 {
		t.Fatalf("winner %d, seller %d", won, kept)
	}
	if got := f.balance(f.seller); got != 380 {
		t.Fatalf("seller proceeds = %d, want 380", got)
	}
}
